package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"loan-ledger/internal/api/handler/dto"
	"loan-ledger/internal/domain/loan"
	"loan-ledger/internal/pkg/apperrors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

type LoanHandler struct {
	service loan.LedgerService
	logger  *slog.Logger
}

func NewLoanHandler(s loan.LedgerService, l *slog.Logger) *LoanHandler {
	return &LoanHandler{
		service: s,
		logger:  l.With("component", "LoanHandler"),
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return fmt.Errorf("no request body")
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		slog.Default().Error("Failed to marshal JSON response", "error", err)
		http.Error(w, `{"error":{"message":"Internal server error"}}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

func respondError(w http.ResponseWriter, err error) {
	status, message, code, field := http.StatusInternalServerError, "An unexpected error occurred.", "", ""
	var validationError *apperrors.ValidationError

	switch {
	case errors.Is(err, apperrors.ErrLoanNotFound):
		status, message, code = http.StatusNotFound, "Invalid loan ID", "LOAN_NOT_FOUND"
	case errors.Is(err, apperrors.ErrNotFound):
		status, message = http.StatusNotFound, "Resource not found."
	case errors.Is(err, apperrors.ErrInvalidLoanTerms):
		status, message, code = http.StatusBadRequest, err.Error(), "INVALID_LOAN_TERMS"
	case errors.Is(err, apperrors.ErrInvalidPayment):
		status, message, code = http.StatusBadRequest, err.Error(), "INVALID_PAYMENT"
	case errors.As(err, &validationError):
		status, message, field = http.StatusBadRequest, validationError.Message, validationError.Field
	case errors.Is(err, apperrors.ErrInvalidArgument), errors.Is(err, apperrors.ErrValidation):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, apperrors.ErrStorage):
		code = "STORAGE_ERROR"
		slog.Default().Error("Storage failure while serving request", "error", err)
	default:
		slog.Default().Error("Unhandled internal error", "error", err)
	}

	resp := dto.ErrorResponse{
		Error: dto.ErrorDetail{
			Code:    code,
			Message: message,
			Field:   field,
		},
	}
	respondJSON(w, status, resp)
}

func getLoanIDFromURL(r *http.Request) (string, error) {
	id := strings.TrimSpace(chi.URLParam(r, "loanID"))
	if id == "" {
		return "", fmt.Errorf("loanID not found in URL path")
	}
	return id, nil
}

// CreateLoan handles the creation of a new loan.
//
// @Summary Lend a new loan
// @Description Creates a loan for a customer. Interest is flat simple interest on the principal for the whole period; the EMI is the total payable spread evenly over loan_period * 12 months.
// @Tags Loans
// @Accept json
// @Produce json
// @Param request body dto.CreateLoanRequest true "Loan terms"
// @Success 201 {object} dto.LoanCreatedResponse "Loan successfully created"
// @Failure 400 {object} dto.ErrorResponse "Invalid request payload or loan terms"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /loans [post]
func (h *LoanHandler) CreateLoan(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateLoanRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}
	if err := req.Validate(); err != nil {
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidLoanTerms, err))
		return
	}

	created, err := h.service.CreateLoan(r.Context(), req.CustomerID, req.LoanAmount, req.LoanPeriod, req.RateOfInterest)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, dto.NewLoanCreatedResponse(created))
}

// MakePayment records a payment against a loan.
//
// @Summary Record a payment
// @Description Appends a payment (or an EMI when type is "EMI") to the loan's transaction history and returns the new total paid. Overpayment is accepted.
// @Tags Loans
// @Accept json
// @Produce json
// @Param loanID path string true "Loan ID"
// @Param request body dto.MakePaymentRequest true "Payment payload"
// @Success 200 {object} dto.PaymentResponse "Payment recorded"
// @Failure 400 {object} dto.ErrorResponse "Invalid payload or payment amount"
// @Failure 404 {object} dto.ErrorResponse "Loan not found"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /loans/{loanID}/payments [post]
func (h *LoanHandler) MakePayment(w http.ResponseWriter, r *http.Request) {
	loanID, err := getLoanIDFromURL(r)
	if err != nil {
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}

	var req dto.MakePaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}
	if req.LoanID != "" && req.LoanID != loanID {
		respondError(w, apperrors.NewValidationError("loan_id", "loan_id in body does not match the URL"))
		return
	}

	h.recordPayment(w, r, loanID, req)
}

// MakePaymentByBody records a payment whose loan is named in the request body.
//
// @Summary Record a payment (loan id in body)
// @Description Same as POST /loans/{loanID}/payments with loan_id carried in the payload.
// @Tags Loans
// @Accept json
// @Produce json
// @Param request body dto.MakePaymentRequest true "Payment payload with loan_id"
// @Success 200 {object} dto.PaymentResponse "Payment recorded"
// @Failure 400 {object} dto.ErrorResponse "Invalid payload or payment amount"
// @Failure 404 {object} dto.ErrorResponse "Loan not found"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /payment [post]
func (h *LoanHandler) MakePaymentByBody(w http.ResponseWriter, r *http.Request) {
	var req dto.MakePaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}
	loanID := strings.TrimSpace(req.LoanID)
	if loanID == "" {
		respondError(w, apperrors.NewValidationError("loan_id", "loan_id is required"))
		return
	}

	h.recordPayment(w, r, loanID, req)
}

func (h *LoanHandler) recordPayment(w http.ResponseWriter, r *http.Request, loanID string, req dto.MakePaymentRequest) {
	if err := req.Validate(); err != nil {
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidPayment, err))
		return
	}

	paid, err := h.service.RecordTransaction(r.Context(), loanID, req.Amount, req.Type)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.NewPaymentResponse(loanID, paid))
}

// GetLedger returns a loan's transaction history and derived balances.
//
// @Summary Loan ledger
// @Description Returns every transaction of the loan in order with the EMI, amount paid, balance and number of EMIs left.
// @Tags Loans
// @Produce json
// @Param loanID path string true "Loan ID"
// @Success 200 {object} dto.LedgerResponse "Ledger"
// @Failure 404 {object} dto.ErrorResponse "Loan not found"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /loans/{loanID}/ledger [get]
func (h *LoanHandler) GetLedger(w http.ResponseWriter, r *http.Request) {
	loanID, err := getLoanIDFromURL(r)
	if err != nil {
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}

	view, err := h.service.GetLedger(r.Context(), loanID)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.NewLedgerResponse(view))
}

// GetAccountOverview summarizes every loan of a customer.
//
// @Summary Account overview
// @Description Lists each loan of the customer with principal, total amount, EMI, interest, amount paid and EMIs left. Unknown customers get an empty list.
// @Tags Customers
// @Produce json
// @Param customerID path string true "Customer ID"
// @Success 200 {array} dto.LoanSummaryResponse "Loan summaries"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /customers/{customerID}/overview [get]
func (h *LoanHandler) GetAccountOverview(w http.ResponseWriter, r *http.Request) {
	customerID := strings.TrimSpace(chi.URLParam(r, "customerID"))
	if customerID == "" {
		respondError(w, fmt.Errorf("%w: customerID not found in URL path", apperrors.ErrInvalidArgument))
		return
	}

	overview, err := h.service.GetAccountOverview(r.Context(), customerID)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.NewAccountOverviewResponse(overview))
}
