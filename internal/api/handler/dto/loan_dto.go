package dto

import (
	"fmt"
	"loan-ledger/internal/domain/loan"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CreateLoanRequest accepts amounts as JSON numbers or strings.
type CreateLoanRequest struct {
	CustomerID     string          `json:"customer_id" example:"cust-42"`
	LoanAmount     decimal.Decimal `json:"loan_amount" swaggertype:"string" example:"120000"`
	LoanPeriod     int             `json:"loan_period" example:"2"`
	RateOfInterest decimal.Decimal `json:"rate_of_interest" swaggertype:"string" example:"10"`
}

func (r *CreateLoanRequest) Validate() error {
	if strings.TrimSpace(r.CustomerID) == "" {
		return fmt.Errorf("customer_id is required")
	}
	if !r.LoanAmount.IsPositive() {
		return fmt.Errorf("loan_amount must be greater than zero")
	}
	if r.LoanPeriod <= 0 {
		return fmt.Errorf("loan_period must be a positive number of years")
	}
	if r.RateOfInterest.IsNegative() {
		return fmt.Errorf("rate_of_interest cannot be negative")
	}
	return nil
}

type MakePaymentRequest struct {
	LoanID string          `json:"loan_id,omitempty" example:"5f2b6c1e-3d4a-4b7c-9e8f-0a1b2c3d4e5f"`
	Amount decimal.Decimal `json:"amount" swaggertype:"string" example:"6000"`
	Type   string          `json:"type,omitempty" enums:"payment,EMI" example:"payment"`
}

func (r *MakePaymentRequest) Validate() error {
	if !r.Amount.IsPositive() {
		return fmt.Errorf("amount must be greater than zero")
	}
	switch r.Type {
	case "", loan.TypePayment, loan.TypeEMI:
		return nil
	default:
		return fmt.Errorf("type must be %q or %q", loan.TypePayment, loan.TypeEMI)
	}
}

type LoanCreatedResponse struct {
	LoanID      string `json:"loan_id"`
	CustomerID  string `json:"customer_id"`
	Principal   string `json:"principal"`
	Interest    string `json:"interest"`
	TotalAmount string `json:"total_amount"`
	EMI         string `json:"emi"`
}

type PaymentResponse struct {
	Message   string `json:"message"`
	LoanID    string `json:"loan_id"`
	TotalPaid string `json:"total_paid"`
}

type TransactionResponse struct {
	Seq       int       `json:"seq"`
	Type      string    `json:"type"`
	Amount    string    `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

type LedgerResponse struct {
	LoanID       string                `json:"loan_id"`
	CustomerID   string                `json:"customer_id"`
	Principal    string                `json:"principal"`
	TotalAmount  string                `json:"total_amount"`
	EMI          string                `json:"emi"`
	TotalPaid    string                `json:"total_paid"`
	Balance      string                `json:"balance"`
	EMILeft      int64                 `json:"emi_left"`
	EMIPaid      int                   `json:"emi_paid"`
	Transactions []TransactionResponse `json:"transactions"`
}

type LoanSummaryResponse struct {
	LoanID      string `json:"loan_id"`
	Principal   string `json:"principal"`
	TotalAmount string `json:"total_amount"`
	EMI         string `json:"emi"`
	Interest    string `json:"interest"`
	AmountPaid  string `json:"amount_paid"`
	EMILeft     int64  `json:"emi_left"`
}

type ErrorDetail struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

func formatMoney(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func NewLoanCreatedResponse(l *loan.Loan) LoanCreatedResponse {
	return LoanCreatedResponse{
		LoanID:      l.ID,
		CustomerID:  l.CustomerID,
		Principal:   formatMoney(l.Principal),
		Interest:    formatMoney(l.Interest),
		TotalAmount: formatMoney(l.TotalAmount),
		EMI:         formatMoney(l.EMI),
	}
}

func NewPaymentResponse(loanID string, totalPaid decimal.Decimal) PaymentResponse {
	return PaymentResponse{
		Message:   "Payment successful",
		LoanID:    loanID,
		TotalPaid: formatMoney(totalPaid),
	}
}

func NewLedgerResponse(v *loan.LedgerView) LedgerResponse {
	resp := LedgerResponse{
		LoanID:       v.LoanID,
		CustomerID:   v.CustomerID,
		Principal:    formatMoney(v.Principal),
		TotalAmount:  formatMoney(v.TotalAmount),
		EMI:          formatMoney(v.EMI),
		TotalPaid:    formatMoney(v.AmountPaid),
		Balance:      formatMoney(v.Balance),
		EMILeft:      v.EMIsLeft,
		EMIPaid:      v.EMIsPaid,
		Transactions: make([]TransactionResponse, len(v.Transactions)),
	}
	for i, txn := range v.Transactions {
		resp.Transactions[i] = TransactionResponse{
			Seq:       txn.Seq,
			Type:      txn.Type,
			Amount:    formatMoney(txn.Amount),
			Timestamp: txn.Timestamp,
		}
	}
	return resp
}

func NewAccountOverviewResponse(summaries []loan.LoanSummary) []LoanSummaryResponse {
	resp := make([]LoanSummaryResponse, len(summaries))
	for i, s := range summaries {
		resp[i] = LoanSummaryResponse{
			LoanID:      s.LoanID,
			Principal:   formatMoney(s.Principal),
			TotalAmount: formatMoney(s.TotalAmount),
			EMI:         formatMoney(s.EMI),
			Interest:    formatMoney(s.Interest),
			AmountPaid:  formatMoney(s.AmountPaid),
			EMILeft:     s.EMIsLeft,
		}
	}
	return resp
}
