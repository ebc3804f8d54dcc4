package loan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"loan-ledger/internal/event"
	"loan-ledger/internal/infrastructure/monitoring"
	"loan-ledger/internal/pkg/apperrors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type LedgerService interface {
	CreateLoan(ctx context.Context, customerID string, principal decimal.Decimal, years int, rate decimal.Decimal) (*Loan, error)

	RecordPayment(ctx context.Context, loanID string, amount decimal.Decimal) (decimal.Decimal, error)

	RecordTransaction(ctx context.Context, loanID string, amount decimal.Decimal, txnType string) (decimal.Decimal, error)

	GetLedger(ctx context.Context, loanID string) (*LedgerView, error)

	GetAccountOverview(ctx context.Context, customerID string) ([]LoanSummary, error)
}

// Ledger owns loan records and their payment history.
type Ledger struct {
	repo      Repository
	locker    Locker
	publisher event.EventPublisher
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

var _ LedgerService = (*Ledger)(nil)

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(l *Ledger) { l.newID = newID }
}

func NewLedger(repo Repository, locker Locker, publisher event.EventPublisher, logger *slog.Logger, opts ...Option) *Ledger {
	if repo == nil || locker == nil {
		panic("ledger repository and locker cannot be nil")
	}
	if publisher == nil {
		publisher = event.NopPublisher{}
	}
	if logger == nil {
		panic("logger cannot be nil")
	}

	l := &Ledger{
		repo:      repo,
		locker:    locker,
		publisher: publisher,
		logger:    logger.With("component", "Ledger"),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (s *Ledger) CreateLoan(ctx context.Context, customerID string, principal decimal.Decimal, years int, rate decimal.Decimal) (*Loan, error) {
	s.logger.InfoContext(ctx, "Creating new loan", "customerID", customerID)

	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, fmt.Errorf("%w: customer id cannot be empty", apperrors.ErrInvalidLoanTerms)
	}

	newLoan, err := NewLoan(customerID, principal, years, rate)
	if err != nil {
		s.logger.WarnContext(ctx, "Rejected loan terms", "customerID", customerID, "error", err)
		return nil, err
	}
	newLoan.ID = s.newID()
	newLoan.CreatedAt = s.now().UTC()

	created, err := s.repo.CreateLoan(ctx, newLoan)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to save loan", "customerID", customerID, "error", err)
		return nil, fmt.Errorf("failed to save loan: %w", err)
	}

	monitoring.RecordLoanCreated()
	s.logger.InfoContext(ctx, "Loan created successfully", "loanID", created.ID, "customerID", customerID)

	evt := event.LoanCreatedEvent{
		LoanID:      created.ID,
		CustomerID:  created.CustomerID,
		Principal:   created.Principal,
		TotalAmount: created.TotalAmount,
		EMI:         created.EMI,
		Timestamp:   created.CreatedAt,
	}
	if err := s.publisher.PublishLoanCreated(ctx, evt); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish loan created event", "loanID", created.ID, "error", err)
	}

	return created, nil
}

func (s *Ledger) RecordPayment(ctx context.Context, loanID string, amount decimal.Decimal) (decimal.Decimal, error) {
	return s.RecordTransaction(ctx, loanID, amount, TypePayment)
}

func (s *Ledger) RecordTransaction(ctx context.Context, loanID string, amount decimal.Decimal, txnType string) (paid decimal.Decimal, err error) {
	s.logger.InfoContext(ctx, "Recording payment", "loanID", loanID, "amount", amount.String(), "type", txnType)

	defer func() {
		monitoring.RecordPayment(paymentStatus(err))
	}()

	if !amount.IsPositive() || !IsMoney(amount) {
		s.logger.WarnContext(ctx, "Invalid payment amount", "loanID", loanID, "amount", amount.String())
		return decimal.Zero, fmt.Errorf("%w: amount must be a positive value with at most %d decimal places, got %s",
			apperrors.ErrInvalidPayment, moneyPlaces, amount.String())
	}
	txnType = strings.TrimSpace(txnType)
	if txnType == "" {
		txnType = TypePayment
	}

	unlock, err := s.locker.Lock(ctx, lockKey(loanID))
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to acquire loan lock", "loanID", loanID, "error", err)
		return decimal.Zero, fmt.Errorf("%w: could not lock loan %s: %w", apperrors.ErrStorage, loanID, err)
	}
	defer unlock()

	txn := Transaction{
		LoanID:    loanID,
		Type:      txnType,
		Amount:    amount,
		Timestamp: s.now().UTC(),
	}

	paid, err = s.repo.AppendTransaction(ctx, loanID, txn)
	if err != nil {
		if errors.Is(err, apperrors.ErrLoanNotFound) {
			s.logger.WarnContext(ctx, "Loan not found", "loanID", loanID)
			return decimal.Zero, err
		}
		s.logger.ErrorContext(ctx, "Failed to record payment", "loanID", loanID, "error", err)
		return decimal.Zero, fmt.Errorf("failed to record payment for loan %s: %w", loanID, err)
	}

	s.logger.InfoContext(ctx, "Payment recorded successfully", "loanID", loanID, "amountPaid", paid.String())

	evt := event.PaymentRecordedEvent{
		LoanID:     loanID,
		Amount:     amount,
		Type:       txnType,
		AmountPaid: paid,
		Timestamp:  txn.Timestamp,
	}
	if pubErr := s.publisher.PublishPaymentRecorded(ctx, evt); pubErr != nil {
		s.logger.ErrorContext(ctx, "Failed to publish payment recorded event", "loanID", loanID, "error", pubErr)
	}

	return paid, nil
}

func (s *Ledger) GetLedger(ctx context.Context, loanID string) (*LedgerView, error) {
	s.logger.InfoContext(ctx, "Getting loan ledger", "loanID", loanID)

	l, err := s.repo.GetLoan(ctx, loanID)
	if err != nil {
		if errors.Is(err, apperrors.ErrLoanNotFound) {
			s.logger.WarnContext(ctx, "Loan not found", "loanID", loanID)
			return nil, err
		}
		s.logger.ErrorContext(ctx, "Failed to get loan", "loanID", loanID, "error", err)
		return nil, fmt.Errorf("failed to get ledger for loan %s: %w", loanID, err)
	}

	view := l.Ledger()
	return &view, nil
}

func (s *Ledger) GetAccountOverview(ctx context.Context, customerID string) ([]LoanSummary, error) {
	customerID = strings.TrimSpace(customerID)
	s.logger.InfoContext(ctx, "Getting account overview", "customerID", customerID)

	loans, err := s.repo.ListLoansByCustomer(ctx, customerID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list customer loans", "customerID", customerID, "error", err)
		return nil, fmt.Errorf("failed to get account overview for customer %s: %w", customerID, err)
	}

	overview := make([]LoanSummary, 0, len(loans))
	for _, l := range loans {
		overview = append(overview, l.Summary())
	}
	return overview, nil
}

func lockKey(loanID string) string {
	return "loan:" + loanID
}

func paymentStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, apperrors.ErrInvalidPayment):
		return "failure_amount"
	case errors.Is(err, apperrors.ErrLoanNotFound):
		return "failure_not_found"
	default:
		return "failure_internal"
	}
}
