package event

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type EventPublisher interface {
	PublishLoanCreated(ctx context.Context, event LoanCreatedEvent) error
	PublishPaymentRecorded(ctx context.Context, event PaymentRecordedEvent) error
}

type LoanCreatedEvent struct {
	LoanID      string          `json:"loanId"`
	CustomerID  string          `json:"customerId"`
	Principal   decimal.Decimal `json:"principal"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	EMI         decimal.Decimal `json:"emi"`
	Timestamp   time.Time       `json:"timestamp"`
}

type PaymentRecordedEvent struct {
	LoanID     string          `json:"loanId"`
	Amount     decimal.Decimal `json:"amount"`
	Type       string          `json:"type"`
	AmountPaid decimal.Decimal `json:"amountPaid"`
	Timestamp  time.Time       `json:"timestamp"`
}

// NopPublisher drops every event. Used when RabbitMQ is disabled.
type NopPublisher struct{}

var _ EventPublisher = NopPublisher{}

func (NopPublisher) PublishLoanCreated(context.Context, LoanCreatedEvent) error { return nil }

func (NopPublisher) PublishPaymentRecorded(context.Context, PaymentRecordedEvent) error { return nil }
