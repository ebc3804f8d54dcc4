package loan

import (
	"context"

	"github.com/shopspring/decimal"
)

// Repository persists loans and their transactions. Unknown ids yield
// apperrors.ErrLoanNotFound; backend failures wrap apperrors.ErrStorage.
type Repository interface {
	CreateLoan(ctx context.Context, loan *Loan) (*Loan, error)

	// AppendTransaction stores txn with the next sequence number and adds its
	// amount to the loan's amount paid as one atomic change.
	AppendTransaction(ctx context.Context, loanID string, txn Transaction) (decimal.Decimal, error)

	// GetLoan returns the loan with its transactions from a single consistent
	// snapshot.
	GetLoan(ctx context.Context, loanID string) (*Loan, error)

	ListLoansByCustomer(ctx context.Context, customerID string) ([]*Loan, error)

	ListLoanIDs(ctx context.Context) ([]string, error)
}

// Locker serializes mutations of a single loan.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
