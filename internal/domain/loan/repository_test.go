package loan

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) CreateLoan(ctx context.Context, loan *Loan) (*Loan, error) {
	args := m.Called(ctx, loan)
	if l, ok := args.Get(0).(*Loan); ok {
		return l, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) AppendTransaction(ctx context.Context, loanID string, txn Transaction) (decimal.Decimal, error) {
	args := m.Called(ctx, loanID, txn)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockRepository) GetLoan(ctx context.Context, loanID string) (*Loan, error) {
	args := m.Called(ctx, loanID)
	if l, ok := args.Get(0).(*Loan); ok {
		return l, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) ListLoansByCustomer(ctx context.Context, customerID string) ([]*Loan, error) {
	args := m.Called(ctx, customerID)
	if loans, ok := args.Get(0).([]*Loan); ok {
		return loans, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) ListLoanIDs(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if ids, ok := args.Get(0).([]string); ok {
		return ids, args.Error(1)
	}
	return nil, args.Error(1)
}

// recordingLocker counts lock/unlock pairs per key.
type recordingLocker struct {
	mu       sync.Mutex
	locked   map[string]int
	unlocked map[string]int
	err      error
}

func newRecordingLocker() *recordingLocker {
	return &recordingLocker{locked: map[string]int{}, unlocked: map[string]int{}}
}

func (r *recordingLocker) Lock(_ context.Context, key string) (func(), error) {
	if r.err != nil {
		return nil, r.err
	}
	r.mu.Lock()
	r.locked[key]++
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		r.unlocked[key]++
		r.mu.Unlock()
	}, nil
}
