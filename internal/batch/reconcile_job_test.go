package batch_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"loan-ledger/internal/batch"
	"loan-ledger/internal/domain/loan"
	"loan-ledger/internal/infrastructure/storage/memory"
	"loan-ledger/internal/pkg/apperrors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) CreateLoan(ctx context.Context, l *loan.Loan) (*loan.Loan, error) {
	args := m.Called(ctx, l)
	if created, ok := args.Get(0).(*loan.Loan); ok {
		return created, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) AppendTransaction(ctx context.Context, loanID string, txn loan.Transaction) (decimal.Decimal, error) {
	args := m.Called(ctx, loanID, txn)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockRepository) GetLoan(ctx context.Context, loanID string) (*loan.Loan, error) {
	args := m.Called(ctx, loanID)
	if l, ok := args.Get(0).(*loan.Loan); ok {
		return l, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) ListLoansByCustomer(ctx context.Context, customerID string) ([]*loan.Loan, error) {
	args := m.Called(ctx, customerID)
	if loans, ok := args.Get(0).([]*loan.Loan); ok {
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

func loanWithPaid(id, paid string, amounts ...string) *loan.Loan {
	l := &loan.Loan{ID: id, AmountPaid: decimal.RequireFromString(paid)}
	for i, a := range amounts {
		l.Transactions = append(l.Transactions, loan.Transaction{LoanID: id, Seq: i + 1, Type: loan.TypePayment, Amount: decimal.RequireFromString(a)})
	}
	return l
}

// paymentAfterRead records a payment on the wrapped store right after each
// GetLoan returns, as a concurrent payer would.
type paymentAfterRead struct {
	loan.Repository
}

func (r paymentAfterRead) GetLoan(ctx context.Context, loanID string) (*loan.Loan, error) {
	l, err := r.Repository.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if _, err := r.Repository.AppendTransaction(ctx, loanID, loan.Transaction{Type: loan.TypePayment, Amount: decimal.NewFromInt(50)}); err != nil {
		return nil, err
	}
	return l, nil
}

func TestReconcileLedgerJobRun(t *testing.T) {
	ctx := context.Background()

	t.Run("Reports drifted loans only", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("ListLoanIDs", mock.Anything).Return([]string{"ok", "drifted"}, nil).Once()
		repo.On("GetLoan", mock.Anything, "ok").Return(loanWithPaid("ok", "100", "60", "40.00"), nil).Once()
		repo.On("GetLoan", mock.Anything, "drifted").Return(loanWithPaid("drifted", "150", "60", "40"), nil).Once()

		drifts, err := batch.NewReconcileLedgerJob(repo, 2, logger).Run(ctx)

		require.NoError(t, err)
		require.Len(t, drifts, 1)
		assert.Equal(t, batch.Drift{LoanID: "drifted", CachedPaid: "150.00", TransactionSum: "100.00", Transactions: 2}, drifts[0])
		repo.AssertExpectations(t)
	})

	t.Run("List failure aborts", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("ListLoanIDs", mock.Anything).Return(nil, apperrors.ErrStorage).Once()

		drifts, err := batch.NewReconcileLedgerJob(repo, 0, logger).Run(ctx)

		assert.ErrorIs(t, err, apperrors.ErrStorage)
		assert.Nil(t, drifts)
		repo.AssertExpectations(t)
	})

	t.Run("Per-loan failures are counted and the rest still checked", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("ListLoanIDs", mock.Anything).Return([]string{"broken", "gone", "drifted"}, nil).Once()
		repo.On("GetLoan", mock.Anything, "broken").Return(nil, errors.New("connection reset")).Once()
		repo.On("GetLoan", mock.Anything, "gone").Return(nil, apperrors.ErrLoanNotFound).Once()
		repo.On("GetLoan", mock.Anything, "drifted").Return(loanWithPaid("drifted", "1"), nil).Once()

		drifts, err := batch.NewReconcileLedgerJob(repo, 1, logger).Run(ctx)

		assert.EqualError(t, err, "reconciliation completed with 1 errors")
		require.Len(t, drifts, 1)
		assert.Equal(t, "drifted", drifts[0].LoanID)
		repo.AssertExpectations(t)
	})

	t.Run("Cancelled context", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("ListLoanIDs", mock.Anything).Return([]string{"a", "b"}, nil).Once()

		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := batch.NewReconcileLedgerJob(repo, 1, logger).Run(cancelled)

		assert.ErrorIs(t, err, context.Canceled)
		repo.AssertNotCalled(t, "GetLoan", mock.Anything, mock.Anything)
	})
}

func TestReconcileLedgerJobAgainstMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := memory.NewLoanStore(logger)

	for _, id := range []string{"l1", "l2"} {
		l, err := loan.NewLoan("c1", decimal.NewFromInt(1200), 1, decimal.NewFromInt(10))
		require.NoError(t, err)
		l.ID = id
		_, err = store.CreateLoan(ctx, l)
		require.NoError(t, err)
	}
	_, err := store.AppendTransaction(ctx, "l1", loan.Transaction{Type: loan.TypeEMI, Amount: decimal.NewFromInt(110)})
	require.NoError(t, err)

	drifts, err := batch.NewReconcileLedgerJob(store, 4, logger).Run(ctx)

	require.NoError(t, err)
	assert.Empty(t, drifts)
}

func TestReconcileLedgerJobIgnoresPaymentsAfterRead(t *testing.T) {
	ctx := context.Background()
	store := memory.NewLoanStore(logger)

	l, err := loan.NewLoan("c1", decimal.NewFromInt(1200), 1, decimal.NewFromInt(10))
	require.NoError(t, err)
	l.ID = "l1"
	_, err = store.CreateLoan(ctx, l)
	require.NoError(t, err)
	_, err = store.AppendTransaction(ctx, "l1", loan.Transaction{Type: loan.TypeEMI, Amount: decimal.NewFromInt(110)})
	require.NoError(t, err)

	drifts, err := batch.NewReconcileLedgerJob(paymentAfterRead{store}, 1, logger).Run(ctx)

	require.NoError(t, err)
	assert.Empty(t, drifts)

	got, err := store.GetLoan(ctx, "l1")
	require.NoError(t, err)
	assert.Len(t, got.Transactions, 2)
	assert.True(t, got.AmountPaid.Equal(decimal.NewFromInt(160)))
}
