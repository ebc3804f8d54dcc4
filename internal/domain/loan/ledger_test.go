package loan_test

import (
	"context"
	"io"
	"log/slog"
	"loan-ledger/internal/domain/loan"
	lockmemory "loan-ledger/internal/infrastructure/lock/memory"
	"loan-ledger/internal/infrastructure/storage/memory"
	"loan-ledger/internal/pkg/apperrors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func newLedger() *loan.Ledger {
	return loan.NewLedger(memory.NewLoanStore(discard), lockmemory.NewKeyedMutex(), nil, discard)
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestLedgerReferenceScenario(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger()

	created, err := ledger.CreateLoan(ctx, "cust-1", d("120000"), 2, d("10"))
	require.NoError(t, err)
	assert.True(t, created.Interest.Equal(d("24000")))
	assert.True(t, created.TotalAmount.Equal(d("144000")))
	assert.True(t, created.EMI.Equal(d("6000")))

	paid, err := ledger.RecordPayment(ctx, created.ID, d("6000"))
	require.NoError(t, err)
	assert.True(t, paid.Equal(d("6000")))

	view, err := ledger.GetLedger(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, view.Balance.Equal(d("138000")))
	assert.Equal(t, int64(23), view.EMIsLeft)
	require.Len(t, view.Transactions, 1)
	assert.Equal(t, loan.TypePayment, view.Transactions[0].Type)
}

func TestLedgerAmountPaidIsSumOfPayments(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger()

	created, err := ledger.CreateLoan(ctx, "cust-1", d("10000"), 1, d("7.5"))
	require.NoError(t, err)
	require.True(t, created.TotalAmount.Equal(created.Principal.Add(created.Interest)))

	payments := []string{"100", "250.50", "0.01", "999.99", "1234.56"}
	want := decimal.Zero
	lastLeft := int64(-1)
	for _, p := range payments {
		_, err := ledger.RecordPayment(ctx, created.ID, d(p))
		require.NoError(t, err)
		want = want.Add(d(p))

		view, err := ledger.GetLedger(ctx, created.ID)
		require.NoError(t, err)
		assert.False(t, view.Balance.IsNegative())
		if lastLeft >= 0 {
			assert.LessOrEqual(t, view.EMIsLeft, lastLeft)
		}
		lastLeft = view.EMIsLeft
	}

	view, err := ledger.GetLedger(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, view.AmountPaid.Equal(want), "got %s want %s", view.AmountPaid, want)
	assert.Len(t, view.Transactions, len(payments))
	for i, txn := range view.Transactions {
		assert.Equal(t, i+1, txn.Seq)
		assert.True(t, txn.Amount.Equal(d(payments[i])))
	}
}

func TestLedgerFullAndOverpayment(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger()

	created, err := ledger.CreateLoan(ctx, "cust-1", d("1000"), 1, d("12"))
	require.NoError(t, err)

	_, err = ledger.RecordPayment(ctx, created.ID, created.TotalAmount)
	require.NoError(t, err)
	view, err := ledger.GetLedger(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, view.Balance.IsZero())
	assert.Equal(t, int64(0), view.EMIsLeft)

	paid, err := ledger.RecordPayment(ctx, created.ID, d("50"))
	require.NoError(t, err)
	assert.True(t, paid.Equal(created.TotalAmount.Add(d("50"))))

	view, err = ledger.GetLedger(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, view.Balance.IsZero())
	assert.Equal(t, int64(0), view.EMIsLeft)
}

func TestLedgerUnknownLoan(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger()

	_, err := ledger.RecordPayment(ctx, "missing", d("10"))
	assert.ErrorIs(t, err, apperrors.ErrLoanNotFound)

	_, err = ledger.GetLedger(ctx, "missing")
	assert.ErrorIs(t, err, apperrors.ErrLoanNotFound)
}

func TestLedgerRepeatedReadsAreIdentical(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger()

	created, err := ledger.CreateLoan(ctx, "cust-1", d("5000"), 2, d("3"))
	require.NoError(t, err)
	_, err = ledger.RecordPayment(ctx, created.ID, d("300"))
	require.NoError(t, err)

	first, err := ledger.GetLedger(ctx, created.ID)
	require.NoError(t, err)
	second, err := ledger.GetLedger(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// Mutating a returned view does not leak into the store.
	first.Transactions[0].Amount = d("1")
	third, err := ledger.GetLedger(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, third.Transactions[0].Amount.Equal(d("300")))
}

func TestAccountOverviewTwoLoans(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger()

	a, err := ledger.CreateLoan(ctx, "cust-1", d("120000"), 2, d("10"))
	require.NoError(t, err)
	b, err := ledger.CreateLoan(ctx, "cust-1", d("1200"), 1, d("0"))
	require.NoError(t, err)
	_, err = ledger.CreateLoan(ctx, "cust-2", d("500"), 1, d("5"))
	require.NoError(t, err)

	_, err = ledger.RecordPayment(ctx, a.ID, d("6000"))
	require.NoError(t, err)

	overview, err := ledger.GetAccountOverview(ctx, "cust-1")
	require.NoError(t, err)
	require.Len(t, overview, 2)

	assert.Equal(t, a.ID, overview[0].LoanID)
	assert.True(t, overview[0].AmountPaid.Equal(d("6000")))
	assert.Equal(t, int64(23), overview[0].EMIsLeft)
	assert.True(t, overview[0].Interest.Equal(d("24000")))

	assert.Equal(t, b.ID, overview[1].LoanID)
	assert.True(t, overview[1].AmountPaid.IsZero())
	assert.Equal(t, int64(12), overview[1].EMIsLeft)

	none, err := ledger.GetAccountOverview(ctx, "nobody")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestConcurrentPaymentsLoseNoUpdates(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger()

	created, err := ledger.CreateLoan(ctx, "cust-1", d("100000"), 5, d("4"))
	require.NoError(t, err)

	const workers = 64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.RecordPayment(ctx, created.ID, d("10.25"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	view, err := ledger.GetLedger(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, view.AmountPaid.Equal(d("10.25").Mul(decimal.NewFromInt(workers))))
	require.Len(t, view.Transactions, workers)
	for i, txn := range view.Transactions {
		assert.Equal(t, i+1, txn.Seq)
	}
}
