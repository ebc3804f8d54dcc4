package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"loan-ledger/internal/domain/loan"
	"loan-ledger/internal/infrastructure/monitoring"
	"loan-ledger/internal/pkg/apperrors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const defaultWorkers = 4

// Drift describes a loan whose cached amount paid no longer matches the sum
// of its transactions.
type Drift struct {
	LoanID         string
	CachedPaid     string
	TransactionSum string
	Transactions   int
}

// ReconcileLedgerJob checks every loan's cached amount paid against its
// transaction history. It only reports; it never writes.
type ReconcileLedgerJob struct {
	repo    loan.Repository
	workers int
	logger  *slog.Logger
}

func NewReconcileLedgerJob(repo loan.Repository, workers int, logger *slog.Logger) *ReconcileLedgerJob {
	if repo == nil || logger == nil {
		panic("ReconcileLedgerJob dependencies cannot be nil")
	}
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &ReconcileLedgerJob{
		repo:    repo,
		workers: workers,
		logger:  logger.With("job", "ReconcileLedger"),
	}
}

// Run returns the drifted loans found. A non-nil error means some loans
// could not be checked; drift found among the rest is still returned.
func (j *ReconcileLedgerJob) Run(ctx context.Context) ([]Drift, error) {
	startTime := time.Now()
	j.logger.InfoContext(ctx, "Starting ledger reconciliation job.")

	loanIDs, err := j.repo.ListLoanIDs(ctx)
	if err != nil {
		j.logger.ErrorContext(ctx, "Failed to list loan IDs, aborting job.", slog.Any("error", err))
		return nil, fmt.Errorf("cannot run reconciliation, failed to list loans: %w", err)
	}
	j.logger.InfoContext(ctx, "Fetched loan IDs.", slog.Int("count", len(loanIDs)))

	drifts := make([]*Drift, len(loanIDs))
	var checked, errorCount atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.workers)
	for i, loanID := range loanIDs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			d, checkErr := j.check(gctx, loanID)
			if checkErr != nil {
				if errors.Is(checkErr, apperrors.ErrLoanNotFound) {
					j.logger.WarnContext(gctx, "Loan disappeared during reconciliation", slog.String("loanID", loanID))
					return nil
				}
				j.logger.ErrorContext(gctx, "Failed to reconcile loan", slog.String("loanID", loanID), slog.Any("error", checkErr))
				errorCount.Add(1)
				return nil
			}
			checked.Add(1)
			drifts[i] = d
			return nil
		})
	}
	_ = g.Wait()

	var found []Drift
	for _, d := range drifts {
		if d != nil {
			found = append(found, *d)
		}
	}
	monitoring.SetLedgerDrift(len(found))

	summaryLog := j.logger.With(
		slog.Duration("duration", time.Since(startTime)),
		slog.Int("total_loans", len(loanIDs)),
		slog.Int("loans_checked", int(checked.Load())),
		slog.Int("loans_drifted", len(found)),
		slog.Int("errors_encountered", int(errorCount.Load())),
	)
	for _, d := range found {
		j.logger.WarnContext(ctx, "Ledger drift detected",
			slog.String("loanID", d.LoanID),
			slog.String("cached_amount_paid", d.CachedPaid),
			slog.String("transaction_sum", d.TransactionSum),
			slog.Int("transactions", d.Transactions),
		)
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		summaryLog.WarnContext(ctx, "Ledger reconciliation job interrupted.", slog.Any("error", ctxErr))
		return found, fmt.Errorf("reconciliation interrupted: %w", ctxErr)
	}
	if errorCount.Load() > 0 {
		summaryLog.WarnContext(ctx, "Ledger reconciliation job finished with errors.")
		return found, fmt.Errorf("reconciliation completed with %d errors", errorCount.Load())
	}
	summaryLog.InfoContext(ctx, "Ledger reconciliation job finished successfully.")
	return found, nil
}

func (j *ReconcileLedgerJob) check(ctx context.Context, loanID string) (*Drift, error) {
	// Both sides of the comparison come from the same snapshot; a payment
	// committed after the read shows up on the next run instead.
	l, err := j.repo.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	sum := l.TransactionTotal()
	if l.AmountPaid.Equal(sum) {
		return nil, nil
	}
	return &Drift{
		LoanID:         loanID,
		CachedPaid:     l.AmountPaid.StringFixed(2),
		TransactionSum: sum.StringFixed(2),
		Transactions:   len(l.Transactions),
	}, nil
}
