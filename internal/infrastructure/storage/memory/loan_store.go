package memory

import (
	"context"
	"fmt"
	"log/slog"
	"loan-ledger/internal/domain/loan"
	"loan-ledger/internal/infrastructure/monitoring"
	"loan-ledger/internal/pkg/apperrors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// LoanStore keeps loans in process memory. Loans are returned as deep copies.
type LoanStore struct {
	mu     sync.RWMutex
	loans  map[string]*loan.Loan
	order  []string
	logger *slog.Logger
}

var _ loan.Repository = (*LoanStore)(nil)

func NewLoanStore(logger *slog.Logger) *LoanStore {
	return &LoanStore{
		loans:  make(map[string]*loan.Loan),
		logger: logger.With("component", "MemoryLoanStore"),
	}
}

func (s *LoanStore) CreateLoan(ctx context.Context, l *loan.Loan) (*loan.Loan, error) {
	defer observe("CreateLoan", time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.loans[l.ID]; exists {
		return nil, apperrors.WrapStorageError(fmt.Errorf("duplicate loan id %s", l.ID), "failed to insert loan")
	}

	stored := l.Clone()
	if stored.Transactions == nil {
		stored.Transactions = []loan.Transaction{}
	}
	s.loans[stored.ID] = stored
	s.order = append(s.order, stored.ID)
	s.logger.DebugContext(ctx, "Loan stored", "loanID", stored.ID)

	return stored.Clone(), nil
}

func (s *LoanStore) AppendTransaction(ctx context.Context, loanID string, txn loan.Transaction) (decimal.Decimal, error) {
	defer observe("AppendTransaction", time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.loans[loanID]
	if !ok {
		return decimal.Zero, apperrors.ErrLoanNotFound
	}

	txn.LoanID = loanID
	txn.Seq = len(l.Transactions) + 1
	l.Transactions = append(l.Transactions, txn)
	l.AmountPaid = l.AmountPaid.Add(txn.Amount)
	s.logger.DebugContext(ctx, "Transaction appended", "loanID", loanID, "seq", txn.Seq)

	return l.AmountPaid, nil
}

func (s *LoanStore) GetLoan(_ context.Context, loanID string) (*loan.Loan, error) {
	defer observe("GetLoan", time.Now())

	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.loans[loanID]
	if !ok {
		return nil, apperrors.ErrLoanNotFound
	}
	return l.Clone(), nil
}

func (s *LoanStore) ListLoansByCustomer(_ context.Context, customerID string) ([]*loan.Loan, error) {
	defer observe("ListLoansByCustomer", time.Now())

	s.mu.RLock()
	defer s.mu.RUnlock()

	loans := make([]*loan.Loan, 0)
	for _, id := range s.order {
		if l := s.loans[id]; l.CustomerID == customerID {
			loans = append(loans, l.Clone())
		}
	}
	return loans, nil
}

func (s *LoanStore) ListLoanIDs(_ context.Context) ([]string, error) {
	defer observe("ListLoanIDs", time.Now())

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, len(s.order))
	copy(ids, s.order)
	return ids, nil
}

func observe(queryName string, start time.Time) {
	monitoring.RecordStorageQuery("memory."+queryName, "success", time.Since(start))
}
