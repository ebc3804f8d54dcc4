package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"loan-ledger/internal/domain/loan"
	"loan-ledger/internal/infrastructure/monitoring"
	"loan-ledger/internal/pkg/apperrors"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/afero"
)

type document struct {
	Loans map[string]*loanRecord `json:"loans"`
	Order []string               `json:"order"`
}

type loanRecord struct {
	LoanID       string              `json:"loan_id"`
	CustomerID   string              `json:"customer_id"`
	Principal    decimal.Decimal     `json:"principal"`
	Years        int                 `json:"years"`
	Rate         decimal.Decimal     `json:"rate"`
	Interest     decimal.Decimal     `json:"interest"`
	TotalAmount  decimal.Decimal     `json:"total_amount"`
	EMI          decimal.Decimal     `json:"emi"`
	AmountPaid   decimal.Decimal     `json:"amount_paid"`
	CreatedAt    time.Time           `json:"created_at"`
	Transactions []transactionRecord `json:"transactions"`
}

type transactionRecord struct {
	Seq    int             `json:"seq"`
	Type   string          `json:"type"`
	Amount decimal.Decimal `json:"amount"`
	Date   time.Time       `json:"date"`
}

// LoanStore persists every loan in a single JSON document. The document is
// held in memory and rewritten through a temp file and rename after each
// mutation.
type LoanStore struct {
	mu     sync.RWMutex
	fs     afero.Fs
	path   string
	doc    document
	logger *slog.Logger
}

var _ loan.Repository = (*LoanStore)(nil)

// NewLoanStore loads path from fsys, starting empty when the file does not
// exist yet.
func NewLoanStore(fsys afero.Fs, path string, logger *slog.Logger) (*LoanStore, error) {
	if path == "" {
		return nil, errors.New("storage file path cannot be empty")
	}

	s := &LoanStore{
		fs:     fsys,
		path:   path,
		doc:    document{Loans: map[string]*loanRecord{}, Order: []string{}},
		logger: logger.With("component", "FileLoanStore"),
	}

	data, err := afero.ReadFile(fsys, path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.logger.Info("Storage file not found, starting with an empty ledger", "path", path)
		return s, nil
	case err != nil:
		return nil, apperrors.WrapStorageError(err, "failed to read storage file")
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.doc); err != nil {
			return nil, apperrors.WrapStorageError(err, "failed to decode storage file")
		}
	}
	if s.doc.Loans == nil {
		s.doc.Loans = map[string]*loanRecord{}
	}
	if len(s.doc.Order) != len(s.doc.Loans) {
		return nil, apperrors.WrapStorageError(
			fmt.Errorf("order lists %d loans but document holds %d", len(s.doc.Order), len(s.doc.Loans)),
			"storage file is inconsistent")
	}

	s.logger.Info("Storage file loaded", "path", path, "loans", len(s.doc.Order))
	return s, nil
}

func (s *LoanStore) CreateLoan(ctx context.Context, l *loan.Loan) (*loan.Loan, error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.doc.Loans[l.ID]; exists {
		observe("CreateLoan", "error", start)
		return nil, apperrors.WrapStorageError(fmt.Errorf("duplicate loan id %s", l.ID), "failed to insert loan")
	}

	rec := toRecord(l)
	s.doc.Loans[rec.LoanID] = rec
	s.doc.Order = append(s.doc.Order, rec.LoanID)

	if err := s.flush(); err != nil {
		delete(s.doc.Loans, rec.LoanID)
		s.doc.Order = s.doc.Order[:len(s.doc.Order)-1]
		observe("CreateLoan", "error", start)
		s.logger.ErrorContext(ctx, "Failed to persist new loan", "loanID", rec.LoanID, "error", err)
		return nil, err
	}

	observe("CreateLoan", "success", start)
	return rec.toLoan(), nil
}

func (s *LoanStore) AppendTransaction(ctx context.Context, loanID string, txn loan.Transaction) (decimal.Decimal, error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.doc.Loans[loanID]
	if !ok {
		observe("AppendTransaction", "not_found", start)
		return decimal.Zero, apperrors.ErrLoanNotFound
	}

	prevPaid := rec.AmountPaid
	rec.Transactions = append(rec.Transactions, transactionRecord{
		Seq:    len(rec.Transactions) + 1,
		Type:   txn.Type,
		Amount: txn.Amount,
		Date:   txn.Timestamp,
	})
	rec.AmountPaid = rec.AmountPaid.Add(txn.Amount)

	if err := s.flush(); err != nil {
		rec.Transactions = rec.Transactions[:len(rec.Transactions)-1]
		rec.AmountPaid = prevPaid
		observe("AppendTransaction", "error", start)
		s.logger.ErrorContext(ctx, "Failed to persist transaction", "loanID", loanID, "error", err)
		return decimal.Zero, err
	}

	observe("AppendTransaction", "success", start)
	return rec.AmountPaid, nil
}

func (s *LoanStore) GetLoan(_ context.Context, loanID string) (*loan.Loan, error) {
	start := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.doc.Loans[loanID]
	if !ok {
		observe("GetLoan", "not_found", start)
		return nil, apperrors.ErrLoanNotFound
	}
	observe("GetLoan", "success", start)
	return rec.toLoan(), nil
}

func (s *LoanStore) ListLoansByCustomer(_ context.Context, customerID string) ([]*loan.Loan, error) {
	defer observe("ListLoansByCustomer", "success", time.Now())

	s.mu.RLock()
	defer s.mu.RUnlock()

	loans := make([]*loan.Loan, 0)
	for _, id := range s.doc.Order {
		if rec := s.doc.Loans[id]; rec != nil && rec.CustomerID == customerID {
			loans = append(loans, rec.toLoan())
		}
	}
	return loans, nil
}

func (s *LoanStore) ListLoanIDs(_ context.Context) ([]string, error) {
	defer observe("ListLoanIDs", "success", time.Now())

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, len(s.doc.Order))
	copy(ids, s.doc.Order)
	return ids, nil
}

// flush must be called with mu held for writing.
func (s *LoanStore) flush() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return apperrors.WrapStorageError(err, "failed to encode storage file")
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return apperrors.WrapStorageError(err, "failed to create storage directory")
		}
	}

	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return apperrors.WrapStorageError(err, "failed to write storage file")
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		_ = s.fs.Remove(tmp)
		return apperrors.WrapStorageError(err, "failed to replace storage file")
	}
	return nil
}

func toRecord(l *loan.Loan) *loanRecord {
	rec := &loanRecord{
		LoanID:       l.ID,
		CustomerID:   l.CustomerID,
		Principal:    l.Principal,
		Years:        l.Years,
		Rate:         l.Rate,
		Interest:     l.Interest,
		TotalAmount:  l.TotalAmount,
		EMI:          l.EMI,
		AmountPaid:   l.AmountPaid,
		CreatedAt:    l.CreatedAt,
		Transactions: make([]transactionRecord, 0, len(l.Transactions)),
	}
	for _, t := range l.Transactions {
		rec.Transactions = append(rec.Transactions, transactionRecord{Seq: t.Seq, Type: t.Type, Amount: t.Amount, Date: t.Timestamp})
	}
	return rec
}

func (rec *loanRecord) toLoan() *loan.Loan {
	l := &loan.Loan{
		ID:           rec.LoanID,
		CustomerID:   rec.CustomerID,
		Principal:    rec.Principal,
		Years:        rec.Years,
		Rate:         rec.Rate,
		Interest:     rec.Interest,
		TotalAmount:  rec.TotalAmount,
		EMI:          rec.EMI,
		AmountPaid:   rec.AmountPaid,
		CreatedAt:    rec.CreatedAt,
		Transactions: make([]loan.Transaction, 0, len(rec.Transactions)),
	}
	for _, t := range rec.Transactions {
		l.Transactions = append(l.Transactions, loan.Transaction{
			LoanID:    rec.LoanID,
			Seq:       t.Seq,
			Type:      t.Type,
			Amount:    t.Amount,
			Timestamp: t.Date,
		})
	}
	return l
}

func observe(queryName, status string, start time.Time) {
	monitoring.RecordStorageQuery("file."+queryName, status, time.Since(start))
}
