package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"loan-ledger/internal/domain/loan"
	"loan-ledger/internal/infrastructure/monitoring"
	"loan-ledger/internal/pkg/apperrors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type DBPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

var _ DBPool = (*pgxpool.Pool)(nil)

var _ loan.Repository = (*LoanRepository)(nil)

type LoanRepository struct {
	db     DBPool
	logger *slog.Logger
}

var errMsgFormat = "%w: %w"

const pgInvalidTextRepresentation = "22P02"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS loans (
    ordinal      BIGSERIAL UNIQUE,
    loan_id      UUID PRIMARY KEY,
    customer_id  TEXT NOT NULL,
    principal    NUMERIC(18, 2) NOT NULL CHECK (principal > 0),
    years        INTEGER NOT NULL CHECK (years > 0),
    rate         NUMERIC(9, 4) NOT NULL CHECK (rate >= 0),
    interest     NUMERIC(18, 2) NOT NULL,
    total_amount NUMERIC(18, 2) NOT NULL,
    emi          NUMERIC(18, 2) NOT NULL,
    amount_paid  NUMERIC(18, 2) NOT NULL DEFAULT 0,
    txn_count    INTEGER NOT NULL DEFAULT 0,
    created_at   TIMESTAMPTZ NOT NULL,
    updated_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_loans_customer_id ON loans (customer_id, ordinal);
CREATE TABLE IF NOT EXISTS loan_transactions (
    loan_id    UUID NOT NULL REFERENCES loans (loan_id),
    seq        INTEGER NOT NULL,
    type       TEXT NOT NULL,
    amount     NUMERIC(18, 2) NOT NULL CHECK (amount > 0),
    created_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (loan_id, seq)
);`

func NewLoanRepository(db DBPool, logger *slog.Logger) *LoanRepository {
	return &LoanRepository{db: db, logger: logger.With("component", "LoanRepository")}
}

// EnsureSchema creates the ledger tables when they do not exist yet.
func (r *LoanRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schemaSQL); err != nil {
		r.logger.ErrorContext(ctx, "Failed to ensure schema", "error", err)
		return fmt.Errorf("%w: failed to create ledger schema: %w", apperrors.ErrStorage, err)
	}
	r.logger.Info("Ledger schema ready")
	return nil
}

func (r *LoanRepository) RollbackTx(ctx context.Context, tx pgx.Tx) error {
	err := tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		r.logger.ErrorContext(ctx, "Failed to rollback transaction", "error", err)
		return fmt.Errorf(errMsgFormat, apperrors.ErrStorage, err)
	}
	return nil
}

func (r *LoanRepository) CreateLoan(ctx context.Context, l *loan.Loan) (*loan.Loan, error) {
	sql := `
        INSERT INTO loans (loan_id, customer_id, principal, years, rate, interest, total_amount, emi, amount_paid, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`
	status := "success"
	startTime := time.Now()

	_, err := r.db.Exec(ctx, sql,
		l.ID, l.CustomerID, l.Principal, l.Years, l.Rate, l.Interest, l.TotalAmount, l.EMI, l.AmountPaid, l.CreatedAt,
	)
	if err != nil {
		status = "error"
	}
	monitoring.RecordStorageQuery("CreateLoan", status, time.Since(startTime))

	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to insert loan", "loan_id", l.ID, "error", err)
		return nil, translateDBError(err, r.logger)
	}
	r.logger.InfoContext(ctx, "Loan created in DB", "loan_id", l.ID)

	created := l.Clone()
	created.Transactions = []loan.Transaction{}
	return created, nil
}

func (r *LoanRepository) AppendTransaction(ctx context.Context, loanID string, txn loan.Transaction) (paid decimal.Decimal, err error) {
	startTime := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		monitoring.RecordStorageQuery("AppendTransaction", status, time.Since(startTime))
	}()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to begin transaction", "error", err)
		return decimal.Zero, fmt.Errorf(errMsgFormat, apperrors.ErrStorage, err)
	}
	defer r.RollbackTx(ctx, tx)

	updateSQL := `
        UPDATE loans
        SET amount_paid = amount_paid + $2, txn_count = txn_count + 1, updated_at = $3
        WHERE loan_id = $1
        RETURNING amount_paid, txn_count`

	var seq int
	err = tx.QueryRow(ctx, updateSQL, loanID, txn.Amount, txn.Timestamp).Scan(&paid, &seq)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.WarnContext(ctx, "Loan not found", "loan_id", loanID)
			return decimal.Zero, apperrors.ErrLoanNotFound
		}
		r.logger.ErrorContext(ctx, "Failed to update amount paid", "loan_id", loanID, "error", err)
		return decimal.Zero, translateDBError(err, r.logger)
	}

	insertSQL := `
        INSERT INTO loan_transactions (loan_id, seq, type, amount, created_at)
        VALUES ($1, $2, $3, $4, $5)`

	if _, err = tx.Exec(ctx, insertSQL, loanID, seq, txn.Type, txn.Amount, txn.Timestamp); err != nil {
		r.logger.ErrorContext(ctx, "Failed to insert transaction", "loan_id", loanID, "seq", seq, "error", err)
		return decimal.Zero, translateDBError(err, r.logger)
	}

	if err = tx.Commit(ctx); err != nil {
		r.logger.ErrorContext(ctx, "Failed to commit transaction", "loan_id", loanID, "error", err)
		return decimal.Zero, fmt.Errorf(errMsgFormat, apperrors.ErrStorage, err)
	}

	r.logger.InfoContext(ctx, "Transaction recorded in DB", "loan_id", loanID, "seq", seq)
	return paid, nil
}

func (r *LoanRepository) GetLoan(ctx context.Context, loanID string) (l *loan.Loan, err error) {
	startTime := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		monitoring.RecordStorageQuery("GetLoan", status, time.Since(startTime))
	}()

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to begin snapshot transaction", "error", err)
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrStorage, err)
	}
	defer r.RollbackTx(ctx, tx)

	loanSQL := `
        SELECT loan_id, customer_id, principal, years, rate, interest, total_amount, emi, amount_paid, created_at
        FROM loans
        WHERE loan_id = $1`

	l = &loan.Loan{}
	err = tx.QueryRow(ctx, loanSQL, loanID).Scan(
		&l.ID, &l.CustomerID, &l.Principal, &l.Years, &l.Rate,
		&l.Interest, &l.TotalAmount, &l.EMI, &l.AmountPaid, &l.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.WarnContext(ctx, "Loan not found", "loan_id", loanID)
			return nil, apperrors.ErrLoanNotFound
		}
		r.logger.ErrorContext(ctx, "Failed to get loan", "loan_id", loanID, "error", err)
		return nil, translateDBError(err, r.logger)
	}

	txnSQL := `
        SELECT seq, type, amount, created_at
        FROM loan_transactions
        WHERE loan_id = $1
        ORDER BY seq ASC`

	rows, err := tx.Query(ctx, txnSQL, loanID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to query loan transactions", "loan_id", loanID, "error", err)
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrStorage, err)
	}
	defer rows.Close()

	l.Transactions = make([]loan.Transaction, 0)
	for rows.Next() {
		txn := loan.Transaction{LoanID: l.ID}
		if err = rows.Scan(&txn.Seq, &txn.Type, &txn.Amount, &txn.Timestamp); err != nil {
			r.logger.ErrorContext(ctx, "Failed to scan transaction row", "loan_id", loanID, "error", err)
			return nil, fmt.Errorf(errMsgFormat, apperrors.ErrStorage, err)
		}
		l.Transactions = append(l.Transactions, txn)
	}
	if err = rows.Err(); err != nil {
		r.logger.ErrorContext(ctx, "Error iterating transaction rows", "loan_id", loanID, "error", err)
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrStorage, err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrStorage, err)
	}
	return l, nil
}

// ListLoansByCustomer returns the customer's loans without their transactions.
func (r *LoanRepository) ListLoansByCustomer(ctx context.Context, customerID string) ([]*loan.Loan, error) {
	query := `
        SELECT loan_id, customer_id, principal, years, rate, interest, total_amount, emi, amount_paid, created_at
        FROM loans
        WHERE customer_id = $1
        ORDER BY ordinal ASC`
	startTime := time.Now()

	rows, err := r.db.Query(ctx, query, customerID)
	if err != nil {
		monitoring.RecordStorageQuery("ListLoansByCustomer", "error", time.Since(startTime))
		r.logger.ErrorContext(ctx, "Failed to query customer loans", "customer_id", customerID, "error", err)
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrStorage, err)
	}
	defer rows.Close()

	loans := make([]*loan.Loan, 0)
	for rows.Next() {
		var l loan.Loan
		err := rows.Scan(
			&l.ID, &l.CustomerID, &l.Principal, &l.Years, &l.Rate,
			&l.Interest, &l.TotalAmount, &l.EMI, &l.AmountPaid, &l.CreatedAt,
		)
		if err != nil {
			r.logger.ErrorContext(ctx, "Failed to scan loan row", "customer_id", customerID, "error", err)
			return nil, fmt.Errorf(errMsgFormat, apperrors.ErrStorage, err)
		}
		loans = append(loans, &l)
	}
	if err = rows.Err(); err != nil {
		r.logger.ErrorContext(ctx, "Error iterating loan rows", "customer_id", customerID, "error", err)
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrStorage, err)
	}

	monitoring.RecordStorageQuery("ListLoansByCustomer", "success", time.Since(startTime))
	return loans, nil
}

func (r *LoanRepository) ListLoanIDs(ctx context.Context) (ids []string, err error) {
	startTime := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		monitoring.RecordStorageQuery("ListLoanIDs", status, time.Since(startTime))
	}()

	logCtx := r.logger.With(slog.String("operation", "ListLoanIDs"))
	logCtx.DebugContext(ctx, "Attempting to list loan IDs")

	rows, err := r.db.Query(ctx, `SELECT loan_id FROM loans ORDER BY ordinal`)
	if err != nil {
		logCtx.ErrorContext(ctx, "Failed to query loan IDs", slog.Any("error", err))
		return nil, fmt.Errorf("%w: failed to query loans: %w", apperrors.ErrStorage, err)
	}
	defer rows.Close()

	ids = make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			logCtx.ErrorContext(ctx, "Failed to scan loan ID row", slog.Any("error", err))
			return nil, fmt.Errorf("%w: failed scanning loan ID: %w", apperrors.ErrStorage, err)
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		logCtx.ErrorContext(ctx, "Error iterating loan ID rows", slog.Any("error", err))
		return nil, fmt.Errorf("%w: error iterating loan IDs: %w", apperrors.ErrStorage, err)
	}

	logCtx.DebugContext(ctx, "Finished listing loan IDs", slog.Int("count", len(ids)))
	return ids, nil
}

func translateDBError(err error, contextLogger *slog.Logger) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.ErrLoanNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// loan_id is the only text parameter cast to uuid, so a malformed
		// id can never name a stored loan.
		if pgErr.Code == pgInvalidTextRepresentation {
			contextLogger.Warn("Loan id is not a valid UUID", "message", pgErr.Message)
			return apperrors.ErrLoanNotFound
		}
		if pgErr.Code == "23505" {
			contextLogger.Warn("Database unique constraint violation", "detail", pgErr.Detail, "constraint", pgErr.ConstraintName)
			return apperrors.WrapStorageError(err, "duplicate key "+pgErr.ConstraintName)
		}

		contextLogger.Error("PostgreSQL specific error", "code", pgErr.Code, "message", pgErr.Message, "detail", pgErr.Detail)
		return apperrors.WrapStorageError(err, "db error code "+pgErr.Code)
	}

	contextLogger.Error("Generic database error", "error", err)
	return fmt.Errorf(errMsgFormat, apperrors.ErrStorage, err)
}
