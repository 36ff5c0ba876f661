package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/harwell/loanbook/pkg/models"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore and initializes the database.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	// Manually enable foreign keys and WAL mode
	_, err = db.Exec("PRAGMA foreign_keys = ON;")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	_, err = db.Exec("PRAGMA journal_mode = WAL;")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	return s, nil
}

// initSchema creates the database tables if they don't already exist.
// Amounts are INTEGER minor currency units, so no precision is lost.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		customer_key TEXT NOT NULL,
		principal INTEGER NOT NULL,
		outstanding INTEGER NOT NULL,
		currency_code TEXT NOT NULL,
		terms INTEGER NOT NULL,
		start_date DATETIME NOT NULL,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS installments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		amount INTEGER NOT NULL,
		outstanding INTEGER NOT NULL,
		due_date DATETIME NOT NULL,
		status TEXT NOT NULL,
		overdue INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE TABLE IF NOT EXISTS repayments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		amount INTEGER NOT NULL,
		currency_code TEXT NOT NULL,
		received_date DATETIME NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE INDEX IF NOT EXISTS idx_installments_loan_due ON installments(loan_id, due_date);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateLoan inserts a loan and its installments in one transaction.
func (s *SQLiteStore) CreateLoan(loan *models.Loan, installments []*models.ScheduledInstallment) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO loans (id, customer_key, principal, outstanding, currency_code, terms, start_date, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID.String(), loan.CustomerKey, loan.Principal, loan.Outstanding, loan.CurrencyCode, loan.Terms, loan.StartDate, loan.Status, loan.CreatedAt, loan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}

	for _, inst := range installments {
		if err := upsertInstallment(tx, inst); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func upsertInstallment(tx *sql.Tx, inst *models.ScheduledInstallment) error {
	_, err := tx.Exec(
		`INSERT INTO installments (id, loan_id, sequence, amount, outstanding, due_date, status, overdue, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			amount = excluded.amount,
			outstanding = excluded.outstanding,
			due_date = excluded.due_date,
			status = excluded.status,
			overdue = excluded.overdue,
			updated_at = excluded.updated_at`,
		inst.ID.String(), inst.LoanID.String(), inst.Sequence, inst.Amount, inst.Outstanding, inst.DueDate, inst.Status, inst.Overdue, inst.CreatedAt, inst.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save installment %d: %w", inst.Sequence, err)
	}
	return nil
}

// GetLoan retrieves a loan by its ID.
func (s *SQLiteStore) GetLoan(id uuid.UUID) (*models.Loan, error) {
	row := s.db.QueryRow(`SELECT id, customer_key, principal, outstanding, currency_code, terms, start_date, status, created_at, updated_at FROM loans WHERE id = ?`, id.String())
	loan, err := scanLoan(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return loan, nil
}

// GetAllLoans retrieves all loans.
func (s *SQLiteStore) GetAllLoans() ([]*models.Loan, error) {
	rows, err := s.db.Query(`SELECT id, customer_key, principal, outstanding, currency_code, terms, start_date, status, created_at, updated_at FROM loans`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all loans: %w", err)
	}
	defer rows.Close()

	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return loans, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLoan(row rowScanner) (*models.Loan, error) {
	var loan models.Loan
	var idStr string
	err := row.Scan(&idStr, &loan.CustomerKey, &loan.Principal, &loan.Outstanding, &loan.CurrencyCode, &loan.Terms, &loan.StartDate, &loan.Status, &loan.CreatedAt, &loan.UpdatedAt)
	if err != nil {
		return nil, err
	}
	loan.ID = uuid.MustParse(idStr)
	return &loan, nil
}

// GetInstallments retrieves a loan's schedule ordered by sequence.
func (s *SQLiteStore) GetInstallments(loanID uuid.UUID) ([]*models.ScheduledInstallment, error) {
	rows, err := s.db.Query(
		`SELECT id, loan_id, sequence, amount, outstanding, due_date, status, overdue, created_at, updated_at
		FROM installments WHERE loan_id = ? ORDER BY sequence ASC`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get installments for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var installments []*models.ScheduledInstallment
	for rows.Next() {
		var inst models.ScheduledInstallment
		var idStr, loanIDStr string
		if err := rows.Scan(&idStr, &loanIDStr, &inst.Sequence, &inst.Amount, &inst.Outstanding, &inst.DueDate, &inst.Status, &inst.Overdue, &inst.CreatedAt, &inst.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan installment row: %w", err)
		}
		inst.ID = uuid.MustParse(idStr)
		inst.LoanID = uuid.MustParse(loanIDStr)
		installments = append(installments, &inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for loan installments: %w", err)
	}
	return installments, nil
}

// CreateRepayment inserts a new received repayment record.
func (s *SQLiteStore) CreateRepayment(repayment *models.ReceivedRepayment) error {
	_, err := s.db.Exec(
		`INSERT INTO repayments (id, loan_id, amount, currency_code, received_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		repayment.ID.String(), repayment.LoanID.String(), repayment.Amount, repayment.CurrencyCode, repayment.ReceivedDate, repayment.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create repayment: %w", err)
	}
	return nil
}

// GetRepaymentsForLoan retrieves all received repayments for a given loan ID.
func (s *SQLiteStore) GetRepaymentsForLoan(loanID uuid.UUID) ([]*models.ReceivedRepayment, error) {
	rows, err := s.db.Query(`SELECT id, loan_id, amount, currency_code, received_date, created_at FROM repayments WHERE loan_id = ? ORDER BY created_at ASC`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get repayments for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var repayments []*models.ReceivedRepayment
	for rows.Next() {
		var rep models.ReceivedRepayment
		var idStr, loanIDStr string
		if err := rows.Scan(&idStr, &loanIDStr, &rep.Amount, &rep.CurrencyCode, &rep.ReceivedDate, &rep.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan repayment row: %w", err)
		}
		rep.ID = uuid.MustParse(idStr)
		rep.LoanID = uuid.MustParse(loanIDStr)
		repayments = append(repayments, &rep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for loan repayments: %w", err)
	}
	return repayments, nil
}

// SaveReconciliation persists the outcome of one payment application in a
// single transaction: the repayment record, every mutated installment and
// the loan row.
func (s *SQLiteStore) SaveReconciliation(loan *models.Loan, installments []*models.ScheduledInstallment, repayment *models.ReceivedRepayment) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO repayments (id, loan_id, amount, currency_code, received_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		repayment.ID.String(), repayment.LoanID.String(), repayment.Amount, repayment.CurrencyCode, repayment.ReceivedDate, repayment.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create repayment: %w", err)
	}

	for _, inst := range installments {
		if err := upsertInstallment(tx, inst); err != nil {
			return err
		}
	}

	result, err := tx.Exec(
		`UPDATE loans SET outstanding = ?, status = ?, updated_at = ? WHERE id = ?`,
		loan.Outstanding, loan.Status, loan.UpdatedAt, loan.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

// MarkInstallmentsOverdue flags every unpaid installment whose due date has
// passed. Returns the number of rows changed.
func (s *SQLiteStore) MarkInstallmentsOverdue(asOf time.Time) (int64, error) {
	result, err := s.db.Exec(
		`UPDATE installments SET overdue = 1, updated_at = ? WHERE overdue = 0 AND status != ? AND due_date < ?`,
		time.Now(), models.InstallmentStatusRepaid, asOf,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark overdue installments: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return rowsAffected, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
