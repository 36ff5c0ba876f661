package store

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/harwell/loanbook/pkg/models"
)

// ErrNotFound is returned when a loan does not exist.
var ErrNotFound = errors.New("loan not found")

// Storage defines the interface for database operations on loans, their
// schedules and received repayments.
type Storage interface {
	// CreateLoan persists a loan and its full installment schedule as one
	// unit; either everything is stored or nothing is.
	CreateLoan(loan *models.Loan, installments []*models.ScheduledInstallment) error
	GetLoan(id uuid.UUID) (*models.Loan, error)
	GetAllLoans() ([]*models.Loan, error)

	// GetInstallments returns a loan's schedule ordered by sequence.
	GetInstallments(loanID uuid.UUID) ([]*models.ScheduledInstallment, error)

	CreateRepayment(repayment *models.ReceivedRepayment) error
	GetRepaymentsForLoan(loanID uuid.UUID) ([]*models.ReceivedRepayment, error)

	// SaveReconciliation persists the outcome of one payment application:
	// the repayment record, the mutated installments and the loan, in a
	// single transaction.
	SaveReconciliation(loan *models.Loan, installments []*models.ScheduledInstallment, repayment *models.ReceivedRepayment) error

	// MarkInstallmentsOverdue flags unpaid installments due strictly before
	// asOf and returns how many rows changed.
	MarkInstallmentsOverdue(asOf time.Time) (int64, error)

	Close() error
}
