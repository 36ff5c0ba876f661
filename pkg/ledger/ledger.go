package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harwell/loanbook/pkg/models"
	"github.com/harwell/loanbook/pkg/money"
	"github.com/harwell/loanbook/pkg/store"
	"github.com/sirupsen/logrus"
)

// Ledger handles the business logic for loans, schedules and repayments.
type Ledger struct {
	storage store.Storage
	log     *logrus.Logger

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex // per-loan serialization of payment application
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, log *logrus.Logger) *Ledger {
	return &Ledger{
		storage: s,
		log:     log,
		locks:   make(map[uuid.UUID]*sync.Mutex),
	}
}

// loanLock returns the mutex serializing work on one loan.
func (l *Ledger) loanLock(loanID uuid.UUID) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[loanID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[loanID] = lock
	}
	return lock
}

// CreateLoan initializes a loan and its full installment schedule.
// The principal is split into terms equal parts, floor(principal/terms)
// each, with the rounding remainder absorbed by the last installment so
// the schedule sums to the principal exactly. Term k falls due k calendar
// months after the start date.
func (l *Ledger) CreateLoan(customerKey string, principal int64, currencyCode string, terms int, startDate time.Time) (*models.Loan, []*models.ScheduledInstallment, error) {
	if principal <= 0 {
		return nil, nil, fmt.Errorf("principal must be positive")
	}
	if terms < 1 {
		return nil, nil, fmt.Errorf("terms must be at least 1")
	}

	now := time.Now()
	loan := &models.Loan{
		ID:           uuid.New(),
		CustomerKey:  customerKey,
		Principal:    principal,
		Outstanding:  principal,
		CurrencyCode: currencyCode,
		Terms:        terms,
		StartDate:    money.DateOnly(startDate),
		Status:       models.LoanStatusDue,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	amounts := money.SplitAcrossTerms(principal, terms)
	installments := make([]*models.ScheduledInstallment, terms)
	for i, amount := range amounts {
		installments[i] = &models.ScheduledInstallment{
			ID:          uuid.New(),
			LoanID:      loan.ID,
			Sequence:    i + 1,
			Amount:      amount,
			Outstanding: amount,
			DueDate:     money.MonthsAfter(loan.StartDate, i+1),
			Status:      models.InstallmentStatusDue,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
	}

	if err := l.storage.CreateLoan(loan, installments); err != nil {
		return nil, nil, fmt.Errorf("failed to store loan: %w", err)
	}

	l.log.Infof("Loan created: %s for %s, %s %s over %d terms",
		loan.ID, customerKey, money.Format(principal, currencyCode), currencyCode, terms)
	return loan, installments, nil
}

// RecordRepayment appends an immutable record of a received payment. It
// does not touch loan or installment state; ApplyPayment is the path that
// reconciles.
func (l *Ledger) RecordRepayment(loanID uuid.UUID, amount int64, currencyCode string, receivedDate time.Time) (*models.ReceivedRepayment, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	repayment := newRepayment(loanID, amount, currencyCode, receivedDate)
	if err := l.storage.CreateRepayment(repayment); err != nil {
		return nil, fmt.Errorf("failed to store repayment: %w", err)
	}
	return repayment, nil
}

func newRepayment(loanID uuid.UUID, amount int64, currencyCode string, receivedDate time.Time) *models.ReceivedRepayment {
	return &models.ReceivedRepayment{
		ID:           uuid.New(),
		LoanID:       loanID,
		Amount:       amount,
		CurrencyCode: currencyCode,
		ReceivedDate: money.DateOnly(receivedDate),
		CreatedAt:    time.Now(),
	}
}

// resolveLoanStatus derives the loan-level status from its outstanding
// amount. Idempotent; the terminal shortcut paths set status directly and
// do not go through here.
func resolveLoanStatus(loan *models.Loan) {
	if loan.Outstanding == 0 {
		loan.Status = models.LoanStatusRepaid
	} else {
		loan.Status = models.LoanStatusDue
	}
}

// GetLoan retrieves a loan by its ID.
func (l *Ledger) GetLoan(id uuid.UUID) (*models.Loan, error) {
	return l.storage.GetLoan(id)
}

// GetAllLoans retrieves all loans.
func (l *Ledger) GetAllLoans() ([]*models.Loan, error) {
	return l.storage.GetAllLoans()
}

// GetSchedule retrieves a loan's installments ordered by sequence.
func (l *Ledger) GetSchedule(loanID uuid.UUID) ([]*models.ScheduledInstallment, error) {
	return l.storage.GetInstallments(loanID)
}

// GetRepayments retrieves the received repayments for a loan.
func (l *Ledger) GetRepayments(loanID uuid.UUID) ([]*models.ReceivedRepayment, error) {
	return l.storage.GetRepaymentsForLoan(loanID)
}

// MarkOverdue flags every unpaid installment due before asOf. It only sets
// the overdue flag; statuses stay with the reconciliation engine.
func (l *Ledger) MarkOverdue(asOf time.Time) (int64, error) {
	flagged, err := l.storage.MarkInstallmentsOverdue(money.DateOnly(asOf))
	if err != nil {
		return 0, fmt.Errorf("overdue sweep failed: %w", err)
	}
	if flagged > 0 {
		l.log.Infof("Overdue sweep flagged %d installments", flagged)
	}
	return flagged, nil
}
