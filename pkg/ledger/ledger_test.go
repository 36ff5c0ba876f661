package ledger

import (
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/harwell/loanbook/pkg/models"
	"github.com/harwell/loanbook/pkg/store"
	"github.com/sirupsen/logrus"
)

// MockStore is an in-memory implementation of the Storage interface for
// testing. Reads hand out copies so that, like the real store, nothing the
// ledger mutates in memory is visible until it is explicitly saved.
type MockStore struct {
	loans        map[uuid.UUID]*models.Loan
	installments map[uuid.UUID][]*models.ScheduledInstallment
	repayments   []*models.ReceivedRepayment
}

func NewMockStore() *MockStore {
	return &MockStore{
		loans:        make(map[uuid.UUID]*models.Loan),
		installments: make(map[uuid.UUID][]*models.ScheduledInstallment),
	}
}

func copyLoan(loan *models.Loan) *models.Loan {
	c := *loan
	return &c
}

func copyInstallments(installments []*models.ScheduledInstallment) []*models.ScheduledInstallment {
	out := make([]*models.ScheduledInstallment, len(installments))
	for i, inst := range installments {
		c := *inst
		out[i] = &c
	}
	return out
}

func (m *MockStore) CreateLoan(loan *models.Loan, installments []*models.ScheduledInstallment) error {
	m.loans[loan.ID] = copyLoan(loan)
	m.installments[loan.ID] = copyInstallments(installments)
	return nil
}

func (m *MockStore) GetLoan(id uuid.UUID) (*models.Loan, error) {
	loan, ok := m.loans[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyLoan(loan), nil
}

func (m *MockStore) GetAllLoans() ([]*models.Loan, error) {
	loans := []*models.Loan{}
	for _, l := range m.loans {
		loans = append(loans, copyLoan(l))
	}
	return loans, nil
}

func (m *MockStore) GetInstallments(loanID uuid.UUID) ([]*models.ScheduledInstallment, error) {
	return copyInstallments(m.installments[loanID]), nil
}

func (m *MockStore) CreateRepayment(repayment *models.ReceivedRepayment) error {
	m.repayments = append(m.repayments, repayment)
	return nil
}

func (m *MockStore) GetRepaymentsForLoan(loanID uuid.UUID) ([]*models.ReceivedRepayment, error) {
	out := []*models.ReceivedRepayment{}
	for _, r := range m.repayments {
		if r.LoanID == loanID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MockStore) SaveReconciliation(loan *models.Loan, installments []*models.ScheduledInstallment, repayment *models.ReceivedRepayment) error {
	if _, ok := m.loans[loan.ID]; !ok {
		return store.ErrNotFound
	}
	m.loans[loan.ID] = copyLoan(loan)
	stored := m.installments[loan.ID]
	for _, changed := range installments {
		for i, inst := range stored {
			if inst.ID == changed.ID {
				c := *changed
				stored[i] = &c
			}
		}
	}
	m.repayments = append(m.repayments, repayment)
	return nil
}

func (m *MockStore) MarkInstallmentsOverdue(asOf time.Time) (int64, error) {
	var flagged int64
	for _, schedule := range m.installments {
		for _, inst := range schedule {
			if !inst.Overdue && inst.Status != models.InstallmentStatusRepaid && inst.DueDate.Before(asOf) {
				inst.Overdue = true
				flagged++
			}
		}
	}
	return flagged, nil
}

func (m *MockStore) Close() error {
	return nil
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

var testStart = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

func TestCreateLoan_Schedule(t *testing.T) {
	m := NewMockStore()
	l := NewLedger(m, testLogger())

	loan, installments, err := l.CreateLoan("cust123", 10000, "USD", 3, testStart)
	if err != nil {
		t.Fatalf("Failed to create loan: %v", err)
	}

	if loan.Outstanding != 10000 {
		t.Errorf("Expected outstanding 10000, got %d", loan.Outstanding)
	}
	if loan.Status != models.LoanStatusDue {
		t.Errorf("Expected status due, got %s", loan.Status)
	}

	expectedAmounts := []int64{3333, 3333, 3334}
	if len(installments) != 3 {
		t.Fatalf("Expected 3 installments, got %d", len(installments))
	}
	for i, inst := range installments {
		if inst.Amount != expectedAmounts[i] {
			t.Errorf("Installment %d: expected amount %d, got %d", i+1, expectedAmounts[i], inst.Amount)
		}
		if inst.Outstanding != inst.Amount {
			t.Errorf("Installment %d: expected outstanding %d, got %d", i+1, inst.Amount, inst.Outstanding)
		}
		if inst.Status != models.InstallmentStatusDue {
			t.Errorf("Installment %d: expected status due, got %s", i+1, inst.Status)
		}
		expectedDue := testStart.AddDate(0, i+1, 0)
		if !inst.DueDate.Equal(expectedDue) {
			t.Errorf("Installment %d: expected due %s, got %s", i+1, expectedDue, inst.DueDate)
		}
	}

	// The schedule was persisted along with the loan.
	stored, _ := m.GetInstallments(loan.ID)
	if len(stored) != 3 {
		t.Errorf("Expected 3 stored installments, got %d", len(stored))
	}
}

func TestCreateLoan_ScheduleSumsToPrincipal(t *testing.T) {
	m := NewMockStore()
	l := NewLedger(m, testLogger())

	cases := []struct {
		principal int64
		terms     int
	}{
		{10000, 3},
		{100, 1},
		{7, 3},
		{123457, 12},
	}
	for _, c := range cases {
		loan, installments, err := l.CreateLoan("cust123", c.principal, "USD", c.terms, testStart)
		if err != nil {
			t.Fatalf("Failed to create loan (principal=%d terms=%d): %v", c.principal, c.terms, err)
		}
		var sum int64
		for _, inst := range installments {
			sum += inst.Amount
		}
		if sum != loan.Principal {
			t.Errorf("principal=%d terms=%d: schedule sums to %d", c.principal, c.terms, sum)
		}
	}
}

func TestCreateLoan_InvalidInputs(t *testing.T) {
	m := NewMockStore()
	l := NewLedger(m, testLogger())

	if _, _, err := l.CreateLoan("cust123", 0, "USD", 3, testStart); err == nil {
		t.Error("Expected error for zero principal")
	}
	if _, _, err := l.CreateLoan("cust123", 1000, "USD", 0, testStart); err == nil {
		t.Error("Expected error for zero terms")
	}
	if len(m.loans) != 0 {
		t.Errorf("Expected no loans stored, got %d", len(m.loans))
	}
}

func TestRecordRepayment(t *testing.T) {
	m := NewMockStore()
	l := NewLedger(m, testLogger())

	loan, _, _ := l.CreateLoan("cust123", 10000, "USD", 3, testStart)

	rep, err := l.RecordRepayment(loan.ID, 500, "USD", testStart.AddDate(0, 0, 10))
	if err != nil {
		t.Fatalf("Failed to record repayment: %v", err)
	}
	if rep.Amount != 500 {
		t.Errorf("Expected amount 500, got %d", rep.Amount)
	}

	// Pure append: loan state is untouched.
	stored, _ := m.GetLoan(loan.ID)
	if stored.Outstanding != 10000 {
		t.Errorf("Expected outstanding 10000, got %d", stored.Outstanding)
	}

	reps, _ := l.GetRepayments(loan.ID)
	if len(reps) != 1 {
		t.Errorf("Expected 1 repayment, got %d", len(reps))
	}

	if _, err := l.RecordRepayment(loan.ID, 0, "USD", testStart); err == nil {
		t.Error("Expected error for non-positive amount")
	}
}

func TestResolveLoanStatus_Idempotent(t *testing.T) {
	loan := &models.Loan{Outstanding: 0, Status: models.LoanStatusDue}
	resolveLoanStatus(loan)
	if loan.Status != models.LoanStatusRepaid {
		t.Errorf("Expected repaid, got %s", loan.Status)
	}
	resolveLoanStatus(loan)
	if loan.Status != models.LoanStatusRepaid {
		t.Errorf("Expected repaid after second resolve, got %s", loan.Status)
	}

	loan.Outstanding = 100
	resolveLoanStatus(loan)
	resolveLoanStatus(loan)
	if loan.Status != models.LoanStatusDue {
		t.Errorf("Expected due, got %s", loan.Status)
	}
}

func TestMarkOverdue(t *testing.T) {
	m := NewMockStore()
	l := NewLedger(m, testLogger())

	loan, _, _ := l.CreateLoan("cust123", 10000, "USD", 3, testStart)

	// Two due dates behind us, one ahead.
	asOf := testStart.AddDate(0, 2, 5)
	flagged, err := l.MarkOverdue(asOf)
	if err != nil {
		t.Fatalf("Overdue sweep failed: %v", err)
	}
	if flagged != 2 {
		t.Errorf("Expected 2 flagged installments, got %d", flagged)
	}

	installments, _ := m.GetInstallments(loan.ID)
	if !installments[0].Overdue || !installments[1].Overdue {
		t.Error("Expected first two installments flagged overdue")
	}
	if installments[2].Overdue {
		t.Error("Expected third installment not flagged")
	}
	// Statuses are untouched by the sweep.
	for i, inst := range installments {
		if inst.Status != models.InstallmentStatusDue {
			t.Errorf("Installment %d: expected status due, got %s", i+1, inst.Status)
		}
	}

	// Second sweep finds nothing new.
	flagged, _ = l.MarkOverdue(asOf)
	if flagged != 0 {
		t.Errorf("Expected 0 newly flagged, got %d", flagged)
	}
}
