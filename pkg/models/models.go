package models

import (
	"time"

	"github.com/google/uuid"
)

type LoanStatus string

const (
	LoanStatusDue    LoanStatus = "due"
	LoanStatusRepaid LoanStatus = "repaid"
)

type InstallmentStatus string

const (
	InstallmentStatusDue     InstallmentStatus = "due"
	InstallmentStatusPartial InstallmentStatus = "partial"
	InstallmentStatusRepaid  InstallmentStatus = "repaid"
)

// Loan is a disbursed loan with a fixed repayment schedule.
// All amounts are integer minor currency units (cents, kopecks, ...).
type Loan struct {
	ID           uuid.UUID  `json:"id"`
	CustomerKey  string     `json:"customer_key"` // Link to external customer system
	Principal    int64      `json:"principal"`
	Outstanding  int64      `json:"outstanding"`
	CurrencyCode string     `json:"currency_code"`
	Terms        int        `json:"terms"`
	StartDate    time.Time  `json:"start_date"` // Disbursement date; term k falls due k months later
	Status       LoanStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ScheduledInstallment is one scheduled portion of a loan's repayment.
// Only the reconciliation engine mutates amount, outstanding and status;
// the overdue flag is set by the daily sweep.
type ScheduledInstallment struct {
	ID          uuid.UUID         `json:"id"`
	LoanID      uuid.UUID         `json:"loan_id"`
	Sequence    int               `json:"sequence"` // 1..Terms, creation order
	Amount      int64             `json:"amount"`
	Outstanding int64             `json:"outstanding"`
	DueDate     time.Time         `json:"due_date"`
	Status      InstallmentStatus `json:"status"`
	Overdue     bool              `json:"overdue"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// ReceivedRepayment is an append-only audit record of a payment event.
// The currency code is stored as received and is not checked against the
// loan's currency. No reference to the installment(s) it settles is kept;
// matching happens by due date at processing time.
type ReceivedRepayment struct {
	ID           uuid.UUID `json:"id"`
	LoanID       uuid.UUID `json:"loan_id"`
	Amount       int64     `json:"amount"`
	CurrencyCode string    `json:"currency_code"`
	ReceivedDate time.Time `json:"received_date"`
	CreatedAt    time.Time `json:"created_at"`
}
