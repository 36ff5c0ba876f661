package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/harwell/loanbook/pkg/models"
	"github.com/harwell/loanbook/pkg/money"
)

// ErrScheduleExhausted is returned when an overpayment needs to spill into
// the installment after the matched one and the schedule has no such
// installment. Nothing is persisted in that case.
var ErrScheduleExhausted = errors.New("no next installment to receive spillover")

// ApplyPayment records a received payment and reconciles it against the
// loan's schedule. The matched installment is the one whose due date equals
// the received date; depending on the amount the payment closes it exactly,
// spills the excess into the next installment, or (when it is the final
// installment) closes the whole loan. A payment with no matching due date,
// or one below the matched installment's amount, is recorded without any
// state change.
//
// The call is atomic per loan: concurrent payments against the same loan are
// serialized, all mutations are computed against one schedule snapshot, and
// everything is persisted in a single storage transaction.
func (l *Ledger) ApplyPayment(loanID uuid.UUID, amount int64, currencyCode string, receivedDate time.Time) (*models.ReceivedRepayment, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}

	lock := l.loanLock(loanID)
	lock.Lock()
	defer lock.Unlock()

	loan, err := l.storage.GetLoan(loanID)
	if err != nil {
		return nil, err
	}
	installments, err := l.storage.GetInstallments(loanID)
	if err != nil {
		return nil, err
	}
	if len(installments) == 0 {
		return nil, fmt.Errorf("loan %s has no schedule", loanID)
	}

	dirty := make(map[uuid.UUID]*models.ScheduledInstallment)
	touch := func(inst *models.ScheduledInstallment) {
		inst.UpdatedAt = time.Now()
		dirty[inst.ID] = inst
	}
	loanTouched := false

	// A fully paid loan still flagged due is the start of a new repayment
	// cycle on the same schedule: restore every outstanding amount before
	// processing the payment.
	if loan.Outstanding == 0 && loan.Status == models.LoanStatusDue {
		loan.Outstanding = loan.Principal
		loanTouched = true
		for _, inst := range installments {
			inst.Outstanding = inst.Amount
			touch(inst)
		}
		l.log.Infof("Loan %s: repayment cycle reset, outstanding restored to %s",
			loan.ID, money.Format(loan.Principal, loan.CurrencyCode))
	}

	repayment := newRepayment(loanID, amount, currencyCode, receivedDate)

	byDueDate := make(map[time.Time]*models.ScheduledInstallment, len(installments))
	for _, inst := range installments {
		byDueDate[money.DateOnly(inst.DueDate)] = inst
	}

	matched := byDueDate[money.DateOnly(receivedDate)]
	first := installments[0]
	last := installments[len(installments)-1]

	switch {
	case matched == nil:
		// Early or out-of-schedule payment: logged, not applied.
		l.log.Infof("Loan %s: payment of %s on %s matches no installment, recorded unapplied",
			loan.ID, money.Format(amount, currencyCode), repayment.ReceivedDate.Format("2006-01-02"))

	case matched.ID == last.ID:
		// A payment landing on the final due date closes the whole loan
		// regardless of amounts. The matched installment's due date is
		// overwritten with the first installment's as the terminal marker.
		for _, inst := range installments {
			inst.Outstanding = 0
			inst.Status = models.InstallmentStatusRepaid
			touch(inst)
		}
		matched.DueDate = first.DueDate
		loan.Outstanding = 0
		loan.Status = models.LoanStatusRepaid
		loanTouched = true
		l.log.Infof("Loan %s: closing payment on final due date, loan repaid", loan.ID)

	case matched.Amount == amount:
		matched.Outstanding = 0
		matched.Status = models.InstallmentStatusRepaid
		touch(matched)
		loan.Outstanding -= matched.Amount
		resolveLoanStatus(loan)
		loanTouched = true
		l.log.Infof("Loan %s: installment %d repaid exactly, %s outstanding",
			loan.ID, matched.Sequence, money.Format(loan.Outstanding, loan.CurrencyCode))

	case matched.Amount < amount:
		// Overpayment: the excess spills into the next installment as a
		// partial prepayment. The one-unit bump of the matched amount
		// before computing the remainder is long-standing settlement
		// behavior; see TestApplyPayment_SpilloverAdjustsAmounts.
		matched.Amount++
		remaining := amount - matched.Amount
		next := byDueDate[money.MonthsAfter(matched.DueDate, 1)]
		if next == nil {
			return nil, fmt.Errorf("loan %s: spillover from installment %d: %w",
				loan.ID, matched.Sequence, ErrScheduleExhausted)
		}
		next.Amount = matched.Amount
		next.Status = models.InstallmentStatusPartial
		next.Outstanding = remaining
		touch(next)
		matched.Outstanding = 0
		matched.Status = models.InstallmentStatusRepaid
		touch(matched)
		loan.Outstanding -= amount
		resolveLoanStatus(loan)
		loanTouched = true
		l.log.Infof("Loan %s: installment %d overpaid, %s spilled into installment %d",
			loan.ID, matched.Sequence, money.Format(remaining, loan.CurrencyCode), next.Sequence)

	default:
		// Underpayment: logged, not yet sufficient to close the installment.
		l.log.Infof("Loan %s: payment of %s below installment %d amount, recorded unapplied",
			loan.ID, money.Format(amount, currencyCode), matched.Sequence)
	}

	if !loanTouched && len(dirty) == 0 {
		if err := l.storage.CreateRepayment(repayment); err != nil {
			return nil, fmt.Errorf("failed to store repayment: %w", err)
		}
		return repayment, nil
	}

	loan.UpdatedAt = time.Now()
	changed := make([]*models.ScheduledInstallment, 0, len(dirty))
	for _, inst := range installments {
		if _, ok := dirty[inst.ID]; ok {
			changed = append(changed, inst)
		}
	}
	if err := l.storage.SaveReconciliation(loan, changed, repayment); err != nil {
		return nil, fmt.Errorf("failed to persist reconciliation: %w", err)
	}
	return repayment, nil
}
