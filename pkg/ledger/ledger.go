package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/sharkpro/pkg/calendar"
	"github.com/mcclellann/sharkpro/pkg/clock"
	"github.com/mcclellann/sharkpro/pkg/engine"
	"github.com/mcclellann/sharkpro/pkg/format"
	"github.com/mcclellann/sharkpro/pkg/metrics"
	"github.com/mcclellann/sharkpro/pkg/models"
	"github.com/mcclellann/sharkpro/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Ledger handles the business logic for clients, loans and installments.
type Ledger struct {
	storage store.Storage
	clock   clock.Clock
	logger  *logrus.Logger
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, c clock.Clock, logger *logrus.Logger) *Ledger {
	return &Ledger{storage: s, clock: c, logger: logger}
}

// NewLoan is the input of CreateLoan.
type NewLoan struct {
	ClientID          uuid.UUID       `json:"client_id"`
	Amount            decimal.Decimal `json:"amount"`
	InterestRate      decimal.Decimal `json:"interest_rate"`
	MoraInterestRate  decimal.Decimal `json:"mora_interest_rate"`
	LateFeeRate       decimal.Decimal `json:"late_fee_rate"`
	InstallmentsCount int             `json:"installments_count"`
	FirstDueDate      time.Time       `json:"first_due_date"`
	PaymentPlace      string          `json:"payment_place"`
}

// LoanUpdate carries the loan fields that may change once a schedule exists.
type LoanUpdate struct {
	MoraInterestRate *decimal.Decimal `json:"mora_interest_rate"`
	LateFeeRate      *decimal.Decimal `json:"late_fee_rate"`
	PaymentPlace     *string          `json:"payment_place"`
}

// InstallmentView pairs an installment with its live accrual.
type InstallmentView struct {
	*models.Installment
	Accrual models.Accrual `json:"accrual"`
}

// LoanDetail is a loan with its client and schedule as of a point in time.
type LoanDetail struct {
	Loan          *models.Loan      `json:"loan"`
	Client        *models.Client    `json:"client"`
	Installments  []InstallmentView `json:"installments"`
	DisplayStatus models.LoanStatus `json:"display_status"`
}

// PaymentReceipt is returned by PayInstallment.
type PaymentReceipt struct {
	Installment *models.Installment `json:"installment"`
	Loan        *models.Loan        `json:"loan"`
	// Accrual holds what was owed at the moment of payment.
	Accrual models.Accrual `json:"accrual"`
}

// CreateLoan computes the flat totals, stores the loan and its full schedule.
// A failed schedule insert deletes the loan again and returns an *OrphanScheduleError.
func (l *Ledger) CreateLoan(ctx context.Context, req NewLoan) (*models.Loan, []*models.Installment, error) {
	if req.MoraInterestRate.IsNegative() || req.LateFeeRate.IsNegative() {
		return nil, nil, fmt.Errorf("%w: penalty rates must not be negative", engine.ErrInvalidScheduleInput)
	}
	if req.FirstDueDate.IsZero() {
		return nil, nil, fmt.Errorf("%w: first due date is required", engine.ErrInvalidScheduleInput)
	}
	totals, err := engine.CalculateTotals(req.Amount, req.InterestRate, req.InstallmentsCount)
	if err != nil {
		return nil, nil, err
	}

	client, err := l.storage.GetClient(ctx, req.ClientID)
	if err != nil {
		return nil, nil, err
	}

	now := l.clock.Now()
	loan := &models.Loan{
		ID:                uuid.New(),
		ClientID:          client.ID,
		OwnerID:           client.OwnerID,
		Amount:            req.Amount,
		InterestRate:      req.InterestRate,
		MoraInterestRate:  req.MoraInterestRate,
		LateFeeRate:       req.LateFeeRate,
		InstallmentsCount: req.InstallmentsCount,
		FirstDueDate:      calendar.Civil(req.FirstDueDate),
		TotalValue:        totals.TotalValue,
		InstallmentValue:  totals.InstallmentValue,
		PaymentPlace:      req.PaymentPlace,
		Status:            models.LoanStatusActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	schedule, err := engine.GenerateSchedule(loan.ID, loan.InstallmentsCount, loan.InstallmentValue, loan.FirstDueDate)
	if err != nil {
		return nil, nil, err
	}
	for _, inst := range schedule {
		inst.CreatedAt = now
		inst.UpdatedAt = now
	}

	if err := l.storage.CreateLoan(ctx, loan); err != nil {
		return nil, nil, fmt.Errorf("failed to store loan: %w", err)
	}

	if err := l.storage.CreateInstallments(ctx, schedule); err != nil {
		orphan := &OrphanScheduleError{LoanID: loan.ID, Cause: err}
		// The delete must run even when the request was canceled mid-insert.
		cleanup := context.WithoutCancel(ctx)
		if delErr := l.storage.DeleteLoan(cleanup, loan.ID); delErr != nil {
			orphan.RollbackErr = delErr
			metrics.OrphanRollbacks.WithLabelValues("failed").Inc()
			l.logger.WithError(delErr).WithField("loan_id", loan.ID).Error("Compensating delete of loan failed, orphan loan left behind")
		} else {
			metrics.OrphanRollbacks.WithLabelValues("deleted").Inc()
			l.logger.WithError(err).WithField("loan_id", loan.ID).Warn("Schedule insert failed, loan removed")
		}
		return nil, nil, orphan
	}

	metrics.LoansCreated.Inc()
	l.logger.WithFields(logrus.Fields{
		"loan_id":      loan.ID,
		"client_id":    loan.ClientID,
		"total_value":  loan.TotalValue.StringFixed(2),
		"installments": loan.InstallmentsCount,
	}).Info("Loan created")
	return loan, schedule, nil
}

// GetLoan retrieves a loan by its ID.
func (l *Ledger) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	return l.storage.GetLoan(ctx, id)
}

// GetLoanDetail loads a loan with its client and installments and accrues
// every installment as of now.
func (l *Ledger) GetLoanDetail(ctx context.Context, id uuid.UUID) (*LoanDetail, error) {
	loan, err := l.storage.GetLoan(ctx, id)
	if err != nil {
		return nil, err
	}
	client, err := l.storage.GetClient(ctx, loan.ClientID)
	if err != nil {
		return nil, err
	}
	installments, err := l.storage.GetInstallmentsForLoan(ctx, loan.ID)
	if err != nil {
		return nil, err
	}

	now := l.clock.Now()
	detail := &LoanDetail{
		Loan:          loan,
		Client:        client,
		Installments:  make([]InstallmentView, 0, len(installments)),
		DisplayStatus: engine.DisplayStatus(installments, now),
	}
	for _, inst := range installments {
		detail.Installments = append(detail.Installments, InstallmentView{
			Installment: inst,
			Accrual:     engine.Accrue(inst, loan.PenaltyRates(), now),
		})
	}
	return detail, nil
}

// GetInstallments returns a loan's schedule in order.
func (l *Ledger) GetInstallments(ctx context.Context, loanID uuid.UUID) ([]*models.Installment, error) {
	if _, err := l.storage.GetLoan(ctx, loanID); err != nil {
		return nil, err
	}
	return l.storage.GetInstallmentsForLoan(ctx, loanID)
}

// ListLoans retrieves loans matching the filter, newest first.
func (l *Ledger) ListLoans(ctx context.Context, filter store.LoanFilter) ([]*models.Loan, error) {
	filter.ClientCPF = format.Digits(filter.ClientCPF)
	return l.storage.ListLoans(ctx, filter)
}

// UpdateLoan edits the penalty rates or payment place of a loan. Amount,
// interest, count and due dates are fixed once the schedule exists.
// Persisted accruals are not touched; they are recomputed from the new
// rates on the next read or refresh.
func (l *Ledger) UpdateLoan(ctx context.Context, id uuid.UUID, upd LoanUpdate) (*models.Loan, error) {
	if upd.MoraInterestRate != nil && upd.MoraInterestRate.IsNegative() {
		return nil, fmt.Errorf("%w: mora interest rate must not be negative", ErrInvalidUpdate)
	}
	if upd.LateFeeRate != nil && upd.LateFeeRate.IsNegative() {
		return nil, fmt.Errorf("%w: late fee rate must not be negative", ErrInvalidUpdate)
	}

	var loan *models.Loan
	err := l.storage.Atomic(ctx, func(tx store.Storage) error {
		current, err := tx.LockLoan(ctx, id)
		if err != nil {
			return err
		}
		if upd.MoraInterestRate != nil {
			current.MoraInterestRate = *upd.MoraInterestRate
		}
		if upd.LateFeeRate != nil {
			current.LateFeeRate = *upd.LateFeeRate
		}
		if upd.PaymentPlace != nil {
			current.PaymentPlace = *upd.PaymentPlace
		}
		current.UpdatedAt = l.clock.Now()

		if err := tx.UpdateLoan(ctx, current); err != nil {
			return err
		}
		loan = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return loan, nil
}

// DeleteLoan deletes a loan and its installments.
func (l *Ledger) DeleteLoan(ctx context.Context, id uuid.UUID) error {
	if err := l.storage.DeleteLoan(ctx, id); err != nil {
		return err
	}
	l.logger.WithField("loan_id", id).Info("Loan deleted")
	return nil
}

// PayInstallment marks an installment paid and settles the loan when it was
// the last one outstanding. Both writes share one storage transaction.
func (l *Ledger) PayInstallment(ctx context.Context, id uuid.UUID) (*PaymentReceipt, error) {
	now := l.clock.Now()
	var receipt PaymentReceipt

	err := l.storage.Atomic(ctx, func(tx store.Storage) error {
		inst, err := tx.GetInstallment(ctx, id)
		if err != nil {
			return err
		}
		loan, err := tx.LockLoan(ctx, inst.LoanID)
		if err != nil {
			return err
		}
		// Read again under the lock: a payment of this installment may have
		// committed while we waited.
		if inst, err = tx.GetInstallment(ctx, id); err != nil {
			return err
		}
		if inst.Status == models.InstallmentStatusPaid {
			return ErrInstallmentPaid
		}
		receipt.Accrual = engine.Accrue(inst, loan.PenaltyRates(), now)

		if err := tx.MarkInstallmentPaid(ctx, id, now); err != nil {
			return err
		}
		if receipt.Loan, err = l.resolveLoanStatus(ctx, tx, loan); err != nil {
			return err
		}
		receipt.Installment, err = tx.GetInstallment(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.InstallmentsPaid.Inc()
	l.logger.WithFields(logrus.Fields{
		"installment_id": id,
		"loan_id":        receipt.Loan.ID,
		"paid_total":     receipt.Accrual.Total.StringFixed(2),
		"loan_status":    receipt.Loan.Status,
	}).Info("Installment paid")
	return &receipt, nil
}

// AccrueInstallment computes the overdue position of an installment as of
// now. With persist set and the installment overdue, the figures are stored
// and the installment flips to overdue; if it was paid in the meantime the
// figures are discarded and ErrStaleAccrual is returned.
func (l *Ledger) AccrueInstallment(ctx context.Context, id uuid.UUID, persist bool) (*InstallmentView, error) {
	now := l.clock.Now()
	inst, err := l.storage.GetInstallment(ctx, id)
	if err != nil {
		return nil, err
	}
	loan, err := l.storage.GetLoan(ctx, inst.LoanID)
	if err != nil {
		return nil, err
	}

	acc := engine.Accrue(inst, loan.PenaltyRates(), now)
	metrics.Accruals.WithLabelValues("computed").Inc()
	if !persist || !acc.Overdue() {
		return &InstallmentView{Installment: inst, Accrual: acc}, nil
	}

	if acc, err = l.persistAccrual(ctx, inst.ID, inst.LoanID, now); err != nil {
		return nil, err
	}
	inst.Status = models.InstallmentStatusOverdue
	inst.MoraInterestApplied = acc.MoraInterest
	inst.LateFeeApplied = acc.LateFee
	return &InstallmentView{Installment: inst, Accrual: acc}, nil
}

// persistAccrual locks the loan, recomputes the accrual from the rows as they
// are now and stores it together with the resolved loan status.
func (l *Ledger) persistAccrual(ctx context.Context, instID, loanID uuid.UUID, now time.Time) (models.Accrual, error) {
	var acc models.Accrual
	err := l.storage.Atomic(ctx, func(tx store.Storage) error {
		loan, err := tx.LockLoan(ctx, loanID)
		if err != nil {
			return err
		}
		inst, err := tx.GetInstallment(ctx, instID)
		if err != nil {
			return err
		}
		if inst.Status == models.InstallmentStatusPaid {
			return ErrStaleAccrual
		}
		acc = engine.Accrue(inst, loan.PenaltyRates(), now)
		if err := tx.ApplyAccrual(ctx, inst.ID, acc.MoraInterest, acc.LateFee, now); err != nil {
			return err
		}
		_, err = l.resolveLoanStatus(ctx, tx, loan)
		return err
	})
	if errors.Is(err, store.ErrStaleAccrual) {
		metrics.Accruals.WithLabelValues("stale").Inc()
		l.logger.WithField("installment_id", instID).Warn("Installment paid while accruing, accrual discarded")
		return acc, err
	}
	if err != nil {
		return acc, err
	}
	metrics.Accruals.WithLabelValues("persisted").Inc()
	return acc, nil
}

// ResolveLoanStatus recomputes and stores the status of a loan from its installments.
func (l *Ledger) ResolveLoanStatus(ctx context.Context, loanID uuid.UUID) (*models.Loan, error) {
	var loan *models.Loan
	err := l.storage.Atomic(ctx, func(tx store.Storage) error {
		current, err := tx.LockLoan(ctx, loanID)
		if err != nil {
			return err
		}
		loan, err = l.resolveLoanStatus(ctx, tx, current)
		return err
	})
	return loan, err
}

// resolveLoanStatus expects loan to have been read with tx.LockLoan.
func (l *Ledger) resolveLoanStatus(ctx context.Context, tx store.Storage, loan *models.Loan) (*models.Loan, error) {
	installments, err := tx.GetInstallmentsForLoan(ctx, loan.ID)
	if err != nil {
		return nil, err
	}
	status := engine.ResolveLoanStatus(installments)
	if status == loan.Status {
		return loan, nil
	}

	loan.Status = status
	loan.UpdatedAt = l.clock.Now()
	if err := tx.SetLoanStatus(ctx, loan.ID, status, loan.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to update loan status: %w", err)
	}
	if status == models.LoanStatusSettled {
		l.logger.WithField("loan_id", loan.ID).Info("Loan settled")
	}
	return loan, nil
}
