// Package engine computes loan totals, installment schedules, overdue
// accruals and loan status. Everything here is pure: no storage, no clock.
package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/sharkpro/pkg/calendar"
	"github.com/mcclellann/sharkpro/pkg/models"
	"github.com/mcclellann/sharkpro/pkg/money"
	"github.com/shopspring/decimal"
)

var ErrInvalidScheduleInput = errors.New("invalid schedule input")

// MaxInstallments bounds a schedule to thirty years of monthly payments.
const MaxInstallments = 360

type Totals struct {
	TotalValue       decimal.Decimal `json:"total_value"`
	InstallmentValue decimal.Decimal `json:"installment_value"`
}

// CalculateTotals applies the interest rate once and multiplies the result
// across all installments. It is a flat charge, not an amortization table.
func CalculateTotals(amount, interestRatePercent decimal.Decimal, installmentsCount int) (Totals, error) {
	if !amount.IsPositive() {
		return Totals{}, fmt.Errorf("%w: amount must be positive, got %s", ErrInvalidScheduleInput, amount)
	}
	if interestRatePercent.IsNegative() {
		return Totals{}, fmt.Errorf("%w: interest rate must not be negative, got %s", ErrInvalidScheduleInput, interestRatePercent)
	}
	if installmentsCount <= 0 || installmentsCount > MaxInstallments {
		return Totals{}, fmt.Errorf("%w: installments count must be between 1 and %d, got %d", ErrInvalidScheduleInput, MaxInstallments, installmentsCount)
	}

	count := decimal.NewFromInt(int64(installmentsCount))
	total := money.Round2(amount.Mul(money.Growth(interestRatePercent)).Mul(count))
	return Totals{
		TotalValue:       total,
		InstallmentValue: money.Round2(total.Div(count)),
	}, nil
}

// GenerateSchedule lays out installments 1..count one month apart starting
// at firstDueDate. IDs are assigned here so the batch can be inserted as is.
func GenerateSchedule(loanID uuid.UUID, installmentsCount int, installmentAmount decimal.Decimal, firstDueDate time.Time) ([]*models.Installment, error) {
	if installmentsCount <= 0 || installmentsCount > MaxInstallments {
		return nil, fmt.Errorf("%w: installments count must be between 1 and %d, got %d", ErrInvalidScheduleInput, MaxInstallments, installmentsCount)
	}
	if !installmentAmount.IsPositive() {
		return nil, fmt.Errorf("%w: installment amount must be positive, got %s", ErrInvalidScheduleInput, installmentAmount)
	}

	first := calendar.Civil(firstDueDate)
	schedule := make([]*models.Installment, 0, installmentsCount)
	for i := 1; i <= installmentsCount; i++ {
		schedule = append(schedule, &models.Installment{
			ID:                uuid.New(),
			LoanID:            loanID,
			InstallmentNumber: i,
			DueDate:           calendar.AddMonths(first, i-1),
			Amount:            installmentAmount,
			Status:            models.InstallmentStatusPending,
		})
	}
	return schedule, nil
}

// IsOverdue reports whether an outstanding installment is past its due date.
func IsOverdue(inst *models.Installment, asOf time.Time) bool {
	return inst.Status.Outstanding() && calendar.Before(inst.DueDate, asOf)
}

// Accrue computes mora interest (compounded daily on the nominal amount) and
// the flat late fee of an installment as of asOf. Paid or not-yet-due
// installments carry no penalty. Persisted accrual fields are ignored.
func Accrue(inst *models.Installment, rates models.PenaltyRates, asOf time.Time) models.Accrual {
	result := models.Accrual{
		MoraInterest: decimal.Zero,
		LateFee:      decimal.Zero,
		Total:        inst.Amount,
		AsOf:         asOf,
	}
	if !IsOverdue(inst, asOf) {
		return result
	}

	days := calendar.CeilDays(inst.DueDate, asOf)
	mora := money.NonNegative(rates.MoraInterestRate)
	fee := money.NonNegative(rates.LateFeeRate)

	factor := money.Growth(mora).Pow(decimal.NewFromInt(int64(days))).Sub(decimal.NewFromInt(1))
	result.OverdueDays = days
	result.MoraInterest = money.Round2(inst.Amount.Mul(factor))
	result.LateFee = money.Round2(inst.Amount.Mul(money.Rate(fee)))
	result.Total = inst.Amount.Add(result.MoraInterest).Add(result.LateFee)
	return result
}

// ResolveLoanStatus returns settled only when there is at least one
// installment and all of them are paid.
func ResolveLoanStatus(installments []*models.Installment) models.LoanStatus {
	if len(installments) == 0 {
		return models.LoanStatusActive
	}
	for _, inst := range installments {
		if inst.Status != models.InstallmentStatusPaid {
			return models.LoanStatusActive
		}
	}
	return models.LoanStatusSettled
}

// DisplayStatus is ResolveLoanStatus plus the derived overdue state used by
// listings and reports.
func DisplayStatus(installments []*models.Installment, asOf time.Time) models.LoanStatus {
	status := ResolveLoanStatus(installments)
	if status == models.LoanStatusSettled {
		return status
	}
	for _, inst := range installments {
		if IsOverdue(inst, asOf) {
			return models.LoanStatusOverdue
		}
	}
	return status
}
