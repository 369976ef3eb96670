package report

import (
	"strconv"
	"time"

	"github.com/mcclellann/sharkpro/pkg/calendar"
	"github.com/mcclellann/sharkpro/pkg/engine"
	"github.com/mcclellann/sharkpro/pkg/format"
	"github.com/mcclellann/sharkpro/pkg/models"
	"github.com/mcclellann/sharkpro/pkg/money"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// terms is a loan snapshot after display defaults. The snapshot itself is
// never modified.
type terms struct {
	amount      decimal.Decimal
	interest    decimal.Decimal
	rates       models.PenaltyRates
	count       int
	totals      engine.Totals
	totalsValid bool

	amountMissing   bool
	interestMissing bool
}

func valueOrZero(d Number) (decimal.Decimal, bool) {
	if !d.Valid {
		return decimal.Zero, false
	}
	return d.Decimal, true
}

func loanTerms(snap LoanSnapshot) terms {
	var t terms
	var ok bool
	t.amount, ok = valueOrZero(snap.Amount)
	t.amountMissing = !ok
	// A negative stored rate is shown as is and computed as zero.
	t.interest, ok = valueOrZero(snap.InterestRate)
	t.interestMissing = !ok
	t.rates.MoraInterestRate, _ = valueOrZero(snap.MoraInterestRate)
	t.rates.LateFeeRate, _ = valueOrZero(snap.LateFeeRate)

	switch {
	case snap.InstallmentsCount.Valid && snap.InstallmentsCount.Value > 0:
		t.count = snap.InstallmentsCount.Value
	case len(snap.Installments) > 0:
		t.count = len(snap.Installments)
	default:
		t.count = 1
	}

	totals, err := engine.CalculateTotals(t.amount, money.NonNegative(t.interest), t.count)
	if err == nil {
		t.totals, t.totalsValid = totals, true
	}
	return t
}

func (b *Builder) project(snap LoanSnapshot, now time.Time) LoanSection {
	t := loanTerms(snap)
	section := LoanSection{
		Totals: t.totals,
		Rows:   make([]InstallmentRow, 0, len(snap.Installments)),
	}

	var fellBack bool
	installments := make([]*models.Installment, 0, len(snap.Installments))
	overdue := false
	for i, is := range snap.Installments {
		row, inst, fallback := b.row(i, is, t, now)
		fellBack = fellBack || fallback
		overdue = overdue || row.Accrual.Overdue()
		installments = append(installments, inst)
		section.Rows = append(section.Rows, row)
	}

	switch {
	case len(installments) == 0:
		section.DisplayStatus = models.LoanStatus(snap.Status)
	case engine.ResolveLoanStatus(installments) == models.LoanStatusSettled:
		section.DisplayStatus = models.LoanStatusSettled
	case overdue:
		section.DisplayStatus = models.LoanStatusOverdue
	default:
		section.DisplayStatus = models.LoanStatusActive
	}

	if t.amountMissing || t.interestMissing || fellBack {
		b.logger.WithFields(logrus.Fields{
			"loan_id":          snap.ID,
			"amount_missing":   t.amountMissing,
			"interest_missing": t.interestMissing,
			"due_date_today":   fellBack,
		}).Debug("Report used defaults for incomplete loan")
	}

	section.Fields = loanFields(snap, t, section.DisplayStatus)
	return section
}

// row projects one installment. Only the first installment falls back to
// today on an unparsable due date; later ones are shown as invalid and do
// not accrue.
func (b *Builder) row(i int, is InstallmentSnapshot, t terms, now time.Time) (InstallmentRow, *models.Installment, bool) {
	inst := &models.Installment{
		InstallmentNumber: i + 1,
		Amount:            t.totals.InstallmentValue,
		Status:            models.InstallmentStatus(is.Status),
	}
	if is.InstallmentNumber.Valid && is.InstallmentNumber.Value > 0 {
		inst.InstallmentNumber = is.InstallmentNumber.Value
	}
	if is.Amount.Valid {
		inst.Amount = is.Amount.Decimal
	}
	if inst.Status == "" {
		inst.Status = models.InstallmentStatusPending
	}
	if paid, err := calendar.ParseDate(is.PaidAt); err == nil {
		inst.PaidAt = &paid
	}

	row := InstallmentRow{Number: inst.InstallmentNumber, Amount: inst.Amount, Status: inst.Status, PaidAt: inst.PaidAt}
	due, err := calendar.ParseDate(is.DueDate)
	fallback := false
	switch {
	case err == nil:
	case i == 0:
		due, fallback = calendar.Civil(now), true
	default:
		row.DueDateInvalid = true
		row.Accrual = models.Accrual{MoraInterest: decimal.Zero, LateFee: decimal.Zero, Total: inst.Amount, AsOf: now}
		return row, inst, false
	}

	inst.DueDate = due
	row.DueDate = due
	row.Accrual = engine.Accrue(inst, t.rates, now)
	return row, inst, fallback
}

func loanFields(snap LoanSnapshot, t terms, status models.LoanStatus) []Field {
	id := Field{Label: "ID do Empréstimo:", Value: snap.ID}
	if snap.ID == "" {
		id.Value, id.Invalid = "N/A", true
	}

	start := Field{Label: "Data de Início:", Value: invalidDate, Invalid: true}
	if d, err := calendar.ParseDate(snap.StartDate); err == nil {
		start.Value, start.Invalid = format.Date(d), false
	}

	amount := Field{Label: "Valor Original:", Value: invalidValue, Invalid: true}
	if t.amount.IsPositive() {
		amount.Value, amount.Invalid = format.BRL(t.amount), false
	}

	installment := Field{Label: "Valor da Parcela:", Value: invalidValue, Invalid: true}
	total := Field{Label: "Valor Total:", Value: invalidValue, Invalid: true}
	if t.totalsValid {
		installment.Value, installment.Invalid = format.BRL(t.totals.InstallmentValue), false
		total.Value, total.Invalid = format.BRL(t.totals.TotalValue), false
	}

	statusField := Field{Label: "Status:", Value: format.StatusText(string(status))}
	if status == "" {
		statusField.Value, statusField.Invalid = undefinedState, true
	}

	count := Field{Label: "Nº de Parcelas:", Value: strconv.Itoa(t.count)}
	if snap.InstallmentsCount.Malformed || snap.InstallmentsCount.Value < 0 {
		count.Value, count.Invalid = invalidCount, true
	}

	return []Field{
		id,
		start,
		amount,
		{Label: "Taxa de Juros:", Value: format.Percent(t.interest), Invalid: t.interestMissing},
		{Label: "Juros de Mora (ao dia):", Value: format.Percent(t.rates.MoraInterestRate), Invalid: snap.MoraInterestRate.Malformed},
		{Label: "Multa por Atraso:", Value: format.Percent(t.rates.LateFeeRate), Invalid: snap.LateFeeRate.Malformed},
		count,
		installment,
		total,
		statusField,
		labeled("Local de Pagamento:", orDefault(snap.PaymentPlace, notInformed)),
	}
}
