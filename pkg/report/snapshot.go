package report

import (
	"github.com/mcclellann/sharkpro/pkg/calendar"
	"github.com/mcclellann/sharkpro/pkg/models"
)

// ClientSnapshot is the client data a report is built from. Empty fields
// render as "not informed".
type ClientSnapshot struct {
	Name         string `json:"name"`
	CPF          string `json:"cpf"`
	RG           string `json:"rg"`
	BirthDate    string `json:"birth_date"`
	MotherName   string `json:"mother_name"`
	FatherName   string `json:"father_name"`
	Phone        string `json:"phone"`
	Email        string `json:"email"`
	Address      string `json:"address"`
	Number       string `json:"number"`
	Complement   string `json:"complement"`
	Neighborhood string `json:"neighborhood"`
	City         string `json:"city"`
	State        string `json:"state"`
	CEP          string `json:"cep"`
}

// LoanSnapshot is a loan as stored, possibly incomplete. Numeric fields
// decode leniently and dates are raw strings so historical rows with missing
// or malformed values can still be reported.
type LoanSnapshot struct {
	ID                string                `json:"id"`
	StartDate         string                `json:"start_date"`
	Amount            Number                `json:"amount"`
	InterestRate      Number                `json:"interest_rate"`
	MoraInterestRate  Number                `json:"mora_interest_rate"`
	LateFeeRate       Number                `json:"late_fee_rate"`
	InstallmentsCount Count                 `json:"installments_count"`
	Status            string                `json:"status"`
	PaymentPlace      string                `json:"payment_place"`
	Installments      []InstallmentSnapshot `json:"installments"`
}

type InstallmentSnapshot struct {
	InstallmentNumber Count  `json:"installment_number"`
	DueDate           string `json:"due_date"`
	Amount            Number `json:"amount"`
	Status            string `json:"status"`
	PaidAt            string `json:"paid_at"`
}

func FromClient(c *models.Client) ClientSnapshot {
	return ClientSnapshot{
		Name:         c.Name,
		CPF:          c.CPF,
		RG:           c.RG,
		BirthDate:    c.BirthDate,
		MotherName:   c.MotherName,
		FatherName:   c.FatherName,
		Phone:        c.Phone,
		Email:        c.Email,
		Address:      c.Address,
		Number:       c.Number,
		Complement:   c.Complement,
		Neighborhood: c.Neighborhood,
		City:         c.City,
		State:        c.State,
		CEP:          c.CEP,
	}
}

// FromLoan snapshots a stored loan with its schedule. Persisted accrual
// fields are not carried over.
func FromLoan(loan *models.Loan, installments []*models.Installment) LoanSnapshot {
	snap := LoanSnapshot{
		ID:                loan.ID.String(),
		Amount:            NumberOf(loan.Amount),
		InterestRate:      NumberOf(loan.InterestRate),
		MoraInterestRate:  NumberOf(loan.MoraInterestRate),
		LateFeeRate:       NumberOf(loan.LateFeeRate),
		InstallmentsCount: CountOf(loan.InstallmentsCount),
		Status:            string(loan.Status),
		PaymentPlace:      loan.PaymentPlace,
	}
	if !loan.CreatedAt.IsZero() {
		snap.StartDate = calendar.FormatISO(calendar.Civil(loan.CreatedAt))
	}
	for _, inst := range installments {
		is := InstallmentSnapshot{
			InstallmentNumber: CountOf(inst.InstallmentNumber),
			DueDate:           calendar.FormatISO(inst.DueDate),
			Amount:            NumberOf(inst.Amount),
			Status:            string(inst.Status),
		}
		if inst.PaidAt != nil {
			is.PaidAt = calendar.FormatISO(*inst.PaidAt)
		}
		snap.Installments = append(snap.Installments, is)
	}
	return snap
}
