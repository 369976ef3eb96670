package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type LoanStatus string

const (
	LoanStatusActive  LoanStatus = "active"
	LoanStatusSettled LoanStatus = "settled"
	// LoanStatusOverdue is derived for display only and never persisted.
	LoanStatusOverdue LoanStatus = "overdue"
)

type InstallmentStatus string

const (
	InstallmentStatusPending InstallmentStatus = "pending"
	InstallmentStatusPaid    InstallmentStatus = "paid"
	InstallmentStatusOverdue InstallmentStatus = "overdue"
)

// Outstanding reports whether an installment still has money owed on it.
func (s InstallmentStatus) Outstanding() bool {
	return s == InstallmentStatusPending || s == InstallmentStatusOverdue
}

type Client struct {
	ID           uuid.UUID `json:"id"`
	OwnerID      string    `json:"owner_id"` // Account owner in the external auth system
	Name         string    `json:"name"`
	CPF          string    `json:"cpf"` // Digits only
	RG           string    `json:"rg,omitempty"`
	BirthDate    string    `json:"birth_date,omitempty"`
	MotherName   string    `json:"mother_name,omitempty"`
	FatherName   string    `json:"father_name,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	Email        string    `json:"email,omitempty"`
	Address      string    `json:"address,omitempty"`
	Number       string    `json:"number,omitempty"`
	Complement   string    `json:"complement,omitempty"`
	Neighborhood string    `json:"neighborhood,omitempty"`
	City         string    `json:"city,omitempty"`
	State        string    `json:"state,omitempty"`
	CEP          string    `json:"cep,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Loan struct {
	ID                uuid.UUID       `json:"id"`
	ClientID          uuid.UUID       `json:"client_id"`
	OwnerID           string          `json:"owner_id"`
	Amount            decimal.Decimal `json:"amount"`             // Principal
	InterestRate      decimal.Decimal `json:"interest_rate"`      // Percent, applied once (flat)
	MoraInterestRate  decimal.Decimal `json:"mora_interest_rate"` // Percent per day on overdue installments
	LateFeeRate       decimal.Decimal `json:"late_fee_rate"`      // Percent, one-time on overdue installments
	InstallmentsCount int             `json:"installments_count"`
	FirstDueDate      time.Time       `json:"first_due_date"`
	TotalValue        decimal.Decimal `json:"total_value"`
	InstallmentValue  decimal.Decimal `json:"installment_value"`
	PaymentPlace      string          `json:"payment_place,omitempty"`
	Status            LoanStatus      `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// PenaltyRates returns the rates the accrual engine needs from a loan.
func (l *Loan) PenaltyRates() PenaltyRates {
	return PenaltyRates{MoraInterestRate: l.MoraInterestRate, LateFeeRate: l.LateFeeRate}
}

type PenaltyRates struct {
	MoraInterestRate decimal.Decimal `json:"mora_interest_rate"`
	LateFeeRate      decimal.Decimal `json:"late_fee_rate"`
}

// Installment is one scheduled repayment of a loan ("payment" in user-facing text).
type Installment struct {
	ID                  uuid.UUID         `json:"id"`
	LoanID              uuid.UUID         `json:"loan_id"`
	InstallmentNumber   int               `json:"installment_number"`
	DueDate             time.Time         `json:"due_date"`
	Amount              decimal.Decimal   `json:"amount"`
	Status              InstallmentStatus `json:"status"`
	PaidAt              *time.Time        `json:"paid_at,omitempty"`
	MoraInterestApplied decimal.Decimal   `json:"mora_interest_applied"` // Last persisted accrual, informational only
	LateFeeApplied      decimal.Decimal   `json:"late_fee_applied"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// Accrual is the overdue position of one installment at a point in time.
type Accrual struct {
	MoraInterest decimal.Decimal `json:"mora_interest"`
	LateFee      decimal.Decimal `json:"late_fee"`
	Total        decimal.Decimal `json:"total"`
	OverdueDays  int             `json:"overdue_days"`
	AsOf         time.Time       `json:"as_of"`
}

// Overdue reports whether any penalty applied.
func (a Accrual) Overdue() bool {
	return a.OverdueDays > 0
}
