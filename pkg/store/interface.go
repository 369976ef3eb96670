package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/sharkpro/pkg/models"
	"github.com/shopspring/decimal"
)

var (
	ErrClientNotFound      = errors.New("client not found")
	ErrLoanNotFound        = errors.New("loan not found")
	ErrInstallmentNotFound = errors.New("installment not found")
	ErrDuplicateCPF        = errors.New("a client with this cpf already exists")
	ErrAlreadyPaid         = errors.New("installment already paid")
	// ErrStaleAccrual means the installment was paid after its accrual was computed.
	ErrStaleAccrual = errors.New("installment was paid after the accrual was computed")
)

// ClientFilter narrows ListClients. Name and CPF match substrings.
type ClientFilter struct {
	OwnerID string
	Name    string
	CPF     string
	Page    int
	Limit   int
}

// LoanFilter narrows ListLoans. Zero values match everything.
type LoanFilter struct {
	OwnerID   string
	ClientID  uuid.UUID
	ClientCPF string
	Status    models.LoanStatus
	Page      int
	Limit     int
}

// offset converts a 1-based page into a row offset.
func offset(page, limit int) int {
	if page < 1 {
		return 0
	}
	return (page - 1) * limit
}

// Storage defines the persistence operations of the lending ledger.
type Storage interface {
	CreateClient(ctx context.Context, client *models.Client) error
	GetClient(ctx context.Context, id uuid.UUID) (*models.Client, error)
	GetClientByCPF(ctx context.Context, ownerID, cpf string) (*models.Client, error)
	UpdateClient(ctx context.Context, client *models.Client) error
	DeleteClient(ctx context.Context, id uuid.UUID) error
	ListClients(ctx context.Context, filter ClientFilter) ([]*models.Client, error)
	// CountClients counts an owner's clients. An empty ownerID matches every owner.
	CountClients(ctx context.Context, ownerID string) (int, error)

	CreateLoan(ctx context.Context, loan *models.Loan) error
	GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error)
	// LockLoan reads a loan and holds its row until the surrounding Atomic
	// call ends, so writers of the same loan are serialized.
	LockLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error)
	// UpdateLoan writes the editable loan terms. It never touches status.
	UpdateLoan(ctx context.Context, loan *models.Loan) error
	SetLoanStatus(ctx context.Context, id uuid.UUID, status models.LoanStatus, updatedAt time.Time) error
	// DeleteLoan removes the loan together with its installments.
	DeleteLoan(ctx context.Context, id uuid.UUID) error
	ListLoans(ctx context.Context, filter LoanFilter) ([]*models.Loan, error)

	// CreateInstallments inserts a whole schedule, all rows or none.
	CreateInstallments(ctx context.Context, installments []*models.Installment) error
	GetInstallment(ctx context.Context, id uuid.UUID) (*models.Installment, error)
	GetInstallmentsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.Installment, error)
	// MarkInstallmentPaid sets status paid and paid_at and clears applied
	// accrual. paidAt is also the row's updated_at. Returns ErrAlreadyPaid if
	// it was paid already.
	MarkInstallmentPaid(ctx context.Context, id uuid.UUID, paidAt time.Time) error
	// ApplyAccrual records mora and late fee and flips the status to overdue,
	// unless the installment is paid, in which case it returns ErrStaleAccrual.
	ApplyAccrual(ctx context.Context, id uuid.UUID, mora, lateFee decimal.Decimal, at time.Time) error
	// ListOverdueInstallments returns unpaid installments due before the given
	// date. An empty ownerID matches every owner.
	ListOverdueInstallments(ctx context.Context, ownerID string, before time.Time) ([]*models.Installment, error)

	// Atomic runs fn inside a single storage transaction.
	Atomic(ctx context.Context, fn func(s Storage) error) error

	Close() error
}
