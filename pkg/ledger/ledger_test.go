package ledger

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/sharkpro/pkg/calendar"
	"github.com/mcclellann/sharkpro/pkg/clock"
	"github.com/mcclellann/sharkpro/pkg/engine"
	"github.com/mcclellann/sharkpro/pkg/models"
	"github.com/mcclellann/sharkpro/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// MockStore is a simple in-memory implementation of the Storage interface for testing.
type MockStore struct {
	clients      map[uuid.UUID]*models.Client
	loans        map[uuid.UUID]*models.Loan
	installments map[uuid.UUID]*models.Installment

	failCreateInstallments error
	failDeleteLoan         error
	onCreateInstallments   func()
	onReadLoan             func(id uuid.UUID)
	beforeApplyAccrual     func(id uuid.UUID)
	applied                int
	locked                 []uuid.UUID
}

func NewMockStore() *MockStore {
	return &MockStore{
		clients:      make(map[uuid.UUID]*models.Client),
		loans:        make(map[uuid.UUID]*models.Loan),
		installments: make(map[uuid.UUID]*models.Installment),
	}
}

func (m *MockStore) CreateClient(ctx context.Context, c *models.Client) error {
	for _, existing := range m.clients {
		if existing.OwnerID == c.OwnerID && existing.CPF == c.CPF {
			return store.ErrDuplicateCPF
		}
	}
	m.clients[c.ID] = c
	return nil
}

func (m *MockStore) GetClient(ctx context.Context, id uuid.UUID) (*models.Client, error) {
	c, ok := m.clients[id]
	if !ok {
		return nil, store.ErrClientNotFound
	}
	return c, nil
}

func (m *MockStore) GetClientByCPF(ctx context.Context, ownerID, cpf string) (*models.Client, error) {
	for _, c := range m.clients {
		if c.OwnerID == ownerID && c.CPF == cpf {
			return c, nil
		}
	}
	return nil, store.ErrClientNotFound
}

func (m *MockStore) UpdateClient(ctx context.Context, c *models.Client) error {
	if _, ok := m.clients[c.ID]; !ok {
		return store.ErrClientNotFound
	}
	m.clients[c.ID] = c
	return nil
}

func (m *MockStore) DeleteClient(ctx context.Context, id uuid.UUID) error {
	if _, ok := m.clients[id]; !ok {
		return store.ErrClientNotFound
	}
	for _, loan := range m.loans {
		if loan.ClientID == id {
			m.DeleteLoan(ctx, loan.ID)
		}
	}
	delete(m.clients, id)
	return nil
}

func (m *MockStore) ListClients(ctx context.Context, f store.ClientFilter) ([]*models.Client, error) {
	clients := []*models.Client{}
	for _, c := range m.clients {
		if c.OwnerID == f.OwnerID && strings.Contains(c.Name, f.Name) && strings.Contains(c.CPF, f.CPF) {
			clients = append(clients, c)
		}
	}
	return clients, nil
}

func (m *MockStore) CountClients(ctx context.Context, ownerID string) (int, error) {
	if ownerID == "" {
		return len(m.clients), nil
	}
	clients, _ := m.ListClients(ctx, store.ClientFilter{OwnerID: ownerID})
	return len(clients), nil
}

func (m *MockStore) CreateLoan(ctx context.Context, loan *models.Loan) error {
	m.loans[loan.ID] = loan
	return nil
}

func (m *MockStore) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	loan, ok := m.loans[id]
	if !ok {
		return nil, store.ErrLoanNotFound
	}
	copied := *loan
	if m.onReadLoan != nil {
		m.onReadLoan(id)
	}
	return &copied, nil
}

func (m *MockStore) LockLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	m.locked = append(m.locked, id)
	return m.GetLoan(ctx, id)
}

func (m *MockStore) UpdateLoan(ctx context.Context, loan *models.Loan) error {
	stored, ok := m.loans[loan.ID]
	if !ok {
		return store.ErrLoanNotFound
	}
	stored.MoraInterestRate = loan.MoraInterestRate
	stored.LateFeeRate = loan.LateFeeRate
	stored.PaymentPlace = loan.PaymentPlace
	stored.UpdatedAt = loan.UpdatedAt
	return nil
}

func (m *MockStore) SetLoanStatus(ctx context.Context, id uuid.UUID, status models.LoanStatus, updatedAt time.Time) error {
	stored, ok := m.loans[id]
	if !ok {
		return store.ErrLoanNotFound
	}
	stored.Status = status
	stored.UpdatedAt = updatedAt
	return nil
}

func (m *MockStore) DeleteLoan(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.failDeleteLoan != nil {
		return m.failDeleteLoan
	}
	if _, ok := m.loans[id]; !ok {
		return store.ErrLoanNotFound
	}
	for instID, inst := range m.installments {
		if inst.LoanID == id {
			delete(m.installments, instID)
		}
	}
	delete(m.loans, id)
	return nil
}

func (m *MockStore) ListLoans(ctx context.Context, f store.LoanFilter) ([]*models.Loan, error) {
	loans := []*models.Loan{}
	for _, l := range m.loans {
		if f.OwnerID != "" && l.OwnerID != f.OwnerID {
			continue
		}
		if f.ClientID != uuid.Nil && l.ClientID != f.ClientID {
			continue
		}
		if f.Status != "" && l.Status != f.Status {
			continue
		}
		loans = append(loans, l)
	}
	return loans, nil
}

func (m *MockStore) CreateInstallments(ctx context.Context, installments []*models.Installment) error {
	if m.onCreateInstallments != nil {
		m.onCreateInstallments()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.failCreateInstallments != nil {
		return m.failCreateInstallments
	}
	for _, inst := range installments {
		m.installments[inst.ID] = inst
	}
	return nil
}

func (m *MockStore) GetInstallment(ctx context.Context, id uuid.UUID) (*models.Installment, error) {
	inst, ok := m.installments[id]
	if !ok {
		return nil, store.ErrInstallmentNotFound
	}
	copied := *inst
	return &copied, nil
}

func (m *MockStore) GetInstallmentsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.Installment, error) {
	installments := []*models.Installment{}
	for _, inst := range m.installments {
		if inst.LoanID == loanID {
			copied := *inst
			installments = append(installments, &copied)
		}
	}
	sort.Slice(installments, func(i, j int) bool {
		return installments[i].InstallmentNumber < installments[j].InstallmentNumber
	})
	return installments, nil
}

func (m *MockStore) MarkInstallmentPaid(ctx context.Context, id uuid.UUID, paidAt time.Time) error {
	inst, ok := m.installments[id]
	if !ok {
		return store.ErrInstallmentNotFound
	}
	if inst.Status == models.InstallmentStatusPaid {
		return store.ErrAlreadyPaid
	}
	day := calendar.Civil(paidAt)
	inst.Status = models.InstallmentStatusPaid
	inst.PaidAt = &day
	inst.MoraInterestApplied = decimal.Zero
	inst.LateFeeApplied = decimal.Zero
	inst.UpdatedAt = paidAt
	return nil
}

func (m *MockStore) ApplyAccrual(ctx context.Context, id uuid.UUID, mora, lateFee decimal.Decimal, at time.Time) error {
	if m.beforeApplyAccrual != nil {
		m.beforeApplyAccrual(id)
	}
	inst, ok := m.installments[id]
	if !ok {
		return store.ErrInstallmentNotFound
	}
	if inst.Status == models.InstallmentStatusPaid {
		return store.ErrStaleAccrual
	}
	inst.Status = models.InstallmentStatusOverdue
	inst.MoraInterestApplied = mora
	inst.LateFeeApplied = lateFee
	inst.UpdatedAt = at
	m.applied++
	return nil
}

func (m *MockStore) ListOverdueInstallments(ctx context.Context, ownerID string, before time.Time) ([]*models.Installment, error) {
	installments := []*models.Installment{}
	for _, inst := range m.installments {
		if !inst.Status.Outstanding() || !inst.DueDate.Before(before) {
			continue
		}
		if ownerID != "" && m.loans[inst.LoanID].OwnerID != ownerID {
			continue
		}
		copied := *inst
		installments = append(installments, &copied)
	}
	return installments, nil
}

func (m *MockStore) Atomic(ctx context.Context, fn func(store.Storage) error) error {
	return fn(m)
}

func (m *MockStore) Close() error {
	return nil
}

var today = time.Date(2024, time.April, 15, 10, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T) (*Ledger, *MockStore, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	s := NewMockStore()
	return NewLedger(s, clock.Fixed(today), logger), s, hook
}

func seedClient(t *testing.T, l *Ledger) *models.Client {
	t.Helper()
	c, err := l.CreateClient(context.Background(), &models.Client{OwnerID: "owner-1", Name: "João Silva", CPF: "529.982.247-25"})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return c
}

func newLoanRequest(clientID uuid.UUID) NewLoan {
	return NewLoan{
		ClientID:          clientID,
		Amount:            decimal.NewFromInt(1000),
		InterestRate:      decimal.NewFromInt(5),
		MoraInterestRate:  decimal.NewFromInt(1),
		LateFeeRate:       decimal.NewFromInt(2),
		InstallmentsCount: 3,
		FirstDueDate:      calendar.Date(2024, time.March, 5),
	}
}

func TestCreateLoan(t *testing.T) {
	l, s, _ := newTestLedger(t)
	client := seedClient(t, l)

	loan, schedule, err := l.CreateLoan(context.Background(), newLoanRequest(client.ID))
	if err != nil {
		t.Fatalf("Failed to create loan: %v", err)
	}

	if loan.TotalValue.StringFixed(2) != "3150.00" {
		t.Errorf("Expected total value 3150.00, got %s", loan.TotalValue)
	}
	if loan.InstallmentValue.StringFixed(2) != "1050.00" {
		t.Errorf("Expected installment value 1050.00, got %s", loan.InstallmentValue)
	}
	if loan.Status != models.LoanStatusActive {
		t.Errorf("Expected status active, got %s", loan.Status)
	}
	if loan.OwnerID != "owner-1" {
		t.Errorf("Expected loan to inherit the client's owner, got %q", loan.OwnerID)
	}
	if len(schedule) != 3 || len(s.installments) != 3 {
		t.Fatalf("Expected 3 installments, got %d returned and %d stored", len(schedule), len(s.installments))
	}
	if got := calendar.FormatISO(schedule[2].DueDate); got != "2024-05-05" {
		t.Errorf("Expected last due date 2024-05-05, got %s", got)
	}
}

func TestCreateLoan_RejectsInvalidInput(t *testing.T) {
	l, s, _ := newTestLedger(t)
	client := seedClient(t, l)

	bad := []func(*NewLoan){
		func(r *NewLoan) { r.Amount = decimal.Zero },
		func(r *NewLoan) { r.InstallmentsCount = 0 },
		func(r *NewLoan) { r.InterestRate = decimal.NewFromInt(-1) },
		func(r *NewLoan) { r.LateFeeRate = decimal.NewFromInt(-1) },
		func(r *NewLoan) { r.FirstDueDate = time.Time{} },
	}
	for i, mutate := range bad {
		req := newLoanRequest(client.ID)
		mutate(&req)
		if _, _, err := l.CreateLoan(context.Background(), req); !errors.Is(err, engine.ErrInvalidScheduleInput) {
			t.Errorf("case %d: expected ErrInvalidScheduleInput, got %v", i, err)
		}
	}
	if len(s.loans) != 0 {
		t.Errorf("Expected nothing persisted, got %d loans", len(s.loans))
	}

	if _, _, err := l.CreateLoan(context.Background(), newLoanRequest(uuid.New())); !errors.Is(err, store.ErrClientNotFound) {
		t.Errorf("Expected ErrClientNotFound, got %v", err)
	}
}

func TestCreateLoan_CompensatesFailedSchedule(t *testing.T) {
	l, s, hook := newTestLedger(t)
	client := seedClient(t, l)
	insertErr := errors.New("disk full")
	s.failCreateInstallments = insertErr

	loan, _, err := l.CreateLoan(context.Background(), newLoanRequest(client.ID))
	if loan != nil {
		t.Errorf("Expected no loan, got %v", loan)
	}
	if !errors.Is(err, ErrOrphanSchedule) || !errors.Is(err, insertErr) {
		t.Fatalf("Expected orphan schedule error wrapping the insert error, got %v", err)
	}
	if len(s.loans) != 0 {
		t.Errorf("Expected compensating delete to leave no loans, got %d", len(s.loans))
	}

	var orphan *OrphanScheduleError
	if !errors.As(err, &orphan) || orphan.RollbackErr != nil {
		t.Errorf("Expected a clean rollback, got %+v", orphan)
	}
	if entry := hook.LastEntry(); entry == nil || entry.Level != logrus.WarnLevel {
		t.Errorf("Expected a warning about the removed loan, got %v", entry)
	}
}

func TestCreateLoan_ReportsFailedRollback(t *testing.T) {
	l, s, hook := newTestLedger(t)
	client := seedClient(t, l)
	s.failCreateInstallments = errors.New("disk full")
	s.failDeleteLoan = errors.New("connection reset")

	_, _, err := l.CreateLoan(context.Background(), newLoanRequest(client.ID))
	var orphan *OrphanScheduleError
	if !errors.As(err, &orphan) {
		t.Fatalf("Expected *OrphanScheduleError, got %v", err)
	}
	if !errors.Is(err, s.failDeleteLoan) {
		t.Errorf("Expected the rollback error to be wrapped, got %v", err)
	}
	if entry := hook.LastEntry(); entry == nil || entry.Level != logrus.ErrorLevel {
		t.Errorf("Expected an error log for the orphan, got %v", entry)
	}
}

func TestCreateLoan_CompensatesAfterCancel(t *testing.T) {
	l, s, _ := newTestLedger(t)
	client := seedClient(t, l)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// The caller goes away while the schedule is being written.
	s.onCreateInstallments = cancel

	_, _, err := l.CreateLoan(ctx, newLoanRequest(client.ID))
	if !errors.Is(err, ErrOrphanSchedule) || !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected orphan schedule error wrapping context.Canceled, got %v", err)
	}
	var orphan *OrphanScheduleError
	if !errors.As(err, &orphan) || orphan.RollbackErr != nil {
		t.Errorf("Expected the compensating delete to succeed, got %+v", orphan)
	}
	if len(s.loans) != 0 {
		t.Errorf("Expected no loans left, got %d", len(s.loans))
	}
}

func TestPayInstallment(t *testing.T) {
	l, s, _ := newTestLedger(t)
	client := seedClient(t, l)
	loan, schedule, _ := l.CreateLoan(context.Background(), newLoanRequest(client.ID))

	// Due 2024-03-05, paid on 2024-04-15 10:00: 41 days and 10 hours late.
	receipt, err := l.PayInstallment(context.Background(), schedule[0].ID)
	if err != nil {
		t.Fatalf("Failed to pay installment: %v", err)
	}
	if receipt.Accrual.OverdueDays != 42 {
		t.Errorf("Expected 42 overdue days, got %d", receipt.Accrual.OverdueDays)
	}
	if receipt.Installment.Status != models.InstallmentStatusPaid || receipt.Installment.PaidAt == nil {
		t.Errorf("Expected paid installment with paid_at, got %+v", receipt.Installment)
	}
	if calendar.FormatISO(*receipt.Installment.PaidAt) != "2024-04-15" {
		t.Errorf("Expected paid_at 2024-04-15, got %s", receipt.Installment.PaidAt)
	}
	if receipt.Loan.Status != models.LoanStatusActive {
		t.Errorf("Expected loan still active, got %s", receipt.Loan.Status)
	}

	if _, err := l.PayInstallment(context.Background(), schedule[0].ID); !errors.Is(err, ErrInstallmentPaid) {
		t.Errorf("Expected ErrInstallmentPaid, got %v", err)
	}

	l.PayInstallment(context.Background(), schedule[1].ID)
	receipt, err = l.PayInstallment(context.Background(), schedule[2].ID)
	if err != nil {
		t.Fatalf("Failed to pay last installment: %v", err)
	}
	if receipt.Loan.Status != models.LoanStatusSettled {
		t.Errorf("Expected status settled, got %s", receipt.Loan.Status)
	}
	if s.loans[loan.ID].Status != models.LoanStatusSettled {
		t.Errorf("Expected settled status persisted, got %s", s.loans[loan.ID].Status)
	}
}

func TestPayInstallment_ClearsOverdueMarkers(t *testing.T) {
	l, s, _ := newTestLedger(t)
	client := seedClient(t, l)
	_, schedule, _ := l.CreateLoan(context.Background(), newLoanRequest(client.ID))

	if _, err := l.AccrueInstallment(context.Background(), schedule[0].ID, true); err != nil {
		t.Fatalf("Failed to accrue: %v", err)
	}
	if s.installments[schedule[0].ID].Status != models.InstallmentStatusOverdue {
		t.Fatalf("Expected overdue after persisted accrual")
	}

	if _, err := l.PayInstallment(context.Background(), schedule[0].ID); err != nil {
		t.Fatalf("Failed to pay: %v", err)
	}
	inst := s.installments[schedule[0].ID]
	if inst.Status != models.InstallmentStatusPaid || !inst.MoraInterestApplied.IsZero() || !inst.LateFeeApplied.IsZero() {
		t.Errorf("Expected paid with cleared markers, got %+v", inst)
	}
}

func TestPayInstallment_LocksLoan(t *testing.T) {
	l, s, _ := newTestLedger(t)
	client := seedClient(t, l)
	loan, schedule, _ := l.CreateLoan(context.Background(), newLoanRequest(client.ID))

	if _, err := l.PayInstallment(context.Background(), schedule[0].ID); err != nil {
		t.Fatalf("Failed to pay: %v", err)
	}
	if _, err := l.AccrueInstallment(context.Background(), schedule[1].ID, true); err != nil {
		t.Fatalf("Failed to accrue: %v", err)
	}
	if len(s.locked) != 2 || s.locked[0] != loan.ID || s.locked[1] != loan.ID {
		t.Errorf("Expected the loan locked by both the payment and the accrual, got %v", s.locked)
	}
	if !s.installments[schedule[0].ID].UpdatedAt.Equal(today) || !s.installments[schedule[1].ID].UpdatedAt.Equal(today) {
		t.Errorf("Expected updated_at from the ledger clock")
	}
}

func TestAccrueInstallment(t *testing.T) {
	l, s, _ := newTestLedger(t)
	client := seedClient(t, l)
	_, schedule, _ := l.CreateLoan(context.Background(), newLoanRequest(client.ID))

	view, err := l.AccrueInstallment(context.Background(), schedule[0].ID, false)
	if err != nil {
		t.Fatalf("Failed to accrue: %v", err)
	}
	// 1050 * (1.01^42 - 1) and 2% of 1050
	amount := decimal.NewFromInt(1050)
	wantMora := amount.Mul(decimal.RequireFromString("1.01").Pow(decimal.NewFromInt(42)).Sub(decimal.NewFromInt(1))).Round(2)
	if !view.Accrual.MoraInterest.Equal(wantMora) {
		t.Errorf("Expected mora %s, got %s", wantMora, view.Accrual.MoraInterest)
	}
	if view.Accrual.LateFee.StringFixed(2) != "21.00" {
		t.Errorf("Expected late fee 21.00, got %s", view.Accrual.LateFee)
	}
	if s.applied != 0 || s.installments[schedule[0].ID].Status != models.InstallmentStatusPending {
		t.Errorf("Expected no persistence without persist flag")
	}

	again, _ := l.AccrueInstallment(context.Background(), schedule[0].ID, false)
	if !again.Accrual.Total.Equal(view.Accrual.Total) {
		t.Errorf("Expected identical totals, got %s and %s", view.Accrual.Total, again.Accrual.Total)
	}

	// Not yet due: nothing persisted even when asked.
	future, err := l.AccrueInstallment(context.Background(), schedule[2].ID, true)
	if err != nil {
		t.Fatalf("Failed to accrue future installment: %v", err)
	}
	if future.Accrual.Overdue() || s.applied != 0 {
		t.Errorf("Expected no accrual on a future installment")
	}

	persisted, err := l.AccrueInstallment(context.Background(), schedule[0].ID, true)
	if err != nil {
		t.Fatalf("Failed to persist accrual: %v", err)
	}
	if persisted.Status != models.InstallmentStatusOverdue || !s.installments[schedule[0].ID].MoraInterestApplied.Equal(wantMora) {
		t.Errorf("Expected persisted overdue accrual, got %+v", s.installments[schedule[0].ID])
	}
}

func TestAccrueInstallment_DiscardsStaleAccrual(t *testing.T) {
	l, s, _ := newTestLedger(t)
	client := seedClient(t, l)
	_, schedule, _ := l.CreateLoan(context.Background(), newLoanRequest(client.ID))

	// Another actor pays between the read and the write.
	s.beforeApplyAccrual = func(id uuid.UUID) {
		s.MarkInstallmentPaid(context.Background(), id, today)
	}
	_, err := l.AccrueInstallment(context.Background(), schedule[0].ID, true)
	if !errors.Is(err, ErrStaleAccrual) {
		t.Fatalf("Expected ErrStaleAccrual, got %v", err)
	}
	inst := s.installments[schedule[0].ID]
	if inst.Status != models.InstallmentStatusPaid || !inst.MoraInterestApplied.IsZero() {
		t.Errorf("Expected the paid installment untouched, got %+v", inst)
	}
}

func TestRefreshOverdue(t *testing.T) {
	l, s, _ := newTestLedger(t)
	client := seedClient(t, l)
	req := newLoanRequest(client.ID)
	req.InstallmentsCount = 4
	// Due 03-15, 04-15 (today, already past midnight), 05-15, 06-15.
	req.FirstDueDate = calendar.Date(2024, time.March, 15)
	_, schedule, _ := l.CreateLoan(context.Background(), req)

	summary, err := l.RefreshOverdue(context.Background())
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if summary.Scanned != 2 || summary.Updated != 2 || summary.Stale != 0 {
		t.Errorf("Unexpected summary %+v", summary)
	}
	if s.installments[schedule[1].ID].Status != models.InstallmentStatusOverdue {
		t.Errorf("Expected installment due today to be overdue")
	}
	if s.installments[schedule[2].ID].Status != models.InstallmentStatusPending {
		t.Errorf("Expected future installment to stay pending")
	}

	// A second run overwrites with the same figures.
	first := s.installments[schedule[0].ID].MoraInterestApplied
	if _, err := l.RefreshOverdue(context.Background()); err != nil {
		t.Fatalf("Second refresh failed: %v", err)
	}
	if !s.installments[schedule[0].ID].MoraInterestApplied.Equal(first) {
		t.Errorf("Expected mora to be overwritten, not accumulated")
	}
}

func TestDashboardStats(t *testing.T) {
	l, _, _ := newTestLedger(t)
	client := seedClient(t, l)
	l.CreateLoan(context.Background(), newLoanRequest(client.ID))
	_, schedule, _ := l.CreateLoan(context.Background(), newLoanRequest(client.ID))
	for _, inst := range schedule {
		l.PayInstallment(context.Background(), inst.ID)
	}

	stats, err := l.DashboardStats(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	if stats.TotalClients != 1 || stats.ActiveLoans != 1 {
		t.Errorf("Unexpected counts %+v", stats)
	}
	// Installments due 03-05 and 04-05 of the active loan are late.
	if stats.PendingCollections != 2 {
		t.Errorf("Expected 2 pending collections, got %d", stats.PendingCollections)
	}
	if stats.TotalOutstanding.StringFixed(2) != "3150.00" {
		t.Errorf("Expected outstanding 3150.00, got %s", stats.TotalOutstanding)
	}
}

func TestUpdateLoan(t *testing.T) {
	l, _, _ := newTestLedger(t)
	client := seedClient(t, l)
	loan, schedule, _ := l.CreateLoan(context.Background(), newLoanRequest(client.ID))

	before, _ := l.AccrueInstallment(context.Background(), schedule[0].ID, false)

	zero := decimal.Zero
	place := "Loja centro"
	updated, err := l.UpdateLoan(context.Background(), loan.ID, LoanUpdate{MoraInterestRate: &zero, PaymentPlace: &place})
	if err != nil {
		t.Fatalf("Failed to update loan: %v", err)
	}
	if !updated.MoraInterestRate.IsZero() || updated.PaymentPlace != place {
		t.Errorf("Unexpected loan after update: %+v", updated)
	}
	if !updated.LateFeeRate.Equal(decimal.NewFromInt(2)) {
		t.Errorf("Expected late fee untouched, got %s", updated.LateFeeRate)
	}

	after, _ := l.AccrueInstallment(context.Background(), schedule[0].ID, false)
	if !after.Accrual.MoraInterest.IsZero() || before.Accrual.MoraInterest.IsZero() {
		t.Errorf("Expected accrual recomputed from the new rate, got before %s after %s", before.Accrual.MoraInterest, after.Accrual.MoraInterest)
	}

	negative := decimal.NewFromInt(-1)
	if _, err := l.UpdateLoan(context.Background(), loan.ID, LoanUpdate{LateFeeRate: &negative}); !errors.Is(err, ErrInvalidUpdate) {
		t.Errorf("Expected ErrInvalidUpdate, got %v", err)
	}
}

func TestUpdateLoan_KeepsConcurrentSettlement(t *testing.T) {
	l, s, _ := newTestLedger(t)
	client := seedClient(t, l)
	req := newLoanRequest(client.ID)
	req.InstallmentsCount = 1
	loan, schedule, _ := l.CreateLoan(context.Background(), req)

	// The only installment is paid right after the edit has read the loan.
	paying := false
	s.onReadLoan = func(id uuid.UUID) {
		if paying {
			return
		}
		paying = true
		if _, err := l.PayInstallment(context.Background(), schedule[0].ID); err != nil {
			t.Errorf("Failed to pay: %v", err)
		}
	}

	fee := decimal.NewFromInt(3)
	if _, err := l.UpdateLoan(context.Background(), loan.ID, LoanUpdate{LateFeeRate: &fee}); err != nil {
		t.Fatalf("Failed to update loan: %v", err)
	}
	stored := s.loans[loan.ID]
	if stored.Status != models.LoanStatusSettled {
		t.Errorf("Expected the loan to stay settled, got %s", stored.Status)
	}
	if !stored.LateFeeRate.Equal(fee) {
		t.Errorf("Expected late fee 3, got %s", stored.LateFeeRate)
	}
}

func TestDashboardStats_AllOwners(t *testing.T) {
	l, _, _ := newTestLedger(t)
	client := seedClient(t, l)
	other, err := l.CreateClient(context.Background(), &models.Client{OwnerID: "owner-2", Name: "Maria Souza", CPF: "111.444.777-35"})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	l.CreateLoan(context.Background(), newLoanRequest(client.ID))
	l.CreateLoan(context.Background(), newLoanRequest(other.ID))

	stats, err := l.DashboardStats(context.Background(), "")
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	if stats.TotalClients != 2 || stats.ActiveLoans != 2 || stats.PendingCollections != 4 {
		t.Errorf("Expected every owner counted, got %+v", stats)
	}
}

func TestGetLoanDetail(t *testing.T) {
	l, _, _ := newTestLedger(t)
	client := seedClient(t, l)
	loan, _, _ := l.CreateLoan(context.Background(), newLoanRequest(client.ID))

	detail, err := l.GetLoanDetail(context.Background(), loan.ID)
	if err != nil {
		t.Fatalf("Failed to get detail: %v", err)
	}
	if detail.Client.ID != client.ID || len(detail.Installments) != 3 {
		t.Fatalf("Unexpected detail %+v", detail)
	}
	if detail.DisplayStatus != models.LoanStatusOverdue {
		t.Errorf("Expected display status overdue, got %s", detail.DisplayStatus)
	}
	if detail.Loan.Status != models.LoanStatusActive {
		t.Errorf("Expected persisted status to stay active, got %s", detail.Loan.Status)
	}
	if !detail.Installments[0].Accrual.Overdue() || detail.Installments[2].Accrual.Overdue() {
		t.Errorf("Expected only past installments to accrue")
	}
}

func TestDeleteLoan(t *testing.T) {
	l, s, _ := newTestLedger(t)
	client := seedClient(t, l)
	loan, _, _ := l.CreateLoan(context.Background(), newLoanRequest(client.ID))

	if err := l.DeleteLoan(context.Background(), loan.ID); err != nil {
		t.Fatalf("Failed to delete loan: %v", err)
	}
	if len(s.installments) != 0 {
		t.Errorf("Expected installments deleted, got %d", len(s.installments))
	}
	if _, err := l.GetInstallments(context.Background(), loan.ID); !errors.Is(err, store.ErrLoanNotFound) {
		t.Errorf("Expected ErrLoanNotFound, got %v", err)
	}
}
