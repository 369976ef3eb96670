package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/mcclellann/sharkpro/pkg/calendar"
	"github.com/mcclellann/sharkpro/pkg/models"
	"github.com/shopspring/decimal"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	db *sql.DB
	q  querier
	tx bool
}

// NewSQLiteStore creates a new SQLiteStore and initializes the database.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	// go-sqlite3 applies PRAGMAs per connection; one connection keeps them and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err = db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err = db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db, q: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	return s, nil
}

// initSchema creates the tables if they don't already exist.
// Decimals are stored as TEXT so no precision is lost; civil dates as YYYY-MM-DD.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		cpf TEXT NOT NULL,
		rg TEXT NOT NULL DEFAULT '',
		birth_date TEXT NOT NULL DEFAULT '',
		mother_name TEXT NOT NULL DEFAULT '',
		father_name TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		number TEXT NOT NULL DEFAULT '',
		complement TEXT NOT NULL DEFAULT '',
		neighborhood TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT '',
		cep TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE(owner_id, cpf)
	);
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		owner_id TEXT NOT NULL DEFAULT '',
		amount TEXT NOT NULL,
		interest_rate TEXT NOT NULL,
		mora_interest_rate TEXT NOT NULL DEFAULT '0',
		late_fee_rate TEXT NOT NULL DEFAULT '0',
		installments_count INTEGER NOT NULL,
		first_due_date TEXT NOT NULL,
		total_value TEXT NOT NULL,
		installment_value TEXT NOT NULL,
		payment_place TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY(client_id) REFERENCES clients(id)
	);
	CREATE TABLE IF NOT EXISTS installments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		installment_number INTEGER NOT NULL,
		due_date TEXT NOT NULL,
		amount TEXT NOT NULL,
		status TEXT NOT NULL,
		paid_at TEXT,
		mora_interest_applied TEXT NOT NULL DEFAULT '0',
		late_fee_applied TEXT NOT NULL DEFAULT '0',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE(loan_id, installment_number),
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE INDEX IF NOT EXISTS idx_installments_due ON installments(status, due_date);
	`
	_, err := s.db.Exec(schema)
	return err
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// Atomic runs fn against a transactional view of the store. Nested calls join the outer transaction.
func (s *SQLiteStore) Atomic(ctx context.Context, fn func(Storage) error) error {
	if s.tx {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&SQLiteStore{db: s.db, q: tx, tx: true}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const clientColumns = `id, owner_id, name, cpf, rg, birth_date, mother_name, father_name, phone, email, address, number, complement, neighborhood, city, state, cep, created_at, updated_at`

// CreateClient inserts a new client.
func (s *SQLiteStore) CreateClient(ctx context.Context, c *models.Client) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO clients (`+clientColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID.String(), c.OwnerID, c.Name, c.CPF, c.RG, c.BirthDate, c.MotherName, c.FatherName, c.Phone, c.Email,
		c.Address, c.Number, c.Complement, c.Neighborhood, c.City, c.State, c.CEP, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateCPF
		}
		return fmt.Errorf("failed to create client: %w", err)
	}
	return nil
}

// GetClient retrieves a client by its ID.
func (s *SQLiteStore) GetClient(ctx context.Context, id uuid.UUID) (*models.Client, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = ?`, id.String())
	c, err := scanClient(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return c, nil
}

// GetClientByCPF looks a client up by exact CPF digits.
func (s *SQLiteStore) GetClientByCPF(ctx context.Context, ownerID, cpf string) (*models.Client, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE owner_id = ? AND cpf = ?`, ownerID, cpf)
	c, err := scanClient(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client by cpf: %w", err)
	}
	return c, nil
}

// UpdateClient updates an existing client.
func (s *SQLiteStore) UpdateClient(ctx context.Context, c *models.Client) error {
	result, err := s.q.ExecContext(ctx,
		`UPDATE clients SET name = ?, cpf = ?, rg = ?, birth_date = ?, mother_name = ?, father_name = ?, phone = ?, email = ?, address = ?, number = ?, complement = ?, neighborhood = ?, city = ?, state = ?, cep = ?, updated_at = ? WHERE id = ?`,
		c.Name, c.CPF, c.RG, c.BirthDate, c.MotherName, c.FatherName, c.Phone, c.Email, c.Address, c.Number,
		c.Complement, c.Neighborhood, c.City, c.State, c.CEP, c.UpdatedAt, c.ID.String(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateCPF
		}
		return fmt.Errorf("failed to update client: %w", err)
	}
	return expectOne(result, ErrClientNotFound)
}

// DeleteClient removes a client with all of its loans and installments.
func (s *SQLiteStore) DeleteClient(ctx context.Context, id uuid.UUID) error {
	return s.Atomic(ctx, func(st Storage) error {
		tx := st.(*SQLiteStore)
		if _, err := tx.q.ExecContext(ctx, `DELETE FROM installments WHERE loan_id IN (SELECT id FROM loans WHERE client_id = ?)`, id.String()); err != nil {
			return fmt.Errorf("failed to delete client installments: %w", err)
		}
		if _, err := tx.q.ExecContext(ctx, `DELETE FROM loans WHERE client_id = ?`, id.String()); err != nil {
			return fmt.Errorf("failed to delete client loans: %w", err)
		}
		result, err := tx.q.ExecContext(ctx, `DELETE FROM clients WHERE id = ?`, id.String())
		if err != nil {
			return fmt.Errorf("failed to delete client: %w", err)
		}
		return expectOne(result, ErrClientNotFound)
	})
}

// ListClients returns clients newest first.
func (s *SQLiteStore) ListClients(ctx context.Context, f ClientFilter) ([]*models.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients WHERE owner_id = ?`
	args := []any{f.OwnerID}
	if f.Name != "" {
		query += ` AND name LIKE ?`
		args = append(args, "%"+f.Name+"%")
	}
	if f.CPF != "" {
		query += ` AND cpf LIKE ?`
		args = append(args, "%"+f.CPF+"%")
	}
	query += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, offset(f.Page, f.Limit))
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()

	var clients []*models.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan client row: %w", err)
		}
		clients = append(clients, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return clients, nil
}

// CountClients counts the clients of an owner, or of every owner when ownerID is empty.
func (s *SQLiteStore) CountClients(ctx context.Context, ownerID string) (int, error) {
	query := `SELECT COUNT(*) FROM clients`
	var args []any
	if ownerID != "" {
		query += ` WHERE owner_id = ?`
		args = append(args, ownerID)
	}
	var n int
	if err := s.q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count clients: %w", err)
	}
	return n, nil
}

const loanColumns = `l.id, l.client_id, l.owner_id, l.amount, l.interest_rate, l.mora_interest_rate, l.late_fee_rate, l.installments_count, l.first_due_date, l.total_value, l.installment_value, l.payment_place, l.status, l.created_at, l.updated_at`

// CreateLoan inserts a new loan into the database.
func (s *SQLiteStore) CreateLoan(ctx context.Context, loan *models.Loan) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO loans (id, client_id, owner_id, amount, interest_rate, mora_interest_rate, late_fee_rate, installments_count, first_due_date, total_value, installment_value, payment_place, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID.String(), loan.ClientID.String(), loan.OwnerID, loan.Amount, loan.InterestRate, loan.MoraInterestRate, loan.LateFeeRate,
		loan.InstallmentsCount, calendar.FormatISO(loan.FirstDueDate), loan.TotalValue, loan.InstallmentValue, loan.PaymentPlace,
		string(loan.Status), loan.CreatedAt, loan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}
	return nil
}

// GetLoan retrieves a loan by its ID.
func (s *SQLiteStore) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans l WHERE l.id = ?`, id.String())
	loan, err := scanLoan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLoanNotFound
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return loan, nil
}

// LockLoan reads a loan. The single connection already serializes
// transactions, so no row lock is needed.
func (s *SQLiteStore) LockLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	return s.GetLoan(ctx, id)
}

// UpdateLoan updates the editable terms of an existing loan.
func (s *SQLiteStore) UpdateLoan(ctx context.Context, loan *models.Loan) error {
	result, err := s.q.ExecContext(ctx,
		`UPDATE loans SET mora_interest_rate = ?, late_fee_rate = ?, payment_place = ?, updated_at = ? WHERE id = ?`,
		loan.MoraInterestRate, loan.LateFeeRate, loan.PaymentPlace, loan.UpdatedAt, loan.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	return expectOne(result, ErrLoanNotFound)
}

// SetLoanStatus stores a resolved loan status.
func (s *SQLiteStore) SetLoanStatus(ctx context.Context, id uuid.UUID, status models.LoanStatus, updatedAt time.Time) error {
	result, err := s.q.ExecContext(ctx, `UPDATE loans SET status = ?, updated_at = ? WHERE id = ?`, string(status), updatedAt, id.String())
	if err != nil {
		return fmt.Errorf("failed to set loan status: %w", err)
	}
	return expectOne(result, ErrLoanNotFound)
}

// DeleteLoan removes a loan and its installments within a transaction.
func (s *SQLiteStore) DeleteLoan(ctx context.Context, id uuid.UUID) error {
	return s.Atomic(ctx, func(st Storage) error {
		tx := st.(*SQLiteStore)
		if _, err := tx.q.ExecContext(ctx, `DELETE FROM installments WHERE loan_id = ?`, id.String()); err != nil {
			return fmt.Errorf("failed to delete associated installments: %w", err)
		}
		result, err := tx.q.ExecContext(ctx, `DELETE FROM loans WHERE id = ?`, id.String())
		if err != nil {
			return fmt.Errorf("failed to delete loan: %w", err)
		}
		return expectOne(result, ErrLoanNotFound)
	})
}

// ListLoans returns loans newest first.
func (s *SQLiteStore) ListLoans(ctx context.Context, f LoanFilter) ([]*models.Loan, error) {
	var where []string
	var args []any
	if f.OwnerID != "" {
		where = append(where, `l.owner_id = ?`)
		args = append(args, f.OwnerID)
	}
	if f.ClientID != uuid.Nil {
		where = append(where, `l.client_id = ?`)
		args = append(args, f.ClientID.String())
	}
	if f.ClientCPF != "" {
		where = append(where, `c.cpf = ?`)
		args = append(args, f.ClientCPF)
	}
	if f.Status != "" {
		where = append(where, `l.status = ?`)
		args = append(args, string(f.Status))
	}

	query := `SELECT ` + loanColumns + ` FROM loans l JOIN clients c ON c.id = l.client_id`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY l.created_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, offset(f.Page, f.Limit))
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	defer rows.Close()

	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return loans, nil
}

const installmentColumns = `i.id, i.loan_id, i.installment_number, i.due_date, i.amount, i.status, i.paid_at, i.mora_interest_applied, i.late_fee_applied, i.created_at, i.updated_at`

// CreateInstallments inserts a generated schedule in one transaction.
func (s *SQLiteStore) CreateInstallments(ctx context.Context, installments []*models.Installment) error {
	return s.Atomic(ctx, func(st Storage) error {
		tx := st.(*SQLiteStore)
		for _, inst := range installments {
			_, err := tx.q.ExecContext(ctx,
				`INSERT INTO installments (id, loan_id, installment_number, due_date, amount, status, paid_at, mora_interest_applied, late_fee_applied, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				inst.ID.String(), inst.LoanID.String(), inst.InstallmentNumber, calendar.FormatISO(inst.DueDate), inst.Amount,
				string(inst.Status), nullDate(inst.PaidAt), inst.MoraInterestApplied, inst.LateFeeApplied, inst.CreatedAt, inst.UpdatedAt,
			)
			if err != nil {
				return fmt.Errorf("failed to create installment %d: %w", inst.InstallmentNumber, err)
			}
		}
		return nil
	})
}

// GetInstallment retrieves an installment by its ID.
func (s *SQLiteStore) GetInstallment(ctx context.Context, id uuid.UUID) (*models.Installment, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+installmentColumns+` FROM installments i WHERE i.id = ?`, id.String())
	inst, err := scanInstallment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInstallmentNotFound
		}
		return nil, fmt.Errorf("failed to get installment: %w", err)
	}
	return inst, nil
}

// GetInstallmentsForLoan retrieves the schedule of a loan in installment order.
func (s *SQLiteStore) GetInstallmentsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.Installment, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+installmentColumns+` FROM installments i WHERE i.loan_id = ? ORDER BY i.installment_number ASC`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get installments for loan %s: %w", loanID, err)
	}
	defer rows.Close()
	return collectInstallments(rows)
}

// MarkInstallmentPaid records the payment of an installment.
func (s *SQLiteStore) MarkInstallmentPaid(ctx context.Context, id uuid.UUID, paidAt time.Time) error {
	result, err := s.q.ExecContext(ctx,
		`UPDATE installments SET status = ?, paid_at = ?, mora_interest_applied = '0', late_fee_applied = '0', updated_at = ? WHERE id = ? AND status <> ?`,
		string(models.InstallmentStatusPaid), calendar.FormatISO(paidAt), paidAt, id.String(), string(models.InstallmentStatusPaid),
	)
	if err != nil {
		return fmt.Errorf("failed to mark installment paid: %w", err)
	}
	return s.explainMiss(ctx, result, id, ErrAlreadyPaid)
}

// ApplyAccrual persists an accrual unless the installment has been paid.
func (s *SQLiteStore) ApplyAccrual(ctx context.Context, id uuid.UUID, mora, lateFee decimal.Decimal, at time.Time) error {
	result, err := s.q.ExecContext(ctx,
		`UPDATE installments SET status = ?, mora_interest_applied = ?, late_fee_applied = ?, updated_at = ? WHERE id = ? AND status <> ?`,
		string(models.InstallmentStatusOverdue), mora, lateFee, at, id.String(), string(models.InstallmentStatusPaid),
	)
	if err != nil {
		return fmt.Errorf("failed to apply accrual: %w", err)
	}
	return s.explainMiss(ctx, result, id, ErrStaleAccrual)
}

// explainMiss turns a conditional update that touched no row into either
// not-found or the given conflict error.
func (s *SQLiteStore) explainMiss(ctx context.Context, result sql.Result, id uuid.UUID, conflict error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := s.GetInstallment(ctx, id); err != nil {
		return err
	}
	return conflict
}

// ListOverdueInstallments returns unpaid installments due before the given date.
func (s *SQLiteStore) ListOverdueInstallments(ctx context.Context, ownerID string, before time.Time) ([]*models.Installment, error) {
	query := `SELECT ` + installmentColumns + ` FROM installments i JOIN loans l ON l.id = i.loan_id WHERE i.status IN (?, ?) AND i.due_date < ?`
	args := []any{string(models.InstallmentStatusPending), string(models.InstallmentStatusOverdue), calendar.FormatISO(before)}
	if ownerID != "" {
		query += ` AND l.owner_id = ?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY i.due_date ASC, i.installment_number ASC`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue installments: %w", err)
	}
	defer rows.Close()
	return collectInstallments(rows)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanClient(row scanner) (*models.Client, error) {
	var c models.Client
	var id string
	err := row.Scan(&id, &c.OwnerID, &c.Name, &c.CPF, &c.RG, &c.BirthDate, &c.MotherName, &c.FatherName, &c.Phone, &c.Email,
		&c.Address, &c.Number, &c.Complement, &c.Neighborhood, &c.City, &c.State, &c.CEP, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if c.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("bad client id %q: %w", id, err)
	}
	return &c, nil
}

func scanLoan(row scanner) (*models.Loan, error) {
	var loan models.Loan
	var id, clientID, firstDue, status string
	err := row.Scan(&id, &clientID, &loan.OwnerID, &loan.Amount, &loan.InterestRate, &loan.MoraInterestRate, &loan.LateFeeRate,
		&loan.InstallmentsCount, &firstDue, &loan.TotalValue, &loan.InstallmentValue, &loan.PaymentPlace, &status, &loan.CreatedAt, &loan.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if loan.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("bad loan id %q: %w", id, err)
	}
	if loan.ClientID, err = uuid.Parse(clientID); err != nil {
		return nil, fmt.Errorf("bad client id %q: %w", clientID, err)
	}
	if loan.FirstDueDate, err = calendar.ParseDate(firstDue); err != nil {
		return nil, err
	}
	loan.Status = models.LoanStatus(status)
	return &loan, nil
}

func scanInstallment(row scanner) (*models.Installment, error) {
	var inst models.Installment
	var id, loanID, due, status string
	var paidAt sql.NullString
	err := row.Scan(&id, &loanID, &inst.InstallmentNumber, &due, &inst.Amount, &status, &paidAt,
		&inst.MoraInterestApplied, &inst.LateFeeApplied, &inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if inst.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("bad installment id %q: %w", id, err)
	}
	if inst.LoanID, err = uuid.Parse(loanID); err != nil {
		return nil, fmt.Errorf("bad loan id %q: %w", loanID, err)
	}
	if inst.DueDate, err = calendar.ParseDate(due); err != nil {
		return nil, err
	}
	if paidAt.Valid && paidAt.String != "" {
		t, err := calendar.ParseDate(paidAt.String)
		if err != nil {
			return nil, err
		}
		inst.PaidAt = &t
	}
	inst.Status = models.InstallmentStatus(status)
	return &inst, nil
}

func collectInstallments(rows *sql.Rows) ([]*models.Installment, error) {
	var installments []*models.Installment
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan installment row: %w", err)
		}
		installments = append(installments, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return installments, nil
}

func nullDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return calendar.FormatISO(*t)
}

func expectOne(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
