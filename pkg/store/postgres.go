package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcclellann/sharkpro/pkg/calendar"
	"github.com/mcclellann/sharkpro/pkg/models"
	"github.com/shopspring/decimal"
)

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PostgresStore keeps the ledger in PostgreSQL through a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
	q    pgQuerier
	tx   bool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	s := &PostgresStore{pool: pool, q: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	return s, nil
}

// Decimals are TEXT here as well, so both backends round-trip the exact same strings.
func (s *PostgresStore) initSchema(ctx context.Context) error {
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
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE(owner_id, cpf)
	);
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL REFERENCES clients(id),
		owner_id TEXT NOT NULL DEFAULT '',
		amount TEXT NOT NULL,
		interest_rate TEXT NOT NULL,
		mora_interest_rate TEXT NOT NULL DEFAULT '0',
		late_fee_rate TEXT NOT NULL DEFAULT '0',
		installments_count INTEGER NOT NULL,
		first_due_date DATE NOT NULL,
		total_value TEXT NOT NULL,
		installment_value TEXT NOT NULL,
		payment_place TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE IF NOT EXISTS installments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL REFERENCES loans(id),
		installment_number INTEGER NOT NULL,
		due_date DATE NOT NULL,
		amount TEXT NOT NULL,
		status TEXT NOT NULL,
		paid_at DATE,
		mora_interest_applied TEXT NOT NULL DEFAULT '0',
		late_fee_applied TEXT NOT NULL DEFAULT '0',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE(loan_id, installment_number)
	);
	CREATE INDEX IF NOT EXISTS idx_installments_due ON installments(status, due_date);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Atomic runs fn inside a READ COMMITTED pgx transaction. Nested calls join
// the outer transaction. Callers that read then write a loan's state take
// LockLoan first; each later statement then sees what the previous holder
// committed.
func (s *PostgresStore) Atomic(ctx context.Context, fn func(Storage) error) error {
	if s.tx {
		return fn(s)
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&PostgresStore{pool: s.pool, q: tx, tx: true}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// pgArgs numbers positional parameters as they are added.
type pgArgs []any

func (a *pgArgs) add(v any) string {
	*a = append(*a, v)
	return "$" + strconv.Itoa(len(*a))
}

func (s *PostgresStore) CreateClient(ctx context.Context, c *models.Client) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO clients (`+clientColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		c.ID.String(), c.OwnerID, c.Name, c.CPF, c.RG, c.BirthDate, c.MotherName, c.FatherName, c.Phone, c.Email,
		c.Address, c.Number, c.Complement, c.Neighborhood, c.City, c.State, c.CEP, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			return ErrDuplicateCPF
		}
		return fmt.Errorf("failed to create client: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetClient(ctx context.Context, id uuid.UUID) (*models.Client, error) {
	c, err := scanClient(s.q.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = $1`, id.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) GetClientByCPF(ctx context.Context, ownerID, cpf string) (*models.Client, error) {
	c, err := scanClient(s.q.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE owner_id = $1 AND cpf = $2`, ownerID, cpf))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client by cpf: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) UpdateClient(ctx context.Context, c *models.Client) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE clients SET name = $1, cpf = $2, rg = $3, birth_date = $4, mother_name = $5, father_name = $6, phone = $7, email = $8, address = $9, number = $10, complement = $11, neighborhood = $12, city = $13, state = $14, cep = $15, updated_at = $16 WHERE id = $17`,
		c.Name, c.CPF, c.RG, c.BirthDate, c.MotherName, c.FatherName, c.Phone, c.Email, c.Address, c.Number,
		c.Complement, c.Neighborhood, c.City, c.State, c.CEP, c.UpdatedAt, c.ID.String(),
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			return ErrDuplicateCPF
		}
		return fmt.Errorf("failed to update client: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrClientNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteClient(ctx context.Context, id uuid.UUID) error {
	return s.Atomic(ctx, func(st Storage) error {
		tx := st.(*PostgresStore)
		if _, err := tx.q.Exec(ctx, `DELETE FROM installments WHERE loan_id IN (SELECT id FROM loans WHERE client_id = $1)`, id.String()); err != nil {
			return fmt.Errorf("failed to delete client installments: %w", err)
		}
		if _, err := tx.q.Exec(ctx, `DELETE FROM loans WHERE client_id = $1`, id.String()); err != nil {
			return fmt.Errorf("failed to delete client loans: %w", err)
		}
		tag, err := tx.q.Exec(ctx, `DELETE FROM clients WHERE id = $1`, id.String())
		if err != nil {
			return fmt.Errorf("failed to delete client: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrClientNotFound
		}
		return nil
	})
}

func (s *PostgresStore) ListClients(ctx context.Context, f ClientFilter) ([]*models.Client, error) {
	var args pgArgs
	query := `SELECT ` + clientColumns + ` FROM clients WHERE owner_id = ` + args.add(f.OwnerID)
	if f.Name != "" {
		query += ` AND name ILIKE ` + args.add("%"+f.Name+"%")
	}
	if f.CPF != "" {
		query += ` AND cpf LIKE ` + args.add("%"+f.CPF+"%")
	}
	query += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ` + args.add(f.Limit) + ` OFFSET ` + args.add(offset(f.Page, f.Limit))
	}

	rows, err := s.q.Query(ctx, query, args...)
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

func (s *PostgresStore) CountClients(ctx context.Context, ownerID string) (int, error) {
	var args pgArgs
	query := `SELECT COUNT(*) FROM clients`
	if ownerID != "" {
		query += ` WHERE owner_id = ` + args.add(ownerID)
	}
	var n int
	if err := s.q.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count clients: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) CreateLoan(ctx context.Context, loan *models.Loan) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO loans (id, client_id, owner_id, amount, interest_rate, mora_interest_rate, late_fee_rate, installments_count, first_due_date, total_value, installment_value, payment_place, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		loan.ID.String(), loan.ClientID.String(), loan.OwnerID, loan.Amount.String(), loan.InterestRate.String(),
		loan.MoraInterestRate.String(), loan.LateFeeRate.String(), loan.InstallmentsCount, loan.FirstDueDate,
		loan.TotalValue.String(), loan.InstallmentValue.String(), loan.PaymentPlace, string(loan.Status), loan.CreatedAt, loan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}
	return nil
}

const pgLoanColumns = `l.id, l.client_id, l.owner_id, l.amount, l.interest_rate, l.mora_interest_rate, l.late_fee_rate, l.installments_count, l.first_due_date::text, l.total_value, l.installment_value, l.payment_place, l.status, l.created_at, l.updated_at`

func (s *PostgresStore) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	loan, err := scanLoan(s.q.QueryRow(ctx, `SELECT `+pgLoanColumns+` FROM loans l WHERE l.id = $1`, id.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLoanNotFound
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return loan, nil
}

// LockLoan takes the loan row with SELECT ... FOR UPDATE. Outside Atomic the
// lock is released as soon as the statement ends.
func (s *PostgresStore) LockLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	loan, err := scanLoan(s.q.QueryRow(ctx, `SELECT `+pgLoanColumns+` FROM loans l WHERE l.id = $1 FOR UPDATE`, id.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLoanNotFound
		}
		return nil, fmt.Errorf("failed to lock loan: %w", err)
	}
	return loan, nil
}

func (s *PostgresStore) UpdateLoan(ctx context.Context, loan *models.Loan) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE loans SET mora_interest_rate = $1, late_fee_rate = $2, payment_place = $3, updated_at = $4 WHERE id = $5`,
		loan.MoraInterestRate.String(), loan.LateFeeRate.String(), loan.PaymentPlace, loan.UpdatedAt, loan.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLoanNotFound
	}
	return nil
}

func (s *PostgresStore) SetLoanStatus(ctx context.Context, id uuid.UUID, status models.LoanStatus, updatedAt time.Time) error {
	tag, err := s.q.Exec(ctx, `UPDATE loans SET status = $1, updated_at = $2 WHERE id = $3`, string(status), updatedAt, id.String())
	if err != nil {
		return fmt.Errorf("failed to set loan status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLoanNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteLoan(ctx context.Context, id uuid.UUID) error {
	return s.Atomic(ctx, func(st Storage) error {
		tx := st.(*PostgresStore)
		if _, err := tx.q.Exec(ctx, `DELETE FROM installments WHERE loan_id = $1`, id.String()); err != nil {
			return fmt.Errorf("failed to delete associated installments: %w", err)
		}
		tag, err := tx.q.Exec(ctx, `DELETE FROM loans WHERE id = $1`, id.String())
		if err != nil {
			return fmt.Errorf("failed to delete loan: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrLoanNotFound
		}
		return nil
	})
}

func (s *PostgresStore) ListLoans(ctx context.Context, f LoanFilter) ([]*models.Loan, error) {
	var args pgArgs
	var where []string
	if f.OwnerID != "" {
		where = append(where, `l.owner_id = `+args.add(f.OwnerID))
	}
	if f.ClientID != uuid.Nil {
		where = append(where, `l.client_id = `+args.add(f.ClientID.String()))
	}
	if f.ClientCPF != "" {
		where = append(where, `c.cpf = `+args.add(f.ClientCPF))
	}
	if f.Status != "" {
		where = append(where, `l.status = `+args.add(string(f.Status)))
	}

	query := `SELECT ` + pgLoanColumns + ` FROM loans l JOIN clients c ON c.id = l.client_id`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY l.created_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ` + args.add(f.Limit) + ` OFFSET ` + args.add(offset(f.Page, f.Limit))
	}

	rows, err := s.q.Query(ctx, query, args...)
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

const pgInstallmentColumns = `i.id, i.loan_id, i.installment_number, i.due_date::text, i.amount, i.status, i.paid_at::text, i.mora_interest_applied, i.late_fee_applied, i.created_at, i.updated_at`

// CreateInstallments sends the whole schedule as one batch inside a transaction.
func (s *PostgresStore) CreateInstallments(ctx context.Context, installments []*models.Installment) error {
	return s.Atomic(ctx, func(st Storage) error {
		tx := st.(*PostgresStore)
		batch := &pgx.Batch{}
		for _, inst := range installments {
			batch.Queue(
				`INSERT INTO installments (id, loan_id, installment_number, due_date, amount, status, paid_at, mora_interest_applied, late_fee_applied, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
				inst.ID.String(), inst.LoanID.String(), inst.InstallmentNumber, inst.DueDate, inst.Amount.String(),
				string(inst.Status), inst.PaidAt, inst.MoraInterestApplied.String(), inst.LateFeeApplied.String(), inst.CreatedAt, inst.UpdatedAt,
			)
		}
		results := tx.q.SendBatch(ctx, batch)
		for _, inst := range installments {
			if _, err := results.Exec(); err != nil {
				results.Close()
				return fmt.Errorf("failed to create installment %d: %w", inst.InstallmentNumber, err)
			}
		}
		return results.Close()
	})
}

func (s *PostgresStore) GetInstallment(ctx context.Context, id uuid.UUID) (*models.Installment, error) {
	inst, err := scanInstallment(s.q.QueryRow(ctx, `SELECT `+pgInstallmentColumns+` FROM installments i WHERE i.id = $1`, id.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInstallmentNotFound
		}
		return nil, fmt.Errorf("failed to get installment: %w", err)
	}
	return inst, nil
}

func (s *PostgresStore) GetInstallmentsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.Installment, error) {
	rows, err := s.q.Query(ctx, `SELECT `+pgInstallmentColumns+` FROM installments i WHERE i.loan_id = $1 ORDER BY i.installment_number ASC`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get installments for loan %s: %w", loanID, err)
	}
	defer rows.Close()
	return collectPgInstallments(rows)
}

func (s *PostgresStore) MarkInstallmentPaid(ctx context.Context, id uuid.UUID, paidAt time.Time) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE installments SET status = $1, paid_at = $2, mora_interest_applied = '0', late_fee_applied = '0', updated_at = $3 WHERE id = $4 AND status <> $1`,
		string(models.InstallmentStatusPaid), calendar.Civil(paidAt), paidAt, id.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to mark installment paid: %w", err)
	}
	return s.explainMiss(ctx, tag, id, ErrAlreadyPaid)
}

func (s *PostgresStore) ApplyAccrual(ctx context.Context, id uuid.UUID, mora, lateFee decimal.Decimal, at time.Time) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE installments SET status = $1, mora_interest_applied = $2, late_fee_applied = $3, updated_at = $4 WHERE id = $5 AND status <> $6`,
		string(models.InstallmentStatusOverdue), mora.String(), lateFee.String(), at, id.String(), string(models.InstallmentStatusPaid),
	)
	if err != nil {
		return fmt.Errorf("failed to apply accrual: %w", err)
	}
	return s.explainMiss(ctx, tag, id, ErrStaleAccrual)
}

func (s *PostgresStore) explainMiss(ctx context.Context, tag pgconn.CommandTag, id uuid.UUID, conflict error) error {
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := s.GetInstallment(ctx, id); err != nil {
		return err
	}
	return conflict
}

func (s *PostgresStore) ListOverdueInstallments(ctx context.Context, ownerID string, before time.Time) ([]*models.Installment, error) {
	var args pgArgs
	query := `SELECT ` + pgInstallmentColumns + ` FROM installments i JOIN loans l ON l.id = i.loan_id WHERE i.status IN (` +
		args.add(string(models.InstallmentStatusPending)) + `, ` + args.add(string(models.InstallmentStatusOverdue)) +
		`) AND i.due_date < ` + args.add(calendar.Civil(before))
	if ownerID != "" {
		query += ` AND l.owner_id = ` + args.add(ownerID)
	}
	query += ` ORDER BY i.due_date ASC, i.installment_number ASC`

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue installments: %w", err)
	}
	defer rows.Close()
	return collectPgInstallments(rows)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func collectPgInstallments(rows pgx.Rows) ([]*models.Installment, error) {
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
