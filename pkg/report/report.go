// Package report projects client and loan snapshots into a rendering-agnostic
// history document. It recomputes every figure from the snapshot with the
// same engine the ledger uses and never writes anything back.
package report

import (
	"fmt"
	"strconv"
	"time"

	"github.com/mcclellann/sharkpro/pkg/clock"
	"github.com/mcclellann/sharkpro/pkg/engine"
	"github.com/mcclellann/sharkpro/pkg/format"
	"github.com/mcclellann/sharkpro/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	Title        = "Relatório de Histórico do Cliente"
	EmptyHistory = "Nenhum empréstimo registrado para este cliente."

	notInformed    = "Não informado"
	notInformedF   = "Não informada"
	invalidValue   = "Valor inválido"
	invalidDate    = "Data inválida"
	invalidCount   = "Inválido"
	undefinedState = "Indefinido"
	noValue        = "---"
)

// TableHead is the column header of every installment table.
var TableHead = []string{"#", "Vencimento", "Valor", "Juros/Multa", "Total", "Status", "Data Pagto."}

var Terms = []string{
	"Declaro que todas as informações prestadas são verdadeiras e que estou ciente das condições",
	"do(s) empréstimo(s) acima descrito(s), incluindo taxas de juros, multas e encargos por atraso.",
	"Comprometo-me a cumprir com os pagamentos nas datas estabelecidas.",
}

var Signatures = []string{"Assinatura do Cliente", "Data"}

// Field is one label/value line. Invalid marks values that were missing or
// malformed in the snapshot and replaced by a placeholder.
type Field struct {
	Label   string `json:"label"`
	Value   string `json:"value"`
	Invalid bool   `json:"invalid,omitempty"`
}

type InstallmentRow struct {
	Number  int                      `json:"number"`
	DueDate time.Time                `json:"due_date"`
	Amount  decimal.Decimal          `json:"amount"`
	Status  models.InstallmentStatus `json:"status"`
	PaidAt  *time.Time               `json:"paid_at,omitempty"`
	Accrual models.Accrual           `json:"accrual"`
	// DueDateInvalid is set when the due date could not be parsed and no
	// fallback applied.
	DueDateInvalid bool `json:"due_date_invalid,omitempty"`
}

// Cells renders the row in TableHead order.
func (r InstallmentRow) Cells() []string {
	due := format.Date(r.DueDate)
	if r.DueDateInvalid {
		due = invalidDate
	}
	penalty, total := noValue, format.BRL(r.Amount)
	status := format.StatusText(string(r.Status))
	if r.Accrual.Overdue() {
		penalty = format.BRL(r.Accrual.MoraInterest.Add(r.Accrual.LateFee))
		total = format.BRL(r.Accrual.Total)
		status = format.StatusText(string(models.InstallmentStatusOverdue))
	}
	paid := noValue
	if r.PaidAt != nil {
		paid = format.Date(*r.PaidAt)
	}
	return []string{strconv.Itoa(r.Number), due, format.BRL(r.Amount), penalty, total, status, paid}
}

type LoanSection struct {
	Fields        []Field           `json:"fields"`
	DisplayStatus models.LoanStatus `json:"display_status"`
	Totals        engine.Totals     `json:"totals"`
	Rows          []InstallmentRow  `json:"rows"`
}

// Table returns the installment rows as text cells, header excluded.
func (s LoanSection) Table() [][]string {
	table := make([][]string, 0, len(s.Rows))
	for _, row := range s.Rows {
		table = append(table, row.Cells())
	}
	return table
}

type ClientReport struct {
	Title       string        `json:"title"`
	GeneratedAt time.Time     `json:"generated_at"`
	Client      []Field       `json:"client"`
	Loans       []LoanSection `json:"loans"`
	// Empty is the message shown instead of the loan history when there is none.
	Empty      string   `json:"empty,omitempty"`
	Terms      []string `json:"terms"`
	Signatures []string `json:"signatures"`
}

// GeneratedLabel is the "generated at" subtitle.
func (r *ClientReport) GeneratedLabel() string {
	return "Gerado em: " + format.DateTime(r.GeneratedAt)
}

// Footer is the page footer text for page i of n.
func Footer(i, n int) string {
	return fmt.Sprintf("SharkPro | Página %d de %d", i, n)
}

// Builder builds reports as of its clock's now.
type Builder struct {
	clock  clock.Clock
	logger *logrus.Logger
}

func NewBuilder(c clock.Clock, logger *logrus.Logger) *Builder {
	return &Builder{clock: c, logger: logger}
}

// Build projects a client with its loans. Inputs are not modified.
func (b *Builder) Build(client ClientSnapshot, loans []LoanSnapshot) *ClientReport {
	now := b.clock.Now()
	r := &ClientReport{
		Title:       Title,
		GeneratedAt: now,
		Client:      clientFields(client),
		Loans:       make([]LoanSection, 0, len(loans)),
		Terms:       Terms,
		Signatures:  Signatures,
	}
	if len(loans) == 0 {
		r.Empty = EmptyHistory
	}
	for _, loan := range loans {
		r.Loans = append(r.Loans, b.project(loan, now))
	}
	return r
}

// BuildLoan projects a single loan.
func (b *Builder) BuildLoan(loan LoanSnapshot) LoanSection {
	return b.project(loan, b.clock.Now())
}

func orDefault(v, def string) Field {
	if v == "" {
		return Field{Value: def}
	}
	return Field{Value: v}
}

func required(v string) Field {
	if v == "" {
		return Field{Value: notInformed, Invalid: true}
	}
	return Field{Value: v}
}

func labeled(label string, f Field) Field {
	f.Label = label
	return f
}

func clientFields(c ClientSnapshot) []Field {
	cpf, phone, cep := format.CPF(c.CPF), format.Phone(c.Phone), format.CEP(c.CEP)
	return []Field{
		labeled("Nome:", required(c.Name)),
		labeled("CPF:", required(cpf)),
		labeled("RG:", orDefault(c.RG, notInformed)),
		labeled("Data de Nascimento:", orDefault(c.BirthDate, notInformedF)),
		labeled("Nome da Mãe:", orDefault(c.MotherName, notInformed)),
		labeled("Nome do Pai:", orDefault(c.FatherName, notInformed)),
		labeled("Telefone:", orDefault(phone, notInformed)),
		labeled("Email:", orDefault(c.Email, notInformed)),
		labeled("Endereço:", orDefault(c.Address, notInformed)),
		labeled("Número:", orDefault(c.Number, "S/N")),
		labeled("Complemento:", orDefault(c.Complement, notInformed)),
		labeled("Bairro:", orDefault(c.Neighborhood, notInformed)),
		labeled("Cidade:", orDefault(c.City, notInformedF)),
		labeled("Estado:", orDefault(c.State, notInformed)),
		labeled("CEP:", orDefault(cep, notInformed)),
	}
}
