// Package format renders values for people: Brazilian currency, documents
// and dates. Nothing here feeds back into computed amounts.
package format

import (
	"regexp"
	"strings"
	"time"

	"github.com/mcclellann/sharkpro/pkg/models"
	"github.com/shopspring/decimal"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// BRL formats an amount as "R$ 1.234,56".
func BRL(d decimal.Decimal) string {
	fixed := d.Round(2).Abs().StringFixed(2)
	intPart, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	if d.Round(2).IsNegative() {
		b.WriteString("-")
	}
	b.WriteString("R$ ")
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	b.WriteByte(',')
	b.WriteString(frac)
	return b.String()
}

// Percent renders a rate as "2,5%".
func Percent(d decimal.Decimal) string {
	return strings.Replace(d.String(), ".", ",", 1) + "%"
}

// Date renders a civil date as dd/mm/yyyy.
func Date(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("02/01/2006")
}

// DateTime renders a timestamp the way pt-BR locales do.
func DateTime(t time.Time) string {
	return t.Format("02/01/2006, 15:04:05")
}

// Digits strips everything but 0-9.
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CPF masks an 11-digit CPF as 000.000.000-00. Anything else is returned cleaned.
func CPF(cpf string) string {
	c := Digits(cpf)
	if len(c) != 11 {
		return c
	}
	return c[:3] + "." + c[3:6] + "." + c[6:9] + "-" + c[9:]
}

// Phone masks 10 or 11 digit numbers as (00) 0000-0000 / (00) 00000-0000.
func Phone(phone string) string {
	c := Digits(phone)
	switch len(c) {
	case 11:
		return "(" + c[:2] + ") " + c[2:7] + "-" + c[7:]
	case 10:
		return "(" + c[:2] + ") " + c[2:6] + "-" + c[6:]
	}
	return phone
}

// CEP masks a postal code as 00000-000.
func CEP(cep string) string {
	c := Digits(cep)
	if len(c) != 8 {
		return c
	}
	return c[:5] + "-" + c[5:]
}

// ValidCPF checks length, repeated digits and both check digits.
func ValidCPF(cpf string) bool {
	c := Digits(cpf)
	if len(c) != 11 {
		return false
	}
	if strings.Count(c, c[:1]) == 11 {
		return false
	}
	return checkDigit(c[:9]) == int(c[9]-'0') && checkDigit(c[:10]) == int(c[10]-'0')
}

func checkDigit(prefix string) int {
	sum := 0
	weight := len(prefix) + 1
	for i := 0; i < len(prefix); i++ {
		sum += int(prefix[i]-'0') * (weight - i)
	}
	r := 11 - sum%11
	if r >= 10 {
		return 0
	}
	return r
}

func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// StatusText returns the pt-BR label for a loan or installment status.
func StatusText(status string) string {
	switch status {
	case string(models.LoanStatusActive):
		return "Ativo"
	case string(models.LoanStatusSettled):
		return "Liquidado"
	case string(models.InstallmentStatusPending):
		return "Pendente"
	case string(models.InstallmentStatusPaid):
		return "Pago"
	case string(models.InstallmentStatusOverdue):
		return "Atrasado"
	}
	return status
}
