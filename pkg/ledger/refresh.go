package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/mcclellann/sharkpro/pkg/calendar"
	"github.com/mcclellann/sharkpro/pkg/engine"
	"github.com/mcclellann/sharkpro/pkg/metrics"
	"github.com/mcclellann/sharkpro/pkg/models"
	"github.com/mcclellann/sharkpro/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// RefreshSummary counts what one RefreshOverdue run did.
type RefreshSummary struct {
	Scanned int `json:"scanned"`
	Updated int `json:"updated"`
	Stale   int `json:"stale"`
	Failed  int `json:"failed"`
}

// Stats is the dashboard summary of one account owner.
type Stats struct {
	TotalClients       int             `json:"total_clients"`
	ActiveLoans        int             `json:"active_loans"`
	PendingCollections int             `json:"pending_collections"`
	TotalOutstanding   decimal.Decimal `json:"total_outstanding"`
}

// ClientHistory is a client with every loan and installment it has.
type ClientHistory struct {
	Client *models.Client
	Loans  []LoanWithInstallments
}

type LoanWithInstallments struct {
	Loan         *models.Loan
	Installments []*models.Installment
}

// overdueCandidates lists unpaid installments that are overdue as of now.
func (l *Ledger) overdueCandidates(ctx context.Context, ownerID string) ([]*models.Installment, error) {
	now := l.clock.Now()
	// Installments due today are overdue as soon as the day has started.
	tomorrow := calendar.Civil(now).AddDate(0, 0, 1)
	candidates, err := l.storage.ListOverdueInstallments(ctx, ownerID, tomorrow)
	if err != nil {
		return nil, err
	}
	overdue := candidates[:0]
	for _, inst := range candidates {
		if engine.IsOverdue(inst, now) {
			overdue = append(overdue, inst)
		}
	}
	return overdue, nil
}

// RefreshOverdue recomputes and persists the accrual of every overdue
// installment. Each write overwrites the previous figures.
func (l *Ledger) RefreshOverdue(ctx context.Context) (RefreshSummary, error) {
	var summary RefreshSummary
	overdue, err := l.overdueCandidates(ctx, "")
	if err != nil {
		metrics.RefreshRuns.WithLabelValues("error").Inc()
		return summary, err
	}

	now := l.clock.Now()
	for _, inst := range overdue {
		summary.Scanned++
		metrics.Accruals.WithLabelValues("computed").Inc()
		_, err := l.persistAccrual(ctx, inst.ID, inst.LoanID, now)
		switch {
		case errors.Is(err, store.ErrStaleAccrual):
			summary.Stale++
		case err != nil:
			summary.Failed++
			l.logger.WithError(err).WithField("installment_id", inst.ID).Error("Error persisting accrual")
		default:
			summary.Updated++
		}
	}

	metrics.RefreshRuns.WithLabelValues("ok").Inc()
	l.logger.WithFields(logrus.Fields{
		"scanned": summary.Scanned,
		"updated": summary.Updated,
		"stale":   summary.Stale,
		"failed":  summary.Failed,
	}).Info("Overdue refresh complete")
	return summary, nil
}

// DashboardStats summarizes an owner's portfolio. An empty ownerID spans
// every owner.
func (l *Ledger) DashboardStats(ctx context.Context, ownerID string) (*Stats, error) {
	clients, err := l.storage.CountClients(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	active, err := l.storage.ListLoans(ctx, store.LoanFilter{OwnerID: ownerID, Status: models.LoanStatusActive})
	if err != nil {
		return nil, err
	}
	overdue, err := l.overdueCandidates(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		TotalClients:       clients,
		ActiveLoans:        len(active),
		PendingCollections: len(overdue),
		TotalOutstanding:   decimal.Zero,
	}
	for _, loan := range active {
		stats.TotalOutstanding = stats.TotalOutstanding.Add(loan.TotalValue)
	}
	return stats, nil
}

// ClientHistory loads a client with all loans and installments for reporting.
func (l *Ledger) ClientHistory(ctx context.Context, clientID uuid.UUID) (*ClientHistory, error) {
	client, err := l.storage.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	loans, err := l.storage.ListLoans(ctx, store.LoanFilter{ClientID: clientID})
	if err != nil {
		return nil, err
	}

	history := &ClientHistory{Client: client}
	for _, loan := range loans {
		installments, err := l.storage.GetInstallmentsForLoan(ctx, loan.ID)
		if err != nil {
			return nil, err
		}
		history.Loans = append(history.Loans, LoanWithInstallments{Loan: loan, Installments: installments})
	}
	return history, nil
}
