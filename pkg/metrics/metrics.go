// Package metrics registers the Prometheus collectors of the ledger and the API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sharkpro_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "route", "status"})

	HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sharkpro_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"method", "route"})

	LoansCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sharkpro_loans_created_total",
		Help: "Loans created with a complete schedule",
	})

	OrphanRollbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sharkpro_orphan_rollbacks_total",
		Help: "Loans deleted after their schedule failed to persist",
	}, []string{"result"})

	InstallmentsPaid = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sharkpro_installments_paid_total",
		Help: "Installments marked as paid",
	})

	Accruals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sharkpro_accruals_total",
		Help: "Overdue accruals by outcome",
	}, []string{"outcome"})

	RefreshRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sharkpro_overdue_refresh_runs_total",
		Help: "Overdue refresh job runs",
	}, []string{"result"})
)
