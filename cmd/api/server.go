package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/sharkpro/pkg/clock"
	"github.com/mcclellann/sharkpro/pkg/engine"
	"github.com/mcclellann/sharkpro/pkg/ledger"
	"github.com/mcclellann/sharkpro/pkg/metrics"
	"github.com/mcclellann/sharkpro/pkg/report"
	"github.com/mcclellann/sharkpro/pkg/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Server holds the ledger instance.
type Server struct {
	ledger  *ledger.Ledger
	reports *report.Builder
	storage store.Storage // Keep a reference to the storage to close it
	logger  *logrus.Logger
}

func NewServer(s store.Storage, c clock.Clock, logger *logrus.Logger) *Server {
	return &Server{
		ledger:  ledger.NewLedger(s, c, logger),
		reports: report.NewBuilder(c, logger),
		storage: s,
		logger:  logger,
	}
}

// Router registers every route of the API.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.instrument)

	router.HandleFunc("/clients", s.listClientsHandler).Methods("GET")
	router.HandleFunc("/clients", s.createClientHandler).Methods("POST")
	router.HandleFunc("/clients/{id}", s.getClientHandler).Methods("GET")
	router.HandleFunc("/clients/{id}", s.updateClientHandler).Methods("PUT")
	router.HandleFunc("/clients/{id}", s.deleteClientHandler).Methods("DELETE")
	router.HandleFunc("/clients/{id}/report", s.clientReportHandler).Methods("GET")

	router.HandleFunc("/loans", s.listLoansHandler).Methods("GET")
	router.HandleFunc("/loans", s.createLoanHandler).Methods("POST")
	router.HandleFunc("/loans/{id}", s.getLoanHandler).Methods("GET")
	router.HandleFunc("/loans/{id}", s.updateLoanHandler).Methods("PUT")
	router.HandleFunc("/loans/{id}", s.deleteLoanHandler).Methods("DELETE")
	router.HandleFunc("/loans/{id}/installments", s.listInstallmentsHandler).Methods("GET")

	router.HandleFunc("/installments/{id}/accrual", s.accrualHandler).Methods("GET")
	router.HandleFunc("/installments/{id}/pay", s.payInstallmentHandler).Methods("POST")

	router.HandleFunc("/stats", s.statsHandler).Methods("GET")
	router.HandleFunc("/reports/preview", s.previewReportHandler).Methods("POST")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	return router
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument records request counts and latency per route template.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		timer := prometheus.NewTimer(metrics.HTTPLatency.WithLabelValues(r.Method, route))
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		timer.ObserveDuration()
		metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"route":    route,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		}).Debug("Request handled")
	})
}

func respondJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, code int, msg string) {
	respondJSON(w, code, map[string]string{"error": msg})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrClientNotFound),
		errors.Is(err, store.ErrLoanNotFound),
		errors.Is(err, store.ErrInstallmentNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidScheduleInput),
		errors.Is(err, ledger.ErrInvalidClient),
		errors.Is(err, ledger.ErrInvalidUpdate):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrDuplicateCPF),
		errors.Is(err, ledger.ErrInstallmentPaid),
		errors.Is(err, ledger.ErrStaleAccrual):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.logger.WithError(err).WithField("path", r.URL.Path).Error("Request failed")
	}
	respondError(w, code, err.Error())
}

func pathID(w http.ResponseWriter, r *http.Request, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid "+what+" ID")
		return uuid.Nil, false
	}
	return id, true
}

const maxPageLimit = 200

// paging reads page and limit query parameters; limit defaults to 50. A
// limit above maxPageLimit is answered with 400.
func paging(w http.ResponseWriter, r *http.Request) (page, limit int, ok bool) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit > maxPageLimit {
		respondError(w, http.StatusBadRequest, "limit must not exceed "+strconv.Itoa(maxPageLimit))
		return 0, 0, false
	}
	if limit <= 0 {
		limit = 50
	}
	return page, limit, true
}
