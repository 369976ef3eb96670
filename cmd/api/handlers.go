package main

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/mcclellann/sharkpro/pkg/calendar"
	"github.com/mcclellann/sharkpro/pkg/ledger"
	"github.com/mcclellann/sharkpro/pkg/models"
	"github.com/mcclellann/sharkpro/pkg/report"
	"github.com/mcclellann/sharkpro/pkg/store"
	"github.com/shopspring/decimal"
)

func (s *Server) createClientHandler(w http.ResponseWriter, r *http.Request) {
	var client models.Client
	if err := json.NewDecoder(r.Body).Decode(&client); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := s.ledger.CreateClient(r.Context(), &client)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) getClientHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "client")
	if !ok {
		return
	}
	client, err := s.ledger.GetClient(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, client)
}

func (s *Server) listClientsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, limit, ok := paging(w, r)
	if !ok {
		return
	}
	clients, err := s.ledger.ListClients(r.Context(), store.ClientFilter{
		OwnerID: q.Get("owner_id"),
		Name:    q.Get("name"),
		CPF:     q.Get("cpf"),
		Page:    page,
		Limit:   limit,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, clients)
}

func (s *Server) updateClientHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "client")
	if !ok {
		return
	}
	var client models.Client
	if err := json.NewDecoder(r.Body).Decode(&client); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := s.ledger.UpdateClient(r.Context(), id, &client)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteClientHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "client")
	if !ok {
		return
	}
	if err := s.ledger.DeleteClient(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) clientReportHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "client")
	if !ok {
		return
	}
	history, err := s.ledger.ClientHistory(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	loans := make([]report.LoanSnapshot, 0, len(history.Loans))
	for _, l := range history.Loans {
		loans = append(loans, report.FromLoan(l.Loan, l.Installments))
	}
	respondJSON(w, http.StatusOK, s.reports.Build(report.FromClient(history.Client), loans))
}

// loanRequest is the body of POST /loans. Dates are YYYY-MM-DD.
type loanRequest struct {
	ClientID          uuid.UUID       `json:"client_id"`
	Amount            decimal.Decimal `json:"amount"`
	InterestRate      decimal.Decimal `json:"interest_rate"`
	MoraInterestRate  decimal.Decimal `json:"mora_interest_rate"`
	LateFeeRate       decimal.Decimal `json:"late_fee_rate"`
	InstallmentsCount int             `json:"installments_count"`
	FirstDueDate      string          `json:"first_due_date"`
	PaymentPlace      string          `json:"payment_place"`
}

func (s *Server) createLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req loanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	due, err := calendar.ParseDate(req.FirstDueDate)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid first_due_date: "+err.Error())
		return
	}

	loan, installments, err := s.ledger.CreateLoan(r.Context(), ledger.NewLoan{
		ClientID:          req.ClientID,
		Amount:            req.Amount,
		InterestRate:      req.InterestRate,
		MoraInterestRate:  req.MoraInterestRate,
		LateFeeRate:       req.LateFeeRate,
		InstallmentsCount: req.InstallmentsCount,
		FirstDueDate:      due,
		PaymentPlace:      req.PaymentPlace,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, struct {
		Loan         *models.Loan          `json:"loan"`
		Installments []*models.Installment `json:"installments"`
	}{loan, installments})
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "loan")
	if !ok {
		return
	}
	detail, err := s.ledger.GetLoanDetail(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, detail)
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.LoanFilter{
		OwnerID:   q.Get("owner_id"),
		ClientCPF: q.Get("cpf"),
		Status:    models.LoanStatus(q.Get("status")),
	}
	var ok bool
	if filter.Page, filter.Limit, ok = paging(w, r); !ok {
		return
	}
	if raw := q.Get("client_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid client ID")
			return
		}
		filter.ClientID = id
	}

	loans, err := s.ledger.ListLoans(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, loans)
}

func (s *Server) updateLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "loan")
	if !ok {
		return
	}
	var upd ledger.LoanUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	loan, err := s.ledger.UpdateLoan(r.Context(), id, upd)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, loan)
}

func (s *Server) deleteLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "loan")
	if !ok {
		return
	}
	if err := s.ledger.DeleteLoan(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listInstallmentsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "loan")
	if !ok {
		return
	}
	installments, err := s.ledger.GetInstallments(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, installments)
}

func (s *Server) accrualHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "installment")
	if !ok {
		return
	}
	persist := r.URL.Query().Get("persist") == "true"
	view, err := s.ledger.AccrueInstallment(r.Context(), id, persist)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) payInstallmentHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "installment")
	if !ok {
		return
	}
	receipt, err := s.ledger.PayInstallment(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, receipt)
}

// statsHandler summarizes one owner, or every owner when owner_id is omitted.
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := s.ledger.DashboardStats(r.Context(), r.URL.Query().Get("owner_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// previewReportHandler builds a report from raw snapshots without touching
// storage, so historical or imported data can be checked before display.
func (s *Server) previewReportHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Client report.ClientSnapshot `json:"client"`
		Loans  []report.LoanSnapshot `json:"loans"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.reports.Build(req.Client, req.Loans))
}
