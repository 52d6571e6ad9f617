package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ogulcanaydogan/LLM-Cost-Meter/pkg/model"
)

// budgetRequest mirrors model.Budget with an optional Enabled flag so new
// budgets default to enabled.
type budgetRequest struct {
	Name       string                  `json:"name"`
	LimitUSD   float64                 `json:"limit_usd"`
	Period     model.BudgetPeriod      `json:"period"`
	Thresholds []float64               `json:"thresholds"`
	Action     model.EnforcementAction `json:"action"`
	Scope      *model.BudgetScope      `json:"scope,omitempty"`
	Enabled    *bool                   `json:"enabled,omitempty"`
}

func (req budgetRequest) budget() model.Budget {
	b := model.Budget{
		Name:       req.Name,
		LimitUSD:   req.LimitUSD,
		Period:     req.Period,
		Thresholds: req.Thresholds,
		Action:     req.Action,
		Scope:      req.Scope,
		Enabled:    true,
	}
	if req.Enabled != nil {
		b.Enabled = *req.Enabled
	}
	return b
}

// requireBudgets answers 501 when the tracker runs without a budget manager.
func (s *Server) requireBudgets(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.tracker.Budgets() == nil {
			writeError(w, http.StatusNotImplemented, "budgets are not enabled")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleListBudgets(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var (
		budgets []model.Budget
		err     error
	)
	if r.URL.Query().Has("scope_id") {
		budgets, err = s.tracker.Budgets().GetBudgetsByScope(ctx, r.URL.Query().Get("scope_id"))
	} else {
		budgets, err = s.tracker.Budgets().GetAllBudgets(ctx)
	}
	if err != nil {
		s.fail(w, "list budgets", err)
		return
	}
	if budgets == nil {
		budgets = []model.Budget{}
	}
	writeJSON(w, http.StatusOK, budgets)
}

func (s *Server) handleCreateBudget(w http.ResponseWriter, r *http.Request) {
	var req budgetRequest
	if !s.decode(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	budget, err := s.tracker.Budgets().CreateBudget(ctx, req.budget())
	if err != nil {
		s.fail(w, "create budget", err)
		return
	}
	writeJSON(w, http.StatusCreated, budget)
}

func (s *Server) handleGetBudget(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	budget, err := s.tracker.Budgets().GetBudget(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, "get budget", err)
		return
	}
	writeJSON(w, http.StatusOK, budget)
}

func (s *Server) handleUpdateBudget(w http.ResponseWriter, r *http.Request) {
	var patch model.BudgetPatch
	if !s.decode(w, r, &patch) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	budget, err := s.tracker.Budgets().UpdateBudget(ctx, chi.URLParam(r, "id"), patch)
	if err != nil {
		s.fail(w, "update budget", err)
		return
	}
	writeJSON(w, http.StatusOK, budget)
}

func (s *Server) handleDeleteBudget(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if err := s.tracker.Budgets().DeleteBudget(ctx, chi.URLParam(r, "id")); err != nil {
		s.fail(w, "delete budget", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBudgetStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	status, err := s.tracker.Budgets().GetBudgetStatus(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, "budget status", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleAllStatuses(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	statuses, err := s.tracker.Budgets().GetAllStatuses(ctx)
	if err != nil {
		s.fail(w, "budget statuses", err)
		return
	}
	if statuses == nil {
		statuses = []model.BudgetStatus{}
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (s *Server) handleBudgetAlerts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	alerts, err := s.tracker.Budgets().GetAlerts(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, "list alerts", err)
		return
	}
	writeAlerts(w, alerts)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var (
		alerts []model.Alert
		err    error
	)
	if r.URL.Query().Get("unacknowledged") == "true" {
		alerts, err = s.tracker.Budgets().GetUnacknowledgedAlerts(ctx)
	} else {
		alerts, err = s.tracker.Budgets().GetAllAlerts(ctx)
	}
	if err != nil {
		s.fail(w, "list alerts", err)
		return
	}
	writeAlerts(w, alerts)
}

func (s *Server) handleAckAlert(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	err := s.tracker.Budgets().AcknowledgeAlert(ctx, chi.URLParam(r, "id"), chi.URLParam(r, "alertID"))
	if err != nil {
		s.fail(w, "acknowledge alert", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeAlerts(w http.ResponseWriter, alerts []model.Alert) {
	if alerts == nil {
		alerts = []model.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}
