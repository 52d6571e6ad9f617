package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ogulcanaydogan/LLM-Cost-Meter/pkg/model"
	"github.com/ogulcanaydogan/LLM-Cost-Meter/pkg/storage"
	"github.com/ogulcanaydogan/LLM-Cost-Meter/pkg/tracker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// requestTimeout bounds the storage work of a single API call.
const requestTimeout = 10 * time.Second

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// Options configures optional server features.
type Options struct {
	// Gatherer backs GET /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer

	// Fallback receives every request no API route matches, typically the
	// metering proxy.
	Fallback http.Handler
}

// Server exposes the metering engine over a JSON REST API.
type Server struct {
	tracker *tracker.UsageTracker
	router  chi.Router
	logger  *slog.Logger
}

// NewServer creates an API server.
func NewServer(t *tracker.UsageTracker, opts Options, logger *slog.Logger) *Server {
	s := &Server{
		tracker: t,
		router:  chi.NewRouter(),
		logger:  logger,
	}
	s.routes(opts)
	return s
}

func (s *Server) routes(opts Options) {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/estimate", s.handleEstimate)
		r.Post("/check", s.handleCheck)

		r.Post("/usage", s.handleTrack)
		r.Get("/usage", s.handleUsage)
		r.Get("/usage/{id}", s.handleGetUsage)
		r.Get("/summary", s.handleSummary)

		r.Group(func(r chi.Router) {
			r.Use(s.requireBudgets)
			r.Get("/budgets", s.handleListBudgets)
			r.Post("/budgets", s.handleCreateBudget)
			r.Get("/budgets/status", s.handleAllStatuses)
			r.Get("/budgets/{id}", s.handleGetBudget)
			r.Patch("/budgets/{id}", s.handleUpdateBudget)
			r.Delete("/budgets/{id}", s.handleDeleteBudget)
			r.Get("/budgets/{id}/status", s.handleBudgetStatus)
			r.Get("/budgets/{id}/alerts", s.handleBudgetAlerts)
			r.Post("/budgets/{id}/alerts/{alertID}/ack", s.handleAckAlert)
			r.Get("/alerts", s.handleListAlerts)
		})

		r.Get("/pricing", s.handlePricing)
		r.Put("/pricing/overrides/{model}", s.handleSetOverride)
		r.Delete("/pricing/overrides/{model}", s.handleClearOverride)
	})

	if opts.Fallback != nil {
		r.NotFound(opts.Fallback.ServeHTTP)
	}
}

// Handler returns the HTTP handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type estimateRequest struct {
	Model           string              `json:"model"`
	Provider        string              `json:"provider"`
	Usage           model.UsageQuantity `json:"usage"`
	Prompt          string              `json:"prompt,omitempty"`
	MaxOutputTokens int64               `json:"max_output_tokens,omitempty"`
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	var req estimateRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Model == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}

	if req.Prompt != "" {
		estimate, err := s.tracker.Calculator().EstimateText(req.Model, req.Provider, req.Prompt, req.MaxOutputTokens)
		if err != nil {
			s.fail(w, "estimate text", err)
			return
		}
		writeJSON(w, http.StatusOK, estimate)
		return
	}
	writeJSON(w, http.StatusOK, s.tracker.EstimateCost(req.Model, req.Usage, req.Provider))
}

type checkRequest struct {
	ScopeID       string               `json:"scope_id"`
	EstimatedCost *float64             `json:"estimated_cost,omitempty"`
	Model         string               `json:"model,omitempty"`
	Provider      string               `json:"provider,omitempty"`
	Usage         *model.UsageQuantity `json:"usage,omitempty"`
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if !s.decode(w, r, &req) {
		return
	}

	var cost float64
	switch {
	case req.EstimatedCost != nil:
		cost = *req.EstimatedCost
	case req.Model != "" && req.Usage != nil:
		cost = s.tracker.EstimateCost(req.Model, *req.Usage, req.Provider).TotalCost
	default:
		writeError(w, http.StatusBadRequest, "estimated_cost or model and usage are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	result, err := s.tracker.CheckBudget(ctx, req.ScopeID, cost)
	if err != nil {
		s.fail(w, "check budget", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type trackRequest struct {
	CorrelationID string              `json:"correlation_id"`
	ScopeID       string              `json:"scope_id"`
	Model         string              `json:"model"`
	Provider      string              `json:"provider"`
	Usage         model.UsageQuantity `json:"usage"`
	Metadata      map[string]string   `json:"metadata,omitempty"`
}

type trackResponse struct {
	Record *model.UsageRecord `json:"record"`
	Alerts []model.Alert      `json:"alerts"`
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Model == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}
	if req.CorrelationID == "" {
		req.CorrelationID = middleware.GetReqID(r.Context())
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	record, alerts, err := s.tracker.Track(ctx, req.CorrelationID, req.ScopeID, req.Model, req.Usage, req.Provider, req.Metadata)
	if err != nil {
		s.fail(w, "track usage", err)
		return
	}
	writeJSON(w, http.StatusCreated, trackResponse{Record: record, Alerts: alerts})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to, err := parseRange(q.Get("from"), q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	filter := model.ReportFilter{
		Provider:      q.Get("provider"),
		Model:         q.Get("model"),
		ScopeID:       q.Get("scope_id"),
		CorrelationID: q.Get("correlation_id"),
		StartTime:     from,
		EndTime:       to,
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	records, err := s.tracker.Query(ctx, filter)
	if err != nil {
		s.fail(w, "query usage", err)
		return
	}
	if records == nil {
		records = []model.UsageRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleGetUsage(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	record, err := s.tracker.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, "get usage", err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var from, to time.Time
	if period := q.Get("period"); period != "" {
		p := model.BudgetPeriod(period)
		if !p.Valid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown period %q", period))
			return
		}
		from, to = model.PeriodWindow(p, s.tracker.Now())
	} else {
		var err error
		if from, to, err = parseRange(q.Get("from"), q.Get("to")); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	filter := model.ReportFilter{
		Provider:  q.Get("provider"),
		Model:     q.Get("model"),
		ScopeID:   q.Get("scope_id"),
		StartTime: from,
		EndTime:   to,
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	summary, err := s.tracker.Report(ctx, filter)
	if err != nil {
		s.fail(w, "aggregate usage", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handlePricing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.tracker.Calculator().Catalog().Entries())
}

func (s *Server) handleSetOverride(w http.ResponseWriter, r *http.Request) {
	var patch model.PricePatch
	if !s.decode(w, r, &patch) {
		return
	}
	modelID := chi.URLParam(r, "model")
	entry := s.tracker.Calculator().Catalog().SetOverride(modelID, patch)
	s.logger.Info("price override set", "model", modelID, "input_per_1k", entry.InputPer1K, "output_per_1k", entry.OutputPer1K)
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleClearOverride(w http.ResponseWriter, r *http.Request) {
	modelID := chi.URLParam(r, "model")
	if !s.tracker.Calculator().Catalog().ClearOverride(modelID) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no override for model %q", modelID))
		return
	}
	s.logger.Info("price override cleared", "model", modelID)
	w.WriteHeader(http.StatusNoContent)
}

// decode reads a JSON body into v, writing a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode request: %v", err))
		return false
	}
	return true
}

// fail maps engine errors to HTTP status codes.
func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, tracker.ErrBudgetNotFound),
		errors.Is(err, tracker.ErrAlertNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, tracker.ErrInvalidBudget),
		errors.Is(err, tracker.ErrScopeRequired):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error(op, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func parseRange(fromStr, toStr string) (from, to time.Time, err error) {
	if fromStr != "" {
		if from, err = time.Parse(time.RFC3339, fromStr); err != nil {
			return from, to, fmt.Errorf("invalid from: %w", err)
		}
	}
	if toStr != "" {
		if to, err = time.Parse(time.RFC3339, toStr); err != nil {
			return from, to, fmt.Errorf("invalid to: %w", err)
		}
	}
	return from, to, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
