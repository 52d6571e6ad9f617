package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ogulcanaydogan/LLM-Cost-Meter/pkg/storage"
)

// UsageTracker is the main entry point for metering LLM calls. It prices
// usage, stores finalized records and drives budget evaluation.
type UsageTracker struct {
	calculator *CostCalculator
	ledger     storage.Ledger
	budget     *BudgetManager
	metrics    *Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// NewUsageTracker creates a usage tracker. budget may be nil, in which case
// every check is allowed.
func NewUsageTracker(calculator *CostCalculator, ledger storage.Ledger, budget *BudgetManager, logger *slog.Logger) *UsageTracker {
	return &UsageTracker{
		calculator: calculator,
		ledger:     ledger,
		budget:     budget,
		logger:     logger,
		now:        time.Now,
	}
}

// SetClock replaces the time source of the tracker and its collaborators.
func (t *UsageTracker) SetClock(now func() time.Time) {
	t.now = now
	t.calculator.SetClock(now)
	if t.budget != nil {
		t.budget.SetClock(now)
	}
}

// SetMetrics attaches Prometheus metrics to the tracker and its collaborators.
func (t *UsageTracker) SetMetrics(m *Metrics) {
	t.metrics = m
	t.calculator.SetMetrics(m)
	if t.budget != nil {
		t.budget.SetMetrics(m)
	}
}

// Calculator returns the cost calculator.
func (t *UsageTracker) Calculator() *CostCalculator { return t.calculator }

// Budgets returns the budget manager, or nil when budgets are not enforced.
func (t *UsageTracker) Budgets() *BudgetManager { return t.budget }

// Ledger returns the usage ledger.
func (t *UsageTracker) Ledger() storage.Ledger { return t.ledger }

// Now returns the current time from the tracker's clock.
func (t *UsageTracker) Now() time.Time { return t.now() }

// EstimateCost projects the cost of a call before it is made.
func (t *UsageTracker) EstimateCost(model string, usage UsageQuantity, provider string) CostEstimate {
	return t.calculator.Estimate(model, usage, provider)
}

// FinalizeCost prices a completed call. The returned record is not stored.
func (t *UsageTracker) FinalizeCost(correlationID, scopeID, model string, usage UsageQuantity, provider string, metadata map[string]string) UsageRecord {
	return t.calculator.Finalize(correlationID, scopeID, model, usage, provider, metadata)
}

// CheckBudget decides whether a call with the given estimated cost may
// proceed for scopeID. An empty scopeID returns ErrScopeRequired.
func (t *UsageTracker) CheckBudget(ctx context.Context, scopeID string, estimatedCost float64) (*EnforcementResult, error) {
	if scopeID == "" {
		return nil, ErrScopeRequired
	}
	if t.budget == nil {
		return &EnforcementResult{Allowed: true, Alerts: []Alert{}, Statuses: []BudgetStatus{}}, nil
	}
	return t.budget.CheckBudget(ctx, scopeID, estimatedCost)
}

// RecordCost stores a finalized record and evaluates the budgets it counts
// toward. Budget evaluation failures are logged; the record stays stored.
// Records without a scope id are rejected with ErrScopeRequired.
func (t *UsageTracker) RecordCost(ctx context.Context, record *UsageRecord) ([]Alert, error) {
	if record.ScopeID == "" {
		return nil, ErrScopeRequired
	}
	if err := t.ledger.Store(ctx, record); err != nil {
		return nil, fmt.Errorf("store usage: %w", err)
	}
	t.metrics.RecordCost(record.Provider, record.Model, record.TotalCost)

	t.logger.Info("usage recorded",
		"id", record.ID,
		"provider", record.Provider,
		"model", record.Model,
		"input_units", record.Usage.InputUnits,
		"output_units", record.Usage.OutputUnits,
		"cost_usd", record.TotalCost,
		"scope", record.ScopeID,
	)

	if t.budget == nil {
		return []Alert{}, nil
	}
	alerts, err := t.budget.RecordCost(ctx, *record)
	if err != nil {
		t.logger.Error("budget evaluation failed", "id", record.ID, "error", err)
	}
	return alerts, nil
}

// Track finalizes and records a completed call in one step.
func (t *UsageTracker) Track(ctx context.Context, correlationID, scopeID, model string, usage UsageQuantity, provider string, metadata map[string]string) (*UsageRecord, []Alert, error) {
	record := t.FinalizeCost(correlationID, scopeID, model, usage, provider, metadata)
	alerts, err := t.RecordCost(ctx, &record)
	if err != nil {
		return nil, nil, err
	}
	return &record, alerts, nil
}

// Get returns a stored record by id.
func (t *UsageTracker) Get(ctx context.Context, id string) (*UsageRecord, error) {
	return t.ledger.Get(ctx, id)
}

// Query returns individual usage records for the given filter.
func (t *UsageTracker) Query(ctx context.Context, filter ReportFilter) ([]UsageRecord, error) {
	return t.ledger.Query(ctx, filter)
}

// Report generates a usage summary for the given filter.
func (t *UsageTracker) Report(ctx context.Context, filter ReportFilter) (*UsageSummary, error) {
	records, err := t.ledger.Query(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	return Aggregate(records, filter.StartTime, filter.EndTime, filter.ScopeID), nil
}

// Summarize aggregates records inside [from, to], optionally for one scope.
func (t *UsageTracker) Summarize(ctx context.Context, from, to time.Time, scopeID string) (*UsageSummary, error) {
	return t.ledger.Summarize(ctx, from, to, scopeID)
}

// Purge removes records older than maxAge and returns how many were removed.
func (t *UsageTracker) Purge(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := t.now().Add(-maxAge)
	n, err := t.ledger.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge usage: %w", err)
	}
	t.logger.Info("usage purged", "cutoff", cutoff, "removed", n)
	return n, nil
}
