package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ogulcanaydogan/LLM-Cost-Meter/pkg/model"
	"github.com/ogulcanaydogan/LLM-Cost-Meter/pkg/storage"
)

var (
	// ErrBudgetNotFound is returned for an unknown budget id.
	ErrBudgetNotFound = errors.New("budget not found")

	// ErrAlertNotFound is returned for an unknown alert id.
	ErrAlertNotFound = errors.New("alert not found")

	// ErrInvalidBudget wraps every budget validation failure.
	ErrInvalidBudget = errors.New("invalid budget")

	// ErrScopeRequired is returned when a check or record carries no scope id.
	ErrScopeRequired = errors.New("scope id is required")
)

// AlertSink receives alerts as they are recorded. Implementations must not
// block.
type AlertSink interface {
	Dispatch(alert model.Alert)
}

// BudgetManager evaluates budgets against the usage ledger and keeps the
// alert log.
type BudgetManager struct {
	ledger  storage.Ledger
	store   storage.BudgetStore
	sink    AlertSink
	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time

	// alertMu serializes the fired-check and insert of alerts with budget
	// deletion.
	alertMu sync.Mutex
}

// NewBudgetManager creates a budget manager. sink may be nil.
func NewBudgetManager(ledger storage.Ledger, store storage.BudgetStore, sink AlertSink, logger *slog.Logger) *BudgetManager {
	return &BudgetManager{
		ledger: ledger,
		store:  store,
		sink:   sink,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock replaces the time source used for windows and timestamps.
func (m *BudgetManager) SetClock(now func() time.Time) { m.now = now }

// SetMetrics attaches Prometheus metrics.
func (m *BudgetManager) SetMetrics(metrics *Metrics) { m.metrics = metrics }

// CreateBudget validates b, assigns an id and timestamps, and stores it.
// Thresholds are sorted ascending and deduplicated.
func (m *BudgetManager) CreateBudget(ctx context.Context, b model.Budget) (*model.Budget, error) {
	b = normalizeBudget(b)
	if err := validateBudget(b); err != nil {
		return nil, err
	}

	now := m.now()
	b.ID = uuid.New().String()
	b.CreatedAt = now
	b.UpdatedAt = now

	if err := m.store.SaveBudget(ctx, &b); err != nil {
		return nil, fmt.Errorf("create budget: %w", err)
	}

	m.logger.Info("budget created",
		"budget", b.Name,
		"id", b.ID,
		"limit_usd", b.LimitUSD,
		"period", b.Period,
		"action", b.Action,
	)
	return &b, nil
}

// UpdateBudget merges patch onto the budget and bumps its update time.
func (m *BudgetManager) UpdateBudget(ctx context.Context, id string, patch model.BudgetPatch) (*model.Budget, error) {
	current, err := m.GetBudget(ctx, id)
	if err != nil {
		return nil, err
	}

	b := normalizeBudget(patch.Apply(*current))
	if err := validateBudget(b); err != nil {
		return nil, err
	}
	b.UpdatedAt = m.now()

	if err := m.store.SaveBudget(ctx, &b); err != nil {
		return nil, fmt.Errorf("update budget: %w", err)
	}
	if b.Name != current.Name || b.Period != current.Period {
		m.metrics.DeleteBudgetUsage(current.Name, string(current.Period))
	}
	return &b, nil
}

// DeleteBudget removes a budget together with its alert history.
func (m *BudgetManager) DeleteBudget(ctx context.Context, id string) error {
	b, err := m.GetBudget(ctx, id)
	if err != nil {
		return err
	}
	m.alertMu.Lock()
	err = m.store.DeleteBudget(ctx, id)
	m.alertMu.Unlock()
	if err != nil {
		return mapNotFound(err, ErrBudgetNotFound, id)
	}
	m.metrics.DeleteBudgetUsage(b.Name, string(b.Period))
	m.logger.Info("budget deleted", "budget", b.Name, "id", id)
	return nil
}

// GetBudget returns the budget with the given id.
func (m *BudgetManager) GetBudget(ctx context.Context, id string) (*model.Budget, error) {
	b, err := m.store.GetBudget(ctx, id)
	if err != nil {
		return nil, mapNotFound(err, ErrBudgetNotFound, id)
	}
	return b, nil
}

// GetAllBudgets returns every budget in creation order.
func (m *BudgetManager) GetAllBudgets(ctx context.Context) ([]model.Budget, error) {
	budgets, err := m.store.ListBudgets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	return budgets, nil
}

// GetBudgetsByScope returns the budgets scoped to scopeID. An empty scopeID
// returns the unscoped budgets.
func (m *BudgetManager) GetBudgetsByScope(ctx context.Context, scopeID string) ([]model.Budget, error) {
	budgets, err := m.GetAllBudgets(ctx)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(budgets, func(b model.Budget) bool {
		if b.Scope == nil {
			return scopeID != ""
		}
		return b.Scope.ID != scopeID
	}), nil
}

// GetBudgetStatus computes the budget's spend in its current window.
func (m *BudgetManager) GetBudgetStatus(ctx context.Context, id string) (*model.BudgetStatus, error) {
	b, err := m.GetBudget(ctx, id)
	if err != nil {
		return nil, err
	}
	status, err := m.status(ctx, *b, m.now())
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// GetAllStatuses computes the status of every budget.
func (m *BudgetManager) GetAllStatuses(ctx context.Context) ([]model.BudgetStatus, error) {
	budgets, err := m.GetAllBudgets(ctx)
	if err != nil {
		return nil, err
	}

	now := m.now()
	statuses := make([]model.BudgetStatus, 0, len(budgets))
	for _, b := range budgets {
		status, err := m.status(ctx, b, now)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// CheckBudget decides whether a call projected to cost projectedCost may
// proceed for scopeID. Budgets are evaluated in creation order and the
// first block-action budget whose projected spend exceeds its limit stops
// evaluation. Alert and throttle budgets never deny the call. Thresholds
// the call would newly cross are returned as projected alerts and are not
// added to the alert log.
func (m *BudgetManager) CheckBudget(ctx context.Context, scopeID string, projectedCost float64) (*model.EnforcementResult, error) {
	started := time.Now()
	now := m.now()
	projectedCost = max(projectedCost, 0)

	budgets, err := m.store.ListBudgets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}

	result := &model.EnforcementResult{
		Allowed:  true,
		Alerts:   []model.Alert{},
		Statuses: []model.BudgetStatus{},
	}

	for _, b := range budgets {
		if !b.Enabled || !b.AppliesTo(scopeID) {
			continue
		}

		status, err := m.status(ctx, b, now)
		if err != nil {
			return nil, err
		}
		result.Statuses = append(result.Statuses, status)

		projectedSpend := status.CurrentSpend + projectedCost
		projectedPct := model.Percentage(projectedSpend, b.LimitUSD)
		for _, threshold := range b.Thresholds {
			if projectedPct >= threshold && status.Percentage < threshold {
				alert := m.newAlert(b, threshold, projectedSpend, status.WindowStart, now, true)
				result.Alerts = append(result.Alerts, alert)
				m.metrics.RecordAlert(string(alert.Severity), true)
			}
		}

		if projectedSpend <= b.LimitUSD {
			continue
		}
		switch b.Action {
		case model.ActionBlock:
			blocked := b
			result.Allowed = false
			result.BlockedBy = &blocked
			result.Status = &status
			m.metrics.RecordBlock(b.Name, string(b.Period))
			m.logger.Info("request blocked by budget",
				"budget", b.Name,
				"scope", scopeID,
				"spend", status.CurrentSpend,
				"projected", projectedSpend,
				"limit", b.LimitUSD,
			)
		case model.ActionThrottle:
			result.Throttled = append(result.Throttled, b.ID)
		}
		if !result.Allowed {
			break
		}
	}

	m.metrics.RecordBudgetCheck(result.Allowed, time.Since(started).Seconds())
	return result, nil
}

// RecordCost evaluates every budget the stored record counts toward and
// emits one alert per threshold newly reached in the current window. The
// record must already be in the ledger.
func (m *BudgetManager) RecordCost(ctx context.Context, record model.UsageRecord) ([]model.Alert, error) {
	started := time.Now()
	defer func() { m.metrics.ObserveRecordDuration(time.Since(started).Seconds()) }()

	m.alertMu.Lock()
	defer m.alertMu.Unlock()

	budgets, err := m.store.ListBudgets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}

	now := m.now()
	fired := make([]model.Alert, 0)
	var errs []error

	for _, b := range budgets {
		if !b.Enabled || !b.AppliesTo(record.ScopeID) {
			continue
		}

		status, err := m.status(ctx, b, now)
		if err != nil {
			m.logger.Error("compute budget status", "budget", b.Name, "error", err)
			errs = append(errs, err)
			continue
		}
		m.metrics.UpdateBudgetUsage(b.Name, string(b.Period), status.Percentage)

		for _, threshold := range status.ActiveThresholds {
			alert, err := m.fireOnce(ctx, b, threshold, status, now)
			if err != nil {
				m.logger.Error("record alert", "budget", b.Name, "threshold", threshold, "error", err)
				errs = append(errs, err)
				continue
			}
			if alert != nil {
				fired = append(fired, *alert)
			}
		}
	}

	return fired, errors.Join(errs...)
}

// fireOnce stores an alert for threshold unless one already exists in the
// status window. Caller must hold alertMu.
func (m *BudgetManager) fireOnce(ctx context.Context, b model.Budget, threshold float64, status model.BudgetStatus, now time.Time) (*model.Alert, error) {
	exists, err := m.store.HasAlert(ctx, b.ID, threshold, status.WindowStart)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, nil
	}

	alert := m.newAlert(b, threshold, status.CurrentSpend, status.WindowStart, now, false)
	if err := m.store.SaveAlert(ctx, &alert); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	m.logger.Warn("budget threshold crossed",
		"budget", b.Name,
		"severity", alert.Severity,
		"threshold", threshold,
		"pct", status.Percentage,
		"spend", status.CurrentSpend,
		"limit", b.LimitUSD,
	)
	m.metrics.RecordAlert(string(alert.Severity), false)
	if m.sink != nil {
		m.sink.Dispatch(alert)
	}
	return &alert, nil
}

// GetAlerts returns a budget's alert history oldest first.
func (m *BudgetManager) GetAlerts(ctx context.Context, budgetID string) ([]model.Alert, error) {
	if _, err := m.GetBudget(ctx, budgetID); err != nil {
		return nil, err
	}
	alerts, err := m.store.ListAlerts(ctx, budgetID)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return alerts, nil
}

// GetAllAlerts returns the alert history of every budget.
func (m *BudgetManager) GetAllAlerts(ctx context.Context) ([]model.Alert, error) {
	alerts, err := m.store.ListAlerts(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return alerts, nil
}

// GetUnacknowledgedAlerts returns every alert not yet acknowledged.
func (m *BudgetManager) GetUnacknowledgedAlerts(ctx context.Context) ([]model.Alert, error) {
	alerts, err := m.store.ListUnacknowledgedAlerts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unacknowledged alerts: %w", err)
	}
	return alerts, nil
}

// AcknowledgeAlert marks an alert as seen.
func (m *BudgetManager) AcknowledgeAlert(ctx context.Context, budgetID, alertID string) error {
	if err := m.store.AcknowledgeAlert(ctx, budgetID, alertID); err != nil {
		return mapNotFound(err, ErrAlertNotFound, alertID)
	}
	return nil
}

func (m *BudgetManager) status(ctx context.Context, b model.Budget, now time.Time) (model.BudgetStatus, error) {
	start, end := model.PeriodWindow(b.Period, now)

	scopeID := ""
	if b.Scope != nil {
		scopeID = b.Scope.ID
	}
	summary, err := m.ledger.Summarize(ctx, start, end, scopeID)
	if err != nil {
		return model.BudgetStatus{}, fmt.Errorf("summarize spend for budget %s: %w", b.ID, err)
	}
	return model.NewBudgetStatus(b, summary.TotalCostUSD, start, end), nil
}

func (m *BudgetManager) newAlert(b model.Budget, threshold, spend float64, windowStart, now time.Time, projected bool) model.Alert {
	return model.Alert{
		ID:          uuid.New().String(),
		BudgetID:    b.ID,
		BudgetName:  b.Name,
		Period:      b.Period,
		Threshold:   threshold,
		Spend:       spend,
		Limit:       b.LimitUSD,
		Severity:    model.SeverityFor(threshold),
		Message:     model.AlertMessage(b, threshold, spend, projected),
		WindowStart: windowStart,
		Projected:   projected,
		CreatedAt:   now,
	}
}

func normalizeBudget(b model.Budget) model.Budget {
	b.Name = strings.TrimSpace(b.Name)
	if b.Action == "" {
		b.Action = model.ActionAlert
	}
	if b.Scope != nil && b.Scope.Type == "" {
		scope := *b.Scope
		scope.Type = model.ScopeAgent
		b.Scope = &scope
	}
	thresholds := slices.Clone(b.Thresholds)
	slices.Sort(thresholds)
	b.Thresholds = slices.Compact(thresholds)
	return b
}

func validateBudget(b model.Budget) error {
	switch {
	case b.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidBudget)
	case !(b.LimitUSD > 0) || math.IsInf(b.LimitUSD, 0):
		return fmt.Errorf("%w: limit must be a positive amount, got %v", ErrInvalidBudget, b.LimitUSD)
	case !b.Period.Valid():
		return fmt.Errorf("%w: unknown period %q", ErrInvalidBudget, b.Period)
	case !b.Action.Valid():
		return fmt.Errorf("%w: unknown action %q", ErrInvalidBudget, b.Action)
	case len(b.Thresholds) == 0:
		return fmt.Errorf("%w: at least one threshold is required", ErrInvalidBudget)
	case b.Scope != nil && b.Scope.ID == "":
		return fmt.Errorf("%w: scope id is required", ErrInvalidBudget)
	}
	for _, t := range b.Thresholds {
		if !(t > 0) || math.IsInf(t, 0) {
			return fmt.Errorf("%w: threshold must be a positive percentage, got %v", ErrInvalidBudget, t)
		}
	}
	return nil
}

func mapNotFound(err, sentinel error, id string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", sentinel, id)
	}
	return err
}
