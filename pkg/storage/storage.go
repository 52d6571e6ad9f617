package storage

import (
	"context"
	"errors"
	"time"

	"github.com/ogulcanaydogan/LLM-Cost-Meter/pkg/model"
)

// ErrNotFound is returned when a record, budget or alert does not exist.
var ErrNotFound = errors.New("not found")

// Ledger is the append-mostly store of finalized usage records. Results are
// ordered by record timestamp, then by insertion.
type Ledger interface {
	// Store upserts a record by id. An empty id is assigned a new one.
	Store(ctx context.Context, record *model.UsageRecord) error

	// Get returns the record with the given id or ErrNotFound.
	Get(ctx context.Context, id string) (*model.UsageRecord, error)

	// GetByCorrelationID returns every record sharing a correlation id.
	GetByCorrelationID(ctx context.Context, correlationID string) ([]model.UsageRecord, error)

	// GetByScope returns the scope's records inside [from, to]. A zero bound
	// is open.
	GetByScope(ctx context.Context, scopeID string, from, to time.Time) ([]model.UsageRecord, error)

	// GetByTimeRange returns records inside [from, to].
	GetByTimeRange(ctx context.Context, from, to time.Time) ([]model.UsageRecord, error)

	// Query returns records matching filter.
	Query(ctx context.Context, filter model.ReportFilter) ([]model.UsageRecord, error)

	// Summarize aggregates records inside [from, to], optionally limited to
	// one scope.
	Summarize(ctx context.Context, from, to time.Time, scopeID string) (*model.UsageSummary, error)

	// PurgeOlderThan removes records strictly before cutoff and returns how
	// many were removed.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error)

	// Clear removes every record.
	Clear(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// BudgetStore persists budget definitions and their alert history. Budgets
// are listed in insertion order.
type BudgetStore interface {
	// SaveBudget creates or replaces a budget by id.
	SaveBudget(ctx context.Context, budget *model.Budget) error

	// GetBudget returns the budget with the given id or ErrNotFound.
	GetBudget(ctx context.Context, id string) (*model.Budget, error)

	// ListBudgets returns every budget.
	ListBudgets(ctx context.Context) ([]model.Budget, error)

	// DeleteBudget removes a budget and its alerts.
	DeleteBudget(ctx context.Context, id string) error

	// SaveAlert appends an alert to its budget's history. It returns
	// ErrNotFound when the budget does not exist.
	SaveAlert(ctx context.Context, alert *model.Alert) error

	// HasAlert reports whether the threshold already fired in the window.
	HasAlert(ctx context.Context, budgetID string, threshold float64, windowStart time.Time) (bool, error)

	// ListAlerts returns a budget's alerts oldest first. An empty budgetID
	// lists the alerts of every budget.
	ListAlerts(ctx context.Context, budgetID string) ([]model.Alert, error)

	// ListUnacknowledgedAlerts returns every alert not yet acknowledged.
	ListUnacknowledgedAlerts(ctx context.Context) ([]model.Alert, error)

	// AcknowledgeAlert marks an alert as seen.
	AcknowledgeAlert(ctx context.Context, budgetID, alertID string) error

	// Close releases resources.
	Close() error
}
