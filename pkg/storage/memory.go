package storage

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ogulcanaydogan/LLM-Cost-Meter/pkg/model"
)

// Memory is an in-process Ledger and BudgetStore. It is safe for concurrent
// use and loses its contents when the process exits.
type Memory struct {
	mu      sync.RWMutex
	records map[string]*model.UsageRecord
	order   []string

	budgetMu    sync.RWMutex
	budgets     map[string]*model.Budget
	budgetOrder []string
	alerts      map[string][]model.Alert
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]*model.UsageRecord),
		budgets: make(map[string]*model.Budget),
		alerts:  make(map[string][]model.Alert),
	}
}

func (m *Memory) Store(_ context.Context, record *model.UsageRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	stored := *record
	stored.Metadata = maps.Clone(record.Metadata)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[stored.ID]; !ok {
		m.order = append(m.order, stored.ID)
	}
	m.records[stored.ID] = &stored
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*model.UsageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("usage record %q: %w", id, ErrNotFound)
	}
	out := copyRecord(*r)
	return &out, nil
}

func (m *Memory) GetByCorrelationID(ctx context.Context, correlationID string) ([]model.UsageRecord, error) {
	return m.Query(ctx, model.ReportFilter{CorrelationID: correlationID})
}

func (m *Memory) GetByScope(_ context.Context, scopeID string, from, to time.Time) ([]model.UsageRecord, error) {
	return m.filter(func(r *model.UsageRecord) bool {
		return r.ScopeID == scopeID && model.InRange(r.CreatedAt, from, to)
	}), nil
}

func (m *Memory) GetByTimeRange(_ context.Context, from, to time.Time) ([]model.UsageRecord, error) {
	return m.filter(func(r *model.UsageRecord) bool {
		return model.InRange(r.CreatedAt, from, to)
	}), nil
}

func (m *Memory) Query(_ context.Context, filter model.ReportFilter) ([]model.UsageRecord, error) {
	return m.filter(func(r *model.UsageRecord) bool {
		return filter.Match(*r)
	}), nil
}

func (m *Memory) Summarize(_ context.Context, from, to time.Time, scopeID string) (*model.UsageSummary, error) {
	records := m.filter(func(r *model.UsageRecord) bool {
		return model.InRange(r.CreatedAt, from, to)
	})
	return model.Aggregate(records, from, to, scopeID), nil
}

func (m *Memory) PurgeOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.order[:0]
	removed := 0
	for _, id := range m.order {
		if m.records[id].CreatedAt.Before(cutoff) {
			delete(m.records, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
	return removed, nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = make(map[string]*model.UsageRecord)
	m.order = nil
	return nil
}

// filter returns matching records sorted by timestamp, keeping insertion
// order for equal timestamps.
func (m *Memory) filter(keep func(*model.UsageRecord) bool) []model.UsageRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.UsageRecord, 0)
	for _, id := range m.order {
		r := m.records[id]
		if keep(r) {
			out = append(out, copyRecord(*r))
		}
	}
	slices.SortStableFunc(out, func(a, b model.UsageRecord) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out
}

func copyRecord(r model.UsageRecord) model.UsageRecord {
	r.Metadata = maps.Clone(r.Metadata)
	return r
}

func (m *Memory) SaveBudget(_ context.Context, budget *model.Budget) error {
	stored := copyBudget(*budget)

	m.budgetMu.Lock()
	defer m.budgetMu.Unlock()

	if _, ok := m.budgets[stored.ID]; !ok {
		m.budgetOrder = append(m.budgetOrder, stored.ID)
	}
	m.budgets[stored.ID] = &stored
	return nil
}

func (m *Memory) GetBudget(_ context.Context, id string) (*model.Budget, error) {
	m.budgetMu.RLock()
	defer m.budgetMu.RUnlock()

	b, ok := m.budgets[id]
	if !ok {
		return nil, fmt.Errorf("budget %q: %w", id, ErrNotFound)
	}
	out := copyBudget(*b)
	return &out, nil
}

func (m *Memory) ListBudgets(_ context.Context) ([]model.Budget, error) {
	m.budgetMu.RLock()
	defer m.budgetMu.RUnlock()

	out := make([]model.Budget, 0, len(m.budgetOrder))
	for _, id := range m.budgetOrder {
		out = append(out, copyBudget(*m.budgets[id]))
	}
	return out, nil
}

func (m *Memory) DeleteBudget(_ context.Context, id string) error {
	m.budgetMu.Lock()
	defer m.budgetMu.Unlock()

	if _, ok := m.budgets[id]; !ok {
		return fmt.Errorf("budget %q: %w", id, ErrNotFound)
	}
	delete(m.budgets, id)
	delete(m.alerts, id)
	m.budgetOrder = slices.DeleteFunc(m.budgetOrder, func(s string) bool { return s == id })
	return nil
}

func (m *Memory) SaveAlert(_ context.Context, alert *model.Alert) error {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}

	m.budgetMu.Lock()
	defer m.budgetMu.Unlock()

	if _, ok := m.budgets[alert.BudgetID]; !ok {
		return fmt.Errorf("budget %q: %w", alert.BudgetID, ErrNotFound)
	}
	m.alerts[alert.BudgetID] = append(m.alerts[alert.BudgetID], *alert)
	return nil
}

func (m *Memory) HasAlert(_ context.Context, budgetID string, threshold float64, windowStart time.Time) (bool, error) {
	m.budgetMu.RLock()
	defer m.budgetMu.RUnlock()

	for _, a := range m.alerts[budgetID] {
		if a.Threshold == threshold && a.WindowStart.Equal(windowStart) {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) ListAlerts(_ context.Context, budgetID string) ([]model.Alert, error) {
	m.budgetMu.RLock()
	defer m.budgetMu.RUnlock()

	if budgetID != "" {
		return slices.Clone(m.alerts[budgetID]), nil
	}
	return m.allAlertsLocked(func(model.Alert) bool { return true }), nil
}

func (m *Memory) ListUnacknowledgedAlerts(_ context.Context) ([]model.Alert, error) {
	m.budgetMu.RLock()
	defer m.budgetMu.RUnlock()

	return m.allAlertsLocked(func(a model.Alert) bool { return !a.Acknowledged }), nil
}

func (m *Memory) AcknowledgeAlert(_ context.Context, budgetID, alertID string) error {
	m.budgetMu.Lock()
	defer m.budgetMu.Unlock()

	alerts := m.alerts[budgetID]
	for i := range alerts {
		if alerts[i].ID == alertID {
			alerts[i].Acknowledged = true
			return nil
		}
	}
	return fmt.Errorf("alert %q on budget %q: %w", alertID, budgetID, ErrNotFound)
}

// allAlertsLocked walks budgets in insertion order. Caller must hold budgetMu.
func (m *Memory) allAlertsLocked(keep func(model.Alert) bool) []model.Alert {
	out := make([]model.Alert, 0)
	for _, id := range m.budgetOrder {
		for _, a := range m.alerts[id] {
			if keep(a) {
				out = append(out, a)
			}
		}
	}
	return out
}

func (m *Memory) Close() error {
	return nil
}

func copyBudget(b model.Budget) model.Budget {
	b.Thresholds = slices.Clone(b.Thresholds)
	if b.Scope != nil {
		scope := *b.Scope
		b.Scope = &scope
	}
	return b
}
