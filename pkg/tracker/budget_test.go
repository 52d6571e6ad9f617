package tracker_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ogulcanaydogan/LLM-Cost-Meter/pkg/model"
	"github.com/ogulcanaydogan/LLM-Cost-Meter/pkg/pricing"
	"github.com/ogulcanaydogan/LLM-Cost-Meter/pkg/storage"
	"github.com/ogulcanaydogan/LLM-Cost-Meter/pkg/tracker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	// A Tuesday morning.
	return &fakeClock{now: time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingSink collects dispatched alerts.
type recordingSink struct {
	mu     sync.Mutex
	alerts []model.Alert
}

func (s *recordingSink) Dispatch(a model.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
}

func (s *recordingSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

type engine struct {
	tracker *tracker.UsageTracker
	budgets *tracker.BudgetManager
	clock   *fakeClock
	sink    *recordingSink
	store   *storage.Memory
}

func newEngine(t *testing.T) *engine {
	t.Helper()
	catalog, err := pricing.Default()
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewMemory()
	sink := &recordingSink{}
	clock := newFakeClock()

	budgets := tracker.NewBudgetManager(store, store, sink, logger)
	tr := tracker.NewUsageTracker(tracker.NewCostCalculator(catalog, true), store, budgets, logger)
	tr.SetClock(clock.Now)

	return &engine{tracker: tr, budgets: budgets, clock: clock, sink: sink, store: store}
}

func (e *engine) createBudget(t *testing.T, b model.Budget) *model.Budget {
	t.Helper()
	b.Enabled = true
	created, err := e.budgets.CreateBudget(context.Background(), b)
	require.NoError(t, err)
	return created
}

// spend records a usage record costing exactly cost for scope.
func (e *engine) spend(t *testing.T, scope string, cost float64) []model.Alert {
	t.Helper()
	record := &model.UsageRecord{
		ScopeID:   scope,
		Model:     "test-model",
		Provider:  "test",
		TotalCost: cost,
		CreatedAt: e.clock.Now(),
	}
	alerts, err := e.tracker.RecordCost(context.Background(), record)
	require.NoError(t, err)
	return alerts
}

func agent(id string) *model.BudgetScope {
	return &model.BudgetScope{Type: model.ScopeAgent, ID: id}
}

var standardThresholds = []float64{50, 75, 90, 100}

func TestCheckBudget_BlocksAgentOnceLimitWouldBeExceeded(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	b := e.createBudget(t, model.Budget{
		Name: "a1-cap", LimitUSD: 0.10, Period: model.PeriodDaily,
		Thresholds: standardThresholds, Action: model.ActionBlock, Scope: agent("a1"),
	})
	usage := model.UsageQuantity{InputUnits: 1000, OutputUnits: 500}

	est := e.tracker.EstimateCost("gpt-4", usage, "")
	require.InDelta(t, 0.06, est.TotalCost, 1e-12)

	allowed := 0
	blocked := 0
	for i := range 3 {
		res, err := e.tracker.CheckBudget(ctx, "a1", est.TotalCost)
		require.NoError(t, err)
		if !res.Allowed {
			blocked++
			require.NotNil(t, res.BlockedBy)
			assert.Equal(t, b.ID, res.BlockedBy.ID)
			require.NotNil(t, res.Status)
			continue
		}
		allowed++
		assert.Zero(t, i, "only the first call fits under the limit")
		_, _, err = e.tracker.Track(ctx, "req", "a1", "gpt-4", usage, "", nil)
		require.NoError(t, err)
	}

	assert.Equal(t, 1, allowed)
	assert.Equal(t, 2, blocked)
}

func TestCheckBudget_FirstCheckAllowed(t *testing.T) {
	e := newEngine(t)
	e.createBudget(t, model.Budget{
		Name: "cap", LimitUSD: 0.10, Period: model.PeriodDaily,
		Thresholds: standardThresholds, Action: model.ActionBlock, Scope: agent("a1"),
	})

	res, err := e.tracker.CheckBudget(context.Background(), "a1", 0.06)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Nil(t, res.BlockedBy)
	require.Len(t, res.Statuses, 1)
	// 60% projected crosses the 50% threshold.
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, 50.0, res.Alerts[0].Threshold)
	assert.True(t, res.Alerts[0].Projected)
}

func TestCheckBudget_AlertActionNeverBlocks(t *testing.T) {
	e := newEngine(t)
	e.createBudget(t, model.Budget{
		Name: "watch", LimitUSD: 0.10, Period: model.PeriodDaily,
		Thresholds: standardThresholds, Action: model.ActionAlert,
	})
	e.spend(t, "a1", 0.5)

	res, err := e.tracker.CheckBudget(context.Background(), "a1", 1000)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Nil(t, res.BlockedBy)
	assert.Empty(t, res.Alerts, "every threshold was already passed")
}

func TestCheckBudget_ThrottleIsReportedNotBlocked(t *testing.T) {
	e := newEngine(t)
	b := e.createBudget(t, model.Budget{
		Name: "slow", LimitUSD: 1, Period: model.PeriodHourly,
		Thresholds: []float64{100}, Action: model.ActionThrottle,
	})

	res, err := e.tracker.CheckBudget(context.Background(), "any", 2)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, []string{b.ID}, res.Throttled)
}

func TestCheckBudget_FirstBlockerWins(t *testing.T) {
	e := newEngine(t)
	first := e.createBudget(t, model.Budget{
		Name: "first", LimitUSD: 1, Period: model.PeriodDaily,
		Thresholds: []float64{100}, Action: model.ActionBlock,
	})
	e.createBudget(t, model.Budget{
		Name: "second", LimitUSD: 0.5, Period: model.PeriodDaily,
		Thresholds: []float64{100}, Action: model.ActionBlock,
	})

	res, err := e.tracker.CheckBudget(context.Background(), "a1", 5)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, first.ID, res.BlockedBy.ID)
	assert.Len(t, res.Statuses, 1, "evaluation stops at the first blocker")
}

func TestCheckBudget_ProjectedAlertsOnlyForNewCrossings(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	b := e.createBudget(t, model.Budget{
		Name: "daily", LimitUSD: 1, Period: model.PeriodDaily,
		Thresholds: standardThresholds, Action: model.ActionAlert,
	})
	e.spend(t, "a1", 0.625)

	res, err := e.tracker.CheckBudget(ctx, "a1", 0.25)
	require.NoError(t, err)
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, 75.0, res.Alerts[0].Threshold)
	assert.InDelta(t, 0.875, res.Alerts[0].Spend, 1e-12)

	logged, err := e.budgets.GetAlerts(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, logged, 1, "projected alerts are not logged")
	assert.Equal(t, 50.0, logged[0].Threshold)
}

func TestCheckBudget_DisabledAndForeignScopesIgnored(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	off := e.createBudget(t, model.Budget{
		Name: "off", LimitUSD: 0.01, Period: model.PeriodDaily,
		Thresholds: []float64{100}, Action: model.ActionBlock,
	})
	disabled := false
	_, err := e.budgets.UpdateBudget(ctx, off.ID, model.BudgetPatch{Enabled: &disabled})
	require.NoError(t, err)
	e.createBudget(t, model.Budget{
		Name: "other-agent", LimitUSD: 0.01, Period: model.PeriodDaily,
		Thresholds: []float64{100}, Action: model.ActionBlock, Scope: agent("a2"),
	})

	res, err := e.tracker.CheckBudget(ctx, "a1", 10)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Empty(t, res.Statuses)
}

func TestRecordCost_OneShotCrossingFiresEachThresholdOnce(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	b := e.createBudget(t, model.Budget{
		Name: "daily", LimitUSD: 1, Period: model.PeriodDaily,
		Thresholds: standardThresholds, Action: model.ActionAlert,
	})

	alerts := e.spend(t, "a1", 1.2)
	require.Len(t, alerts, 4)
	for i, want := range standardThresholds {
		assert.Equal(t, want, alerts[i].Threshold)
		assert.False(t, alerts[i].Projected)
	}
	assert.Equal(t, model.SeverityInfo, alerts[0].Severity)
	assert.Equal(t, model.SeverityWarning, alerts[2].Severity)
	assert.Equal(t, model.SeverityCritical, alerts[3].Severity)

	assert.Empty(t, e.spend(t, "a1", 0.01))

	logged, err := e.budgets.GetAlerts(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, logged, 4)
	assert.Equal(t, 4, e.sink.Len())
}

func TestRecordCost_RepeatedEvaluationDoesNotDuplicate(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	b := e.createBudget(t, model.Budget{
		Name: "daily", LimitUSD: 1, Period: model.PeriodDaily,
		Thresholds: standardThresholds, Action: model.ActionAlert,
	})
	record := model.UsageRecord{ID: "r1", ScopeID: "a1", TotalCost: 0.5, CreatedAt: e.clock.Now()}
	require.NoError(t, e.store.Store(ctx, &record))

	first, err := e.budgets.RecordCost(ctx, record)
	require.NoError(t, err)
	assert.Len(t, first, 1)

	second, err := e.budgets.RecordCost(ctx, record)
	require.NoError(t, err)
	assert.Empty(t, second)

	logged, err := e.budgets.GetAlerts(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, logged, 1)
}

func TestRecordCost_DailyBudgetExample(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	b := e.createBudget(t, model.Budget{
		Name: "daily", LimitUSD: 1, Period: model.PeriodDaily,
		Thresholds: standardThresholds, Action: model.ActionAlert,
	})

	assert.Empty(t, e.spend(t, "a1", 0.25))

	alerts := e.spend(t, "a1", 0.25)
	require.Len(t, alerts, 1)
	assert.Equal(t, 50.0, alerts[0].Threshold)

	e.spend(t, "a1", 0.5)
	status, err := e.budgets.GetBudgetStatus(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, status.CurrentSpend)
	assert.False(t, status.Exceeded, "spend equal to the limit is not exceeded")

	e.spend(t, "a1", 0.25)
	status, err = e.budgets.GetBudgetStatus(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, status.Exceeded)
	assert.Equal(t, 0.0, status.Remaining)
	assert.Equal(t, standardThresholds, status.ActiveThresholds)
}

func TestRecordCost_AlertsFireAgainAfterWindowRollover(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	b := e.createBudget(t, model.Budget{
		Name: "daily", LimitUSD: 1, Period: model.PeriodDaily,
		Thresholds: []float64{50}, Action: model.ActionAlert,
	})

	require.Len(t, e.spend(t, "a1", 0.5), 1)

	e.clock.Advance(24 * time.Hour)
	status, err := e.budgets.GetBudgetStatus(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, status.CurrentSpend, "new window starts empty")

	alerts := e.spend(t, "a1", 0.5)
	require.Len(t, alerts, 1)
	assert.True(t, alerts[0].WindowStart.Equal(status.WindowStart))

	logged, err := e.budgets.GetAlerts(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, logged, 2)
}

func TestRecordCost_ConcurrentRecordsFireEachThresholdOnce(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	b := e.createBudget(t, model.Budget{
		Name: "shared", LimitUSD: 0.10, Period: model.PeriodDaily,
		Thresholds: standardThresholds, Action: model.ActionAlert,
	})

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := e.tracker.Track(ctx, "req", "a1", "gpt-4", model.UsageQuantity{InputUnits: 1000, OutputUnits: 500}, "", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	logged, err := e.budgets.GetAlerts(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, logged, 4)
}

func TestBudgetStatus_ScopesAreIsolated(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	a := e.createBudget(t, model.Budget{
		Name: "a", LimitUSD: 1, Period: model.PeriodTotal,
		Thresholds: []float64{100}, Action: model.ActionBlock, Scope: agent("agent-a"),
	})
	b := e.createBudget(t, model.Budget{
		Name: "b", LimitUSD: 1, Period: model.PeriodTotal,
		Thresholds: []float64{100}, Action: model.ActionBlock, Scope: agent("agent-b"),
	})

	e.spend(t, "agent-a", 0.75)
	e.spend(t, "agent-b", 0.125)

	sa, err := e.budgets.GetBudgetStatus(ctx, a.ID)
	require.NoError(t, err)
	sb, err := e.budgets.GetBudgetStatus(ctx, b.ID)
	require.NoError(t, err)

	assert.Equal(t, 0.75, sa.CurrentSpend)
	assert.Equal(t, 0.125, sb.CurrentSpend)
	assert.Equal(t, 75.0, sa.Percentage)
	assert.Equal(t, 0.25, sa.Remaining)
}

func TestBudgetStatus_UnscopedBudgetSeesAllScopes(t *testing.T) {
	e := newEngine(t)
	b := e.createBudget(t, model.Budget{
		Name: "org", LimitUSD: 10, Period: model.PeriodMonthly,
		Thresholds: []float64{80}, Action: model.ActionAlert,
	})
	e.spend(t, "a1", 1)
	e.spend(t, "a2", 2)

	status, err := e.budgets.GetBudgetStatus(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, 3.0, status.CurrentSpend)
	assert.True(t, status.WindowEnd.Equal(e.clock.Now()))
	assert.Equal(t, 1, status.WindowStart.Day())
}

func TestBudgetStatus_NotFound(t *testing.T) {
	e := newEngine(t)
	_, err := e.budgets.GetBudgetStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, tracker.ErrBudgetNotFound)
}

func TestCreateBudget_Validation(t *testing.T) {
	valid := model.Budget{
		Name: "ok", LimitUSD: 1, Period: model.PeriodDaily,
		Thresholds: []float64{50}, Action: model.ActionAlert,
	}

	tests := []struct {
		name   string
		mutate func(b *model.Budget)
	}{
		{"empty name", func(b *model.Budget) { b.Name = "  " }},
		{"zero limit", func(b *model.Budget) { b.LimitUSD = 0 }},
		{"negative limit", func(b *model.Budget) { b.LimitUSD = -5 }},
		{"unknown period", func(b *model.Budget) { b.Period = "yearly" }},
		{"unknown action", func(b *model.Budget) { b.Action = "explode" }},
		{"no thresholds", func(b *model.Budget) { b.Thresholds = nil }},
		{"zero threshold", func(b *model.Budget) { b.Thresholds = []float64{0, 50} }},
		{"scope without id", func(b *model.Budget) { b.Scope = &model.BudgetScope{Type: model.ScopeAgent} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t)
			b := valid
			b.Thresholds = []float64{50}
			tt.mutate(&b)
			_, err := e.budgets.CreateBudget(context.Background(), b)
			assert.ErrorIs(t, err, tracker.ErrInvalidBudget)
		})
	}
}

func TestCreateBudget_Normalizes(t *testing.T) {
	e := newEngine(t)
	b, err := e.budgets.CreateBudget(context.Background(), model.Budget{
		Name: " team ", LimitUSD: 5, Period: model.PeriodWeekly,
		Thresholds: []float64{90, 50, 90, 75}, Scope: &model.BudgetScope{ID: "a1"},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, b.ID)
	assert.Equal(t, "team", b.Name)
	assert.Equal(t, []float64{50, 75, 90}, b.Thresholds)
	assert.Equal(t, model.ActionAlert, b.Action)
	assert.Equal(t, model.ScopeAgent, b.Scope.Type)
	assert.True(t, b.CreatedAt.Equal(e.clock.Now()))
}

func TestUpdateBudget(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	b := e.createBudget(t, model.Budget{
		Name: "team", LimitUSD: 5, Period: model.PeriodDaily,
		Thresholds: []float64{50}, Action: model.ActionAlert, Scope: agent("a1"),
	})

	e.clock.Advance(time.Minute)
	limit := 10.0
	updated, err := e.budgets.UpdateBudget(ctx, b.ID, model.BudgetPatch{LimitUSD: &limit, ClearScope: true})
	require.NoError(t, err)
	assert.Equal(t, 10.0, updated.LimitUSD)
	assert.Equal(t, "team", updated.Name)
	assert.Nil(t, updated.Scope)
	assert.True(t, updated.UpdatedAt.After(updated.CreatedAt))

	bad := -1.0
	_, err = e.budgets.UpdateBudget(ctx, b.ID, model.BudgetPatch{LimitUSD: &bad})
	assert.ErrorIs(t, err, tracker.ErrInvalidBudget)

	_, err = e.budgets.UpdateBudget(ctx, "missing", model.BudgetPatch{LimitUSD: &limit})
	assert.ErrorIs(t, err, tracker.ErrBudgetNotFound)
}

func TestDeleteBudget_DiscardsAlerts(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	b := e.createBudget(t, model.Budget{
		Name: "temp", LimitUSD: 1, Period: model.PeriodDaily,
		Thresholds: []float64{50}, Action: model.ActionAlert,
	})
	e.spend(t, "a1", 0.75)

	unacked, err := e.budgets.GetUnacknowledgedAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, unacked, 1)

	require.NoError(t, e.budgets.DeleteBudget(ctx, b.ID))
	assert.ErrorIs(t, e.budgets.DeleteBudget(ctx, b.ID), tracker.ErrBudgetNotFound)

	_, err = e.budgets.GetAlerts(ctx, b.ID)
	assert.ErrorIs(t, err, tracker.ErrBudgetNotFound)
	unacked, err = e.budgets.GetUnacknowledgedAlerts(ctx)
	require.NoError(t, err)
	assert.Empty(t, unacked)
}

func TestDeleteBudget_ConcurrentWithRecordCostLeavesNoAlerts(t *testing.T) {
	ctx := context.Background()
	for range 20 {
		e := newEngine(t)
		b := e.createBudget(t, model.Budget{
			Name: "racy", LimitUSD: 0.10, Period: model.PeriodDaily,
			Thresholds: standardThresholds, Action: model.ActionAlert,
		})

		var wg sync.WaitGroup
		for range 5 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				record := &model.UsageRecord{ScopeID: "a1", Model: "m", TotalCost: 0.05, CreatedAt: e.clock.Now()}
				_, err := e.tracker.RecordCost(ctx, record)
				assert.NoError(t, err)
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, e.budgets.DeleteBudget(ctx, b.ID))
		}()
		wg.Wait()

		orphans, err := e.store.ListAlerts(ctx, b.ID)
		require.NoError(t, err)
		assert.Empty(t, orphans)
	}
}

func TestAcknowledgeAlert(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	b := e.createBudget(t, model.Budget{
		Name: "ack", LimitUSD: 1, Period: model.PeriodDaily,
		Thresholds: []float64{50, 100}, Action: model.ActionAlert,
	})
	alerts := e.spend(t, "a1", 1.5)
	require.Len(t, alerts, 2)

	require.NoError(t, e.budgets.AcknowledgeAlert(ctx, b.ID, alerts[0].ID))
	assert.ErrorIs(t, e.budgets.AcknowledgeAlert(ctx, b.ID, "nope"), tracker.ErrAlertNotFound)

	unacked, err := e.budgets.GetUnacknowledgedAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, unacked, 1)
	assert.Equal(t, alerts[1].ID, unacked[0].ID)
}

func TestGetBudgetsByScope(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	base := model.Budget{LimitUSD: 1, Period: model.PeriodDaily, Thresholds: []float64{50}}

	org := base
	org.Name = "org"
	e.createBudget(t, org)
	a1 := base
	a1.Name, a1.Scope = "a1", agent("a1")
	e.createBudget(t, a1)
	a2 := base
	a2.Name, a2.Scope = "a2", agent("a2")
	e.createBudget(t, a2)

	got, err := e.budgets.GetBudgetsByScope(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a1", got[0].Name)

	unscoped, err := e.budgets.GetBudgetsByScope(ctx, "")
	require.NoError(t, err)
	require.Len(t, unscoped, 1)
	assert.Equal(t, "org", unscoped[0].Name)

	all, err := e.budgets.GetAllBudgets(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "org", all[0].Name)
	assert.Equal(t, "a2", all[2].Name)
}

func TestBudgetManager_Metrics(t *testing.T) {
	e := newEngine(t)
	reg := prometheus.NewRegistry()
	e.tracker.SetMetrics(tracker.NewMetrics(reg))

	e.createBudget(t, model.Budget{
		Name: "m", LimitUSD: 1, Period: model.PeriodDaily,
		Thresholds: []float64{50}, Action: model.ActionBlock,
	})
	e.spend(t, "a1", 0.75)
	_, err := e.tracker.CheckBudget(context.Background(), "a1", 1)
	require.NoError(t, err)

	for _, name := range []string{
		"lcm_budget_checks_total",
		"lcm_budget_blocks_total",
		"lcm_budget_usage_percentage",
		"lcm_alerts_emitted_total",
		"lcm_cost_usd_total",
	} {
		n, err := testutil.GatherAndCount(reg, name)
		require.NoError(t, err)
		assert.Equal(t, 1, n, name)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *tracker.Metrics
	assert.NotPanics(t, func() {
		m.RecordBudgetCheck(true, 0.1)
		m.RecordAlert("info", false)
		m.RecordCost("p", "m", 1)
		m.UpdateBudgetUsage("b", "daily", 10)
	})
}
