package tracker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for cost metering and budget
// enforcement. A nil *Metrics records nothing.
type Metrics struct {
	// Budget checks
	budgetChecks *prometheus.CounterVec
	budgetBlocks *prometheus.CounterVec
	budgetUsage  *prometheus.GaugeVec

	// Alerts
	alertsEmitted *prometheus.CounterVec

	// Recorded usage
	costRecorded   *prometheus.CounterVec
	recordsTotal   *prometheus.CounterVec
	unpricedModels *prometheus.CounterVec

	// Check latency
	checkDuration *prometheus.HistogramVec
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		budgetChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lcm_budget_checks_total",
				Help: "Total number of pre-call budget checks performed",
			},
			[]string{"result"},
		),

		budgetBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lcm_budget_blocks_total",
				Help: "Total number of requests blocked by a budget",
			},
			[]string{"budget", "period"},
		),

		budgetUsage: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "lcm_budget_usage_percentage",
				Help: "Current budget spend as a percentage of its limit",
			},
			[]string{"budget", "period"},
		),

		alertsEmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lcm_alerts_emitted_total",
				Help: "Total number of budget threshold alerts emitted",
			},
			[]string{"severity", "kind"},
		),

		costRecorded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lcm_cost_usd_total",
				Help: "Total recorded cost in USD",
			},
			[]string{"provider", "model"},
		),

		recordsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lcm_usage_records_total",
				Help: "Total number of usage records stored",
			},
			[]string{"provider", "model"},
		),

		unpricedModels: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lcm_unpriced_lookups_total",
				Help: "Total number of cost computations for models with no price entry",
			},
			[]string{"model"},
		),

		checkDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lcm_budget_check_duration_seconds",
				Help:    "Duration of budget evaluations in seconds",
				Buckets: prometheus.ExponentialBuckets(0.00001, 2, 15), // 10µs to 160ms
			},
			[]string{"operation"},
		),
	}
}

// RecordBudgetCheck records the outcome of a pre-call check.
func (m *Metrics) RecordBudgetCheck(allowed bool, seconds float64) {
	if m == nil {
		return
	}
	result := "allowed"
	if !allowed {
		result = "blocked"
	}
	m.budgetChecks.WithLabelValues(result).Inc()
	m.checkDuration.WithLabelValues("check").Observe(seconds)
}

// RecordBlock records a request blocked by budget.
func (m *Metrics) RecordBlock(budget, period string) {
	if m == nil {
		return
	}
	m.budgetBlocks.WithLabelValues(budget, period).Inc()
}

// UpdateBudgetUsage updates the current usage percentage of a budget.
func (m *Metrics) UpdateBudgetUsage(budget, period string, percentage float64) {
	if m == nil {
		return
	}
	m.budgetUsage.WithLabelValues(budget, period).Set(percentage)
}

// DeleteBudgetUsage drops the usage gauge of a deleted budget.
func (m *Metrics) DeleteBudgetUsage(budget, period string) {
	if m == nil {
		return
	}
	m.budgetUsage.DeleteLabelValues(budget, period)
}

// RecordAlert records an emitted alert.
func (m *Metrics) RecordAlert(severity string, projected bool) {
	if m == nil {
		return
	}
	kind := "recorded"
	if projected {
		kind = "projected"
	}
	m.alertsEmitted.WithLabelValues(severity, kind).Inc()
}

// RecordCost records a stored usage record.
func (m *Metrics) RecordCost(provider, model string, cost float64) {
	if m == nil {
		return
	}
	m.recordsTotal.WithLabelValues(provider, model).Inc()
	m.costRecorded.WithLabelValues(provider, model).Add(cost)
}

// RecordUnpriced records a cost computed for a model without a price.
func (m *Metrics) RecordUnpriced(model string) {
	if m == nil {
		return
	}
	m.unpricedModels.WithLabelValues(model).Inc()
}

// ObserveRecordDuration records how long post-storage evaluation took.
func (m *Metrics) ObserveRecordDuration(seconds float64) {
	if m == nil {
		return
	}
	m.checkDuration.WithLabelValues("record").Observe(seconds)
}
