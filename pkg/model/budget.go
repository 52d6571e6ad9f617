package model

import (
	"fmt"
	"time"
)

// BudgetPeriod defines the recurring window a budget accumulates over.
type BudgetPeriod string

const (
	PeriodHourly  BudgetPeriod = "hourly"
	PeriodDaily   BudgetPeriod = "daily"
	PeriodWeekly  BudgetPeriod = "weekly"
	PeriodMonthly BudgetPeriod = "monthly"
	PeriodTotal   BudgetPeriod = "total"
)

// Valid reports whether p is a known period.
func (p BudgetPeriod) Valid() bool {
	switch p {
	case PeriodHourly, PeriodDaily, PeriodWeekly, PeriodMonthly, PeriodTotal:
		return true
	}
	return false
}

// EnforcementAction is what happens when projected spend exceeds the limit.
type EnforcementAction string

const (
	ActionAlert    EnforcementAction = "alert"
	ActionBlock    EnforcementAction = "block"
	ActionThrottle EnforcementAction = "throttle"
)

// Valid reports whether a is a known action.
func (a EnforcementAction) Valid() bool {
	switch a {
	case ActionAlert, ActionBlock, ActionThrottle:
		return true
	}
	return false
}

// ScopeAgent is the scope type for per-agent budgets.
const ScopeAgent = "agent"

// DefaultScopeID tags usage whose caller supplied no scope.
const DefaultScopeID = "default"

// BudgetScope restricts a budget to usage tagged with one scope id.
type BudgetScope struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Budget defines a spending limit over a recurring period.
type Budget struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	LimitUSD   float64           `json:"limit_usd"`
	Period     BudgetPeriod      `json:"period"`
	Thresholds []float64         `json:"thresholds"`
	Action     EnforcementAction `json:"action"`
	Scope      *BudgetScope      `json:"scope,omitempty"`
	Enabled    bool              `json:"enabled"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// AppliesTo reports whether usage tagged with scopeID counts toward b.
// Unscoped budgets apply to all usage.
func (b *Budget) AppliesTo(scopeID string) bool {
	if b.Scope == nil {
		return true
	}
	return b.Scope.ID == scopeID
}

// BudgetPatch is a partial budget update. Nil fields keep the current value.
type BudgetPatch struct {
	Name       *string            `json:"name,omitempty"`
	LimitUSD   *float64           `json:"limit_usd,omitempty"`
	Period     *BudgetPeriod      `json:"period,omitempty"`
	Thresholds []float64          `json:"thresholds,omitempty"`
	Action     *EnforcementAction `json:"action,omitempty"`
	Scope      *BudgetScope       `json:"scope,omitempty"`
	ClearScope bool               `json:"clear_scope,omitempty"`
	Enabled    *bool              `json:"enabled,omitempty"`
}

// Apply merges the patch onto b and returns the result.
func (p BudgetPatch) Apply(b Budget) Budget {
	if p.Name != nil {
		b.Name = *p.Name
	}
	if p.LimitUSD != nil {
		b.LimitUSD = *p.LimitUSD
	}
	if p.Period != nil {
		b.Period = *p.Period
	}
	if p.Thresholds != nil {
		b.Thresholds = append([]float64(nil), p.Thresholds...)
	}
	if p.Action != nil {
		b.Action = *p.Action
	}
	if p.ClearScope {
		b.Scope = nil
	}
	if p.Scope != nil {
		scope := *p.Scope
		b.Scope = &scope
	}
	if p.Enabled != nil {
		b.Enabled = *p.Enabled
	}
	return b
}

// BudgetStatus is a budget's spend in its current window. It is derived on
// demand and never stored.
type BudgetStatus struct {
	Budget           Budget    `json:"budget"`
	CurrentSpend     float64   `json:"current_spend"`
	Remaining        float64   `json:"remaining"`
	Percentage       float64   `json:"percentage"`
	Exceeded         bool      `json:"exceeded"`
	ActiveThresholds []float64 `json:"active_thresholds"`
	WindowStart      time.Time `json:"window_start"`
	WindowEnd        time.Time `json:"window_end"`
	ComputedAt       time.Time `json:"computed_at"`
}

// NewBudgetStatus derives the status of b for the given spend and window.
func NewBudgetStatus(b Budget, spend float64, start, end time.Time) BudgetStatus {
	pct := Percentage(spend, b.LimitUSD)
	active := make([]float64, 0, len(b.Thresholds))
	for _, t := range b.Thresholds {
		if t <= pct {
			active = append(active, t)
		}
	}
	return BudgetStatus{
		Budget:           b,
		CurrentSpend:     spend,
		Remaining:        max(b.LimitUSD-spend, 0),
		Percentage:       pct,
		Exceeded:         spend > b.LimitUSD,
		ActiveThresholds: active,
		WindowStart:      start,
		WindowEnd:        end,
		ComputedAt:       end,
	}
}

// Percentage returns spend as a percentage of limit, or zero for a
// non-positive limit.
func Percentage(spend, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return spend / limit * 100
}

// AlertSeverity grades an alert by the threshold that triggered it.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// SeverityFor maps a threshold percentage to a severity.
func SeverityFor(threshold float64) AlertSeverity {
	switch {
	case threshold >= 100:
		return SeverityCritical
	case threshold >= 90:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// Alert records a threshold crossing for a budget.
type Alert struct {
	ID           string        `json:"id"`
	BudgetID     string        `json:"budget_id"`
	BudgetName   string        `json:"budget_name"`
	Period       BudgetPeriod  `json:"period"`
	Threshold    float64       `json:"threshold"`
	Spend        float64       `json:"spend"`
	Limit        float64       `json:"limit"`
	Severity     AlertSeverity `json:"severity"`
	Message      string        `json:"message"`
	WindowStart  time.Time     `json:"window_start"`
	Projected    bool          `json:"projected,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	Acknowledged bool          `json:"acknowledged"`
}

// AlertMessage formats the human-readable text of an alert.
func AlertMessage(b Budget, threshold, spend float64, projected bool) string {
	verb := "reached"
	if projected {
		verb = "would reach"
	}
	return fmt.Sprintf("Budget %q %s %.0f%% of limit ($%.4f / $%.2f, %s)",
		b.Name, verb, threshold, spend, b.LimitUSD, b.Period)
}

// EnforcementResult is the outcome of a pre-call budget check.
type EnforcementResult struct {
	Allowed   bool           `json:"allowed"`
	BlockedBy *Budget        `json:"blocked_by,omitempty"`
	Status    *BudgetStatus  `json:"status,omitempty"`
	Alerts    []Alert        `json:"alerts"`
	Statuses  []BudgetStatus `json:"statuses"`
	Throttled []string       `json:"throttled,omitempty"`
}

// PeriodWindow returns the start of the current window for period. The
// window end is always now. Weeks start on Monday.
func PeriodWindow(period BudgetPeriod, now time.Time) (start, end time.Time) {
	loc := now.Location()
	switch period {
	case PeriodHourly:
		// Subtract elapsed time instead of rebuilding the wall clock, which
		// is ambiguous in the repeated hour when DST ends.
		start = now.Add(-(time.Duration(now.Minute())*time.Minute +
			time.Duration(now.Second())*time.Second +
			time.Duration(now.Nanosecond())))
	case PeriodDaily:
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	case PeriodWeekly:
		weekday := int(now.Weekday())
		if weekday == 0 {
			weekday = 7
		}
		start = time.Date(now.Year(), now.Month(), now.Day()-weekday+1, 0, 0, 0, 0, loc)
	case PeriodMonthly:
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
	default:
		start = time.Unix(0, 0).In(loc)
	}
	return start, now
}
