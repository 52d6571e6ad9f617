package tracker

import "github.com/ogulcanaydogan/LLM-Cost-Meter/pkg/model"

// Re-export types from model package for convenience.
type (
	UsageQuantity     = model.UsageQuantity
	UsageRecord       = model.UsageRecord
	CostEstimate      = model.CostEstimate
	CostBreakdown     = model.CostBreakdown
	Budget            = model.Budget
	BudgetPatch       = model.BudgetPatch
	BudgetPeriod      = model.BudgetPeriod
	BudgetStatus      = model.BudgetStatus
	Alert             = model.Alert
	EnforcementResult = model.EnforcementResult
	ReportFilter      = model.ReportFilter
	UsageSummary      = model.UsageSummary
)

// Re-export constants.
const (
	PeriodHourly  = model.PeriodHourly
	PeriodDaily   = model.PeriodDaily
	PeriodWeekly  = model.PeriodWeekly
	PeriodMonthly = model.PeriodMonthly
	PeriodTotal   = model.PeriodTotal
)

// Re-export helpers.
var (
	PeriodWindow = model.PeriodWindow
	Aggregate    = model.Aggregate
)
