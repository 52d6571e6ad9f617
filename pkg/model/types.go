package model

import "time"

// PriceEntry is the published price of a single model.
type PriceEntry struct {
	Model          string    `json:"model" yaml:"model"`
	Provider       string    `json:"provider" yaml:"provider"`
	InputPer1K     float64   `json:"input_per_1k" yaml:"input_per_1k"`
	OutputPer1K    float64   `json:"output_per_1k" yaml:"output_per_1k"`
	ImagePerUnit   float64   `json:"image_per_unit,omitempty" yaml:"image_per_unit,omitempty"`
	AudioPerSecond float64   `json:"audio_per_second,omitempty" yaml:"audio_per_second,omitempty"`
	Version        time.Time `json:"version" yaml:"-"`
}

// PricePatch is a partial price override. Nil fields keep the base value.
type PricePatch struct {
	Provider       *string  `json:"provider,omitempty"`
	InputPer1K     *float64 `json:"input_per_1k,omitempty"`
	OutputPer1K    *float64 `json:"output_per_1k,omitempty"`
	ImagePerUnit   *float64 `json:"image_per_unit,omitempty"`
	AudioPerSecond *float64 `json:"audio_per_second,omitempty"`
}

// Apply merges the patch onto base and returns the result.
func (p PricePatch) Apply(base PriceEntry) PriceEntry {
	if p.Provider != nil {
		base.Provider = *p.Provider
	}
	if p.InputPer1K != nil {
		base.InputPer1K = *p.InputPer1K
	}
	if p.OutputPer1K != nil {
		base.OutputPer1K = *p.OutputPer1K
	}
	if p.ImagePerUnit != nil {
		base.ImagePerUnit = *p.ImagePerUnit
	}
	if p.AudioPerSecond != nil {
		base.AudioPerSecond = *p.AudioPerSecond
	}
	return base
}

// UsageQuantity holds the units consumed by a single provider call.
type UsageQuantity struct {
	InputUnits   int64   `json:"input_units"`
	OutputUnits  int64   `json:"output_units"`
	TotalUnits   int64   `json:"total_units"`
	Images       int64   `json:"images,omitempty"`
	AudioSeconds float64 `json:"audio_seconds,omitempty"`
}

// Normalized clamps negative counts to zero and fills TotalUnits when unset.
func (u UsageQuantity) Normalized() UsageQuantity {
	u.InputUnits = max(u.InputUnits, 0)
	u.OutputUnits = max(u.OutputUnits, 0)
	u.TotalUnits = max(u.TotalUnits, 0)
	u.Images = max(u.Images, 0)
	u.AudioSeconds = max(u.AudioSeconds, 0)
	if u.TotalUnits == 0 {
		u.TotalUnits = u.InputUnits + u.OutputUnits
	}
	return u
}

// CostBreakdown itemizes a cost in USD.
type CostBreakdown struct {
	Input  float64 `json:"input"`
	Output float64 `json:"output"`
	Image  float64 `json:"image,omitempty"`
	Audio  float64 `json:"audio,omitempty"`
}

// Total sums the breakdown in input, output, image, audio order.
func (b CostBreakdown) Total() float64 {
	total := b.Input
	total += b.Output
	total += b.Image
	total += b.Audio
	return total
}

// CostEstimate is a pre-call cost projection. It is never stored.
type CostEstimate struct {
	Model     string        `json:"model"`
	Provider  string        `json:"provider"`
	Usage     UsageQuantity `json:"usage"`
	Breakdown CostBreakdown `json:"breakdown"`
	TotalCost float64       `json:"total_cost_usd"`
	Priced    bool          `json:"priced"`
	CreatedAt time.Time     `json:"created_at"`
}

// UsageRecord is the finalized cost of one completed provider call.
type UsageRecord struct {
	ID            string            `json:"id"`
	CorrelationID string            `json:"correlation_id"`
	ScopeID       string            `json:"scope_id"`
	Model         string            `json:"model"`
	Provider      string            `json:"provider"`
	Usage         UsageQuantity     `json:"usage"`
	Breakdown     CostBreakdown     `json:"breakdown"`
	TotalCost     float64           `json:"total_cost_usd"`
	CreatedAt     time.Time         `json:"created_at"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// ReportFilter controls what usage records are included in reports.
type ReportFilter struct {
	Provider      string    `json:"provider,omitempty"`
	Model         string    `json:"model,omitempty"`
	ScopeID       string    `json:"scope_id,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	StartTime     time.Time `json:"start_time,omitempty"`
	EndTime       time.Time `json:"end_time,omitempty"`
}

// Match reports whether r passes the filter. Time bounds are inclusive.
func (f ReportFilter) Match(r UsageRecord) bool {
	if f.Provider != "" && r.Provider != f.Provider {
		return false
	}
	if f.Model != "" && r.Model != f.Model {
		return false
	}
	if f.ScopeID != "" && r.ScopeID != f.ScopeID {
		return false
	}
	if f.CorrelationID != "" && r.CorrelationID != f.CorrelationID {
		return false
	}
	return InRange(r.CreatedAt, f.StartTime, f.EndTime)
}

// InRange reports whether t lies in [from, to]. A zero bound is open.
func InRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && t.After(to) {
		return false
	}
	return true
}

// UsageSummary holds aggregated usage statistics.
type UsageSummary struct {
	From              time.Time          `json:"from"`
	To                time.Time          `json:"to"`
	ScopeID           string             `json:"scope_id,omitempty"`
	TotalCostUSD      float64            `json:"total_cost_usd"`
	RecordCount       int64              `json:"record_count"`
	AverageCostUSD    float64            `json:"average_cost_usd"`
	TotalInputUnits   int64              `json:"total_input_units"`
	TotalOutputUnits  int64              `json:"total_output_units"`
	TotalUnits        int64              `json:"total_units"`
	TotalImages       int64              `json:"total_images,omitempty"`
	TotalAudioSeconds float64            `json:"total_audio_seconds,omitempty"`
	ByModel           map[string]float64 `json:"by_model"`
	ByProvider        map[string]float64 `json:"by_provider"`
	ByScope           map[string]float64 `json:"by_scope"`
}

// Aggregate summarizes the records that fall inside [from, to] and, when
// scopeID is set, belong to that scope. Records are summed in slice order.
func Aggregate(records []UsageRecord, from, to time.Time, scopeID string) *UsageSummary {
	summary := &UsageSummary{
		From:       from,
		To:         to,
		ScopeID:    scopeID,
		ByModel:    make(map[string]float64),
		ByProvider: make(map[string]float64),
		ByScope:    make(map[string]float64),
	}

	for _, r := range records {
		if scopeID != "" && r.ScopeID != scopeID {
			continue
		}
		if !InRange(r.CreatedAt, from, to) {
			continue
		}
		summary.RecordCount++
		summary.TotalCostUSD += r.TotalCost
		summary.TotalInputUnits += r.Usage.InputUnits
		summary.TotalOutputUnits += r.Usage.OutputUnits
		summary.TotalUnits += r.Usage.TotalUnits
		summary.TotalImages += r.Usage.Images
		summary.TotalAudioSeconds += r.Usage.AudioSeconds
		summary.ByModel[r.Model] += r.TotalCost
		summary.ByProvider[r.Provider] += r.TotalCost
		summary.ByScope[r.ScopeID] += r.TotalCost
	}

	if summary.RecordCount > 0 {
		summary.AverageCostUSD = summary.TotalCostUSD / float64(summary.RecordCount)
	}
	return summary
}
