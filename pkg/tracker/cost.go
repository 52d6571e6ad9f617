package tracker

import (
	"fmt"
	"maps"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/ogulcanaydogan/LLM-Cost-Meter/pkg/model"
	"github.com/ogulcanaydogan/LLM-Cost-Meter/pkg/pricing"
	"github.com/ogulcanaydogan/LLM-Cost-Meter/pkg/tokenizer"
)

// CostCalculator turns usage quantities into costs. Pricing is fail-open:
// a model with no price entry, or a disabled calculator, costs zero.
type CostCalculator struct {
	catalog *pricing.Catalog
	enabled atomic.Bool
	now     func() time.Time
	metrics *Metrics
}

// NewCostCalculator creates a cost calculator backed by a pricing catalog.
func NewCostCalculator(catalog *pricing.Catalog, enabled bool) *CostCalculator {
	c := &CostCalculator{
		catalog: catalog,
		now:     time.Now,
	}
	c.enabled.Store(enabled)
	return c
}

// SetEnabled switches metering on or off.
func (c *CostCalculator) SetEnabled(enabled bool) { c.enabled.Store(enabled) }

// Enabled reports whether metering is on.
func (c *CostCalculator) Enabled() bool { return c.enabled.Load() }

// SetClock replaces the time source used for timestamps.
func (c *CostCalculator) SetClock(now func() time.Time) { c.now = now }

// SetMetrics attaches Prometheus metrics.
func (c *CostCalculator) SetMetrics(m *Metrics) { c.metrics = m }

// Catalog returns the pricing catalog in use.
func (c *CostCalculator) Catalog() *pricing.Catalog { return c.catalog }

// Estimate projects the cost of a call before it is made.
func (c *CostCalculator) Estimate(modelID string, usage model.UsageQuantity, provider string) model.CostEstimate {
	usage = usage.Normalized()
	breakdown, resolved, priced := c.price(modelID, usage, provider)
	return model.CostEstimate{
		Model:     modelID,
		Provider:  resolved,
		Usage:     usage,
		Breakdown: breakdown,
		TotalCost: breakdown.Total(),
		Priced:    priced,
		CreatedAt: c.now(),
	}
}

// Finalize computes the actual cost of a completed call and returns a new
// usage record with a fresh id. The record is not stored.
func (c *CostCalculator) Finalize(correlationID, scopeID, modelID string, usage model.UsageQuantity, provider string, metadata map[string]string) model.UsageRecord {
	usage = usage.Normalized()
	breakdown, resolved, _ := c.price(modelID, usage, provider)
	return model.UsageRecord{
		ID:            uuid.New().String(),
		CorrelationID: correlationID,
		ScopeID:       scopeID,
		Model:         modelID,
		Provider:      resolved,
		Usage:         usage,
		Breakdown:     breakdown,
		TotalCost:     breakdown.Total(),
		CreatedAt:     c.now(),
		Metadata:      maps.Clone(metadata),
	}
}

// EstimateText estimates a call from its prompt text, counting input tokens
// with the model's tokenizer and assuming maxOutput output tokens.
func (c *CostCalculator) EstimateText(modelID, provider, prompt string, maxOutput int64) (model.CostEstimate, error) {
	if provider == "" {
		if entry, ok := c.catalog.Lookup(modelID, ""); ok {
			provider = entry.Provider
		}
	}

	tokens, err := tokenizer.CountTokens(prompt, provider, modelID)
	if err != nil {
		return model.CostEstimate{}, fmt.Errorf("count prompt tokens: %w", err)
	}
	return c.Estimate(modelID, model.UsageQuantity{InputUnits: tokens, OutputUnits: maxOutput}, provider), nil
}

// price returns the cost breakdown, the provider to report and whether a
// price entry was found.
func (c *CostCalculator) price(modelID string, usage model.UsageQuantity, provider string) (model.CostBreakdown, string, bool) {
	if !c.Enabled() {
		return model.CostBreakdown{}, provider, false
	}

	entry, ok := c.catalog.Lookup(modelID, provider)
	if !ok {
		c.metrics.RecordUnpriced(modelID)
		return model.CostBreakdown{}, provider, false
	}
	if provider == "" {
		provider = entry.Provider
	}
	return CalculateCost(entry, usage), provider, true
}

// CalculateCost prices usage against a single entry. Token-like units are
// priced per thousand.
func CalculateCost(entry model.PriceEntry, usage model.UsageQuantity) model.CostBreakdown {
	return model.CostBreakdown{
		Input:  float64(usage.InputUnits) / 1000 * entry.InputPer1K,
		Output: float64(usage.OutputUnits) / 1000 * entry.OutputPer1K,
		Image:  float64(usage.Images) * entry.ImagePerUnit,
		Audio:  usage.AudioSeconds * entry.AudioPerSecond,
	}
}
