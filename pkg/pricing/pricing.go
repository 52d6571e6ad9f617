package pricing

import (
	"fmt"
	"os"
	"time"

	"github.com/ogulcanaydogan/LLM-Cost-Meter/pkg/model"
	"gopkg.in/yaml.v3"
)

// LoadPricing reads a YAML pricing file and returns the provider configuration.
func LoadPricing(path string) (*ProviderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing file %s: %w", path, err)
	}

	cfg, err := LoadPricingFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("pricing file %s: %w", path, err)
	}
	return cfg, nil
}

// LoadPricingFromBytes parses and validates YAML pricing data.
func LoadPricingFromBytes(data []byte) (*ProviderConfig, error) {
	var cfg ProviderConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse pricing data: %w", err)
	}

	if cfg.Provider == "" {
		return nil, fmt.Errorf("missing provider name")
	}
	if len(cfg.Models) == 0 {
		return nil, fmt.Errorf("no models defined")
	}
	for _, m := range cfg.Models {
		if m.Model == "" {
			return nil, fmt.Errorf("model entry without a name")
		}
		if m.InputPer1K < 0 || m.OutputPer1K < 0 || m.ImagePerUnit < 0 || m.AudioPerSecond < 0 {
			return nil, fmt.Errorf("model %q: negative price", m.Model)
		}
	}
	if cfg.Updated != "" {
		if _, err := time.Parse(time.DateOnly, cfg.Updated); err != nil {
			return nil, fmt.Errorf("invalid updated date %q: %w", cfg.Updated, err)
		}
	}

	return &cfg, nil
}

// Entries converts the file contents into published price entries.
func (c *ProviderConfig) Entries() []model.PriceEntry {
	version, _ := time.Parse(time.DateOnly, c.Updated)

	entries := make([]model.PriceEntry, 0, len(c.Models))
	for _, m := range c.Models {
		entries = append(entries, model.PriceEntry{
			Model:          m.Model,
			Provider:       c.Provider,
			InputPer1K:     m.InputPer1K,
			OutputPer1K:    m.OutputPer1K,
			ImagePerUnit:   m.ImagePerUnit,
			AudioPerSecond: m.AudioPerSecond,
			Version:        version,
		})
	}
	return entries
}
