package pricing

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/ogulcanaydogan/LLM-Cost-Meter/pkg/model"
)

//go:embed data/*.yaml
var defaultFiles embed.FS

// Catalog maps model identifiers to prices. Operator overrides shadow
// catalog entries without mutating them. Catalog is safe for concurrent use.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]model.PriceEntry
	// overrides is keyed by lower-cased model id.
	overrides map[string]model.PriceEntry
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		entries:   make(map[string]model.PriceEntry),
		overrides: make(map[string]model.PriceEntry),
	}
}

// Default returns a catalog populated from the built-in pricing files.
func Default() (*Catalog, error) {
	files, err := defaultFiles.ReadDir("data")
	if err != nil {
		return nil, fmt.Errorf("read built-in pricing: %w", err)
	}

	c := NewCatalog()
	for _, f := range files {
		data, err := defaultFiles.ReadFile("data/" + f.Name())
		if err != nil {
			return nil, fmt.Errorf("read built-in pricing %s: %w", f.Name(), err)
		}
		cfg, err := LoadPricingFromBytes(data)
		if err != nil {
			return nil, fmt.Errorf("built-in pricing %s: %w", f.Name(), err)
		}
		c.Register(cfg)
	}
	return c, nil
}

// Register publishes every model in cfg. A model already in the catalog is
// replaced by the newer entry.
func (c *Catalog) Register(cfg *ProviderConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range cfg.Entries() {
		c.entries[e.Model] = e
	}
}

// LoadDir replaces the published catalog with the contents of every *.yaml
// file in dir. Overrides are kept. On error the catalog is left unchanged.
func (c *Catalog) LoadDir(dir string) error {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return fmt.Errorf("list pricing files: %w", err)
	}
	if len(paths) == 0 {
		if _, statErr := os.Stat(dir); statErr != nil {
			return fmt.Errorf("pricing dir %s: %w", dir, statErr)
		}
		return fmt.Errorf("pricing dir %s: no pricing files", dir)
	}

	entries := make(map[string]model.PriceEntry)
	for _, path := range paths {
		cfg, err := LoadPricing(path)
		if err != nil {
			return err
		}
		for _, e := range cfg.Entries() {
			entries[e.Model] = e
		}
	}

	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()
	return nil
}

// Lookup resolves the price for modelID. Overrides are consulted first,
// then the catalog by exact key, case-insensitive key, and finally by model
// family: the entry sharing the longest prefix with modelID, where either
// one is a prefix of the other. An override on the family winner shadows
// it. Only the family match is filtered by provider. Unknown models report
// false.
func (c *Catalog) Lookup(modelID, provider string) (model.PriceEntry, bool) {
	if modelID == "" {
		return model.PriceEntry{}, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if e, ok := c.overrides[strings.ToLower(modelID)]; ok {
		return e, true
	}
	if e, ok := lookupKey(c.entries, modelID); ok {
		return e, true
	}
	return c.familyLocked(modelID, provider)
}

func lookupKey(m map[string]model.PriceEntry, modelID string) (model.PriceEntry, bool) {
	if e, ok := m[modelID]; ok {
		return e, true
	}

	// Several keys may differ only by case; pick the lowest for stable results.
	var bestKey string
	for key := range m {
		if strings.EqualFold(key, modelID) && (bestKey == "" || key < bestKey) {
			bestKey = key
		}
	}
	if bestKey == "" {
		return model.PriceEntry{}, false
	}
	return m[bestKey], true
}

// familyLocked picks the longest common prefix among catalog and override
// keys; ties go to the shorter key, then the lexically smaller one. Caller
// must hold the read lock.
func (c *Catalog) familyLocked(modelID, provider string) (model.PriceEntry, bool) {
	query := strings.ToLower(modelID)

	var (
		best    model.PriceEntry
		bestKey string
		bestLen = -1
	)
	consider := func(key string, e model.PriceEntry) {
		if provider != "" && !strings.EqualFold(e.Provider, provider) {
			return
		}
		k := strings.ToLower(key)
		if !strings.HasPrefix(query, k) && !strings.HasPrefix(k, query) {
			return
		}

		common := min(len(k), len(query))
		better := common > bestLen ||
			(common == bestLen && len(key) < len(bestKey)) ||
			(common == bestLen && len(key) == len(bestKey) && key < bestKey)
		if better {
			best, bestKey, bestLen = e, key, common
		}
	}
	for key, e := range c.entries {
		consider(key, e)
	}
	for _, e := range c.overrides {
		consider(e.Model, e)
	}

	if bestLen < 0 {
		return model.PriceEntry{}, false
	}
	if e, ok := c.overrides[strings.ToLower(bestKey)]; ok {
		return e, true
	}
	return best, true
}

// SetOverride shadows modelID with patch merged onto the catalog entry of
// the same name, or onto a zero-priced entry when the catalog has none.
func (c *Catalog) SetOverride(modelID string, patch model.PricePatch) model.PriceEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	base, ok := lookupKey(c.entries, modelID)
	if !ok {
		base = model.PriceEntry{}
	}
	base.Model = modelID

	entry := patch.Apply(base)
	c.overrides[strings.ToLower(modelID)] = entry
	return entry
}

// ClearOverride removes the override for modelID, matched without regard
// to case. It reports whether one existed.
func (c *Catalog) ClearOverride(modelID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := strings.ToLower(modelID)
	_, ok := c.overrides[key]
	delete(c.overrides, key)
	return ok
}

// Entries returns published entries sorted by provider then model.
func (c *Catalog) Entries() []model.PriceEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedEntries(c.entries)
}

// Overrides returns the active overrides sorted by provider then model.
func (c *Catalog) Overrides() []model.PriceEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedEntries(c.overrides)
}

// Len returns the number of published entries.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func sortedEntries(m map[string]model.PriceEntry) []model.PriceEntry {
	out := make([]model.PriceEntry, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b model.PriceEntry) int {
		if c := strings.Compare(a.Provider, b.Provider); c != 0 {
			return c
		}
		return strings.Compare(a.Model, b.Model)
	})
	return out
}
