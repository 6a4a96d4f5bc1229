// Package pricing estimates USD session cost from token totals. Built-in
// rates cover the models the supported platforms run; a TOML file can
// override or extend them without rebuilding.
package pricing

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/mcpaudit/mcpaudit/internal/core"
)

// ModelPricing holds per-million-token prices for a model.
type ModelPricing struct {
	InputPerMTok      float64 `toml:"input_per_mtok"`
	OutputPerMTok     float64 `toml:"output_per_mtok"`
	CacheWritePerMTok float64 `toml:"cache_write_per_mtok"`
	CacheReadPerMTok  float64 `toml:"cache_read_per_mtok"`
}

// defaultPricing maps model base names to their pricing.
var defaultPricing = map[string]ModelPricing{
	"gpt-5.1-codex-max": {InputPerMTok: 1.25, OutputPerMTok: 10.00, CacheReadPerMTok: 0.125},
	"gpt-5-codex":       {InputPerMTok: 1.25, OutputPerMTok: 10.00, CacheReadPerMTok: 0.125},
	"gpt-5.1":           {InputPerMTok: 1.25, OutputPerMTok: 10.00, CacheReadPerMTok: 0.125},
	"gpt-5-mini":        {InputPerMTok: 0.25, OutputPerMTok: 2.00, CacheReadPerMTok: 0.025},
	"gpt-5-nano":        {InputPerMTok: 0.05, OutputPerMTok: 0.40, CacheReadPerMTok: 0.005},
	"gpt-5-pro":         {InputPerMTok: 15.00, OutputPerMTok: 120.00},
	"gpt-4.1":           {InputPerMTok: 2.00, OutputPerMTok: 8.00, CacheReadPerMTok: 0.50},
	"gpt-4.1-mini":      {InputPerMTok: 0.40, OutputPerMTok: 1.60, CacheReadPerMTok: 0.10},
	"gpt-4o":            {InputPerMTok: 2.50, OutputPerMTok: 10.00, CacheReadPerMTok: 1.25},

	"gemini-2.5-pro":        {InputPerMTok: 1.25, OutputPerMTok: 10.00, CacheReadPerMTok: 0.31},
	"gemini-2.5-flash":      {InputPerMTok: 0.30, OutputPerMTok: 2.50, CacheReadPerMTok: 0.075},
	"gemini-2.5-flash-lite": {InputPerMTok: 0.10, OutputPerMTok: 0.40, CacheReadPerMTok: 0.025},
	"gemini-3-pro":          {InputPerMTok: 2.00, OutputPerMTok: 12.00, CacheReadPerMTok: 0.20},
}

// Table resolves model names to pricing.
type Table struct {
	models map[string]ModelPricing
}

// NewTable returns a table with the built-in rates.
func NewTable() *Table {
	models := make(map[string]ModelPricing, len(defaultPricing))
	for name, p := range defaultPricing {
		models[name] = p
	}
	return &Table{models: models}
}

type tomlFile struct {
	Models map[string]ModelPricing `toml:"models"`
}

// LoadOverrides merges a TOML pricing file into the table. Unknown models
// are added, known models replaced.
func (t *Table) LoadOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("pricing: reading overrides: %w", err)
	}
	var file tomlFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("pricing: parsing %s: %w", path, err)
	}
	for name, p := range file.Models {
		t.models[name] = p
	}
	return nil
}

// Lookup resolves a model name, falling back to prefix matching so dated
// variants like gpt-5.1-2026-01-15 still price.
func (t *Table) Lookup(model string) (ModelPricing, bool) {
	if p, ok := t.models[model]; ok {
		return p, true
	}
	// Longest prefix wins.
	best := ""
	for name := range t.models {
		if strings.HasPrefix(model, name) && len(name) > len(best) {
			best = name
		}
	}
	if best != "" {
		return t.models[best], true
	}
	return ModelPricing{}, false
}

// Models returns the known model names sorted alphabetically.
func (t *Table) Models() []string {
	names := make([]string, 0, len(t.models))
	for name := range t.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Cost estimates the USD cost of the given totals under a model's rates.
// Unknown models cost zero; reporting shows them as unpriced.
func (t *Table) Cost(model string, totals core.TokenTotals) float64 {
	p, ok := t.Lookup(model)
	if !ok {
		return 0
	}
	const mtok = 1_000_000.0
	return float64(totals.Input)/mtok*p.InputPerMTok +
		float64(totals.Output)/mtok*p.OutputPerMTok +
		float64(totals.CacheCreated)/mtok*p.CacheWritePerMTok +
		float64(totals.CacheRead)/mtok*p.CacheReadPerMTok
}

// CostPerMTok is the blended cost per million total tokens, or 0 for
// unpriced or empty sessions.
func (t *Table) CostPerMTok(model string, totals core.TokenTotals) float64 {
	if totals.Total == 0 {
		return 0
	}
	return t.Cost(model, totals) / float64(totals.Total) * 1_000_000
}
