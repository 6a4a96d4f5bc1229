package analytics

import (
	"sort"

	"github.com/mcpaudit/mcpaudit/internal/core"
)

// Smell names attached to a session snapshot.
const (
	SmellHighVariance       = "high-variance"
	SmellExcessiveFrequency = "excessive-frequency"
	SmellTokenHeavyTool     = "token-heavy-tool"
	SmellLowCacheHit        = "low-cache-hit"
)

// SmellConfig holds detector thresholds. Zero values mean "use default", so
// a partially filled config still behaves sensibly.
type SmellConfig struct {
	// HighVarianceCV is the coefficient of variation (stddev/mean) above
	// which a tool's per-call token counts are considered erratic.
	HighVarianceCV float64 `json:"high_variance_cv"`
	// MinCallsForVariance guards the variance detector against noise from
	// tiny samples.
	MinCallsForVariance int `json:"min_calls_for_variance"`
	// ExcessiveCallsPerMinute flags a tool hammered faster than this rate.
	ExcessiveCallsPerMinute float64 `json:"excessive_calls_per_minute"`
	// TokenHeavyShare flags a single tool consuming more than this fraction
	// of the session's total tokens.
	TokenHeavyShare float64 `json:"token_heavy_share"`
	// LowCacheHitBelow flags sessions whose cache efficiency stays under
	// this value despite meaningful input volume.
	LowCacheHitBelow float64 `json:"low_cache_hit_below"`
	// LowCacheHitMinInput is the input+cache volume below which cache
	// efficiency is not judged.
	LowCacheHitMinInput int `json:"low_cache_hit_min_input"`
}

// DefaultSmellConfig returns the stock thresholds.
func DefaultSmellConfig() SmellConfig {
	return SmellConfig{
		HighVarianceCV:          1.5,
		MinCallsForVariance:     5,
		ExcessiveCallsPerMinute: 10,
		TokenHeavyShare:         0.5,
		LowCacheHitBelow:        0.2,
		LowCacheHitMinInput:     10000,
	}
}

func (c SmellConfig) withDefaults() SmellConfig {
	def := DefaultSmellConfig()
	if c.HighVarianceCV <= 0 {
		c.HighVarianceCV = def.HighVarianceCV
	}
	if c.MinCallsForVariance <= 0 {
		c.MinCallsForVariance = def.MinCallsForVariance
	}
	if c.ExcessiveCallsPerMinute <= 0 {
		c.ExcessiveCallsPerMinute = def.ExcessiveCallsPerMinute
	}
	if c.TokenHeavyShare <= 0 {
		c.TokenHeavyShare = def.TokenHeavyShare
	}
	if c.LowCacheHitBelow <= 0 {
		c.LowCacheHitBelow = def.LowCacheHitBelow
	}
	if c.LowCacheHitMinInput <= 0 {
		c.LowCacheHitMinInput = def.LowCacheHitMinInput
	}
	return c
}

// DetectSmells inspects a finished session and returns the sorted names of
// every usage smell present.
func DetectSmells(snap *core.Snapshot, cfg SmellConfig) []string {
	cfg = cfg.withDefaults()
	found := map[string]bool{}

	minutes := snap.Session.DurationSeconds / 60
	for _, server := range snap.Servers {
		for _, tool := range server.Tools {
			if hasHighVariance(tool, cfg) {
				found[SmellHighVariance] = true
			}
			if minutes > 0 && float64(tool.Calls)/minutes > cfg.ExcessiveCallsPerMinute {
				found[SmellExcessiveFrequency] = true
			}
			if snap.Tokens.Total > 0 &&
				float64(tool.TotalTokens)/float64(snap.Tokens.Total) > cfg.TokenHeavyShare {
				found[SmellTokenHeavyTool] = true
			}
		}
	}

	inputVolume := snap.Tokens.Input + snap.Tokens.CacheCreated + snap.Tokens.CacheRead
	if inputVolume >= cfg.LowCacheHitMinInput && snap.Tokens.CacheEfficiency < cfg.LowCacheHitBelow {
		found[SmellLowCacheHit] = true
	}

	smells := make([]string, 0, len(found))
	for name := range found {
		smells = append(smells, name)
	}
	sort.Strings(smells)
	return smells
}

func hasHighVariance(tool core.ToolStats, cfg SmellConfig) bool {
	if len(tool.CallHistory) < cfg.MinCallsForVariance {
		return false
	}
	values := make([]float64, len(tool.CallHistory))
	for i, rec := range tool.CallHistory {
		values[i] = float64(rec.TotalTokens)
	}
	m := mean(values)
	if m == 0 {
		return false
	}
	return stddev(values)/m > cfg.HighVarianceCV
}

// ZombieTools returns advertised tools that were never called during the
// session, as "server.tool" keys sorted alphabetically. advertised maps
// server name to its advertised tool names.
func ZombieTools(snap *core.Snapshot, advertised map[string][]string) []string {
	var zombies []string
	for server, tools := range advertised {
		ss, ok := snap.Servers[server]
		for _, tool := range tools {
			used := false
			if ok {
				_, used = ss.Tools[tool]
			}
			if !used {
				zombies = append(zombies, server+"."+tool)
			}
		}
	}
	sort.Strings(zombies)
	return zombies
}
