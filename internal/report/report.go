// Package report renders finished session snapshots as JSON, Markdown or
// CSV, including per-platform rollups and a cost estimate per session.
package report

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/mcpaudit/mcpaudit/internal/analytics"
	"github.com/mcpaudit/mcpaudit/internal/core"
	"github.com/mcpaudit/mcpaudit/internal/pricing"
)

type Format string

const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	FormatCSV      Format = "csv"
)

// ParseFormat validates a user-supplied format name.
func ParseFormat(name string) (Format, error) {
	switch Format(name) {
	case FormatJSON, FormatMarkdown, FormatCSV:
		return Format(name), nil
	default:
		return "", fmt.Errorf("unknown report format %q (json, markdown, csv)", name)
	}
}

// SessionEntry is one session's row in the report.
type SessionEntry struct {
	Platform        string           `json:"platform"`
	Project         string           `json:"project"`
	Model           string           `json:"model,omitempty"`
	StartTime       time.Time        `json:"start_time"`
	DurationSeconds float64          `json:"duration_seconds"`
	Tokens          core.TokenTotals `json:"token_usage"`
	MCP             core.MCPSummary  `json:"mcp_summary"`
	CostUSD         float64          `json:"cost_usd"`
	Priced          bool             `json:"priced"`
	Smells          []string         `json:"detected_smells,omitempty"`
}

// PlatformStats rolls sessions of one platform up.
type PlatformStats struct {
	Platform           string  `json:"platform"`
	Sessions           int     `json:"sessions"`
	TotalTokens        int     `json:"total_tokens"`
	MCPCalls           int     `json:"mcp_calls"`
	MCPTokens          int     `json:"mcp_tokens"`
	AvgCacheEfficiency float64 `json:"avg_cache_efficiency"`
	CostUSD            float64 `json:"cost_usd"`
	CostPerMTok        float64 `json:"cost_per_mtok"`
}

// Report is the renderable aggregate over the selected sessions.
type Report struct {
	GeneratedAt       time.Time       `json:"generated_at"`
	Sessions          []SessionEntry  `json:"sessions"`
	Platforms         []PlatformStats `json:"platforms"`
	MostEfficient     string          `json:"most_efficient_platform,omitempty"`
	TotalTokens       int             `json:"total_tokens"`
	TotalCostUSD      float64         `json:"total_cost_usd"`
	TotalMCPCalls     int             `json:"total_mcp_calls"`
	UnpricedSessions  int             `json:"unpriced_sessions,omitempty"`
	DetectedSmellSet  []string        `json:"detected_smell_set,omitempty"`
	ZombieTools       []string        `json:"zombie_tools,omitempty"`
}

// EfficiencyRank scores a platform; the lowest score wins "most efficient".
// Injectable so callers can rank by something other than blended cost.
type EfficiencyRank func(stats PlatformStats) float64

// RankByCostPerMTok is the default ranking: cheapest blended cost per
// million tokens.
func RankByCostPerMTok(stats PlatformStats) float64 { return stats.CostPerMTok }

// Generator builds reports from snapshots.
type Generator struct {
	pricing    *pricing.Table
	rank       EfficiencyRank
	advertised map[string][]string
	topTools   int
	now        func() time.Time
}

type Option func(*Generator)

// WithEfficiencyRank overrides the most-efficient-platform scoring.
func WithEfficiencyRank(rank EfficiencyRank) Option {
	return func(g *Generator) {
		if rank != nil {
			g.rank = rank
		}
	}
}

// WithAdvertisedTools supplies the server→tools map the MCP servers
// advertise, enabling the zombie-tool section (advertised but never
// called in any selected session).
func WithAdvertisedTools(advertised map[string][]string) Option {
	return func(g *Generator) { g.advertised = advertised }
}

// WithTopTools limits per-server tool tables to the n heaviest tools.
// Zero or negative means all.
func WithTopTools(n int) Option {
	return func(g *Generator) { g.topTools = n }
}

// WithClock injects the report timestamp source, for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

func New(table *pricing.Table, opts ...Option) *Generator {
	g := &Generator{
		pricing: table,
		rank:    RankByCostPerMTok,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Build assembles the report model from snapshots.
func (g *Generator) Build(snaps []*core.Snapshot) *Report {
	rep := &Report{GeneratedAt: g.now()}

	byPlatform := map[string]*PlatformStats{}
	cacheSums := map[string]float64{}

	for _, snap := range snaps {
		_, priced := g.pricing.Lookup(snap.Session.Model)
		cost := g.pricing.Cost(snap.Session.Model, snap.Tokens)

		entry := SessionEntry{
			Platform:        snap.Session.Platform,
			Project:         snap.Session.Project,
			Model:           snap.Session.Model,
			StartTime:       snap.Session.StartTime,
			DurationSeconds: snap.Session.DurationSeconds,
			Tokens:          snap.Tokens,
			MCP:             snap.MCP,
			CostUSD:         cost,
			Priced:          priced,
			Smells:          snap.Smells,
		}
		rep.Sessions = append(rep.Sessions, entry)
		rep.TotalTokens += snap.Tokens.Total
		rep.TotalCostUSD += cost
		rep.TotalMCPCalls += snap.MCP.TotalCalls
		if !priced {
			rep.UnpricedSessions++
		}

		ps := byPlatform[snap.Session.Platform]
		if ps == nil {
			ps = &PlatformStats{Platform: snap.Session.Platform}
			byPlatform[snap.Session.Platform] = ps
		}
		ps.Sessions++
		ps.TotalTokens += snap.Tokens.Total
		ps.MCPCalls += snap.MCP.TotalCalls
		ps.MCPTokens += snap.MCP.TotalTokens
		ps.CostUSD += cost
		cacheSums[snap.Session.Platform] += snap.Tokens.CacheEfficiency
	}

	sort.SliceStable(rep.Sessions, func(i, j int) bool {
		return rep.Sessions[i].StartTime.Before(rep.Sessions[j].StartTime)
	})

	for name, ps := range byPlatform {
		ps.AvgCacheEfficiency = cacheSums[name] / float64(ps.Sessions)
		if ps.TotalTokens > 0 {
			ps.CostPerMTok = ps.CostUSD / float64(ps.TotalTokens) * 1_000_000
		}
		rep.Platforms = append(rep.Platforms, *ps)
	}
	sort.Slice(rep.Platforms, func(i, j int) bool {
		return rep.Platforms[i].Platform < rep.Platforms[j].Platform
	})

	rep.MostEfficient = g.mostEfficient(rep.Platforms)

	smellSet := lo.Uniq(lo.FlatMap(snaps, func(s *core.Snapshot, _ int) []string {
		return s.Smells
	}))
	sort.Strings(smellSet)
	rep.DetectedSmellSet = smellSet
	rep.ZombieTools = g.zombieTools(snaps)

	return rep
}

// zombieTools reports advertised tools that no selected session ever
// called. A tool used in even one session is alive.
func (g *Generator) zombieTools(snaps []*core.Snapshot) []string {
	if len(g.advertised) == 0 || len(snaps) == 0 {
		return nil
	}
	zombies := analytics.ZombieTools(snaps[0], g.advertised)
	for _, snap := range snaps[1:] {
		per := analytics.ZombieTools(snap, g.advertised)
		zombies = lo.Filter(zombies, func(name string, _ int) bool {
			return lo.Contains(per, name)
		})
	}
	return zombies
}

// mostEfficient picks the platform with the lowest rank score among
// platforms that accrued any cost. One platform alone is not a comparison.
func (g *Generator) mostEfficient(platforms []PlatformStats) string {
	candidates := lo.Filter(platforms, func(p PlatformStats, _ int) bool {
		return p.CostUSD > 0
	})
	if len(candidates) < 2 {
		return ""
	}
	best := candidates[0]
	for _, p := range candidates[1:] {
		if g.rank(p) < g.rank(best) {
			best = p
		}
	}
	return best.Platform
}

// Render builds and encodes the report in the requested format.
func (g *Generator) Render(snaps []*core.Snapshot, format Format) ([]byte, error) {
	rep := g.Build(snaps)
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("report: encoding json: %w", err)
		}
		return append(data, '\n'), nil
	case FormatMarkdown:
		return renderMarkdown(rep, snaps, g.topTools), nil
	case FormatCSV:
		return renderCSV(snaps)
	default:
		return nil, fmt.Errorf("unknown report format %q", format)
	}
}
