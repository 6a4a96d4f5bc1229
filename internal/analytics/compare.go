package analytics

import (
	"fmt"
	"math"
	"sort"

	"github.com/samber/lo"

	"github.com/mcpaudit/mcpaudit/internal/core"
)

// ToolChange is one tool's token movement summed over every compared
// session, relative to the baseline.
type ToolChange struct {
	// Key is "server.tool".
	Key   string `json:"key"`
	Delta int    `json:"delta"`
}

// SessionComparison relates one session to the baseline.
type SessionComparison struct {
	Label         string  `json:"label"`
	TokenDelta    int     `json:"token_delta"`
	MCPShareDelta float64 `json:"mcp_share_delta"`
}

// Comparison holds a baseline session and every other selected session's
// deltas against it. The baseline is always the earliest session by start
// time.
type Comparison struct {
	BaselineLabel string              `json:"baseline_label"`
	Sessions      []SessionComparison `json:"sessions"`
	// ToolChanges ranks tools by the absolute value of their summed token
	// movement across all compared sessions, capped at five entries.
	ToolChanges []ToolChange `json:"tool_changes,omitempty"`
	// SmellMatrix maps smell name to per-session presence, ordered baseline
	// first, then the compared sessions in Sessions order.
	SmellMatrix map[string][]bool `json:"smell_matrix,omitempty"`
}

const maxToolChanges = 5

// Compare relates two or more snapshots. It returns an error for fewer than
// two sessions; there is nothing to compare against.
func Compare(snaps []*core.Snapshot) (*Comparison, error) {
	if len(snaps) < 2 {
		return nil, fmt.Errorf("comparison needs at least 2 sessions, got %d", len(snaps))
	}

	ordered := make([]*core.Snapshot, len(snaps))
	copy(ordered, snaps)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Session.StartTime.Before(ordered[j].Session.StartTime)
	})

	baseline := ordered[0]
	baseTools := toolTokens(baseline)
	baseShare := mcpShare(baseline)

	cmp := &Comparison{
		BaselineLabel: sessionLabel(baseline),
		SmellMatrix:   map[string][]bool{},
	}

	summed := map[string]int{}
	for _, snap := range ordered[1:] {
		sc := SessionComparison{
			Label:         sessionLabel(snap),
			TokenDelta:    snap.Tokens.Total - baseline.Tokens.Total,
			MCPShareDelta: mcpShare(snap) - baseShare,
		}
		cmp.Sessions = append(cmp.Sessions, sc)

		current := toolTokens(snap)
		for _, key := range lo.Uniq(append(lo.Keys(baseTools), lo.Keys(current)...)) {
			summed[key] += current[key] - baseTools[key]
		}
	}
	cmp.ToolChanges = topToolChanges(summed)

	allSmells := lo.Uniq(lo.FlatMap(ordered, func(s *core.Snapshot, _ int) []string {
		return s.Smells
	}))
	sort.Strings(allSmells)
	for _, smell := range allSmells {
		cmp.SmellMatrix[smell] = lo.Map(ordered, func(s *core.Snapshot, _ int) bool {
			return lo.Contains(s.Smells, smell)
		})
	}

	return cmp, nil
}

func sessionLabel(s *core.Snapshot) string {
	return fmt.Sprintf("%s %s", s.Session.Platform, s.Session.StartTime.Format("2006-01-02 15:04"))
}

// mcpShare is the percentage of the session's tokens attributed to MCP tool
// calls.
func mcpShare(s *core.Snapshot) float64 {
	if s.Tokens.Total == 0 {
		return 0
	}
	return float64(s.MCP.TotalTokens) / float64(s.Tokens.Total) * 100
}

// toolTokens flattens per-server tool stats into "server.tool" token counts.
// Built-in pseudo-server entries are excluded from per-tool comparison.
func toolTokens(s *core.Snapshot) map[string]int {
	out := map[string]int{}
	for server, ss := range s.Servers {
		if server == "builtin" {
			continue
		}
		for tool, stats := range ss.Tools {
			out[fmt.Sprintf("%s.%s", server, tool)] = stats.TotalTokens
		}
	}
	return out
}

// topToolChanges ranks tools by absolute summed token movement and keeps the
// top five. Ties break alphabetically for a stable order.
func topToolChanges(summed map[string]int) []ToolChange {
	changes := make([]ToolChange, 0, len(summed))
	for key, delta := range summed {
		if delta == 0 {
			continue
		}
		changes = append(changes, ToolChange{Key: key, Delta: delta})
	}
	sort.Slice(changes, func(i, j int) bool {
		di, dj := math.Abs(float64(changes[i].Delta)), math.Abs(float64(changes[j].Delta))
		if di == dj {
			return changes[i].Key < changes[j].Key
		}
		return di > dj
	})
	if len(changes) > maxToolChanges {
		changes = changes[:maxToolChanges]
	}
	return changes
}
