package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mcpaudit/mcpaudit/internal/core"
)

func renderMarkdown(rep *Report, snaps []*core.Snapshot, topTools int) []byte {
	var b strings.Builder

	b.WriteString("# MCP Usage Report\n\n")
	fmt.Fprintf(&b, "Generated: %s\n\n", rep.GeneratedAt.Format("2006-01-02 15:04:05 MST"))

	b.WriteString("## Sessions\n\n")
	b.WriteString("| Platform | Project | Model | Start | Duration | Total Tokens | Cache Eff. | MCP Calls | Cost (USD) |\n")
	b.WriteString("|---|---|---|---|---|---|---|---|---|\n")
	for _, s := range rep.Sessions {
		cost := "n/a"
		if s.Priced {
			cost = fmt.Sprintf("$%.4f", s.CostUSD)
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %.1f%% | %d | %s |\n",
			s.Platform,
			orDash(s.Project),
			orDash(s.Model),
			s.StartTime.Format("2006-01-02 15:04"),
			formatDuration(s.DurationSeconds),
			formatTokens(s.Tokens.Total),
			s.Tokens.CacheEfficiency*100,
			s.MCP.TotalCalls,
			cost,
		)
	}
	b.WriteString("\n")

	if len(rep.Platforms) > 0 {
		b.WriteString("## Platforms\n\n")
		b.WriteString("| Platform | Sessions | Total Tokens | MCP Calls | Avg Cache Eff. | Cost (USD) | Cost/MTok |\n")
		b.WriteString("|---|---|---|---|---|---|---|\n")
		for _, p := range rep.Platforms {
			fmt.Fprintf(&b, "| %s | %d | %s | %d | %.1f%% | $%.4f | $%.4f |\n",
				p.Platform, p.Sessions, formatTokens(p.TotalTokens), p.MCPCalls,
				p.AvgCacheEfficiency*100, p.CostUSD, p.CostPerMTok)
		}
		b.WriteString("\n")
		if rep.MostEfficient != "" {
			fmt.Fprintf(&b, "Most efficient platform: **%s**\n\n", rep.MostEfficient)
		}
	}

	b.WriteString("## MCP Servers\n\n")
	for _, snap := range snaps {
		for _, server := range snap.ServerNames() {
			ss := snap.Servers[server]
			fmt.Fprintf(&b, "### %s (%s)\n\n", server, snap.Session.Platform)
			b.WriteString("| Tool | Calls | Total Tokens | Avg Tokens |\n")
			b.WriteString("|---|---|---|---|\n")
			names := sortedToolNames(ss)
			if topTools > 0 && len(names) > topTools {
				names = names[:topTools]
			}
			for _, tool := range names {
				ts := ss.Tools[tool]
				fmt.Fprintf(&b, "| %s | %d | %s | %s |\n",
					tool, ts.Calls, formatTokens(ts.TotalTokens), formatTokens(ts.AvgTokens))
			}
			b.WriteString("\n")
		}
	}

	if len(rep.DetectedSmellSet) > 0 {
		b.WriteString("## Detected Smells\n\n")
		for _, smell := range rep.DetectedSmellSet {
			fmt.Fprintf(&b, "- %s\n", smell)
		}
		b.WriteString("\n")
	}

	if len(rep.ZombieTools) > 0 {
		b.WriteString("## Zombie Tools\n\n")
		b.WriteString("Advertised by a configured MCP server, never called in any session above.\n\n")
		for _, name := range rep.ZombieTools {
			fmt.Fprintf(&b, "- %s\n", name)
		}
		b.WriteString("\n")
	}

	return []byte(b.String())
}

func sortedToolNames(ss core.ServerSnapshot) []string {
	names := make([]string, 0, len(ss.Tools))
	for name := range ss.Tools {
		names = append(names, name)
	}
	// Heaviest tools first, ties alphabetical.
	sort.Slice(names, func(i, j int) bool {
		a, b := ss.Tools[names[i]], ss.Tools[names[j]]
		if a.TotalTokens == b.TotalTokens {
			return names[i] < names[j]
		}
		return a.TotalTokens > b.TotalTokens
	})
	return names
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatDuration(seconds float64) string {
	total := int(seconds)
	h, m, s := total/3600, total%3600/60, total%60
	if h > 0 {
		return fmt.Sprintf("%dh%02dm", h, m)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

func formatTokens(n int) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 10_000:
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d", n)
	}
}
