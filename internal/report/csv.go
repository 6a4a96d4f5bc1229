package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"

	"github.com/mcpaudit/mcpaudit/internal/core"
)

// renderCSV emits one row per (session, server, tool) plus a session-level
// row with an empty tool column for sessions without MCP activity.
func renderCSV(snaps []*core.Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{
		"platform", "project", "model", "start_time",
		"server", "tool", "calls", "tool_tokens", "avg_tokens",
		"session_total_tokens", "cache_efficiency",
	}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("report: writing csv header: %w", err)
	}

	for _, snap := range snaps {
		base := []string{
			snap.Session.Platform,
			snap.Session.Project,
			snap.Session.Model,
			snap.Session.StartTime.Format("2006-01-02T15:04:05Z07:00"),
		}
		tail := []string{
			strconv.Itoa(snap.Tokens.Total),
			strconv.FormatFloat(snap.Tokens.CacheEfficiency, 'f', 4, 64),
		}

		wrote := false
		for _, server := range snap.ServerNames() {
			ss := snap.Servers[server]
			for _, tool := range sortedToolNames(ss) {
				ts := ss.Tools[tool]
				row := append(append([]string{}, base...),
					server, tool,
					strconv.Itoa(ts.Calls),
					strconv.Itoa(ts.TotalTokens),
					strconv.Itoa(ts.AvgTokens),
				)
				row = append(row, tail...)
				if err := w.Write(row); err != nil {
					return nil, fmt.Errorf("report: writing csv row: %w", err)
				}
				wrote = true
			}
		}
		if !wrote {
			row := append(append([]string{}, base...), "", "", "0", "0", "0")
			row = append(row, tail...)
			if err := w.Write(row); err != nil {
				return nil, fmt.Errorf("report: writing csv row: %w", err)
			}
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("report: flushing csv: %w", err)
	}
	return buf.Bytes(), nil
}
