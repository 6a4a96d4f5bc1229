package browser

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"

	"github.com/mcpaudit/mcpaudit/internal/core"
	"github.com/mcpaudit/mcpaudit/internal/pricing"
	"github.com/mcpaudit/mcpaudit/internal/store"
)

func browserSnapshot(platform string, start time.Time, total int) *core.Snapshot {
	return &core.Snapshot{
		Session: core.SessionInfo{
			Platform:        platform,
			Project:         "demo",
			Model:           "gpt-5.1",
			StartTime:       start,
			EndTime:         start.Add(5 * time.Minute),
			DurationSeconds: 300,
		},
		Tokens: core.TokenTotals{Input: total, Total: total},
		MCP:    core.MCPSummary{TotalCalls: 1, UniqueTools: 1, TotalTokens: 10},
		Servers: map[string]core.ServerSnapshot{
			"zen": {
				TotalCalls:  1,
				TotalTokens: 10,
				Tools: map[string]core.ToolStats{
					"chat": {
						Calls: 1, TotalTokens: 10, AvgTokens: 10,
						CallHistory: []core.CallRecord{{Timestamp: start, TotalTokens: 10}},
					},
				},
			},
		},
	}
}

func seededModel(t *testing.T, snaps ...*core.Snapshot) Model {
	t.Helper()
	entries := make([]entry, 0, len(snaps))
	for i, snap := range snaps {
		entries = append(entries, entry{
			Record: store.SessionRecord{
				Dir:         store.SessionDirName(snap.Session.Platform, snap.Session.StartTime),
				Platform:    snap.Session.Platform,
				StartTime:   snap.Session.StartTime,
				TotalTokens: snap.Tokens.Total,
				MCPCalls:    snap.MCP.TotalCalls,
			},
			Snapshot: snaps[i],
		})
	}
	m := NewModel(nil, pricing.NewTable(), nil)
	updated, _ := m.Update(sessionsMsg(entries))
	return updated.(Model)
}

func key(s string) tea.KeyMsg {
	if s == " " {
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestListNavigation(t *testing.T) {
	t0 := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	m := seededModel(t,
		browserSnapshot("codex-cli", t0, 100),
		browserSnapshot("gemini-cli", t0.Add(time.Hour), 200),
	)

	if m.cursor != 0 {
		t.Fatalf("initial cursor = %d", m.cursor)
	}
	updated, _ := m.Update(key("j"))
	m = updated.(Model)
	if m.cursor != 1 {
		t.Errorf("cursor after j = %d, want 1", m.cursor)
	}
	// Bottom of the list is sticky.
	updated, _ = m.Update(key("j"))
	m = updated.(Model)
	if m.cursor != 1 {
		t.Errorf("cursor past end = %d, want 1", m.cursor)
	}
	updated, _ = m.Update(key("k"))
	m = updated.(Model)
	if m.cursor != 0 {
		t.Errorf("cursor after k = %d, want 0", m.cursor)
	}
}

func TestEnterOpensDetailAndEscReturns(t *testing.T) {
	t0 := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	m := seededModel(t, browserSnapshot("codex-cli", t0, 100))

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = updated.(Model)
	if m.screen != screenDetail {
		t.Fatalf("screen = %v, want detail", m.screen)
	}

	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = updated.(Model)
	if m.screen != screenList {
		t.Errorf("screen after esc = %v, want list", m.screen)
	}
}

func TestCompareRequiresTwoMarked(t *testing.T) {
	t0 := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	m := seededModel(t,
		browserSnapshot("codex-cli", t0, 100),
		browserSnapshot("gemini-cli", t0.Add(time.Hour), 200),
	)

	updated, _ := m.Update(key("c"))
	m = updated.(Model)
	if m.err == nil {
		t.Fatal("compare without marks should set an error")
	}
	if m.screen != screenList {
		t.Errorf("screen = %v, want list", m.screen)
	}

	// Mark both sessions, then compare.
	updated, _ = m.Update(key(" "))
	m = updated.(Model)
	updated, _ = m.Update(key("j"))
	m = updated.(Model)
	updated, _ = m.Update(key(" "))
	m = updated.(Model)
	updated, _ = m.Update(key("c"))
	m = updated.(Model)

	if m.err != nil {
		t.Fatalf("compare error: %v", m.err)
	}
	if m.screen != screenCompare {
		t.Errorf("screen = %v, want compare", m.screen)
	}
	if m.compared == nil || len(m.compared.Sessions) != 1 {
		t.Errorf("comparison = %+v", m.compared)
	}
}

func TestToolDrilldownNavigation(t *testing.T) {
	t0 := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	m := seededModel(t, browserSnapshot("codex-cli", t0, 100))

	updated, _ := m.Update(key("t"))
	m = updated.(Model)
	if m.screen != screenTools {
		t.Fatalf("screen = %v, want tools", m.screen)
	}
	if rows := m.toolRows(); len(rows) != 1 || rows[0].Tool != "chat" {
		t.Errorf("tool rows = %+v", rows)
	}
	// Single row: cursor pinned.
	updated, _ = m.Update(key("j"))
	m = updated.(Model)
	if m.toolRow != 0 {
		t.Errorf("tool row = %d, want 0", m.toolRow)
	}
}

func TestListViewRendersSessions(t *testing.T) {
	t0 := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	m := seededModel(t, browserSnapshot("codex-cli", t0, 12345))
	m.width = 120

	out := ansi.Strip(m.View())
	if !strings.Contains(out, "codex-cli") {
		t.Errorf("list view missing platform:\n%s", out)
	}
	if !strings.Contains(out, "12.3K") {
		t.Errorf("list view missing token count:\n%s", out)
	}
}

func TestEmptyListView(t *testing.T) {
	m := NewModel(nil, pricing.NewTable(), nil)
	updated, _ := m.Update(sessionsMsg(nil))
	m = updated.(Model)

	out := ansi.Strip(m.View())
	if !strings.Contains(out, "no recorded sessions") {
		t.Errorf("empty view = %q", out)
	}
}
