// Package browser is the interactive session browser: a bubbletea TUI over
// the persisted session snapshots with per-tool drilldown, an activity
// timeline and multi-session comparison. The sessions directory is watched
// so finished sessions appear without restarting.
package browser

import (
	"context"
	"fmt"
	"sort"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mcpaudit/mcpaudit/internal/analytics"
	"github.com/mcpaudit/mcpaudit/internal/core"
	"github.com/mcpaudit/mcpaudit/internal/pricing"
	"github.com/mcpaudit/mcpaudit/internal/store"
)

type screen int

const (
	screenList screen = iota
	screenDetail
	screenTools
	screenTimeline
	screenCompare
)

// entry pairs an index row with its loaded snapshot.
type entry struct {
	Record   store.SessionRecord
	Snapshot *core.Snapshot
}

type sessionsMsg []entry

type refreshMsg struct{}

type errMsg struct{ err error }

// Model is the browser's bubbletea model.
type Model struct {
	st      *store.Store
	pricing *pricing.Table
	watch   <-chan struct{}

	entries  []entry
	cursor   int
	toolRow  int
	marked   map[string]bool
	screen   screen
	width    int
	height   int
	err      error
	loaded   bool
	compared *analytics.Comparison
}

func NewModel(st *store.Store, table *pricing.Table, watch <-chan struct{}) Model {
	return Model{
		st:      st,
		pricing: table,
		watch:   watch,
		marked:  make(map[string]bool),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.loadSessions, m.waitForChange)
}

// loadSessions reads the index and every summary newest first.
func (m Model) loadSessions() tea.Msg {
	records, err := m.st.ListSessions(context.Background(), store.ListFilter{})
	if err != nil {
		return errMsg{err}
	}
	entries := make([]entry, 0, len(records))
	for _, rec := range records {
		snap, err := m.st.LoadSnapshot(rec.Dir)
		if err != nil {
			continue // index may be ahead of a partially removed dir
		}
		entries = append(entries, entry{Record: rec, Snapshot: snap})
	}
	return sessionsMsg(entries)
}

func (m Model) waitForChange() tea.Msg {
	if m.watch == nil {
		return nil
	}
	if _, ok := <-m.watch; !ok {
		return nil
	}
	return refreshMsg{}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case sessionsMsg:
		m.entries = msg
		m.loaded = true
		if m.cursor >= len(m.entries) {
			m.cursor = max(0, len(m.entries)-1)
		}
		return m, nil

	case refreshMsg:
		return m, tea.Batch(m.loadSessions, m.waitForChange)

	case errMsg:
		m.err = msg.err
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		if m.screen == screenList {
			return m, tea.Quit
		}
		m.screen = screenList
		return m, nil

	case "esc":
		if m.screen != screenList {
			m.screen = screenList
		}
		return m, nil

	case "up", "k":
		if m.screen == screenTools {
			if m.toolRow > 0 {
				m.toolRow--
			}
		} else if m.cursor > 0 {
			m.cursor--
		}
		return m, nil

	case "down", "j":
		if m.screen == screenTools {
			if m.toolRow < len(m.toolRows())-1 {
				m.toolRow++
			}
		} else if m.cursor < len(m.entries)-1 {
			m.cursor++
		}
		return m, nil

	case "enter":
		if m.screen == screenList && m.current() != nil {
			m.screen = screenDetail
		}
		return m, nil

	case "t":
		if m.current() != nil {
			m.screen = screenTools
			m.toolRow = 0
		}
		return m, nil

	case "l":
		if m.current() != nil {
			m.screen = screenTimeline
		}
		return m, nil

	case " ":
		if m.screen == screenList && m.current() != nil {
			dir := m.current().Record.Dir
			if m.marked[dir] {
				delete(m.marked, dir)
			} else {
				m.marked[dir] = true
			}
		}
		return m, nil

	case "c":
		snaps := m.markedSnapshots()
		if len(snaps) < 2 {
			m.err = fmt.Errorf("mark at least 2 sessions with space to compare")
			return m, nil
		}
		cmp, err := analytics.Compare(snaps)
		if err != nil {
			m.err = err
			return m, nil
		}
		m.err = nil
		m.compared = cmp
		m.screen = screenCompare
		return m, nil

	case "r":
		return m, m.loadSessions
	}
	return m, nil
}

func (m Model) current() *entry {
	if m.cursor < 0 || m.cursor >= len(m.entries) {
		return nil
	}
	return &m.entries[m.cursor]
}

func (m Model) markedSnapshots() []*core.Snapshot {
	var snaps []*core.Snapshot
	for _, e := range m.entries {
		if m.marked[e.Record.Dir] {
			snaps = append(snaps, e.Snapshot)
		}
	}
	return snaps
}

// toolRow identifies one (server, tool) line in the tool drilldown.
type toolRowItem struct {
	Server string
	Tool   string
	Stats  core.ToolStats
}

func (m Model) toolRows() []toolRowItem {
	cur := m.current()
	if cur == nil {
		return nil
	}
	var rows []toolRowItem
	for _, server := range cur.Snapshot.ServerNames() {
		ss := cur.Snapshot.Servers[server]
		names := make([]string, 0, len(ss.Tools))
		for name := range ss.Tools {
			names = append(names, name)
		}
		sort.Slice(names, func(i, j int) bool {
			a, b := ss.Tools[names[i]], ss.Tools[names[j]]
			if a.TotalTokens == b.TotalTokens {
				return names[i] < names[j]
			}
			return a.TotalTokens > b.TotalTokens
		})
		for _, name := range names {
			rows = append(rows, toolRowItem{Server: server, Tool: name, Stats: ss.Tools[name]})
		}
	}
	return rows
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Run opens the browser over the given store and blocks until quit.
func Run(st *store.Store, table *pricing.Table) error {
	watcher, err := newDirWatcher(st.Root(), 300*time.Millisecond)
	if err != nil {
		// Watching is best-effort; the browser still works with manual
		// refresh.
		watcher = nil
	}
	var changes <-chan struct{}
	if watcher != nil {
		changes = watcher.Changes()
		defer watcher.Close()
	}

	program := tea.NewProgram(NewModel(st, table, changes), tea.WithAltScreen())
	_, err = program.Run()
	return err
}
