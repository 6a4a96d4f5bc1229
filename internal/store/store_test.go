package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mcpaudit/mcpaudit/internal/core"
)

func testSnapshot(platform string, start time.Time, total int) *core.Snapshot {
	return &core.Snapshot{
		Session: core.SessionInfo{
			Platform:  platform,
			Project:   "demo",
			Model:     "gpt-5.1",
			StartTime: start,
			EndTime:   start.Add(10 * time.Minute),
		},
		Tokens: core.TokenTotals{Input: total, Total: total},
		MCP:    core.MCPSummary{TotalCalls: 3, TotalTokens: total / 2},
		Smells: []string{"low-cache-hit"},
	}
}

func TestSaveAndLoadSnapshot(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	start := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	dir, err := s.SaveSnapshot(context.Background(), testSnapshot("codex-cli", start, 1000))
	if err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	if !strings.HasPrefix(dir, "codex-cli-20260110-090000-") {
		t.Errorf("dir = %q, want platform-timestamp-id prefix", dir)
	}

	loaded, err := s.LoadSnapshot(dir)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if loaded.Tokens.Total != 1000 {
		t.Errorf("total = %d, want 1000", loaded.Tokens.Total)
	}
	if loaded.Session.Platform != "codex-cli" {
		t.Errorf("platform = %q", loaded.Session.Platform)
	}
}

func TestListSessionsFilterAndOrder(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	t0 := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	if _, err := s.SaveSnapshot(ctx, testSnapshot("codex-cli", t0, 100)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SaveSnapshot(ctx, testSnapshot("gemini-cli", t0.Add(time.Hour), 200)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SaveSnapshot(ctx, testSnapshot("codex-cli", t0.Add(2*time.Hour), 300)); err != nil {
		t.Fatal(err)
	}

	all, err := s.ListSessions(ctx, ListFilter{})
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d sessions, want 3", len(all))
	}
	if all[0].TotalTokens != 300 {
		t.Errorf("newest first: got total %d", all[0].TotalTokens)
	}
	if len(all[0].Smells) != 1 || all[0].Smells[0] != "low-cache-hit" {
		t.Errorf("smells = %v", all[0].Smells)
	}

	codex, err := s.ListSessions(ctx, ListFilter{Platform: "codex-cli"})
	if err != nil {
		t.Fatal(err)
	}
	if len(codex) != 2 {
		t.Errorf("platform filter: got %d, want 2", len(codex))
	}

	recent, err := s.ListSessions(ctx, ListFilter{Since: t0.Add(30 * time.Minute)})
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 {
		t.Errorf("since filter: got %d, want 2", len(recent))
	}

	limited, err := s.ListSessions(ctx, ListFilter{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Errorf("limit: got %d, want 1", len(limited))
	}
}

func TestSaveActiveRoundTrip(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	start := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	snap := testSnapshot("codex-cli", start, 50)
	dir := SessionDirName("codex-cli", start)

	if err := s.SaveActive(dir, snap); err != nil {
		t.Fatalf("SaveActive: %v", err)
	}
	live, err := s.LoadActive(dir)
	if err != nil {
		t.Fatalf("LoadActive: %v", err)
	}
	if live == nil || live.Tokens.Total != 50 {
		t.Fatalf("live snapshot = %+v", live)
	}

	// The live view is refreshed in place.
	snap.Tokens.Total = 80
	if err := s.SaveActive(dir, snap); err != nil {
		t.Fatalf("SaveActive: %v", err)
	}
	live, err = s.LoadActive(dir)
	if err != nil {
		t.Fatal(err)
	}
	if live.Tokens.Total != 80 {
		t.Errorf("refreshed total = %d, want 80", live.Tokens.Total)
	}
	if _, err := os.Stat(filepath.Join(root, dir, activeFile)); err != nil {
		t.Errorf("active file missing: %v", err)
	}
}

func TestDiscardActiveRemovesLiveViewAndEmptyDir(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	start := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	dir := SessionDirName("codex-cli", start)
	if err := s.SaveActive(dir, testSnapshot("codex-cli", start, 0)); err != nil {
		t.Fatalf("SaveActive: %v", err)
	}

	if err := s.DiscardActive(dir); err != nil {
		t.Fatalf("DiscardActive: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, dir)); !os.IsNotExist(err) {
		t.Errorf("session dir should be gone, stat err = %v", err)
	}

	// Discarding an already-clean directory is a no-op.
	if err := s.DiscardActive(dir); err != nil {
		t.Errorf("repeat DiscardActive: %v", err)
	}
}

func TestDiscardActiveKeepsNonEmptyDir(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	start := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	dir := SessionDirName("codex-cli", start)
	if err := s.SaveActive(dir, testSnapshot("codex-cli", start, 10)); err != nil {
		t.Fatalf("SaveActive: %v", err)
	}
	keeper := filepath.Join(root, dir, "notes.txt")
	if err := os.WriteFile(keeper, []byte("keep"), 0o644); err != nil {
		t.Fatalf("writing extra file: %v", err)
	}

	if err := s.DiscardActive(dir); err != nil {
		t.Fatalf("DiscardActive: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, dir, activeFile)); !os.IsNotExist(err) {
		t.Errorf("active file should be gone, stat err = %v", err)
	}
	if _, err := os.Stat(keeper); err != nil {
		t.Errorf("unrelated file removed: %v", err)
	}
}

func TestLoadActiveMissing(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	snap, err := s.LoadActive("nope")
	if err != nil {
		t.Fatalf("LoadActive: %v", err)
	}
	if snap != nil {
		t.Error("missing active snapshot should be nil")
	}
}

func TestReindex(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	ctx := context.Background()
	start := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	if _, err := s.SaveSnapshot(ctx, testSnapshot("codex-cli", start, 100)); err != nil {
		t.Fatal(err)
	}
	s.Close()

	// Lose the index, reopen, rebuild from the JSON summaries.
	if err := os.Remove(filepath.Join(root, indexFile)); err != nil {
		t.Fatal(err)
	}
	s2, err := Open(root)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	n, err := s2.Reindex(ctx)
	if err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	if n != 1 {
		t.Errorf("reindexed %d sessions, want 1", n)
	}
	sessions, err := s2.ListSessions(ctx, ListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 {
		t.Errorf("got %d sessions after reindex, want 1", len(sessions))
	}
}

func TestAtomicWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")

	if err := atomicWriteFile(path, []byte(`{"a":1}`), 0o644); err != nil {
		t.Fatalf("atomicWriteFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"a":1}` {
		t.Errorf("content = %q", data)
	}

	// Overwrite leaves no temp files behind.
	if err := atomicWriteFile(path, []byte(`{"a":2}`), 0o644); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("leftover files: %v", entries)
	}
}
