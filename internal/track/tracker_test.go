package track

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mcpaudit/mcpaudit/internal/core"
	"github.com/mcpaudit/mcpaudit/internal/store"
)

// fakeAdapter feeds queued events, one batch per poll.
type fakeAdapter struct {
	platform string
	source   string
	batches  [][]core.Event
	meta     map[string]string
	polls    int
}

func (f *fakeAdapter) Platform() string { return f.platform }

func (f *fakeAdapter) Metadata() map[string]string {
	if f.meta == nil {
		return map[string]string{}
	}
	return f.meta
}

func (f *fakeAdapter) LatestSessionFile() (string, error) { return f.source, nil }
func (f *fakeAdapter) Attach(path string)                 { f.source = path }
func (f *fakeAdapter) Source() string                     { return f.source }

func (f *fakeAdapter) Poll(emit func(core.Event)) error {
	f.polls++
	if len(f.batches) == 0 {
		return nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	for _, ev := range batch {
		emit(ev)
	}
	return nil
}

func (f *fakeAdapter) ParseBatch(path string, emit func(core.Event)) error { return nil }
func (f *fakeAdapter) Diagnostics() core.Diagnostics                       { return core.Diagnostics{} }

func deltaEvent(input, output int) core.Event {
	return core.NewDeltaEvent(core.TokenDelta{Input: input, Output: output, Timestamp: time.Now()})
}

func callEvent(name string) core.Event {
	return core.NewCallEvent(core.ToolCall{Name: name, Timestamp: time.Now()})
}

func newTestTracker(t *testing.T, adapter *fakeAdapter) (*Tracker, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	tr, err := New(adapter, "demo", st)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tr, st
}

func TestStepAppliesEventsAndPublishesLiveSnapshot(t *testing.T) {
	adapter := &fakeAdapter{
		platform: "codex-cli",
		source:   "session.jsonl",
		batches: [][]core.Event{
			{deltaEvent(100, 50), callEvent("mcp__zen__chat")},
		},
		meta: map[string]string{"model": "gpt-5.1"},
	}
	tr, st := newTestTracker(t, adapter)

	if err := tr.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}

	session := tr.Session()
	if session.Tokens.Total != 150 {
		t.Errorf("total = %d, want 150", session.Tokens.Total)
	}
	if session.Model != "gpt-5.1" {
		t.Errorf("model = %q", session.Model)
	}

	live, err := st.LoadActive(tr.Dir())
	if err != nil {
		t.Fatalf("LoadActive: %v", err)
	}
	if live == nil || live.Tokens.Total != 150 {
		t.Fatalf("live = %+v", live)
	}
}

func TestStepWithoutChangesIsQuiet(t *testing.T) {
	adapter := &fakeAdapter{platform: "codex-cli", source: "session.jsonl"}
	tr, st := newTestTracker(t, adapter)

	if err := tr.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	live, err := st.LoadActive(tr.Dir())
	if err != nil {
		t.Fatal(err)
	}
	if live != nil {
		t.Error("no events should mean no live snapshot")
	}
}

func TestFinalizePersistsOnceAndIsIdempotent(t *testing.T) {
	adapter := &fakeAdapter{
		platform: "codex-cli",
		source:   "session.jsonl",
		batches: [][]core.Event{
			{deltaEvent(100, 50)},
		},
	}
	tr, st := newTestTracker(t, adapter)
	ctx := context.Background()

	// The shutdown drain picks up the pending batch even without a Step.
	snap, err := tr.Finalize(ctx)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if snap == nil || snap.Tokens.Total != 150 {
		t.Fatalf("snapshot = %+v", snap)
	}

	again, err := tr.Finalize(ctx)
	if err != nil {
		t.Fatalf("second Finalize: %v", err)
	}
	if again != snap {
		t.Error("repeated Finalize should return the first result")
	}

	loaded, err := st.LoadSnapshot(tr.Dir())
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if loaded.Tokens.Total != 150 {
		t.Errorf("persisted total = %d, want 150", loaded.Tokens.Total)
	}

	sessions, err := st.ListSessions(ctx, store.ListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 {
		t.Errorf("indexed %d sessions, want 1", len(sessions))
	}
}

func TestEmptySessionNeverPersisted(t *testing.T) {
	adapter := &fakeAdapter{platform: "codex-cli", source: "session.jsonl"}
	tr, st := newTestTracker(t, adapter)
	ctx := context.Background()

	snap, err := tr.Finalize(ctx)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if snap != nil {
		t.Fatalf("empty session produced snapshot %+v", snap)
	}

	sessions, err := st.ListSessions(ctx, store.ListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 0 {
		t.Errorf("empty session was persisted: %v", sessions)
	}
	if _, err := os.Stat(filepath.Join(st.Root(), tr.Dir())); !os.IsNotExist(err) {
		t.Errorf("session dir should not exist, stat err = %v", err)
	}
}

func TestEmptySessionCleansUpLiveSnapshot(t *testing.T) {
	// A message-count-only delta marks the session changed, so Step writes a
	// live snapshot, but the session still counts as empty. Finalize must
	// take that live view back down instead of leaving it behind.
	adapter := &fakeAdapter{
		platform: "gemini-cli",
		source:   "chat.json",
		batches: [][]core.Event{
			{core.NewDeltaEvent(core.TokenDelta{Messages: 1, Timestamp: time.Now()})},
		},
	}
	tr, st := newTestTracker(t, adapter)
	ctx := context.Background()

	if err := tr.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	live, err := st.LoadActive(tr.Dir())
	if err != nil {
		t.Fatalf("LoadActive: %v", err)
	}
	if live == nil {
		t.Fatal("expected a live snapshot after the metadata-only step")
	}

	snap, err := tr.Finalize(ctx)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if snap != nil {
		t.Fatalf("empty session produced snapshot %+v", snap)
	}

	live, err = st.LoadActive(tr.Dir())
	if err != nil {
		t.Fatalf("LoadActive after finalize: %v", err)
	}
	if live != nil {
		t.Error("live snapshot survived an empty finalize")
	}
	if _, err := os.Stat(filepath.Join(st.Root(), tr.Dir())); !os.IsNotExist(err) {
		t.Errorf("session dir should be gone, stat err = %v", err)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	adapter := &fakeAdapter{
		platform: "codex-cli",
		source:   "session.jsonl",
		batches: [][]core.Event{
			{deltaEvent(10, 5)},
		},
	}
	tr, _ := newTestTracker(t, adapter)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var snap *core.Snapshot
	var runErr error
	go func() {
		snap, runErr = tr.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	if runErr != nil {
		t.Fatalf("Run: %v", runErr)
	}
	if snap == nil || snap.Tokens.Total != 15 {
		t.Fatalf("snapshot = %+v", snap)
	}
}
