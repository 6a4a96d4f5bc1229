package codex_cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mcpaudit/mcpaudit/internal/core"
)

const sampleSession = `{"timestamp":"2026-01-10T10:00:00Z","type":"session_meta","payload":{"working_directory":"/home/dev/proj","tool_version":"0.48.0","vcs_info":{"branch":"main"}}}
{"timestamp":"2026-01-10T10:00:01Z","type":"turn_context","payload":{"model_id":"gpt-5.1"}}
{"timestamp":"2026-01-10T10:00:05Z","type":"response_item","payload":{"type":"function_call","name":"mcp__zen__chat","arguments":"{\"prompt\":\"hi\"}","call_id":"call_1"}}
{"timestamp":"2026-01-10T10:00:09Z","type":"event_msg","payload":{"type":"token_count","info":{"last_token_usage":{"input_tokens":300,"cached_input_tokens":1500,"output_tokens":150,"reasoning_output_tokens":50}}}}
`

func writeSession(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func collectEvents(t *testing.T, a *Adapter, path string) []core.Event {
	t.Helper()
	var events []core.Event
	if err := a.ParseBatch(path, func(ev core.Event) {
		events = append(events, ev)
	}); err != nil {
		t.Fatalf("ParseBatch: %v", err)
	}
	return events
}

func TestParseBatchSession(t *testing.T) {
	dir := t.TempDir()
	path := writeSession(t, dir, filepath.Join("sessions", "2026", "01", "10", "rollout-1.jsonl"), sampleSession)

	a := New(dir)
	events := collectEvents(t, a, path)

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}

	if events[0].Kind != core.KindToolCall {
		t.Fatalf("first event kind = %v, want tool call", events[0].Kind)
	}
	call := events[0].Call
	if call.Server != "zen" || call.Tool != "chat" {
		t.Errorf("call split = %q/%q, want zen/chat", call.Server, call.Tool)
	}
	if call.CallID != "call_1" {
		t.Errorf("call id = %q", call.CallID)
	}
	if got := call.Params["prompt"]; got != "hi" {
		t.Errorf("params[prompt] = %v", got)
	}
	if call.Tokens != 0 {
		t.Errorf("tool call tokens = %d, want 0", call.Tokens)
	}

	if events[1].Kind != core.KindTokenDelta {
		t.Fatalf("second event kind = %v, want token delta", events[1].Kind)
	}
	delta := events[1].Delta
	if delta.Input != 300 {
		t.Errorf("input = %d, want 300", delta.Input)
	}
	if delta.Output != 200 {
		t.Errorf("output = %d, want 200 (150 output + 50 reasoning)", delta.Output)
	}
	if delta.CacheRead != 1500 {
		t.Errorf("cache_read = %d, want 1500", delta.CacheRead)
	}
	if delta.CacheCreated != 0 {
		t.Errorf("cache_created = %d, want 0", delta.CacheCreated)
	}

	meta := a.Metadata()
	if meta["model"] != "gpt-5.1" {
		t.Errorf("model = %q, want gpt-5.1", meta["model"])
	}
	if meta["model_name"] != "GPT-5.1" {
		t.Errorf("model_name = %q", meta["model_name"])
	}
	if meta["working_directory"] != "/home/dev/proj" {
		t.Errorf("working_directory = %q", meta["working_directory"])
	}
	if meta["vcs_branch"] != "main" {
		t.Errorf("vcs_branch = %q", meta["vcs_branch"])
	}
}

func TestParseBatchIntoSessionAggregate(t *testing.T) {
	dir := t.TempDir()
	path := writeSession(t, dir, filepath.Join("sessions", "2026", "01", "10", "rollout-1.jsonl"), sampleSession)

	a := New(dir)
	session := core.NewSession(a.Platform(), "proj")
	if err := a.ParseBatch(path, func(ev core.Event) {
		if err := session.Apply(ev); err != nil {
			t.Fatalf("Apply: %v", err)
		}
	}); err != nil {
		t.Fatalf("ParseBatch: %v", err)
	}
	session.SetModel(a.Metadata()["model"])

	if session.Model != "gpt-5.1" {
		t.Errorf("model = %q", session.Model)
	}
	if session.Tokens.Input != 300 || session.Tokens.Output != 200 || session.Tokens.CacheRead != 1500 {
		t.Errorf("totals = %+v", session.Tokens)
	}
	if session.Tokens.Total != 2000 {
		t.Errorf("total = %d, want 2000", session.Tokens.Total)
	}
	zen := session.Servers["zen"]
	if zen == nil || zen.TotalCalls != 1 {
		t.Fatalf("zen server = %+v", zen)
	}
}

func TestModelLatchedOnce(t *testing.T) {
	a := New(t.TempDir())

	lines := []string{
		`{"timestamp":"2026-01-10T10:00:00Z","type":"turn_context","payload":{"model_id":"gpt-5.1"}}`,
		`{"timestamp":"2026-01-10T10:05:00Z","type":"turn_context","payload":{"model_id":"gpt-5-mini"}}`,
	}
	for _, line := range lines {
		if _, _, err := a.ParseLine(line); err != nil {
			t.Fatalf("ParseLine: %v", err)
		}
	}
	if a.Metadata()["model"] != "gpt-5.1" {
		t.Errorf("model = %q, want first announcement to win", a.Metadata()["model"])
	}
}

func TestTotalUsageFallback(t *testing.T) {
	a := New(t.TempDir())
	line := `{"timestamp":"2026-01-10T10:00:00Z","type":"event_msg","payload":{"type":"token_count","info":{"total_token_usage":{"input_tokens":40,"output_tokens":10}}}}`

	ev, ok, err := a.ParseLine(line)
	if err != nil || !ok {
		t.Fatalf("ParseLine ok=%v err=%v", ok, err)
	}
	if ev.Delta.Input != 40 || ev.Delta.Output != 10 {
		t.Errorf("delta = %+v", ev.Delta)
	}
}

func TestZeroDeltaDropped(t *testing.T) {
	a := New(t.TempDir())
	line := `{"timestamp":"2026-01-10T10:00:00Z","type":"event_msg","payload":{"type":"token_count","info":{"last_token_usage":{"input_tokens":0,"output_tokens":0}}}}`

	_, ok, err := a.ParseLine(line)
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if ok {
		t.Error("zero-total delta should produce no event")
	}
}

func TestNonMCPToolIgnored(t *testing.T) {
	a := New(t.TempDir())
	line := `{"timestamp":"2026-01-10T10:00:00Z","type":"response_item","payload":{"type":"function_call","name":"shell","arguments":"{}","call_id":"c1"}}`

	_, ok, err := a.ParseLine(line)
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if ok {
		t.Error("non-MCP tool call should produce no event")
	}
}

func TestMalformedArgumentsStillRecorded(t *testing.T) {
	a := New(t.TempDir())
	line := `{"timestamp":"2026-01-10T10:00:00Z","type":"response_item","payload":{"type":"function_call","name":"mcp__zen__chat","arguments":"{not json","call_id":"c9"}}`

	ev, ok, err := a.ParseLine(line)
	if err != nil || !ok {
		t.Fatalf("ParseLine ok=%v err=%v", ok, err)
	}
	if len(ev.Call.Params) != 0 {
		t.Errorf("params = %v, want empty", ev.Call.Params)
	}
	if ev.Call.Tool != "chat" {
		t.Errorf("tool = %q", ev.Call.Tool)
	}
}

func TestPollIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := writeSession(t, dir, "rollout.jsonl", sampleSession)

	a := New(dir)
	a.Attach(path)

	var count int
	emit := func(core.Event) { count++ }

	if err := a.Poll(emit); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if count != 2 {
		t.Fatalf("first poll emitted %d events, want 2", count)
	}

	// Unchanged file: no-op.
	if err := a.Poll(emit); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if count != 2 {
		t.Fatalf("unchanged poll emitted extra events, total %d", count)
	}

	// Append a new delta and bump mtime; only the new line is applied.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	extra := `{"timestamp":"2026-01-10T10:01:00Z","type":"event_msg","payload":{"type":"token_count","info":{"last_token_usage":{"input_tokens":5,"output_tokens":7}}}}` + "\n"
	if _, err := f.WriteString(extra); err != nil {
		t.Fatal(err)
	}
	f.Close()
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	if err := a.Poll(emit); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if count != 3 {
		t.Fatalf("after append got %d events, want 3", count)
	}
}

func TestLatestSessionFile(t *testing.T) {
	dir := t.TempDir()
	old := writeSession(t, dir, filepath.Join("sessions", "2026", "01", "09", "a.jsonl"), "")
	latest := writeSession(t, dir, filepath.Join("sessions", "2026", "01", "10", "b.jsonl"), "")

	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatal(err)
	}

	a := New(dir)
	got, err := a.LatestSessionFile()
	if err != nil {
		t.Fatalf("LatestSessionFile: %v", err)
	}
	if got != latest {
		t.Errorf("latest = %q, want %q", got, latest)
	}
}

func TestLatestSessionFileEmpty(t *testing.T) {
	a := New(t.TempDir())
	if _, err := a.LatestSessionFile(); err == nil {
		t.Error("expected error when no session files exist")
	}
}

func TestMalformedLineCounted(t *testing.T) {
	dir := t.TempDir()
	content := "not json at all\n" + `{"timestamp":"2026-01-10T10:00:00Z","type":"event_msg","payload":{"type":"token_count","info":{"last_token_usage":{"input_tokens":1,"output_tokens":1}}}}` + "\n"
	path := writeSession(t, dir, "rollout.jsonl", content)

	a := New(dir)
	a.Attach(path)

	var count int
	if err := a.Poll(func(core.Event) { count++ }); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if count != 1 {
		t.Errorf("emitted %d events, want 1", count)
	}
	if diag := a.Diagnostics(); diag.MalformedRecords != 1 {
		t.Errorf("malformed = %d, want 1", diag.MalformedRecords)
	}
}
