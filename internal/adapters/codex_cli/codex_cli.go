// Package codex_cli adapts Codex CLI session logs: an append-only JSONL
// event stream under ~/.codex/sessions/YYYY/MM/DD/. Tokens always arrive
// through token-count events; tool-call events carry zero tokens of their
// own.
package codex_cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mcpaudit/mcpaudit/internal/core"
	"github.com/mcpaudit/mcpaudit/internal/tail"
)

const (
	PlatformID = "codex-cli"

	defaultConfigDir = ".codex"
)

var modelDisplayNames = map[string]string{
	"gpt-5.1-codex-max": "GPT-5.1 Codex Max",
	"gpt-5-codex":       "GPT-5 Codex",
	"gpt-5.1":           "GPT-5.1",
	"gpt-5-mini":        "GPT-5 Mini",
	"gpt-5-nano":        "GPT-5 Nano",
	"gpt-5-pro":         "GPT-5 Pro",
	"gpt-4.1":           "GPT-4.1",
	"gpt-4.1-mini":      "GPT-4.1 Mini",
	"o4-mini":           "O4 Mini",
	"o3-mini":           "O3 Mini",
	"gpt-4o":            "GPT-4o",
	"gpt-4o-mini":       "GPT-4o Mini",
}

type sessionEvent struct {
	Timestamp string          `json:"timestamp"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

type metaPayload struct {
	WorkingDirectory string   `json:"working_directory"`
	ToolVersion      string   `json:"tool_version"`
	VCSInfo          *vcsInfo `json:"vcs_info,omitempty"`
}

type vcsInfo struct {
	Branch        string `json:"branch,omitempty"`
	CommitHash    string `json:"commit_hash,omitempty"`
	RepositoryURL string `json:"repository_url,omitempty"`
}

type contextPayload struct {
	ModelID string `json:"model_id"`
}

type eventMsgPayload struct {
	Type string     `json:"type"`
	Info *tokenInfo `json:"info,omitempty"`
}

type tokenInfo struct {
	LastTokenUsage  *tokenUsage `json:"last_token_usage,omitempty"`
	TotalTokenUsage *tokenUsage `json:"total_token_usage,omitempty"`
}

type tokenUsage struct {
	InputTokens           int `json:"input_tokens"`
	CachedInputTokens     int `json:"cached_input_tokens"`
	OutputTokens          int `json:"output_tokens"`
	ReasoningOutputTokens int `json:"reasoning_output_tokens"`
}

type responseItemPayload struct {
	Type      string `json:"type"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	CallID    string `json:"call_id"`
}

// Adapter reads Codex CLI session JSONL files.
type Adapter struct {
	dir    string
	cursor *tail.LineCursor

	model            string
	workingDirectory string
	toolVersion      string
	vcsBranch        string
}

func New(dir string) *Adapter {
	if dir == "" {
		home, _ := os.UserHomeDir()
		if home != "" {
			dir = filepath.Join(home, defaultConfigDir)
		}
	}
	return &Adapter{dir: dir}
}

func (a *Adapter) Platform() string { return PlatformID }

func (a *Adapter) Metadata() map[string]string {
	meta := map[string]string{
		"config_dir": a.dir,
	}
	if a.model != "" {
		meta["model"] = a.model
		meta["model_name"] = displayName(a.model)
	}
	if a.workingDirectory != "" {
		meta["working_directory"] = a.workingDirectory
	}
	if a.toolVersion != "" {
		meta["tool_version"] = a.toolVersion
	}
	if a.vcsBranch != "" {
		meta["vcs_branch"] = a.vcsBranch
	}
	return meta
}

func displayName(model string) string {
	if name, ok := modelDisplayNames[model]; ok {
		return name
	}
	return model
}

// SessionsDir is where Codex CLI writes its per-day session files.
func (a *Adapter) SessionsDir() string {
	return filepath.Join(a.dir, "sessions")
}

// SessionFiles returns all session files sorted by modification time,
// newest first.
func (a *Adapter) SessionFiles() ([]string, error) {
	var files []string
	err := filepath.Walk(a.SessionsDir(), func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if !info.IsDir() && strings.HasSuffix(path, ".jsonl") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking sessions dir: %w", err)
	}

	sort.Slice(files, func(i, j int) bool {
		si, _ := os.Stat(files[i])
		sj, _ := os.Stat(files[j])
		if si == nil || sj == nil {
			return false
		}
		return si.ModTime().After(sj.ModTime())
	})
	return files, nil
}

func (a *Adapter) LatestSessionFile() (string, error) {
	files, err := a.SessionFiles()
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", fmt.Errorf("no session files found in %s", a.SessionsDir())
	}
	return files[0], nil
}

func (a *Adapter) Attach(path string) {
	a.cursor = tail.NewLineCursor(path)
}

func (a *Adapter) Source() string {
	if a.cursor == nil {
		return ""
	}
	return a.cursor.Path()
}

func (a *Adapter) Poll(emit func(core.Event)) error {
	if a.cursor == nil {
		return fmt.Errorf("codex-cli: Poll before Attach")
	}
	return a.cursor.Poll(func(line string) bool {
		return a.handleLine(line, emit)
	})
}

func (a *Adapter) ParseBatch(path string, emit func(core.Event)) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("codex-cli: session file: %w", err)
	}
	cursor := tail.NewLineCursor(path)
	err := cursor.Poll(func(line string) bool {
		return a.handleLine(line, emit)
	})
	return err
}

func (a *Adapter) handleLine(line string, emit func(core.Event)) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return true
	}
	ev, ok, err := a.ParseLine(line)
	if err != nil {
		return false
	}
	if ok {
		emit(ev)
	}
	return true
}

// ParseLine parses one raw JSONL record. The second return is false when the
// record is recognized but produces no canonical event (metadata, model
// context, unknown types, zero deltas, non-MCP tools).
func (a *Adapter) ParseLine(line string) (core.Event, bool, error) {
	var raw sessionEvent
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return core.Event{}, false, fmt.Errorf("codex-cli: parsing event: %w", err)
	}

	switch raw.Type {
	case "session_meta":
		a.parseMeta(raw.Payload)
		return core.Event{}, false, nil
	case "turn_context":
		a.parseTurnContext(raw.Payload)
		return core.Event{}, false, nil
	case "event_msg":
		return a.parseEventMsg(raw)
	case "response_item":
		return a.parseResponseItem(raw)
	default:
		// Unknown event types are not a failure.
		return core.Event{}, false, nil
	}
}

func (a *Adapter) parseMeta(payload json.RawMessage) {
	var meta metaPayload
	if json.Unmarshal(payload, &meta) != nil {
		return
	}
	if meta.WorkingDirectory != "" {
		a.workingDirectory = meta.WorkingDirectory
	}
	if meta.ToolVersion != "" {
		a.toolVersion = meta.ToolVersion
	}
	if meta.VCSInfo != nil && meta.VCSInfo.Branch != "" {
		a.vcsBranch = meta.VCSInfo.Branch
	}
}

func (a *Adapter) parseTurnContext(payload json.RawMessage) {
	// Model is latched on first occurrence; later announcements are ignored.
	if a.model != "" {
		return
	}
	var tc contextPayload
	if json.Unmarshal(payload, &tc) == nil && strings.TrimSpace(tc.ModelID) != "" {
		a.model = tc.ModelID
	}
}

func (a *Adapter) parseEventMsg(raw sessionEvent) (core.Event, bool, error) {
	var payload eventMsgPayload
	if err := json.Unmarshal(raw.Payload, &payload); err != nil {
		return core.Event{}, false, fmt.Errorf("codex-cli: parsing event_msg payload: %w", err)
	}
	if payload.Type != "token_count" || payload.Info == nil {
		return core.Event{}, false, nil
	}

	// Prefer the delta since the last report; fall back to the cumulative
	// total when the platform omits it.
	usage := payload.Info.LastTokenUsage
	if usage == nil {
		usage = payload.Info.TotalTokenUsage
	}
	if usage == nil {
		return core.Event{}, false, nil
	}

	delta := core.TokenDelta{
		Input:     usage.InputTokens,
		Output:    usage.OutputTokens + usage.ReasoningOutputTokens,
		CacheRead: usage.CachedInputTokens,
		Timestamp: parseTimestamp(raw.Timestamp),
	}
	if delta.Total() <= 0 {
		return core.Event{}, false, nil
	}
	return core.NewDeltaEvent(delta), true, nil
}

func (a *Adapter) parseResponseItem(raw sessionEvent) (core.Event, bool, error) {
	var payload responseItemPayload
	if err := json.Unmarshal(raw.Payload, &payload); err != nil {
		return core.Event{}, false, fmt.Errorf("codex-cli: parsing response_item payload: %w", err)
	}
	if payload.Type != "function_call" {
		return core.Event{}, false, nil
	}

	server, tool, ok := core.SplitMCPName(payload.Name)
	if !ok {
		// Built-in tool invocations are out of scope for per-tool
		// accounting.
		return core.Event{}, false, nil
	}

	params := map[string]any{}
	if payload.Arguments != "" {
		// A malformed argument string downgrades to empty params; the call
		// itself is still worth recording.
		_ = json.Unmarshal([]byte(payload.Arguments), &params)
	}

	call := core.ToolCall{
		Name:      payload.Name,
		Server:    server,
		Tool:      tool,
		Timestamp: parseTimestamp(raw.Timestamp),
		Params:    params,
		Signature: core.ParamsSignature(params),
		CallID:    payload.CallID,
	}
	return core.NewCallEvent(call), true, nil
}

func (a *Adapter) Diagnostics() core.Diagnostics {
	if a.cursor == nil {
		return core.Diagnostics{}
	}
	return core.Diagnostics{
		MalformedRecords: a.cursor.Malformed,
		SkippedReads:     a.cursor.SkippedReads,
	}
}

func parseTimestamp(value string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed
		}
	}
	return time.Time{}
}
