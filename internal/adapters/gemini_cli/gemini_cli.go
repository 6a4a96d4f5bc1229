// Package gemini_cli adapts Gemini CLI chat documents: a whole-file JSON
// snapshot under ~/.gemini/tmp/<project-hash>/chats/ that is rewritten in
// place on every update. Each message carries cumulative metadata for that
// exchange, so every message is applied at most once by identifier.
package gemini_cli

import (
	"crypto/sha256"
	"encoding/hex"
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
	PlatformID = "gemini-cli"

	defaultConfigDir = ".gemini"
)

type chatDocument struct {
	SessionID   string        `json:"session_id"`
	ProjectHash string        `json:"project_hash"`
	StartTime   string        `json:"start_time"`
	LastUpdated string        `json:"last_updated"`
	Messages    []chatMessage `json:"messages"`
}

type chatMessage struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Model     string         `json:"model,omitempty"`
	Timestamp string         `json:"timestamp"`
	Tokens    *messageTokens `json:"tokens,omitempty"`
	ToolCalls []toolCallItem `json:"tool_calls,omitempty"`
}

type messageTokens struct {
	Input    int `json:"input"`
	Output   int `json:"output"`
	Cached   int `json:"cached"`
	Thoughts int `json:"thoughts"`
	Tool     int `json:"tool"`
	Total    int `json:"total"`
}

type toolCallItem struct {
	Name       string         `json:"name"`
	Args       map[string]any `json:"args,omitempty"`
	Status     string         `json:"status,omitempty"`
	DurationMS int64          `json:"duration_ms,omitempty"`
}

// Adapter reads Gemini CLI chat documents.
type Adapter struct {
	dir    string
	cursor *tail.DocCursor

	model     string
	sessionID string
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
	}
	if a.sessionID != "" {
		meta["session_id"] = a.sessionID
	}
	return meta
}

// projectHash mirrors how Gemini CLI names its per-project temp directory.
func projectHash(workingDir string) string {
	sum := sha256.Sum256([]byte(workingDir))
	return hex.EncodeToString(sum[:])
}

// chatsDir resolves the chat directory for the current working directory,
// falling back to the most recently modified project hash directory when the
// exact hash has no sessions yet.
func (a *Adapter) chatsDir() (string, error) {
	tmpDir := filepath.Join(a.dir, "tmp")

	if cwd, err := os.Getwd(); err == nil {
		if abs, err := filepath.Abs(cwd); err == nil {
			exact := filepath.Join(tmpDir, projectHash(abs), "chats")
			if info, err := os.Stat(exact); err == nil && info.IsDir() {
				return exact, nil
			}
		}
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", tmpDir, err)
	}

	var newest string
	var newestMTime time.Time
	for _, entry := range entries {
		if !entry.IsDir() || !isHashDir(entry.Name()) {
			continue
		}
		chats := filepath.Join(tmpDir, entry.Name(), "chats")
		info, err := os.Stat(chats)
		if err != nil || !info.IsDir() {
			continue
		}
		if newest == "" || info.ModTime().After(newestMTime) {
			newest = chats
			newestMTime = info.ModTime()
		}
	}
	if newest == "" {
		return "", fmt.Errorf("no chat directories found under %s", tmpDir)
	}
	return newest, nil
}

func isHashDir(name string) bool {
	if len(name) != 64 {
		return false
	}
	for _, r := range name {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return false
		}
	}
	return true
}

// SessionFiles returns session documents in the resolved chat directory,
// newest first.
func (a *Adapter) SessionFiles() ([]string, error) {
	chats, err := a.chatsDir()
	if err != nil {
		return nil, err
	}
	matches, err := filepath.Glob(filepath.Join(chats, "session-*.json"))
	if err != nil {
		return nil, err
	}
	sort.Slice(matches, func(i, j int) bool {
		si, _ := os.Stat(matches[i])
		sj, _ := os.Stat(matches[j])
		if si == nil || sj == nil {
			return false
		}
		return si.ModTime().After(sj.ModTime())
	})
	return matches, nil
}

func (a *Adapter) LatestSessionFile() (string, error) {
	files, err := a.SessionFiles()
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", fmt.Errorf("no session documents found")
	}
	return files[0], nil
}

func (a *Adapter) Attach(path string) {
	a.cursor = tail.NewDocCursor(path)
}

func (a *Adapter) Source() string {
	if a.cursor == nil {
		return ""
	}
	return a.cursor.Path()
}

func (a *Adapter) Poll(emit func(core.Event)) error {
	if a.cursor == nil {
		return fmt.Errorf("gemini-cli: Poll before Attach")
	}
	return a.cursor.Poll(func(data []byte) bool {
		return a.handleDocument(data, a.cursor, emit)
	})
}

func (a *Adapter) ParseBatch(path string, emit func(core.Event)) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("gemini-cli: session document: %w", err)
	}
	cursor := tail.NewDocCursor(path)
	return cursor.Poll(func(data []byte) bool {
		return a.handleDocument(data, cursor, emit)
	})
}

func (a *Adapter) handleDocument(data []byte, cursor *tail.DocCursor, emit func(core.Event)) bool {
	var doc chatDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return false
	}
	if doc.SessionID != "" {
		a.sessionID = doc.SessionID
	}

	for i, msg := range doc.Messages {
		id := msg.ID
		if id == "" {
			id = fmt.Sprintf("msg-%d", i)
		}
		if cursor.Seen(id) {
			continue
		}
		cursor.Mark(id)
		a.applyMessage(msg, emit)
	}
	return true
}

// applyMessage turns one previously unseen message into canonical events.
// User messages never carry token accounting and are skipped. An agent
// message emits the MCP tool call it contains (if any) followed by a token
// delta attributed to the session as a whole.
func (a *Adapter) applyMessage(msg chatMessage, emit func(core.Event)) {
	if msg.Type != "agent" {
		return
	}
	if a.model == "" && strings.TrimSpace(msg.Model) != "" {
		a.model = msg.Model
	}

	ts := parseTimestamp(msg.Timestamp)
	tokens := msg.Tokens
	if tokens == nil {
		tokens = &messageTokens{}
	}

	// The message's tool token count is claimed by the first MCP tool call;
	// further calls in the same message are recorded with zero tokens so the
	// count is never attributed twice.
	claimed := false
	for _, tc := range msg.ToolCalls {
		server, tool, ok := core.SplitMCPName(tc.Name)
		if !ok {
			continue
		}
		call := core.ToolCall{
			Name:       tc.Name,
			Server:     server,
			Tool:       tool,
			Timestamp:  ts,
			DurationMS: tc.DurationMS,
			Params:     tc.Args,
			Signature:  core.ParamsSignature(tc.Args),
			Success:    statusToSuccess(tc.Status),
		}
		if !claimed {
			call.Tokens = tokens.Tool
			claimed = true
		}
		emit(core.NewCallEvent(call))
	}

	delta := core.TokenDelta{
		Input:     tokens.Input,
		Output:    tokens.Output + tokens.Thoughts,
		CacheRead: tokens.Cached,
		Thoughts:  tokens.Thoughts,
		Messages:  1,
		Timestamp: ts,
	}
	emit(core.NewDeltaEvent(delta))
}

func statusToSuccess(status string) *bool {
	switch strings.ToLower(status) {
	case "success", "ok":
		v := true
		return &v
	case "error", "failed":
		v := false
		return &v
	default:
		return nil
	}
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
