package core

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// DefaultCallHistoryCap bounds per-tool call history so long sessions cannot
// grow the aggregate without limit. Oldest records are dropped first.
const DefaultCallHistoryCap = 1000

var (
	// ErrSessionFinalized is returned by Apply after Finalize.
	ErrSessionFinalized = errors.New("session already finalized")
	// ErrEmptySession is returned by Finalize when no data was accumulated.
	// An empty session is never persisted; this is informational, not fatal.
	ErrEmptySession = errors.New("no data accumulated in session")
)

// TokenTotals is the running token accounting for a session. Total and
// CacheEfficiency are derived on every update and never set independently.
type TokenTotals struct {
	Input           int     `json:"input_tokens"`
	Output          int     `json:"output_tokens"`
	CacheCreated    int     `json:"cache_created_tokens"`
	CacheRead       int     `json:"cache_read_tokens"`
	Total           int     `json:"total_tokens"`
	CacheEfficiency float64 `json:"cache_efficiency"`
}

func (t *TokenTotals) add(d TokenDelta) {
	t.Input += d.Input
	t.Output += d.Output
	t.CacheCreated += d.CacheCreated
	t.CacheRead += d.CacheRead
	t.recompute()
}

func (t *TokenTotals) recompute() {
	t.Total = t.Input + t.Output + t.CacheCreated + t.CacheRead
	denom := t.Input + t.CacheCreated + t.CacheRead
	if denom > 0 {
		t.CacheEfficiency = float64(t.CacheRead) / float64(denom)
	} else {
		t.CacheEfficiency = 0
	}
}

// CallRecord is one entry in a tool's bounded call history.
type CallRecord struct {
	Timestamp   time.Time `json:"timestamp"`
	TotalTokens int       `json:"total_tokens"`
	DurationMS  int64     `json:"duration_ms,omitempty"`
	Success     *bool     `json:"success,omitempty"`
	Signature   string    `json:"signature,omitempty"`
	CallID      string    `json:"call_id,omitempty"`
}

type ToolStats struct {
	Calls       int          `json:"calls"`
	TotalTokens int          `json:"total_tokens"`
	AvgTokens   int          `json:"avg_tokens"`
	CallHistory []CallRecord `json:"call_history"`
}

type ServerSession struct {
	TotalCalls  int                   `json:"total_calls"`
	TotalTokens int                   `json:"total_tokens"`
	Tools       map[string]*ToolStats `json:"tools"`
}

// MCPSummary counts tool-call activity across all servers. UniqueTools is
// the number of distinct (server, tool) keys ever observed.
type MCPSummary struct {
	TotalCalls  int `json:"total_calls"`
	UniqueTools int `json:"unique_tools"`
	TotalTokens int `json:"total_tokens"`
}

// Session is the mutable accumulator for one tracked session. It has exactly
// one writer; readers consume Snapshot copies.
type Session struct {
	Platform  string
	Project   string
	Model     string
	StartTime time.Time
	EndTime   time.Time

	Tokens         TokenTotals
	Servers        map[string]*ServerSession
	MessageCount   int
	ThoughtsTokens int
	SourceFiles    []string
	Metadata       map[string]string

	totalCalls  int
	uniqueTools int
	historyCap  int
	finalized   bool
	now         func() time.Time
}

type SessionOption func(*Session)

// WithCallHistoryCap overrides the per-tool call history bound.
func WithCallHistoryCap(n int) SessionOption {
	return func(s *Session) {
		if n > 0 {
			s.historyCap = n
		}
	}
}

// WithClock injects the time source, for tests.
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

func NewSession(platform, project string, opts ...SessionOption) *Session {
	s := &Session{
		Platform:   platform,
		Project:    project,
		Servers:    make(map[string]*ServerSession),
		Metadata:   make(map[string]string),
		historyCap: DefaultCallHistoryCap,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.StartTime = s.now()
	return s
}

// SetModel latches the session model on first call; later announcements are
// ignored.
func (s *Session) SetModel(model string) {
	if s.Model == "" && model != "" {
		s.Model = model
	}
}

// Apply folds one canonical event into the aggregate. It either fully
// succeeds or leaves the session untouched.
func (s *Session) Apply(ev Event) error {
	if s.finalized {
		return ErrSessionFinalized
	}

	switch ev.Kind {
	case KindTokenDelta:
		s.Tokens.add(ev.Delta)
		s.ThoughtsTokens += ev.Delta.Thoughts
		s.MessageCount += ev.Delta.Messages
		return nil
	case KindToolCall:
		return s.applyCall(ev.Call)
	default:
		return fmt.Errorf("unknown event kind %d", ev.Kind)
	}
}

func (s *Session) applyCall(call ToolCall) error {
	server, tool := call.Server, call.Tool
	if server == "" || tool == "" {
		var ok bool
		server, tool, ok = SplitMCPName(call.Name)
		if !ok {
			return fmt.Errorf("tool %q does not follow the MCP naming convention", call.Name)
		}
	}

	ss := s.Servers[server]
	if ss == nil {
		ss = &ServerSession{Tools: make(map[string]*ToolStats)}
		s.Servers[server] = ss
	}

	ts := ss.Tools[tool]
	if ts == nil {
		ts = &ToolStats{}
		ss.Tools[tool] = ts
		s.uniqueTools++
	}

	ts.Calls++
	ts.TotalTokens += call.Tokens
	ts.AvgTokens = ts.TotalTokens / ts.Calls

	rec := CallRecord{
		Timestamp:   call.Timestamp,
		TotalTokens: call.Tokens,
		DurationMS:  call.DurationMS,
		Success:     call.Success,
		Signature:   call.Signature,
		CallID:      call.CallID,
	}
	ts.CallHistory = append(ts.CallHistory, rec)
	if len(ts.CallHistory) > s.historyCap {
		ts.CallHistory = ts.CallHistory[len(ts.CallHistory)-s.historyCap:]
	}

	ss.TotalCalls++
	ss.TotalTokens += call.Tokens
	s.totalCalls++
	return nil
}

// Empty reports whether no token or tool-call data has been accumulated.
func (s *Session) Empty() bool {
	return s.Tokens.Total == 0 && s.totalCalls == 0
}

// Summary returns the current MCP call summary.
func (s *Session) Summary() MCPSummary {
	mcpTokens := 0
	for _, ss := range s.Servers {
		mcpTokens += ss.TotalTokens
	}
	return MCPSummary{
		TotalCalls:  s.totalCalls,
		UniqueTools: s.uniqueTools,
		TotalTokens: mcpTokens,
	}
}

// Finalize freezes the session and returns its immutable snapshot. Further
// Apply calls fail with ErrSessionFinalized. An empty session finalizes to
// (nil, ErrEmptySession) and must not be persisted.
func (s *Session) Finalize() (*Snapshot, error) {
	if !s.finalized {
		s.finalized = true
		s.EndTime = s.now()
	}
	if s.Empty() {
		return nil, ErrEmptySession
	}
	return s.Snapshot(), nil
}

// Finalized reports whether Finalize has run.
func (s *Session) Finalized() bool { return s.finalized }

// Snapshot copies the current aggregate state into an immutable read model.
func (s *Session) Snapshot() *Snapshot {
	servers := make(map[string]ServerSnapshot, len(s.Servers))
	for name, ss := range s.Servers {
		tools := make(map[string]ToolStats, len(ss.Tools))
		for toolName, ts := range ss.Tools {
			history := make([]CallRecord, len(ts.CallHistory))
			copy(history, ts.CallHistory)
			tools[toolName] = ToolStats{
				Calls:       ts.Calls,
				TotalTokens: ts.TotalTokens,
				AvgTokens:   ts.AvgTokens,
				CallHistory: history,
			}
		}
		servers[name] = ServerSnapshot{
			TotalCalls:  ss.TotalCalls,
			TotalTokens: ss.TotalTokens,
			Tools:       tools,
		}
	}

	end := s.EndTime
	if end.IsZero() {
		end = s.now()
	}

	sources := make([]string, len(s.SourceFiles))
	copy(sources, s.SourceFiles)

	meta := make(map[string]string, len(s.Metadata))
	for k, v := range s.Metadata {
		meta[k] = v
	}

	return &Snapshot{
		Session: SessionInfo{
			Platform:        s.Platform,
			Project:         s.Project,
			Model:           s.Model,
			StartTime:       s.StartTime,
			EndTime:         end,
			DurationSeconds: end.Sub(s.StartTime).Seconds(),
		},
		Tokens:         s.Tokens,
		MCP:            s.Summary(),
		Servers:        servers,
		MessageCount:   s.MessageCount,
		ThoughtsTokens: s.ThoughtsTokens,
		SourceFiles:    sources,
		Metadata:       meta,
	}
}

// SessionInfo is the identity block of a snapshot.
type SessionInfo struct {
	Platform        string    `json:"platform"`
	Project         string    `json:"project"`
	Model           string    `json:"model,omitempty"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationSeconds float64   `json:"duration_seconds"`
}

type ServerSnapshot struct {
	TotalCalls  int                  `json:"total_calls"`
	TotalTokens int                  `json:"total_tokens"`
	Tools       map[string]ToolStats `json:"tools"`
}

// Snapshot is the immutable read model persisted for a session and consumed
// by reporting, browsing and comparison.
type Snapshot struct {
	Session        SessionInfo               `json:"session"`
	Tokens         TokenTotals               `json:"token_usage"`
	MCP            MCPSummary                `json:"mcp_summary"`
	Servers        map[string]ServerSnapshot `json:"server_sessions"`
	MessageCount   int                       `json:"message_count"`
	ThoughtsTokens int                       `json:"thoughts_tokens,omitempty"`
	SourceFiles    []string                  `json:"source_files,omitempty"`
	Metadata       map[string]string         `json:"metadata,omitempty"`
	Smells         []string                  `json:"detected_smells,omitempty"`
}

// ServerNames returns the snapshot's server names sorted by total tokens
// descending, ties broken alphabetically.
func (s *Snapshot) ServerNames() []string {
	names := make([]string, 0, len(s.Servers))
	for name := range s.Servers {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := s.Servers[names[i]], s.Servers[names[j]]
		if a.TotalTokens == b.TotalTokens {
			return names[i] < names[j]
		}
		return a.TotalTokens > b.TotalTokens
	})
	return names
}
