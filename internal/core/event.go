package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// SessionTool is the reserved tool name for events that carry a pure token
// delta with no associated tool call.
const SessionTool = "__session__"

// MCPPrefix is the naming convention marker for MCP tool invocations:
// mcp__<server>__<tool>. Anything else is a built-in tool and stays out of
// per-tool accounting.
const MCPPrefix = "mcp__"

type EventKind int

const (
	KindTokenDelta EventKind = iota
	KindToolCall
)

// TokenDelta is a session-level change in token counters since the last
// report from the platform.
type TokenDelta struct {
	Input        int
	Output       int
	CacheCreated int
	CacheRead    int
	// Thoughts is informational only: already folded into Output, tracked
	// separately so platforms that report thinking tokens can display them.
	Thoughts int
	// Messages is the number of platform messages this delta accounts for
	// (1 for message-based platforms, 0 for turn-based ones).
	Messages  int
	Timestamp time.Time
}

func (d TokenDelta) Total() int {
	return d.Input + d.Output + d.CacheCreated + d.CacheRead
}

// ToolCall is a single MCP tool invocation observed in a platform log.
type ToolCall struct {
	Name       string // full name, e.g. "mcp__zen__chat"
	Server     string // derived: "zen"
	Tool       string // derived: "chat"
	Timestamp  time.Time
	DurationMS int64
	Success    *bool
	Params     map[string]any
	Signature  string
	CallID     string
	// Tokens attributed to this call. Zero on platforms that report tokens
	// only through session deltas.
	Tokens int
}

// Event is the canonical record every platform adapter normalizes into.
// Exactly one of Delta/Call is meaningful, selected by Kind.
type Event struct {
	Kind  EventKind
	Delta TokenDelta
	Call  ToolCall
}

func NewDeltaEvent(d TokenDelta) Event {
	return Event{Kind: KindTokenDelta, Delta: d}
}

func NewCallEvent(c ToolCall) Event {
	return Event{Kind: KindToolCall, Call: c}
}

// IsMCPTool reports whether name follows the mcp__<server>__<tool>
// convention.
func IsMCPTool(name string) bool {
	_, _, ok := SplitMCPName(name)
	return ok
}

// SplitMCPName splits a full MCP tool name into its server and tool parts.
// The first segment after the prefix is the server; the remainder is the
// tool's short name and may itself contain "__".
func SplitMCPName(name string) (server, tool string, ok bool) {
	rest, found := strings.CutPrefix(name, MCPPrefix)
	if !found {
		return "", "", false
	}
	parts := strings.SplitN(rest, "__", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// ParamsSignature computes a deterministic content signature for a tool
// call's arguments: identical logical arguments always yield the same
// signature regardless of map iteration order. Used by downstream duplicate
// detection; the algorithm itself is not part of the snapshot contract.
func ParamsSignature(params map[string]any) string {
	if len(params) == 0 {
		return ""
	}
	var b strings.Builder
	writeCanonical(&b, params)
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func writeCanonical(b *strings.Builder, v any) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			enc, _ := json.Marshal(k)
			b.Write(enc)
			b.WriteByte(':')
			writeCanonical(b, val[k])
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, item)
		}
		b.WriteByte(']')
	default:
		enc, _ := json.Marshal(val)
		b.Write(enc)
	}
}
