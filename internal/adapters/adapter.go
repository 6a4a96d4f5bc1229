// Package adapters wires the platform adapter registry: one adapter per
// supported platform, selected once at session start.
package adapters

import (
	"fmt"
	"os"
	"sort"

	"github.com/mcpaudit/mcpaudit/internal/adapters/codex_cli"
	"github.com/mcpaudit/mcpaudit/internal/adapters/gemini_cli"
	"github.com/mcpaudit/mcpaudit/internal/core"
)

// Factory builds an adapter rooted at the platform's config directory.
// An empty dir means the platform default under the user's home.
type Factory func(dir string) core.Adapter

func factories() map[string]Factory {
	return map[string]Factory{
		codex_cli.PlatformID:  func(dir string) core.Adapter { return codex_cli.New(dir) },
		gemini_cli.PlatformID: func(dir string) core.Adapter { return gemini_cli.New(dir) },
	}
}

// ForPlatform returns a new adapter for the given platform identifier.
func ForPlatform(platform, dir string) (core.Adapter, error) {
	f, ok := factories()[platform]
	if !ok {
		return nil, fmt.Errorf("unsupported platform %q (supported: %v)", platform, Platforms())
	}
	return f(dir), nil
}

// Platforms lists supported platform identifiers.
func Platforms() []string {
	fs := factories()
	out := make([]string, 0, len(fs))
	for id := range fs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Detect probes supported platforms and returns the one whose session
// directory holds the most recently modified source. Used by `collect
// --platform auto`.
func Detect() (string, error) {
	best := ""
	var bestMTime int64
	for id, f := range factories() {
		a := f("")
		path, err := a.LatestSessionFile()
		if err != nil {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if mt := info.ModTime().UnixNano(); best == "" || mt > bestMTime {
			best, bestMTime = id, mt
		}
	}
	if best == "" {
		return "", fmt.Errorf("no platform session files found (checked %v)", Platforms())
	}
	return best, nil
}
