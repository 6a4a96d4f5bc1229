// Package track runs the live monitoring loop for one session: poll the
// platform adapter, fold events into the session aggregate, publish the live
// snapshot, and persist the final snapshot exactly once on shutdown.
package track

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mcpaudit/mcpaudit/internal/analytics"
	"github.com/mcpaudit/mcpaudit/internal/core"
	"github.com/mcpaudit/mcpaudit/internal/store"
)

// DefaultPollInterval matches the cadence the platforms rewrite their logs
// at; polling faster only burns stat calls.
const DefaultPollInterval = 500 * time.Millisecond

// Tracker is the single writer of its session. All mutation happens on the
// Run goroutine; other goroutines only ever see snapshots.
type Tracker struct {
	adapter    core.Adapter
	session    *core.Session
	store      *store.Store
	interval   time.Duration
	smells     analytics.SmellConfig
	historyCap int
	dir        string

	finalized bool
	result    *core.Snapshot
}

type Option func(*Tracker)

// WithPollInterval overrides the polling cadence.
func WithPollInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.interval = d
		}
	}
}

// WithSmellConfig overrides the smell detector thresholds.
func WithSmellConfig(cfg analytics.SmellConfig) Option {
	return func(t *Tracker) { t.smells = cfg }
}

// WithCallHistoryCap bounds per-tool call history in the session aggregate.
func WithCallHistoryCap(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.historyCap = n
		}
	}
}

// New attaches the adapter to the platform's most recent session source and
// prepares a fresh session aggregate.
func New(adapter core.Adapter, project string, st *store.Store, opts ...Option) (*Tracker, error) {
	source, err := adapter.LatestSessionFile()
	if err != nil {
		return nil, fmt.Errorf("track: locating session source: %w", err)
	}
	adapter.Attach(source)

	t := &Tracker{
		adapter:    adapter,
		store:      st,
		interval:   DefaultPollInterval,
		smells:     analytics.DefaultSmellConfig(),
		historyCap: core.DefaultCallHistoryCap,
	}
	for _, opt := range opts {
		opt(t)
	}

	t.session = core.NewSession(adapter.Platform(), project, core.WithCallHistoryCap(t.historyCap))
	t.session.SourceFiles = append(t.session.SourceFiles, source)
	t.dir = store.SessionDirName(adapter.Platform(), t.session.StartTime)
	return t, nil
}

// Session exposes the mutable aggregate for the Run goroutine's owner.
// Callers outside the monitoring loop must use snapshots instead.
func (t *Tracker) Session() *core.Session { return t.session }

// Dir returns the session directory name used for live snapshots and the
// final summary.
func (t *Tracker) Dir() string { return t.dir }

// Run polls until ctx is cancelled, then finalizes. The returned snapshot is
// nil when the session stayed empty.
func (t *Tracker) Run(ctx context.Context) (*core.Snapshot, error) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return t.Finalize(ctx)
		case <-ticker.C:
			if err := t.Step(); err != nil {
				log.Printf("track: poll: %v", err)
			}
		}
	}
}

// Step performs one poll-and-apply cycle and refreshes the live snapshot
// when anything changed.
func (t *Tracker) Step() error {
	changed := false
	err := t.adapter.Poll(func(ev core.Event) {
		if applyErr := t.session.Apply(ev); applyErr != nil {
			log.Printf("track: dropping event: %v", applyErr)
			return
		}
		changed = true
	})
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	t.absorbMetadata()
	if t.store != nil {
		if saveErr := t.store.SaveActive(t.dir, t.session.Snapshot()); saveErr != nil {
			log.Printf("track: live snapshot: %v", saveErr)
		}
	}
	return nil
}

// absorbMetadata copies what the adapter has learned into the aggregate.
// The model latches on first sighting.
func (t *Tracker) absorbMetadata() {
	meta := t.adapter.Metadata()
	if model, ok := meta["model"]; ok {
		t.session.SetModel(model)
	}
	for k, v := range meta {
		t.session.Metadata[k] = v
	}
}

// Finalize freezes the session, attaches detected smells and persists the
// snapshot. It is idempotent; repeated calls return the first result. An
// empty session is never persisted.
func (t *Tracker) Finalize(ctx context.Context) (*core.Snapshot, error) {
	if t.finalized {
		return t.result, nil
	}
	t.finalized = true

	// Drain anything written between the last tick and shutdown.
	if err := t.adapter.Poll(func(ev core.Event) {
		if applyErr := t.session.Apply(ev); applyErr != nil {
			log.Printf("track: dropping event: %v", applyErr)
		}
	}); err != nil {
		log.Printf("track: final poll: %v", err)
	}
	t.absorbMetadata()

	snap, err := t.session.Finalize()
	if errors.Is(err, core.ErrEmptySession) {
		// The live snapshot may already be on disk (metadata-only events mark
		// the session changed without making it non-empty); drop it so no
		// stale active session lingers.
		if t.store != nil {
			if discardErr := t.store.DiscardActive(t.dir); discardErr != nil {
				log.Printf("track: discarding empty session: %v", discardErr)
			}
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	snap.Smells = analytics.DetectSmells(snap, t.smells)

	if t.store != nil {
		if err := t.store.SaveSnapshotIn(ctx, t.dir, snap); err != nil {
			return snap, fmt.Errorf("track: persisting session: %w", err)
		}
	}
	t.result = snap
	return snap, nil
}

// Diagnostics reports the adapter's malformed-record and skipped-read
// counters.
func (t *Tracker) Diagnostics() core.Diagnostics {
	return t.adapter.Diagnostics()
}
