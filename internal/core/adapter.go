package core

// Adapter normalizes a single platform's session log into canonical events.
// One implementation exists per supported platform; the implementation is
// selected once at session start, never per record.
type Adapter interface {
	// Platform is the stable identifier, e.g. "codex-cli".
	Platform() string

	// Metadata describes what the adapter has learned about the platform
	// context so far (model, working directory, tool version, ...).
	Metadata() map[string]string

	// LatestSessionFile locates the most recently modified session source
	// for this platform, or an error when none exists.
	LatestSessionFile() (string, error)

	// Attach binds the adapter to a session source and resets its tailing
	// state. Must be called before Poll.
	Attach(path string)

	// Source returns the attached session source path, or "".
	Source() string

	// Poll consumes raw records that appeared since the previous poll and
	// emits canonical events in order. Transient read failures are no-ops;
	// malformed records are skipped and counted.
	Poll(emit func(Event)) error

	// ParseBatch processes a complete session source in one pass, for
	// report generation over finished sessions.
	ParseBatch(path string, emit func(Event)) error

	// Diagnostics reports malformed-record and skipped-read counters.
	Diagnostics() Diagnostics
}

// Diagnostics counts locally recovered failures during tailing.
type Diagnostics struct {
	MalformedRecords int
	SkippedReads     int
}
