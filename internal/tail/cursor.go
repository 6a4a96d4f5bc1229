// Package tail tracks how much of a session log source has been consumed so
// repeated polling applies each raw record at most once. Cursor state is
// in-memory only; it lives exactly as long as the monitoring loop.
package tail

import (
	"bufio"
	"os"
	"time"
)

const maxLineSize = 8 * 1024 * 1024

// LineCursor tails an append-only, line-oriented source. On each poll it
// compares the file's modification time to the last observed value; when
// unchanged the poll is a no-op, otherwise exactly the previously consumed
// line count is skipped and only new lines are handed to the callback.
type LineCursor struct {
	path          string
	lastMTime     time.Time
	consumedLines int

	// Malformed and SkippedReads count diagnostics; tailing never aborts on
	// a bad record or a transient read failure.
	Malformed    int
	SkippedReads int
}

func NewLineCursor(path string) *LineCursor {
	return &LineCursor{path: path}
}

func (c *LineCursor) Path() string { return c.path }

// ConsumedLines reports how many lines have been handed out so far.
func (c *LineCursor) ConsumedLines() int { return c.consumedLines }

// Poll reads any new lines and passes each to handle. handle returning false
// marks the line as malformed; the line still counts as consumed. A missing
// file or read error is a transient no-op retried on the next poll.
func (c *LineCursor) Poll(handle func(line string) bool) error {
	info, err := os.Stat(c.path)
	if err != nil {
		c.SkippedReads++
		return nil
	}
	mtime := info.ModTime()
	if mtime.Equal(c.lastMTime) {
		return nil
	}

	f, err := os.Open(c.path)
	if err != nil {
		c.SkippedReads++
		return nil
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 512*1024), maxLineSize)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo <= c.consumedLines {
			continue
		}
		if !handle(scanner.Text()) {
			c.Malformed++
		}
	}
	if lineNo > c.consumedLines {
		c.consumedLines = lineNo
	}
	if err := scanner.Err(); err != nil {
		// Partial read: whatever was handed out is consumed, the rest is
		// retried next poll. The mtime stays unlatched so the retry fires
		// even when the file does not change again.
		c.SkippedReads++
		return nil
	}
	c.lastMTime = mtime
	return nil
}

// DocCursor tails a source that is rewritten wholesale on every update. Each
// poll re-reads the entire document; the caller forwards only records whose
// identifier has not been seen before.
type DocCursor struct {
	path      string
	lastMTime time.Time
	seen      map[string]struct{}

	Malformed    int
	SkippedReads int
}

func NewDocCursor(path string) *DocCursor {
	return &DocCursor{path: path, seen: make(map[string]struct{})}
}

func (c *DocCursor) Path() string { return c.path }

// Seen reports whether the record identifier was already forwarded.
func (c *DocCursor) Seen(id string) bool {
	_, ok := c.seen[id]
	return ok
}

// Mark records an identifier as forwarded.
func (c *DocCursor) Mark(id string) {
	c.seen[id] = struct{}{}
}

// SeenCount reports how many distinct identifiers have been forwarded.
func (c *DocCursor) SeenCount() int { return len(c.seen) }

// Poll reads the whole document and hands the raw bytes to handle when the
// file changed since the last poll. handle returning false counts the
// document as malformed. Missing file or read error is a transient no-op.
func (c *DocCursor) Poll(handle func(data []byte) bool) error {
	info, err := os.Stat(c.path)
	if err != nil {
		c.SkippedReads++
		return nil
	}
	mtime := info.ModTime()
	if mtime.Equal(c.lastMTime) {
		return nil
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		// A failed read stays unlatched so the next poll retries even when
		// the file does not change again.
		c.SkippedReads++
		return nil
	}
	c.lastMTime = mtime
	if !handle(data) {
		c.Malformed++
	}
	return nil
}
