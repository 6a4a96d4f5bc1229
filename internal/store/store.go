// Package store persists finished session snapshots as JSON documents and
// maintains a sqlite index over them for fast listing and filtering. The
// JSON files are the source of truth; the index can always be rebuilt from
// them.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mcpaudit/mcpaudit/internal/core"
)

const (
	summaryFile = "summary.json"
	activeFile  = "active.json"
	indexFile   = "index.db"
)

// Store owns the sessions directory and its sqlite index.
type Store struct {
	root string
	db   *sql.DB
}

// Open prepares the sessions directory and index at root, creating both when
// missing.
func Open(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("store: creating sessions dir: %w", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(root, indexFile))
	if err != nil {
		return nil, fmt.Errorf("store: opening index: %w", err)
	}
	s := &Store{root: root, db: db}
	if err := s.init(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Root() string { return s.root }

func (s *Store) init(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA synchronous = NORMAL;`,
		`PRAGMA busy_timeout = 5000;`,
		`CREATE TABLE IF NOT EXISTS sessions (
			dir TEXT PRIMARY KEY,
			platform TEXT NOT NULL,
			project TEXT NOT NULL,
			model TEXT,
			start_time TEXT NOT NULL,
			end_time TEXT NOT NULL,
			total_tokens INTEGER NOT NULL,
			mcp_calls INTEGER NOT NULL,
			mcp_tokens INTEGER NOT NULL,
			smells TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_start_time ON sessions(start_time);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_platform ON sessions(platform, start_time);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: init schema: %w", err)
		}
	}
	return nil
}

// SessionDirName builds the stable directory name for a finished session.
func SessionDirName(platform string, start time.Time) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%s-%s", platform, start.UTC().Format("20060102-150405"), id)
}

// SaveSnapshot persists a finished snapshot under a new session directory
// and indexes it. Returns the directory name.
func (s *Store) SaveSnapshot(ctx context.Context, snap *core.Snapshot) (string, error) {
	dir := SessionDirName(snap.Session.Platform, snap.Session.StartTime)
	if err := s.SaveSnapshotIn(ctx, dir, snap); err != nil {
		return "", err
	}
	return dir, nil
}

// SaveSnapshotIn persists a finished snapshot into an existing session
// directory, replacing any live view it held.
func (s *Store) SaveSnapshotIn(ctx context.Context, dir string, snap *core.Snapshot) error {
	full := filepath.Join(s.root, dir)
	if err := os.MkdirAll(full, 0o755); err != nil {
		return fmt.Errorf("store: creating session dir: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encoding snapshot: %w", err)
	}
	if err := atomicWriteFile(filepath.Join(full, summaryFile), data, 0o644); err != nil {
		return fmt.Errorf("store: writing %s: %w", summaryFile, err)
	}
	// A finished session has no live view anymore.
	os.Remove(filepath.Join(full, activeFile))

	return s.index(ctx, dir, snap)
}

// SaveActive writes the live snapshot of an in-flight session so other
// processes can observe progress. The dir is created on first write.
func (s *Store) SaveActive(dir string, snap *core.Snapshot) error {
	full := filepath.Join(s.root, dir)
	if err := os.MkdirAll(full, 0o755); err != nil {
		return fmt.Errorf("store: creating session dir: %w", err)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encoding snapshot: %w", err)
	}
	if err := atomicWriteFile(filepath.Join(full, activeFile), data, 0o644); err != nil {
		return fmt.Errorf("store: writing %s: %w", activeFile, err)
	}
	return nil
}

// DiscardActive removes a session's live view without persisting a summary,
// for sessions that ended with nothing worth keeping. The directory itself
// is removed too when nothing else lives in it.
func (s *Store) DiscardActive(dir string) error {
	full := filepath.Join(s.root, dir)
	if err := os.Remove(filepath.Join(full, activeFile)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: discarding %s: %w", activeFile, err)
	}
	// Remove fails on a non-empty directory, which is fine: something else
	// (a summary, user files) still claims it.
	os.Remove(full)
	return nil
}

func (s *Store) index(ctx context.Context, dir string, snap *core.Snapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions
			(dir, platform, project, model, start_time, end_time, total_tokens, mcp_calls, mcp_tokens, smells)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(dir) DO UPDATE SET
			end_time = excluded.end_time,
			total_tokens = excluded.total_tokens,
			mcp_calls = excluded.mcp_calls,
			mcp_tokens = excluded.mcp_tokens,
			smells = excluded.smells`,
		dir,
		snap.Session.Platform,
		snap.Session.Project,
		snap.Session.Model,
		snap.Session.StartTime.UTC().Format(time.RFC3339),
		snap.Session.EndTime.UTC().Format(time.RFC3339),
		snap.Tokens.Total,
		snap.MCP.TotalCalls,
		snap.MCP.TotalTokens,
		strings.Join(snap.Smells, ","),
	)
	if err != nil {
		return fmt.Errorf("store: indexing session: %w", err)
	}
	return nil
}

// SessionRecord is one indexed session row.
type SessionRecord struct {
	Dir         string
	Platform    string
	Project     string
	Model       string
	StartTime   time.Time
	EndTime     time.Time
	TotalTokens int
	MCPCalls    int
	MCPTokens   int
	Smells      []string
}

// ListFilter narrows ListSessions results. Zero values mean no constraint.
type ListFilter struct {
	Platform string
	Project  string
	Since    time.Time
	Limit    int
}

// ListSessions returns indexed sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, filter ListFilter) ([]SessionRecord, error) {
	query := `SELECT dir, platform, project, model, start_time, end_time,
		total_tokens, mcp_calls, mcp_tokens, smells FROM sessions`
	var conds []string
	var args []any
	if filter.Platform != "" {
		conds = append(conds, "platform = ?")
		args = append(args, filter.Platform)
	}
	if filter.Project != "" {
		conds = append(conds, "project = ?")
		args = append(args, filter.Project)
	}
	if !filter.Since.IsZero() {
		conds = append(conds, "start_time >= ?")
		args = append(args, filter.Since.UTC().Format(time.RFC3339))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY start_time DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: listing sessions: %w", err)
	}
	defer rows.Close()

	var records []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var start, end, smells string
		var model sql.NullString
		if err := rows.Scan(&rec.Dir, &rec.Platform, &rec.Project, &model,
			&start, &end, &rec.TotalTokens, &rec.MCPCalls, &rec.MCPTokens, &smells); err != nil {
			return nil, fmt.Errorf("store: scanning session row: %w", err)
		}
		rec.Model = model.String
		rec.StartTime, _ = time.Parse(time.RFC3339, start)
		rec.EndTime, _ = time.Parse(time.RFC3339, end)
		if smells != "" {
			rec.Smells = strings.Split(smells, ",")
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// LoadSnapshot reads a persisted session summary by directory name.
func (s *Store) LoadSnapshot(dir string) (*core.Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(s.root, dir, summaryFile))
	if err != nil {
		return nil, fmt.Errorf("store: reading snapshot: %w", err)
	}
	var snap core.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("store: decoding snapshot %s: %w", dir, err)
	}
	return &snap, nil
}

// LoadActive reads the live snapshot of an in-flight session, or nil when
// none exists.
func (s *Store) LoadActive(dir string) (*core.Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(s.root, dir, activeFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: reading active snapshot: %w", err)
	}
	var snap core.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("store: decoding active snapshot %s: %w", dir, err)
	}
	return &snap, nil
}

// Reindex rebuilds the index from the JSON summaries on disk. Useful after
// manual edits or an index file loss.
func (s *Store) Reindex(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0, fmt.Errorf("store: reading sessions dir: %w", err)
	}
	count := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		snap, err := s.LoadSnapshot(entry.Name())
		if err != nil {
			continue
		}
		if err := s.index(ctx, entry.Name(), snap); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}
