// Package history keeps a queryable record of tool invocations in SQLite.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// DefaultMaxOutputChars bounds the result text kept per entry
const DefaultMaxOutputChars = 4000

// ErrNotFound is returned by Get for unknown ids
var ErrNotFound = errors.New("history entry not found")

// Entry is one recorded tool call
type Entry struct {
	ID           string    `json:"id"`
	InvocationID string    `json:"invocation_id"`
	SessionKey   string    `json:"session_key,omitempty"`
	Actor        string    `json:"actor"`
	Tool         string    `json:"tool"`
	Args         string    `json:"args"` // JSON object
	Status       string    `json:"status"`
	Output       string    `json:"output"`
	Truncated    bool      `json:"truncated"`
	DurationMS   int64     `json:"duration_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

// Query filters List. Zero fields match everything.
type Query struct {
	SessionKey string
	Tool       string
	Status     string
	Limit      int
}

// Store is a SQLite-backed invocation log. A nil *Store ignores writes.
type Store struct {
	db             *sql.DB
	maxOutputChars int
}

// Open opens or creates the database at path.
func Open(path string, maxOutputChars int) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if maxOutputChars <= 0 {
		maxOutputChars = DefaultMaxOutputChars
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db, maxOutputChars: maxOutputChars}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Debug().Str("path", path).Msg("History store opened")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS invocations (
			id TEXT PRIMARY KEY,
			invocation_id TEXT NOT NULL,
			session_key TEXT NOT NULL DEFAULT '',
			actor TEXT NOT NULL DEFAULT '',
			tool TEXT NOT NULL,
			args TEXT NOT NULL,
			status TEXT NOT NULL,
			output TEXT NOT NULL,
			truncated INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_invocations_created ON invocations(created_at);
		CREATE INDEX IF NOT EXISTS idx_invocations_session ON invocations(session_key, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record stores entry, filling ID and CreatedAt when empty. Output longer
// than the store limit is cut and marked truncated.
func (s *Store) Record(ctx context.Context, entry Entry) (Entry, error) {
	if s == nil {
		return entry, nil
	}
	if entry.ID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return entry, fmt.Errorf("failed to generate id: %w", err)
		}
		entry.ID = id
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.Args == "" {
		entry.Args = "{}"
	}
	if runes := []rune(entry.Output); len(runes) > s.maxOutputChars {
		entry.Output = string(runes[:s.maxOutputChars])
		entry.Truncated = true
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invocations
			(id, invocation_id, session_key, actor, tool, args, status, output, truncated, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.InvocationID, entry.SessionKey, entry.Actor, entry.Tool, entry.Args,
		entry.Status, entry.Output, entry.Truncated, entry.DurationMS, entry.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return entry, fmt.Errorf("failed to record invocation: %w", err)
	}
	return entry, nil
}

// List returns matching entries, newest first.
func (s *Store) List(ctx context.Context, q Query) ([]Entry, error) {
	if s == nil {
		return nil, nil
	}

	var (
		where []string
		args  []interface{}
	)
	if q.SessionKey != "" {
		where = append(where, "session_key = ?")
		args = append(args, q.SessionKey)
	}
	if q.Tool != "" {
		where = append(where, "tool = ?")
		args = append(args, q.Tool)
	}
	if q.Status != "" {
		where = append(where, "status = ?")
		args = append(args, q.Status)
	}

	query := `SELECT id, invocation_id, session_key, actor, tool, args, status, output, truncated, duration_ms, created_at
		FROM invocations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invocations: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Get returns the entry with the given id
func (s *Store) Get(ctx context.Context, id string) (Entry, error) {
	if s == nil {
		return Entry{}, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `SELECT id, invocation_id, session_key, actor, tool, args, status, output, truncated, duration_ms, created_at
		FROM invocations WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return entry, err
}

// Prune deletes entries created before cutoff and returns how many were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM invocations WHERE created_at < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune invocations: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of stored entries
func (s *Store) Count(ctx context.Context) (int, error) {
	if s == nil {
		return 0, nil
	}
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM invocations").Scan(&n)
	return n, err
}

// Close closes the database
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		entry     Entry
		createdAt int64
	)
	err := row.Scan(&entry.ID, &entry.InvocationID, &entry.SessionKey, &entry.Actor, &entry.Tool,
		&entry.Args, &entry.Status, &entry.Output, &entry.Truncated, &entry.DurationMS, &createdAt)
	if err != nil {
		return Entry{}, err
	}
	entry.CreatedAt = time.UnixMilli(createdAt)
	return entry, nil
}
