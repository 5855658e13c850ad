// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Archives sessions and turns with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// Each connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			platform TEXT NOT NULL,
			channel_id TEXT NOT NULL DEFAULT '',
			variant TEXT NOT NULL,
			origin TEXT NOT NULL,
			created_at TEXT NOT NULL,
			closed_at TEXT,

			CHECK (origin IN ('initializing', 'resuming'))
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_thread_id
			ON sessions(thread_id);

		CREATE INDEX IF NOT EXISTS idx_sessions_created
			ON sessions(created_at);

		CREATE TABLE IF NOT EXISTS turns (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			thread_id TEXT NOT NULL,
			role TEXT NOT NULL,
			author TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL,
			created_at TEXT NOT NULL,
			seq INTEGER NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE,

			CHECK (role IN ('human', 'agent'))
		);

		CREATE INDEX IF NOT EXISTS idx_turns_session_seq
			ON turns(session_id, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// timeLayout is fixed width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// SaveSession archives a new session.
// Returns ErrDuplicateSession if the ID is already archived.
func (s *SQLiteStore) SaveSession(ctx context.Context, rec *SessionRecord) error {
	query := `
		INSERT INTO sessions (id, thread_id, platform, channel_id, variant, origin, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.ThreadID,
		rec.Platform,
		rec.ChannelID,
		rec.Variant,
		rec.Origin,
		formatTime(rec.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) && strings.Contains(err.Error(), "UNIQUE") {
			return ErrDuplicateSession
		}
		return fmt.Errorf("inserting session: %w", err)
	}

	s.logger.Debug("archived session", "id", rec.ID, "thread_id", rec.ThreadID)
	return nil
}

// CloseSession stamps the close time of a session.
// Returns ErrNotFound if the session doesn't exist.
func (s *SQLiteStore) CloseSession(ctx context.Context, id string, closedAt time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET closed_at = ? WHERE id = ?`,
		formatTime(closedAt), id,
	)
	if err != nil {
		return fmt.Errorf("closing session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

const sessionColumns = `id, thread_id, platform, channel_id, variant, origin, created_at, closed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*SessionRecord, error) {
	var rec SessionRecord
	var createdAtStr string
	var closedAtStr sql.NullString

	if err := row.Scan(
		&rec.ID,
		&rec.ThreadID,
		&rec.Platform,
		&rec.ChannelID,
		&rec.Variant,
		&rec.Origin,
		&createdAtStr,
		&closedAtStr,
	); err != nil {
		return nil, err
	}

	var err error
	rec.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if closedAtStr.Valid {
		closedAt, err := parseTime(closedAtStr.String)
		if err != nil {
			return nil, fmt.Errorf("parsing closed_at: %w", err)
		}
		rec.ClosedAt = &closedAt
	}
	return &rec, nil
}

// GetSession retrieves a session by ID.
// Returns ErrNotFound if the session doesn't exist.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	rec, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}
	return rec, nil
}

// ListSessions returns the most recently created sessions, newest first.
// A limit <= 0 returns every session.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]*SessionRecord, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.querySessions(ctx, query, args...)
}

// ListThreadSessions returns every session of a thread, oldest first.
func (s *SQLiteStore) ListThreadSessions(ctx context.Context, threadID string) ([]*SessionRecord, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE thread_id = ? ORDER BY created_at ASC`
	return s.querySessions(ctx, query, threadID)
}

func (s *SQLiteStore) querySessions(ctx context.Context, query string, args ...any) ([]*SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

// SaveTurn appends a turn to a session's archive. Turns keep insertion
// order even when their timestamps are equal.
func (s *SQLiteStore) SaveTurn(ctx context.Context, rec *TurnRecord) error {
	query := `
		INSERT INTO turns (id, session_id, thread_id, role, author, text, created_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM turns WHERE session_id = ?))
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.SessionID,
		rec.ThreadID,
		rec.Role,
		rec.Author,
		rec.Text,
		formatTime(rec.CreatedAt),
		rec.SessionID,
	)
	if err != nil {
		if isConstraintViolation(err) && strings.Contains(err.Error(), "FOREIGN KEY") {
			return fmt.Errorf("session %s: %w", rec.SessionID, ErrNotFound)
		}
		return fmt.Errorf("inserting turn: %w", err)
	}
	return nil
}

// GetSessionTurns returns a session's turns in the order they were saved.
// If limit > 0, only the most recent limit turns are returned.
func (s *SQLiteStore) GetSessionTurns(ctx context.Context, sessionID string, limit int) ([]*TurnRecord, error) {
	query := `
		SELECT id, session_id, thread_id, role, author, text, created_at
		FROM (
			SELECT * FROM turns WHERE session_id = ? ORDER BY seq DESC LIMIT ?
		)
		ORDER BY seq ASC
	`
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	var turns []*TurnRecord
	for rows.Next() {
		var rec TurnRecord
		var createdAtStr string
		if err := rows.Scan(
			&rec.ID,
			&rec.SessionID,
			&rec.ThreadID,
			&rec.Role,
			&rec.Author,
			&rec.Text,
			&createdAtStr,
		); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		rec.CreatedAt, err = parseTime(createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		turns = append(turns, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating turns: %w", err)
	}
	return turns, nil
}
