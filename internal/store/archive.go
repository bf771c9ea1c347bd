package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"coil/internal/logging"
	"coil/internal/types"
)

// Archive keeps a durable transcript and token ledger in SQLite, written
// alongside the session files but never read on the hot path of a turn.
type Archive struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
}

// ArchivedTurn is one transcript row.
type ArchivedTurn struct {
	Turn    int
	Role    string
	Content string
}

// NewArchive opens (creating if needed) the archive database.
func NewArchive(path string) (*Archive, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create archive directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("failed to set sqlite synchronous=NORMAL: %v", err)
	}

	a := &Archive{db: db, dbPath: path}
	if err := a.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logging.StoreDebug("archive open at %s", path)
	return a, nil
}

// initialize creates the required tables.
func (a *Archive) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS turns (
		session_id TEXT NOT NULL,
		turn INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (session_id, turn)
	);
	CREATE TABLE IF NOT EXISTS token_usage (
		session_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		cached_tokens INTEGER NOT NULL DEFAULT 0,
		thought_tokens INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (session_id, provider, model)
	);
	CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id);
	`
	if _, err := a.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize archive schema: %w", err)
	}
	return nil
}

// RecordTurn stores one transcript row. Replaying the same (session, turn)
// pair is silently skipped so re-syncing after a restart is idempotent.
func (a *Archive) RecordTurn(sessionID string, turn int, role, content string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, err := a.db.Exec(
		`INSERT OR IGNORE INTO turns (session_id, turn, role, content) VALUES (?, ?, ?, ?)`,
		sessionID, turn, role, content,
	)
	if err != nil {
		logging.StoreError("failed to record turn %d for %s: %v", turn, sessionID, err)
		return fmt.Errorf("failed to record turn: %w", err)
	}
	return nil
}

// Turns returns the transcript for a session in turn order.
func (a *Archive) Turns(sessionID string) ([]ArchivedTurn, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rows, err := a.db.Query(
		`SELECT turn, role, content FROM turns WHERE session_id = ? ORDER BY turn`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []ArchivedTurn
	for rows.Next() {
		var t ArchivedTurn
		if err := rows.Scan(&t.Turn, &t.Role, &t.Content); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// RecordUsage accumulates token counts for a (session, provider, model)
// triple.
func (a *Archive) RecordUsage(sessionID, provider, model string, usage types.UsageMetadata) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, err := a.db.Exec(
		`INSERT INTO token_usage (session_id, provider, model, input_tokens, output_tokens, cached_tokens, thought_tokens)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id, provider, model) DO UPDATE SET
			input_tokens = input_tokens + excluded.input_tokens,
			output_tokens = output_tokens + excluded.output_tokens,
			cached_tokens = cached_tokens + excluded.cached_tokens,
			thought_tokens = thought_tokens + excluded.thought_tokens,
			updated_at = CURRENT_TIMESTAMP`,
		sessionID, provider, model,
		usage.InputTokens, usage.OutputTokens, usage.CachedTokens, usage.ThoughtTokens,
	)
	if err != nil {
		logging.StoreError("failed to record usage for %s: %v", sessionID, err)
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

// SessionUsage sums the recorded usage for one session across providers
// and models.
func (a *Archive) SessionUsage(sessionID string) (types.UsageMetadata, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var u types.UsageMetadata
	err := a.db.QueryRow(
		`SELECT COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(cached_tokens), 0), COALESCE(SUM(thought_tokens), 0)
		 FROM token_usage WHERE session_id = ?`,
		sessionID,
	).Scan(&u.InputTokens, &u.OutputTokens, &u.CachedTokens, &u.ThoughtTokens)
	if err != nil {
		return types.UsageMetadata{}, fmt.Errorf("failed to sum usage: %w", err)
	}
	u.TotalTokens = u.InputTokens + u.OutputTokens
	return u, nil
}

// Close releases the database handle.
func (a *Archive) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}
