// Package store persists completed analysis and plan results to SQLite for
// later inspection. Persistence is best-effort bookkeeping: a failed write
// never fails the call that produced the record.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/omicscout/omicscout/internal/llm"
	_ "modernc.org/sqlite"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS analyses (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id    TEXT NOT NULL,
    kind          TEXT NOT NULL,
    query         TEXT NOT NULL,
    payload       TEXT NOT NULL DEFAULT '{}',
    fallback      INTEGER NOT NULL DEFAULT 0,
    input_tokens  INTEGER NOT NULL DEFAULT 0,
    output_tokens INTEGER NOT NULL DEFAULT 0,
    created_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_analyses_session ON analyses(session_id);
CREATE INDEX IF NOT EXISTS idx_analyses_created_at ON analyses(created_at);
`

// StoredAnalysis is one persisted analysis row.
type StoredAnalysis struct {
	ID           int64          `json:"id"`
	SessionID    string         `json:"session_id"`
	Kind         string         `json:"kind"`
	Query        string         `json:"query"`
	Payload      map[string]any `json:"payload"`
	Fallback     bool           `json:"fallback"`
	InputTokens  int            `json:"input_tokens"`
	OutputTokens int            `json:"output_tokens"`
	CreatedAt    time.Time      `json:"created_at"`
}

// AnalysisStore implements llm.AnalysisRecorder backed by a SQLite database.
type AnalysisStore struct {
	db *sql.DB
}

// DefaultDBPath returns the default database path
// (~/.local/share/omicscout/analyses.db).
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "omicscout", "analyses.db"), nil
}

// Open opens (or creates) a SQLite database at dbPath and ensures the schema
// exists.
func Open(dbPath string) (*AnalysisStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &AnalysisStore{db: db}, nil
}

// Record inserts one completed analysis.
func (s *AnalysisStore) Record(ctx context.Context, rec llm.AnalysisRecord) error {
	payloadJSON, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	fallback := 0
	if rec.Fallback {
		fallback = 1
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO analyses
			(session_id, kind, query, payload, fallback, input_tokens, output_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID,
		rec.Kind,
		rec.Query,
		string(payloadJSON),
		fallback,
		rec.InputTokens,
		rec.OutputTokens,
		time.Now().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record analysis: %w", err)
	}
	return nil
}

// Recent returns the most recent analyses, newest first. A sessionID filter
// is applied when non-empty.
func (s *AnalysisStore) Recent(ctx context.Context, sessionID string, limit int) ([]StoredAnalysis, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, session_id, kind, query, payload, fallback, input_tokens, output_tokens, created_at
		FROM analyses`
	args := []any{}
	if sessionID != "" {
		query += " WHERE session_id = ?"
		args = append(args, sessionID)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	var out []StoredAnalysis
	for rows.Next() {
		var a StoredAnalysis
		var payloadJSON, createdAt string
		var fallback int
		if err := rows.Scan(
			&a.ID, &a.SessionID, &a.Kind, &a.Query,
			&payloadJSON, &fallback, &a.InputTokens, &a.OutputTokens, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		a.Fallback = fallback != 0
		a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		if err := json.Unmarshal([]byte(payloadJSON), &a.Payload); err != nil {
			a.Payload = map[string]any{}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *AnalysisStore) Close() error {
	return s.db.Close()
}
