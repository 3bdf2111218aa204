// Package history persists suite results to a local SQLite database so runs
// can be compared over time.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rustic-ai/moth/packages/harness"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	spec_name   TEXT NOT NULL,
	spec_path   TEXT NOT NULL,
	started_at  TIMESTAMP NOT NULL,
	duration_ms INTEGER NOT NULL,
	total       INTEGER NOT NULL,
	passed      INTEGER NOT NULL,
	failed      INTEGER NOT NULL,
	skipped     INTEGER NOT NULL,
	errored     INTEGER NOT NULL,
	detail      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_spec ON runs(spec_name, started_at);
`

// Run is one persisted suite execution.
type Run struct {
	ID        string        `json:"id"`
	SpecName  string        `json:"spec_name"`
	SpecPath  string        `json:"spec_path"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Total     int           `json:"total"`
	Passed    int           `json:"passed"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Errored   int           `json:"errored"`
}

// Store wraps the SQLite connection.
type Store struct {
	db *sql.DB
}

// Open creates or opens the history database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the connection.
func (s *Store) Close() error { return s.db.Close() }

// Save records one suite result and returns its run id. The full result,
// including per-test validation detail, is stored as JSON in the detail
// column for later inspection.
func (s *Store) Save(ctx context.Context, result *harness.SuiteResult) (string, error) {
	detail, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("encoding result: %w", err)
	}

	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, spec_name, spec_path, started_at, duration_ms,
			total, passed, failed, skipped, errored, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, result.SpecName, result.SpecPath, result.StartedAt,
		result.Duration.Milliseconds(),
		result.Total, result.Passed, result.Failed, result.Skipped, result.Errored,
		string(detail),
	)
	if err != nil {
		return "", fmt.Errorf("inserting run: %w", err)
	}
	return id, nil
}

// Recent returns the latest runs, newest first. A non-empty specName
// restricts the listing to one suite.
func (s *Store) Recent(ctx context.Context, specName string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, spec_name, spec_path, started_at, duration_ms,
			total, passed, failed, skipped, errored
		FROM runs`
	args := []any{}
	if specName != "" {
		query += ` WHERE spec_name = ?`
		args = append(args, specName)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var durationMs int64
		if err := rows.Scan(&r.ID, &r.SpecName, &r.SpecPath, &r.StartedAt, &durationMs,
			&r.Total, &r.Passed, &r.Failed, &r.Skipped, &r.Errored); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.Duration = time.Duration(durationMs) * time.Millisecond
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Load returns the full persisted result for one run id.
func (s *Store) Load(ctx context.Context, id string) (*harness.SuiteResult, error) {
	var detail string
	err := s.db.QueryRowContext(ctx,
		`SELECT detail FROM runs WHERE id = ?`, id).Scan(&detail)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading run: %w", err)
	}

	result := &harness.SuiteResult{}
	if err := json.Unmarshal([]byte(detail), result); err != nil {
		return nil, fmt.Errorf("decoding run detail: %w", err)
	}
	return result, nil
}
