package telemetry

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteSink appends records to a SQLite database. Preferred over JSONL
// when downstream tooling wants to query attempts and discard reasons
// instead of tailing a file.
type SQLiteSink struct {
	db *sql.DB
}

const telemetrySchema = `
CREATE TABLE IF NOT EXISTS session_telemetry (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id          TEXT NOT NULL,
	unit_id         TEXT NOT NULL,
	status          TEXT NOT NULL,
	total_attempts  INTEGER NOT NULL,
	valid_votes     INTEGER NOT NULL,
	discarded       TEXT,
	winner_key      TEXT,
	authoritative   INTEGER NOT NULL DEFAULT 0,
	margin_achieved INTEGER NOT NULL DEFAULT 0,
	elapsed_ms      INTEGER NOT NULL DEFAULT 0,
	created_at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_telemetry_run ON session_telemetry(run_id);
CREATE INDEX IF NOT EXISTS idx_session_telemetry_unit ON session_telemetry(unit_id);
`

// NewSQLiteSink opens (or creates) the database at path and ensures the
// telemetry schema exists.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create telemetry directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry database: %w", err)
	}
	if _, err := db.Exec(telemetrySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create telemetry schema: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

// Append inserts one record. database/sql serializes access, so concurrent
// session appends are safe.
func (s *SQLiteSink) Append(rec Record) error {
	discarded, err := json.Marshal(rec.Discarded)
	if err != nil {
		return fmt.Errorf("failed to marshal discard map: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO session_telemetry
			(run_id, unit_id, status, total_attempts, valid_votes, discarded,
			 winner_key, authoritative, margin_achieved, elapsed_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.UnitID, rec.Status, rec.TotalAttempts, rec.ValidVotes,
		string(discarded), rec.WinnerKey, rec.Authoritative, rec.MarginAchieved,
		rec.ElapsedMs, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert telemetry record: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

// CountByStatus returns how many records of the run landed in each status.
// Used by the CLI summary and by tests.
func (s *SQLiteSink) CountByStatus(runID string) (map[string]int, error) {
	rows, err := s.db.Query(
		`SELECT status, COUNT(*) FROM session_telemetry WHERE run_id = ? GROUP BY status`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query telemetry: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan telemetry row: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
