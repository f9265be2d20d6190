package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteSink persists audit records to a local sqlite database for later
// query, in addition to (never instead of) the mandatory stderr NDJSON
// stream. Uses the pure-Go modernc.org/sqlite driver, so this sink needs
// no cgo toolchain to build.
type SQLiteSink struct {
	db *sql.DB
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS audit_records (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp         TEXT NOT NULL,
	session_id_prefix TEXT NOT NULL,
	sequence_number   INTEGER NOT NULL,
	event             TEXT NOT NULL,
	tool_name         TEXT,
	decision          TEXT NOT NULL,
	rule_id           TEXT,
	taints_before     TEXT NOT NULL,
	taints_after      TEXT NOT NULL,
	call_hash         TEXT
);
CREATE INDEX IF NOT EXISTS idx_audit_session ON audit_records(session_id_prefix);
CREATE INDEX IF NOT EXISTS idx_audit_call_hash ON audit_records(call_hash);
`

// NewSQLiteSink opens (creating if necessary) a sqlite database at path
// and ensures the audit_records table exists.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open sqlite database: %w", err)
	}
	if _, err := db.Exec(createTableSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit: create schema: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

// Append inserts records in a single transaction.
func (s *SQLiteSink) Append(records ...Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("audit: begin transaction: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO audit_records
		(timestamp, session_id_prefix, sequence_number, event, tool_name, decision, rule_id, taints_before, taints_after, call_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("audit: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		before, err := json.Marshal(rec.TaintsBefore)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("audit: marshal taints_before: %w", err)
		}
		after, err := json.Marshal(rec.TaintsAfter)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("audit: marshal taints_after: %w", err)
		}
		if _, err := stmt.Exec(
			rec.Timestamp.UTC().Format("2006-01-02T15:04:05.000000000Z07:00"),
			rec.SessionIDPrefix,
			rec.SequenceNumber,
			rec.Event,
			rec.ToolName,
			rec.Decision,
			rec.RuleID,
			string(before),
			string(after),
			rec.CallHash,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("audit: insert record: %w", err)
		}
	}
	return tx.Commit()
}

// Flush is a no-op: each Append already commits its own transaction.
func (s *SQLiteSink) Flush() error { return nil }

// Close closes the underlying database handle.
func (s *SQLiteSink) Close() error { return s.db.Close() }

var _ Sink = (*SQLiteSink)(nil)
