// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/wingedpig/warden/internal/approval"
)

// SQLiteStore holds the approval audit trail and remembered permission rules.
type SQLiteStore struct {
	db *sql.DB
}

var (
	_ approval.AuditLog  = (*SQLiteStore)(nil)
	_ approval.RuleStore = (*SQLiteStore)(nil)
)

// OpenSQLite creates or opens the database at dbPath and applies migrations.
func OpenSQLite(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=rwc&_pragma=busy_timeout(5000)", dbPath))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer keeps SQLITE_BUSY out of the audit path.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []func(*sql.DB) error{
		migrateV1,
		migrateV2,
	}
	for i := version; i < len(migrations); i++ {
		slog.Info("store: applying migration", "version", i+1)
		if err := migrations[i](s.db); err != nil {
			return fmt.Errorf("migration v%d: %w", i+1, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_version (version) VALUES (?)", i+1); err != nil {
			return fmt.Errorf("record migration v%d: %w", i+1, err)
		}
	}
	return nil
}

// migrateV1 creates the audit table.
func migrateV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS approval_audit (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			tool_name TEXT NOT NULL DEFAULT '',
			event TEXT NOT NULL,
			outcome TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			pattern TEXT NOT NULL DEFAULT '',
			wait_ms INTEGER NOT NULL DEFAULT 0,
			at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_audit_session ON approval_audit(session_id);
		CREATE INDEX IF NOT EXISTS idx_audit_request ON approval_audit(request_id);
	`)
	return err
}

// migrateV2 creates the remembered rule table.
func migrateV2(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS permission_rules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pattern TEXT NOT NULL,
			scope TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			UNIQUE(pattern, scope, session_id)
		);
	`)
	return err
}

// Record implements approval.AuditLog.
func (s *SQLiteStore) Record(ctx context.Context, e approval.AuditEntry) error {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO approval_audit (request_id, session_id, kind, tool_name, event, outcome, reason, pattern, wait_ms, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RequestID, e.SessionID, string(e.Kind), e.ToolName, e.Event, string(e.Outcome),
		e.Reason, e.Pattern, e.Wait.Milliseconds(), at.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record audit: %w", err)
	}
	return nil
}

// Audit returns a session's audit trail, oldest first. limit <= 0 returns
// everything.
func (s *SQLiteStore) Audit(ctx context.Context, sessionID string, limit int) ([]approval.AuditEntry, error) {
	query := `SELECT request_id, session_id, kind, tool_name, event, outcome, reason, pattern, wait_ms, at
		FROM approval_audit WHERE session_id = ? ORDER BY id`
	args := []interface{}{sessionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var out []approval.AuditEntry
	for rows.Next() {
		var (
			e       approval.AuditEntry
			kind    string
			outcome string
			waitMS  int64
			at      string
		)
		if err := rows.Scan(&e.RequestID, &e.SessionID, &kind, &e.ToolName, &e.Event, &outcome, &e.Reason, &e.Pattern, &waitMS, &at); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		e.Kind = approval.Kind(kind)
		e.Outcome = approval.Outcome(outcome)
		e.Wait = time.Duration(waitMS) * time.Millisecond
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveRule implements approval.RuleStore. Saving an existing rule is a no-op.
func (s *SQLiteStore) SaveRule(ctx context.Context, r approval.Rule) error {
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	sessionID := r.SessionID
	if r.Scope == approval.ScopeAlways {
		sessionID = ""
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO permission_rules (pattern, scope, session_id, created_at)
		VALUES (?, ?, ?, ?)`,
		r.Pattern, string(r.Scope), sessionID, created.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save rule: %w", err)
	}
	return nil
}

// Rules implements approval.RuleStore.
func (s *SQLiteStore) Rules(ctx context.Context, sessionID string) ([]approval.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pattern, scope, session_id, created_at FROM permission_rules
		WHERE scope = ? OR (scope = ? AND session_id = ?)
		ORDER BY id`,
		string(approval.ScopeAlways), string(approval.ScopeSession), sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var out []approval.Rule
	for rows.Next() {
		var (
			r       approval.Rule
			scope   string
			created string
		)
		if err := rows.Scan(&r.ID, &r.Pattern, &scope, &r.SessionID, &created); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		r.Scope = approval.Scope(scope)
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, r)
	}
	return out, rows.Err()
}
