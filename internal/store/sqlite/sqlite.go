package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/MahdiChalhoub/sleek-auth-flow-sub002/internal/store/sqlstore"
)

// Dialect stores decimals and timestamps as TEXT. Timestamps use a
// fixed-width UTC layout so ORDER BY on the column is chronological.
var Dialect = sqlstore.Dialect{
	Name:              "sqlite",
	Rebind:            sqlstore.NumberedParams,
	IsUniqueViolation: isUniqueViolation,
	TimeValue:         sqlstore.SortableTime,
}

type Store struct {
	*sqlstore.Store
	db *sql.DB
}

// New opens (or creates) a SQLite database at path and ensures the schema
// exists. Pass ":memory:" for a throwaway database.
func New(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	pragmas := []string{"PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return &Store{Store: sqlstore.New(db, Dialect), db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func createTables(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(sqliteErr.Error(), "UNIQUE")
	}
	return false
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS register_sessions (
		id TEXT PRIMARY KEY,
		register_id TEXT NOT NULL,
		opened_by TEXT NOT NULL,
		closed_by TEXT,
		opened_at TEXT NOT NULL,
		closed_at TEXT,
		opening_cash TEXT NOT NULL,
		opening_card TEXT NOT NULL,
		opening_bank TEXT NOT NULL,
		opening_wave TEXT NOT NULL,
		opening_mobile TEXT NOT NULL,
		opening_unspecified TEXT NOT NULL,
		expected_cash TEXT NOT NULL,
		expected_card TEXT NOT NULL,
		expected_bank TEXT NOT NULL,
		expected_wave TEXT NOT NULL,
		expected_mobile TEXT NOT NULL,
		expected_unspecified TEXT NOT NULL,
		closing_cash TEXT,
		closing_card TEXT,
		closing_bank TEXT,
		closing_wave TEXT,
		closing_mobile TEXT,
		closing_unspecified TEXT,
		discrepancy_cash TEXT,
		discrepancy_card TEXT,
		discrepancy_bank TEXT,
		discrepancy_wave TEXT,
		discrepancy_mobile TEXT,
		discrepancy_unspecified TEXT,
		discrepancy_resolution TEXT,
		discrepancy_approved_by TEXT,
		discrepancy_approved_at TEXT,
		discrepancy_notes TEXT,
		version INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_register_sessions_one_open
		ON register_sessions (register_id) WHERE closed_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_register_sessions_register_opened
		ON register_sessions (register_id, opened_at DESC)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		amount TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		reference_id TEXT,
		reference_type TEXT,
		branch_id TEXT,
		register_session_id TEXT REFERENCES register_sessions (id),
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		created_by TEXT NOT NULL,
		updated_by TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_status_created ON transactions (status, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_session ON transactions (register_session_id)`,
	`CREATE TABLE IF NOT EXISTS transaction_payments (
		transaction_id TEXT NOT NULL REFERENCES transactions (id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		method TEXT NOT NULL,
		amount TEXT NOT NULL,
		PRIMARY KEY (transaction_id, position)
	)`,
	`CREATE TABLE IF NOT EXISTS journal_entries (
		id TEXT PRIMARY KEY,
		transaction_id TEXT NOT NULL REFERENCES transactions (id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		account_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		is_debit INTEGER NOT NULL,
		description TEXT,
		created_at TEXT NOT NULL,
		created_by TEXT NOT NULL,
		UNIQUE (transaction_id, position)
	)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		actor_username TEXT NOT NULL,
		actor_role TEXT NOT NULL,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_entity ON audit_logs (entity_type, entity_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS app_users (
		username TEXT PRIMARY KEY,
		password TEXT NOT NULL,
		role TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
}
