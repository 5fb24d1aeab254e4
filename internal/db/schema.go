package db

import (
	"context"
	"fmt"
)

type dialect struct {
	name       string
	driverName string
	baseSchema []string
	// columnsQuery lists a table's column names. Its single placeholder is the table name.
	columnsQuery string
	// lockForUpdate is appended to reads that precede a write in the same transaction.
	// SQLite needs none: its write transactions start IMMEDIATE (see SQLiteDSN).
	lockForUpdate string
}

var sqliteDialect = &dialect{
	name:       DriverSQLite,
	driverName: "sqlite",
	baseSchema: []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			email      TEXT     NOT NULL UNIQUE,
			username   TEXT     NOT NULL DEFAULT '',
			imap_host  TEXT     NOT NULL,
			imap_port  INTEGER  NOT NULL,
			smtp_host  TEXT     NOT NULL DEFAULT '',
			smtp_port  INTEGER  NOT NULL DEFAULT 0,
			use_tls    BOOLEAN  NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS folders (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id INTEGER NOT NULL REFERENCES accounts (id) ON DELETE CASCADE,
			name       TEXT    NOT NULL,
			remote_id  TEXT    NOT NULL DEFAULT '',
			UNIQUE (account_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS emails (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id    INTEGER  NOT NULL REFERENCES accounts (id) ON DELETE CASCADE,
			folder_id     INTEGER  NOT NULL REFERENCES folders (id) ON DELETE CASCADE,
			uid           INTEGER  NOT NULL,
			subject       TEXT     NOT NULL DEFAULT '',
			sender        TEXT     NOT NULL DEFAULT '',
			date_received DATETIME NOT NULL,
			flags         TEXT     NOT NULL DEFAULT '[]',
			message_id    TEXT     NOT NULL DEFAULT '',
			body_text     TEXT,
			body_html     TEXT,
			UNIQUE (account_id, folder_id, uid)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_emails_folder_date ON emails (account_id, folder_id, date_received DESC, uid DESC)`,
		`CREATE TABLE IF NOT EXISTS rules (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			name           TEXT    NOT NULL,
			condition_json TEXT    NOT NULL,
			action_json    TEXT    NOT NULL,
			account_id     INTEGER REFERENCES accounts (id) ON DELETE CASCADE,
			is_active      BOOLEAN NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS secrets (
			secret_key TEXT PRIMARY KEY,
			ciphertext TEXT NOT NULL
		)`,
	},
	columnsQuery: `SELECT name FROM pragma_table_info(?)`,
}

var postgresDialect = &dialect{
	name:       DriverPostgres,
	driverName: "pgx",
	baseSchema: []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id         BIGSERIAL PRIMARY KEY,
			email      TEXT        NOT NULL UNIQUE,
			username   TEXT        NOT NULL DEFAULT '',
			imap_host  TEXT        NOT NULL,
			imap_port  INTEGER     NOT NULL,
			smtp_host  TEXT        NOT NULL DEFAULT '',
			smtp_port  INTEGER     NOT NULL DEFAULT 0,
			use_tls    BOOLEAN     NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS folders (
			id         BIGSERIAL PRIMARY KEY,
			account_id BIGINT NOT NULL REFERENCES accounts (id) ON DELETE CASCADE,
			name       TEXT   NOT NULL,
			remote_id  TEXT   NOT NULL DEFAULT '',
			UNIQUE (account_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS emails (
			id            BIGSERIAL PRIMARY KEY,
			account_id    BIGINT      NOT NULL REFERENCES accounts (id) ON DELETE CASCADE,
			folder_id     BIGINT      NOT NULL REFERENCES folders (id) ON DELETE CASCADE,
			uid           BIGINT      NOT NULL,
			subject       TEXT        NOT NULL DEFAULT '',
			sender        TEXT        NOT NULL DEFAULT '',
			date_received TIMESTAMPTZ NOT NULL,
			flags         TEXT        NOT NULL DEFAULT '[]',
			message_id    TEXT        NOT NULL DEFAULT '',
			body_text     TEXT,
			body_html     TEXT,
			UNIQUE (account_id, folder_id, uid)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_emails_folder_date ON emails (account_id, folder_id, date_received DESC, uid DESC)`,
		`CREATE TABLE IF NOT EXISTS rules (
			id             BIGSERIAL PRIMARY KEY,
			name           TEXT    NOT NULL,
			condition_json TEXT    NOT NULL,
			action_json    TEXT    NOT NULL,
			account_id     BIGINT REFERENCES accounts (id) ON DELETE CASCADE,
			is_active      BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE TABLE IF NOT EXISTS secrets (
			secret_key TEXT PRIMARY KEY,
			ciphertext TEXT NOT NULL
		)`,
	},
	columnsQuery:  `SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = ?`,
	lockForUpdate: ` FOR UPDATE`,
}

func dialectFor(driver string) (*dialect, error) {
	switch driver {
	case DriverSQLite, "":
		return sqliteDialect, nil
	case DriverPostgres:
		return postgresDialect, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// columnMigration adds a column when it is missing. Migrations are only ever additive.
type columnMigration struct {
	table      string
	column     string
	definition string
}

// columnMigrations run in order after the base schema. Older databases
// predate threading headers and split recipients.
var columnMigrations = []columnMigration{
	{table: "emails", column: "in_reply_to", definition: "TEXT NOT NULL DEFAULT ''"},
	{table: "emails", column: "references_list", definition: "TEXT NOT NULL DEFAULT '[]'"},
	{table: "emails", column: "to_addresses", definition: "TEXT NOT NULL DEFAULT '[]'"},
	{table: "emails", column: "cc_addresses", definition: "TEXT NOT NULL DEFAULT '[]'"},
	{table: "emails", column: "gm_thread_id", definition: "TEXT NOT NULL DEFAULT ''"},
}

// Migrate creates missing tables and adds missing columns. It is safe to run on every start.
func Migrate(ctx context.Context, database *DB) error {
	for _, stmt := range database.dialect.baseSchema {
		if _, err := database.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	for _, m := range columnMigrations {
		exists, err := columnExists(ctx, database, m.table, m.column)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.table, m.column, m.definition)
		if _, err := database.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to add column %s.%s: %w", m.table, m.column, err)
		}
	}

	return nil
}

func columnExists(ctx context.Context, database *DB, table, column string) (bool, error) {
	var columns []string
	query := database.Rebind(database.dialect.columnsQuery)
	if err := database.SelectContext(ctx, &columns, query, table); err != nil {
		return false, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	for _, c := range columns {
		if c == column {
			return true, nil
		}
	}
	return false, nil
}
