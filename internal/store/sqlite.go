// ABOUTME: SQLite dialect of the store using modernc.org/sqlite
// ABOUTME: Creates the schema on open and configures WAL, foreign keys and IMMEDIATE transactions

package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS sectors (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL UNIQUE,
		system_prompt TEXT NOT NULL DEFAULT '',
		created_at    TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS companies (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		slug       TEXT NOT NULL UNIQUE,
		channel_id TEXT NOT NULL UNIQUE,
		timezone   TEXT NOT NULL,
		sector_id  TEXT REFERENCES sectors(id),
		is_active  INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS company_configs (
		company_id    TEXT PRIMARY KEY REFERENCES companies(id),
		system_prompt TEXT NOT NULL,
		max_tokens    INTEGER NOT NULL,
		temperature   REAL NOT NULL,
		updated_at    TEXT NOT NULL,

		CHECK (max_tokens BETWEEN 1 AND 8192),
		CHECK (temperature >= 0 AND temperature <= 2)
	);

	CREATE TABLE IF NOT EXISTS customers (
		id               TEXT PRIMARY KEY,
		company_id       TEXT NOT NULL REFERENCES companies(id),
		phone            TEXT NOT NULL,
		name             TEXT NOT NULL,
		email            TEXT,
		external_id      TEXT,
		metadata         TEXT NOT NULL DEFAULT '{}',
		last_interaction TEXT NOT NULL,
		created_at       TEXT NOT NULL,
		updated_at       TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_customers_company_phone
		ON customers(company_id, phone);

	CREATE TABLE IF NOT EXISTS conversations (
		id              TEXT PRIMARY KEY,
		company_id      TEXT NOT NULL REFERENCES companies(id),
		customer_id     TEXT NOT NULL REFERENCES customers(id),
		status          TEXT NOT NULL DEFAULT 'new',
		is_active       INTEGER NOT NULL DEFAULT 1,
		started_at      TEXT NOT NULL,
		last_message_at TEXT,
		total_messages  INTEGER NOT NULL DEFAULT 0,
		created_at      TEXT NOT NULL,
		updated_at      TEXT NOT NULL,

		CHECK (status IN (
			'new', 'bot_active', 'awaiting_customer', 'escalated', 'transferred',
			'agent_active', 'resolved', 'closed', 'archived'
		))
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_one_active
		ON conversations(company_id, customer_id) WHERE is_active;

	CREATE INDEX IF NOT EXISTS idx_conversations_company_status
		ON conversations(company_id, status);

	CREATE TABLE IF NOT EXISTS messages (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id),
		seq             INTEGER NOT NULL,
		role            TEXT NOT NULL,
		content         TEXT NOT NULL,
		tokens_used     INTEGER NOT NULL DEFAULT 0,
		latency_ms      INTEGER,
		created_at      TEXT NOT NULL,

		CHECK (role IN ('user', 'assistant', 'agent', 'system'))
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_conversation_seq
		ON messages(conversation_id, seq);

	CREATE TABLE IF NOT EXISTS integration_credentials (
		id               TEXT PRIMARY KEY,
		company_id       TEXT NOT NULL REFERENCES companies(id),
		kind             TEXT NOT NULL,
		subdomain        TEXT NOT NULL,
		base_url         TEXT NOT NULL DEFAULT '',
		username         TEXT NOT NULL,
		password         TEXT NOT NULL,
		api_key          TEXT NOT NULL DEFAULT '',
		client_id        TEXT NOT NULL DEFAULT '',
		api_token        TEXT,
		token_expires_at TEXT,
		is_active        INTEGER NOT NULL DEFAULT 1,
		created_at       TEXT NOT NULL,
		updated_at       TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_credentials_company_kind_subdomain
		ON integration_credentials(company_id, kind, subdomain);
`

// sqliteMigrations add columns introduced after the first schema.
// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so each one is checked first.
var sqliteMigrations = []struct {
	table  string
	column string
	apply  string
}{
	{"company_configs", "model", `ALTER TABLE company_configs ADD COLUMN model TEXT NOT NULL DEFAULT ''`},
	{"messages", "external_id", `ALTER TABLE messages ADD COLUMN external_id TEXT`},
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	// Pragmas go in the DSN so they apply to every pooled connection.
	params := []string{
		"_pragma=busy_timeout(10000)",
		"_pragma=journal_mode(WAL)",
		"_pragma=foreign_keys(1)",
		"_txlock=immediate",
	}
	db, err := sql.Open("sqlite", path+"?"+strings.Join(params, "&"))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// every connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	s := newSQLStore(db, DialectSQLite)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runSQLiteMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	s.logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// runSQLiteMigrations applies column additions for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLStore) runSQLiteMigrations() error {
	for _, m := range sqliteMigrations {
		var exists int
		err := s.db.QueryRow(`SELECT 1 FROM pragma_table_info(?) WHERE name = ?`, m.table, m.column).Scan(&exists)
		if err == nil {
			continue
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("checking %s.%s: %w", m.table, m.column, err)
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}
	return nil
}
