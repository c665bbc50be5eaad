// ABOUTME: Postgres dialect of the store using pgx through database/sql
// ABOUTME: Row locks use SELECT ... FOR UPDATE; unique violations are detected by SQLSTATE

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// pgUniqueViolation is the SQLSTATE for unique_violation
const pgUniqueViolation = "23505"

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS sectors (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL UNIQUE,
		system_prompt TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS companies (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		slug       TEXT NOT NULL UNIQUE,
		channel_id TEXT NOT NULL UNIQUE,
		timezone   TEXT NOT NULL,
		sector_id  TEXT REFERENCES sectors(id),
		is_active  BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS company_configs (
		company_id    TEXT PRIMARY KEY REFERENCES companies(id),
		system_prompt TEXT NOT NULL,
		max_tokens    INTEGER NOT NULL CHECK (max_tokens BETWEEN 1 AND 8192),
		temperature   DOUBLE PRECISION NOT NULL CHECK (temperature >= 0 AND temperature <= 2),
		updated_at    TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS customers (
		id               TEXT PRIMARY KEY,
		company_id       TEXT NOT NULL REFERENCES companies(id),
		phone            TEXT NOT NULL,
		name             TEXT NOT NULL,
		email            TEXT,
		external_id      TEXT,
		metadata         TEXT NOT NULL DEFAULT '{}',
		last_interaction TIMESTAMPTZ NOT NULL,
		created_at       TIMESTAMPTZ NOT NULL,
		updated_at       TIMESTAMPTZ NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_customers_company_phone
		ON customers(company_id, phone);

	CREATE TABLE IF NOT EXISTS conversations (
		id              TEXT PRIMARY KEY,
		company_id      TEXT NOT NULL REFERENCES companies(id),
		customer_id     TEXT NOT NULL REFERENCES customers(id),
		status          TEXT NOT NULL DEFAULT 'new' CHECK (status IN (
			'new', 'bot_active', 'awaiting_customer', 'escalated', 'transferred',
			'agent_active', 'resolved', 'closed', 'archived'
		)),
		is_active       BOOLEAN NOT NULL DEFAULT TRUE,
		started_at      TIMESTAMPTZ NOT NULL,
		last_message_at TIMESTAMPTZ,
		total_messages  INTEGER NOT NULL DEFAULT 0,
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_one_active
		ON conversations(company_id, customer_id) WHERE is_active;

	CREATE INDEX IF NOT EXISTS idx_conversations_company_status
		ON conversations(company_id, status);

	CREATE TABLE IF NOT EXISTS messages (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id),
		seq             INTEGER NOT NULL,
		role            TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'agent', 'system')),
		content         TEXT NOT NULL,
		tokens_used     INTEGER NOT NULL DEFAULT 0,
		latency_ms      INTEGER,
		created_at      TIMESTAMPTZ NOT NULL
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
		token_expires_at TIMESTAMPTZ,
		is_active        BOOLEAN NOT NULL DEFAULT TRUE,
		created_at       TIMESTAMPTZ NOT NULL,
		updated_at       TIMESTAMPTZ NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_credentials_company_kind_subdomain
		ON integration_credentials(company_id, kind, subdomain);
`

var postgresMigrations = []string{
	`ALTER TABLE company_configs ADD COLUMN IF NOT EXISTS model TEXT NOT NULL DEFAULT ''`,
	`ALTER TABLE messages ADD COLUMN IF NOT EXISTS external_id TEXT`,
}

// NewPostgresStore connects to Postgres with the given DSN and creates the
// schema if needed.
func NewPostgresStore(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	s, err := newPostgresStore(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.logger.Info("Postgres store initialized")
	return s, nil
}

// newPostgresStore wraps an open handle. Split out so tests can pass a sqlmock handle.
func newPostgresStore(ctx context.Context, db *sql.DB) (*SQLStore, error) {
	s := newSQLStore(db, DialectPostgres)
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	for _, m := range postgresMigrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return nil, fmt.Errorf("running migration %q: %w", m, err)
		}
	}
	return s, nil
}

// isPgUniqueViolation reports whether err carries SQLSTATE 23505
func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}
