// Package database owns the SQL connection and schema for the sync engine.
package database

import (
	"database/sql"
	"fmt"
	"time"
)

// Open connects with the given driver and verifies the connection.
func Open(driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate applies the engine schema. Statements are idempotent so repeated
// startup runs are safe.
func Migrate(db *sql.DB, driver string) error {
	stmts := postgresSchema
	if driver == "sqlite3" {
		stmts = sqliteSchema
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS mail_accounts (
		id SERIAL PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		email_address TEXT NOT NULL,
		imap_host TEXT NOT NULL DEFAULT '',
		imap_port INTEGER NOT NULL DEFAULT 993,
		imap_use_tls BOOLEAN NOT NULL DEFAULT TRUE,
		imap_username TEXT NOT NULL DEFAULT '',
		imap_password_encrypted TEXT NOT NULL DEFAULT '',
		smtp_host TEXT NOT NULL DEFAULT '',
		smtp_port INTEGER NOT NULL DEFAULT 465,
		smtp_use_tls BOOLEAN NOT NULL DEFAULT TRUE,
		smtp_username TEXT NOT NULL DEFAULT '',
		smtp_password_encrypted TEXT NOT NULL DEFAULT '',
		inbound_type TEXT NOT NULL DEFAULT 'imaps',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (tenant_id, email_address)
	)`,
	`CREATE TABLE IF NOT EXISTS incoming_messages (
		id SERIAL PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		account_id INTEGER NOT NULL REFERENCES mail_accounts(id),
		from_address TEXT NOT NULL DEFAULT '',
		to_address TEXT NOT NULL DEFAULT '',
		subject TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL DEFAULT '',
		html_body TEXT,
		fingerprint TEXT NOT NULL,
		processed BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (tenant_id, fingerprint)
	)`,
	`CREATE TABLE IF NOT EXISTS outgoing_logs (
		id SERIAL PRIMARY KEY,
		log_id TEXT NOT NULL UNIQUE,
		account_id INTEGER NOT NULL REFERENCES mail_accounts(id),
		direction TEXT NOT NULL DEFAULT 'outbound',
		recipient TEXT NOT NULL,
		sender TEXT NOT NULL DEFAULT '',
		subject TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		error_text TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS tenant_ai_settings (
		tenant_id TEXT PRIMARY KEY,
		provider TEXT NOT NULL DEFAULT 'openai',
		fallback_providers TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		reply_tone TEXT NOT NULL DEFAULT 'professional',
		auto_reply BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS mailbox_dns_records (
		id SERIAL PRIMARY KEY,
		account_id INTEGER NOT NULL REFERENCES mail_accounts(id),
		domain TEXT NOT NULL,
		record_type TEXT NOT NULL,
		host TEXT NOT NULL DEFAULT '',
		expected_value TEXT NOT NULL DEFAULT '',
		observed_value TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		checked_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (account_id, record_type)
	)`,
	`CREATE TABLE IF NOT EXISTS mailbox_automations (
		id SERIAL PRIMARY KEY,
		account_id INTEGER NOT NULL UNIQUE REFERENCES mail_accounts(id),
		credentials_sealed TEXT NOT NULL DEFAULT '',
		automation_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		status TEXT NOT NULL DEFAULT 'PENDING',
		reject_reason TEXT,
		credentials_check_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS automation_projects (
		id SERIAL PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'DRAFT',
		account_id INTEGER REFERENCES mail_accounts(id),
		branding_id INTEGER,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS reply_attempts (
		id SERIAL PRIMARY KEY,
		message_id INTEGER NOT NULL REFERENCES incoming_messages(id),
		provider TEXT NOT NULL,
		ok BOOLEAN NOT NULL DEFAULT FALSE,
		error_text TEXT,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		tokens_used INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_incoming_messages_pending
		ON incoming_messages (account_id) WHERE processed = FALSE`,
}

// sqliteSchema mirrors the Postgres schema for test databases.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS mail_accounts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant_id TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		email_address TEXT NOT NULL,
		imap_host TEXT NOT NULL DEFAULT '',
		imap_port INTEGER NOT NULL DEFAULT 993,
		imap_use_tls BOOLEAN NOT NULL DEFAULT 1,
		imap_username TEXT NOT NULL DEFAULT '',
		imap_password_encrypted TEXT NOT NULL DEFAULT '',
		smtp_host TEXT NOT NULL DEFAULT '',
		smtp_port INTEGER NOT NULL DEFAULT 465,
		smtp_use_tls BOOLEAN NOT NULL DEFAULT 1,
		smtp_username TEXT NOT NULL DEFAULT '',
		smtp_password_encrypted TEXT NOT NULL DEFAULT '',
		inbound_type TEXT NOT NULL DEFAULT 'imaps',
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (tenant_id, email_address)
	)`,
	`CREATE TABLE IF NOT EXISTS incoming_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant_id TEXT NOT NULL,
		account_id INTEGER NOT NULL,
		from_address TEXT NOT NULL DEFAULT '',
		to_address TEXT NOT NULL DEFAULT '',
		subject TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL DEFAULT '',
		html_body TEXT,
		fingerprint TEXT NOT NULL,
		processed BOOLEAN NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (tenant_id, fingerprint)
	)`,
	`CREATE TABLE IF NOT EXISTS outgoing_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		log_id TEXT NOT NULL UNIQUE,
		account_id INTEGER NOT NULL,
		direction TEXT NOT NULL DEFAULT 'outbound',
		recipient TEXT NOT NULL,
		sender TEXT NOT NULL DEFAULT '',
		subject TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		error_text TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS tenant_ai_settings (
		tenant_id TEXT PRIMARY KEY,
		provider TEXT NOT NULL DEFAULT 'openai',
		fallback_providers TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		reply_tone TEXT NOT NULL DEFAULT 'professional',
		auto_reply BOOLEAN NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS mailbox_dns_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id INTEGER NOT NULL,
		domain TEXT NOT NULL,
		record_type TEXT NOT NULL,
		host TEXT NOT NULL DEFAULT '',
		expected_value TEXT NOT NULL DEFAULT '',
		observed_value TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		checked_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (account_id, record_type)
	)`,
	`CREATE TABLE IF NOT EXISTS mailbox_automations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id INTEGER NOT NULL UNIQUE,
		credentials_sealed TEXT NOT NULL DEFAULT '',
		automation_enabled BOOLEAN NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'PENDING',
		reject_reason TEXT,
		credentials_check_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS automation_projects (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'DRAFT',
		account_id INTEGER,
		branding_id INTEGER,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS reply_attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id INTEGER NOT NULL,
		provider TEXT NOT NULL,
		ok BOOLEAN NOT NULL DEFAULT 0,
		error_text TEXT,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		tokens_used INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
}
