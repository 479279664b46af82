package database

import (
	"context"
	"fmt"
)

// Migrate creates the schema when it does not exist yet. Statements are kept
// portable across postgres, mysql, and sqlite; the few divergent spots are
// resolved per dialect below.
func Migrate(ctx context.Context, db *DB) error {
	for _, stmt := range schemaStatements(db.Dialect) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	if db.Dialect == DialectMySQL {
		return nil
	}
	for _, stmt := range indexStatements() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate index: %w", err)
		}
	}
	return nil
}

func schemaStatements(dialect Dialect) []string {
	bigint := "BIGINT"
	timestamp := "TIMESTAMP"
	if dialect == DialectSQLite {
		bigint = "INTEGER"
		timestamp = "DATETIME"
	}
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS users (
			id VARCHAR(36) PRIMARY KEY,
			account_id %[1]s NOT NULL,
			name VARCHAR(255) NOT NULL,
			email VARCHAR(255) NOT NULL,
			company_id %[1]s,
			created_at %[2]s NOT NULL,
			updated_at %[2]s NOT NULL,
			CONSTRAINT uq_users_email UNIQUE (account_id, email)
		)`, bigint, timestamp),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS agents (
			id VARCHAR(36) PRIMARY KEY,
			account_id %[1]s NOT NULL,
			name VARCHAR(255) NOT NULL,
			email VARCHAR(255) NOT NULL,
			group_id %[1]s,
			created_at %[2]s NOT NULL,
			updated_at %[2]s NOT NULL,
			CONSTRAINT uq_agents_email UNIQUE (account_id, email)
		)`, bigint, timestamp),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS tickets (
			id VARCHAR(36) PRIMARY KEY,
			account_id %[1]s NOT NULL,
			display_id %[1]s NOT NULL,
			subject VARCHAR(255) NOT NULL,
			description TEXT NOT NULL,
			status INTEGER NOT NULL,
			priority INTEGER NOT NULL,
			source INTEGER NOT NULL,
			requester_id VARCHAR(36) NOT NULL,
			responder_id VARCHAR(36),
			group_id %[1]s,
			tags TEXT NOT NULL,
			created_at %[2]s NOT NULL,
			updated_at %[2]s NOT NULL,
			CONSTRAINT uq_tickets_display UNIQUE (account_id, display_id)
		)`, bigint, timestamp),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS conversations (
			id VARCHAR(36) PRIMARY KEY,
			ticket_id VARCHAR(36) NOT NULL,
			body TEXT NOT NULL,
			body_text TEXT NOT NULL,
			author_kind VARCHAR(16) NOT NULL,
			author_id VARCHAR(36) NOT NULL,
			author_name VARCHAR(255) NOT NULL,
			author_email VARCHAR(255) NOT NULL,
			private BOOLEAN NOT NULL,
			incoming BOOLEAN NOT NULL,
			created_at %[2]s NOT NULL,
			updated_at %[2]s
		)`, bigint, timestamp),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS display_counters (
			counter_uid VARCHAR(64) PRIMARY KEY,
			counter %[1]s NOT NULL,
			created_at %[2]s NOT NULL
		)`, bigint, timestamp),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS mail_marks (
			mark_uid VARCHAR(128) PRIMARY KEY,
			last_fetch %[2]s NOT NULL,
			updated_at %[2]s NOT NULL
		)`, bigint, timestamp),
	}
}

// Index creation runs separately because mysql has no
// CREATE INDEX IF NOT EXISTS.
func indexStatements() []string {
	return []string{
		`CREATE INDEX IF NOT EXISTS idx_conversations_ticket ON conversations (ticket_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets (account_id, status)`,
	}
}
