package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema for the three logical tables the client consumes. The unique index
// on the canonical pair ordering is what actually arbitrates the chat
// creation race between two clients; see services.Directory.
var migrations = []string{
	`CREATE EXTENSION IF NOT EXISTS pgcrypto`,

	`CREATE TABLE IF NOT EXISTS profiles (
		id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		full_name   TEXT NOT NULL,
		email       TEXT NOT NULL UNIQUE,
		avatar_url  TEXT,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS chats (
		id              UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		user_a          UUID NOT NULL REFERENCES profiles(id),
		user_b          UUID NOT NULL REFERENCES profiles(id),
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_message_at TIMESTAMPTZ
	)`,

	`CREATE UNIQUE INDEX IF NOT EXISTS chats_pair_key
		ON chats (LEAST(user_a, user_b), GREATEST(user_a, user_b))`,

	`CREATE TABLE IF NOT EXISTS messages (
		id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		chat_id    UUID NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
		sender_id  UUID NOT NULL REFERENCES profiles(id),
		content    TEXT NOT NULL,
		type       TEXT NOT NULL CHECK (type IN ('text', 'image', 'link')),
		is_read    BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ
	)`,

	`CREATE INDEX IF NOT EXISTS messages_chat_created_key
		ON messages (chat_id, created_at)`,
}

// Migrate applies the schema. Statements are idempotent, so running it on
// every startup is safe.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
