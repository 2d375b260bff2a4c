package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		guild_id   TEXT NOT NULL,
		user_id    TEXT NOT NULL,
		wallet     BIGINT NOT NULL DEFAULT 0,
		ext        JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (guild_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS account_history (
		id         BIGSERIAL PRIMARY KEY,
		user_id    TEXT NOT NULL,
		guild_id   TEXT NOT NULL,
		type       TEXT NOT NULL,
		item_id    TEXT,
		amount     BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS account_history_account_idx
		ON account_history (guild_id, user_id, id DESC)`,
}

// Migrate applies the schema. Every statement is idempotent, so running
// it on every startup is safe.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
