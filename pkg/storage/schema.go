package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// The DDL is written in the common subset of SQLite and PostgreSQL. Snowflakes
// fit in a signed 64-bit column because Discord never sets the top bit.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS prefixes (
  guild_id BIGINT PRIMARY KEY,
  prefix   TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS guilds_core (
  guild_id    BIGINT PRIMARY KEY,
  blacklisted BOOLEAN NOT NULL DEFAULT FALSE,
  premium     BOOLEAN NOT NULL DEFAULT FALSE
)`,
	`CREATE TABLE IF NOT EXISTS users_core (
  user_id     BIGINT PRIMARY KEY,
  blacklisted BOOLEAN NOT NULL DEFAULT FALSE,
  premium     BOOLEAN NOT NULL DEFAULT FALSE
)`,
	`CREATE TABLE IF NOT EXISTS command_stats (
  name     TEXT NOT NULL,
  type     TEXT NOT NULL,
  user_id  BIGINT NOT NULL,
  guild_id BIGINT,
  used_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`,
	`CREATE INDEX IF NOT EXISTS idx_command_stats_name ON command_stats(name)`,
	`CREATE INDEX IF NOT EXISTS idx_command_stats_guild ON command_stats(guild_id)`,
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	for _, sqlText := range schema {
		if _, err := db.ExecContext(ctx, sqlText); err != nil {
			return fmt.Errorf("create schema: %w", &OpError{Op: "migrate", Err: err})
		}
	}
	return nil
}
