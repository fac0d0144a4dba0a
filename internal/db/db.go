package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"chat-relay/internal/logging"
)

// Connect opens the postgres pool and applies migrations.
func Connect(ctx context.Context, dsn string, maxOpenConns int) (*sqlx.DB, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	db, err := sqlx.ConnectContext(connectCtx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns)
	}

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS chat_rooms (
            id BIGSERIAL PRIMARY KEY,
            name TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
	`CREATE TABLE IF NOT EXISTS chat_messages (
            chat_room_id BIGINT NOT NULL REFERENCES chat_rooms(id) ON DELETE CASCADE,
            position BIGINT NOT NULL,
            type TEXT NOT NULL,
            sender_user_id BIGINT NOT NULL,
            sender_display_name TEXT NOT NULL,
            body TEXT NOT NULL,
            sent_at TIMESTAMPTZ NOT NULL,
            PRIMARY KEY (chat_room_id, position)
        );`,
	`CREATE TABLE IF NOT EXISTS chat_checkpoints (
            chat_room_id BIGINT PRIMARY KEY REFERENCES chat_rooms(id) ON DELETE CASCADE,
            last_position BIGINT NOT NULL,
            last_message JSONB NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
}

func runMigrations(ctx context.Context, db *sqlx.DB) error {
	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	l := logging.L()
	l.Info().Int("count", len(migrations)).Msg("database migrations applied")
	return nil
}
