package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"social-chat/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
    id         BIGSERIAL PRIMARY KEY,
    kind       TEXT        NOT NULL,
    name       TEXT        NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS participants (
    id        BIGSERIAL PRIMARY KEY,
    room_id   BIGINT      NOT NULL REFERENCES rooms (id),
    user_id   BIGINT      NOT NULL,
    deleted   BOOLEAN     NOT NULL DEFAULT FALSE,
    joined_at TIMESTAMPTZ NOT NULL,
    UNIQUE (room_id, user_id)
);
CREATE INDEX IF NOT EXISTS participants_user_idx ON participants (user_id);
CREATE TABLE IF NOT EXISTS messages (
    id              UUID PRIMARY KEY,
    room_id         BIGINT      NOT NULL,
    sender_id       BIGINT      NOT NULL,
    sender_nickname TEXT        NOT NULL,
    content         TEXT        NOT NULL,
    kind            TEXT        NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_room_created_idx ON messages (room_id, created_at, id);
CREATE TABLE IF NOT EXISTS notifications (
    id              BIGSERIAL PRIMARY KEY,
    receiver_id     BIGINT      NOT NULL,
    sender_id       BIGINT      NOT NULL,
    sender_nickname TEXT        NOT NULL,
    type            TEXT        NOT NULL,
    data            JSONB,
    is_read         BOOLEAN     NOT NULL DEFAULT FALSE,
    created_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS notifications_unread_idx ON notifications (receiver_id, is_read, id);
`

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func Connect(ctx context.Context, databaseURL string, log *slog.Logger) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	log.Info("Database connected", "host", cfg.ConnConfig.Host, "database", cfg.ConnConfig.Database)
	return pool, nil
}

// Migrate creates the tables when they do not exist yet.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// stamp truncates to the microsecond resolution of TIMESTAMPTZ.
func stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func wrapInfra(err error) error {
	if err == nil || errors.IsClientError(err) {
		return err
	}
	return errors.Transient(err)
}
