package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"social-chat/domain/chat"
	"social-chat/errors"
)

type MessageRepository struct {
	pool          *pgxpool.Pool
	log           *slog.Logger
	limitMessages *int
}

func NewMessageRepository(pool *pgxpool.Pool, log *slog.Logger, limitMessages *int) *MessageRepository {
	return &MessageRepository{pool: pool, log: log, limitMessages: limitMessages}
}

// Save inserts the message once; a redelivery hits the primary key and reports false.
func (r *MessageRepository) Save(ctx context.Context, m chat.Message) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
        INSERT INTO messages (id, room_id, sender_id, sender_nickname, content, kind, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (id) DO NOTHING`,
		m.ID, int64(m.RoomID), int64(m.SenderID), m.SenderNickname, m.Content, string(m.Kind), stamp(m.CreatedAt),
	)
	if err != nil {
		r.log.Error("Failed to save message", "message_id", m.ID, "room_id", m.RoomID, "error", err)
		return false, wrapInfra(err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetMessages returns messages created strictly after the given instant, oldest first.
// The cursor has the same "{unix_nano}:{uuid}" shape as the Badger store.
func (r *MessageRepository) GetMessages(ctx context.Context, roomID chat.RoomID, after time.Time, cursor *string) ([]chat.Message, *string, error) {
	fromAt, fromID := after, uuid.Nil
	if cursor != nil {
		at, id, err := parseCursor(*cursor)
		if err != nil {
			return nil, nil, err
		}
		if at.After(fromAt) || (at.Equal(fromAt) && id != uuid.Nil) {
			fromAt, fromID = at, id
		}
	}
	var limit *int
	if r.limitMessages != nil && *r.limitMessages > 0 {
		// One extra row tells whether another page exists.
		limit = new(int)
		*limit = *r.limitMessages + 1
	}

	rows, err := r.pool.Query(ctx, `
        SELECT id, room_id, sender_id, sender_nickname, content, kind, created_at
        FROM messages
        WHERE room_id = $1
          AND created_at > $2
          AND (created_at, id) > ($3, $4)
        ORDER BY created_at, id
        LIMIT $5`,
		int64(roomID), after, fromAt, fromID, limit)
	if err != nil {
		return nil, nil, wrapInfra(err)
	}
	defer rows.Close()

	var messages []chat.Message
	for rows.Next() {
		var m chat.Message
		var kind string
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.SenderNickname, &m.Content, &kind, &m.CreatedAt); err != nil {
			return nil, nil, wrapInfra(err)
		}
		m.Kind = chat.MessageKind(kind)
		m.CreatedAt = m.CreatedAt.UTC()
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, wrapInfra(err)
	}

	if limit == nil || len(messages) < *limit {
		return messages, nil, nil
	}
	messages = messages[:*r.limitMessages]
	last := messages[len(messages)-1]
	next := fmt.Sprintf("%019d:%s", last.CreatedAt.UnixNano(), last.ID)
	return messages, &next, nil
}

func parseCursor(cursor string) (time.Time, uuid.UUID, error) {
	ts, id, ok := strings.Cut(cursor, ":")
	if !ok {
		return time.Time{}, uuid.Nil, fmt.Errorf("malformed cursor %q: %w", cursor, errors.ErrInvalidRequest)
	}
	nanos, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return time.Time{}, uuid.Nil, fmt.Errorf("malformed cursor %q: %w", cursor, errors.ErrInvalidRequest)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return time.Time{}, uuid.Nil, fmt.Errorf("malformed cursor %q: %w", cursor, errors.ErrInvalidRequest)
	}
	return time.Unix(0, nanos).UTC(), parsed, nil
}
