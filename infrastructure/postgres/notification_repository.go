package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"social-chat/domain/chat"
	"social-chat/errors"
)

type NotificationRepository struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewNotificationRepository(pool *pgxpool.Pool, log *slog.Logger) *NotificationRepository {
	return &NotificationRepository{pool: pool, log: log}
}

func (r *NotificationRepository) Save(ctx context.Context, n chat.Notification) (chat.Notification, error) {
	var data *string
	if len(n.Data) > 0 {
		s := string(n.Data)
		data = &s
	}
	n.CreatedAt = stamp(n.CreatedAt)
	err := r.pool.QueryRow(ctx, `
        INSERT INTO notifications (receiver_id, sender_id, sender_nickname, type, data, is_read, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING id`,
		int64(n.ReceiverID), int64(n.SenderID), n.SenderNickname, string(n.Type), data, n.Read, n.CreatedAt,
	).Scan(&n.ID)
	if err != nil {
		return chat.Notification{}, wrapInfra(err)
	}
	return n, nil
}

// ListUnread returns the unread notifications of a receiver, newest first.
func (r *NotificationRepository) ListUnread(ctx context.Context, receiver chat.UserID) ([]chat.Notification, error) {
	rows, err := r.pool.Query(ctx, `
        SELECT id, receiver_id, sender_id, sender_nickname, type, data, is_read, created_at
        FROM notifications
        WHERE receiver_id = $1 AND NOT is_read
        ORDER BY created_at DESC, id DESC`,
		int64(receiver))
	if err != nil {
		return nil, wrapInfra(err)
	}
	defer rows.Close()

	var notifications []chat.Notification
	for rows.Next() {
		var n chat.Notification
		var kind string
		var data []byte
		if err := rows.Scan(&n.ID, &n.ReceiverID, &n.SenderID, &n.SenderNickname, &kind, &data, &n.Read, &n.CreatedAt); err != nil {
			return nil, wrapInfra(err)
		}
		n.Type = chat.EnvelopeType(kind)
		n.Data = data
		n.CreatedAt = n.CreatedAt.UTC()
		notifications = append(notifications, n)
	}
	return notifications, wrapInfra(rows.Err())
}

func (r *NotificationRepository) MarkRead(ctx context.Context, receiver chat.UserID, id int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE id = $1 AND receiver_id = $2`,
		id, int64(receiver))
	if err != nil {
		return wrapInfra(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("notification %d: %w", id, errors.ErrNotificationNotFound)
	}
	return nil
}

func (r *NotificationRepository) MarkAllRead(ctx context.Context, receiver chat.UserID) (int, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE receiver_id = $1 AND NOT is_read`,
		int64(receiver))
	if err != nil {
		return 0, wrapInfra(err)
	}
	return int(tag.RowsAffected()), nil
}
