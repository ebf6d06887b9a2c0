package storage

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"social-chat/domain/chat"
	"social-chat/errors"
)

func TestNotificationRepository_Inbox(t *testing.T) {
	req := require.New(t)
	db, cleanup := SetupTestDB(t)
	defer cleanup()
	repo, err := NewNotificationRepository(db, slog.Default())
	req.NoError(err)
	defer repo.Close()
	ctx := context.Background()
	now := time.Now().UTC()

	// Given three notifications for bob and one for alice
	var saved []chat.Notification
	for i, receiver := range []chat.UserID{2, 2, 1, 2} {
		n, err := repo.Save(ctx, chat.Notification{
			ReceiverID: receiver,
			SenderID:   9,
			Type:       chat.DMEnvelope,
			Data:       json.RawMessage(`{"content":"hi"}`),
			CreatedAt:  now.Add(time.Duration(i) * time.Second),
		})
		req.NoError(err)
		req.NotZero(n.ID)
		saved = append(saved, n)
	}

	// When listing bob's inbox
	unread, err := repo.ListUnread(ctx, 2)
	req.NoError(err)

	// Then the newest comes first
	req.Len(unread, 3)
	req.Equal(saved[3].ID, unread[0].ID)
	req.Equal(saved[0].ID, unread[2].ID)
	req.JSONEq(`{"content":"hi"}`, string(unread[0].Data))

	// When one is read
	req.NoError(repo.MarkRead(ctx, 2, saved[1].ID))
	req.NoError(repo.MarkRead(ctx, 2, saved[1].ID))
	unread, err = repo.ListUnread(ctx, 2)
	req.NoError(err)
	req.Len(unread, 2)

	// When all are read
	count, err := repo.MarkAllRead(ctx, 2)
	req.NoError(err)
	req.Equal(2, count)
	unread, err = repo.ListUnread(ctx, 2)
	req.NoError(err)
	req.Empty(unread)

	// Then alice is untouched
	unread, err = repo.ListUnread(ctx, 1)
	req.NoError(err)
	req.Len(unread, 1)
}

func TestNotificationRepository_MarkRead_NotFound(t *testing.T) {
	req := require.New(t)
	db, cleanup := SetupTestDB(t)
	defer cleanup()
	repo, err := NewNotificationRepository(db, slog.Default())
	req.NoError(err)
	defer repo.Close()

	err = repo.MarkRead(context.Background(), 2, 12)
	req.ErrorIs(err, errors.ErrNotificationNotFound)
}

func TestNotificationRepository_MarkRead_OtherReceiver(t *testing.T) {
	req := require.New(t)
	db, cleanup := SetupTestDB(t)
	defer cleanup()
	repo, err := NewNotificationRepository(db, slog.Default())
	req.NoError(err)
	defer repo.Close()
	ctx := context.Background()

	// Given a notification of bob
	n, err := repo.Save(ctx, chat.Notification{ReceiverID: 2, SenderID: 1, Type: chat.FollowEnvelope, CreatedAt: time.Now()})
	req.NoError(err)

	// When alice tries to read it
	err = repo.MarkRead(ctx, 1, n.ID)

	// Then it does not exist for her and stays unread for bob
	req.ErrorIs(err, errors.ErrNotificationNotFound)
	unread, err := repo.ListUnread(ctx, 2)
	req.NoError(err)
	req.Len(unread, 1)
	req.False(unread[0].Read)
}
