package postgres

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"social-chat/domain/chat"
	"social-chat/errors"
)

// setupPool connects to DATABASE_URL. Tests are skipped when no database is available.
func setupPool(t *testing.T) *pgxpool.Pool {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := Connect(ctx, url, slog.Default())
	require.NoError(t, err)
	require.NoError(t, Migrate(ctx, pool))
	_, err = pool.Exec(ctx, `TRUNCATE notifications, messages, participants, rooms RESTART IDENTITY`)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestRoomRepository_Lifecycle(t *testing.T) {
	req := require.New(t)
	pool := setupPool(t)
	repo := NewRoomRepository(pool, slog.Default())
	ctx := context.Background()
	now := time.Now()

	pair, err := chat.NewPair(1, 2)
	req.NoError(err)
	room, err := repo.CreateRoom(ctx, chat.NewDirectRoom(pair, now))
	req.NoError(err)
	req.NotZero(room.ID)

	// When user 1 hides then recovers
	_, err = repo.UpdateRoom(ctx, room.ID, func(r *chat.Room) error { return r.Hide(1) })
	req.NoError(err)
	visible, err := repo.ListVisibleRooms(ctx, 1)
	req.NoError(err)
	req.Empty(visible)

	recovered, err := repo.UpdateRoom(ctx, room.ID, func(r *chat.Room) error {
		_, err := r.Recover(1, now)
		return err
	})
	req.NoError(err)
	req.True(recovered.Participant(1).JoinedAt.After(room.Participant(1).JoinedAt))

	rooms, err := repo.FindDirectRooms(ctx, pair)
	req.NoError(err)
	req.Len(rooms, 1)
	req.False(rooms[0].Participant(1).Deleted)

	_, err = repo.GetRoom(ctx, room.ID+100)
	req.ErrorIs(err, errors.ErrRoomNotFound)
}

func TestRoomRepository_GroupLeave(t *testing.T) {
	req := require.New(t)
	pool := setupPool(t)
	repo := NewRoomRepository(pool, slog.Default())
	ctx := context.Background()

	group, err := chat.NewGroupRoom("team", []chat.UserID{1, 2}, time.Now())
	req.NoError(err)
	group, err = repo.CreateRoom(ctx, group)
	req.NoError(err)

	_, err = repo.UpdateRoom(ctx, group.ID, func(r *chat.Room) error {
		if err := r.Invite(3, time.Now()); err != nil {
			return err
		}
		return r.Leave(1)
	})
	req.NoError(err)

	ids, err := repo.ParticipantIDs(ctx, group.ID)
	req.NoError(err)
	req.ElementsMatch([]chat.UserID{2, 3}, ids)
}

func TestMessageRepository_IdempotentAndPaged(t *testing.T) {
	req := require.New(t)
	pool := setupPool(t)
	limit := 2
	repo := NewMessageRepository(pool, slog.Default(), &limit)
	ctx := context.Background()
	start := time.Now().UTC().Truncate(time.Microsecond)

	for i := 1; i <= 3; i++ {
		m := chat.Message{ID: uuid.New(), RoomID: 5, SenderID: 1, SenderNickname: "alice", Content: "hi", Kind: chat.Talk, CreatedAt: start.Add(time.Duration(i) * time.Second)}
		inserted, err := repo.Save(ctx, m)
		req.NoError(err)
		req.True(inserted)
		inserted, err = repo.Save(ctx, m)
		req.NoError(err)
		req.False(inserted)
	}

	page, cursor, err := repo.GetMessages(ctx, 5, start, nil)
	req.NoError(err)
	req.Len(page, 2)
	req.NotNil(cursor)

	page, cursor, err = repo.GetMessages(ctx, 5, start, cursor)
	req.NoError(err)
	req.Len(page, 1)
	req.Nil(cursor)
}

func TestNotificationRepository_Inbox(t *testing.T) {
	req := require.New(t)
	pool := setupPool(t)
	repo := NewNotificationRepository(pool, slog.Default())
	ctx := context.Background()

	first, err := repo.Save(ctx, chat.Notification{ReceiverID: 2, SenderID: 1, Type: chat.DMEnvelope, Data: []byte(`{"content":"a"}`), CreatedAt: time.Now()})
	req.NoError(err)
	_, err = repo.Save(ctx, chat.Notification{ReceiverID: 2, SenderID: 1, Type: chat.FollowEnvelope, CreatedAt: time.Now().Add(time.Second)})
	req.NoError(err)

	unread, err := repo.ListUnread(ctx, 2)
	req.NoError(err)
	req.Len(unread, 2)
	req.Equal(chat.FollowEnvelope, unread[0].Type)

	req.ErrorIs(repo.MarkRead(ctx, 1, first.ID), errors.ErrNotificationNotFound)
	req.NoError(repo.MarkRead(ctx, 2, first.ID))
	count, err := repo.MarkAllRead(ctx, 2)
	req.NoError(err)
	req.Equal(1, count)
	req.ErrorIs(repo.MarkRead(ctx, 2, 999), errors.ErrNotificationNotFound)
}
