package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"social-chat/domain/chat"
	"social-chat/errors"
)

// RoomRepository keeps rooms and participants in two tables.
// UpdateRoom locks the room row with SELECT ... FOR UPDATE for the whole transition.
type RoomRepository struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewRoomRepository(pool *pgxpool.Pool, log *slog.Logger) *RoomRepository {
	return &RoomRepository{pool: pool, log: log}
}

func (r *RoomRepository) CreateRoom(ctx context.Context, room chat.Room) (chat.Room, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return chat.Room{}, wrapInfra(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	room.CreatedAt = stamp(room.CreatedAt)
	err = tx.QueryRow(ctx,
		`INSERT INTO rooms (kind, name, created_at) VALUES ($1, $2, $3) RETURNING id`,
		string(room.Kind), room.Name, room.CreatedAt,
	).Scan(&room.ID)
	if err != nil {
		return chat.Room{}, wrapInfra(err)
	}
	for i := range room.Participants {
		if err := insertParticipant(ctx, tx, room.ID, &room.Participants[i]); err != nil {
			return chat.Room{}, wrapInfra(err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return chat.Room{}, wrapInfra(err)
	}
	r.log.Debug("Room created", "room_id", room.ID, "kind", room.Kind, "participants", len(room.Participants))
	return room, nil
}

func (r *RoomRepository) GetRoom(ctx context.Context, roomID chat.RoomID) (chat.Room, error) {
	room, err := loadRoom(ctx, r.pool, roomID, false)
	return room, wrapInfra(err)
}

// FindDirectRooms returns every DIRECT room of a pair in ascending id order, hidden or not.
func (r *RoomRepository) FindDirectRooms(ctx context.Context, pair chat.Pair) ([]chat.Room, error) {
	rows, err := r.pool.Query(ctx, `
        SELECT r.id
        FROM rooms r
        JOIN participants a ON a.room_id = r.id AND a.user_id = $1
        JOIN participants b ON b.room_id = r.id AND b.user_id = $2
        WHERE r.kind = $3
        ORDER BY r.id`,
		int64(pair.Low), int64(pair.High), string(chat.DirectRoom))
	if err != nil {
		return nil, wrapInfra(err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, wrapInfra(err)
	}
	return r.loadAll(ctx, ids)
}

func (r *RoomRepository) UpdateRoom(ctx context.Context, roomID chat.RoomID, fn func(room *chat.Room) error) (chat.Room, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return chat.Room{}, wrapInfra(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	room, err := loadRoom(ctx, tx, roomID, true)
	if err != nil {
		return chat.Room{}, wrapInfra(err)
	}
	before := make(map[chat.ParticipantID]chat.Participant, len(room.Participants))
	for _, p := range room.Participants {
		before[p.ID] = p
	}
	if err := fn(&room); err != nil {
		return chat.Room{}, err
	}

	kept := make(map[chat.ParticipantID]struct{}, len(room.Participants))
	for i := range room.Participants {
		p := &room.Participants[i]
		p.JoinedAt = stamp(p.JoinedAt)
		if p.ID == 0 {
			if err := insertParticipant(ctx, tx, room.ID, p); err != nil {
				return chat.Room{}, wrapInfra(err)
			}
			continue
		}
		kept[p.ID] = struct{}{}
		if old := before[p.ID]; old.Deleted == p.Deleted && old.JoinedAt.Equal(p.JoinedAt) {
			continue
		}
		if _, err := tx.Exec(ctx,
			`UPDATE participants SET deleted = $2, joined_at = $3 WHERE id = $1`,
			int64(p.ID), p.Deleted, p.JoinedAt); err != nil {
			return chat.Room{}, wrapInfra(err)
		}
	}
	for id := range before {
		if _, ok := kept[id]; ok {
			continue
		}
		if _, err := tx.Exec(ctx, `DELETE FROM participants WHERE id = $1`, int64(id)); err != nil {
			return chat.Room{}, wrapInfra(err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return chat.Room{}, wrapInfra(err)
	}
	return room, nil
}

func (r *RoomRepository) ListVisibleRooms(ctx context.Context, userID chat.UserID) ([]chat.Room, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT room_id FROM participants WHERE user_id = $1 AND NOT deleted ORDER BY room_id`,
		int64(userID))
	if err != nil {
		return nil, wrapInfra(err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, wrapInfra(err)
	}
	return r.loadAll(ctx, ids)
}

// ParticipantIDs returns every participant of the room, hidden or not.
func (r *RoomRepository) ParticipantIDs(ctx context.Context, roomID chat.RoomID) ([]chat.UserID, error) {
	room, err := r.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return room.UserIDs(), nil
}

func (r *RoomRepository) loadAll(ctx context.Context, ids []int64) ([]chat.Room, error) {
	rooms := make([]chat.Room, 0, len(ids))
	for _, id := range ids {
		room, err := loadRoom(ctx, r.pool, chat.RoomID(id), false)
		if err != nil {
			return nil, wrapInfra(err)
		}
		rooms = append(rooms, room)
	}
	return rooms, nil
}

func loadRoom(ctx context.Context, q querier, roomID chat.RoomID, forUpdate bool) (chat.Room, error) {
	query := `SELECT id, kind, name, created_at FROM rooms WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var room chat.Room
	var kind string
	err := q.QueryRow(ctx, query, int64(roomID)).Scan(&room.ID, &kind, &room.Name, &room.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return chat.Room{}, fmt.Errorf("room %d: %w", roomID, errors.ErrRoomNotFound)
	}
	if err != nil {
		return chat.Room{}, err
	}
	room.Kind = chat.RoomKind(kind)
	room.CreatedAt = room.CreatedAt.UTC()

	rows, err := q.Query(ctx,
		`SELECT id, room_id, user_id, deleted, joined_at FROM participants WHERE room_id = $1 ORDER BY id`,
		int64(roomID))
	if err != nil {
		return chat.Room{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var p chat.Participant
		if err := rows.Scan(&p.ID, &p.RoomID, &p.UserID, &p.Deleted, &p.JoinedAt); err != nil {
			return chat.Room{}, err
		}
		p.JoinedAt = p.JoinedAt.UTC()
		room.Participants = append(room.Participants, p)
	}
	return room, rows.Err()
}

func insertParticipant(ctx context.Context, q querier, roomID chat.RoomID, p *chat.Participant) error {
	p.RoomID = roomID
	p.JoinedAt = stamp(p.JoinedAt)
	return q.QueryRow(ctx,
		`INSERT INTO participants (room_id, user_id, deleted, joined_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		int64(roomID), int64(p.UserID), p.Deleted, p.JoinedAt,
	).Scan(&p.ID)
}
