package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"social-chat/domain/chat"
	"social-chat/errors"
)

const (
	roomPrefix         = "room:"
	memberPrefix       = "member:"
	directPrefix       = "direct:"
	maxConflictRetries = 10
	sequenceBandwidth  = 100
)

// RoomRepository stores a room and all its participant rows under a single key,
// so every lifecycle transition is one Badger transaction on that key.
// Two index families make lookups cheap:
//
//	member:{user}:{room}        one per participant row, hidden or not
//	direct:{low}:{high}:{room}  one per DIRECT room, keyed by the sorted pair
//
// Ids are zero padded to 19 digits so that iteration follows ascending id order.
type RoomRepository struct {
	db             *badger.DB
	log            *slog.Logger
	roomSeq        *badger.Sequence
	participantSeq *badger.Sequence
}

func NewRoomRepository(db *badger.DB, log *slog.Logger) (*RoomRepository, error) {
	roomSeq, err := db.GetSequence([]byte("seq:room"), sequenceBandwidth)
	if err != nil {
		return nil, fmt.Errorf("room sequence: %w", err)
	}
	participantSeq, err := db.GetSequence([]byte("seq:participant"), sequenceBandwidth)
	if err != nil {
		_ = roomSeq.Release()
		return nil, fmt.Errorf("participant sequence: %w", err)
	}
	return &RoomRepository{db: db, log: log, roomSeq: roomSeq, participantSeq: participantSeq}, nil
}

// Close releases the leased id ranges. The DB itself is owned by the caller.
func (r *RoomRepository) Close() error {
	return errors.Join(r.roomSeq.Release(), r.participantSeq.Release())
}

func (r *RoomRepository) Ping(ctx context.Context) error {
	if r.db.IsClosed() {
		return errors.Transient(fmt.Errorf("badger is closed"))
	}
	return nil
}

func roomKey(id chat.RoomID) []byte {
	return []byte(fmt.Sprintf("%s%019d", roomPrefix, id))
}

func memberKey(user chat.UserID, room chat.RoomID) []byte {
	return []byte(fmt.Sprintf("%s%019d:%019d", memberPrefix, user, room))
}

func directKey(pair chat.Pair, room chat.RoomID) []byte {
	return []byte(fmt.Sprintf("%s%019d:%019d:%019d", directPrefix, pair.Low, pair.High, room))
}

// CreateRoom assigns ids to the room and its participants and persists it with its indexes.
func (r *RoomRepository) CreateRoom(ctx context.Context, room chat.Room) (chat.Room, error) {
	if err := ctx.Err(); err != nil {
		return chat.Room{}, err
	}
	next, err := r.roomSeq.Next()
	if err != nil {
		return chat.Room{}, wrapInfra(err)
	}
	room.ID = chat.RoomID(next + 1)
	if err := r.assignParticipantIDs(&room); err != nil {
		return chat.Room{}, err
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		if err := r.writeRoom(txn, room, nil); err != nil {
			return err
		}
		if room.Kind == chat.DirectRoom && len(room.Participants) == 2 {
			pair, err := chat.NewPair(room.Participants[0].UserID, room.Participants[1].UserID)
			if err != nil {
				return err
			}
			return txn.Set(directKey(pair, room.ID), nil)
		}
		return nil
	})
	if err != nil {
		return chat.Room{}, wrapInfra(err)
	}
	r.log.Debug("Room created", "room_id", room.ID, "kind", room.Kind, "participants", len(room.Participants))
	return room, nil
}

func (r *RoomRepository) GetRoom(ctx context.Context, roomID chat.RoomID) (chat.Room, error) {
	var room chat.Room
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		room, err = r.getRoom(txn, roomID)
		return err
	})
	return room, wrapInfra(err)
}

// FindDirectRooms returns every DIRECT room of a pair in ascending id order, hidden or not.
func (r *RoomRepository) FindDirectRooms(ctx context.Context, pair chat.Pair) ([]chat.Room, error) {
	prefix := fmt.Sprintf("%s%019d:%019d:", directPrefix, pair.Low, pair.High)
	var rooms []chat.Room
	err := r.db.View(func(txn *badger.Txn) error {
		ids, err := scanIDs(txn, prefix)
		if err != nil {
			return err
		}
		for _, id := range ids {
			room, err := r.getRoom(txn, chat.RoomID(id))
			if err != nil {
				return err
			}
			rooms = append(rooms, room)
		}
		return nil
	})
	if err != nil {
		return nil, wrapInfra(err)
	}
	return rooms, nil
}

// UpdateRoom applies fn to the stored room inside one transaction.
// On a write conflict the whole read-modify-write is replayed with fresh data.
func (r *RoomRepository) UpdateRoom(ctx context.Context, roomID chat.RoomID, fn func(room *chat.Room) error) (chat.Room, error) {
	var updated chat.Room
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return chat.Room{}, ctxErr
		}
		err = r.db.Update(func(txn *badger.Txn) error {
			room, err := r.getRoom(txn, roomID)
			if err != nil {
				return err
			}
			before := make(map[chat.UserID]struct{}, len(room.Participants))
			for _, p := range room.Participants {
				before[p.UserID] = struct{}{}
			}
			if err := fn(&room); err != nil {
				return err
			}
			if err := r.assignParticipantIDs(&room); err != nil {
				return err
			}
			if err := r.writeRoom(txn, room, before); err != nil {
				return err
			}
			updated = room
			return nil
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
		r.log.Debug("Room transaction conflict, retrying", "room_id", roomID, "attempt", attempt+1)
	}
	if err != nil {
		return chat.Room{}, wrapInfra(err)
	}
	return updated, nil
}

// ListVisibleRooms returns the rooms where the user's row is ACTIVE.
func (r *RoomRepository) ListVisibleRooms(ctx context.Context, userID chat.UserID) ([]chat.Room, error) {
	prefix := fmt.Sprintf("%s%019d:", memberPrefix, userID)
	var rooms []chat.Room
	err := r.db.View(func(txn *badger.Txn) error {
		ids, err := scanIDs(txn, prefix)
		if err != nil {
			return err
		}
		for _, id := range ids {
			room, err := r.getRoom(txn, chat.RoomID(id))
			if err != nil {
				return err
			}
			if p := room.Participant(userID); p != nil && !p.Deleted {
				rooms = append(rooms, room)
			}
		}
		return nil
	})
	if err != nil {
		return nil, wrapInfra(err)
	}
	return rooms, nil
}

// ParticipantIDs returns every participant of the room, hidden or not.
func (r *RoomRepository) ParticipantIDs(ctx context.Context, roomID chat.RoomID) ([]chat.UserID, error) {
	room, err := r.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return room.UserIDs(), nil
}

func (r *RoomRepository) getRoom(txn *badger.Txn, roomID chat.RoomID) (chat.Room, error) {
	item, err := txn.Get(roomKey(roomID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return chat.Room{}, fmt.Errorf("room %d: %w", roomID, errors.ErrRoomNotFound)
	}
	if err != nil {
		return chat.Room{}, err
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		return chat.Room{}, err
	}
	record, err := decode[roomRecord](value)
	if err != nil {
		return chat.Room{}, err
	}
	return toRoom(record), nil
}

// writeRoom stores the room and reconciles member indexes against the users present before.
func (r *RoomRepository) writeRoom(txn *badger.Txn, room chat.Room, before map[chat.UserID]struct{}) error {
	value, err := encode(fromRoom(room))
	if err != nil {
		return err
	}
	if err := txn.Set(roomKey(room.ID), value); err != nil {
		return err
	}
	after := make(map[chat.UserID]struct{}, len(room.Participants))
	for _, p := range room.Participants {
		after[p.UserID] = struct{}{}
		if _, ok := before[p.UserID]; !ok {
			if err := txn.Set(memberKey(p.UserID, room.ID), nil); err != nil {
				return err
			}
		}
	}
	for user := range before {
		if _, ok := after[user]; !ok {
			if err := txn.Delete(memberKey(user, room.ID)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *RoomRepository) assignParticipantIDs(room *chat.Room) error {
	for i := range room.Participants {
		room.Participants[i].RoomID = room.ID
		if room.Participants[i].ID != 0 {
			continue
		}
		next, err := r.participantSeq.Next()
		if err != nil {
			return err
		}
		room.Participants[i].ID = chat.ParticipantID(next + 1)
	}
	return nil
}

// scanIDs reads the trailing id of every key under prefix.
func scanIDs(txn *badger.Txn, prefix string) ([]int64, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var ids []int64
	for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
		id, err := parseTrailingID(string(it.Item().Key()))
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseTrailingID(key string) (int64, error) {
	id, err := strconv.ParseInt(key[strings.LastIndex(key, ":")+1:], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed index key %q: %w", key, err)
	}
	return id, nil
}
