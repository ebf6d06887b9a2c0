package storage

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"

	"social-chat/domain/chat"
	"social-chat/errors"
)

var cursorPattern = regexp.MustCompile(`^\d{19}:[0-9a-f-]{36}$`)

type MessageRepository struct {
	db            *badger.DB
	log           *slog.Logger
	limitMessages *int
}

func NewMessageRepository(db *badger.DB, log *slog.Logger, limitMessages *int) *MessageRepository {
	return &MessageRepository{db: db, log: log, limitMessages: limitMessages}
}

func messageKey(m chat.Message) []byte {
	return []byte(fmt.Sprintf("msg:%d:%019d:%s", m.RoomID, m.CreatedAt.UnixNano(), m.ID))
}

func messageIDKey(m chat.Message) []byte {
	return []byte("msgid:" + m.ID.String())
}

// Save persists a message in BadgerDB.
// The key is formatted as "msg:{room_id}:{timestamp_padded}:{uuid}" to:
//  1. Ensure chronological sorting using 19-digit zero padding (lexicographical order).
//  2. Prevent data loss by using UUID as a collision disconnector if two messages
//     arrive at the same nanosecond.
//
// A "msgid:{uuid}" marker makes the write idempotent: a redelivered message is
// detected and reported with false.
func (m *MessageRepository) Save(ctx context.Context, message chat.Message) (bool, error) {
	value, err := encode(fromMessage(message))
	if err != nil {
		return false, err
	}
	var inserted bool
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		err = m.db.Update(func(txn *badger.Txn) error {
			_, err := txn.Get(messageIDKey(message))
			if err == nil {
				inserted = false
				return nil
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			key := messageKey(message)
			if err := txn.Set(key, value); err != nil {
				return err
			}
			inserted = true
			return txn.Set(messageIDKey(message), key)
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil {
		return false, wrapInfra(err)
	}
	if !inserted {
		m.log.Debug("Duplicate message ignored", "message_id", message.ID, "room_id", message.RoomID)
	}
	return inserted, nil
}

// GetMessages retrieves messages of a room created strictly after the given instant,
// oldest first. Thanks to the padded timestamp in the key a prefix scan is already sorted.
// The returned cursor is non-nil when the page was cut by limitMessages.
func (m *MessageRepository) GetMessages(ctx context.Context, roomID chat.RoomID, after time.Time, cursor *string) ([]chat.Message, *string, error) {
	if cursor != nil && !cursorPattern.MatchString(*cursor) {
		return nil, nil, fmt.Errorf("malformed cursor %q: %w", *cursor, errors.ErrInvalidRequest)
	}
	prefixStr := fmt.Sprintf("msg:%d:", roomID)
	prefix := []byte(prefixStr)
	var afterNano int64
	if !after.IsZero() {
		afterNano = after.UnixNano()
	}

	var messages []chat.Message
	var next *string
	err := m.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		var seekKey []byte
		switch cursor {
		case nil:
			seekKey = []byte(fmt.Sprintf("%s%019d", prefixStr, afterNano+1))
		default:
			seekKey = append(prefix, []byte(*cursor)...)
		}
		it.Seek(seekKey)

		if cursor != nil && it.ValidForPrefix(prefix) && string(it.Item().Key()) == string(seekKey) {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			position := string(item.Key()[len(prefix):])
			ts, err := strconv.ParseInt(position[:19], 10, 64)
			if err != nil {
				return fmt.Errorf("malformed message key %q: %w", item.Key(), err)
			}
			if ts <= afterNano {
				continue
			}
			if m.limitMessages != nil && *m.limitMessages > 0 && len(messages) == *m.limitMessages {
				m.log.Debug(fmt.Sprintf("Maximum of %d message reached", *m.limitMessages))
				last := fromMessage(messages[len(messages)-1])
				c := fmt.Sprintf("%019d:%s", last.CreatedAt, last.ID)
				next = &c
				break
			}
			err = item.Value(func(value []byte) error {
				record, err := decode[messageRecord](value)
				if err != nil {
					return err
				}
				message, err := toMessage(record)
				if err != nil {
					return err
				}
				messages = append(messages, message)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, wrapInfra(err)
	}
	return messages, next, nil
}
