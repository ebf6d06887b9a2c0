package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"social-chat/domain/chat"
	"social-chat/errors"
)

// NotificationRepository keeps offline deliveries.
// "notif:{id}" holds the record, "notif-unread:{receiver}:{id}" indexes the unread ones.
type NotificationRepository struct {
	db  *badger.DB
	log *slog.Logger
	seq *badger.Sequence
}

func NewNotificationRepository(db *badger.DB, log *slog.Logger) (*NotificationRepository, error) {
	seq, err := db.GetSequence([]byte("seq:notification"), sequenceBandwidth)
	if err != nil {
		return nil, fmt.Errorf("notification sequence: %w", err)
	}
	return &NotificationRepository{db: db, log: log, seq: seq}, nil
}

func (n *NotificationRepository) Close() error {
	return n.seq.Release()
}

func notificationKey(id int64) []byte {
	return []byte(fmt.Sprintf("notif:%019d", id))
}

func unreadPrefix(receiver chat.UserID) string {
	return fmt.Sprintf("notif-unread:%019d:", receiver)
}

func unreadKey(receiver chat.UserID, id int64) []byte {
	return []byte(fmt.Sprintf("%s%019d", unreadPrefix(receiver), id))
}

func (n *NotificationRepository) Save(ctx context.Context, notification chat.Notification) (chat.Notification, error) {
	if err := ctx.Err(); err != nil {
		return chat.Notification{}, err
	}
	next, err := n.seq.Next()
	if err != nil {
		return chat.Notification{}, wrapInfra(err)
	}
	notification.ID = int64(next + 1)
	value, err := encode(fromNotification(notification))
	if err != nil {
		return chat.Notification{}, err
	}
	err = n.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(notificationKey(notification.ID), value); err != nil {
			return err
		}
		if notification.Read {
			return nil
		}
		return txn.Set(unreadKey(notification.ReceiverID, notification.ID), nil)
	})
	if err != nil {
		return chat.Notification{}, wrapInfra(err)
	}
	return notification, nil
}

// ListUnread returns the unread notifications of a receiver, newest first.
func (n *NotificationRepository) ListUnread(ctx context.Context, receiver chat.UserID) ([]chat.Notification, error) {
	prefix := unreadPrefix(receiver)
	var notifications []chat.Notification
	err := n.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		var ids []int64
		for it.Seek([]byte(prefix + "\xff")); it.ValidForPrefix([]byte(prefix)); it.Next() {
			id, err := parseTrailingID(string(it.Item().Key()))
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		for _, id := range ids {
			record, err := getNotification(txn, id)
			if err != nil {
				return err
			}
			notifications = append(notifications, toNotification(record))
		}
		return nil
	})
	if err != nil {
		return nil, wrapInfra(err)
	}
	return notifications, nil
}

// MarkRead flags one notification of the receiver. Another user's notification is not found.
func (n *NotificationRepository) MarkRead(ctx context.Context, receiver chat.UserID, id int64) error {
	err := n.db.Update(func(txn *badger.Txn) error {
		record, err := getNotification(txn, id)
		if err != nil {
			return err
		}
		if chat.UserID(record.ReceiverID) != receiver {
			return fmt.Errorf("notification %d: %w", id, errors.ErrNotificationNotFound)
		}
		return markRead(txn, record)
	})
	return wrapInfra(err)
}

// MarkAllRead flags every unread notification of a receiver and reports how many changed.
func (n *NotificationRepository) MarkAllRead(ctx context.Context, receiver chat.UserID) (int, error) {
	var count int
	err := n.db.Update(func(txn *badger.Txn) error {
		ids, err := scanIDs(txn, unreadPrefix(receiver))
		if err != nil {
			return err
		}
		for _, id := range ids {
			record, err := getNotification(txn, id)
			if err != nil {
				return err
			}
			if err := markRead(txn, record); err != nil {
				return err
			}
		}
		count = len(ids)
		return nil
	})
	if err != nil {
		return 0, wrapInfra(err)
	}
	return count, nil
}

func getNotification(txn *badger.Txn, id int64) (notificationRecord, error) {
	item, err := txn.Get(notificationKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return notificationRecord{}, fmt.Errorf("notification %d: %w", id, errors.ErrNotificationNotFound)
	}
	if err != nil {
		return notificationRecord{}, err
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		return notificationRecord{}, err
	}
	return decode[notificationRecord](value)
}

func markRead(txn *badger.Txn, record notificationRecord) error {
	if record.Read {
		return nil
	}
	record.Read = true
	value, err := encode(record)
	if err != nil {
		return err
	}
	if err := txn.Set(notificationKey(record.ID), value); err != nil {
		return err
	}
	return txn.Delete(unreadKey(chat.UserID(record.ReceiverID), record.ID))
}
