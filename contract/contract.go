//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"
	"time"

	"social-chat/domain/chat"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// RoomStore persists rooms together with their participant rows.
// UpdateRoom runs fn inside a single room transaction; fn may be called
// more than once when the transaction has to be retried.
type RoomStore interface {
	CreateRoom(ctx context.Context, room chat.Room) (chat.Room, error)
	GetRoom(ctx context.Context, roomID chat.RoomID) (chat.Room, error)
	FindDirectRooms(ctx context.Context, pair chat.Pair) ([]chat.Room, error)
	UpdateRoom(ctx context.Context, roomID chat.RoomID, fn func(room *chat.Room) error) (chat.Room, error)
	ListVisibleRooms(ctx context.Context, userID chat.UserID) ([]chat.Room, error)
	ParticipantIDs(ctx context.Context, roomID chat.RoomID) ([]chat.UserID, error)
}

// MessageStore is the append log of chat messages. Save is idempotent by message id.
type MessageStore interface {
	Save(ctx context.Context, message chat.Message) (bool, error)
	GetMessages(ctx context.Context, roomID chat.RoomID, after time.Time, cursor *string) ([]chat.Message, *string, error)
}

type NotificationStore interface {
	Save(ctx context.Context, n chat.Notification) (chat.Notification, error)
	ListUnread(ctx context.Context, receiver chat.UserID) ([]chat.Notification, error)
	MarkRead(ctx context.Context, receiver chat.UserID, id int64) error
	MarkAllRead(ctx context.Context, receiver chat.UserID) (int, error)
}

// Record is one entry fetched from a broker partition.
type Record struct {
	Topic     string
	Partition int
	Offset    string
	Key       string
	Payload   []byte
}

// Broker is a durable partitioned log with at-least-once delivery.
// Fetch returns records that were delivered but never acknowledged before new ones.
type Broker interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
	Fetch(ctx context.Context, topic, group string, partition, max int) ([]Record, error)
	Ack(ctx context.Context, group string, record Record) error
	DeadLetter(ctx context.Context, record Record, cause error) error
	Partitions() int
	Close() error
}

type BusMessage struct {
	Channel string
	Payload []byte
}

// BroadcastBus fans payloads out to every process. Patterns use '*' wildcards.
type BroadcastBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, patterns ...string) (<-chan BusMessage, error)
	Close() error
}

// Session is one live connection of an authenticated user.
type Session interface {
	ID() string
	UserID() chat.UserID
	EstablishedAt() time.Time
	Send(ctx context.Context, payload []byte) error
	Close() error
}

type SessionRegistry interface {
	Register(session Session)
	Unregister(session Session)
	Sessions(userID chat.UserID) []Session
	Count() int
}

// ParticipantLookup resolves the users a room payload must reach.
// Hidden rows are included: hiding a room does not stop its traffic.
type ParticipantLookup interface {
	ParticipantIDs(ctx context.Context, roomID chat.RoomID) ([]chat.UserID, error)
}

// Fallback keeps an envelope for a user that could not be reached live.
type Fallback interface {
	Persist(ctx context.Context, receiver chat.UserID, payload []byte) error
}

// RecordHandler processes one broker record. Returning an error leaves the record unacknowledged.
type RecordHandler interface {
	Handle(ctx context.Context, record Record) error
}

type Pinger interface {
	Ping(ctx context.Context) error
}
