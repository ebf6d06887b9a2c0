package services

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"

	"social-chat/contract"
	"social-chat/infrastructure/broker"
	"social-chat/infrastructure/storage"
	"social-chat/observability"
)

// stepClock moves one second forward on every reading.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newStepClock() *stepClock {
	return &stepClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type stores struct {
	rooms         *storage.RoomRepository
	messages      *storage.MessageRepository
	notifications *storage.NotificationRepository
}

func newStores(t *testing.T) stores {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	log := testLogger()
	rooms, err := storage.NewRoomRepository(db, log)
	require.NoError(t, err)
	notifications, err := storage.NewNotificationRepository(db, log)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = rooms.Close()
		_ = notifications.Close()
		_ = db.Close()
	})
	return stores{
		rooms:         rooms,
		messages:      storage.NewMessageRepository(db, log, nil),
		notifications: notifications,
	}
}

func testLogger() *slog.Logger {
	return logs.GetLoggerFromLevel(slog.LevelDebug)
}

func testMonitoring() *observability.MonitoringManager {
	return observability.NewMonitoringManager(testLogger())
}

// drain feeds every pending record of a topic to the handler and acknowledges it.
func drain(t *testing.T, b contract.Broker, topic string, handler contract.RecordHandler) int {
	ctx := context.Background()
	handled := 0
	for partition := 0; partition < b.Partitions(); partition++ {
		for {
			records, err := b.Fetch(ctx, topic, "chat-group", partition, 16)
			require.NoError(t, err)
			if len(records) == 0 {
				break
			}
			for _, record := range records {
				require.NoError(t, handler.Handle(ctx, record))
				require.NoError(t, b.Ack(ctx, "chat-group", record))
				handled++
			}
		}
	}
	return handled
}

func newTestBroker() *broker.MemoryBroker {
	return broker.NewMemoryBroker(4, 10*time.Millisecond)
}
