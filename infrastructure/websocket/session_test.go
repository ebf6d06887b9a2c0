package websocket

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"social-chat/domain/chat"
	"social-chat/errors"
	"social-chat/infrastructure/storage"
	"social-chat/sink"
)

// connPair returns both ends of a live websocket connection.
func connPair(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	accepted := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- conn
	}))
	t.Cleanup(server.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	select {
	case conn := <-accepted:
		t.Cleanup(func() { _ = conn.Close() })
		return conn, client
	case <-time.After(2 * time.Second):
		t.Fatal("server side of the connection never accepted")
		return nil, nil
	}
}

func chatPayload(t *testing.T, content string) []byte {
	envelope, err := chat.NewChatEnvelope(chat.Message{
		ID:             uuid.New(),
		RoomID:         3,
		SenderID:       1,
		SenderNickname: "alice",
		Content:        content,
		Kind:           chat.Talk,
	})
	require.NoError(t, err)
	payload, err := envelope.Marshal()
	require.NoError(t, err)
	return payload
}

func TestSession_CloseWhileWriting(t *testing.T) {
	req := require.New(t)
	serverConn, client := connPair(t)
	go func() {
		for {
			if _, _, err := client.ReadMessage(); err != nil {
				return
			}
		}
	}()

	session := NewSession(serverConn, chat.Principal{UserID: 2}, slog.Default(), 256, nil)
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		session.WritePump()
	}()

	// Given several producers pushing large frames
	large := bytes.Repeat([]byte("x"), 64<<10)
	var wg sync.WaitGroup
	var accepted atomic.Int64
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if session.Send(context.Background(), large) != nil {
					return
				}
				accepted.Add(1)
			}
		}()
	}

	// When the session is closed while the pump is writing
	req.Eventually(func() bool { return accepted.Load() >= 20 }, time.Second, time.Millisecond)
	_ = session.Close()

	// Then producers and the pump stop without a concurrent write
	wg.Wait()
	select {
	case <-pumpDone:
	case <-time.After(2 * writeWait):
		t.Fatal("write pump did not stop after close")
	}
	req.ErrorIs(session.Send(context.Background(), large), errors.ErrSessionClosed)
}

func TestSession_QueuedFramesHandedOverWhenWriteFails(t *testing.T) {
	req := require.New(t)
	serverConn, _ := connPair(t)

	var dropped [][]byte
	session := NewSession(serverConn, chat.Principal{UserID: 2}, slog.Default(), 8, func(payload []byte) {
		dropped = append(dropped, payload)
	})

	// Given three frames waiting in the queue
	frames := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	for _, frame := range frames {
		req.NoError(session.Send(context.Background(), frame))
	}

	// When the transport breaks before the pump writes them
	req.NoError(serverConn.NetConn().Close())
	session.WritePump()

	// Then every frame, the one that failed included, is handed over in order
	req.Equal(frames, dropped)
	req.ErrorIs(session.Send(context.Background(), []byte("four")), errors.ErrSessionClosed)
}

func TestSession_NothingDroppedOnCleanClose(t *testing.T) {
	req := require.New(t)
	serverConn, _ := connPair(t)

	calls := 0
	session := NewSession(serverConn, chat.Principal{UserID: 2}, slog.Default(), 8, func([]byte) { calls++ })
	req.NoError(session.Close())
	session.WritePump()

	req.Zero(calls)
}

func TestSession_BrokenConnectionLeavesNotifications(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	req.NoError(err)
	t.Cleanup(func() { _ = db.Close() })
	notifications, err := storage.NewNotificationRepository(db, slog.Default())
	req.NoError(err)
	t.Cleanup(func() { _ = notifications.Close() })

	h := NewHandler(slog.Default(), nil, nil, nil, sink.NewNotificationSink(notifications, slog.Default(), nil), 8, 4096)
	serverConn, _ := connPair(t)
	session := NewSession(serverConn, chat.Principal{UserID: 2, Nickname: "bob"}, slog.Default(), 8, h.persistDropped(2))

	// Given chat messages accepted for bob
	req.NoError(session.Send(ctx, chatPayload(t, "first")))
	req.NoError(session.Send(ctx, chatPayload(t, "second")))

	// When his connection breaks mid-stream
	req.NoError(serverConn.NetConn().Close())
	session.WritePump()

	// Then both messages wait for him as unread notifications
	unread, err := notifications.ListUnread(ctx, 2)
	req.NoError(err)
	req.Len(unread, 2)
	for _, n := range unread {
		req.Equal(chat.DMEnvelope, n.Type)
		req.Equal(chat.UserID(1), n.SenderID)
	}
}
