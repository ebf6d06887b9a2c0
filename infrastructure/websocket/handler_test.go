package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"social-chat/auth"
	"social-chat/domain/chat"
	"social-chat/errors"
	"social-chat/runtime"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []chat.SendMessageCommand
	err  error
}

func (s *recordingSender) Send(_ context.Context, p chat.Principal, cmd chat.SendMessageCommand) (chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return chat.Message{}, s.err
	}
	s.sent = append(s.sent, cmd)
	return chat.Message{RoomID: cmd.RoomID, SenderID: p.UserID, Content: cmd.Content}, nil
}

func (s *recordingSender) commands() []chat.SendMessageCommand {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]chat.SendMessageCommand(nil), s.sent...)
}

type recordingFallback struct {
	mu    sync.Mutex
	kept  map[chat.UserID][][]byte
	calls int
	err   error
}

func (f *recordingFallback) Persist(_ context.Context, receiver chat.UserID, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	if f.kept == nil {
		f.kept = make(map[chat.UserID][][]byte)
	}
	f.kept[receiver] = append(f.kept[receiver], payload)
	return nil
}

func (f *recordingFallback) payloads(receiver chat.UserID) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.kept[receiver]...)
}

type fixture struct {
	server   *httptest.Server
	registry *runtime.Registry
	sender   *recordingSender
	fallback *recordingFallback
	tokens   *auth.TokenService
}

func newFixture(t *testing.T) fixture {
	tokens := auth.NewTokenService("test-secret", time.Hour)
	registry := runtime.NewRegistry(4)
	sender := &recordingSender{}
	fallback := &recordingFallback{}
	server := httptest.NewServer(NewHandler(slog.Default(), tokens, registry, sender, fallback, 8, 4096))
	t.Cleanup(server.Close)
	return fixture{server: server, registry: registry, sender: sender, fallback: fallback, tokens: tokens}
}

func (f fixture) dial(t *testing.T, p chat.Principal) *websocket.Conn {
	token, err := f.tokens.GenerateToken(p)
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) chat.Envelope {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	envelope, err := chat.DecodeEnvelope(frame)
	require.NoError(t, err)
	return envelope
}

func TestHandler_RejectsMissingToken(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	req.Error(err)
	req.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func TestHandler_RegistersAndDelivers(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	conn := f.dial(t, chat.Principal{UserID: 7, Nickname: "alice"})

	// Given the session is registered on connect
	req.Eventually(func() bool { return len(f.registry.Sessions(7)) == 1 }, time.Second, 10*time.Millisecond)
	session := f.registry.Sessions(7)[0]

	// When the pipeline sends to it
	payload, err := chat.Envelope{Type: chat.FollowEnvelope, ReceiverID: 7, SenderNickname: "bob"}.Marshal()
	req.NoError(err)
	req.NoError(session.Send(context.Background(), payload))

	// Then the client receives the frame
	envelope := readEnvelope(t, conn)
	req.Equal(chat.FollowEnvelope, envelope.Type)

	// And disconnecting unregisters it
	req.NoError(conn.Close())
	req.Eventually(func() bool { return f.registry.Count() == 0 }, time.Second, 10*time.Millisecond)
	req.ErrorIs(session.Send(context.Background(), payload), errors.ErrSessionClosed)
}

func TestHandler_ForwardsFramesToIngestion(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	conn := f.dial(t, chat.Principal{UserID: 7, Nickname: "alice"})

	req.NoError(conn.WriteJSON(map[string]any{"roomId": 3, "content": "hello"}))
	req.Eventually(func() bool { return len(f.sender.commands()) == 1 }, time.Second, 10*time.Millisecond)
	req.Equal(chat.SendMessageCommand{RoomID: 3, Content: "hello"}, f.sender.commands()[0])
}

func TestHandler_ReportsErrorsAsSystemEnvelope(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	conn := f.dial(t, chat.Principal{UserID: 7, Nickname: "alice"})

	// Malformed frame
	req.NoError(conn.WriteMessage(websocket.TextMessage, []byte("{oops")))
	envelope := readEnvelope(t, conn)
	req.Equal(chat.SystemEnvelope, envelope.Type)

	// Rejected by ingestion
	f.sender.mu.Lock()
	f.sender.err = fmt.Errorf("room 3: %w", errors.ErrNotAParticipant)
	f.sender.mu.Unlock()
	req.NoError(conn.WriteJSON(map[string]any{"roomId": 3, "content": "hello"}))
	envelope = readEnvelope(t, conn)
	req.Equal(chat.SystemEnvelope, envelope.Type)
	var data map[string]string
	req.NoError(json.Unmarshal(envelope.Data, &data))
	req.Contains(data["content"], "participant not found")
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	_ = f.dial(t, chat.Principal{UserID: 9})
	req.Eventually(func() bool { return len(f.registry.Sessions(9)) == 1 }, time.Second, 10*time.Millisecond)
	session := f.registry.Sessions(9)[0].(*Session)

	// Close is idempotent and later sends fail fast
	req.NoError(session.Close())
	_ = session.Close()
	req.ErrorIs(session.Send(context.Background(), []byte("x")), errors.ErrSessionClosed)
}

func TestHandler_PersistDroppedRoutesToReceiver(t *testing.T) {
	req := require.New(t)
	fallback := &recordingFallback{}
	h := NewHandler(slog.Default(), nil, nil, nil, fallback, 8, 4096)

	// When a frame of user 4 is dropped
	h.persistDropped(4)([]byte(`{"type":"FOLLOW"}`))

	// Then the fallback keeps it for that user
	req.Equal([][]byte{[]byte(`{"type":"FOLLOW"}`)}, fallback.payloads(4))
	req.Empty(fallback.payloads(5))
}

func TestHandler_PersistDroppedSwallowsFallbackErrors(t *testing.T) {
	req := require.New(t)
	fallback := &recordingFallback{err: errors.Transient(fmt.Errorf("disk full"))}
	h := NewHandler(slog.Default(), nil, nil, nil, fallback, 8, 4096)

	req.NotPanics(func() { h.persistDropped(4)([]byte(`{"type":"FOLLOW"}`)) })
	req.Equal(1, fallback.calls)
}

func TestHandler_WithoutFallbackDropsSilently(t *testing.T) {
	h := NewHandler(slog.Default(), nil, nil, nil, nil, 8, 4096)
	require.Nil(t, h.persistDropped(4))
}
