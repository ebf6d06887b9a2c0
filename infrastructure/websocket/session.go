package websocket

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"social-chat/domain/chat"
	"social-chat/errors"
)

const (
	writeWait          = 5 * time.Second
	pongWait           = 60 * time.Second
	pingPeriod         = (pongWait * 9) / 10
	dropPersistTimeout = 10 * time.Second
)

// Session is one websocket connection of an authenticated user.
// Writes go through a buffered queue drained by WritePump, the only writer of
// data frames. Frames accepted by Send but never written are handed to onDrop.
type Session struct {
	id            string
	user          chat.Principal
	conn          *websocket.Conn
	log           *slog.Logger
	send          chan []byte
	done          chan struct{}
	closeOnce     sync.Once
	establishedAt time.Time
	onDrop        func(payload []byte)

	// mu is held shared by Send and exclusively once the pump drains the queue,
	// so nothing is enqueued after the drain.
	mu      sync.RWMutex
	drained bool
}

// NewSession wraps an upgraded connection. onDrop may be nil.
func NewSession(conn *websocket.Conn, user chat.Principal, log *slog.Logger, buffer int, onDrop func(payload []byte)) *Session {
	id := uuid.NewString()
	return &Session{
		id:            id,
		user:          user,
		conn:          conn,
		log:           log.With("session_id", id, "user_id", user.UserID),
		send:          make(chan []byte, buffer),
		done:          make(chan struct{}),
		establishedAt: time.Now().UTC(),
		onDrop:        onDrop,
	}
}

func (s *Session) ID() string                { return s.id }
func (s *Session) UserID() chat.UserID       { return s.user.UserID }
func (s *Session) Principal() chat.Principal { return s.user }
func (s *Session) EstablishedAt() time.Time  { return s.establishedAt }

// Send queues a payload. It fails when the session is closed or the queue
// stays full until ctx is done.
func (s *Session) Send(ctx context.Context, payload []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.drained {
		return errors.ErrSessionClosed
	}
	select {
	case <-s.done:
		return errors.ErrSessionClosed
	default:
	}
	select {
	case s.send <- payload:
		return nil
	case <-s.done:
		return errors.ErrSessionClosed
	case <-ctx.Done():
		return errors.ErrSessionTimeout
	}
}

// Close is idempotent and safe to call while WritePump is writing:
// gorilla allows WriteControl and Close next to a concurrent writer.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		closeFrame := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, closeFrame, time.Now().Add(writeWait))
		err = s.conn.Close()
	})
	return err
}

// WritePump owns every data write to the connection and pings the peer periodically.
// On exit the session is closed and whatever is still queued goes to onDrop.
func (s *Session) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	var failed []byte
	defer func() {
		ticker.Stop()
		_ = s.Close()
		s.drain(failed)
	}()

	for {
		select {
		case <-s.done:
			return
		case message := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.log.Debug("Write failed", "error", err)
				failed = message
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (s *Session) drain(failed []byte) {
	s.mu.Lock()
	s.drained = true
	s.mu.Unlock()

	var dropped [][]byte
	if failed != nil {
		dropped = append(dropped, failed)
	}
	for {
		select {
		case message := <-s.send:
			dropped = append(dropped, message)
			continue
		default:
		}
		break
	}
	if len(dropped) == 0 {
		return
	}
	s.log.Debug("Frames not written", "count", len(dropped))
	if s.onDrop == nil {
		return
	}
	for _, message := range dropped {
		s.onDrop(message)
	}
}
