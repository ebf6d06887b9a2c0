// Package websocket exposes live sessions over gorilla websockets.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"social-chat/auth"
	"social-chat/contract"
	"social-chat/domain/chat"
	"social-chat/errors"
)

type MessageSender interface {
	Send(ctx context.Context, principal chat.Principal, cmd chat.SendMessageCommand) (chat.Message, error)
}

type Handler struct {
	log            *slog.Logger
	tokens         auth.TokenValidator
	registry       contract.SessionRegistry
	messages       MessageSender
	fallback       contract.Fallback
	upgrader       websocket.Upgrader
	sessionBuffer  int
	maxMessageSize int64
}

func NewHandler(log *slog.Logger, tokens auth.TokenValidator, registry contract.SessionRegistry, messages MessageSender, fallback contract.Fallback, sessionBuffer int, maxMessageSize int64) *Handler {
	return &Handler{
		log:      log,
		tokens:   tokens,
		registry: registry,
		messages: messages,
		fallback: fallback,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		sessionBuffer:  sessionBuffer,
		maxMessageSize: maxMessageSize,
	}
}

// ServeHTTP authenticates, upgrades, then serves the session until the peer leaves.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.Authenticate(r, h.tokens)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("Upgrade error", "error", err)
		return
	}

	session := NewSession(conn, principal, h.log, h.sessionBuffer, h.persistDropped(principal.UserID))
	h.onConnect(session)
	defer h.onDisconnect(session)

	go session.WritePump()
	h.readPump(r.Context(), session)
}

func (h *Handler) onConnect(session *Session) {
	h.registry.Register(session)
	h.log.Info("Session connected", "session_id", session.ID(), "user_id", session.UserID())
}

func (h *Handler) onDisconnect(session *Session) {
	h.registry.Unregister(session)
	_ = session.Close()
	h.log.Info("Session disconnected", "session_id", session.ID(), "user_id", session.UserID())
}

func (h *Handler) readPump(ctx context.Context, session *Session) {
	conn := session.conn
	conn.SetReadLimit(h.maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				session.log.Debug("Unexpected close", "error", err)
			}
			return
		}

		var cmd chat.SendMessageCommand
		if err := json.Unmarshal(frame, &cmd); err != nil {
			h.notify(ctx, session, "malformed message")
			continue
		}
		if _, err := h.messages.Send(ctx, session.Principal(), cmd); err != nil {
			if !errors.IsClientError(err) {
				session.log.Error("Send failed", "room_id", cmd.RoomID, "error", err)
				h.notify(ctx, session, "message could not be sent, retry later")
				continue
			}
			h.notify(ctx, session, err.Error())
		}
	}
}

// persistDropped hands frames the session accepted but never wrote to the fallback.
// The request context is gone by then, so each frame gets its own deadline.
func (h *Handler) persistDropped(user chat.UserID) func(payload []byte) {
	if h.fallback == nil {
		return nil
	}
	return func(payload []byte) {
		ctx, cancel := context.WithTimeout(context.Background(), dropPersistTimeout)
		defer cancel()
		if err := h.fallback.Persist(ctx, user, payload); err != nil {
			h.log.Error("Dropped frame lost", "user_id", user, "error", err)
		}
	}
}

// notify reports a problem to this session only, as a SYSTEM envelope.
func (h *Handler) notify(ctx context.Context, session *Session, text string) {
	payload, err := chat.NewSystemEnvelope(session.UserID(), text).Marshal()
	if err != nil {
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	if err := session.Send(sendCtx, payload); err != nil {
		session.log.Debug("System notice dropped", "error", err)
	}
}
