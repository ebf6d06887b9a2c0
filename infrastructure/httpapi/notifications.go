// Package httpapi serves the notification inbox over plain HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"social-chat/auth"
	"social-chat/domain/chat"
	"social-chat/errors"
)

type Inbox interface {
	ListUnread(ctx context.Context, receiver chat.UserID) ([]chat.Notification, error)
	MarkRead(ctx context.Context, receiver chat.UserID, id int64) error
	MarkAllRead(ctx context.Context, receiver chat.UserID) (int, error)
}

// NotificationRoutes exposes the inbox of the authenticated user.
type NotificationRoutes struct {
	log    *slog.Logger
	tokens auth.TokenValidator
	inbox  Inbox
}

func NewNotificationRoutes(log *slog.Logger, tokens auth.TokenValidator, inbox Inbox) *NotificationRoutes {
	return &NotificationRoutes{log: log, tokens: tokens, inbox: inbox}
}

// Register mounts the routes behind the token middleware.
func (n *NotificationRoutes) Register(mux *http.ServeMux) {
	mux.Handle("GET /api/notifications", auth.Middleware(n.tokens, http.HandlerFunc(n.listUnread)))
	mux.Handle("POST /api/notifications/read-all", auth.Middleware(n.tokens, http.HandlerFunc(n.markAllRead)))
	mux.Handle("POST /api/notifications/{id}/read", auth.Middleware(n.tokens, http.HandlerFunc(n.markRead)))
}

func (n *NotificationRoutes) listUnread(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFrom(r.Context())
	unread, err := n.inbox.ListUnread(r.Context(), principal.UserID)
	if err != nil {
		n.log.Error("Unread notifications lookup failed", "user_id", principal.UserID, "error", err)
		http.Error(w, "notifications unavailable", http.StatusServiceUnavailable)
		return
	}
	if unread == nil {
		unread = []chat.Notification{}
	}
	WriteJSON(w, unread)
}

func (n *NotificationRoutes) markAllRead(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFrom(r.Context())
	count, err := n.inbox.MarkAllRead(r.Context(), principal.UserID)
	if err != nil {
		n.log.Error("Mark all read failed", "user_id", principal.UserID, "error", err)
		http.Error(w, "notifications unavailable", http.StatusServiceUnavailable)
		return
	}
	WriteJSON(w, map[string]int{"updated": count})
}

func (n *NotificationRoutes) markRead(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFrom(r.Context())
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid notification id", http.StatusBadRequest)
		return
	}
	err = n.inbox.MarkRead(r.Context(), principal.UserID, id)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, errors.ErrNotFound):
		http.Error(w, "notification not found", http.StatusNotFound)
	case errors.IsClientError(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		n.log.Error("Mark read failed", "user_id", principal.UserID, "notification_id", id, "error", err)
		http.Error(w, "notifications unavailable", http.StatusServiceUnavailable)
	}
}

func WriteJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
