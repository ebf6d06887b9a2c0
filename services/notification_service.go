package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"social-chat/contract"
	"social-chat/domain/chat"
	"social-chat/errors"
	"social-chat/infrastructure/broker"
	"social-chat/observability"
)

type INotificationService interface {
	Publish(ctx context.Context, envelope chat.Envelope) error
	ListUnread(ctx context.Context, receiver chat.UserID) ([]chat.Notification, error)
	MarkRead(ctx context.Context, receiver chat.UserID, id int64) error
	MarkAllRead(ctx context.Context, receiver chat.UserID) (int, error)
}

// NotificationService is the producer entry point for post, follow and like events,
// plus the inbox of notifications kept while their receiver was offline.
type NotificationService struct {
	log           *slog.Logger
	broker        contract.Broker
	notifications contract.NotificationStore
	monitoring    *observability.MonitoringManager
}

func NewNotificationService(log *slog.Logger, broker contract.Broker, notifications contract.NotificationStore, monitoring *observability.MonitoringManager) *NotificationService {
	return &NotificationService{log: log, broker: broker, notifications: notifications, monitoring: monitoring}
}

// Publish appends the envelope to the notifications topic, keyed by receiver.
func (s *NotificationService) Publish(ctx context.Context, envelope chat.Envelope) error {
	if envelope.ReceiverID <= 0 || envelope.Type == "" {
		return fmt.Errorf("%w: notification needs a type and a receiver", errors.ErrInvalidRequest)
	}
	if envelope.Type == chat.ChatEnvelope {
		return fmt.Errorf("%w: chat messages go through the message service", errors.ErrInvalidRequest)
	}
	payload, err := envelope.Marshal()
	if err != nil {
		return err
	}
	key := strconv.FormatInt(int64(envelope.ReceiverID), 10)
	if err := s.broker.Publish(ctx, broker.TopicNotifications, key, payload); err != nil {
		return errors.Transient(err)
	}
	s.monitoring.IncrPublished()
	return nil
}

func (s *NotificationService) ListUnread(ctx context.Context, receiver chat.UserID) ([]chat.Notification, error) {
	return s.notifications.ListUnread(ctx, receiver)
}

// MarkRead flags one notification of the receiver.
func (s *NotificationService) MarkRead(ctx context.Context, receiver chat.UserID, id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: notification id must be positive", errors.ErrInvalidRequest)
	}
	return s.notifications.MarkRead(ctx, receiver, id)
}

func (s *NotificationService) MarkAllRead(ctx context.Context, receiver chat.UserID) (int, error) {
	count, err := s.notifications.MarkAllRead(ctx, receiver)
	if err != nil {
		return 0, err
	}
	s.log.Debug("Notifications marked as read", "receiver_id", receiver, "count", count)
	return count, nil
}
