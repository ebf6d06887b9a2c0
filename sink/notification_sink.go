package sink

import (
	"context"
	"log/slog"
	"time"

	"social-chat/contract"
	"social-chat/domain/chat"
	"social-chat/errors"
)

// NotificationSink is the durable fallback: a payload nobody took live
// becomes an unread notification of its receiver.
type NotificationSink struct {
	repository contract.NotificationStore
	log        *slog.Logger
	now        func() time.Time
}

func NewNotificationSink(repository contract.NotificationStore, log *slog.Logger, now func() time.Time) NotificationSink {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return NotificationSink{repository: repository, log: log, now: now}
}

func (s NotificationSink) Persist(ctx context.Context, receiver chat.UserID, payload []byte) error {
	envelope, err := chat.DecodeEnvelope(payload)
	if err != nil {
		s.log.Warn("Dropping undecodable fallback payload", "receiver_id", receiver, "error", err)
		return nil
	}
	// server notices only make sense on a live connection
	if envelope.Type == chat.SystemEnvelope {
		return nil
	}
	notification, err := chat.NotificationFor(receiver, envelope, s.now())
	if err != nil {
		s.log.Warn("Dropping fallback payload", "receiver_id", receiver, "type", envelope.Type, "error", err)
		return nil
	}
	saved, err := s.repository.Save(ctx, notification)
	if err != nil {
		return errors.Transient(err)
	}
	s.log.Debug("Notification stored", "notification_id", saved.ID, "receiver_id", receiver, "type", saved.Type)
	return nil
}
