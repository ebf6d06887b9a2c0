package services

import (
	"context"
	"fmt"
	"log/slog"

	"social-chat/contract"
	"social-chat/domain/chat"
	"social-chat/errors"
	"social-chat/infrastructure/bus"
	"social-chat/observability"
)

// DeliveryService consumes the chat topic: persist, then broadcast on the room channel.
// A redelivered record is persisted once but always broadcast again, since the
// previous attempt may have failed between the two steps.
type DeliveryService struct {
	log        *slog.Logger
	messages   contract.MessageStore
	bus        contract.BroadcastBus
	monitoring *observability.MonitoringManager
}

func NewDeliveryService(log *slog.Logger, messages contract.MessageStore, bus contract.BroadcastBus, monitoring *observability.MonitoringManager) *DeliveryService {
	return &DeliveryService{log: log, messages: messages, bus: bus, monitoring: monitoring}
}

func (s *DeliveryService) Handle(ctx context.Context, record contract.Record) error {
	envelope, err := chat.DecodeEnvelope(record.Payload)
	if err != nil {
		return err
	}
	message, err := envelope.Message()
	if err != nil {
		return err
	}

	inserted, err := s.messages.Save(ctx, message)
	if err != nil {
		return errors.Transient(err)
	}
	if inserted {
		s.monitoring.IncrPersisted()
	} else {
		s.monitoring.IncrDuplicates()
		s.log.Debug("Duplicate message skipped", "message_id", message.ID, "offset", record.Offset)
	}

	if err := s.bus.Publish(ctx, bus.RoomChannel(message.RoomID), record.Payload); err != nil {
		return errors.Transient(err)
	}
	s.monitoring.IncrBroadcast()
	return nil
}

// NotificationRelay consumes the notifications topic and forwards each envelope
// to its receiver's channel. Nothing is persisted on this path.
type NotificationRelay struct {
	log        *slog.Logger
	bus        contract.BroadcastBus
	monitoring *observability.MonitoringManager
}

func NewNotificationRelay(log *slog.Logger, bus contract.BroadcastBus, monitoring *observability.MonitoringManager) *NotificationRelay {
	return &NotificationRelay{log: log, bus: bus, monitoring: monitoring}
}

func (r *NotificationRelay) Handle(ctx context.Context, record contract.Record) error {
	envelope, err := chat.DecodeEnvelope(record.Payload)
	if err != nil {
		return err
	}
	if envelope.ReceiverID <= 0 {
		return fmt.Errorf("%w: %s envelope without receiver", errors.ErrPoisonMessage, envelope.Type)
	}
	if err := r.bus.Publish(ctx, bus.UserChannel(envelope.ReceiverID), record.Payload); err != nil {
		return errors.Transient(err)
	}
	r.monitoring.IncrBroadcast()
	return nil
}
