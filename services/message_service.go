package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"social-chat/auth"
	"social-chat/contract"
	"social-chat/domain/chat"
	"social-chat/errors"
	"social-chat/infrastructure/broker"
	"social-chat/observability"
)

type IMessageService interface {
	Send(ctx context.Context, principal chat.Principal, cmd chat.SendMessageCommand) (chat.Message, error)
	ListVisibleMessages(ctx context.Context, cmd chat.GetMessagesCommand) ([]chat.Message, *string, error)
}

// MessageService is the ingestion side of the pipeline: it only returns once the
// broker has acknowledged the message.
type MessageService struct {
	log              *slog.Logger
	rooms            contract.RoomStore
	messages         contract.MessageStore
	broker           contract.Broker
	monitoring       *observability.MonitoringManager
	maxContentLength int
	publishTimeout   time.Duration
	now              func() time.Time
}

func NewMessageService(
	log *slog.Logger,
	rooms contract.RoomStore,
	messages contract.MessageStore,
	broker contract.Broker,
	monitoring *observability.MonitoringManager,
	maxContentLength int,
	publishTimeout time.Duration,
	now func() time.Time,
) *MessageService {
	if now == nil {
		now = Now
	}
	return &MessageService{
		log:              log,
		rooms:            rooms,
		messages:         messages,
		broker:           broker,
		monitoring:       monitoring,
		maxContentLength: maxContentLength,
		publishTimeout:   publishTimeout,
		now:              now,
	}
}

func (s *MessageService) Send(ctx context.Context, principal chat.Principal, cmd chat.SendMessageCommand) (chat.Message, error) {
	if err := auth.ValidateSendMessage(cmd, s.maxContentLength); err != nil {
		return chat.Message{}, err
	}
	room, err := s.rooms.GetRoom(ctx, cmd.RoomID)
	if err != nil {
		return chat.Message{}, err
	}
	sender := room.Participant(principal.UserID)
	if sender == nil {
		return chat.Message{}, fmt.Errorf("user %d in room %d: %w", principal.UserID, room.ID, errors.ErrNotAParticipant)
	}
	if sender.Deleted {
		return chat.Message{}, fmt.Errorf("user %d in room %d: %w", principal.UserID, room.ID, errors.ErrParticipantHidden)
	}

	message := chat.Message{
		ID:             uuid.New(),
		RoomID:         room.ID,
		SenderID:       principal.UserID,
		SenderNickname: principal.Nickname,
		Content:        cmd.Content,
		Kind:           chat.Talk,
		CreatedAt:      s.now(),
	}
	envelope, err := chat.NewChatEnvelope(message)
	if err != nil {
		return chat.Message{}, err
	}
	payload, err := envelope.Marshal()
	if err != nil {
		return chat.Message{}, err
	}

	publishCtx := ctx
	if s.publishTimeout > 0 {
		var cancel context.CancelFunc
		publishCtx, cancel = context.WithTimeout(ctx, s.publishTimeout)
		defer cancel()
	}
	key := strconv.FormatInt(int64(room.ID), 10)
	if err := s.broker.Publish(publishCtx, broker.TopicChat, key, payload); err != nil {
		return chat.Message{}, errors.Transient(err)
	}
	s.monitoring.IncrPublished()
	s.log.Debug("Message published", "message_id", message.ID, "room_id", room.ID, "sender_id", principal.UserID)
	return message, nil
}

// ListVisibleMessages returns the messages created after the user's current joinedAt.
func (s *MessageService) ListVisibleMessages(ctx context.Context, cmd chat.GetMessagesCommand) ([]chat.Message, *string, error) {
	room, err := s.rooms.GetRoom(ctx, cmd.RoomID)
	if err != nil {
		return nil, nil, err
	}
	p := room.Participant(cmd.UserID)
	if p == nil {
		return nil, nil, fmt.Errorf("user %d in room %d: %w", cmd.UserID, room.ID, errors.ErrNotAParticipant)
	}
	return s.messages.GetMessages(ctx, room.ID, p.JoinedAt, cmd.Cursor)
}
