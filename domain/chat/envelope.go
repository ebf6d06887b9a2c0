package chat

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"social-chat/errors"
)

type EnvelopeType string

const (
	ChatEnvelope    EnvelopeType = "CHAT"
	DMEnvelope      EnvelopeType = "DM"
	LikeEnvelope    EnvelopeType = "LIKE"
	CommentEnvelope EnvelopeType = "COMMENT"
	FollowEnvelope  EnvelopeType = "FOLLOW"
	SystemEnvelope  EnvelopeType = "SYSTEM"
)

// Envelope is the opaque payload every producer pushes through the pipeline.
// ReceiverID is zero for room-scoped chat traffic.
type Envelope struct {
	Type           EnvelopeType    `json:"type"`
	ReceiverID     UserID          `json:"receiverId,omitempty"`
	SenderID       UserID          `json:"senderId"`
	SenderNickname string          `json:"senderNickname"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// NewChatEnvelope wraps a message for the chat topic.
func NewChatEnvelope(m Message) (Envelope, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Type:           ChatEnvelope,
		SenderID:       m.SenderID,
		SenderNickname: m.SenderNickname,
		Data:           data,
	}, nil
}

// NewSystemEnvelope builds a server notice addressed to one user.
func NewSystemEnvelope(receiver UserID, text string) Envelope {
	data, _ := json.Marshal(map[string]string{"content": text})
	return Envelope{Type: SystemEnvelope, ReceiverID: receiver, SenderNickname: "SYSTEM", Data: data}
}

func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEnvelope parses a payload. Undecodable bytes are a poison message.
func DecodeEnvelope(payload []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(payload, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", errors.ErrPoisonMessage, err)
	}
	if e.Type == "" {
		return Envelope{}, fmt.Errorf("%w: envelope without type", errors.ErrPoisonMessage)
	}
	return e, nil
}

// Message extracts the chat message carried by a CHAT envelope.
func (e Envelope) Message() (Message, error) {
	if e.Type != ChatEnvelope {
		return Message{}, fmt.Errorf("%w: %s envelope carries no message", errors.ErrPoisonMessage, e.Type)
	}
	var m Message
	if err := json.Unmarshal(e.Data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", errors.ErrPoisonMessage, err)
	}
	if m.ID == uuid.Nil || m.RoomID <= 0 {
		return Message{}, fmt.Errorf("%w: message without id or room", errors.ErrPoisonMessage)
	}
	return m, nil
}

// Notification is the durable record written when live delivery was impossible.
type Notification struct {
	ID             int64           `json:"id"`
	ReceiverID     UserID          `json:"receiverId"`
	SenderID       UserID          `json:"senderId"`
	SenderNickname string          `json:"senderNickname"`
	Type           EnvelopeType    `json:"type"`
	Data           json.RawMessage `json:"data,omitempty"`
	Read           bool            `json:"read"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// NotificationFor converts an envelope into the offline record of one receiver.
// Chat envelopes are stored as DM notifications carrying the room and content.
func NotificationFor(receiver UserID, e Envelope, now time.Time) (Notification, error) {
	n := Notification{
		ReceiverID:     receiver,
		SenderID:       e.SenderID,
		SenderNickname: e.SenderNickname,
		Type:           e.Type,
		Data:           e.Data,
		CreatedAt:      now,
	}
	if e.Type != ChatEnvelope {
		return n, nil
	}
	m, err := e.Message()
	if err != nil {
		return Notification{}, err
	}
	data, err := json.Marshal(map[string]any{
		"roomId":    m.RoomID,
		"messageId": m.ID,
		"content":   m.Content,
	})
	if err != nil {
		return Notification{}, err
	}
	n.Type = DMEnvelope
	n.Data = data
	return n, nil
}
