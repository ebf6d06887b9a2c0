package storage

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"social-chat/domain/chat"
	"social-chat/errors"
)

// Values are CBOR encoded. Times are stored as unix nanoseconds and read back in UTC.

type roomRecord struct {
	ID           int64               `cbor:"1,keyasint"`
	Kind         string              `cbor:"2,keyasint"`
	Name         string              `cbor:"3,keyasint,omitempty"`
	CreatedAt    int64               `cbor:"4,keyasint"`
	Participants []participantRecord `cbor:"5,keyasint"`
}

type participantRecord struct {
	ID       int64 `cbor:"1,keyasint"`
	UserID   int64 `cbor:"2,keyasint"`
	Deleted  bool  `cbor:"3,keyasint"`
	JoinedAt int64 `cbor:"4,keyasint"`
}

type messageRecord struct {
	ID             string `cbor:"1,keyasint"`
	RoomID         int64  `cbor:"2,keyasint"`
	SenderID       int64  `cbor:"3,keyasint"`
	SenderNickname string `cbor:"4,keyasint"`
	Content        string `cbor:"5,keyasint"`
	Kind           string `cbor:"6,keyasint"`
	CreatedAt      int64  `cbor:"7,keyasint"`
}

type notificationRecord struct {
	ID             int64  `cbor:"1,keyasint"`
	ReceiverID     int64  `cbor:"2,keyasint"`
	SenderID       int64  `cbor:"3,keyasint"`
	SenderNickname string `cbor:"4,keyasint"`
	Type           string `cbor:"5,keyasint"`
	Data           []byte `cbor:"6,keyasint"`
	Read           bool   `cbor:"7,keyasint"`
	CreatedAt      int64  `cbor:"8,keyasint"`
}

func fromRoom(room chat.Room) roomRecord {
	r := roomRecord{
		ID:        int64(room.ID),
		Kind:      string(room.Kind),
		Name:      room.Name,
		CreatedAt: room.CreatedAt.UnixNano(),
	}
	for _, p := range room.Participants {
		r.Participants = append(r.Participants, participantRecord{
			ID:       int64(p.ID),
			UserID:   int64(p.UserID),
			Deleted:  p.Deleted,
			JoinedAt: p.JoinedAt.UnixNano(),
		})
	}
	return r
}

func toRoom(r roomRecord) chat.Room {
	room := chat.Room{
		ID:        chat.RoomID(r.ID),
		Kind:      chat.RoomKind(r.Kind),
		Name:      r.Name,
		CreatedAt: time.Unix(0, r.CreatedAt).UTC(),
	}
	for _, p := range r.Participants {
		room.Participants = append(room.Participants, chat.Participant{
			ID:       chat.ParticipantID(p.ID),
			RoomID:   room.ID,
			UserID:   chat.UserID(p.UserID),
			Deleted:  p.Deleted,
			JoinedAt: time.Unix(0, p.JoinedAt).UTC(),
		})
	}
	return room
}

func fromMessage(m chat.Message) messageRecord {
	return messageRecord{
		ID:             m.ID.String(),
		RoomID:         int64(m.RoomID),
		SenderID:       int64(m.SenderID),
		SenderNickname: m.SenderNickname,
		Content:        m.Content,
		Kind:           string(m.Kind),
		CreatedAt:      m.CreatedAt.UnixNano(),
	}
}

func toMessage(r messageRecord) (chat.Message, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return chat.Message{}, err
	}
	return chat.Message{
		ID:             id,
		RoomID:         chat.RoomID(r.RoomID),
		SenderID:       chat.UserID(r.SenderID),
		SenderNickname: r.SenderNickname,
		Content:        r.Content,
		Kind:           chat.MessageKind(r.Kind),
		CreatedAt:      time.Unix(0, r.CreatedAt).UTC(),
	}, nil
}

func fromNotification(n chat.Notification) notificationRecord {
	return notificationRecord{
		ID:             n.ID,
		ReceiverID:     int64(n.ReceiverID),
		SenderID:       int64(n.SenderID),
		SenderNickname: n.SenderNickname,
		Type:           string(n.Type),
		Data:           n.Data,
		Read:           n.Read,
		CreatedAt:      n.CreatedAt.UnixNano(),
	}
}

func toNotification(r notificationRecord) chat.Notification {
	return chat.Notification{
		ID:             r.ID,
		ReceiverID:     chat.UserID(r.ReceiverID),
		SenderID:       chat.UserID(r.SenderID),
		SenderNickname: r.SenderNickname,
		Type:           chat.EnvelopeType(r.Type),
		Data:           r.Data,
		Read:           r.Read,
		CreatedAt:      time.Unix(0, r.CreatedAt).UTC(),
	}
}

func encode(v any) ([]byte, error) {
	return cbor.Marshal(v)
}

func decode[T any](value []byte) (T, error) {
	var v T
	if err := cbor.Unmarshal(value, &v); err != nil {
		return v, fmt.Errorf("corrupted record: %w", err)
	}
	return v, nil
}

// wrapInfra classifies a storage failure. Domain errors coming out of a transaction pass through.
func wrapInfra(err error) error {
	if err == nil || errors.IsClientError(err) {
		return err
	}
	return errors.Transient(err)
}
