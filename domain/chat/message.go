package chat

import (
	"time"

	"github.com/google/uuid"
)

// MessageKind tags a message. Ingestion only produces Talk; Enter and Leave are
// accepted on the wire for clients that still send them.
type MessageKind string

const (
	Talk  MessageKind = "TALK"
	Enter MessageKind = "ENTER"
	Leave MessageKind = "LEAVE"
)

// Message represents an immutable chat event.
// SenderNickname is captured at write time so renames do not rewrite history.
type Message struct {
	ID             uuid.UUID   `json:"id"`
	RoomID         RoomID      `json:"roomId"`
	SenderID       UserID      `json:"senderId"`
	SenderNickname string      `json:"senderNickname"`
	Content        string      `json:"content"`
	Kind           MessageKind `json:"kind"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// Principal is the authenticated identity attached to a connection.
type Principal struct {
	UserID   UserID
	Nickname string
}
