package chat

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"social-chat/errors"
)

func TestDecodeEnvelope_Poison(t *testing.T) {
	req := require.New(t)

	_, err := DecodeEnvelope([]byte("not json"))
	req.ErrorIs(err, errors.ErrPoisonMessage)
	_, err = DecodeEnvelope([]byte(`{"senderId":1}`))
	req.ErrorIs(err, errors.ErrPoisonMessage)

	_, err = Envelope{Type: FollowEnvelope}.Message()
	req.ErrorIs(err, errors.ErrPoisonMessage)
	_, err = Envelope{Type: ChatEnvelope, Data: json.RawMessage(`{"content":"x"}`)}.Message()
	req.ErrorIs(err, errors.ErrPoisonMessage)
}

func TestNotificationFor(t *testing.T) {
	req := require.New(t)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	message := Message{ID: uuid.New(), RoomID: 4, SenderID: 1, SenderNickname: "alice", Content: "hello", Kind: Talk, CreatedAt: now}

	// Given a chat envelope round-tripped through the wire
	envelope, err := NewChatEnvelope(message)
	req.NoError(err)
	payload, err := envelope.Marshal()
	req.NoError(err)
	decoded, err := DecodeEnvelope(payload)
	req.NoError(err)

	// When converted for an offline receiver
	n, err := NotificationFor(2, decoded, now)
	req.NoError(err)

	// Then it is stored as a DM carrying the room and content
	req.Equal(DMEnvelope, n.Type)
	req.Equal(UserID(2), n.ReceiverID)
	req.Equal("alice", n.SenderNickname)
	var data map[string]any
	req.NoError(json.Unmarshal(n.Data, &data))
	req.Equal("hello", data["content"])
	req.EqualValues(4, data["roomId"])
	req.Equal(message.ID.String(), data["messageId"])

	// And other envelopes keep their type and data
	follow, err := NotificationFor(2, Envelope{Type: FollowEnvelope, SenderID: 3, Data: json.RawMessage(`{"post":9}`)}, now)
	req.NoError(err)
	req.Equal(FollowEnvelope, follow.Type)
	req.JSONEq(`{"post":9}`, string(follow.Data))
}
