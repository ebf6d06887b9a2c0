package storage

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"social-chat/domain/chat"
)

func TestInspectMapper(t *testing.T) {
	req := require.New(t)
	now := time.Now()

	pair, err := chat.NewPair(1, 2)
	req.NoError(err)
	room := chat.NewDirectRoom(pair, now)
	room.Participants[0].Deleted = true
	value, err := encode(fromRoom(room))
	req.NoError(err)
	row := InspectMapper(string(roomKey(4)), value)
	req.Equal("ROOM", row.Type)
	req.Contains(row.Detail, "1/2 active")

	m := chat.Message{ID: uuid.New(), RoomID: 4, SenderNickname: "alice", Content: "hi", Kind: chat.Talk, CreatedAt: now}
	value, err = encode(fromMessage(m))
	req.NoError(err)
	row = InspectMapper(string(messageKey(m)), value)
	req.Equal("MESSAGE", row.Type)
	req.Equal("alice: hi", row.Detail)

	row = InspectMapper(string(roomKey(5)), []byte{0xff})
	req.Contains(row.Detail, "decode failed")
}
