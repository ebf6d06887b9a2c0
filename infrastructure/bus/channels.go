// Package bus carries payloads between processes hosting live sessions.
// Channels are dot separated so the same names work as Redis patterns and NATS subjects.
package bus

import (
	"fmt"
	"strconv"
	"strings"

	"social-chat/domain/chat"
	"social-chat/errors"
)

const (
	roomChannelPrefix = "chat.room."
	userChannelPrefix = "notification.user."

	RoomPattern = roomChannelPrefix + "*"
	UserPattern = userChannelPrefix + "*"
)

func RoomChannel(id chat.RoomID) string {
	return roomChannelPrefix + strconv.FormatInt(int64(id), 10)
}

func UserChannel(id chat.UserID) string {
	return userChannelPrefix + strconv.FormatInt(int64(id), 10)
}

// ParseRoomChannel returns the room of a "chat.room.{id}" channel.
func ParseRoomChannel(channel string) (chat.RoomID, bool) {
	id, ok := parseID(channel, roomChannelPrefix)
	return chat.RoomID(id), ok
}

// ParseUserChannel returns the user of a "notification.user.{id}" channel.
func ParseUserChannel(channel string) (chat.UserID, bool) {
	id, ok := parseID(channel, userChannelPrefix)
	return chat.UserID(id), ok
}

func parseID(channel, prefix string) (int64, bool) {
	if !strings.HasPrefix(channel, prefix) {
		return 0, false
	}
	id, err := strconv.ParseInt(channel[len(prefix):], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

var errBusClosed = errors.Transient(fmt.Errorf("bus closed"))
