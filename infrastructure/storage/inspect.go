package storage

import (
	"fmt"
	"strings"

	"github.com/mama165/sdk-go/database"
)

// InspectMapper renders stored records for the Badger debug inspector.
// Index keys carry no value and keep the default rendering.
func InspectMapper(key string, val []byte) database.InspectRow {
	row := database.DefaultMapper(key, val)

	switch {
	case strings.HasPrefix(key, roomPrefix):
		r, err := decode[roomRecord](val)
		if err != nil {
			row.Detail = "Error: decode failed"
			return row
		}
		row.Type = "ROOM"
		active := 0
		for _, p := range r.Participants {
			if !p.Deleted {
				active++
			}
		}
		row.Detail = fmt.Sprintf("%s %q %d/%d active", r.Kind, r.Name, active, len(r.Participants))
	case strings.HasPrefix(key, "msg:"):
		m, err := decode[messageRecord](val)
		if err != nil {
			row.Detail = "Error: decode failed"
			return row
		}
		row.Type = "MESSAGE"
		row.Detail = fmt.Sprintf("%s: %s", m.SenderNickname, m.Content)
	case strings.HasPrefix(key, "notif:"):
		n, err := decode[notificationRecord](val)
		if err != nil {
			row.Detail = "Error: decode failed"
			return row
		}
		row.Type = "NOTIFICATION"
		row.Detail = fmt.Sprintf("%s for %d read=%t", n.Type, n.ReceiverID, n.Read)
	}
	return row
}
