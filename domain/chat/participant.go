package chat

import "time"

type ParticipantState string

const (
	Active ParticipantState = "ACTIVE"
	Hidden ParticipantState = "HIDDEN"
)

// Participant is a user's membership row in a room.
// Deleted marks a hidden DIRECT room; JoinedAt is the visibility boundary for messages.
type Participant struct {
	ID       ParticipantID
	RoomID   RoomID
	UserID   UserID
	Deleted  bool
	JoinedAt time.Time
}

func (p Participant) State() ParticipantState {
	if p.Deleted {
		return Hidden
	}
	return Active
}

// CanSee reports whether a message created at the given time is visible to this row.
func (p Participant) CanSee(createdAt time.Time) bool {
	return createdAt.After(p.JoinedAt)
}
