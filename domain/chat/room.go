// Package chat contains the core concepts of the chat system: rooms, participants,
// messages and the envelopes that travel through the delivery pipeline.
// No runtime, network, or storage logic should be added here.
package chat

import (
	"fmt"
	"time"

	"social-chat/errors"
)

type (
	RoomID        int64
	UserID        int64
	ParticipantID int64
)

type RoomKind string

const (
	DirectRoom RoomKind = "DIRECT"
	GroupRoom  RoomKind = "GROUP"
)

func (k RoomKind) Valid() bool {
	return k == DirectRoom || k == GroupRoom
}

// Room is a conversation container. Participants reference the room by id only.
// A DIRECT room always keeps its two participant rows; rooms are never deleted.
type Room struct {
	ID           RoomID
	Kind         RoomKind
	Name         string
	CreatedAt    time.Time
	Participants []Participant
}

// NewDirectRoom builds an unsaved DIRECT room for a sorted pair.
func NewDirectRoom(pair Pair, now time.Time) Room {
	return Room{
		Kind:      DirectRoom,
		CreatedAt: now,
		Participants: []Participant{
			{UserID: pair.Low, JoinedAt: now},
			{UserID: pair.High, JoinedAt: now},
		},
	}
}

// NewGroupRoom builds an unsaved GROUP room. Duplicate member ids are collapsed.
func NewGroupRoom(name string, members []UserID, now time.Time) (Room, error) {
	room := Room{Kind: GroupRoom, Name: name, CreatedAt: now}
	seen := make(map[UserID]struct{}, len(members))
	for _, m := range members {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		room.Participants = append(room.Participants, Participant{UserID: m, JoinedAt: now})
	}
	if len(room.Participants) == 0 {
		return Room{}, fmt.Errorf("group room needs at least one member: %w", errors.ErrInvalidRequest)
	}
	return room, nil
}

// Participant returns the row of a user, or nil when the user has none.
func (r *Room) Participant(user UserID) *Participant {
	for i := range r.Participants {
		if r.Participants[i].UserID == user {
			return &r.Participants[i]
		}
	}
	return nil
}

// Abandoned reports whether every participant has hidden the room.
func (r *Room) Abandoned() bool {
	for _, p := range r.Participants {
		if !p.Deleted {
			return false
		}
	}
	return true
}

// UserIDs lists every participant, hidden rows included, in row order.
func (r *Room) UserIDs() []UserID {
	ids := make([]UserID, 0, len(r.Participants))
	for _, p := range r.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

// ActiveUserIDs lists users whose row is ACTIVE, in row order.
func (r *Room) ActiveUserIDs() []UserID {
	var ids []UserID
	for _, p := range r.Participants {
		if !p.Deleted {
			ids = append(ids, p.UserID)
		}
	}
	return ids
}

// Hide soft-deletes the user's row of a DIRECT room. Hiding twice is a no-op.
func (r *Room) Hide(user UserID) error {
	if r.Kind != DirectRoom {
		return errors.ErrInvalidRoomKind
	}
	p := r.Participant(user)
	if p == nil {
		return errors.ErrNotAParticipant
	}
	p.Deleted = true
	return nil
}

// Recover re-activates a hidden row and moves its visibility boundary forward.
// It reports whether anything changed.
func (r *Room) Recover(user UserID, now time.Time) (bool, error) {
	p := r.Participant(user)
	if p == nil {
		return false, errors.ErrNotAParticipant
	}
	if !p.Deleted {
		return false, nil
	}
	p.Deleted = false
	p.JoinedAt = nextJoinedAt(p.JoinedAt, now)
	return true, nil
}

// Invite appends a fresh ACTIVE row to a GROUP room.
func (r *Room) Invite(user UserID, now time.Time) error {
	if r.Kind != GroupRoom {
		return errors.ErrInvalidRoomKind
	}
	if r.Participant(user) != nil {
		return errors.ErrAlreadyMember
	}
	r.Participants = append(r.Participants, Participant{RoomID: r.ID, UserID: user, JoinedAt: now})
	return nil
}

// Leave removes the user's row from a GROUP room. DIRECT rooms can only be hidden.
func (r *Room) Leave(user UserID) error {
	if r.Kind == DirectRoom {
		return errors.ErrUnsupportedForDirectRoom
	}
	for i, p := range r.Participants {
		if p.UserID == user {
			r.Participants = append(r.Participants[:i], r.Participants[i+1:]...)
			return nil
		}
	}
	return errors.ErrNotAParticipant
}

// nextJoinedAt keeps joinedAt strictly increasing even when the clock has not moved.
// The step is a microsecond, the finest resolution every store keeps.
func nextJoinedAt(previous, now time.Time) time.Time {
	if now.After(previous) {
		return now
	}
	return previous.Add(time.Microsecond)
}

// Pair is an unordered pair of users stored in ascending order.
type Pair struct {
	Low  UserID
	High UserID
}

// NewPair canonicalizes two distinct user ids.
func NewPair(a, b UserID) (Pair, error) {
	if a <= 0 || b <= 0 || a == b {
		return Pair{}, fmt.Errorf("direct room needs two distinct users (%d, %d): %w", a, b, errors.ErrInvalidState)
	}
	if a > b {
		a, b = b, a
	}
	return Pair{Low: a, High: b}, nil
}

func (p Pair) Contains(user UserID) bool {
	return p.Low == user || p.High == user
}
