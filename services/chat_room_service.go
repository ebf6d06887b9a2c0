package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"social-chat/auth"
	"social-chat/contract"
	"social-chat/domain/chat"
	"social-chat/errors"
)

type IChatRoomService interface {
	FindOrCreateDirectRoom(ctx context.Context, userA, userB, requester chat.UserID) (chat.Room, error)
	HideDirectRoom(ctx context.Context, roomID chat.RoomID, user chat.UserID) error
	CreateGroupRoom(ctx context.Context, name string, memberIDs []chat.UserID) (chat.Room, error)
	CreateGroupRoomWithCreator(ctx context.Context, cmd chat.CreateGroupCommand) (chat.Room, error)
	InviteToGroupRoom(ctx context.Context, roomID chat.RoomID, invitee chat.UserID) (chat.Room, error)
	InviteToGroupRoomAs(ctx context.Context, roomID chat.RoomID, invitee, requester chat.UserID) (chat.Room, error)
	LeaveRoom(ctx context.Context, roomID chat.RoomID, user chat.UserID) error
	ListVisibleRooms(ctx context.Context, user chat.UserID) ([]chat.Room, error)
}

// ChatRoomService drives the room lifecycle. Every mutation goes through
// RoomStore.UpdateRoom so it is applied inside a single room transaction.
type ChatRoomService struct {
	log   *slog.Logger
	rooms contract.RoomStore
	now   func() time.Time
}

func NewChatRoomService(log *slog.Logger, rooms contract.RoomStore, now func() time.Time) *ChatRoomService {
	if now == nil {
		now = Now
	}
	return &ChatRoomService{log: log, rooms: rooms, now: now}
}

// Now is the server clock. Microsecond precision is what every store keeps.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func (s *ChatRoomService) FindOrCreateDirectRoom(ctx context.Context, userA, userB, requester chat.UserID) (chat.Room, error) {
	pair, err := chat.NewPair(userA, userB)
	if err != nil {
		return chat.Room{}, err
	}
	if !pair.Contains(requester) {
		return chat.Room{}, fmt.Errorf("requester %d is not part of the pair: %w", requester, errors.ErrInvalidState)
	}

	candidates, err := s.rooms.FindDirectRooms(ctx, pair)
	if err != nil {
		return chat.Room{}, err
	}
	reusable, found := lo.Find(candidates, func(r chat.Room) bool { return !r.Abandoned() })
	if !found {
		room, err := s.rooms.CreateRoom(ctx, chat.NewDirectRoom(pair, s.now()))
		if err != nil {
			return chat.Room{}, err
		}
		s.log.Debug("Direct room created", "room_id", room.ID, "low", pair.Low, "high", pair.High)
		return room, nil
	}

	if p := reusable.Participant(requester); p == nil || !p.Deleted {
		return reusable, nil
	}
	room, err := s.rooms.UpdateRoom(ctx, reusable.ID, func(r *chat.Room) error {
		_, err := r.Recover(requester, s.now())
		return err
	})
	if err != nil {
		return chat.Room{}, err
	}
	s.log.Debug("Direct room recovered", "room_id", room.ID, "user_id", requester)
	return room, nil
}

func (s *ChatRoomService) HideDirectRoom(ctx context.Context, roomID chat.RoomID, user chat.UserID) error {
	_, err := s.rooms.UpdateRoom(ctx, roomID, func(r *chat.Room) error {
		return r.Hide(user)
	})
	return err
}

func (s *ChatRoomService) CreateGroupRoom(ctx context.Context, name string, memberIDs []chat.UserID) (chat.Room, error) {
	room, err := chat.NewGroupRoom(name, memberIDs, s.now())
	if err != nil {
		return chat.Room{}, err
	}
	return s.rooms.CreateRoom(ctx, room)
}

// CreateGroupRoomWithCreator merges the creator into the members before creating the room.
func (s *ChatRoomService) CreateGroupRoomWithCreator(ctx context.Context, cmd chat.CreateGroupCommand) (chat.Room, error) {
	if err := auth.ValidateCreateGroup(cmd); err != nil {
		return chat.Room{}, err
	}
	members := lo.Uniq(append([]chat.UserID{cmd.CreatorID}, cmd.MemberIDs...))
	return s.CreateGroupRoom(ctx, cmd.Name, members)
}

func (s *ChatRoomService) InviteToGroupRoom(ctx context.Context, roomID chat.RoomID, invitee chat.UserID) (chat.Room, error) {
	return s.rooms.UpdateRoom(ctx, roomID, func(r *chat.Room) error {
		return r.Invite(invitee, s.now())
	})
}

func (s *ChatRoomService) InviteToGroupRoomAs(ctx context.Context, roomID chat.RoomID, invitee, requester chat.UserID) (chat.Room, error) {
	return s.rooms.UpdateRoom(ctx, roomID, func(r *chat.Room) error {
		if r.Participant(requester) == nil {
			return errors.ErrNotAParticipant
		}
		return r.Invite(invitee, s.now())
	})
}

func (s *ChatRoomService) LeaveRoom(ctx context.Context, roomID chat.RoomID, user chat.UserID) error {
	_, err := s.rooms.UpdateRoom(ctx, roomID, func(r *chat.Room) error {
		return r.Leave(user)
	})
	return err
}

func (s *ChatRoomService) ListVisibleRooms(ctx context.Context, user chat.UserID) ([]chat.Room, error) {
	return s.rooms.ListVisibleRooms(ctx, user)
}
