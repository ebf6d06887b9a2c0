package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"social-chat/domain/chat"
	"social-chat/errors"
	"social-chat/mocks"
)

func newRoomService(t *testing.T) (*ChatRoomService, stores) {
	s := newStores(t)
	return NewChatRoomService(testLogger(), s.rooms, newStepClock().Now), s
}

func TestFindOrCreateDirectRoom_ReusesRoom(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	service, _ := newRoomService(t)

	// Given a room created by user 2
	first, err := service.FindOrCreateDirectRoom(ctx, 1, 2, 2)
	req.NoError(err)
	req.Equal(chat.DirectRoom, first.Kind)
	req.Len(first.Participants, 2)
	req.False(first.Participant(1).Deleted)
	req.False(first.Participant(2).Deleted)

	// When user 1 asks with the pair reversed
	second, err := service.FindOrCreateDirectRoom(ctx, 2, 1, 1)

	// Then the same room comes back
	req.NoError(err)
	req.Equal(first.ID, second.ID)
}

func TestFindOrCreateDirectRoom_InvalidPair(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	service, _ := newRoomService(t)

	_, err := service.FindOrCreateDirectRoom(ctx, 1, 1, 1)
	req.ErrorIs(err, errors.ErrInvalidState)

	_, err = service.FindOrCreateDirectRoom(ctx, 0, 2, 2)
	req.ErrorIs(err, errors.ErrInvalidState)

	_, err = service.FindOrCreateDirectRoom(ctx, 1, 2, 3)
	req.ErrorIs(err, errors.ErrInvalidState)
}

func TestFindOrCreateDirectRoom_RecoversHiddenRequester(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	service, s := newRoomService(t)

	room, err := service.FindOrCreateDirectRoom(ctx, 1, 2, 1)
	req.NoError(err)
	before := room.Participant(1).JoinedAt

	// Given user 1 hid the room
	req.NoError(service.HideDirectRoom(ctx, room.ID, 1))
	visible, err := service.ListVisibleRooms(ctx, 1)
	req.NoError(err)
	req.Empty(visible)

	// When user 2 asks, nothing changes for user 1
	same, err := service.FindOrCreateDirectRoom(ctx, 1, 2, 2)
	req.NoError(err)
	req.Equal(room.ID, same.ID)
	req.True(same.Participant(1).Deleted)

	// When user 1 asks, the row is active again with a later joinedAt
	recovered, err := service.FindOrCreateDirectRoom(ctx, 1, 2, 1)
	req.NoError(err)
	req.Equal(room.ID, recovered.ID)
	req.False(recovered.Participant(1).Deleted)
	req.True(recovered.Participant(1).JoinedAt.After(before))
	req.Equal(room.Participant(2).JoinedAt, recovered.Participant(2).JoinedAt)

	stored, err := s.rooms.GetRoom(ctx, room.ID)
	req.NoError(err)
	req.Equal(recovered.Participant(1).JoinedAt, stored.Participant(1).JoinedAt)
}

func TestFindOrCreateDirectRoom_AbandonedRoomIsReplaced(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	service, s := newRoomService(t)

	old, err := service.FindOrCreateDirectRoom(ctx, 1, 2, 1)
	req.NoError(err)

	// Given both users hid the room
	req.NoError(service.HideDirectRoom(ctx, old.ID, 1))
	req.NoError(service.HideDirectRoom(ctx, old.ID, 2))

	// When one of them asks again
	fresh, err := service.FindOrCreateDirectRoom(ctx, 1, 2, 2)

	// Then a new room is created and the old one is kept
	req.NoError(err)
	req.NotEqual(old.ID, fresh.ID)
	req.ElementsMatch([]chat.UserID{1, 2}, fresh.ActiveUserIDs())

	pair, _ := chat.NewPair(1, 2)
	rooms, err := s.rooms.FindDirectRooms(ctx, pair)
	req.NoError(err)
	req.Len(rooms, 2)
	reusable := 0
	for _, r := range rooms {
		if !r.Abandoned() {
			reusable++
		}
	}
	req.Equal(1, reusable)

	// And the next call keeps returning the fresh room
	again, err := service.FindOrCreateDirectRoom(ctx, 2, 1, 1)
	req.NoError(err)
	req.Equal(fresh.ID, again.ID)
}

func TestFindOrCreateDirectRoom_PicksLowestReusableRoom(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	store := mocks.NewMockRoomStore(ctrl)
	service := NewChatRoomService(testLogger(), store, newStepClock().Now)

	pair, _ := chat.NewPair(1, 2)
	abandoned := chat.Room{ID: 3, Kind: chat.DirectRoom, Participants: []chat.Participant{{UserID: 1, Deleted: true}, {UserID: 2, Deleted: true}}}
	first := chat.Room{ID: 5, Kind: chat.DirectRoom, Participants: []chat.Participant{{UserID: 1}, {UserID: 2}}}
	duplicate := chat.Room{ID: 8, Kind: chat.DirectRoom, Participants: []chat.Participant{{UserID: 1}, {UserID: 2}}}

	// Given a rare duplicate left by a concurrent creation
	store.EXPECT().FindDirectRooms(gomock.Any(), pair).Return([]chat.Room{abandoned, first, duplicate}, nil)

	room, err := service.FindOrCreateDirectRoom(ctx, 2, 1, 1)
	req.NoError(err)
	req.Equal(chat.RoomID(5), room.ID)
}

func TestHideDirectRoom(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	service, s := newRoomService(t)

	room, err := service.FindOrCreateDirectRoom(ctx, 1, 2, 1)
	req.NoError(err)

	// Hiding twice is a no-op and never touches the counterpart
	req.NoError(service.HideDirectRoom(ctx, room.ID, 1))
	req.NoError(service.HideDirectRoom(ctx, room.ID, 1))
	stored, err := s.rooms.GetRoom(ctx, room.ID)
	req.NoError(err)
	req.True(stored.Participant(1).Deleted)
	req.False(stored.Participant(2).Deleted)

	req.ErrorIs(service.HideDirectRoom(ctx, room.ID, 9), errors.ErrNotAParticipant)
	req.ErrorIs(service.HideDirectRoom(ctx, room.ID+100, 1), errors.ErrRoomNotFound)

	group, err := service.CreateGroupRoom(ctx, "team", []chat.UserID{1, 2})
	req.NoError(err)
	err = service.HideDirectRoom(ctx, group.ID, 1)
	req.ErrorIs(err, errors.ErrInvalidRoomKind)
	req.ErrorIs(err, errors.ErrInvalidState)
}

func TestGroupRoomLifecycle(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	service, _ := newRoomService(t)

	_, err := service.CreateGroupRoom(ctx, "empty", nil)
	req.ErrorIs(err, errors.ErrInvalidRequest)

	// Given a group with duplicated members
	group, err := service.CreateGroupRoom(ctx, "team", []chat.UserID{1, 2, 2})
	req.NoError(err)
	req.Len(group.Participants, 2)

	// When inviting
	group, err = service.InviteToGroupRoom(ctx, group.ID, 3)
	req.NoError(err)
	req.Len(group.Participants, 3)
	req.True(group.Participant(3).JoinedAt.After(group.Participant(1).JoinedAt))

	_, err = service.InviteToGroupRoom(ctx, group.ID, 2)
	req.ErrorIs(err, errors.ErrAlreadyMember)
	req.ErrorIs(err, errors.ErrInvalidState)

	// When members leave, the others stay
	req.NoError(service.LeaveRoom(ctx, group.ID, 1))
	req.NoError(service.LeaveRoom(ctx, group.ID, 3))
	req.ErrorIs(service.LeaveRoom(ctx, group.ID, 1), errors.ErrNotAParticipant)

	rooms, err := service.ListVisibleRooms(ctx, 2)
	req.NoError(err)
	req.Len(rooms, 1)
	req.Len(rooms[0].Participants, 1)

	rooms, err = service.ListVisibleRooms(ctx, 1)
	req.NoError(err)
	req.Empty(rooms)
}

func TestDirectRoomCannotBeLeftOrInvited(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	service, _ := newRoomService(t)

	room, err := service.FindOrCreateDirectRoom(ctx, 1, 2, 1)
	req.NoError(err)

	err = service.LeaveRoom(ctx, room.ID, 1)
	req.ErrorIs(err, errors.ErrUnsupportedForDirectRoom)
	req.ErrorIs(err, errors.ErrInvalidState)

	_, err = service.InviteToGroupRoom(ctx, room.ID, 3)
	req.ErrorIs(err, errors.ErrInvalidRoomKind)
}

func TestCreateGroupRoomWithCreator(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	service, _ := newRoomService(t)

	room, err := service.CreateGroupRoomWithCreator(ctx, chat.CreateGroupCommand{Name: "book club", MemberIDs: []chat.UserID{2, 1, 3}, CreatorID: 1})
	req.NoError(err)
	req.ElementsMatch([]chat.UserID{1, 2, 3}, room.ActiveUserIDs())

	_, err = service.CreateGroupRoomWithCreator(ctx, chat.CreateGroupCommand{Name: "", CreatorID: 1})
	req.ErrorIs(err, errors.ErrInvalidRequest)
}

func TestInviteToGroupRoomAs(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	service, _ := newRoomService(t)

	room, err := service.CreateGroupRoom(ctx, "team", []chat.UserID{1})
	req.NoError(err)

	_, err = service.InviteToGroupRoomAs(ctx, room.ID, 3, 2)
	req.ErrorIs(err, errors.ErrNotAParticipant)

	room, err = service.InviteToGroupRoomAs(ctx, room.ID, 2, 1)
	req.NoError(err)
	req.NotNil(room.Participant(2))
}

func TestChatRoomService_StoreFailure(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockRoomStore(ctrl)
	service := NewChatRoomService(testLogger(), store, nil)

	store.EXPECT().FindDirectRooms(gomock.Any(), gomock.Any()).Return(nil, errors.Transient(fmt.Errorf("connection refused")))

	_, err := service.FindOrCreateDirectRoom(context.Background(), 1, 2, 1)
	req.True(errors.IsTransient(err))
}
