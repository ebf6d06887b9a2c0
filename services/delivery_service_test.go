package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"social-chat/contract"
	"social-chat/domain/chat"
	"social-chat/errors"
	"social-chat/infrastructure/broker"
	"social-chat/infrastructure/bus"
	"social-chat/mocks"
)

func chatRecord(t *testing.T, m chat.Message) contract.Record {
	envelope, err := chat.NewChatEnvelope(m)
	require.NoError(t, err)
	payload, err := envelope.Marshal()
	require.NoError(t, err)
	return contract.Record{Topic: broker.TopicChat, Key: fmt.Sprint(m.RoomID), Offset: "0", Payload: payload}
}

func TestDeliveryService_Handle(t *testing.T) {
	ctx := context.Background()
	message := chat.Message{ID: uuid.New(), RoomID: 9, SenderID: 1, SenderNickname: "alice", Content: "hi", Kind: chat.Talk, CreatedAt: time.Now().UTC()}

	t.Run("Persists then broadcasts on the room channel", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		store := mocks.NewMockMessageStore(ctrl)
		b := mocks.NewMockBroadcastBus(ctrl)
		record := chatRecord(t, message)

		gomock.InOrder(
			store.EXPECT().Save(gomock.Any(), gomock.Any()).Return(true, nil),
			b.EXPECT().Publish(gomock.Any(), bus.RoomChannel(9), record.Payload).Return(nil),
		)
		req.NoError(NewDeliveryService(testLogger(), store, b, testMonitoring()).Handle(ctx, record))
	})

	t.Run("Duplicate is broadcast again", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		store := mocks.NewMockMessageStore(ctrl)
		b := mocks.NewMockBroadcastBus(ctrl)

		store.EXPECT().Save(gomock.Any(), gomock.Any()).Return(false, nil)
		b.EXPECT().Publish(gomock.Any(), bus.RoomChannel(9), gomock.Any()).Return(nil)
		req.NoError(NewDeliveryService(testLogger(), store, b, testMonitoring()).Handle(ctx, chatRecord(t, message)))
	})

	t.Run("Undecodable payload is poison", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		service := NewDeliveryService(testLogger(), mocks.NewMockMessageStore(ctrl), mocks.NewMockBroadcastBus(ctrl), testMonitoring())

		err := service.Handle(ctx, contract.Record{Payload: []byte("garbage")})
		req.True(errors.IsPoison(err))

		payload, _ := chat.Envelope{Type: chat.LikeEnvelope, ReceiverID: 2}.Marshal()
		err = service.Handle(ctx, contract.Record{Payload: payload})
		req.True(errors.IsPoison(err))
	})

	t.Run("Store and bus failures are transient", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		store := mocks.NewMockMessageStore(ctrl)
		b := mocks.NewMockBroadcastBus(ctrl)
		service := NewDeliveryService(testLogger(), store, b, testMonitoring())

		store.EXPECT().Save(gomock.Any(), gomock.Any()).Return(false, fmt.Errorf("disk full"))
		req.True(errors.IsTransient(service.Handle(ctx, chatRecord(t, message))))

		store.EXPECT().Save(gomock.Any(), gomock.Any()).Return(true, nil)
		b.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any()).Return(fmt.Errorf("bus down"))
		req.True(errors.IsTransient(service.Handle(ctx, chatRecord(t, message))))
	})
}

func TestDelivery_ExactlyOnceUnderRedelivery(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	p := newPipeline(t)
	alice := chat.Principal{UserID: 1, Nickname: "alice"}

	group, err := p.rooms.CreateGroupRoom(ctx, "team", []chat.UserID{1})
	req.NoError(err)
	for _, content := range []string{"one", "two", "three"} {
		_, err := p.messages.Send(ctx, alice, chat.SendMessageCommand{RoomID: group.ID, Content: content})
		req.NoError(err)
	}
	partition := broker.PartitionFor(fmt.Sprint(group.ID), p.broker.Partitions())

	// Given a consumer that handles a batch and crashes before acknowledging
	batch, err := p.broker.Fetch(ctx, broker.TopicChat, "chat-group", partition, 2)
	req.NoError(err)
	req.Len(batch, 2)
	for _, record := range batch {
		req.NoError(p.delivery.Handle(ctx, record))
	}

	// When the restarted consumer drains the partition
	req.Equal(3, drain(t, p.broker, broker.TopicChat, p.delivery))

	// Then every message is stored exactly once, in order
	messages, _, err := p.stores.messages.GetMessages(ctx, group.ID, time.Time{}, nil)
	req.NoError(err)
	req.Equal([]string{"one", "two", "three"}, contents(messages))
}

func TestNotificationRelay_Handle(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	b := mocks.NewMockBroadcastBus(ctrl)
	relay := NewNotificationRelay(testLogger(), b, testMonitoring())

	payload, err := chat.Envelope{Type: chat.FollowEnvelope, ReceiverID: 4, SenderID: 1, SenderNickname: "alice"}.Marshal()
	req.NoError(err)
	b.EXPECT().Publish(gomock.Any(), bus.UserChannel(4), payload).Return(nil)
	req.NoError(relay.Handle(ctx, contract.Record{Payload: payload}))

	orphan, err := chat.Envelope{Type: chat.FollowEnvelope}.Marshal()
	req.NoError(err)
	req.True(errors.IsPoison(relay.Handle(ctx, contract.Record{Payload: orphan})))
}
