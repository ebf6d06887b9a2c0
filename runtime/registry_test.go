package runtime

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"social-chat/domain/chat"
)

type fakeSession struct {
	id   string
	user chat.UserID
}

func newFakeSession(user chat.UserID) *fakeSession {
	return &fakeSession{id: uuid.NewString(), user: user}
}

func (f *fakeSession) ID() string                                     { return f.id }
func (f *fakeSession) UserID() chat.UserID                            { return f.user }
func (f *fakeSession) EstablishedAt() time.Time                       { return time.Time{} }
func (f *fakeSession) Send(ctx context.Context, payload []byte) error { return nil }
func (f *fakeSession) Close() error                                   { return nil }

func TestRegistry_Register_Multiple_Sessions_Per_User(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(4)
	laptop := newFakeSession(1)
	phone := newFakeSession(1)
	other := newFakeSession(2)

	// Given no user is connected
	req.Empty(registry.Sessions(1))
	req.Zero(registry.Count())

	// When a user connects twice and another once
	registry.Register(laptop)
	registry.Register(phone)
	registry.Register(other)
	registry.Register(phone)

	// Then
	req.Equal(3, registry.Count())
	req.ElementsMatch([]any{laptop, phone}, lo.ToAnySlice(registry.Sessions(1)))
	req.Len(registry.Sessions(2), 1)
}

func TestRegistry_Unregister_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(4)
	laptop := newFakeSession(1)
	phone := newFakeSession(1)
	registry.Register(laptop)
	registry.Register(phone)

	registry.Unregister(laptop)
	registry.Unregister(laptop)
	req.Equal(1, registry.Count())
	req.Len(registry.Sessions(1), 1)

	registry.Unregister(phone)
	registry.Unregister(newFakeSession(9))
	req.Zero(registry.Count())
	req.Empty(registry.Sessions(1))
}

func TestRegistry_Concurrent_Access(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(8)
	var wg sync.WaitGroup

	for u := 1; u <= 50; u++ {
		wg.Add(1)
		go func(user chat.UserID) {
			defer wg.Done()
			sessions := make([]*fakeSession, 10)
			for i := range sessions {
				sessions[i] = newFakeSession(user)
				registry.Register(sessions[i])
				_ = registry.Sessions(user)
			}
			for i := 0; i < 5; i++ {
				registry.Unregister(sessions[i])
			}
		}(chat.UserID(u))
	}
	wg.Wait()

	req.Equal(50*5, registry.Count())
	for u := 1; u <= 50; u++ {
		req.Len(registry.Sessions(chat.UserID(u)), 5, fmt.Sprintf("user %d", u))
	}
}
