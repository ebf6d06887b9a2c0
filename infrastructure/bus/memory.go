package bus

import (
	"context"
	"path"
	"sync"

	"social-chat/contract"
)

type memorySubscription struct {
	patterns []string
	out      chan contract.BusMessage
	done     <-chan struct{}
}

// MemoryBus fans out inside one process. A publish waits for every matching subscriber.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[*memorySubscription]struct{}
	buffer int
	closed bool
}

func NewMemoryBus(buffer int) *MemoryBus {
	return &MemoryBus{subs: make(map[*memorySubscription]struct{}), buffer: buffer}
}

func (b *MemoryBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errBusClosed
	}
	msg := contract.BusMessage{Channel: channel, Payload: payload}
	for sub := range b.subs {
		if !matches(sub.patterns, channel) {
			continue
		}
		select {
		case sub.out <- msg:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe delivers messages until ctx is done, then closes the channel.
func (b *MemoryBus) Subscribe(ctx context.Context, patterns ...string) (<-chan contract.BusMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errBusClosed
	}
	sub := &memorySubscription{patterns: patterns, out: make(chan contract.BusMessage, b.buffer), done: ctx.Done()}
	b.subs[sub] = struct{}{}
	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[sub]; ok {
			delete(b.subs, sub)
			close(sub.out)
		}
	}()
	return sub.out, nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub.out)
	}
	return nil
}

func matches(patterns []string, channel string) bool {
	for _, p := range patterns {
		if ok, _ := path.Match(p, channel); ok {
			return true
		}
	}
	return false
}
