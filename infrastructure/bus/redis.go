package bus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"

	"social-chat/contract"
	"social-chat/errors"
)

// RedisBus is Redis Pub/Sub with pattern subscriptions.
type RedisBus struct {
	client *redis.Client
	log    *slog.Logger
	buffer int
}

func NewRedisBus(client *redis.Client, log *slog.Logger, buffer int) *RedisBus {
	return &RedisBus{client: client, log: log, buffer: buffer}
}

func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return errors.Transient(fmt.Errorf("publish %s: %w", channel, err))
	}
	return nil
}

// Subscribe returns once Redis confirmed the subscription, so nothing published afterwards is missed.
func (b *RedisBus) Subscribe(ctx context.Context, patterns ...string) (<-chan contract.BusMessage, error) {
	ps := b.client.PSubscribe(ctx, patterns...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, errors.Transient(fmt.Errorf("psubscribe %v: %w", patterns, err))
	}
	out := make(chan contract.BusMessage, b.buffer)
	go func() {
		defer close(out)
		defer ps.Close()
		in := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-in:
				if !ok {
					b.log.Warn("Redis subscription closed", "patterns", patterns)
					return
				}
				select {
				case out <- contract.BusMessage{Channel: m.Channel, Payload: []byte(m.Payload)}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *RedisBus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close is a no-op: the client is shared and owned by the caller.
func (b *RedisBus) Close() error { return nil }
