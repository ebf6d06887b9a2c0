package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"social-chat/contract"
	"social-chat/errors"
)

// NatsBus publishes on core NATS subjects. '*' in a pattern matches one token.
type NatsBus struct {
	conn   *nats.Conn
	log    *slog.Logger
	buffer int
}

func Connect(url string, log *slog.Logger) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("social-chat"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
}

func NewNatsBus(conn *nats.Conn, log *slog.Logger, buffer int) *NatsBus {
	return &NatsBus{conn: conn, log: log, buffer: buffer}
}

func (b *NatsBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.conn.Publish(channel, payload); err != nil {
		return errors.Transient(fmt.Errorf("publish %s: %w", channel, err))
	}
	return nil
}

func (b *NatsBus) Subscribe(ctx context.Context, patterns ...string) (<-chan contract.BusMessage, error) {
	in := make(chan *nats.Msg, b.buffer)
	subs := make([]*nats.Subscription, 0, len(patterns))
	unsubscribe := func() {
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
	}
	for _, p := range patterns {
		s, err := b.conn.ChanSubscribe(p, in)
		if err != nil {
			unsubscribe()
			return nil, errors.Transient(fmt.Errorf("subscribe %s: %w", p, err))
		}
		subs = append(subs, s)
	}
	if err := b.conn.Flush(); err != nil {
		unsubscribe()
		return nil, errors.Transient(fmt.Errorf("flush: %w", err))
	}

	out := make(chan contract.BusMessage, b.buffer)
	go func() {
		defer close(out)
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-in:
				select {
				case out <- contract.BusMessage{Channel: m.Subject, Payload: m.Data}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *NatsBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return errors.Transient(fmt.Errorf("nats status %s", b.conn.Status()))
	}
	return nil
}

func (b *NatsBus) Close() error {
	b.conn.Close()
	return nil
}
