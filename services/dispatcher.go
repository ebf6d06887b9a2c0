package services

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"social-chat/contract"
	"social-chat/domain/chat"
	"social-chat/infrastructure/bus"
	"social-chat/errors"
	"social-chat/observability"
	"social-chat/runtime/workers"
)

const (
	fallbackAttempts  = 4
	fallbackBaseDelay = 20 * time.Millisecond
	fallbackMaxDelay  = 500 * time.Millisecond
)

// Dispatcher turns bus traffic into socket writes for the sessions held by this process.
type Dispatcher struct {
	log          *slog.Logger
	participants contract.ParticipantLookup
	registry     contract.SessionRegistry
	fallback     contract.Fallback
	monitoring   *observability.MonitoringManager
	sendTimeout  time.Duration
}

func NewDispatcher(
	log *slog.Logger,
	participants contract.ParticipantLookup,
	registry contract.SessionRegistry,
	fallback contract.Fallback,
	monitoring *observability.MonitoringManager,
	sendTimeout time.Duration,
) *Dispatcher {
	return &Dispatcher{
		log:          log,
		participants: participants,
		registry:     registry,
		fallback:     fallback,
		monitoring:   monitoring,
		sendTimeout:  sendTimeout,
	}
}

// Dispatch routes one bus message. Room channels reach every participant, the sender
// and hidden rows included; user channels reach that user only.
func (d *Dispatcher) Dispatch(ctx context.Context, msg contract.BusMessage) error {
	if roomID, ok := bus.ParseRoomChannel(msg.Channel); ok {
		users, err := d.participants.ParticipantIDs(ctx, roomID)
		if err != nil {
			return err
		}
		var failed error
		for _, user := range users {
			if err := d.SendToUser(ctx, user, msg.Payload); err != nil {
				d.log.Error("Delivery failed", "room_id", roomID, "user_id", user, "error", err)
				failed = err
			}
		}
		return failed
	}
	if userID, ok := bus.ParseUserChannel(msg.Channel); ok {
		return d.SendToUser(ctx, userID, msg.Payload)
	}
	d.log.Warn("Unroutable bus message", "channel", msg.Channel)
	return nil
}

// SendToUser writes to every live session of the user concurrently.
// A session that fails is closed and unregistered; when no session took the
// payload it is handed to the durable fallback.
func (d *Dispatcher) SendToUser(ctx context.Context, user chat.UserID, payload []byte) error {
	sessions := d.registry.Sessions(user)
	var delivered atomic.Int32
	var g errgroup.Group
	for _, session := range sessions {
		g.Go(func() error {
			if err := d.send(ctx, session, payload); err != nil {
				d.monitoring.IncrSendFailures()
				d.log.Debug("Session write failed", "session_id", session.ID(), "user_id", user, "error", err)
				_ = session.Close()
				d.registry.Unregister(session)
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	if delivered.Load() > 0 {
		d.monitoring.IncrDelivered()
		return nil
	}
	d.monitoring.IncrFallbacks()
	return d.Persist(ctx, user, payload)
}

// Persist hands a payload to the durable fallback, retrying transient failures
// with backoff. Sessions use it for frames they queued but could not write.
func (d *Dispatcher) Persist(ctx context.Context, user chat.UserID, payload []byte) error {
	var err error
	for attempt := 1; attempt <= fallbackAttempts; attempt++ {
		if err = d.fallback.Persist(ctx, user, payload); err == nil || !errors.IsTransient(err) {
			return err
		}
		d.monitoring.IncrRetries()
		d.log.Warn("Fallback write failed", "user_id", user, "attempt", attempt, "error", err)
		if attempt == fallbackAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(workers.Backoff(attempt, fallbackBaseDelay, fallbackMaxDelay)):
		}
	}
	return err
}

func (d *Dispatcher) send(ctx context.Context, session contract.Session, payload []byte) error {
	if d.sendTimeout <= 0 {
		return session.Send(ctx, payload)
	}
	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()
	return session.Send(sendCtx, payload)
}
