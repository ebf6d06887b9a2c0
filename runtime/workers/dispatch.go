package workers

import (
	"context"
	"fmt"
	"log/slog"

	"social-chat/contract"
	"social-chat/infrastructure/bus"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, msg contract.BusMessage) error
}

// DispatchWorker subscribes this process to every room and user channel.
type DispatchWorker struct {
	log        *slog.Logger
	bus        contract.BroadcastBus
	dispatcher Dispatcher
}

func NewDispatchWorker(log *slog.Logger, bus contract.BroadcastBus, dispatcher Dispatcher) *DispatchWorker {
	return &DispatchWorker{log: log, bus: bus, dispatcher: dispatcher}
}

func (w *DispatchWorker) Run(ctx context.Context) error {
	messages, err := w.bus.Subscribe(ctx, bus.RoomPattern, bus.UserPattern)
	if err != nil {
		return err
	}
	w.log.Info("Dispatcher subscribed", "patterns", []string{bus.RoomPattern, bus.UserPattern})
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("bus subscription closed")
			}
			if err := w.dispatcher.Dispatch(ctx, msg); err != nil {
				w.log.Error("Dispatch failed", "channel", msg.Channel, "error", err)
			}
		}
	}
}
