package workers

import (
	"context"
	"log/slog"
	"time"

	"social-chat/contract"
	"social-chat/errors"
	"social-chat/observability"
)

type ConsumerConfig struct {
	Topic          string
	Group          string
	Partition      int
	Batch          int
	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// ConsumerWorker owns one partition of a topic and handles its records in order.
// A record is acknowledged only once handled or dead-lettered, so a crash
// replays it on the next run.
type ConsumerWorker struct {
	log        *slog.Logger
	broker     contract.Broker
	handler    contract.RecordHandler
	monitoring *observability.MonitoringManager
	cfg        ConsumerConfig
}

func NewConsumerWorker(
	log *slog.Logger,
	broker contract.Broker,
	handler contract.RecordHandler,
	monitoring *observability.MonitoringManager,
	cfg ConsumerConfig,
) *ConsumerWorker {
	return &ConsumerWorker{
		log:        log.With("topic", cfg.Topic, "partition", cfg.Partition),
		broker:     broker,
		handler:    handler,
		monitoring: monitoring,
		cfg:        cfg,
	}
}

func (w *ConsumerWorker) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		records, err := w.broker.Fetch(ctx, w.cfg.Topic, w.cfg.Group, w.cfg.Partition, w.cfg.Batch)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		for _, record := range records {
			if err := w.process(ctx, record); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

// process retries a record with exponential backoff without moving past it.
func (w *ConsumerWorker) process(ctx context.Context, record contract.Record) error {
	for attempt := 1; ; attempt++ {
		err := w.handler.Handle(ctx, record)
		if err == nil {
			return w.broker.Ack(ctx, w.cfg.Group, record)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.IsPoison(err) || attempt >= w.cfg.MaxAttempts {
			return w.deadLetter(ctx, record, attempt, err)
		}

		w.monitoring.IncrRetries()
		delay := Backoff(attempt, w.cfg.RetryBaseDelay, w.cfg.RetryMaxDelay)
		w.log.Warn("Record handling failed, retrying", "offset", record.Offset, "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (w *ConsumerWorker) deadLetter(ctx context.Context, record contract.Record, attempts int, cause error) error {
	w.log.Error("Record dead-lettered", "offset", record.Offset, "key", record.Key, "attempts", attempts, "error", cause)
	if err := w.broker.DeadLetter(ctx, record, cause); err != nil {
		return err
	}
	w.monitoring.IncrDeadLettered()
	return w.broker.Ack(ctx, w.cfg.Group, record)
}

// Backoff doubles the base delay on every attempt, capped at max.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	delay := base
	for i := 1; i < attempt && delay < max; i++ {
		delay *= 2
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}
