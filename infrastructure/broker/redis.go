package broker

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"social-chat/contract"
	"social-chat/errors"
)

// RedisBroker stores each topic partition as a Redis stream "{topic}:{partition}".
// A consumer group reads a partition through a single stable consumer, so entries
// delivered but never acknowledged stay in its pending list and are served again
// before anything new.
type RedisBroker struct {
	client     *redis.Client
	log        *slog.Logger
	partitions int
	block      time.Duration
	groups     sync.Map
}

func NewRedisBroker(client *redis.Client, log *slog.Logger, partitions int, block time.Duration) *RedisBroker {
	return &RedisBroker{client: client, log: log, partitions: partitions, block: block}
}

func (b *RedisBroker) Partitions() int { return b.partitions }

// Publish returns once Redis has appended the entry.
func (b *RedisBroker) Publish(ctx context.Context, topic, key string, payload []byte) error {
	stream := streamName(topic, PartitionFor(key, b.partitions))
	err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{"key": key, "payload": payload},
	}).Err()
	if err != nil {
		return errors.Transient(fmt.Errorf("xadd %s: %w", stream, err))
	}
	return nil
}

func (b *RedisBroker) Fetch(ctx context.Context, topic, group string, partition, max int) ([]contract.Record, error) {
	stream := streamName(topic, partition)
	if err := b.ensureGroup(ctx, stream, group); err != nil {
		return nil, err
	}
	consumer := consumerName(group, partition)

	// Pending entries first: anything handed out earlier and never acknowledged.
	pending, err := b.read(ctx, stream, group, consumer, "0", max, -1)
	if err != nil || len(pending) > 0 {
		return toRecords(topic, partition, pending), err
	}
	fresh, err := b.read(ctx, stream, group, consumer, ">", max, b.block)
	return toRecords(topic, partition, fresh), err
}

func (b *RedisBroker) read(ctx context.Context, stream, group, consumer, id string, max int, block time.Duration) ([]redis.XMessage, error) {
	streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, id},
		Count:    int64(max),
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Transient(fmt.Errorf("xreadgroup %s: %w", stream, err))
	}
	var messages []redis.XMessage
	for _, s := range streams {
		messages = append(messages, s.Messages...)
	}
	return messages, nil
}

func (b *RedisBroker) Ack(ctx context.Context, group string, record contract.Record) error {
	stream := streamName(record.Topic, record.Partition)
	if err := b.client.XAck(ctx, stream, group, record.Offset).Err(); err != nil {
		return errors.Transient(fmt.Errorf("xack %s %s: %w", stream, record.Offset, err))
	}
	return nil
}

// DeadLetter parks a record on "{topic}:dead-letter" with the failure cause.
func (b *RedisBroker) DeadLetter(ctx context.Context, record contract.Record, cause error) error {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: DeadLetterStream(record.Topic),
		Values: map[string]interface{}{
			"key":       record.Key,
			"payload":   record.Payload,
			"partition": record.Partition,
			"offset":    record.Offset,
			"cause":     reason,
		},
	}).Err()
	if err != nil {
		return errors.Transient(fmt.Errorf("dead letter %s: %w", record.Topic, err))
	}
	return nil
}

func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close is a no-op: the client is shared and owned by the caller.
func (b *RedisBroker) Close() error { return nil }

func (b *RedisBroker) ensureGroup(ctx context.Context, stream, group string) error {
	cacheKey := stream + "|" + group
	if _, ok := b.groups.Load(cacheKey); ok {
		return nil
	}
	err := b.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return errors.Transient(fmt.Errorf("create group %s on %s: %w", group, stream, err))
	}
	b.groups.Store(cacheKey, struct{}{})
	return nil
}

func toRecords(topic string, partition int, messages []redis.XMessage) []contract.Record {
	records := make([]contract.Record, 0, len(messages))
	for _, m := range messages {
		records = append(records, contract.Record{
			Topic:     topic,
			Partition: partition,
			Offset:    m.ID,
			Key:       stringValue(m.Values["key"]),
			Payload:   []byte(stringValue(m.Values["payload"])),
		})
	}
	return records
}

// stringValue reads a stream field. Redis hands back bulk strings; deleted entries have no fields.
func stringValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}
