package broker

import (
	"context"
	"strconv"
	"sync"
	"time"

	"social-chat/contract"
)

// DeadLetter is a record parked after it could not be processed.
type DeadLetter struct {
	Record contract.Record
	Cause  string
}

type memoryPartition struct {
	entries []contract.Record
	// per consumer group
	committed map[string]int
	delivered map[string]int
	acked     map[string]map[int]struct{}
}

// MemoryBroker is a single-process partitioned log with the same delivery rules
// as the Redis broker: per-partition order, redelivery of unacknowledged records.
type MemoryBroker struct {
	mu          sync.Mutex
	partitions  int
	block       time.Duration
	topics      map[string][]*memoryPartition
	deadLetters []DeadLetter
	signal      chan struct{}
	closed      bool
}

func NewMemoryBroker(partitions int, block time.Duration) *MemoryBroker {
	return &MemoryBroker{
		partitions: partitions,
		block:      block,
		topics:     make(map[string][]*memoryPartition),
		signal:     make(chan struct{}),
	}
}

func (b *MemoryBroker) Partitions() int { return b.partitions }

func (b *MemoryBroker) topic(name string) []*memoryPartition {
	parts, ok := b.topics[name]
	if !ok {
		parts = make([]*memoryPartition, b.partitions)
		for i := range parts {
			parts[i] = &memoryPartition{
				committed: make(map[string]int),
				delivered: make(map[string]int),
				acked:     make(map[string]map[int]struct{}),
			}
		}
		b.topics[name] = parts
	}
	return parts
}

func (b *MemoryBroker) Publish(ctx context.Context, topic, key string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errBrokerClosed
	}
	partition := PartitionFor(key, b.partitions)
	p := b.topic(topic)[partition]
	p.entries = append(p.entries, contract.Record{
		Topic:     topic,
		Partition: partition,
		Offset:    strconv.Itoa(len(p.entries)),
		Key:       key,
		Payload:   append([]byte(nil), payload...),
	})
	close(b.signal)
	b.signal = make(chan struct{})
	return nil
}

// Fetch returns unacknowledged records first, then waits up to the block duration for new ones.
func (b *MemoryBroker) Fetch(ctx context.Context, topic, group string, partition, max int) ([]contract.Record, error) {
	deadline := time.NewTimer(b.block)
	defer deadline.Stop()
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, errBrokerClosed
		}
		records := b.take(b.topic(topic)[partition], group, max)
		signal := b.signal
		b.mu.Unlock()
		if len(records) > 0 {
			return records, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, nil
		case <-signal:
		}
	}
}

func (b *MemoryBroker) take(p *memoryPartition, group string, max int) []contract.Record {
	acked := p.acked[group]
	var records []contract.Record
	for i := p.committed[group]; i < p.delivered[group] && len(records) < max; i++ {
		if _, ok := acked[i]; !ok {
			records = append(records, p.entries[i])
		}
	}
	if len(records) > 0 {
		return records
	}
	for i := p.delivered[group]; i < len(p.entries) && len(records) < max; i++ {
		records = append(records, p.entries[i])
		p.delivered[group] = i + 1
	}
	return records
}

func (b *MemoryBroker) Ack(ctx context.Context, group string, record contract.Record) error {
	offset, err := strconv.Atoi(record.Offset)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.topic(record.Topic)[record.Partition]
	if p.acked[group] == nil {
		p.acked[group] = make(map[int]struct{})
	}
	p.acked[group][offset] = struct{}{}
	for {
		next := p.committed[group]
		if _, ok := p.acked[group][next]; !ok {
			break
		}
		delete(p.acked[group], next)
		p.committed[group] = next + 1
	}
	return nil
}

func (b *MemoryBroker) DeadLetter(ctx context.Context, record contract.Record, cause error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	b.deadLetters = append(b.deadLetters, DeadLetter{Record: record, Cause: reason})
	return nil
}

func (b *MemoryBroker) DeadLetters() []DeadLetter {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]DeadLetter(nil), b.deadLetters...)
}

func (b *MemoryBroker) Ping(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errBrokerClosed
	}
	return nil
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.signal)
	}
	return nil
}
