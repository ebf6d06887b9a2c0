// Package runtime wires the delivery pipeline: partition consumers, the bus
// dispatcher and the session registry. It contains no domain rules.
package runtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"social-chat/contract"
	"social-chat/infrastructure/broker"
	"social-chat/observability"
	"social-chat/runtime/workers"
)

// RelayGroup is the consumer group relaying the notifications topic to user channels.
const RelayGroup = "notification-relay"

type PipelineConfig struct {
	ConsumerGroup  string
	FetchBatch     int
	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	MetricInterval time.Duration
}

type Orchestrator struct {
	mu         sync.Mutex
	log        *slog.Logger
	supervisor contract.ISupervisor
	broker     contract.Broker
	bus        contract.BroadcastBus
	registry   contract.SessionRegistry
	delivery   contract.RecordHandler
	relay      contract.RecordHandler
	dispatcher workers.Dispatcher
	monitoring *observability.MonitoringManager
	cfg        PipelineConfig
	started    bool
}

func NewOrchestrator(
	log *slog.Logger,
	supervisor contract.ISupervisor,
	broker contract.Broker,
	bus contract.BroadcastBus,
	registry contract.SessionRegistry,
	delivery contract.RecordHandler,
	relay contract.RecordHandler,
	dispatcher workers.Dispatcher,
	monitoring *observability.MonitoringManager,
	cfg PipelineConfig,
) *Orchestrator {
	return &Orchestrator{
		log:        log,
		supervisor: supervisor,
		broker:     broker,
		bus:        bus,
		registry:   registry,
		delivery:   delivery,
		relay:      relay,
		dispatcher: dispatcher,
		monitoring: monitoring,
		cfg:        cfg,
	}
}

// Start registers every worker and blocks until ctx is done or Stop is called.
func (o *Orchestrator) Start(ctx context.Context) error {
	// 1. Preparation phase (No Lock)
	consumers := o.prepareConsumers(broker.TopicChat, o.cfg.ConsumerGroup, o.delivery)
	consumers = append(consumers, o.prepareConsumers(broker.TopicNotifications, RelayGroup, o.relay)...)
	dispatch := workers.NewDispatchWorker(o.log, o.bus, o.dispatcher)

	// 2. Critical Section (Short Lock)
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		o.log.Warn("Orchestrator already started")
		return nil
	}
	o.started = true
	o.supervisor.Add(consumers...)
	o.supervisor.Add(dispatch)
	if o.cfg.MetricInterval > 0 {
		o.supervisor.Add(workers.NewHealthMonitoringWorker(o.log, o.registry, o.monitoring, o.cfg.MetricInterval))
	}
	o.mu.Unlock()

	// 3. Execution phase (No Lock)
	o.log.Info("Starting orchestrator and all supervised workers",
		"partitions", o.broker.Partitions(), "consumers", len(consumers))
	o.supervisor.Run(ctx)
	return nil
}

// prepareConsumers creates one in-order worker per partition of a topic.
func (o *Orchestrator) prepareConsumers(topic, group string, handler contract.RecordHandler) []contract.Worker {
	var res []contract.Worker
	for partition := 0; partition < o.broker.Partitions(); partition++ {
		res = append(res, workers.NewConsumerWorker(o.log, o.broker, handler, o.monitoring, workers.ConsumerConfig{
			Topic:          topic,
			Group:          group,
			Partition:      partition,
			Batch:          o.cfg.FetchBatch,
			MaxAttempts:    o.cfg.MaxAttempts,
			RetryBaseDelay: o.cfg.RetryBaseDelay,
			RetryMaxDelay:  o.cfg.RetryMaxDelay,
		}))
	}
	return res
}

// Stop cancels the supervised context; Start returns once every worker has exited.
func (o *Orchestrator) Stop() {
	o.log.Info("Requesting orchestrator shutdown")
	o.supervisor.Stop()
}
