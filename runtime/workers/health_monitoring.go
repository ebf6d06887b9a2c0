package workers

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"

	"social-chat/contract"
	"social-chat/observability"
)

// HealthMonitoringWorker periodically logs process usage next to the pipeline counters.
type HealthMonitoringWorker struct {
	log            *slog.Logger
	registry       contract.SessionRegistry
	monitoring     *observability.MonitoringManager
	metricInterval time.Duration
	pid            int32
}

func NewHealthMonitoringWorker(
	log *slog.Logger,
	registry contract.SessionRegistry,
	monitoring *observability.MonitoringManager,
	metricInterval time.Duration,
) *HealthMonitoringWorker {
	return &HealthMonitoringWorker{
		log:            log,
		registry:       registry,
		monitoring:     monitoring,
		metricInterval: metricInterval,
		pid:            int32(os.Getpid()),
	}
}

func (w *HealthMonitoringWorker) Run(ctx context.Context) error {
	p, err := process.NewProcess(w.pid)
	if err != nil {
		return err
	}
	ticker := time.NewTicker(w.metricInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping health monitoring")
			return nil
		case <-ticker.C:
			w.collect(p)
		}
	}
}

func (w *HealthMonitoringWorker) collect(p *process.Process) observability.MonitoringStats {
	cpu, err := p.CPUPercent()
	if err != nil {
		w.log.Error("Error while finding process cpu usage", "err", err)
	}
	var rss uint64
	if mem, err := p.MemoryInfo(); err != nil {
		w.log.Error("Error while finding process ram usage", "err", err)
	} else {
		rss = mem.RSS
	}
	stats := w.monitoring.Update(w.registry.Count(), cpu, rss)
	w.log.Info("Health",
		"sessions", stats.LiveSessions,
		"published", stats.Published,
		"persisted", stats.Persisted,
		"duplicates", stats.Duplicates,
		"broadcast", stats.Broadcast,
		"delivered", stats.Delivered,
		"fallbacks", stats.Fallbacks,
		"retries", stats.Retries,
		"dead_lettered", stats.DeadLettered,
		"cpu_percent", stats.CpuPercent,
		"rss_mb", stats.RssMb,
		"goroutines", stats.NumGoroutine,
	)
	return stats
}
