package observability

import (
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// MonitoringStats aggregates the pipeline counters with process metrics.
type MonitoringStats struct {
	// --- PIPELINE ---
	Published    uint64 `json:"published"`
	Persisted    uint64 `json:"persisted"`
	Duplicates   uint64 `json:"duplicates"`
	Broadcast    uint64 `json:"broadcast"`
	Delivered    uint64 `json:"delivered"`
	Fallbacks    uint64 `json:"fallbacks"`
	Retries      uint64 `json:"retries"`
	DeadLettered uint64 `json:"dead_lettered"`
	SendFailures uint64 `json:"send_failures"`

	// --- SESSIONS ---
	LiveSessions int `json:"live_sessions"`

	// --- SYSTEM METRICS ---
	AllocMemMb    uint64  `json:"alloc_mem_mb"`
	NumGC         uint32  `json:"num_gc"`
	NumGoroutine  int     `json:"num_goroutine"`
	CpuPercent    float64 `json:"cpu_percent"`
	RssMb         uint64  `json:"rss_mb"`
	UpdatedAt     string  `json:"updated_at"`
}

// MonitoringManager holds the live counters of the message pipeline.
// Counters are cumulative since process start.
type MonitoringManager struct {
	log         *slog.Logger
	mu          sync.RWMutex
	latestStats MonitoringStats

	published    atomic.Uint64
	persisted    atomic.Uint64
	duplicates   atomic.Uint64
	broadcast    atomic.Uint64
	delivered    atomic.Uint64
	fallbacks    atomic.Uint64
	retries      atomic.Uint64
	deadLettered atomic.Uint64
	sendFailures atomic.Uint64
}

func NewMonitoringManager(log *slog.Logger) *MonitoringManager {
	return &MonitoringManager{log: log}
}

func (mm *MonitoringManager) IncrPublished()    { mm.published.Add(1) }
func (mm *MonitoringManager) IncrPersisted()    { mm.persisted.Add(1) }
func (mm *MonitoringManager) IncrDuplicates()   { mm.duplicates.Add(1) }
func (mm *MonitoringManager) IncrBroadcast()    { mm.broadcast.Add(1) }
func (mm *MonitoringManager) IncrDelivered()    { mm.delivered.Add(1) }
func (mm *MonitoringManager) IncrFallbacks()    { mm.fallbacks.Add(1) }
func (mm *MonitoringManager) IncrRetries()      { mm.retries.Add(1) }
func (mm *MonitoringManager) IncrDeadLettered() { mm.deadLettered.Add(1) }
func (mm *MonitoringManager) IncrSendFailures() { mm.sendFailures.Add(1) }

// Update recomputes the snapshot. Process metrics are provided by the caller.
func (mm *MonitoringManager) Update(liveSessions int, cpuPercent float64, rssBytes uint64) MonitoringStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	stats := MonitoringStats{
		Published:    mm.published.Load(),
		Persisted:    mm.persisted.Load(),
		Duplicates:   mm.duplicates.Load(),
		Broadcast:    mm.broadcast.Load(),
		Delivered:    mm.delivered.Load(),
		Fallbacks:    mm.fallbacks.Load(),
		Retries:      mm.retries.Load(),
		DeadLettered: mm.deadLettered.Load(),
		SendFailures: mm.sendFailures.Load(),
		LiveSessions: liveSessions,
		AllocMemMb:   m.Alloc / 1024 / 1024,
		NumGC:        m.NumGC,
		NumGoroutine: runtime.NumGoroutine(),
		CpuPercent:   cpuPercent,
		RssMb:        rssBytes / 1024 / 1024,
		UpdatedAt:    time.Now().UTC().Format(time.RFC3339),
	}

	mm.mu.Lock()
	mm.latestStats = stats
	mm.mu.Unlock()
	return stats
}

func (mm *MonitoringManager) GetLatest() MonitoringStats {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return mm.latestStats
}
