package observability

import (
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMonitoringManager_Update(t *testing.T) {
	req := require.New(t)
	mm := NewMonitoringManager(slog.Default())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mm.IncrPublished()
			mm.IncrPersisted()
			mm.IncrDelivered()
		}()
	}
	wg.Wait()
	mm.IncrFallbacks()
	mm.IncrDeadLettered()

	stats := mm.Update(3, 12.5, 64*1024*1024)
	req.EqualValues(10, stats.Published)
	req.EqualValues(10, stats.Persisted)
	req.EqualValues(10, stats.Delivered)
	req.EqualValues(1, stats.Fallbacks)
	req.EqualValues(1, stats.DeadLettered)
	req.Equal(3, stats.LiveSessions)
	req.EqualValues(64, stats.RssMb)
	req.Equal(stats, mm.GetLatest())
}
