package server

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"social-chat/contract"
)

// HealthServer reports SERVING while every dependency answers its ping.
// Each dependency is also exposed as its own service name.
type HealthServer struct {
	log      *slog.Logger
	health   *health.Server
	pingers  map[string]contract.Pinger
	interval time.Duration
	timeout  time.Duration
}

func NewHealthServer(log *slog.Logger, pingers map[string]contract.Pinger, interval, timeout time.Duration) *HealthServer {
	return &HealthServer{
		log:      log,
		health:   health.NewServer(),
		pingers:  pingers,
		interval: interval,
		timeout:  timeout,
	}
}

func (h *HealthServer) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.health)
}

// Run refreshes the statuses until ctx is done, then reports NOT_SERVING.
func (h *HealthServer) Run(ctx context.Context) error {
	h.Check(ctx)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.health.Shutdown()
			return nil
		case <-ticker.C:
			h.Check(ctx)
		}
	}
}

// Check pings every dependency once and returns the overall status.
func (h *HealthServer) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	overall := healthpb.HealthCheckResponse_SERVING
	names := make([]string, 0, len(h.pingers))
	for name := range h.pingers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		status := healthpb.HealthCheckResponse_SERVING
		pingCtx, cancel := context.WithTimeout(ctx, h.timeout)
		if err := h.pingers[name].Ping(pingCtx); err != nil {
			h.log.Warn("Dependency unhealthy", "name", name, "error", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
			overall = status
		}
		cancel()
		h.health.SetServingStatus(name, status)
	}
	h.health.SetServingStatus("", overall)
	return overall
}
