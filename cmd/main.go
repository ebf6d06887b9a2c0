package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/go-redis/redis/v8"
	"github.com/mama165/sdk-go/database"
	grpc3 "github.com/mama165/sdk-go/grpc"
	"github.com/mama165/sdk-go/logs"
	"google.golang.org/grpc"

	"social-chat/auth"
	"social-chat/contract"
	"social-chat/infrastructure/broker"
	"social-chat/infrastructure/bus"
	"social-chat/infrastructure/grpc/server"
	"social-chat/infrastructure/httpapi"
	"social-chat/infrastructure/postgres"
	"social-chat/infrastructure/storage"
	"social-chat/infrastructure/websocket"
	"social-chat/internal"
	"social-chat/observability"
	"social-chat/runtime"
	"social-chat/runtime/workers"
	"social-chat/services"
	"social-chat/sink"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

const (
	maxFrameSize      = 16 * 1024
	healthInterval    = 5 * time.Second
	pingTimeout       = time.Second
	shutdownTimeout   = 10 * time.Second
	inspectorEndpoint = "/inspect"
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Chat server terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run wires every component and blocks until a signal or a server failure.
// Returning instead of exiting lets the deferred closes run.
func run() (int, error) {
	// 1. Configuration & Logger
	config, err := internal.Load()
	if err != nil {
		return exitConfig, err
	}
	logger := logs.GetLoggerFromString(config.LogLevel)

	// 2. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pingers := make(map[string]contract.Pinger)

	// 3. Shared Redis client, only when a driver needs it
	var redisClient *redis.Client
	if config.BrokerDriver == internal.DriverRedis || config.BusDriver == internal.DriverRedis {
		redisClient = redis.NewClient(&redis.Options{Addr: config.RedisAddr})
		defer func() {
			logger.Info("Closing Redis client...")
			_ = redisClient.Close()
		}()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return exitRuntime, fmt.Errorf("redis unreachable at %s: %w", config.RedisAddr, err)
		}
	}

	// 4. Stores
	stores, err := openStores(ctx, config, logger)
	if err != nil {
		return exitRuntime, err
	}
	defer stores.close()
	pingers["store"] = stores.pinger

	// 5. Broker & Bus
	var chatBroker contract.Broker
	switch config.BrokerDriver {
	case internal.DriverRedis:
		b := broker.NewRedisBroker(redisClient, logger, config.Partitions, config.FetchBlock)
		chatBroker, pingers["broker"] = b, b
	default:
		b := broker.NewMemoryBroker(config.Partitions, config.FetchBlock)
		chatBroker, pingers["broker"] = b, b
	}
	defer func() { _ = chatBroker.Close() }()

	var broadcastBus contract.BroadcastBus
	switch config.BusDriver {
	case internal.DriverRedis:
		b := bus.NewRedisBus(redisClient, logger, config.SessionBuffer)
		broadcastBus, pingers["bus"] = b, b
	case internal.DriverNats:
		conn, err := bus.Connect(config.NatsURL, logger)
		if err != nil {
			return exitRuntime, err
		}
		b := bus.NewNatsBus(conn, logger, config.SessionBuffer)
		broadcastBus, pingers["bus"] = b, b
	default:
		broadcastBus = bus.NewMemoryBus(config.SessionBuffer)
	}
	defer func() { _ = broadcastBus.Close() }()

	// 6. Services & Orchestration
	registry := runtime.NewRegistry(config.RegistryShards)
	monitoring := observability.NewMonitoringManager(logger)
	fallback := sink.NewNotificationSink(stores.notifications, logger, services.Now)
	dispatcher := services.NewDispatcher(logger, stores.rooms, registry, fallback, monitoring, config.SendTimeout)
	messageService := services.NewMessageService(logger, stores.rooms, stores.messages, chatBroker, monitoring,
		config.MaxContentLength, config.PublishTimeout, services.Now)
	notificationService := services.NewNotificationService(logger, chatBroker, stores.notifications, monitoring)

	sup := workers.NewSupervisor(logger, config.RestartInterval)
	orchestrator := runtime.NewOrchestrator(logger, sup, chatBroker, broadcastBus, registry,
		services.NewDeliveryService(logger, stores.messages, broadcastBus, monitoring),
		services.NewNotificationRelay(logger, broadcastBus, monitoring),
		dispatcher,
		monitoring,
		runtime.PipelineConfig{
			ConsumerGroup:  config.ConsumerGroup,
			FetchBatch:     config.FetchBatch,
			MaxAttempts:    config.MaxAttempts,
			RetryBaseDelay: config.RetryBaseDelay,
			RetryMaxDelay:  config.RetryMaxDelay,
			MetricInterval: config.MetricInterval,
		},
	)
	healthServer := server.NewHealthServer(logger, pingers, healthInterval, pingTimeout)
	sup.Add(healthServer)

	// Error (HTTP, gRPC & Orchestrator)
	errChan := make(chan error, 3)

	orchestratorDone := make(chan struct{})
	go func() {
		defer close(orchestratorDone)
		logger.Info("Starting orchestrator...")
		if err := orchestrator.Start(ctx); err != nil {
			errChan <- fmt.Errorf("orchestrator error: %w", err)
		}
	}()

	// 7. Websocket server
	tokens := auth.NewTokenService(config.JwtSecret, config.AuthTokenDuration)
	mux := http.NewServeMux()
	mux.Handle("/ws", websocket.NewHandler(logger, tokens, registry, messageService, dispatcher, config.SessionBuffer, maxFrameSize))
	mux.Handle("GET /api/monitoring", auth.Middleware(tokens, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httpapi.WriteJSON(w, monitoring.GetLatest())
	})))
	httpapi.NewNotificationRoutes(logger, tokens, notificationService).Register(mux)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Starting websocket server", "address", httpServer.Addr, "at", time.Now().UTC())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	// 8. gRPC health server
	address := fmt.Sprintf("%s:%d", config.Host, config.GrpcPort)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(grpc3.UnaryLoggingInterceptor(logger)))
	healthServer.Register(s)
	go func() {
		logger.Info("Starting gRPC server", "address", address)
		if err := s.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errChan <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	// 9. Wait for Stop or Error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errChan:
		orchestrator.Stop()
		s.Stop()
		return exitRuntime, err
	}

	// 10. Final Cleanup (Graceful Shutdown)
	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	s.GracefulStop()
	orchestrator.Stop()
	// Workers must be gone before the broker, bus and stores are closed.
	select {
	case <-orchestratorDone:
	case <-shutdownCtx.Done():
		logger.Warn("Workers still running after shutdown timeout")
	}
	logger.Info("Program stopped cleanly")

	return exitOK, nil
}

type storeSet struct {
	rooms         contract.RoomStore
	messages      contract.MessageStore
	notifications contract.NotificationStore
	pinger        contract.Pinger
	close         func()
}

func openStores(ctx context.Context, config internal.Config, logger *slog.Logger) (storeSet, error) {
	if config.StoreDriver == internal.DriverPostgres {
		pool, err := postgres.Connect(ctx, config.DatabaseURL, logger)
		if err != nil {
			return storeSet{}, err
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return storeSet{}, err
		}
		return storeSet{
			rooms:         postgres.NewRoomRepository(pool, logger),
			messages:      postgres.NewMessageRepository(pool, logger, config.LimitMessages),
			notifications: postgres.NewNotificationRepository(pool, logger),
			pinger:        pool,
			close: func() {
				logger.Info("Closing Postgres pool...")
				pool.Close()
			},
		}, nil
	}

	db, err := badger.Open(buildBadgerOpts(config, logger, ctx))
	if err != nil {
		return storeSet{}, fmt.Errorf("database opening failed: %w", err)
	}
	if logger.Enabled(ctx, slog.LevelDebug) {
		url := fmt.Sprintf("http://localhost:%d%s", config.DebugPort, inspectorEndpoint)
		logger.Info("Debug Badger inspector available", "url", url)
		database.StartDebugServer(db, config.DebugPort, inspectorEndpoint, storage.InspectMapper)
	}
	rooms, err := storage.NewRoomRepository(db, logger)
	if err != nil {
		_ = db.Close()
		return storeSet{}, err
	}
	notifications, err := storage.NewNotificationRepository(db, logger)
	if err != nil {
		_ = rooms.Close()
		_ = db.Close()
		return storeSet{}, err
	}
	return storeSet{
		rooms:         rooms,
		messages:      storage.NewMessageRepository(db, logger, config.LimitMessages),
		notifications: notifications,
		pinger:        rooms,
		close: func() {
			// Sequences must be released before the DB lock.
			logger.Info("Closing BadgerDB...")
			_ = rooms.Close()
			_ = notifications.Close()
			_ = db.Close()
		},
	}, nil
}

func buildBadgerOpts(config internal.Config, logger *slog.Logger, ctx context.Context) badger.Options {
	options := badger.DefaultOptions(config.BadgerFilepath)

	if logger.Enabled(ctx, slog.LevelDebug) {
		options = options.WithLoggingLevel(badger.DEBUG).
			WithBypassLockGuard(true)
	} else {
		options = options.WithLoggingLevel(badger.INFO)
	}

	return options
}
