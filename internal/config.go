package internal

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

const (
	DriverBadger   = "badger"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverNats     = "nats"
	DriverMemory   = "memory"
)

type Config struct {
	LogLevel  string `env:"LOG_LEVEL,default=INFO"`
	Host      string `env:"HOST,default=0.0.0.0"`
	Port      int    `env:"PORT,default=8080"`
	GrpcPort  int    `env:"GRPC_PORT,default=9090"`
	DebugPort int    `env:"DEBUG_PORT,default=8081"`

	StoreDriver    string `env:"STORE_DRIVER,default=badger"`
	BadgerFilepath string `env:"BADGER_FILEPATH,default=./data/badger"`
	DatabaseURL    string `env:"DATABASE_URL"`
	BrokerDriver   string `env:"BROKER_DRIVER,default=memory"`
	BusDriver      string `env:"BUS_DRIVER,default=memory"`
	RedisAddr      string `env:"REDIS_ADDR,default=localhost:6379"`
	NatsURL        string `env:"NATS_URL,default=nats://127.0.0.1:4222"`

	JwtSecret         string        `env:"JWT_SECRET,required=true"`
	AuthTokenDuration time.Duration `env:"AUTH_TOKEN_DURATION,default=24h"`

	Partitions       int           `env:"PARTITIONS,default=8"`
	ConsumerGroup    string        `env:"CONSUMER_GROUP,default=chat-group"`
	FetchBatch       int           `env:"FETCH_BATCH,default=32"`
	FetchBlock       time.Duration `env:"FETCH_BLOCK,default=1s"`
	MaxAttempts      int           `env:"MAX_ATTEMPTS,default=5"`
	RetryBaseDelay   time.Duration `env:"RETRY_BASE_DELAY,default=50ms"`
	RetryMaxDelay    time.Duration `env:"RETRY_MAX_DELAY,default=2s"`
	PublishTimeout   time.Duration `env:"PUBLISH_TIMEOUT,default=5s"`
	SendTimeout      time.Duration `env:"SEND_TIMEOUT,default=2s"`
	SessionBuffer    int           `env:"SESSION_BUFFER,default=64"`
	RegistryShards   int           `env:"REGISTRY_SHARDS,default=32"`
	MaxContentLength int           `env:"MAX_CONTENT_LENGTH,default=2000"`
	LimitMessages    *int          `env:"LIMIT_MESSAGES"`
	RestartInterval  time.Duration `env:"RESTART_INTERVAL,default=200ms"`
	MetricInterval   time.Duration `env:"METRIC_INTERVAL,default=30s"`
}

// Load reads an optional .env file then the process environment.
func Load(files ...string) (Config, error) {
	// A missing .env is not an error, the environment may already be set.
	_ = godotenv.Load(files...)
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c Config) Validate() error {
	switch c.StoreDriver {
	case DriverBadger, DriverPostgres:
	default:
		return fmt.Errorf("STORE_DRIVER %q must be badger or postgres", c.StoreDriver)
	}
	if c.StoreDriver == DriverPostgres && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required with the postgres store")
	}
	switch c.BrokerDriver {
	case DriverRedis, DriverMemory:
	default:
		return fmt.Errorf("BROKER_DRIVER %q must be redis or memory", c.BrokerDriver)
	}
	switch c.BusDriver {
	case DriverRedis, DriverNats, DriverMemory:
	default:
		return fmt.Errorf("BUS_DRIVER %q must be redis, nats or memory", c.BusDriver)
	}
	if c.Partitions < 1 {
		return fmt.Errorf("PARTITIONS must be positive, got %d", c.Partitions)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("MAX_ATTEMPTS must be positive, got %d", c.MaxAttempts)
	}
	return nil
}
