package e2e

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// E2E_REDIS_ADDR switches the broker and the bus to Redis, memory otherwise
	RedisAddr  string `envconfig:"E2E_REDIS_ADDR"`
	Partitions int    `envconfig:"E2E_PARTITIONS" default:"4"`
	// E2E_DEBUG_FRAMES dumps every websocket frame received by a client
	DebugFrames bool `envconfig:"E2E_DEBUG_FRAMES" default:"false"`
	// E2E_COLOURS enables colorized output for better log readability
	Colours bool `envconfig:"E2E_COLOURS" default:"true"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
