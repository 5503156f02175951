package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Port      string `env:"PORT,      default=8080"`
	Env       string `env:"ENV,       default=development"`
	JWTSecret string `env:"JWT_SECRET"`
	LogLevel  string `env:"LOG_LEVEL, default=info"`

	Backend  BackendConfig
	Gateway  GatewayConfig
	Broker   BrokerConfig
	Tracking TrackingConfig
	Redis    RedisConfig
}

// BackendConfig points at the fleet back office issuing tracking credentials.
type BackendConfig struct {
	BaseURL      string        `env:"BACKEND_BASE_URL,      default=http://localhost:3000"`
	ServiceToken string        `env:"BACKEND_SERVICE_TOKEN"`
	Timeout      time.Duration `env:"BACKEND_TIMEOUT,       default=30s"`
}

// GatewayConfig points at the IoT gateway's REST telemetry endpoint.
type GatewayConfig struct {
	BaseURL      string        `env:"GATEWAY_BASE_URL,      default=http://localhost:8081"`
	PollInterval time.Duration `env:"GATEWAY_POLL_INTERVAL, default=5s"`
	Timeout      time.Duration `env:"GATEWAY_TIMEOUT,       default=10s"`
}

// BrokerConfig points at the IoT gateway's MQTT broker for the push feed.
type BrokerConfig struct {
	URL               string        `env:"BROKER_URL,                default=tcp://localhost:1883"`
	ReconnectInterval time.Duration `env:"BROKER_RECONNECT_INTERVAL, default=5s"`
}

// TrackingConfig tunes the reconciler.
type TrackingConfig struct {
	// StaleAfter is the age beyond which a fix is reported stale.
	// Zero disables staleness reporting.
	StaleAfter time.Duration `env:"TRACKING_STALE_AFTER, default=60s"`
	CacheTTL   time.Duration `env:"TRACKING_CACHE_TTL,   default=24h"`
}

type RedisConfig struct {
	Addr string `env:"REDIS_ADDR, default=localhost:6379"`
	DB   int    `env:"REDIS_DB,   default=0"`
}

// Load reads configuration from environment variables using go-envconfig.
func Load() *Config {
	var cfg Config
	if err := envconfig.Process(context.Background(), &cfg); err != nil {
		panic(fmt.Sprintf("config: failed to load configuration: %v", err))
	}
	return &cfg
}
