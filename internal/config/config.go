// Package config loads service configuration from environment variables.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// ServerConfig holds the game server's settings. Postgres is the only
// required backend; Redis and NATS are optional and the server degrades
// gracefully without them.
type ServerConfig struct {
	ListenAddr     string `env:"LISTEN_ADDR" envDefault:":8080"`
	ServerName     string `env:"SERVER_NAME" envDefault:"game-server-1"`
	WorkerPoolSize int    `env:"WORKER_POOL_SIZE" envDefault:"256"`
	MaxConnections int    `env:"MAX_CONNECTIONS" envDefault:"100000"`

	ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`

	PostgresDSN string `env:"POSTGRES_DSN,required,notEmpty"`
	RedisAddr   string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	NatsURL     string `env:"NATS_URL" envDefault:"nats://localhost:4222"`

	ReapInterval time.Duration `env:"REAP_INTERVAL" envDefault:"5m"`
	GameTTL      time.Duration `env:"GAME_TTL" envDefault:"30m"`
}

// LoadServer parses ServerConfig from the environment.
func LoadServer() (ServerConfig, error) {
	var cfg ServerConfig
	err := env.Parse(&cfg)
	return cfg, err
}

// MonitorConfig holds settings for the lifecycle feed monitor.
type MonitorConfig struct {
	NatsURL string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
}

// LoadMonitor parses MonitorConfig from the environment.
func LoadMonitor() (MonitorConfig, error) {
	var cfg MonitorConfig
	err := env.Parse(&cfg)
	return cfg, err
}
