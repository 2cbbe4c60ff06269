package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/sirupsen/logrus"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Gateway  GatewayConfig
	Sweep    SweepConfig
	Log      LogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Port            int           `env:"SERVER_PORT" envDefault:"8080"`
	AdminToken      string        `env:"ADMIN_TOKEN"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Driver string `env:"DB_DRIVER" envDefault:"sqlite3"`
	DSN    string `env:"DB_DSN" envDefault:"data/acl-manager.db"`
}

// GatewayConfig holds gateway stream configuration.
type GatewayConfig struct {
	Secret       string        `env:"GATEWAY_SECRET"`
	TokenTTL     time.Duration `env:"GATEWAY_TOKEN_TTL" envDefault:"8760h"`
	EventBuffer  int           `env:"GATEWAY_EVENT_BUFFER" envDefault:"64"`
	WriteTimeout time.Duration `env:"GATEWAY_WRITE_TIMEOUT" envDefault:"10s"`
	PingInterval time.Duration `env:"GATEWAY_PING_INTERVAL" envDefault:"30s"`
}

// SweepConfig holds background job and recompute configuration.
type SweepConfig struct {
	ExpirySchedule     string        `env:"EXPIRY_SWEEP_SCHEDULE" envDefault:"@every 1m"`
	EnterpriseSchedule string        `env:"ENTERPRISE_SWEEP_SCHEDULE" envDefault:"@every 5m"`
	Concurrency        int           `env:"RECOMPUTE_CONCURRENCY" envDefault:"8"`
	Debounce           time.Duration `env:"RECOMPUTE_DEBOUNCE" envDefault:"2s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"text"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(&cfg.Server); err != nil {
		return nil, fmt.Errorf("parsing server config: %w", err)
	}
	if err := env.Parse(&cfg.Database); err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	if err := env.Parse(&cfg.Gateway); err != nil {
		return nil, fmt.Errorf("parsing gateway config: %w", err)
	}
	if err := env.Parse(&cfg.Sweep); err != nil {
		return nil, fmt.Errorf("parsing sweep config: %w", err)
	}
	if err := env.Parse(&cfg.Log); err != nil {
		return nil, fmt.Errorf("parsing log config: %w", err)
	}

	return cfg, nil
}

// Addr returns the server address in host:port format.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.AdminToken == "" {
		return fmt.Errorf("ADMIN_TOKEN is required")
	}
	if c.Gateway.Secret == "" {
		return fmt.Errorf("GATEWAY_SECRET is required")
	}
	if len(c.Gateway.Secret) < 32 {
		return fmt.Errorf("GATEWAY_SECRET must be at least 32 characters")
	}

	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite3 or postgres, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("DB_DSN is required")
	}

	if c.Gateway.EventBuffer < 1 {
		return fmt.Errorf("GATEWAY_EVENT_BUFFER must be positive")
	}
	if c.Gateway.PingInterval <= 0 || c.Gateway.WriteTimeout <= 0 {
		return fmt.Errorf("GATEWAY_PING_INTERVAL and GATEWAY_WRITE_TIMEOUT must be positive")
	}
	if c.Sweep.Concurrency < 1 {
		return fmt.Errorf("RECOMPUTE_CONCURRENCY must be positive")
	}

	if _, err := c.Log.ParseLevel(); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.Log.Format)
	}

	return nil
}

// ParseLevel returns the configured logrus level.
func (c *LogConfig) ParseLevel() (logrus.Level, error) {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return 0, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return level, nil
}

// NewLogger builds the process logger from the log configuration.
func (c *LogConfig) NewLogger() (*logrus.Logger, error) {
	level, err := c.ParseLevel()
	if err != nil {
		return nil, err
	}
	log := logrus.New()
	log.SetLevel(level)
	if strings.EqualFold(c.Format, "json") {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}
