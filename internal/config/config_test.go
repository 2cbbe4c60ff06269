package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ADMIN_TOKEN", "admin")
	t.Setenv("GATEWAY_SECRET", testSecret)

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, 64, cfg.Gateway.EventBuffer)
	assert.Equal(t, 10*time.Second, cfg.Gateway.WriteTimeout)
	assert.Equal(t, 30*time.Second, cfg.Gateway.PingInterval)
	assert.Equal(t, "@every 1m", cfg.Sweep.ExpirySchedule)
	assert.Equal(t, "@every 5m", cfg.Sweep.EnterpriseSchedule)
	assert.Equal(t, 8, cfg.Sweep.Concurrency)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DB_DSN", "postgres://localhost/acl")
	t.Setenv("GATEWAY_PING_INTERVAL", "5s")
	t.Setenv("RECOMPUTE_CONCURRENCY", "2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 5*time.Second, cfg.Gateway.PingInterval)
	assert.Equal(t, 2, cfg.Sweep.Concurrency)
}

func TestLoad_InvalidValue(t *testing.T) {
	t.Setenv("SERVER_PORT", "not-a-port")
	_, err := Load()
	assert.Error(t, err)
}

func validConfig() *Config {
	return &Config{
		Server:   ServerConfig{Host: "0.0.0.0", Port: 8080, AdminToken: "admin"},
		Database: DatabaseConfig{Driver: "sqlite3", DSN: "test.db"},
		Gateway: GatewayConfig{
			Secret:       testSecret,
			EventBuffer:  64,
			WriteTimeout: time.Second,
			PingInterval: time.Second,
		},
		Sweep: SweepConfig{Concurrency: 1},
		Log:   LogConfig{Level: "info", Format: "text"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing admin token", func(c *Config) { c.Server.AdminToken = "" }, "ADMIN_TOKEN"},
		{"missing gateway secret", func(c *Config) { c.Gateway.Secret = "" }, "GATEWAY_SECRET"},
		{"short gateway secret", func(c *Config) { c.Gateway.Secret = "short" }, "at least 32"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "DB_DRIVER"},
		{"empty dsn", func(c *Config) { c.Database.DSN = "" }, "DB_DSN"},
		{"zero buffer", func(c *Config) { c.Gateway.EventBuffer = 0 }, "GATEWAY_EVENT_BUFFER"},
		{"zero concurrency", func(c *Config) { c.Sweep.Concurrency = 0 }, "RECOMPUTE_CONCURRENCY"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "LOG_LEVEL"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "LOG_FORMAT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLogConfig_NewLogger(t *testing.T) {
	c := LogConfig{Level: "debug", Format: "json"}
	log, err := c.NewLogger()
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)
}
