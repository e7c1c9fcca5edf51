package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "memory", cfg.Queue.Driver)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.Engine.LeaseTTL)
	assert.Equal(t, "@every 1m", cfg.Recovery.Schedule)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "none", cfg.EventBus.Provider)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pedidoflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
storage:
  driver: sqlite
  dsn: /var/lib/pedidoflow/state.db
queue:
  driver: storage
worker:
  concurrency: 8
  busy_retry_delay: 200ms
recovery:
  enabled: true
  stale_after: 5m
logging:
  level: debug
  format: text
event_bus:
  provider: kafka
  brokers: ["kafka:9092"]
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "/var/lib/pedidoflow/state.db", cfg.Storage.DSN)
	assert.Equal(t, "storage", cfg.Queue.Driver)
	assert.Equal(t, 8, cfg.Worker.Concurrency)
	assert.Equal(t, 200*time.Millisecond, cfg.Worker.BusyRetryDelay)
	assert.True(t, cfg.Recovery.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.Recovery.StaleAfter)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, []string{"kafka:9092"}, cfg.EventBus.Brokers)
	assert.Equal(t, "pedidoflow.history", cfg.EventBus.Topic)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestParse_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown key", "serverr:\n  addr: x\n", "field serverr not found"},
		{"bad driver", "storage:\n  driver: cassandra\n", "Config.Storage.Driver"},
		{"missing dsn", "storage:\n  driver: postgres\n", "Config.Storage.DSN"},
		{"bad level", "logging:\n  level: loud\n", "Config.Logging.Level"},
		{"kafka without brokers", "event_bus:\n  provider: kafka\n", "Config.EventBus.Brokers"},
		{"sample ratio", "tracing:\n  sample_ratio: 2\n", "Config.Tracing.SampleRatio"},
		{"storage queue on memory", "queue:\n  driver: storage\n", "persistent storage driver"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_EmptyDocument(t *testing.T) {
	cfg, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParse_StaleAfter(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want time.Duration
	}{
		{"absent", "recovery:\n  enabled: true\n", 2 * time.Minute},
		{"explicit zero", "recovery:\n  enabled: true\n  stale_after: 0s\n", 0},
		{"set", "recovery:\n  stale_after: 30s\n", 30 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse(strings.NewReader(tt.yaml))
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.Recovery.StaleAfter)
		})
	}
}
