// Package config loads the pedidoflow service configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	defaultAddr            = ":8080"
	defaultShutdownTimeout = 15 * time.Second

	defaultStorageDriver = "memory"
	defaultRedisPrefix   = "pedidoflow:"
	defaultMongoDatabase = "pedidoflow"

	defaultQueueCapacity = 1024

	defaultConcurrency    = 4
	defaultBusyRetryDelay = 50 * time.Millisecond

	defaultLeaseTTL = 30 * time.Second

	defaultRecoverySchedule   = "@every 1m"
	defaultRecoveryStaleAfter = 2 * time.Minute

	defaultLogLevel  = "info"
	defaultLogFormat = "json"

	defaultMetricsNamespace = "pedidoflow"

	defaultServiceName = "pedidoflow"

	defaultEventBusProvider = "none"
	defaultEventBusTopic    = "pedidoflow.history"
)

// Config is the complete service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Queue    QueueConfig    `yaml:"queue"`
	Worker   WorkerConfig   `yaml:"worker"`
	Engine   EngineConfig   `yaml:"engine"`
	Recovery RecoveryConfig `yaml:"recovery"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing"`
	EventBus EventBusConfig `yaml:"event_bus"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

// StorageConfig selects the history and instance store.
type StorageConfig struct {
	// Driver is one of memory, sqlite, postgres, redis or mongo.
	Driver string `yaml:"driver" validate:"oneof=memory sqlite postgres redis mongo"`

	// DSN is the SQLite file, the Postgres connection string, the Redis
	// address or the Mongo URI.
	DSN string `yaml:"dsn" validate:"required_unless=Driver memory"`

	RedisPrefix   string `yaml:"redis_prefix"`
	MongoDatabase string `yaml:"mongo_database"`
}

// QueueConfig selects the task queue. Without a queue the service advances
// instances inline on the request goroutine.
type QueueConfig struct {
	// Driver is none, memory, or "storage" to use the same backend as the
	// stores.
	Driver   string `yaml:"driver" validate:"oneof=none memory storage"`
	Capacity int    `yaml:"capacity" validate:"gte=0"`
}

// WorkerConfig sizes the worker pool.
type WorkerConfig struct {
	Concurrency    int           `yaml:"concurrency" validate:"gte=1"`
	BusyRetryDelay time.Duration `yaml:"busy_retry_delay" validate:"gt=0"`
}

// EngineConfig holds instance manager settings.
type EngineConfig struct {
	LeaseTTL time.Duration `yaml:"lease_ttl" validate:"gt=0"`
	Owner    string        `yaml:"owner"`
}

// RecoveryConfig controls the periodic in-flight sweep.
type RecoveryConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Schedule   string        `yaml:"schedule" validate:"required_if=Enabled true"`
	StaleAfter time.Duration `yaml:"stale_after" validate:"gte=0"`
}

// LoggingConfig defines logging behavior settings.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

// MetricsConfig controls the Prometheus observer and /metrics.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// TracingConfig controls OTLP span export.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio" validate:"gte=0,lte=1"`
}

// EventBusConfig controls history event publishing.
type EventBusConfig struct {
	Provider string   `yaml:"provider" validate:"oneof=none gochannel kafka"`
	Brokers  []string `yaml:"brokers" validate:"required_if=Provider kafka"`
	Topic    string   `yaml:"topic"`
}

// Default returns a configuration with every default applied.
func Default() Config {
	var cfg Config
	cfg.Recovery.StaleAfter = defaultRecoveryStaleAfter
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills unset optional fields. Recovery.StaleAfter is not
// touched: zero is a valid setting that re-dispatches every outstanding
// task.
func (c *Config) SetDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = defaultAddr
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = defaultStorageDriver
	}
	if c.Storage.RedisPrefix == "" {
		c.Storage.RedisPrefix = defaultRedisPrefix
	}
	if c.Storage.MongoDatabase == "" {
		c.Storage.MongoDatabase = defaultMongoDatabase
	}
	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Capacity == 0 {
		c.Queue.Capacity = defaultQueueCapacity
	}
	if c.Worker.Concurrency == 0 {
		c.Worker.Concurrency = defaultConcurrency
	}
	if c.Worker.BusyRetryDelay == 0 {
		c.Worker.BusyRetryDelay = defaultBusyRetryDelay
	}
	if c.Engine.LeaseTTL == 0 {
		c.Engine.LeaseTTL = defaultLeaseTTL
	}
	if c.Recovery.Schedule == "" {
		c.Recovery.Schedule = defaultRecoverySchedule
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = defaultMetricsNamespace
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = defaultServiceName
	}
	if c.EventBus.Provider == "" {
		c.EventBus.Provider = defaultEventBusProvider
	}
	if c.EventBus.Topic == "" {
		c.EventBus.Topic = defaultEventBusTopic
	}
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			errs := make([]error, 0, len(verrs))
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("%s: failed %q validation", fe.Namespace(), fe.Tag()))
			}
			return errors.Join(errs...)
		}
		return err
	}
	if c.Queue.Driver == "storage" && c.Storage.Driver == "memory" {
		return errors.New("queue driver \"storage\" needs a persistent storage driver")
	}
	return nil
}

// Parse decodes YAML from r over Default, fills fields left empty and
// validates the result. Unknown keys are rejected.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Load reads the YAML config file at path. An empty path yields the
// validated defaults.
func Load(path string) (Config, error) {
	if path == "" {
		cfg := Default()
		return cfg, cfg.Validate()
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()
	return Parse(f)
}
