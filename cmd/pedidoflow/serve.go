package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	cli "github.com/urfave/cli/v3"

	"github.com/petrijr/pedidoflow/internal/config"
	"github.com/petrijr/pedidoflow/internal/engine"
	"github.com/petrijr/pedidoflow/internal/eventbus"
	"github.com/petrijr/pedidoflow/internal/httpapi"
	"github.com/petrijr/pedidoflow/internal/logging"
	"github.com/petrijr/pedidoflow/internal/metrics"
	"github.com/petrijr/pedidoflow/internal/pedido"
	"github.com/petrijr/pedidoflow/internal/recovery"
	"github.com/petrijr/pedidoflow/internal/tracing"
	"github.com/petrijr/pedidoflow/pkg/api"
	"github.com/petrijr/pedidoflow/pkg/worker"
)

func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Serve the order approval HTTP API and run the workers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration file",
				Sources: cli.EnvVars("PEDIDOFLOW_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "HTTP listen address",
				Sources: cli.EnvVars("PEDIDOFLOW_ADDR"),
			},
			&cli.StringFlag{
				Name:    "storage-driver",
				Usage:   "History store (memory, sqlite, postgres, redis, mongo)",
				Sources: cli.EnvVars("PEDIDOFLOW_STORAGE_DRIVER"),
			},
			&cli.StringFlag{
				Name:    "storage-dsn",
				Usage:   "SQLite file, Postgres URL, Redis address or Mongo URI",
				Sources: cli.EnvVars("PEDIDOFLOW_STORAGE_DSN", "DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "queue-driver",
				Usage:   "Task queue (none, memory, storage)",
				Sources: cli.EnvVars("PEDIDOFLOW_QUEUE_DRIVER"),
			},
			&cli.IntFlag{
				Name:    "concurrency",
				Usage:   "Number of worker goroutines",
				Sources: cli.EnvVars("PEDIDOFLOW_CONCURRENCY"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "History event bus (none, gochannel, kafka)",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringSliceFlag{
				Name:    "kafka-brokers",
				Usage:   "Kafka brokers for the kafka event bus",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (json, text)",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			cfg, err := loadConfig(command)
			if err != nil {
				return err
			}
			logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg)
		},
	}
}

// loadConfig reads the config file and applies flag and env overrides.
func loadConfig(command *cli.Command) (config.Config, error) {
	cfg, err := config.Load(command.String("config"))
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}

	if command.IsSet("addr") {
		cfg.Server.Addr = command.String("addr")
	}
	if command.IsSet("storage-driver") {
		cfg.Storage.Driver = command.String("storage-driver")
	}
	if command.IsSet("storage-dsn") {
		cfg.Storage.DSN = command.String("storage-dsn")
	}
	if command.IsSet("queue-driver") {
		cfg.Queue.Driver = command.String("queue-driver")
	}
	if command.IsSet("concurrency") {
		cfg.Worker.Concurrency = command.Int("concurrency")
	}
	if command.IsSet("event-bus") {
		cfg.EventBus.Provider = command.String("event-bus")
	}
	if command.IsSet("kafka-brokers") {
		cfg.EventBus.Brokers = command.StringSlice("kafka-brokers")
	}
	if command.IsSet("log-level") {
		cfg.Logging.Level = command.String("log-level")
	}
	if command.IsSet("log-format") {
		cfg.Logging.Format = command.String("log-format")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cfg config.Config) error {
	logger := logging.WithModule("serve")
	logger.InfoContext(ctx, "initializing pedidoflow",
		"storage", cfg.Storage.Driver,
		"queue", cfg.Queue.Driver,
		"addr", cfg.Server.Addr,
	)

	tp, shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.WithoutCancel(ctx)); err != nil {
			logger.Error("failed to shut down tracing", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	observers := []api.Observer{api.NewLoggingObserver(logging.WithModule("engine"))}
	if cfg.Metrics.Enabled {
		m, err := metrics.NewObserver(reg, cfg.Metrics.Namespace)
		if err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		observers = append(observers, m)
	}

	publisher, err := eventbus.Open(eventbus.Config{
		Provider: cfg.EventBus.Provider,
		Brokers:  cfg.EventBus.Brokers,
		Topic:    cfg.EventBus.Topic,
	}, logging.WithModule("eventbus"))
	if err != nil {
		return fmt.Errorf("open event bus: %w", err)
	}
	if publisher != nil {
		observers = append(observers, publisher)
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Error("failed to close event bus", "error", err)
			}
		}()
	}

	b, err := openBackend(ctx, cfg, engine.Config{
		Observer:       api.NewCompositeObserver(observers...),
		Logger:         logging.WithModule("engine"),
		TracerProvider: tp,
		LeaseTTL:       cfg.Engine.LeaseTTL,
		Owner:          cfg.Engine.Owner,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			logger.Error("failed to close storage", "error", err)
		}
	}()

	if err := pedido.Register(b.Engine); err != nil {
		return fmt.Errorf("register pedido workflow: %w", err)
	}

	if n, err := b.Engine.RecoverInFlight(ctx, 0); err != nil {
		logger.WarnContext(ctx, "startup recovery incomplete", "recovered", n, "error", err)
	} else if n > 0 {
		logger.InfoContext(ctx, "startup recovery finished", "recovered", n)
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	workersDone := make(chan struct{})
	if b.Queue != nil {
		w := worker.NewWithConfig(b.Engine, b.Queue, worker.Config{
			BusyRetryDelay: cfg.Worker.BusyRetryDelay,
			Logger:         logging.WithModule("worker"),
		})
		go func() {
			defer close(workersDone)
			_ = w.Run(runCtx, cfg.Worker.Concurrency)
		}()
	} else {
		close(workersDone)
	}

	if cfg.Recovery.Enabled {
		sweeper, err := recovery.NewSweeper(b.Engine, cfg.Recovery.Schedule, cfg.Recovery.StaleAfter, logging.WithModule("recovery"))
		if err != nil {
			return err
		}
		sweeper.Start(runCtx)
		defer sweeper.Stop()
	}

	server := httpapi.New(httpapi.Config{
		Engine:  b.Engine,
		Logger:  logging.WithModule("http"),
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
	})
	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: server.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			serveErr = fmt.Errorf("http server: %w", err)
		}
	}

	logger.Info("shutting down")
	cancelRun()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}

	select {
	case <-workersDone:
	case <-shutdownCtx.Done():
		logger.Warn("workers did not stop before the shutdown timeout")
	}
	return serveErr
}
