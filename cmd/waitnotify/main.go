// Package main is the entry point for the wait/notify join service.
// It wires the engine, the event listener and the background jobs for the
// configured storage mode and serves the HTTP API until signaled.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"waitnotify-go/internal/api"
	"waitnotify-go/internal/banner"
	"waitnotify-go/internal/callback"
	"waitnotify-go/internal/cleanup"
	"waitnotify-go/internal/config"
	"waitnotify-go/internal/engine"
	"waitnotify-go/internal/events"
	"waitnotify-go/internal/leader"
	"waitnotify-go/internal/listener"
	"waitnotify-go/internal/lock"
	memorylock "waitnotify-go/internal/lock/memory"
	redislock "waitnotify-go/internal/lock/redis"
	"waitnotify-go/internal/notifier"
	"waitnotify-go/internal/queue"
	kafkaqueue "waitnotify-go/internal/queue/kafka"
	memoryqueue "waitnotify-go/internal/queue/memory"
	"waitnotify-go/internal/scheduler"
	"waitnotify-go/internal/store"
	memorystor "waitnotify-go/internal/store/memory"
	postgresstor "waitnotify-go/internal/store/postgres"
	sqlitestor "waitnotify-go/internal/store/sqlite"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	flag.Parse()

	banner.Print(os.Stdout)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err, "path", *configPath)
		os.Exit(1)
	}

	logger := initLogger(&cfg.Logger)
	logger.Info("configuration loaded",
		"path", *configPath,
		"storage_mode", cfg.Storage.Mode,
		"leader_mode", cfg.Leader.Mode,
	)

	// Initialize dependencies based on storage mode
	deps, cleanupDeps, err := initDependencies(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize dependencies", "error", err)
		os.Exit(1)
	}
	defer cleanupDeps()

	// Create context that listens for shutdown signals
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Start listener in background
	go func() {
		if err := deps.listener.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error("listener error", "error", err)
			cancel()
		}
	}()

	if deps.lease != nil {
		go deps.lease.Run(ctx)
	}
	deps.scheduler.Start(ctx, deps.gate)

	// Start HTTP server
	go func() {
		if err := deps.server.Start(); err != nil {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	logger.Info("waitnotify started",
		"version", banner.Version,
		"address", cfg.Server.Address(),
		"storage_mode", cfg.Storage.Mode,
	)

	// Wait for shutdown signal
	<-ctx.Done()
	logger.Info("shutdown signal received")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer shutdownCancel()

	if err := deps.server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	deps.scheduler.Wait()

	if err := deps.listener.Stop(); err != nil {
		logger.Error("listener shutdown error", "error", err)
	}

	logger.Info("waitnotify stopped")
}

// dependencies holds all initialized service dependencies.
type dependencies struct {
	server    *api.Server
	listener  *listener.Service
	scheduler *scheduler.Scheduler
	gate      leader.Gate
	lease     *leader.Lease
}

// initDependencies creates and wires all service dependencies based on config.
// Returns the dependencies and a cleanup function.
func initDependencies(cfg *config.Config, logger *slog.Logger) (*dependencies, func(), error) {
	var (
		repos        store.Repositories
		locker       lock.Locker
		producer     queue.Producer
		consumer     queue.Consumer
		cleanupFuncs []func()
	)

	cleanupAll := func() {
		for i := len(cleanupFuncs) - 1; i >= 0; i-- {
			cleanupFuncs[i]()
		}
	}

	switch {
	case cfg.Storage.UseStorage():
		logger.Info("initializing production storage (Kafka, Redis, PostgreSQL)")

		// Initialize PostgreSQL
		ctx := context.Background()
		db, err := postgresstor.NewDB(ctx, &cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		cleanupFuncs = append(cleanupFuncs, db.Close)

		// Run migrations
		if err := db.RunMigrations(ctx); err != nil {
			cleanupAll()
			return nil, nil, err
		}
		logger.Info("database migrations completed")
		repos = db.Repositories()

		// Initialize Redis
		redisLocker, err := redislock.NewLocker(&cfg.Redis)
		if err != nil {
			cleanupAll()
			return nil, nil, err
		}
		locker = redisLocker
		cleanupFuncs = append(cleanupFuncs, func() { _ = redisLocker.Close() })

		// Initialize Kafka
		kafkaProducer := kafkaqueue.NewProducer(&cfg.Kafka)
		producer = kafkaProducer
		cleanupFuncs = append(cleanupFuncs, func() { _ = kafkaProducer.Close() })

		kafkaConsumer := kafkaqueue.NewConsumer(&cfg.Kafka, logger)
		consumer = kafkaConsumer
		cleanupFuncs = append(cleanupFuncs, func() { _ = kafkaConsumer.Close() })

	case cfg.Storage.UseSQLite():
		logger.Info("initializing SQLite storage", "path", cfg.SQLite.Path)

		db, err := sqlitestor.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		cleanupFuncs = append(cleanupFuncs, func() { _ = db.Close() })
		repos = db.Repositories()

		locker = memorylock.NewLocker()
		memQueue := memoryqueue.NewQueue(cfg.Engine.QueueBufferSize)
		producer = memQueue
		consumer = memQueue

	default:
		logger.Info("initializing in-memory storage")

		repos = memorystor.NewStore().Repositories()
		locker = memorylock.NewLocker()
		memQueue := memoryqueue.NewQueue(cfg.Engine.QueueBufferSize)
		producer = memQueue
		consumer = memQueue
	}

	publisher := events.NewPublisher(producer)

	// Callbacks are resolved by name at delivery time, so every process
	// running a listener must register the same names.
	callbacks := callback.NewRegistry()
	engineService := engine.NewService(repos, publisher, callbacks, cfg.Engine.WaitTTL, logger)
	callbacks.MustRegister(callback.LogName, callback.NewLogFactory(logger))
	callbacks.MustRegister(callback.RelayName, callback.NewRelayFactory(engineService))

	listenerService := listener.NewService(consumer, repos, locker, callbacks, cfg.Listener, logger)

	sched := scheduler.New(logger)
	sched.Add(notifier.NewService(repos, locker, publisher, cfg.Notifier, logger), cfg.Notifier.Interval)
	sched.Add(cleanup.NewService(repos, cfg.Cleanup, logger), cfg.Cleanup.Interval)

	var (
		gate  leader.Gate
		lease *leader.Lease
	)
	if cfg.Leader.Mode == config.LeaderModeLease {
		lease = leader.NewLease(locker, cfg.Leader.Lease, logger)
		lease.SetMaintenance(cfg.Leader.Maintenance)
		gate = lease
	} else {
		gate = leader.NewStatic(cfg.Leader.Primary, cfg.Leader.Maintenance)
	}

	server := api.NewServer(api.ServerDeps{
		Config:          &cfg.Server,
		Logger:          logger,
		WaitHandler:     api.NewWaitHandler(engineService, logger),
		ResponseHandler: api.NewResponseHandler(engineService, logger),
	})

	return &dependencies{
		server:    server,
		listener:  listenerService,
		scheduler: sched,
		gate:      gate,
		lease:     lease,
	}, cleanupAll, nil
}

// initLogger creates and configures the application logger.
func initLogger(cfg *config.LoggerConfig) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
