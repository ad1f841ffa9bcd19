// ABOUTME: Daemon command: serves scans over HTTP, NATS and Redis Streams
// ABOUTME: Wires caches, async jobs, feed updates and health checks from config

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hikmaai-io/hikmaai-lens/internal/api"
	"github.com/hikmaai-io/hikmaai-lens/internal/config"
	"github.com/hikmaai-io/hikmaai-lens/internal/dbupdater"
	"github.com/hikmaai-io/hikmaai-lens/internal/engine"
	"github.com/hikmaai-io/hikmaai-lens/internal/observability"
	"github.com/hikmaai-io/hikmaai-lens/internal/queue"
	internalredis "github.com/hikmaai-io/hikmaai-lens/internal/redis"
	"github.com/hikmaai-io/hikmaai-lens/internal/resilience"
	"github.com/hikmaai-io/hikmaai-lens/internal/scanner"
)

func newDaemonCmd() *cobra.Command {
	var (
		httpAddr      string
		natsEnabled   bool
		redisEnabled  bool
		updateEnabled bool
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the scan daemon",
		Long: `Start the HikmaAI Lens daemon.

The HTTP API is served unless http.addr is empty. NATS, Redis (verdict
cache, detection events, stream tasks) and periodic feed updates are
enabled from the config file or the flags below.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("http-addr") {
				cfg.HTTP.Addr = httpAddr
			}
			if flags.Changed("nats") {
				cfg.NATS.Enabled = natsEnabled
			}
			if flags.Changed("redis") {
				cfg.Redis.Enabled = redisEnabled
			}
			if flags.Changed("feeds-update") {
				cfg.Update.Enabled = updateEnabled
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return runDaemon(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http-addr", "", "HTTP listen address; empty disables the API")
	cmd.Flags().BoolVar(&natsEnabled, "nats", false, "serve scan requests over NATS")
	cmd.Flags().BoolVar(&redisEnabled, "redis", false, "use Redis for the verdict cache and events")
	cmd.Flags().BoolVar(&updateEnabled, "feeds-update", false, "enable periodic feed updates")

	return cmd
}

func runDaemon(ctx context.Context, cfg *config.Config) error {
	logger := newLogger(cfg, os.Stdout)
	slog.SetDefault(logger)
	audit := observability.NewAuditLogger(logger)
	metrics := observability.NewScanMetrics()

	logger.Info("starting hikmaai-lens daemon",
		slog.String("version", version),
		slog.String("data_dir", cfg.DataDir),
		slog.String("http_addr", cfg.HTTP.Addr),
		slog.Bool("nats", cfg.NATS.Enabled),
		slog.Bool("redis", cfg.Redis.Enabled),
	)

	tc := cfg.Tracing
	tc.ServiceName = "hikmaai-lens"
	tc.Version = version
	tp, err := observability.NewTracerProvider(ctx, tc)
	if err != nil {
		return fmt.Errorf("creating tracer provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown error", slog.Any("error", err))
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	db, err := openSignatureDB(cfg, false, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	store, source, err := startupStore(ctx, cfg, db, logger)
	if err != nil {
		return err
	}
	audit.LogSignatureSetLoaded(ctx, source, store.Fingerprint(), store.Len())

	var redisClient *internalredis.Client
	if cfg.Redis.Enabled {
		redisClient, err = internalredis.NewClient(ctx, cfg.Redis.Config)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer redisClient.Close()
		logger.Info("redis connected", slog.String("addr", cfg.Redis.Addr))
	}

	engCfg := engine.EngineConfig{
		Store:      store,
		Classifier: cfg.Classifier.Options(),
		CacheBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cfg.Cache.BreakerMaxFailures,
			ResetTimeout: cfg.Cache.BreakerResetTimeout,
			OnStateChange: func(name string, from, to resilience.State) {
				logger.Warn("circuit breaker state change",
					slog.String("breaker", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()),
				)
			},
		},
		Metrics: metrics,
		Logger:  logger,
		Audit:   audit,
	}
	cache, err := openVerdictCache(cfg, redisClient, logger)
	if err != nil {
		return err
	}
	if cache != nil {
		// The engine closes the cache.
		engCfg.Cache = cache.VerdictCache
		engCfg.Bloom = cache.bloom
		logger.Info("verdict cache enabled",
			slog.String("backend", cache.backend),
			slog.String("location", cache.location),
			slog.Duration("ttl", cache.ttl),
		)
	}
	if redisClient != nil && cfg.Redis.PublishEvents {
		engCfg.Events = internalredis.NewEventPublisher(redisClient, cfg.Redis.EventStream, cfg.Redis.EventMaxLen)
	}

	eng := engine.NewEngine(engCfg)
	defer eng.Close()
	if err := eng.RebuildBloomFilter(ctx); err != nil {
		logger.Warn("bloom filter rebuild failed", slog.Any("error", err))
	}
	logger.Info("engine initialized",
		slog.Int("signatures", store.Len()),
		slog.String("version", store.Version()),
	)

	// Background components run until shutdown, not until the signal fires,
	// so in-flight work can finish during the stop sequence.
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	healthCfg := cfg.Health.Checker()
	healthCfg.Logger = logger
	health := scanner.NewHealthChecker(healthCfg)
	health.Register("signatures", func(context.Context) error {
		if eng.Signatures().Len() == 0 {
			return errors.New("active signature set is empty")
		}
		return nil
	})
	if redisClient != nil {
		health.Register("redis", redisClient.Ping)
	}

	var (
		jobStore *engine.JobStore
		worker   *scanner.Worker
	)
	if cfg.Jobs.Enabled {
		path := cfg.JobsPath()
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("creating jobs directory: %w", err)
		}
		jobStore, err = engine.NewJobStore(engine.StoreConfig{Path: path, Logger: engine.NewBadgerLogger(logger)}, cfg.Jobs.Retention)
		if err != nil {
			return fmt.Errorf("creating job store: %w", err)
		}
		defer jobStore.Close()

		worker = scanner.NewWorker(scanner.WorkerConfig{
			Scanner:     eng,
			JobStore:    jobStore,
			Concurrency: cfg.Jobs.Concurrency,
			QueueSize:   cfg.Jobs.QueueSize,
			Metrics:     metrics,
			Logger:      logger,
			Audit:       audit,
		})
		worker.Start(runCtx)
		logger.Info("scan worker started", slog.Int("workers", cfg.Jobs.Concurrency))
	}

	gcsClient, err := openGCS(ctx, cfg,
		(cfg.Update.Enabled && needsGCS(cfg)) ||
			(cfg.StreamWorker.Enabled && (cfg.GCS.Bucket != "" || cfg.GCS.EmulatorHost != "")))
	if err != nil {
		return err
	}
	if gcsClient != nil {
		defer gcsClient.Close()
	}

	var (
		updates    api.UpdateStatusProvider
		updateSvc  *dbupdater.Scheduler
		natsClient *queue.Client
		streamWkr  *scanner.StreamWorker
	)

	if cfg.Update.Enabled {
		sources, err := feedSources(cfg, newSourceOptions(cfg, gcsClient))
		if err != nil {
			return err
		}
		updater := dbupdater.NewSignatureSetUpdater(dbupdater.SignatureSetUpdaterConfig{
			Feeds:  sources,
			Engine: eng,
			DB:     db,
			Logger: logger,
			Audit:  audit,
		})
		updateSvc = dbupdater.NewScheduler(dbupdater.SchedulerConfig{
			Logger:     logger,
			Retry:      cfg.Update.Backoff,
			RunOnStart: true,
		})
		updateSvc.Register(updater, cfg.Update.Interval)
		if err := updateSvc.Start(runCtx); err != nil {
			return fmt.Errorf("starting update service: %w", err)
		}
		updates = updateSvc
	}

	if cfg.NATS.Enabled {
		natsClient = queue.NewClient(cfg.NATS.NATSConfig, queue.NewHandler(eng), logger)
		if err := natsClient.Connect(ctx); err != nil {
			return err
		}
		if err := natsClient.Subscribe(runCtx); err != nil {
			_ = natsClient.Close()
			return err
		}
		health.Register("nats", func(context.Context) error {
			if !natsClient.IsConnected() {
				return errors.New("not connected")
			}
			return nil
		})
	}

	if cfg.StreamWorker.Enabled {
		swCfg := cfg.StreamWorker.StreamWorkerConfig
		if swCfg.ConsumerName == "" {
			swCfg.ConsumerName, _ = os.Hostname()
		}
		if swCfg.ConsumerName == "" {
			swCfg.ConsumerName = "lens-worker"
		}

		var objects scanner.ObjectOpener
		if gcsClient != nil {
			objects = gcsClient
		}
		streamWkr, err = scanner.NewStreamWorker(swCfg, redisClient, eng, objects, logger)
		if err != nil {
			return err
		}
		if err := streamWkr.Start(runCtx); err != nil {
			return fmt.Errorf("starting stream worker: %w", err)
		}
	}

	if cfg.Signatures.Watch {
		watcher, err := newRuleWatcher(cfg, eng, updateSvc, logger)
		if err != nil {
			return err
		}
		if watcher != nil {
			watcher.Start(runCtx)
			defer watcher.Stop()
		}
	}

	health.Start(runCtx)

	var (
		httpServer *http.Server
		serveErr   = make(chan error, 1)
	)
	if cfg.HTTP.Addr != "" {
		handler := api.NewHandler(api.HandlerConfig{
			Engine:        eng,
			JobStore:      jobStore,
			Worker:        worker,
			HealthChecker: health,
			Updates:       updates,
			MaxBodySize:   cfg.HTTP.MaxBodySize,
		})
		httpServer = &http.Server{
			Addr:         cfg.HTTP.Addr,
			Handler:      handler.Routes(logger),
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
		}
		go func() {
			logger.Info("starting HTTP server", slog.String("addr", cfg.HTTP.Addr))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("daemon ready, waiting for requests")
	var runErr error
	select {
	case <-sigCtx.Done():
	case runErr = <-serveErr:
		logger.Error("HTTP server error", slog.Any("error", runErr))
	}

	logger.Info("shutting down daemon")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	defer cancelShutdown()

	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP server shutdown error", slog.Any("error", err))
		}
	}
	if natsClient != nil {
		if err := natsClient.Close(); err != nil {
			logger.Warn("NATS close error", slog.Any("error", err))
		}
	}
	if streamWkr != nil {
		streamWkr.Stop()
	}
	if worker != nil {
		worker.Stop()
	}
	if updateSvc != nil {
		updateSvc.Stop()
	}
	health.Stop()

	logger.Info("daemon stopped")
	return runErr
}

// newRuleWatcher reloads signatures when a local rule file changes. With
// the update service running it triggers the signatures updater; otherwise
// it rebuilds the builtin table and files and swaps them in.
func newRuleWatcher(cfg *config.Config, eng *engine.Engine, svc *dbupdater.Scheduler, logger *slog.Logger) (*dbupdater.RuleWatcher, error) {
	paths := watchedPaths(cfg)
	if len(paths) == 0 {
		logger.Warn("signatures.watch is on but no local rule files are configured")
		return nil, nil
	}

	reload := func(ctx context.Context) {
		if svc != nil {
			if err := svc.Trigger(dbupdater.SignatureSetUpdaterName); err != nil {
				logger.Warn("triggering signature update", slog.Any("error", err))
			}
			return
		}
		store, _, err := startupStore(ctx, cfg, nil, logger)
		if err != nil {
			logger.Warn("rule file reload rejected", slog.Any("error", err))
			return
		}
		if _, err := eng.Swap(ctx, store); err != nil {
			logger.Warn("installing reloaded signatures", slog.Any("error", err))
		}
	}

	watcher, err := dbupdater.NewRuleWatcher(dbupdater.RuleWatcherConfig{
		Paths:    paths,
		OnChange: reload,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating rule watcher: %w", err)
	}
	return watcher, nil
}
