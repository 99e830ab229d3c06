package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/swarm-trading/swarm/internal/behavior"
	"github.com/swarm-trading/swarm/internal/bot"
	"github.com/swarm-trading/swarm/internal/config"
	"github.com/swarm-trading/swarm/internal/dist"
	"github.com/swarm-trading/swarm/internal/executor"
	"github.com/swarm-trading/swarm/internal/observability"
	"github.com/swarm-trading/swarm/internal/pools"
	"github.com/swarm-trading/swarm/internal/queue"
	"github.com/swarm-trading/swarm/internal/randomization"
	"github.com/swarm-trading/swarm/internal/stealth"
)

func main() {
	configPath := flag.String("config", "config/swarm.yaml", "Path to configuration file")
	stubMode := flag.Bool("stub", false, "Use the stub executor and pool source (no network)")
	restore := flag.Bool("restore", true, "Restore persisted bots and tasks on startup")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}
	if *stubMode {
		cfg.General.DryRun = true
	}
	setupLogging(cfg.General)

	log.Info().Msg("=============================================")
	log.Info().Msg("Swarm Core - Starting")
	log.Info().Msg("=============================================")

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Configuration validation failed")
	}

	dryRun := cfg.General.DryRun
	log.Info().
		Str("instance_id", cfg.General.InstanceID).
		Bool("dry_run", dryRun).
		Str("storage", cfg.Storage.Backend).
		Int("swarm_count", cfg.Swarm.Count).
		Int("max_concurrent", cfg.Manager.MaxConcurrent).
		Msg("Configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage.
	var store queue.Store
	if cfg.Storage.Backend == "memory" || dryRun {
		store = queue.NewMemoryStore()
		log.Info().Msg("Storage: in-memory")
	} else {
		badger, err := queue.OpenBadgerStore(cfg.Storage.Path)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Storage.Path).Msg("Failed to open badger store")
		}
		store = badger
		log.Info().Str("path", cfg.Storage.Path).Msg("Storage: badger")
	}

	// Metrics and error collection.
	collector := observability.NewCollector()

	// Task queue.
	taskQueue, err := queue.New(cfg.Queue, cfg.RateLimit, store, collector)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create task queue")
	}

	// Randomization stack.
	sampler := dist.NewSampler(cfg.Randomization.Seed)
	antiDetect := stealth.NewEngine(cfg.Stealth, sampler)
	rng := randomization.NewEngine(cfg.Randomization, antiDetect)

	// Bot stack.
	registry := behavior.NewRegistry()
	var manager *bot.Manager
	scheduler := bot.NewWakeScheduler(func(botID string) {
		manager.TickBot(botID)
	})
	factory := bot.NewFactory(registry, rng, taskQueue, scheduler, collector)
	manager = bot.NewManager(cfg.Manager, factory, rng, store)

	// Executor. The live execution service client plugs in here; dry runs
	// and stub mode use the simulator.
	var exec executor.TradeExecutor
	if dryRun {
		stub := executor.NewStubExecutor(cfg.Randomization.Seed)
		stub.SetLatency(25 * time.Millisecond)
		exec = stub
		log.Info().Msg("Executor: STUB mode")
	} else {
		log.Fatal().Msg("No live executor configured; run with --stub or dry_run: true")
	}
	taskQueue.RegisterProcessor("swap", executor.SwapProcessor(exec, manager))

	// Pool monitoring.
	var source pools.PoolSource
	var feed *pools.WSPoolFeed
	if *stubMode || cfg.Pools.Feed.Endpoint == "" {
		source = pools.NewStubPoolSource()
		log.Info().Msg("Pool source: STUB mode")
	} else {
		feed = pools.NewWSPoolFeed(cfg.Pools.Feed)
		feed.Subscribe(cfg.Pools.Tokens...)
		source = feed
		go feed.Run(ctx)
	}
	monitor := pools.NewMonitor(cfg.Pools.Monitor, source)
	detector := pools.NewDetector(cfg.Pools.Detector, monitor)
	for _, token := range cfg.Pools.Tokens {
		detector.AddToken(token)
	}
	detector.SetOnMigration(func(evt pools.MigrationEvent) {
		// Campaign logic subscribes via Migrations(); the core only logs.
		log.Warn().
			Str("token", evt.Token).
			Str("source", evt.Source).
			Str("dest", evt.Destination).
			Msg("Pool migration confirmed, campaign redirect required")
	})

	go taskQueue.Run(ctx)
	go scheduler.Run(ctx)
	go monitor.Run(ctx)
	go detector.StartMonitoring(ctx)

	// Health and metrics endpoint.
	if cfg.Metrics.Enabled {
		startMetricsServer(cfg, collector, taskQueue, manager, feed)
	}

	// Restore persisted bots, then build the configured swarm.
	if *restore {
		if n, err := manager.Restore(); err != nil {
			log.Warn().Err(err).Msg("Bot restore failed")
		} else if n > 0 {
			log.Info().Int("bots", n).Msg("Bots restored from snapshots")
		}
	}
	if cfg.Swarm.Count > 0 {
		if _, err := manager.CreateSwarm(cfg.Swarm); err != nil {
			log.Fatal().Err(err).Msg("Failed to create configured swarm")
		}
	}
	started := manager.StartAllBots()
	log.Info().Int("running", started).Msg("Swarm started")

	// Wait for shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Warn().Str("signal", sig.String()).Msg("Shutdown signal received")

	manager.Shutdown()
	detector.StopMonitoring()
	cancel()
	if err := taskQueue.Close(); err != nil {
		log.Warn().Err(err).Msg("Queue close reported an error")
	}

	stats := manager.GetAggregateStats()
	log.Info().
		Int64("total_trades", stats.TotalTrades).
		Str("total_volume", stats.TotalVolume.String()).
		Msg("Swarm Core - Shutdown complete")
}

func setupLogging(general config.GeneralConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	level, err := zerolog.ParseLevel(general.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if general.LogFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Str("service", "swarm-core").
			Str("instance", general.InstanceID).Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().Timestamp().Str("service", "swarm-core").
			Str("instance", general.InstanceID).Logger()
	}
}

func startMetricsServer(cfg *config.Config, collector *observability.Collector,
	taskQueue *queue.Queue, manager *bot.Manager, feed *pools.WSPoolFeed) {

	health := observability.NewHealthMonitor(15 * time.Second)
	health.Register("queue", observability.QueueDepthCheck(func() int {
		s := taskQueue.GetQueueStats()
		return s.Waiting + s.Scheduled
	}, 500, 5000))
	health.Register("bots", observability.RunningBotsCheck(func() int {
		return manager.GetAggregateStats().Running
	}))
	if feed != nil {
		health.Register("pool_feed", observability.FeedConnectedCheck(feed.Connected))
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.NewPrometheusExporter(collector.Registry()))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		h := health.Check(r.Context())
		if h.Status == observability.StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		fmt.Fprintf(w, "%s\n", h.Status)
	})

	go func() {
		log.Info().Str("addr", cfg.Metrics.Addr).Msg("Metrics server listening")
		if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
			log.Error().Err(err).Msg("Metrics server stopped")
		}
	}()
}
