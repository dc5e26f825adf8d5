package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/go-chatcore/internal/api"
	"github.com/npezzotti/go-chatcore/internal/broadcast"
	"github.com/npezzotti/go-chatcore/internal/cache"
	"github.com/npezzotti/go-chatcore/internal/config"
	"github.com/npezzotti/go-chatcore/internal/coord"
	"github.com/npezzotti/go-chatcore/internal/database"
	"github.com/npezzotti/go-chatcore/internal/events"
	"github.com/npezzotti/go-chatcore/internal/presence"
	"github.com/npezzotti/go-chatcore/internal/pubsub"
	"github.com/npezzotti/go-chatcore/internal/semantic"
	"github.com/npezzotti/go-chatcore/internal/stats"
	"github.com/npezzotti/go-chatcore/internal/threads"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

const shutdownTimeout = 10 * time.Second

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the thread API and background coordination",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(c.String("config"))
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}

			level := zerolog.InfoLevel
			if c.Bool("debug") {
				level = zerolog.DebugLevel
			}
			logger := zerolog.New(os.Stderr).Level(level).With().Timestamp().Str("service", "chatcore").Logger()

			return serve(c.Context, cfg, logger)
		},
	}
}

// messageCreator adapts the message writer to the reply use case.
type messageCreator struct {
	w *database.MessageWriter
}

func (m messageCreator) CreateMessage(ctx context.Context, msg threads.NewMessage) (string, error) {
	return m.w.Insert(ctx, msg.RoomID, msg.Type, msg.Sender.Username, msg.Text)
}

func serve(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	instanceID := uuid.NewString()
	logger = logger.With().Str("instance_id", instanceID).Logger()

	statsUpdater := stats.NewStatsUpdater()

	db, err := database.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("db open: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error().Err(err).Msg("db close")
		}
	}()

	coordClient, err := coord.NewClient(coordOptions(cfg, instanceID), logger, statsUpdater)
	if err != nil {
		return fmt.Errorf("coordination store: %w", err)
	}
	defer coordClient.Close()

	if cfg.Redis.Configured() && !coordClient.CheckHealth(ctx) {
		logger.Warn().Msg("coordination store unreachable, running degraded")
	}

	cacheOpts := func(ttl time.Duration) cache.Options {
		return cache.Options{TTL: ttl, LocalMaxEntries: cfg.Cache.LocalMaxEntries}
	}
	queryCache := cache.NewQueryCache(coordClient, cacheOpts(cfg.Cache.QueryTTL), logger, statsUpdater)
	messageCache := cache.NewMessageCache(coordClient, cacheOpts(cfg.Cache.MessageTTL), logger, statsUpdater)
	sessionCache := cache.NewSessionCache(coordClient, cacheOpts(cfg.Cache.SessionTTL), logger, statsUpdater)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	presenceSvc := presence.NewService(coordClient, sessionCache, presence.Options{
		TTL:             cfg.Presence.TTL,
		RefreshInterval: cfg.Presence.RefreshInterval,
	}, logger, statsUpdater)
	go presenceSvc.Run(runCtx)

	hub := pubsub.NewCoordinator(coordClient, logger, statsUpdater)
	if err := hub.Initialize(ctx); err != nil {
		logger.Warn().Err(err).Msg("pubsub unavailable, cross-instance delivery disabled")
	}
	defer hub.Close()

	factory := semantic.NewFactory(semantic.Config{
		URI:            cfg.Neo4j.URI,
		Username:       cfg.Neo4j.Username,
		Password:       cfg.Neo4j.Password,
		Database:       cfg.Neo4j.Database,
		ConnectTimeout: cfg.Neo4j.ConnectTimeout,
	}, logger)
	index := factory.Index(ctx)

	repo := database.NewThreadRepository(db, queryCache, messageCache, index, database.RepositoryOptions{
		QueryTTL:   cfg.Cache.QueryTTL,
		MessageTTL: cfg.Cache.MessageTTL,
	}, logger, statsUpdater)

	bus := events.NewBus(events.Options{
		Workers:   cfg.Events.Workers,
		QueueSize: cfg.Events.QueueSize,
	}, logger, statsUpdater)

	analyzer := threads.KeywordAnalyzer{}
	svc := threads.NewService(repo, messageCreator{database.NewMessageWriter(db, messageCache)}, index, analyzer, bus, logger, statsUpdater)

	assigner := threads.NewAutoAssigner(repo, analyzer, coordClient, bus, threads.AutoAssignOptions{
		MaxDepth:      cfg.AutoAssign.MaxDepth,
		MaxThreads:    cfg.AutoAssign.MaxThreads,
		RatePerSecond: cfg.AutoAssign.RatePerSecond,
		Burst:         cfg.AutoAssign.Burst,
		LockTTL:       cfg.AutoAssign.LockTTL,
	}, logger, statsUpdater)
	bus.On(events.MessageCreated, assigner.HandleMessageCreated)

	bridge := broadcast.NewBridge(hub, bus, queryCache, instanceID, logger)
	if err := bridge.Start(ctx); err != nil {
		logger.Warn().Err(err).Msg("broadcast bridge started without subscriptions")
	}

	srv := api.NewServer(api.Options{
		Addr:    cfg.Server.Addr,
		Threads: svc,
		DB:      db,
		Dependencies: map[string]api.Dependency{
			"coord":    coordClient,
			"semantic": factory,
		},
		Metrics: statsUpdater.Handler(),
	}, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info().Str("signal", sig.String()).Msg("received signal")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server")
		}
	case <-ctx.Done():
	}

	shutDownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown")
	}

	stop()
	if err := bridge.Stop(shutDownCtx); err != nil {
		logger.Warn().Err(err).Msg("broadcast bridge stop")
	}

	logger.Info().Msg("draining event handlers...")
	if err := bus.Close(shutDownCtx); err != nil {
		logger.Warn().Err(err).Msg("event bus close")
	}
	if err := factory.Close(shutDownCtx); err != nil {
		logger.Warn().Err(err).Msg("semantic index close")
	}

	logger.Info().Msg("shutdown complete")
	return nil
}

func coordOptions(cfg *config.Config, instanceID string) coord.Options {
	r := cfg.Redis
	opts := coord.Options{
		URL:             r.EffectiveURL(),
		Username:        r.Username,
		Password:        r.Password,
		DB:              r.DB,
		DialTimeout:     r.DialTimeout,
		OpTimeout:       r.OpTimeout,
		MaxRetries:      r.MaxRetries,
		MinRetryBackoff: r.MinRetryBackoff,
		MaxRetryBackoff: r.MaxRetryBackoff,
		HealthInterval:  r.HealthInterval,
		ClientName:      "chatcore-" + instanceID[:8],
	}
	if opts.URL == "" {
		opts.Addr = r.Addr
	}
	return opts
}
