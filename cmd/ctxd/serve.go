package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/alfredjeanlab/ctxconf/internal/cache"
	"github.com/alfredjeanlab/ctxconf/internal/config"
	"github.com/alfredjeanlab/ctxconf/internal/events"
	"github.com/alfredjeanlab/ctxconf/internal/idgen"
	"github.com/alfredjeanlab/ctxconf/internal/logging"
	"github.com/alfredjeanlab/ctxconf/internal/metrics"
	"github.com/alfredjeanlab/ctxconf/internal/overrides"
	"github.com/alfredjeanlab/ctxconf/internal/server"
	"github.com/alfredjeanlab/ctxconf/internal/store"
	"github.com/alfredjeanlab/ctxconf/internal/store/memory"
	"github.com/alfredjeanlab/ctxconf/internal/store/mongo"
	"github.com/alfredjeanlab/ctxconf/internal/store/postgres"
	ctxsync "github.com/alfredjeanlab/ctxconf/internal/sync"
	"github.com/spf13/cobra"
)

const healthInterval = 10 * time.Second

var serveEnvFile string

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the configuration server",
	GroupID: "system",
	// Override PersistentPreRunE so we don't build an API client.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		var envFiles []string
		if serveEnvFile != "" {
			envFiles = append(envFiles, serveEnvFile)
		}
		cfg, err := config.Load(envFiles...)
		if err != nil {
			return err
		}

		logger, logCloser := logging.New(logging.Options{
			Level:  cfg.LogLevel,
			Format: cfg.LogFormat,
			File:   cfg.LogFile,
		})
		defer logCloser.Close()
		slog.SetDefault(logger)

		return serve(cmd.Context(), cfg, logger)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveEnvFile, "env-file", "", "load environment variables from this file (default .env when present)")
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("error closing store", "err", err)
		}
	}()
	logger.Info("store ready", "driver", cfg.Store)

	m := metrics.New()

	backend, err := openCacheBackend(ctx, cfg)
	if err != nil {
		return err
	}
	c := cache.New(backend,
		cache.WithTTL(cfg.CacheTTL),
		cache.WithOpTimeout(cfg.CacheOpTimeout),
		cache.WithLogger(logger),
		cache.WithMetrics(m),
	)
	defer c.Close()
	logger.Info("cache ready", "backend", backend.Name(), "ttl", cfg.CacheTTL)

	// Events: the local change feed always, NATS when configured, which also
	// carries cross-instance cache invalidation.
	hub := server.NewEventHub()
	var publisher events.Publisher = hub
	if cfg.NATSURL != "" {
		pub, err := events.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			return fmt.Errorf("connecting to NATS: %w", err)
		}
		publisher = events.MultiPublisher{pub, hub}
		origin := idgen.NewRequestID()
		c.SetNotifier(events.NewBroadcaster(pub, origin))

		sub, err := events.NewNATSSubscriber(cfg.NATSURL)
		if err != nil {
			pub.Close()
			return fmt.Errorf("connecting NATS subscriber: %w", err)
		}
		defer sub.Close()
		if err := events.ListenInvalidations(ctx, sub, c, origin, logger); err != nil {
			pub.Close()
			return fmt.Errorf("subscribing to invalidations: %w", err)
		}
		logger.Info("events enabled", "nats_url", cfg.NATSURL, "origin", origin)
	} else {
		logger.Info("events disabled (CTXCONF_NATS_URL not set)")
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error("error closing publisher", "err", err)
		}
	}()

	svc := overrides.New(st, c,
		overrides.WithLogger(logger),
		overrides.WithMetrics(m),
		overrides.WithPublisher(publisher),
	)

	defaults, err := loadBootstrap(cfg.BootstrapFile)
	if err != nil {
		return err
	}
	global, created, err := svc.EnsureGlobal(ctx, defaults, "bootstrap")
	if err != nil {
		return fmt.Errorf("ensuring global configuration: %w", err)
	}
	if created {
		logger.Info("global configuration created", "id", global.ID)
	}

	cs := server.NewConfigServer(svc, st,
		server.WithLogger(logger),
		server.WithMetrics(m),
		server.WithAuth(cfg.AuthToken, cfg.AdminToken),
		server.WithEventHub(hub),
	)

	// gRPC health.
	grpcServer, hs := server.NewGRPCServer(cfg.AuthToken)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}
	go func() {
		logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", "err", err)
		}
	}()
	go server.WatchHealth(ctx, hs, st, healthInterval)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           cs.NewHTTPHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Open event streams would otherwise hold Shutdown until its timeout.
	httpServer.RegisterOnShutdown(func() { _ = hub.Close() })
	httpErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	scheduler := startSync(ctx, cfg, st, logger)

	logger.Info("ctxconf server started",
		"http_addr", cfg.HTTPAddr,
		"grpc_addr", cfg.GRPCAddr,
	)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received signal, shutting down")
	case runErr = <-httpErr:
		logger.Error("HTTP server error", "err", runErr)
	}

	if scheduler != nil {
		scheduler.Stop()
		logger.Info("sync scheduler stopped")
	}

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "err", err)
	}
	logger.Info("HTTP server stopped")

	logger.Info("shutdown complete")
	return runErr
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store {
	case "postgres":
		return postgres.New(cfg.DatabaseURL)
	case "mongo":
		return mongo.New(ctx, cfg.MongoURI, cfg.MongoDatabase)
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

func openCacheBackend(ctx context.Context, cfg *config.Config) (cache.Backend, error) {
	switch cfg.CacheBackend {
	case "local":
		return cache.NewLocalBackend(cfg.CacheCapacity, cfg.CacheTTL), nil
	case "redis":
		client, err := cache.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return cache.NewRedisBackend(client, ""), nil
	case "none":
		return cache.NoopBackend{}, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
}

// startSync starts the snapshot scheduler when a destination is configured.
func startSync(ctx context.Context, cfg *config.Config, src ctxsync.Source, logger *slog.Logger) *ctxsync.Scheduler {
	if !cfg.SyncEnabled() {
		return nil
	}

	var dests []ctxsync.Destination
	if cfg.SyncS3Bucket != "" {
		s3Dest, err := ctxsync.NewS3Destination(ctx, cfg.SyncS3Bucket, cfg.SyncS3Key, cfg.SyncS3Region, cfg.SyncS3Endpoint)
		if err != nil {
			logger.Error("failed to create S3 sync destination", "err", err)
		} else {
			dests = append(dests, s3Dest)
			logger.Info("sync S3 destination enabled", "bucket", cfg.SyncS3Bucket, "key", cfg.SyncS3Key)
		}
	}
	if cfg.SyncGitRepo != "" {
		dests = append(dests, ctxsync.NewGitDestination(cfg.SyncGitRepo, cfg.SyncGitFile, cfg.SyncGitBranch))
		logger.Info("sync git destination enabled", "repo", cfg.SyncGitRepo, "file", cfg.SyncGitFile)
	}
	if len(dests) == 0 {
		return nil
	}

	scheduler := ctxsync.NewScheduler(src, dests, cfg.SyncInterval, logger)
	scheduler.Start()
	logger.Info("sync scheduler started", "interval", cfg.SyncInterval)
	return scheduler
}
