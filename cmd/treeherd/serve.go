package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"code.cloudfoundry.org/clock"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/livinlefevreloca/treeherd/internal/api"
	"github.com/livinlefevreloca/treeherd/internal/bugs"
	"github.com/livinlefevreloca/treeherd/internal/client"
	"github.com/livinlefevreloca/treeherd/internal/config"
	"github.com/livinlefevreloca/treeherd/internal/db"
	"github.com/livinlefevreloca/treeherd/internal/location"
	"github.com/livinlefevreloca/treeherd/internal/metrics"
	"github.com/livinlefevreloca/treeherd/internal/notify"
	"github.com/livinlefevreloca/treeherd/internal/session"
	"github.com/livinlefevreloca/treeherd/internal/syncer"
)

// notificationHistory bounds the notifications kept for GET /api/notifications
const notificationHistory = 100

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Logging, os.Stdout)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	slog.Info("starting treeherd",
		"version", version,
		"backend", cfg.Backend.URL,
		"query", rootFlags.query)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, rootFlags.query, logger)
}

// loadConfig reads the config file and applies flag overrides
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(rootFlags.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if rootFlags.backendURL != "" {
		cfg.Backend.URL = rootFlags.backendURL
	}
	if rootFlags.logLevel != "" {
		cfg.Logging.Level = rootFlags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds the root logger from the logging section
func newLogger(cfg config.LoggingConfig, out io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(cfg.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(out, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(out, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}
}

// serve runs the session and its servers until ctx is done
func serve(ctx context.Context, cfg *config.Config, query string, logger *slog.Logger) error {
	m := metrics.New()

	backend, err := client.New(cfg.Backend.URL,
		client.WithLogger(logger),
		client.WithTimeout(cfg.Backend.RequestTimeout),
		client.WithJobPageSize(cfg.Backend.JobPageSize))
	if err != nil {
		return fmt.Errorf("failed to create backend client: %w", err)
	}

	loc, err := location.New(query, logger)
	if err != nil {
		return fmt.Errorf("invalid dashboard query: %w", err)
	}

	clk := clock.NewClock()
	center := notify.NewCenter(notificationHistory, clk, logger)

	opts := []session.Option{session.WithClock(clk), session.WithMetrics(m)}
	var apiOpts []api.Option

	if cfg.Bugs.Enabled {
		prefetcher := bugs.NewPrefetcher(cfg.BugsConfig(), backend, logger)
		opts = append(opts, session.WithEnricher(prefetcher))
		apiOpts = append(apiOpts, api.WithBugSummaries(prefetcher))
	}

	if cfg.Cache.Enabled {
		logger.Info("opening push cache", "dsn", cfg.Cache.Database.DSN)
		database, err := db.OpenWithConfig(cfg.Cache.Database)
		if err != nil {
			return fmt.Errorf("failed to open cache database: %w", err)
		}
		defer database.Close()

		writer, err := syncer.NewSyncer(cfg.Cache.Syncer, clk, logger)
		if err != nil {
			return fmt.Errorf("failed to create cache syncer: %w", err)
		}
		writer.Start(database)
		opts = append(opts, session.WithCache(database, writer))
	}

	sess, err := session.New(session.Config{
		DefaultRepo:  cfg.Backend.DefaultRepo,
		Repository:   cfg.RepositoryConfig(),
		Scheduler:    cfg.Scheduler,
		Selection:    cfg.SelectionConfig(),
		InboxSize:    cfg.Inbox.BufferSize,
		InboxTimeout: cfg.Inbox.SendTimeout,
		WarmStart:    cfg.Cache.WarmStart,
		RetainPushes: cfg.Cache.RetainPushes,
	}, backend, loc, center, logger, opts...)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	var servers []*api.Server
	if cfg.HTTP.Enabled {
		handler, err := api.NewHandler(sess, api.DefaultConfig(), logger, apiOpts...)
		if err != nil {
			return fmt.Errorf("failed to create api handler: %w", err)
		}
		servers = append(servers, api.NewServer("api", cfg.HTTP.Address, cfg.HTTP.Port, handler, logger))
	}
	if cfg.Metrics.Enabled {
		servers = append(servers, api.NewServer("metrics", cfg.Metrics.Address, cfg.Metrics.Port, m.Handler(), logger))
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sess.Run(ctx)
	})
	for _, srv := range servers {
		g.Go(func() error {
			return srv.Run(ctx)
		})
	}

	logger.Info("treeherd is running",
		"http_enabled", cfg.HTTP.Enabled,
		"metrics_enabled", cfg.Metrics.Enabled,
		"cache_enabled", cfg.Cache.Enabled,
		"bugs_enabled", cfg.Bugs.Enabled)

	err = g.Wait()
	<-sess.Done()
	logger.Info("shutdown complete")
	return err
}
