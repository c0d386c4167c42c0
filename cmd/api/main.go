// Package main is the entry point for the PushPoint API server.
//
// It loads configuration, connects the database pool, builds the push
// transport and the recurring job engine, resyncs stored schedules into the
// engine, and starts the HTTP server with the core chassis (middleware,
// routing, health checks).
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
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
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"pushpoint/internal/api/handlers"
	"pushpoint/internal/config"
	"pushpoint/internal/core"
	"pushpoint/internal/db"
	"pushpoint/internal/external"
	"pushpoint/internal/jobs"
	"pushpoint/internal/notifications/push"
	"pushpoint/internal/schedule"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("pushpoint API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.HTTP.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database pool.
	pool, err := newPool(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	scheduleRepo := db.NewScheduleRepository(pool)

	// Push transport.
	httpClient := &http.Client{Timeout: cfg.Push.HTTPTimeout}
	expo := external.NewExpoClient(httpClient, cfg.Push.ExpoBaseURL, cfg.Push.ExpoAccessToken.Unmask())

	// Delivery metrics: CloudWatch when enabled, no-op otherwise.
	metrics, err := newPushMetrics(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// Job engine and the dispatcher it fires into.
	dispatcher := push.NewDispatcher(expo, metrics, logger, push.WithSendTimeout(cfg.Push.SendTimeout))
	engine := jobs.NewCronEngine(dispatcher.Dispatch, logger)

	reconciler := schedule.NewReconciler(scheduleRepo, engine, expo, cfg.Scheduler.Timezone, logger)

	// Rebuild the engine's entries from stored schedules before accepting
	// traffic, so jobs lost to a restart or a past advisory failure fire again.
	restored, err := reconciler.Resync(ctx)
	if err != nil {
		return fmt.Errorf("resyncing schedules: %w", err)
	}
	logger.Info("schedule resync complete", "jobs_restored", restored)

	engine.Start()

	// HTTP chassis.
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	scheduleHandler := handlers.NewScheduleHandler(reconciler, scheduleRepo, expo, srv.Validator, logger)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, scheduleHandler.RegisterRoutes)
	srv.HealthProbes = append(srv.HealthProbes, &dbProbe{pool: pool})

	srv.MountRoutes()

	return serve(ctx, cfg, srv, engine, logger)
}

// serve runs the HTTP server until the context is cancelled, then shuts the
// server and the job engine down gracefully.
func serve(ctx context.Context, cfg *config.Config, srv *core.Server, engine *jobs.CronEngine, logger *slog.Logger) error {
	addr := ":" + cfg.HTTP.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("initiating graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "error", err)
		}
		if err := engine.Stop(shutdownCtx); err != nil {
			logger.Error("job engine shutdown error", "error", err)
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newPool builds the pgx connection pool from the database config and
// verifies connectivity before returning it.
func newPool(ctx context.Context, dbCfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dbCfg.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	poolCfg.MaxConns = int32(dbCfg.MaxConns)
	poolCfg.MinConns = int32(dbCfg.MinConns)
	poolCfg.MaxConnLifetime = dbCfg.MaxConnLifetime
	poolCfg.HealthCheckPeriod = dbCfg.HealthCheckPeriod
	poolCfg.ConnConfig.ConnectTimeout = dbCfg.AcquireTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// newPushMetrics returns the delivery metrics backend: CloudWatch when
// metrics are enabled, a no-op recorder otherwise.
func newPushMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (push.Metrics, error) {
	if !cfg.Observability.EnableMetrics {
		return push.NoopMetrics{}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		// LocalStack support.
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})
	return push.NewCloudWatchMetrics(cwClient, logger), nil
}

// dbProbe reports database connectivity for the health endpoint.
type dbProbe struct {
	pool *pgxpool.Pool
}

func (p *dbProbe) Name() string { return "database" }

func (p *dbProbe) Check(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	})
	return slog.New(handler)
}
