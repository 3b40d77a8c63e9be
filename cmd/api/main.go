// Package main is the entry point for the sweeper ops API server.
//
// The server exposes manual job triggers and job inspection behind the admin
// key, collects voluntary tips through Stripe, and receives Stripe webhooks.
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

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"sweeper/internal/api/handlers"
	"sweeper/internal/billing"
	"sweeper/internal/config"
	"sweeper/internal/core"
	"sweeper/internal/db"
	"sweeper/internal/engine"
	"sweeper/internal/metrics"
	"sweeper/internal/twitter"
	"sweeper/internal/types"
)

// metricSink is the union of the telemetry surfaces this process records
// to. Satisfied by both the CloudWatch sink and the no-op sink.
type metricSink interface {
	core.MetricsCollector
	engine.MetricSink
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("sweeper API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	jobRepo := db.NewJobRepository(pool)
	userRepo := db.NewUserRepository(pool)
	tweetRepo := db.NewTweetRepository(pool)
	likeRepo := db.NewLikeRepository(pool)
	threadRepo := db.NewThreadRepository(pool)
	billingRepo := db.NewBillingRepository(pool)
	flaggedRepo := db.NewFlaggedAccountRepository(pool)
	lockRepo := db.NewAccountLockRepository(pool)

	sink, err := newMetricSink(ctx, cfg, logger)
	if err != nil {
		return err
	}

	clients := twitter.NewFactory(twitter.FactoryConfig{
		App: twitter.AppCredentials{
			ConsumerKey:    types.SecretString(cfg.Twitter.ConsumerKey),
			ConsumerSecret: cfg.Twitter.ConsumerSecret,
		},
		DMApp: twitter.AppCredentials{
			ConsumerKey:    types.SecretString(cfg.Twitter.DMConsumerKey),
			ConsumerSecret: cfg.Twitter.DMConsumerSecret,
		},
		SystemAccessToken:         cfg.Twitter.SystemAccessToken,
		SystemAccessTokenSecret:   cfg.Twitter.SystemAccessTokenSecret,
		SystemDMAccessToken:       cfg.Twitter.SystemDMAccessToken,
		SystemDMAccessTokenSecret: cfg.Twitter.SystemDMAccessTokenSecret,
		BaseURL:                   cfg.Twitter.BaseURL,
	})

	eng := engine.NewEngine(engine.Config{
		SystemTwitterID:  cfg.Twitter.SystemTwitterID,
		SystemScreenName: cfg.Twitter.SystemScreenName,
		DashboardURL:     cfg.Server.DashboardURL,
		BulkDMDir:        cfg.Engine.BulkDMDir,
		WorkerID:         cfg.Engine.WorkerID,
		LockTTL:          cfg.Engine.LockTTL,
	}, engine.Dependencies{
		Jobs:    jobRepo,
		Users:   userRepo,
		Tweets:  tweetRepo,
		Likes:   likeRepo,
		Threads: threadRepo,
		Billing: billingRepo,
		Flagged: flaggedRepo,
		Locks:   lockRepo,
		Clients: clients,
		Metrics: sink,
		Logger:  logger,
		Ping:    pool.Ping,
	})

	stripeClient := billing.NewStripeClient(&http.Client{Timeout: 30 * time.Second}, billing.StripeClientConfig{
		SecretKey: cfg.Billing.StripeSecretKey,
		Retry:     billing.DefaultRetryPolicy(),
		Logger:    logger,
	})
	tipService := billing.NewTipService(stripeClient, billingRepo, logger)

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Metrics = sink
	srv.HealthProbes = []core.HealthProbe{
		core.NewProbe("database", pool.Ping),
	}

	jobHandler := handlers.NewJobHandler(jobRepo, userRepo, eng, srv.Validator, logger)
	tipHandler := handlers.NewTipHandler(tipService, billingRepo, srv.Validator, logger)
	webhookHandler := handlers.NewStripeWebhookHandler(
		tipService,
		billing.SignatureVerifier{},
		cfg.Billing.StripeWebhookSecret,
		logger,
	)

	srv.AdminRouteRegistrars = append(srv.AdminRouteRegistrars,
		jobHandler.RegisterRoutes,
		tipHandler.RegisterRoutes,
	)
	srv.PublicRouteRegistrars = append(srv.PublicRouteRegistrars,
		webhookHandler.RegisterRoutes,
	)

	srv.MountRoutes()

	return runHTTPServer(srv, cfg, logger)
}

// newMetricSink builds the CloudWatch sink, or a no-op sink when telemetry
// is disabled.
func newMetricSink(ctx context.Context, cfg *config.Config, logger *slog.Logger) (metricSink, error) {
	if !cfg.Observability.EnableMetrics {
		return metrics.Noop{}, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return metrics.NewCloudWatchSink(cloudwatch.NewFromConfig(awsCfg), logger), nil
}

// runHTTPServer starts the server with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured JSON logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
