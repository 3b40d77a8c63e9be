// Package main is the entry point for the DM worker. It runs one consumer
// per DM lane: the high-priority lane carries reminder and notification
// sends, the low-priority lane carries block and unblock actions. Each lane
// executes sequentially so the engine's pacing pauses hold.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"sweeper/internal/config"
	"sweeper/internal/db"
	"sweeper/internal/engine"
	"sweeper/internal/metrics"
	"sweeper/internal/queue"
	"sweeper/internal/twitter"
	"sweeper/internal/types"
)

type metricSink interface {
	engine.MetricSink
	queue.EscalationSink
}

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
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
	logger.Info("sweeper DM worker starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"worker_id", cfg.Engine.WorkerID,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return fmt.Errorf("loading AWS config: %w", err)
	}
	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})

	var sink metricSink = metrics.Noop{}
	if cfg.Observability.EnableMetrics {
		sink = metrics.NewCloudWatchSink(cloudwatch.NewFromConfig(awsCfg), logger)
	}

	eng := buildEngine(cfg, pool, sink, logger)
	publisher := queue.NewPublisher(sqsClient, queue.LaneURLs{
		Jobs:   cfg.AWS.JobsQueueURL,
		DMHigh: cfg.AWS.DMHighQueueURL,
		DMLow:  cfg.AWS.DMLowQueueURL,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)
	for _, lane := range []types.Lane{types.LaneDMHigh, types.LaneDMLow} {
		consumer := queue.NewConsumer(sqsClient, publisher, eng, db.NewJobRepository(pool), lane, logger, sink)
		g.Go(func() error {
			return consumer.Run(gctx)
		})
	}

	return g.Wait()
}

func buildEngine(cfg *config.Config, pool *pgxpool.Pool, sink engine.MetricSink, logger *slog.Logger) *engine.Engine {
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

	return engine.NewEngine(engine.Config{
		SystemTwitterID:  cfg.Twitter.SystemTwitterID,
		SystemScreenName: cfg.Twitter.SystemScreenName,
		DashboardURL:     cfg.Server.DashboardURL,
		BulkDMDir:        cfg.Engine.BulkDMDir,
		WorkerID:         cfg.Engine.WorkerID,
		LockTTL:          cfg.Engine.LockTTL,
	}, engine.Dependencies{
		Jobs:    db.NewJobRepository(pool),
		Users:   db.NewUserRepository(pool),
		Tweets:  db.NewTweetRepository(pool),
		Likes:   db.NewLikeRepository(pool),
		Threads: db.NewThreadRepository(pool),
		Billing: db.NewBillingRepository(pool),
		Flagged: db.NewFlaggedAccountRepository(pool),
		Locks:   db.NewAccountLockRepository(pool),
		Clients: clients,
		Metrics: sink,
		Logger:  logger,
		Ping:    pool.Ping,
	})
}

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
