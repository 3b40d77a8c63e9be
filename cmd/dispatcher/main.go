// Package main is the entry point for the dispatcher. It is the only
// process that publishes first-attempt job messages: it scans the jobs
// table for due pending work on a fixed interval and sends each job to its
// lane queue. Running a single dispatcher keeps enqueue ordering simple;
// the workers only republish retries.
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
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"sweeper/internal/config"
	"sweeper/internal/db"
	"sweeper/internal/queue"
	"sweeper/internal/scheduler"
)

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
	logger.Info("sweeper dispatcher starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"interval", cfg.Engine.DispatchInterval.String(),
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

	publisher := queue.NewPublisher(sqsClient, queue.LaneURLs{
		Jobs:   cfg.AWS.JobsQueueURL,
		DMHigh: cfg.AWS.DMHighQueueURL,
		DMLow:  cfg.AWS.DMLowQueueURL,
	}, logger)

	dispatcher := scheduler.NewDispatcher(scheduler.DispatcherConfig{
		Jobs:      db.NewJobRepository(pool),
		Publisher: publisher,
		Interval:  cfg.Engine.DispatchInterval,
		BatchSize: cfg.Engine.DispatchBatch,
		Logger:    logger,
	})

	return dispatcher.Run(ctx)
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
