// Package main implements the job-runner CLI tool for executing a single
// job directly, bypassing the SQS lanes.
//
// This tool is intended for local development and operational debugging:
// re-running a job that escalated out of its queue, or exercising a
// workflow end to end against a local database.
//
// Usage:
//
//	go run ./cmd/tools/job-runner --job-id=<id>
//	go run ./cmd/tools/job-runner --user-id=<id> --list
//
// Configuration is read from the environment (or a .env file). The run goes
// through the same engine path as the workers, so account locks, pacing
// pauses, and progress checkpoints all apply.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sweeper/internal/config"
	"sweeper/internal/db"
	"sweeper/internal/engine"
	"sweeper/internal/metrics"
	"sweeper/internal/twitter"
	"sweeper/internal/types"
)

func main() {
	jobID := flag.String("job-id", "", "Job id to execute")
	userID := flag.String("user-id", "", "Account whose jobs to list (with --list)")
	list := flag.Bool("list", false, "List the account's jobs instead of executing")
	flag.Parse()

	if err := run(*jobID, *userID, *list); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(jobID, userID string, list bool) error {
	if !list && jobID == "" {
		return fmt.Errorf("--job-id is required (or use --list with --user-id)")
	}
	if list && userID == "" {
		return fmt.Errorf("--list requires --user-id")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	jobs := db.NewJobRepository(pool)

	if list {
		return printJobs(ctx, jobs, userID)
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
		WorkerID:         "job-runner-" + cfg.Engine.WorkerID,
		LockTTL:          cfg.Engine.LockTTL,
	}, engine.Dependencies{
		Jobs:    jobs,
		Users:   db.NewUserRepository(pool),
		Tweets:  db.NewTweetRepository(pool),
		Likes:   db.NewLikeRepository(pool),
		Threads: db.NewThreadRepository(pool),
		Billing: db.NewBillingRepository(pool),
		Flagged: db.NewFlaggedAccountRepository(pool),
		Locks:   db.NewAccountLockRepository(pool),
		Clients: clients,
		Metrics: metrics.Noop{},
		Logger:  logger,
		Ping:    pool.Ping,
	})

	start := time.Now()
	if err := eng.Execute(ctx, jobID); err != nil {
		return fmt.Errorf("executing job %s: %w", jobID, err)
	}
	fmt.Printf("job %s finished in %s\n", jobID, time.Since(start).Round(time.Millisecond))
	return nil
}

func printJobs(ctx context.Context, jobs *db.JobRepository, userID string) error {
	list, err := jobs.ListByUser(ctx, userID)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("no jobs")
		return nil
	}
	for _, j := range list {
		scheduled := "-"
		if j.ScheduledAt != nil {
			scheduled = j.ScheduledAt.Format(time.RFC3339)
		}
		fmt.Printf("%s  %-16s  %-9s  scheduled=%s\n", j.ID, j.Type, j.Status, scheduled)
	}
	return nil
}
