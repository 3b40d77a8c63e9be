// Package engine executes retention jobs: importing an account's history,
// deleting expired posts under upstream rate limits, sending notification
// DMs, and enforcing the auto-block policy. Each job type has one handler;
// the runner owns status transitions and per-account locking so handlers
// only implement workflow logic.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"sweeper/internal/twitter"
	"sweeper/internal/types"
)

// ErrCancelJob signals that the current job must move to canceled instead
// of being retried. Handlers wrap it around terminal failures such as
// revoked credentials or an unsendable DM.
var ErrCancelJob = errors.New("job canceled")

// JobStore is the jobs-table surface the engine consumes.
type JobStore interface {
	Create(ctx context.Context, job *types.Job) error
	GetByID(ctx context.Context, id string) (*types.Job, error)
	MarkActive(ctx context.Context, id string, startedAt time.Time) error
	MarkFinished(ctx context.Context, id string, finishedAt time.Time) error
	MarkCanceled(ctx context.Context, id string, finishedAt time.Time) error
	ResetToPending(ctx context.Context, id string) error
	Reschedule(ctx context.Context, id string, at time.Time) error
	UpdateProgress(ctx context.Context, id string, progress any) error
	CountFinishedDeleteJobs(ctx context.Context, userID string) (int, error)
	FinishedDeleteJobs(ctx context.Context, userID string) ([]*types.Job, error)
}

// UserStore is the users-table surface the engine consumes.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*types.User, error)
	GetByTwitterID(ctx context.Context, twitterID string) (*types.User, error)
	SetPaused(ctx context.Context, id string, paused bool) error
	SetBlocked(ctx context.Context, id string, blocked bool) error
	UpdateSinceID(ctx context.Context, id string, sinceID string) error
	DisableDMs(ctx context.Context, id string) error
}

// TweetStore is the tweets-table surface the engine consumes.
type TweetStore interface {
	Upsert(ctx context.Context, t *types.Tweet) error
	GetByTwitterID(ctx context.Context, userID, twitterID string) (*types.Tweet, error)
	MaxTwitterID(ctx context.Context, userID string) (string, error)
	SetThread(ctx context.Context, tweetID int64, threadID int64) error
	MarkDeleted(ctx context.Context, tweetID int64) error
	OldRetweets(ctx context.Context, userID string, cutoff time.Time) ([]*types.Tweet, error)
	CandidatesInThreads(ctx context.Context, userID string, cutoff time.Time, retweetThreshold, likeThreshold *int, includeManuallyExcluded bool) ([]*types.Tweet, error)
	CandidatesWithoutThreads(ctx context.Context, userID string, cutoff time.Time, retweetThreshold, likeThreshold *int, includeManuallyExcluded bool) ([]*types.Tweet, error)
}

// LikeStore is the likes-table surface the engine consumes.
type LikeStore interface {
	Upsert(ctx context.Context, l *types.Like) error
	MarkDeleted(ctx context.Context, likeID int64) error
	OldLikes(ctx context.Context, userID string, cutoff time.Time) ([]*types.Like, error)
	CountFlaggedSince(ctx context.Context, userID string, since time.Time) (int, error)
	LastFlaggedLikeAt(ctx context.Context, userID string) (*time.Time, error)
}

// ThreadStore is the threads-table surface the engine consumes.
type ThreadStore interface {
	GetOrCreate(ctx context.Context, userID, conversationID string) (int64, error)
	ResetExclusions(ctx context.Context, userID string) error
	ExcludeQualifying(ctx context.Context, userID string, retweetThreshold, likeThreshold int) (int64, error)
}

// BillingStore is the nags/tips surface the engine consumes.
type BillingStore interface {
	CreateNag(ctx context.Context, userID string, ts time.Time) error
	LastNagAt(ctx context.Context, userID string) (*time.Time, error)
	HasPaidTipSince(ctx context.Context, userID string, since time.Time) (bool, error)
}

// FlaggedStore exposes the curated flagged-account list.
type FlaggedStore interface {
	IDSet(ctx context.Context) (map[string]struct{}, error)
}

// AccountLocker serializes history-mutating work per account.
type AccountLocker interface {
	Acquire(ctx context.Context, userID, workerID string, ttl time.Duration) (bool, error)
	Extend(ctx context.Context, userID, workerID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, userID, workerID string) error
}

// MetricSink receives engine observability signals.
type MetricSink interface {
	RecordJobOutcome(ctx context.Context, jobType types.JobType, status types.JobStatus, elapsed time.Duration)
	RecordRateLimitWait(ctx context.Context, endpoint string, wait time.Duration)
	RecordTransientRetry(ctx context.Context, endpoint string)
}

// Config holds the engine's static settings.
type Config struct {
	// SystemTwitterID and SystemScreenName identify the service's own
	// account, which users must follow to receive notification DMs.
	SystemTwitterID  string
	SystemScreenName string

	// DashboardURL is embedded in notification DMs.
	DashboardURL string

	// BulkDMDir is where uploaded direct-message exports are staged.
	BulkDMDir string

	// WorkerID identifies this process in account locks.
	WorkerID string

	// LockTTL bounds how long an account lock lives without being extended.
	LockTTL time.Duration
}

// Dependencies bundles the stores and clients the engine runs against.
type Dependencies struct {
	Jobs    JobStore
	Users   UserStore
	Tweets  TweetStore
	Likes   LikeStore
	Threads ThreadStore
	Billing BillingStore
	Flagged FlaggedStore
	Locks   AccountLocker
	Clients twitter.ClientFactory
	Metrics MetricSink
	Logger  *slog.Logger

	// Ping verifies storage connectivity before a job runs. Optional.
	Ping func(ctx context.Context) error
}

// Engine dispatches and executes jobs.
type Engine struct {
	cfg     Config
	jobs    JobStore
	users   UserStore
	tweets  TweetStore
	likes   LikeStore
	threads ThreadStore
	billing BillingStore
	flagged FlaggedStore
	locks   AccountLocker
	clients twitter.ClientFactory
	metrics MetricSink
	logger  *slog.Logger
	ping    func(ctx context.Context) error

	invoker *Invoker

	// Injectable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine creates an Engine. LockTTL defaults to 30 minutes and WorkerID
// must be unique per process.
func NewEngine(cfg Config, deps Dependencies) *Engine {
	if cfg.LockTTL == 0 {
		cfg.LockTTL = 30 * time.Minute
	}
	sleep := sleepContext
	e := &Engine{
		cfg:     cfg,
		jobs:    deps.Jobs,
		users:   deps.Users,
		tweets:  deps.Tweets,
		likes:   deps.Likes,
		threads: deps.Threads,
		billing: deps.Billing,
		flagged: deps.Flagged,
		locks:   deps.Locks,
		clients: deps.Clients,
		metrics: deps.Metrics,
		logger:  deps.Logger,
		ping:    deps.Ping,
		now:     time.Now,
		sleep:   sleep,
	}
	e.invoker = NewInvoker(deps.Logger, deps.Metrics)
	return e
}

// sleepContext blocks for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
