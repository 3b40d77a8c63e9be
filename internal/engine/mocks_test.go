package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/stretchr/testify/mock"

	"sweeper/internal/twitter"
	"sweeper/internal/types"
)

// --- store mocks ---

type mockJobStore struct{ mock.Mock }

func (m *mockJobStore) Create(ctx context.Context, job *types.Job) error {
	return m.Called(ctx, job).Error(0)
}
func (m *mockJobStore) GetByID(ctx context.Context, id string) (*types.Job, error) {
	args := m.Called(ctx, id)
	if j := args.Get(0); j != nil {
		return j.(*types.Job), args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockJobStore) MarkActive(ctx context.Context, id string, startedAt time.Time) error {
	return m.Called(ctx, id, startedAt).Error(0)
}
func (m *mockJobStore) MarkFinished(ctx context.Context, id string, finishedAt time.Time) error {
	return m.Called(ctx, id, finishedAt).Error(0)
}
func (m *mockJobStore) MarkCanceled(ctx context.Context, id string, finishedAt time.Time) error {
	return m.Called(ctx, id, finishedAt).Error(0)
}
func (m *mockJobStore) ResetToPending(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}
func (m *mockJobStore) Reschedule(ctx context.Context, id string, at time.Time) error {
	return m.Called(ctx, id, at).Error(0)
}
func (m *mockJobStore) UpdateProgress(ctx context.Context, id string, progress any) error {
	return m.Called(ctx, id, progress).Error(0)
}
func (m *mockJobStore) CountFinishedDeleteJobs(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}
func (m *mockJobStore) FinishedDeleteJobs(ctx context.Context, userID string) ([]*types.Job, error) {
	args := m.Called(ctx, userID)
	if j := args.Get(0); j != nil {
		return j.([]*types.Job), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockUserStore struct{ mock.Mock }

func (m *mockUserStore) GetByID(ctx context.Context, id string) (*types.User, error) {
	args := m.Called(ctx, id)
	if u := args.Get(0); u != nil {
		return u.(*types.User), args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockUserStore) GetByTwitterID(ctx context.Context, twitterID string) (*types.User, error) {
	args := m.Called(ctx, twitterID)
	if u := args.Get(0); u != nil {
		return u.(*types.User), args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockUserStore) SetPaused(ctx context.Context, id string, paused bool) error {
	return m.Called(ctx, id, paused).Error(0)
}
func (m *mockUserStore) SetBlocked(ctx context.Context, id string, blocked bool) error {
	return m.Called(ctx, id, blocked).Error(0)
}
func (m *mockUserStore) UpdateSinceID(ctx context.Context, id string, sinceID string) error {
	return m.Called(ctx, id, sinceID).Error(0)
}
func (m *mockUserStore) DisableDMs(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type mockTweetStore struct{ mock.Mock }

func (m *mockTweetStore) Upsert(ctx context.Context, t *types.Tweet) error {
	return m.Called(ctx, t).Error(0)
}
func (m *mockTweetStore) GetByTwitterID(ctx context.Context, userID, twitterID string) (*types.Tweet, error) {
	args := m.Called(ctx, userID, twitterID)
	if t := args.Get(0); t != nil {
		return t.(*types.Tweet), args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockTweetStore) MaxTwitterID(ctx context.Context, userID string) (string, error) {
	args := m.Called(ctx, userID)
	return args.String(0), args.Error(1)
}
func (m *mockTweetStore) SetThread(ctx context.Context, tweetID int64, threadID int64) error {
	return m.Called(ctx, tweetID, threadID).Error(0)
}
func (m *mockTweetStore) MarkDeleted(ctx context.Context, tweetID int64) error {
	return m.Called(ctx, tweetID).Error(0)
}
func (m *mockTweetStore) OldRetweets(ctx context.Context, userID string, cutoff time.Time) ([]*types.Tweet, error) {
	args := m.Called(ctx, userID, cutoff)
	if t := args.Get(0); t != nil {
		return t.([]*types.Tweet), args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockTweetStore) CandidatesInThreads(ctx context.Context, userID string, cutoff time.Time, retweetThreshold, likeThreshold *int, includeManuallyExcluded bool) ([]*types.Tweet, error) {
	args := m.Called(ctx, userID, cutoff, retweetThreshold, likeThreshold, includeManuallyExcluded)
	if t := args.Get(0); t != nil {
		return t.([]*types.Tweet), args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockTweetStore) CandidatesWithoutThreads(ctx context.Context, userID string, cutoff time.Time, retweetThreshold, likeThreshold *int, includeManuallyExcluded bool) ([]*types.Tweet, error) {
	args := m.Called(ctx, userID, cutoff, retweetThreshold, likeThreshold, includeManuallyExcluded)
	if t := args.Get(0); t != nil {
		return t.([]*types.Tweet), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockLikeStore struct{ mock.Mock }

func (m *mockLikeStore) Upsert(ctx context.Context, l *types.Like) error {
	return m.Called(ctx, l).Error(0)
}
func (m *mockLikeStore) MarkDeleted(ctx context.Context, likeID int64) error {
	return m.Called(ctx, likeID).Error(0)
}
func (m *mockLikeStore) OldLikes(ctx context.Context, userID string, cutoff time.Time) ([]*types.Like, error) {
	args := m.Called(ctx, userID, cutoff)
	if l := args.Get(0); l != nil {
		return l.([]*types.Like), args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockLikeStore) CountFlaggedSince(ctx context.Context, userID string, since time.Time) (int, error) {
	args := m.Called(ctx, userID, since)
	return args.Int(0), args.Error(1)
}
func (m *mockLikeStore) LastFlaggedLikeAt(ctx context.Context, userID string) (*time.Time, error) {
	args := m.Called(ctx, userID)
	if t := args.Get(0); t != nil {
		return t.(*time.Time), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockThreadStore struct{ mock.Mock }

func (m *mockThreadStore) GetOrCreate(ctx context.Context, userID, conversationID string) (int64, error) {
	args := m.Called(ctx, userID, conversationID)
	return args.Get(0).(int64), args.Error(1)
}
func (m *mockThreadStore) ResetExclusions(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}
func (m *mockThreadStore) ExcludeQualifying(ctx context.Context, userID string, retweetThreshold, likeThreshold int) (int64, error) {
	args := m.Called(ctx, userID, retweetThreshold, likeThreshold)
	return args.Get(0).(int64), args.Error(1)
}

type mockBillingStore struct{ mock.Mock }

func (m *mockBillingStore) CreateNag(ctx context.Context, userID string, ts time.Time) error {
	return m.Called(ctx, userID, ts).Error(0)
}
func (m *mockBillingStore) LastNagAt(ctx context.Context, userID string) (*time.Time, error) {
	args := m.Called(ctx, userID)
	if t := args.Get(0); t != nil {
		return t.(*time.Time), args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockBillingStore) HasPaidTipSince(ctx context.Context, userID string, since time.Time) (bool, error) {
	args := m.Called(ctx, userID, since)
	return args.Bool(0), args.Error(1)
}

type mockFlaggedStore struct{ mock.Mock }

func (m *mockFlaggedStore) IDSet(ctx context.Context) (map[string]struct{}, error) {
	args := m.Called(ctx)
	if s := args.Get(0); s != nil {
		return s.(map[string]struct{}), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockLocker struct{ mock.Mock }

func (m *mockLocker) Acquire(ctx context.Context, userID, workerID string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, userID, workerID, ttl)
	return args.Bool(0), args.Error(1)
}
func (m *mockLocker) Extend(ctx context.Context, userID, workerID string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, userID, workerID, ttl)
	return args.Bool(0), args.Error(1)
}
func (m *mockLocker) Release(ctx context.Context, userID, workerID string) error {
	return m.Called(ctx, userID, workerID).Error(0)
}

// --- metric sink ---

type nopMetrics struct{}

func (nopMetrics) RecordJobOutcome(context.Context, types.JobType, types.JobStatus, time.Duration) {}
func (nopMetrics) RecordRateLimitWait(context.Context, string, time.Duration)                     {}
func (nopMetrics) RecordTransientRetry(context.Context, string)                                   {}

// --- twitter client ---

type mockClient struct{ mock.Mock }

func (m *mockClient) VerifyCredentials(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}
func (m *mockClient) UserTimeline(ctx context.Context, userID, sinceID, cursor string) ([]twitter.Tweet, string, error) {
	args := m.Called(ctx, userID, sinceID, cursor)
	var tweets []twitter.Tweet
	if t := args.Get(0); t != nil {
		tweets = t.([]twitter.Tweet)
	}
	return tweets, args.String(1), args.Error(2)
}
func (m *mockClient) Favorites(ctx context.Context, userID, sinceID, cursor string) ([]twitter.Tweet, string, error) {
	args := m.Called(ctx, userID, sinceID, cursor)
	var tweets []twitter.Tweet
	if t := args.Get(0); t != nil {
		tweets = t.([]twitter.Tweet)
	}
	return tweets, args.String(1), args.Error(2)
}
func (m *mockClient) GetTweet(ctx context.Context, id string) (*twitter.Tweet, error) {
	args := m.Called(ctx, id)
	if t := args.Get(0); t != nil {
		return t.(*twitter.Tweet), args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockClient) DestroyTweet(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}
func (m *mockClient) DestroyLike(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}
func (m *mockClient) DMEvents(ctx context.Context, cursor string) ([]twitter.DMEvent, string, error) {
	args := m.Called(ctx, cursor)
	var events []twitter.DMEvent
	if e := args.Get(0); e != nil {
		events = e.([]twitter.DMEvent)
	}
	return events, args.String(1), args.Error(2)
}
func (m *mockClient) DeleteDM(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}
func (m *mockClient) SendDM(ctx context.Context, recipientID, text string) error {
	return m.Called(ctx, recipientID, text).Error(0)
}
func (m *mockClient) Friendship(ctx context.Context, userID string) (*twitter.Relationship, error) {
	args := m.Called(ctx, userID)
	if r := args.Get(0); r != nil {
		return r.(*twitter.Relationship), args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockClient) Follow(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}
func (m *mockClient) Block(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}
func (m *mockClient) Unblock(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

// stubFactory hands the same clients to every caller.
type stubFactory struct {
	user     twitter.Client
	userDM   twitter.Client
	system   twitter.Client
	systemDM twitter.Client
}

func (f *stubFactory) ForUser(*types.User) twitter.Client    { return f.user }
func (f *stubFactory) ForUserDMs(*types.User) twitter.Client { return f.userDM }
func (f *stubFactory) System() twitter.Client                { return f.system }
func (f *stubFactory) SystemDM() twitter.Client              { return f.systemDM }

// --- test harness ---

type engineMocks struct {
	jobs    *mockJobStore
	users   *mockUserStore
	tweets  *mockTweetStore
	likes   *mockLikeStore
	threads *mockThreadStore
	billing *mockBillingStore
	flagged *mockFlaggedStore
	locks   *mockLocker
	client  *mockClient
	dm      *mockClient
	system  *mockClient
	sysDM   *mockClient
}

func newTestEngine(cfg Config) (*Engine, *engineMocks) {
	m := &engineMocks{
		jobs:    new(mockJobStore),
		users:   new(mockUserStore),
		tweets:  new(mockTweetStore),
		likes:   new(mockLikeStore),
		threads: new(mockThreadStore),
		billing: new(mockBillingStore),
		flagged: new(mockFlaggedStore),
		locks:   new(mockLocker),
		client:  new(mockClient),
		dm:      new(mockClient),
		system:  new(mockClient),
		sysDM:   new(mockClient),
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = "worker_test"
	}
	e := NewEngine(cfg, Dependencies{
		Jobs:    m.jobs,
		Users:   m.users,
		Tweets:  m.tweets,
		Likes:   m.likes,
		Threads: m.threads,
		Billing: m.billing,
		Flagged: m.flagged,
		Locks:   m.locks,
		Clients: &stubFactory{user: m.client, userDM: m.dm, system: m.system, systemDM: m.sysDM},
		Metrics: nopMetrics{},
		Logger:  slog.New(slog.DiscardHandler),
	})
	// Sleeps complete instantly in tests.
	e.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	e.invoker.sleep = e.sleep
	return e, m
}
