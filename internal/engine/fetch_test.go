package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"sweeper/internal/twitter"
	"sweeper/internal/types"
)

// quietUser wires the mocks so fetchHistory runs against an account with
// nothing new to import.
func quietUser(m *engineMocks, user *types.User) {
	m.flagged.On("IDSet", mock.Anything).Return(map[string]struct{}{}, nil)
	m.client.On("UserTimeline", mock.Anything, user.TwitterID, user.SinceID, "").
		Return(nil, "", nil)
	m.client.On("Favorites", mock.Anything, user.TwitterID, user.SinceID, "").
		Return(nil, "", nil)
	m.threads.On("ResetExclusions", mock.Anything, user.ID).Return(nil)
	m.tweets.On("MaxTwitterID", mock.Anything, user.ID).Return(user.SinceID, nil)
}

func TestRunFetchWithoutUserCancels(t *testing.T) {
	e, _ := newTestEngine(Config{})
	err := e.runFetch(context.Background(), &types.Job{ID: "job_1", Type: types.JobFetch}, nil)
	assert.ErrorIs(t, err, ErrCancelJob)
}

func TestFetchHistoryImportsPagesAndAdvancesCheckpoint(t *testing.T) {
	e, m := newTestEngine(Config{})
	user := &types.User{ID: "user_1", TwitterID: "42", ScreenName: "alice"}

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.flagged.On("IDSet", mock.Anything).Return(map[string]struct{}{"666": {}}, nil)
	// No checkpoint yet, no imported tweets: the walk starts from scratch.
	m.tweets.On("MaxTwitterID", mock.Anything, "user_1").Return("", nil).Once()

	m.client.On("UserTimeline", mock.Anything, "42", "", "").
		Return([]twitter.Tweet{
			{ID: "105", AuthorID: "42", CreatedAt: created, Text: "hello"},
			{ID: "101", AuthorID: "42", CreatedAt: created.Add(-time.Hour), Text: "older"},
		}, "100", nil).Once()
	m.client.On("UserTimeline", mock.Anything, "42", "", "100").
		Return(nil, "", nil).Once()
	m.tweets.On("Upsert", mock.Anything, mock.MatchedBy(func(tw *types.Tweet) bool {
		return tw.UserID == "user_1" && !tw.IsReply && !tw.IsRetweet
	})).Return(nil).Twice()

	// Each non-reply is the root of its own conversation.
	m.threads.On("GetOrCreate", mock.Anything, "user_1", "105").Return(int64(1), nil)
	m.threads.On("GetOrCreate", mock.Anything, "user_1", "101").Return(int64(2), nil)
	m.tweets.On("GetByTwitterID", mock.Anything, "user_1", "105").
		Return(&types.Tweet{ID: 11, UserID: "user_1", TwitterID: "105"}, nil)
	m.tweets.On("GetByTwitterID", mock.Anything, "user_1", "101").
		Return(&types.Tweet{ID: 12, UserID: "user_1", TwitterID: "101"}, nil)
	m.tweets.On("SetThread", mock.Anything, int64(11), int64(1)).Return(nil)
	m.tweets.On("SetThread", mock.Anything, int64(12), int64(2)).Return(nil)

	m.client.On("Favorites", mock.Anything, "42", "", "").
		Return([]twitter.Tweet{
			{ID: "900", AuthorID: "666", CreatedAt: created},
			{ID: "901", AuthorID: "7", CreatedAt: created},
		}, "", nil).Once()
	m.likes.On("Upsert", mock.Anything, mock.MatchedBy(func(l *types.Like) bool {
		return l.TwitterID == "900" && l.IsFlagged
	})).Return(nil).Once()
	m.likes.On("Upsert", mock.Anything, mock.MatchedBy(func(l *types.Like) bool {
		return l.TwitterID == "901" && !l.IsFlagged
	})).Return(nil).Once()

	m.threads.On("ResetExclusions", mock.Anything, "user_1").Return(nil)
	m.tweets.On("MaxTwitterID", mock.Anything, "user_1").Return("105", nil).Once()
	m.users.On("UpdateSinceID", mock.Anything, "user_1", "105").Return(nil)

	var progress types.FetchProgress
	persists := 0
	persist := func(context.Context) error { persists++; return nil }

	require.NoError(t, e.fetchHistory(context.Background(), user, &progress, persist))
	assert.Equal(t, 2, progress.TweetsFetched)
	assert.Equal(t, 2, progress.LikesFetched)
	assert.Equal(t, 2, persists)
	assert.Equal(t, "105", user.SinceID)
	m.tweets.AssertExpectations(t)
	m.likes.AssertExpectations(t)
}

func TestFetchHistoryAssignsRepliesToThreads(t *testing.T) {
	e, m := newTestEngine(Config{})
	user := &types.User{ID: "user_1", TwitterID: "42", SinceID: "50"}

	parentID := "40"
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.flagged.On("IDSet", mock.Anything).Return(map[string]struct{}{}, nil)
	m.client.On("UserTimeline", mock.Anything, "42", "50", "").
		Return([]twitter.Tweet{
			{ID: "60", AuthorID: "42", CreatedAt: created, InReplyToID: &parentID},
		}, "", nil).Once()
	m.tweets.On("Upsert", mock.Anything, mock.Anything).Return(nil)

	// The reply's parent is the conversation root.
	m.client.On("GetTweet", mock.Anything, "40").
		Return(&twitter.Tweet{ID: "40", AuthorID: "42", CreatedAt: created.Add(-time.Hour)}, nil)
	m.threads.On("GetOrCreate", mock.Anything, "user_1", "40").Return(int64(7), nil)
	m.tweets.On("GetByTwitterID", mock.Anything, "user_1", "60").
		Return(&types.Tweet{ID: 3, UserID: "user_1", TwitterID: "60"}, nil)
	m.tweets.On("SetThread", mock.Anything, int64(3), int64(7)).Return(nil)

	m.client.On("Favorites", mock.Anything, "42", "50", "").Return(nil, "", nil)
	m.threads.On("ResetExclusions", mock.Anything, "user_1").Return(nil)
	m.tweets.On("MaxTwitterID", mock.Anything, "user_1").Return("60", nil)
	m.users.On("UpdateSinceID", mock.Anything, "user_1", "60").Return(nil)

	var progress types.FetchProgress
	err := e.fetchHistory(context.Background(), user, &progress, func(context.Context) error { return nil })
	require.NoError(t, err)
	m.threads.AssertExpectations(t)
	m.tweets.AssertCalled(t, "SetThread", mock.Anything, int64(3), int64(7))
}

func TestFetchHistoryAssignsPopularRootToItsOwnThread(t *testing.T) {
	e, m := newTestEngine(Config{})
	user := &types.User{ID: "user_1", TwitterID: "42", SinceID: "50"}

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.flagged.On("IDSet", mock.Anything).Return(map[string]struct{}{}, nil)
	m.client.On("UserTimeline", mock.Anything, "42", "50", "").
		Return([]twitter.Tweet{
			{ID: "100", AuthorID: "42", CreatedAt: created, RetweetCount: 50},
		}, "", nil).Once()
	m.tweets.On("Upsert", mock.Anything, mock.Anything).Return(nil)

	// A conversation root joins its own thread without any lookup calls;
	// that is what lets its replies' exclusion protect it and vice versa.
	m.threads.On("GetOrCreate", mock.Anything, "user_1", "100").Return(int64(9), nil)
	m.tweets.On("GetByTwitterID", mock.Anything, "user_1", "100").
		Return(&types.Tweet{ID: 4, UserID: "user_1", TwitterID: "100"}, nil)
	m.tweets.On("SetThread", mock.Anything, int64(4), int64(9)).Return(nil)

	m.client.On("Favorites", mock.Anything, "42", "50", "").Return(nil, "", nil)
	m.threads.On("ResetExclusions", mock.Anything, "user_1").Return(nil)
	m.tweets.On("MaxTwitterID", mock.Anything, "user_1").Return("100", nil)
	m.users.On("UpdateSinceID", mock.Anything, "user_1", "100").Return(nil)

	var progress types.FetchProgress
	err := e.fetchHistory(context.Background(), user, &progress, func(context.Context) error { return nil })
	require.NoError(t, err)
	m.client.AssertNotCalled(t, "GetTweet", mock.Anything, mock.Anything)
	m.tweets.AssertCalled(t, "SetThread", mock.Anything, int64(4), int64(9))
}

func TestRunFetchExcessFlaggedLikesBlocksWithoutNudge(t *testing.T) {
	e, m := newTestEngine(Config{DashboardURL: "https://sweeper.example"})
	user := &types.User{ID: "user_1", TwitterID: "42", ScreenName: "alice", SinceID: "50", Paused: true}
	quietUser(m, user)

	m.jobs.On("UpdateProgress", mock.Anything, "job_1", mock.Anything).Return(nil)
	m.likes.On("CountFlaggedSince", mock.Anything, "user_1", mock.Anything).Return(5, nil)
	m.jobs.On("Create", mock.Anything, mock.MatchedBy(func(j *types.Job) bool {
		return j.Type == types.JobBlock
	})).Return(nil).Once()

	job := &types.Job{ID: "job_1", Type: types.JobFetch, UserID: &user.ID}
	require.NoError(t, e.runFetch(context.Background(), job, user))

	// Block job only, no onboarding DM despite the paused account.
	m.jobs.AssertNumberOfCalls(t, "Create", 1)
}

func TestRunFetchAtLimitDoesNotBlock(t *testing.T) {
	e, m := newTestEngine(Config{DashboardURL: "https://sweeper.example"})
	user := &types.User{ID: "user_1", TwitterID: "42", ScreenName: "alice", SinceID: "50", Paused: true}
	quietUser(m, user)

	m.jobs.On("UpdateProgress", mock.Anything, "job_1", mock.Anything).Return(nil)
	m.likes.On("CountFlaggedSince", mock.Anything, "user_1", mock.Anything).Return(flaggedLikeLimit, nil)
	m.jobs.On("Create", mock.Anything, mock.MatchedBy(func(j *types.Job) bool {
		if j.Type != types.JobDM {
			return false
		}
		var p types.DMJobPayload
		if err := json.Unmarshal(j.Payload, &p); err != nil {
			return false
		}
		return p.DestTwitterID == "42"
	})).Return(nil).Once()

	job := &types.Job{ID: "job_1", Type: types.JobFetch, UserID: &user.ID}
	require.NoError(t, e.runFetch(context.Background(), job, user))
	m.jobs.AssertExpectations(t)
}

func TestRunFetchActiveUserGetsNoDM(t *testing.T) {
	e, m := newTestEngine(Config{})
	user := &types.User{ID: "user_1", TwitterID: "42", ScreenName: "alice", SinceID: "50"}
	quietUser(m, user)

	m.jobs.On("UpdateProgress", mock.Anything, "job_1", mock.Anything).Return(nil)
	m.likes.On("CountFlaggedSince", mock.Anything, "user_1", mock.Anything).Return(0, nil)

	job := &types.Job{ID: "job_1", Type: types.JobFetch, UserID: &user.ID}
	require.NoError(t, e.runFetch(context.Background(), job, user))
	m.jobs.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestRecomputeThreadExclusions(t *testing.T) {
	e, m := newTestEngine(Config{})
	user := &types.User{
		ID: "user_1",
		Settings: types.Settings{
			ProtectThreads:   true,
			RetweetThreshold: 10,
			LikeThreshold:    25,
		},
	}
	m.threads.On("ResetExclusions", mock.Anything, "user_1").Return(nil)
	m.threads.On("ExcludeQualifying", mock.Anything, "user_1", 10, 25).Return(int64(3), nil)

	require.NoError(t, e.recomputeThreadExclusions(context.Background(), user))
	m.threads.AssertExpectations(t)

	// With protection off only the reset runs.
	user.Settings.ProtectThreads = false
	require.NoError(t, e.recomputeThreadExclusions(context.Background(), user))
	m.threads.AssertNumberOfCalls(t, "ExcludeQualifying", 1)
}
