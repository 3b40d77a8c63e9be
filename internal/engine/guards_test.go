package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"sweeper/internal/twitter"
	"sweeper/internal/types"
)

func TestGuardStorageSkipsWithoutPing(t *testing.T) {
	e, _ := newTestEngine(Config{})
	assert.NoError(t, e.guardStorage(context.Background()))
}

func TestGuardStorageReportsPingFailure(t *testing.T) {
	e, _ := newTestEngine(Config{})
	e.ping = func(context.Context) error { return errors.New("connection refused") }

	err := e.guardStorage(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage not ready")
}

func TestGuardCredentialsPausesAndCancelsOnAuthError(t *testing.T) {
	e, m := newTestEngine(Config{})
	user := &types.User{ID: "user_1", ScreenName: "alice"}

	m.client.On("VerifyCredentials", mock.Anything).
		Return(&twitter.AuthError{Endpoint: "account/verify_credentials"})
	m.users.On("SetPaused", mock.Anything, "user_1", true).Return(nil)

	err := e.guardCredentials(context.Background(), user, m.client)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCancelJob)
	m.users.AssertCalled(t, "SetPaused", mock.Anything, "user_1", true)
}

func TestGuardCredentialsRetriesRateLimit(t *testing.T) {
	e, m := newTestEngine(Config{})
	user := &types.User{ID: "user_1"}

	m.client.On("VerifyCredentials", mock.Anything).
		Return(&twitter.RateLimitError{Endpoint: "account/verify_credentials", RetryAfter: 0}).Once()
	m.client.On("VerifyCredentials", mock.Anything).Return(nil).Once()

	assert.NoError(t, e.guardCredentials(context.Background(), user, m.client))
	m.client.AssertExpectations(t)
}

func TestGuardFollowsUsSkipsServiceAccount(t *testing.T) {
	e, m := newTestEngine(Config{SystemScreenName: "sweeperapp"})
	user := &types.User{ID: "user_1", ScreenName: "sweeperapp"}

	assert.NoError(t, e.guardFollowsUs(context.Background(), user, m.client))
	m.client.AssertNotCalled(t, "Friendship", mock.Anything, mock.Anything)
}

func TestGuardFollowsUsNoopWhenFollowing(t *testing.T) {
	e, m := newTestEngine(Config{SystemTwitterID: "1000", SystemScreenName: "sweeperapp"})
	user := &types.User{ID: "user_1", ScreenName: "alice"}

	m.client.On("Friendship", mock.Anything, "1000").
		Return(&twitter.Relationship{Following: true}, nil)

	assert.NoError(t, e.guardFollowsUs(context.Background(), user, m.client))
	m.client.AssertNotCalled(t, "Follow", mock.Anything, mock.Anything)
}

func TestGuardFollowsUsCreatesFollow(t *testing.T) {
	e, m := newTestEngine(Config{SystemTwitterID: "1000", SystemScreenName: "sweeperapp"})
	user := &types.User{ID: "user_1", ScreenName: "alice"}

	m.client.On("Friendship", mock.Anything, "1000").
		Return(&twitter.Relationship{Following: false}, nil)
	m.client.On("Follow", mock.Anything, "1000").Return(nil)

	assert.NoError(t, e.guardFollowsUs(context.Background(), user, m.client))
	m.client.AssertExpectations(t)
}

func TestGuardFollowsUsToleratesFollowFailure(t *testing.T) {
	e, m := newTestEngine(Config{SystemTwitterID: "1000", SystemScreenName: "sweeperapp"})
	user := &types.User{ID: "user_1", ScreenName: "alice"}

	m.client.On("Friendship", mock.Anything, "1000").
		Return(&twitter.Relationship{Following: false}, nil)
	m.client.On("Follow", mock.Anything, "1000").Return(errors.New("forbidden"))

	assert.NoError(t, e.guardFollowsUs(context.Background(), user, m.client))
}
