// Package twitter is the anti-corruption layer between the retention engine
// and the social-media API. All outbound calls go through a shared base
// client that enforces circuit breaking and maps HTTP failures onto the
// engine's error taxonomy: RateLimitError (429 with reset hint),
// TransientError (5xx, network), AuthError (401). The base client never
// retries; retry policy belongs to the engine's rate-limit-aware caller.
package twitter

import "context"

// Client is the per-account API surface the engine consumes. Paginated
// reads return an opaque next-page cursor; an empty cursor means the listing
// is exhausted. Single-item mutations are best-effort from the engine's
// point of view: callers decide whether a failure aborts or is counted.
type Client interface {
	// VerifyCredentials checks that the account's tokens still work.
	VerifyCredentials(ctx context.Context) error

	// UserTimeline returns one page of the account's tweets newer than
	// sinceID, oldest pages last. cursor is the max-id style page marker
	// from the previous call ("" for the first page).
	UserTimeline(ctx context.Context, userID, sinceID, cursor string) ([]Tweet, string, error)

	// Favorites returns one page of the account's likes newer than sinceID.
	Favorites(ctx context.Context, userID, sinceID, cursor string) ([]Tweet, string, error)

	// GetTweet fetches a single status, used for reply-parent resolution.
	GetTweet(ctx context.Context, id string) (*Tweet, error)

	// DestroyTweet deletes a tweet or retweet.
	DestroyTweet(ctx context.Context, id string) error

	// DestroyLike removes a favorite.
	DestroyLike(ctx context.Context, id string) error

	// DMEvents returns one page of direct-message events.
	DMEvents(ctx context.Context, cursor string) ([]DMEvent, string, error)

	// DeleteDM deletes a single direct message.
	DeleteDM(ctx context.Context, id string) error

	// SendDM sends one direct message. Fire-and-forget from the engine's
	// perspective; failures are not retried.
	SendDM(ctx context.Context, recipientID, text string) error

	// Friendship returns the relationship between the authenticated user
	// and the given account.
	Friendship(ctx context.Context, userID string) (*Relationship, error)

	// Follow creates a follow from the authenticated user to the account.
	Follow(ctx context.Context, userID string) error

	// Block blocks the given account.
	Block(ctx context.Context, userID string) error

	// Unblock unblocks the given account.
	Unblock(ctx context.Context, userID string) error
}
