package types

import (
	"encoding/json"
	"time"
)

// Job is the durable record of one unit of scheduled work. Jobs are created
// either by an external trigger (a dashboard action) or by another job's
// completion (the self-perpetuating daily delete chain). A job is mutated
// only by the worker currently executing it.
type Job struct {
	ID     string    `json:"id" db:"id"`
	Type   JobType   `json:"job_type" db:"job_type"`
	Status JobStatus `json:"status" db:"status"`

	// UserID is the owning account. Nil for account-less jobs such as
	// blocking an account that never signed up.
	UserID *string `json:"user_id,omitempty" db:"user_id"`

	// Payload holds the workflow-specific input, decoded via DecodePayload.
	Payload json.RawMessage `json:"payload,omitempty" db:"payload"`

	// Progress is the workflow-specific progress snapshot, serialized only
	// at the persistence boundary.
	Progress json.RawMessage `json:"progress,omitempty" db:"progress"`

	// QueueMessageID is the transport handle recorded after a successful
	// enqueue, kept for observability and cancellation.
	QueueMessageID string `json:"queue_message_id,omitempty" db:"queue_message_id"`

	ScheduledAt *time.Time `json:"scheduled_at,omitempty" db:"scheduled_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty" db:"finished_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// DecodePayload unmarshals the job payload into dst.
func (j *Job) DecodePayload(dst any) error {
	if len(j.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(j.Payload, dst)
}

// User is an account whose history the engine manages. Credential fields are
// SecretString so they never leak through logs or JSON dumps.
type User struct {
	ID         string `json:"id" db:"id"`
	TwitterID  string `json:"twitter_id" db:"twitter_id"`
	ScreenName string `json:"screen_name" db:"screen_name"`

	AccessToken       SecretString `json:"-" db:"access_token"`
	AccessTokenSecret SecretString `json:"-" db:"access_token_secret"`

	// Separate credential pair for the DM-scoped app.
	DMAccessToken       SecretString `json:"-" db:"dm_access_token"`
	DMAccessTokenSecret SecretString `json:"-" db:"dm_access_token_secret"`

	// SinceID is the durable fetch checkpoint: the highest external tweet
	// id imported so far. Empty means nothing has been fetched yet.
	SinceID string `json:"since_id,omitempty" db:"since_id"`

	Paused  bool `json:"paused" db:"paused"`
	Blocked bool `json:"blocked" db:"blocked"`

	Settings  Settings  `json:"settings" db:"settings"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Settings holds the per-user retention rules, consumed read-only by the
// engine. The dashboard owns writes.
type Settings struct {
	// Tweet deletion
	DeleteTweets           bool `json:"delete_tweets"`
	TweetDaysThreshold     int  `json:"tweet_days_threshold"`
	EnableRetweetThreshold bool `json:"enable_retweet_threshold"`
	RetweetThreshold       int  `json:"retweet_threshold"`
	EnableLikeThreshold    bool `json:"enable_like_threshold"`
	LikeThreshold          int  `json:"like_threshold"`

	// ProtectThreads keeps whole reply chains when any post in them is
	// popular enough to meet both engagement thresholds.
	ProtectThreads bool `json:"protect_threads"`

	// Retweet/like cleanup
	CleanupRetweetsLikes bool `json:"cleanup_retweets_likes"`
	DeleteOldRetweets    bool `json:"delete_old_retweets"`
	RetweetDaysThreshold int  `json:"retweet_days_threshold"`
	DeleteOldLikes       bool `json:"delete_old_likes"`
	LikeDaysThreshold    int  `json:"like_days_threshold"`

	// Direct messages
	DeleteDMs       bool `json:"delete_dms"`
	DMDaysThreshold int  `json:"dm_days_threshold"`
}

// Tweet is one post owned by a user. IsDeleted is a tombstone: once set it
// is never cleared by normal flow.
type Tweet struct {
	ID        int64     `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	TwitterID string    `json:"twitter_id" db:"twitter_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	Text      string    `json:"text" db:"text"`

	IsRetweet bool    `json:"is_retweet" db:"is_retweet"`
	RetweetID *string `json:"retweet_id,omitempty" db:"retweet_id"`

	IsReply     bool    `json:"is_reply" db:"is_reply"`
	InReplyToID *string `json:"in_reply_to_id,omitempty" db:"in_reply_to_id"`

	RetweetCount int `json:"retweet_count" db:"retweet_count"`
	LikeCount    int `json:"like_count" db:"like_count"`

	ThreadID *int64 `json:"thread_id,omitempty" db:"thread_id"`

	IsDeleted         bool `json:"is_deleted" db:"is_deleted"`
	ExcludeFromDelete bool `json:"exclude_from_delete" db:"exclude_from_delete"`
	IsFlagged         bool `json:"is_flagged" db:"is_flagged"`
}

// Thread groups all tweets sharing one reconstructed conversation root.
// ShouldExclude is recomputed wholesale on every fetch cycle (reset then
// reassigned), never incrementally patched.
type Thread struct {
	ID             int64  `json:"id" db:"id"`
	UserID         string `json:"user_id" db:"user_id"`
	ConversationID string `json:"conversation_id" db:"conversation_id"`
	ShouldExclude  bool   `json:"should_exclude" db:"should_exclude"`
}

// Like is a favorite placed by a user on someone else's tweet. Same
// tombstone invariant as Tweet.
type Like struct {
	ID        int64     `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	TwitterID string    `json:"twitter_id" db:"twitter_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	AuthorID  string    `json:"author_id" db:"author_id"`
	IsDeleted bool      `json:"is_deleted" db:"is_deleted"`
	IsFlagged bool      `json:"is_flagged" db:"is_flagged"`
}

// FlaggedAccount is an entry in the externally curated list of accounts
// whose content is specially tracked for the engagement-triggered
// auto-block policy.
type FlaggedAccount struct {
	ID        int64  `json:"id" db:"id"`
	TwitterID string `json:"twitter_id" db:"twitter_id"`
	Username  string `json:"username" db:"username"`
	Comment   string `json:"comment,omitempty" db:"comment"`
}

// Nag records one monetization reminder sent to a user after a delete cycle.
// Append-only.
type Nag struct {
	ID        int64     `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}

// Tip records one payment attempt. Paid/Refunded are driven by the payment
// provider's webhook events.
type Tip struct {
	ID         int64     `json:"id" db:"id"`
	UserID     string    `json:"user_id" db:"user_id"`
	ChargeID   string    `json:"charge_id" db:"charge_id"`
	AmountCents int64    `json:"amount_cents" db:"amount_cents"`
	Paid       bool      `json:"paid" db:"paid"`
	Refunded   bool      `json:"refunded" db:"refunded"`
	Timestamp  time.Time `json:"timestamp" db:"timestamp"`
}
