package twitter

import "time"

// Tweet is the subset of a remote status the engine consumes: timestamps,
// engagement counts, the reply-parent id, and content.
type Tweet struct {
	ID           string
	AuthorID     string
	CreatedAt    time.Time
	Text         string
	InReplyToID  *string
	RetweetedID  *string
	RetweetCount int
	LikeCount    int
}

// IsRetweet reports whether the status is a retweet of another status.
func (t *Tweet) IsRetweet() bool {
	return t.RetweetedID != nil
}

// IsReply reports whether the status replies to another status.
func (t *Tweet) IsReply() bool {
	return t.InReplyToID != nil
}

// DMEvent is one direct-message event from the paginated events listing.
type DMEvent struct {
	ID        string
	CreatedAt time.Time
}

// Relationship describes the reciprocal relationship between the
// authenticated user and another account.
type Relationship struct {
	Following  bool
	FollowedBy bool
}
