package types

import (
	"encoding/json"
	"fmt"
)

// Typed progress structures, one per job kind. These replace a free-form
// JSON blob so workflows mutate real fields; serialization happens only at
// the persistence boundary (JobRepository.UpdateProgress).

// FetchProgress is the progress snapshot for a fetch job.
type FetchProgress struct {
	TweetsFetched int    `json:"tweets_fetched"`
	LikesFetched  int    `json:"likes_fetched"`
	Status        string `json:"status"`
}

// DeleteProgress is the progress snapshot for a delete job. Counters are
// persisted after every single deletion: a crash loses at most one item's
// worth of progress.
type DeleteProgress struct {
	TweetsDeleted   int    `json:"tweets_deleted"`
	RetweetsDeleted int    `json:"retweets_deleted"`
	LikesDeleted    int    `json:"likes_deleted"`
	DMsDeleted      int    `json:"dms_deleted"`
	Status          string `json:"status"`
}

// Add accumulates counters from another snapshot. Used when summing the
// lifetime totals across finished delete jobs for the donation prompt.
func (p *DeleteProgress) Add(o DeleteProgress) {
	p.TweetsDeleted += o.TweetsDeleted
	p.RetweetsDeleted += o.RetweetsDeleted
	p.LikesDeleted += o.LikesDeleted
	p.DMsDeleted += o.DMsDeleted
}

// DMPurgeProgress is the progress snapshot for a bulk DM import delete job.
type DMPurgeProgress struct {
	DMsDeleted int    `json:"dms_deleted"`
	DMsSkipped int    `json:"dms_skipped"`
	Status     string `json:"status"`
}

// DMJobPayload is the input for a dm job.
type DMJobPayload struct {
	DestTwitterID string `json:"dest_twitter_id"`
	Message       string `json:"message"`
}

// BlockJobPayload is the input for block and unblock jobs. UserID is nil
// when the target account has no user record (a flagged influencer rather
// than a subscriber).
type BlockJobPayload struct {
	UserID          *string `json:"user_id,omitempty"`
	TwitterUsername string  `json:"twitter_username"`
	TwitterID       string  `json:"twitter_id"`
}

// EncodePayload marshals a typed payload for storage on a Job row.
func EncodePayload(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding job payload: %w", err)
	}
	return b, nil
}

// DecodeDeleteProgress parses a stored delete-job progress blob. Jobs that
// never started have no progress; that decodes to the zero snapshot.
func DecodeDeleteProgress(raw json.RawMessage) (DeleteProgress, error) {
	var p DeleteProgress
	if len(raw) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("decoding delete progress: %w", err)
	}
	return p, nil
}
