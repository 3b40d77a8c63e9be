package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// timelinePageSize is the per-page count requested from paginated listings.
const timelinePageSize = 200

// dmPageSize is the per-page count for direct-message event listings.
const dmPageSize = 50

// createdAtLayout is the status timestamp format used by the v1.1 API.
const createdAtLayout = "Mon Jan 02 15:04:05 -0700 2006"

// liveClient is the production Client implementation. The http.Client it
// receives is expected to sign requests (OAuth1); the factory takes care of
// that per account.
type liveClient struct {
	base    *baseClient
	baseURL string
}

var _ Client = (*liveClient)(nil)

func newLiveClient(httpClient *http.Client, baseURL, breakerName, userAgent string) *liveClient {
	return &liveClient{
		base:    newBaseClient(httpClient, breakerName, userAgent),
		baseURL: baseURL,
	}
}

// --- wire format ---

type apiUser struct {
	IDStr      string `json:"id_str"`
	ScreenName string `json:"screen_name"`
}

type apiTweet struct {
	IDStr                string  `json:"id_str"`
	CreatedAt            string  `json:"created_at"`
	Text                 string  `json:"text"`
	FullText             string  `json:"full_text"`
	InReplyToStatusIDStr *string `json:"in_reply_to_status_id_str"`
	RetweetCount         int     `json:"retweet_count"`
	FavoriteCount        int     `json:"favorite_count"`
	User                 apiUser `json:"user"`
	RetweetedStatus      *struct {
		IDStr string `json:"id_str"`
	} `json:"retweeted_status"`
}

func (t *apiTweet) toDomain() (Tweet, error) {
	createdAt, err := time.Parse(createdAtLayout, t.CreatedAt)
	if err != nil {
		return Tweet{}, fmt.Errorf("parsing created_at %q: %w", t.CreatedAt, err)
	}
	text := t.Text
	if t.FullText != "" {
		text = t.FullText
	}
	out := Tweet{
		ID:           t.IDStr,
		AuthorID:     t.User.IDStr,
		CreatedAt:    createdAt.UTC(),
		Text:         text,
		InReplyToID:  t.InReplyToStatusIDStr,
		RetweetCount: t.RetweetCount,
		LikeCount:    t.FavoriteCount,
	}
	if t.RetweetedStatus != nil {
		id := t.RetweetedStatus.IDStr
		out.RetweetedID = &id
	}
	return out, nil
}

type apiDMEvent struct {
	ID               string `json:"id"`
	CreatedTimestamp string `json:"created_timestamp"` // epoch millis
	Type             string `json:"type"`
}

type apiDMEventList struct {
	Events     []apiDMEvent `json:"events"`
	NextCursor string       `json:"next_cursor"`
}

type apiFriendship struct {
	Connections []string `json:"connections"`
}

// --- Client implementation ---

func (c *liveClient) VerifyCredentials(ctx context.Context) error {
	resp, err := c.get(ctx, "account/verify_credentials", "/1.1/account/verify_credentials.json", nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *liveClient) UserTimeline(ctx context.Context, userID, sinceID, cursor string) ([]Tweet, string, error) {
	return c.tweetPage(ctx, "statuses/user_timeline", "/1.1/statuses/user_timeline.json", userID, sinceID, cursor)
}

func (c *liveClient) Favorites(ctx context.Context, userID, sinceID, cursor string) ([]Tweet, string, error) {
	return c.tweetPage(ctx, "favorites/list", "/1.1/favorites/list.json", userID, sinceID, cursor)
}

// tweetPage fetches one max-id style page of a tweet listing. The returned
// cursor is the lowest id on the page minus one; an empty page ends the walk.
func (c *liveClient) tweetPage(ctx context.Context, endpoint, path, userID, sinceID, cursor string) ([]Tweet, string, error) {
	q := url.Values{}
	q.Set("user_id", userID)
	q.Set("count", strconv.Itoa(timelinePageSize))
	q.Set("tweet_mode", "extended")
	if sinceID != "" {
		q.Set("since_id", sinceID)
	}
	if cursor != "" {
		q.Set("max_id", cursor)
	}

	resp, err := c.get(ctx, endpoint, path, q)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	var raw []apiTweet
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, "", fmt.Errorf("twitter: decoding %s response: %w", endpoint, err)
	}
	if len(raw) == 0 {
		return nil, "", nil
	}

	tweets := make([]Tweet, 0, len(raw))
	minID := int64(-1)
	for i := range raw {
		t, err := raw[i].toDomain()
		if err != nil {
			return nil, "", fmt.Errorf("twitter: %s: %w", endpoint, err)
		}
		tweets = append(tweets, t)
		if id, err := strconv.ParseInt(t.ID, 10, 64); err == nil {
			if minID < 0 || id < minID {
				minID = id
			}
		}
	}

	next := ""
	if minID > 0 {
		next = strconv.FormatInt(minID-1, 10)
	}
	return tweets, next, nil
}

func (c *liveClient) GetTweet(ctx context.Context, id string) (*Tweet, error) {
	q := url.Values{}
	q.Set("id", id)
	q.Set("tweet_mode", "extended")

	resp, err := c.get(ctx, "statuses/show", "/1.1/statuses/show.json", q)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var raw apiTweet
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("twitter: decoding statuses/show response: %w", err)
	}
	t, err := raw.toDomain()
	if err != nil {
		return nil, fmt.Errorf("twitter: statuses/show: %w", err)
	}
	return &t, nil
}

func (c *liveClient) DestroyTweet(ctx context.Context, id string) error {
	path := fmt.Sprintf("/1.1/statuses/destroy/%s.json", url.PathEscape(id))
	resp, err := c.post(ctx, "statuses/destroy", path, nil, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *liveClient) DestroyLike(ctx context.Context, id string) error {
	q := url.Values{}
	q.Set("id", id)
	resp, err := c.post(ctx, "favorites/destroy", "/1.1/favorites/destroy.json", q, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *liveClient) DMEvents(ctx context.Context, cursor string) ([]DMEvent, string, error) {
	q := url.Values{}
	q.Set("count", strconv.Itoa(dmPageSize))
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	resp, err := c.get(ctx, "direct_messages/events/list", "/1.1/direct_messages/events/list.json", q)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	var raw apiDMEventList
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, "", fmt.Errorf("twitter: decoding DM events response: %w", err)
	}

	events := make([]DMEvent, 0, len(raw.Events))
	for _, e := range raw.Events {
		if e.Type != "" && e.Type != "message_create" {
			continue
		}
		millis, err := strconv.ParseInt(e.CreatedTimestamp, 10, 64)
		if err != nil {
			return nil, "", fmt.Errorf("twitter: parsing DM timestamp %q: %w", e.CreatedTimestamp, err)
		}
		events = append(events, DMEvent{
			ID:        e.ID,
			CreatedAt: time.UnixMilli(millis).UTC(),
		})
	}
	return events, raw.NextCursor, nil
}

func (c *liveClient) DeleteDM(ctx context.Context, id string) error {
	q := url.Values{}
	q.Set("id", id)
	req, err := c.newRequest(ctx, http.MethodDelete, "/1.1/direct_messages/events/destroy.json", q, nil)
	if err != nil {
		return err
	}
	resp, err := c.base.do(req, "direct_messages/events/destroy")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *liveClient) SendDM(ctx context.Context, recipientID, text string) error {
	body := map[string]any{
		"event": map[string]any{
			"type": "message_create",
			"message_create": map[string]any{
				"target":       map[string]any{"recipient_id": recipientID},
				"message_data": map[string]any{"text": text},
			},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("twitter: encoding DM payload: %w", err)
	}
	resp, err := c.post(ctx, "direct_messages/events/new", "/1.1/direct_messages/events/new.json", nil, payload)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *liveClient) Friendship(ctx context.Context, userID string) (*Relationship, error) {
	q := url.Values{}
	q.Set("user_id", userID)

	resp, err := c.get(ctx, "friendships/lookup", "/1.1/friendships/lookup.json", q)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var raw []apiFriendship
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("twitter: decoding friendships response: %w", err)
	}

	rel := &Relationship{}
	if len(raw) > 0 {
		for _, conn := range raw[0].Connections {
			switch conn {
			case "following":
				rel.Following = true
			case "followed_by":
				rel.FollowedBy = true
			}
		}
	}
	return rel, nil
}

func (c *liveClient) Follow(ctx context.Context, userID string) error {
	q := url.Values{}
	q.Set("user_id", userID)
	resp, err := c.post(ctx, "friendships/create", "/1.1/friendships/create.json", q, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *liveClient) Block(ctx context.Context, userID string) error {
	q := url.Values{}
	q.Set("user_id", userID)
	resp, err := c.post(ctx, "blocks/create", "/1.1/blocks/create.json", q, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *liveClient) Unblock(ctx context.Context, userID string) error {
	q := url.Values{}
	q.Set("user_id", userID)
	resp, err := c.post(ctx, "blocks/destroy", "/1.1/blocks/destroy.json", q, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// --- request plumbing ---

func (c *liveClient) newRequest(ctx context.Context, method, path string, q url.Values, body []byte) (*http.Request, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, fmt.Errorf("twitter: building request for %s: %w", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *liveClient) get(ctx context.Context, endpoint, path string, q url.Values) (*http.Response, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, q, nil)
	if err != nil {
		return nil, err
	}
	return c.base.do(req, endpoint)
}

func (c *liveClient) post(ctx context.Context, endpoint, path string, q url.Values, body []byte) (*http.Response, error) {
	req, err := c.newRequest(ctx, http.MethodPost, path, q, body)
	if err != nil {
		return nil, err
	}
	return c.base.do(req, endpoint)
}

// readErrorBody returns a short excerpt of an error response body for
// diagnostics. Bodies are capped so a misbehaving upstream cannot bloat logs.
func readErrorBody(resp *http.Response) string {
	const maxBody = 512
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return ""
	}
	return string(b)
}
