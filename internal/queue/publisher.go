// Package queue moves job references between the dispatcher and the
// workers over SQS. Messages carry only the job id; the durable state
// lives in the jobs table, so a lost or duplicated message is always
// recoverable from the database.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"sweeper/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// JobMessage is the queue envelope for one job execution attempt.
type JobMessage struct {
	JobID   string `json:"job_id"`
	Attempt int    `json:"attempt"`
	TraceID string `json:"trace_id"`
}

// LaneURLs maps each lane to its SQS queue URL.
type LaneURLs struct {
	Jobs   string
	DMHigh string
	DMLow  string
}

// URL returns the queue URL for a lane. Unknown lanes fall back to the
// general jobs queue.
func (u LaneURLs) URL(lane types.Lane) string {
	switch lane {
	case types.LaneDMHigh:
		return u.DMHigh
	case types.LaneDMLow:
		return u.DMLow
	default:
		return u.Jobs
	}
}

// Publisher sends job messages to the lane queues.
type Publisher struct {
	client SQSSender
	urls   LaneURLs
	logger *slog.Logger
}

// NewPublisher creates a Publisher over the given SQS client and lane
// queue URLs.
func NewPublisher(client SQSSender, urls LaneURLs, logger *slog.Logger) *Publisher {
	return &Publisher{
		client: client,
		urls:   urls,
		logger: logger,
	}
}

// Enqueue sends a first-attempt message for a job and returns the SQS
// message id, which the dispatcher records on the job row.
func (p *Publisher) Enqueue(ctx context.Context, lane types.Lane, jobID string, reason string) (string, error) {
	msg := JobMessage{
		JobID:   jobID,
		Attempt: 1,
		TraceID: uuid.NewString(),
	}
	return p.send(ctx, lane, msg, 0, reason)
}

// Republish sends a retry message for a job with the given delivery delay.
// The attempt counter is incremented before serialization so the next
// consumer sees an accurate attempt number.
func (p *Publisher) Republish(ctx context.Context, lane types.Lane, msg JobMessage, delay time.Duration, reason string) (string, error) {
	msg.Attempt++
	return p.send(ctx, lane, msg, delay, reason)
}

// maxSQSDelay is the SQS DelaySeconds ceiling (15 minutes). Longer waits
// go through the jobs table's scheduled_at instead.
const maxSQSDelay = 900 * time.Second

func (p *Publisher) send(ctx context.Context, lane types.Lane, msg JobMessage, delay time.Duration, reason string) (string, error) {
	queueURL := p.urls.URL(lane)

	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("queue: failed to marshal job message: %w", err)
	}

	if delay > maxSQSDelay {
		delay = maxSQSDelay
	}
	delaySec := int32(delay.Seconds())
	if delaySec < 0 {
		delaySec = 0
	}

	input := &sqs.SendMessageInput{
		QueueUrl:     aws.String(queueURL),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: delaySec,
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"reason": {
				DataType:    aws.String("String"),
				StringValue: aws.String(reason),
			},
		},
	}

	out, err := p.client.SendMessage(ctx, input)
	if err != nil {
		return "", fmt.Errorf("queue: failed to send job message to %s: %w", queueURL, err)
	}

	messageID := ""
	if out.MessageId != nil {
		messageID = *out.MessageId
	}

	p.logger.InfoContext(ctx, "job message sent",
		"queue_url", queueURL,
		"job_id", msg.JobID,
		"attempt", msg.Attempt,
		"trace_id", msg.TraceID,
		"delay_seconds", delaySec,
		"reason", reason,
	)
	return messageID, nil
}
