package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"sweeper/internal/types"
)

// SQSReceiver abstracts the SQS receive/delete operations the consumer
// uses. Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSReceiver interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// JobExecutor runs one job to completion. A nil return acknowledges the
// message; an error triggers the retry path.
type JobExecutor interface {
	Execute(ctx context.Context, jobID string) error
}

// EscalationSink receives the signal that a job exhausted its delivery
// attempts and was dropped from the queue.
type EscalationSink interface {
	RecordQueueEscalation(ctx context.Context, lane types.Lane)
}

// JobRescheduler pushes an escalated job's due time back and clears its
// queue handle so the dispatcher eventually publishes it again.
type JobRescheduler interface {
	Reschedule(ctx context.Context, id string, at time.Time) error
}

// maxAttempts is how many deliveries a message gets before it is dropped
// and escalated: the initial delivery plus one retry per entry in
// retryDelays.
const maxAttempts = 4

// retryDelays maps the just-failed attempt number to the delay before the
// next delivery.
var retryDelays = [...]time.Duration{60 * time.Second, 120 * time.Second, 240 * time.Second}

// escalationCooldown is how far out an escalated job is parked before the
// dispatcher offers it to the queue again. Long enough for the alert to
// reach an operator, short enough that the job is not silently dropped.
const escalationCooldown = time.Hour

// waitTimeSeconds enables SQS long polling.
const waitTimeSeconds = 20

// Consumer long-polls one lane queue and hands each message to the
// executor. Jobs run one at a time per consumer: the engine's own
// throttling depends on sequential execution within a lane.
type Consumer struct {
	client    SQSReceiver
	publisher *Publisher
	executor  JobExecutor
	jobs      JobRescheduler
	lane      types.Lane
	queueURL  string
	logger    *slog.Logger
	metrics   EscalationSink
	now       func() time.Time
}

// NewConsumer creates a Consumer for one lane. The publisher must target
// the same queue set so retries land back on the lane they came from.
// jobs may be nil; escalated jobs then stay parked until an operator
// reschedules them by hand.
func NewConsumer(client SQSReceiver, publisher *Publisher, executor JobExecutor, jobs JobRescheduler, lane types.Lane, logger *slog.Logger, metrics EscalationSink) *Consumer {
	return &Consumer{
		client:    client,
		publisher: publisher,
		executor:  executor,
		jobs:      jobs,
		lane:      lane,
		queueURL:  publisher.urls.URL(lane),
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Run polls until ctx is canceled. Receive errors are logged and retried
// after a short pause rather than terminating the loop.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.InfoContext(ctx, "consumer started",
		"lane", string(c.lane),
		"queue_url", c.queueURL,
	)
	for {
		if err := ctx.Err(); err != nil {
			c.logger.InfoContext(ctx, "consumer stopping", "lane", string(c.lane))
			return err
		}
		if err := c.poll(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			c.logger.ErrorContext(ctx, "receive failed",
				"lane", string(c.lane),
				"error", err,
			)
			select {
			case <-ctx.Done():
			case <-time.After(5 * time.Second):
			}
		}
	}
}

// poll performs one long-poll receive and processes whatever arrives.
func (c *Consumer) poll(ctx context.Context) error {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     waitTimeSeconds,
	})
	if err != nil {
		return err
	}

	for _, m := range out.Messages {
		c.handle(ctx, aws.ToString(m.Body), aws.ToString(m.ReceiptHandle))
	}
	return nil
}

// handle processes one received message. The original message is always
// deleted: retries travel as fresh delayed messages, never via visibility
// timeout redelivery.
func (c *Consumer) handle(ctx context.Context, body, receiptHandle string) {
	var msg JobMessage
	if err := json.Unmarshal([]byte(body), &msg); err != nil || msg.JobID == "" {
		c.logger.ErrorContext(ctx, "dropping unreadable job message",
			"lane", string(c.lane),
			"error", err,
		)
		c.delete(ctx, receiptHandle)
		return
	}

	ctx = types.WithRequestID(ctx, msg.TraceID)
	execErr := c.executor.Execute(ctx, msg.JobID)
	if execErr == nil {
		c.delete(ctx, receiptHandle)
		return
	}

	c.logger.ErrorContext(ctx, "job execution failed",
		"lane", string(c.lane),
		"job_id", msg.JobID,
		"attempt", msg.Attempt,
		"error", execErr,
	)

	if msg.Attempt >= maxAttempts {
		c.logger.ErrorContext(ctx, "job exhausted delivery attempts, escalating",
			"lane", string(c.lane),
			"job_id", msg.JobID,
			"attempts", msg.Attempt,
		)
		if c.metrics != nil {
			c.metrics.RecordQueueEscalation(ctx, c.lane)
		}
		// Clear the stale queue handle and push the job out past the
		// cooldown, so the dispatcher picks it up again instead of it
		// waiting on the dead message id forever.
		if c.jobs != nil {
			at := c.now().UTC().Add(escalationCooldown)
			if err := c.jobs.Reschedule(ctx, msg.JobID, at); err != nil {
				c.logger.ErrorContext(ctx, "failed to park escalated job",
					"lane", string(c.lane),
					"job_id", msg.JobID,
					"error", err,
				)
			}
		}
		c.delete(ctx, receiptHandle)
		return
	}

	delay := retryDelays[len(retryDelays)-1]
	if msg.Attempt-1 < len(retryDelays) {
		delay = retryDelays[msg.Attempt-1]
	}
	if _, err := c.publisher.Republish(ctx, c.lane, msg, delay, "retry"); err != nil {
		// Leave the message in flight; the visibility timeout will bring it
		// back with the same attempt count.
		c.logger.ErrorContext(ctx, "failed to republish job message",
			"lane", string(c.lane),
			"job_id", msg.JobID,
			"error", err,
		)
		return
	}
	c.delete(ctx, receiptHandle)
}

func (c *Consumer) delete(ctx context.Context, receiptHandle string) {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to delete message",
			"lane", string(c.lane),
			"error", err,
		)
	}
}
