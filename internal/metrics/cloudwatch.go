// Package metrics publishes engine and queue telemetry to CloudWatch.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"sweeper/internal/types"
)

// Namespace is the CloudWatch namespace all metrics are published under.
const Namespace = "Sweeper"

// Metric names.
const (
	metricJobOutcome      = "JobOutcome"
	metricJobDuration     = "JobDuration"
	metricRateLimitWait   = "RateLimitWait"
	metricTransientRetry  = "TransientRetry"
	metricQueueEscalation = "QueueEscalation"
	metricAPIRequest      = "APIRequest"
	metricAPILatency      = "APILatency"
)

// Dimension names.
const (
	dimJobType  = "JobType"
	dimStatus   = "Status"
	dimEndpoint = "Endpoint"
	dimLane     = "Lane"
	dimMethod   = "Method"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchSink emits engine and queue telemetry to CloudWatch. Publish
// failures are logged and swallowed; telemetry must never fail a job.
type CloudWatchSink struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchSink creates a CloudWatchSink publishing to the Sweeper
// namespace.
func NewCloudWatchSink(client CloudWatchClient, logger *slog.Logger) *CloudWatchSink {
	return &CloudWatchSink{
		client:    client,
		namespace: Namespace,
		logger:    logger,
	}
}

// RecordJobOutcome emits one outcome count and the job's wall-clock
// duration.
func (m *CloudWatchSink) RecordJobOutcome(ctx context.Context, jobType types.JobType, status types.JobStatus, elapsed time.Duration) {
	m.put(ctx, []cwtypes.MetricDatum{
		{
			MetricName: aws.String(metricJobOutcome),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{
				{Name: aws.String(dimJobType), Value: aws.String(string(jobType))},
				{Name: aws.String(dimStatus), Value: aws.String(string(status))},
			},
		},
		{
			MetricName: aws.String(metricJobDuration),
			Value:      aws.Float64(float64(elapsed.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Dimensions: []cwtypes.Dimension{
				{Name: aws.String(dimJobType), Value: aws.String(string(jobType))},
			},
		},
	})
}

// RecordRateLimitWait emits how long a worker slept on an upstream rate
// limit.
func (m *CloudWatchSink) RecordRateLimitWait(ctx context.Context, endpoint string, wait time.Duration) {
	m.put(ctx, []cwtypes.MetricDatum{{
		MetricName: aws.String(metricRateLimitWait),
		Value:      aws.Float64(float64(wait.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(dimEndpoint), Value: aws.String(endpoint)},
		},
	}})
}

// RecordTransientRetry counts one retry after an upstream transient
// failure.
func (m *CloudWatchSink) RecordTransientRetry(ctx context.Context, endpoint string) {
	m.put(ctx, []cwtypes.MetricDatum{{
		MetricName: aws.String(metricTransientRetry),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(dimEndpoint), Value: aws.String(endpoint)},
		},
	}})
}

// RecordQueueEscalation counts a job message dropped after exhausting its
// delivery attempts.
func (m *CloudWatchSink) RecordQueueEscalation(ctx context.Context, lane types.Lane) {
	m.put(ctx, []cwtypes.MetricDatum{{
		MetricName: aws.String(metricQueueEscalation),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(dimLane), Value: aws.String(string(lane))},
		},
	}})
}

// RecordAPIRequest emits one ops API request count and its latency.
func (m *CloudWatchSink) RecordAPIRequest(ctx context.Context, method, endpoint, status string, duration time.Duration) {
	m.put(ctx, []cwtypes.MetricDatum{
		{
			MetricName: aws.String(metricAPIRequest),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{
				{Name: aws.String(dimMethod), Value: aws.String(method)},
				{Name: aws.String(dimEndpoint), Value: aws.String(endpoint)},
				{Name: aws.String(dimStatus), Value: aws.String(status)},
			},
		},
		{
			MetricName: aws.String(metricAPILatency),
			Value:      aws.Float64(float64(duration.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Dimensions: []cwtypes.Dimension{
				{Name: aws.String(dimMethod), Value: aws.String(method)},
				{Name: aws.String(dimEndpoint), Value: aws.String(endpoint)},
			},
		},
	})
}

func (m *CloudWatchSink) put(ctx context.Context, data []cwtypes.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, "failed to publish metrics", "error", err)
	}
}

// Noop is a metric sink that discards everything. Used where telemetry is
// not configured, such as local runs and tests.
type Noop struct{}

func (Noop) RecordJobOutcome(context.Context, types.JobType, types.JobStatus, time.Duration) {}
func (Noop) RecordRateLimitWait(context.Context, string, time.Duration)                     {}
func (Noop) RecordTransientRetry(context.Context, string)                                   {}
func (Noop) RecordQueueEscalation(context.Context, types.Lane)                              {}
func (Noop) RecordAPIRequest(context.Context, string, string, string, time.Duration)        {}
