package engine

import (
	"context"
	"log/slog"
	"time"

	"sweeper/internal/twitter"
)

// rateLimitPadding is added on top of the upstream reset hint so the retry
// lands after the window actually rolls over.
const rateLimitPadding = 1 * time.Second

// transientRetryWait is the fixed pause before reissuing a call that failed
// with a server-side or network error.
const transientRetryWait = 30 * time.Second

// Invoker wraps outbound API calls with the engine's retry policy: wait out
// rate limits, pause and reissue on transient failures, and surface
// everything else. Retries are unbounded; a job blocked on a persistent
// upstream outage stays visible through its wait logs and metrics rather
// than failing partway through a deletion pass.
type Invoker struct {
	logger  *slog.Logger
	metrics MetricSink

	// Injectable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewInvoker(logger *slog.Logger, metrics MetricSink) *Invoker {
	return &Invoker{
		logger:  logger,
		metrics: metrics,
		sleep:   sleepContext,
	}
}

// Do runs fn until it succeeds, returns a non-retryable error, or ctx is
// canceled. endpoint is a short label used in logs and metrics.
func (i *Invoker) Do(ctx context.Context, endpoint string, fn func() error) error {
	for {
		err := fn()
		if err == nil {
			return nil
		}

		if rl, ok := twitter.IsRateLimit(err); ok {
			wait := rl.RetryAfter
			if wait < 0 {
				wait = 0
			}
			wait += rateLimitPadding

			i.logger.InfoContext(ctx, "rate limited, waiting for window reset",
				"endpoint", endpoint,
				"wait", wait.String(),
			)
			i.metrics.RecordRateLimitWait(ctx, endpoint, wait)

			if err := i.sleep(ctx, wait); err != nil {
				return err
			}
			continue
		}

		if twitter.IsTransient(err) {
			i.logger.WarnContext(ctx, "transient upstream error, retrying",
				"endpoint", endpoint,
				"wait", transientRetryWait.String(),
				"error", err,
			)
			i.metrics.RecordTransientRetry(ctx, endpoint)

			if err := i.sleep(ctx, transientRetryWait); err != nil {
				return err
			}
			continue
		}

		return err
	}
}
