package usecase

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/publisher"
)

const (
	defaultMaxAttempts  = 4
	defaultBaseDelay    = 50 * time.Millisecond
	defaultJitterFactor = 0.3
)

// RetryPolicy is the publish retry schedule owned by the use cases.
// Delays: 0, base, 2*base, 4*base ... plus up to JitterFactor of jitter.
type RetryPolicy struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	JitterFactor float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  defaultMaxAttempts,
		BaseDelay:    defaultBaseDelay,
		JitterFactor: defaultJitterFactor,
	}
}

// Retry runs fn until it succeeds, fails with a non-retryable error, or the
// attempts are used up. Only broker send failures are retried. It returns the
// number of attempts made.
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) (int, error) {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	var lastErr error
	attempt := 0
	for ; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := policy.BaseDelay * time.Duration(1<<(attempt-1))
			jitter := rand.Float64() * float64(delay) * policy.JitterFactor //nolint:gosec // jitter only
			select {
			case <-time.After(delay + time.Duration(jitter)):
			case <-ctx.Done():
				return attempt, ctx.Err()
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return attempt + 1, nil
		}
		if !errors.Is(lastErr, publisher.ErrBrokerSend) {
			return attempt + 1, lastErr
		}
	}

	return attempt, lastErr
}
