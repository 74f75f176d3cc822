package job

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v3"

	"docrag/src/core/rag"
)

// RetryPolicy bounds how often a failing job is re-run.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy runs a job at most three times.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:     3,
	InitialInterval: time.Second,
	MaxInterval:     30 * time.Second,
}

// Do calls fn until it succeeds, returns a non-transient error, or the
// attempts are used up. fn receives the 1-based attempt number.
func (p RetryPolicy) Do(ctx context.Context, fn func(attempt int) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		attempt++
		err := fn(attempt)
		if err != nil && !rag.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxAttempts-1)), ctx))
}
