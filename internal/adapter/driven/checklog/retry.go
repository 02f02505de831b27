// Package checklog stores checks and checkers as commits on a revision log.
// Every write reads the current tip, rewrites the affected tree and advances
// the ref through compare-and-swap, retrying a bounded number of times when
// a concurrent writer won the race.
package checklog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ericfisherdev/checkgate/internal/domain/port/driven"
	"github.com/ericfisherdev/checkgate/internal/metrics"
)

// RetryPolicy bounds the compare-and-swap retry loop.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      5,
		InitialInterval: 20 * time.Millisecond,
		MaxInterval:     500 * time.Millisecond,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	exp.MaxInterval = p.MaxInterval
	exp.MaxElapsedTime = 0
	maxRetries := p.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(maxRetries)), ctx)
}

// run executes op until it succeeds, fails with anything but a lock failure,
// or the retry budget is spent. store labels lock failure metrics.
func (p RetryPolicy) run(ctx context.Context, m *metrics.Metrics, store string, op func() error) error {
	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, driven.ErrLockFailure) {
			m.RecordLockFailure(store)
			return err
		}
		return backoff.Permanent(err)
	}, p.backOff(ctx))

	if errors.Is(err, driven.ErrLockFailure) {
		return fmt.Errorf("giving up after %d attempts: %w", attempts, err)
	}
	return err
}
