package jobs

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds how often and how far apart a job is attempted.
type RetryPolicy struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
	// Jitter randomises each interval by up to half its length.
	Jitter bool
}

var (
	FeedbackPolicy = RetryPolicy{MaxAttempts: 3, Initial: 5 * time.Second, Max: 30 * time.Second, Jitter: true}
	NotifyPolicy   = RetryPolicy{MaxAttempts: 3, Initial: 3 * time.Second, Max: 15 * time.Second, Jitter: true}
	// IngestPolicy waits 5s then 10s between three attempts, never more than 20s.
	IngestPolicy = RetryPolicy{MaxAttempts: 3, Initial: 5 * time.Second, Max: 20 * time.Second}
)

// BackOff builds a fresh exponential backoff doubling from Initial up to Max.
func (p RetryPolicy) BackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.MaxInterval = p.Max
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	if !p.Jitter {
		b.RandomizationFactor = 0
	}
	b.Reset()

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithMaxRetries(b, uint64(attempts-1))
}

// Retry runs op until it succeeds, returns a backoff.Permanent error, the
// attempts run out or ctx is done. notify, when set, is called before each
// wait with the error that caused it.
func (p RetryPolicy) Retry(ctx context.Context, op func(ctx context.Context) error, notify func(err error, wait time.Duration)) error {
	return backoff.RetryNotify(func() error {
		return op(ctx)
	}, backoff.WithContext(p.BackOff(), ctx), notify)
}
