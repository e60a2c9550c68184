// Package retry re-runs a reconciliation pass that lost the writer race.
package retry

import (
	"context"
	"errors"
	"time"

	goretry "github.com/sethvargo/go-retry"

	"github.com/fixora/sqlaudit/internal/domain"
)

// Predicate decides whether a failed attempt is worth another try.
type Predicate func(error) bool

// Config bounds the retry loop. MaxAttempts counts the first call. Waits
// start at BaseDelay, double per attempt, vary by up to half either way and
// never exceed MaxDelay. A zero BaseDelay retries without waiting.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultConfig suits a pass competing with one other writer.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
	}
}

// Do calls fn, numbering attempts from 1, until it succeeds, fails with an
// error shouldRetry rejects, or the attempts run out. The error of the last
// attempt is returned unwrapped. A nil shouldRetry means IsRetryable.
func Do(ctx context.Context, config Config, shouldRetry Predicate, fn func(attempt int) error) error {
	if shouldRetry == nil {
		shouldRetry = IsRetryable
	}

	attempt := 0
	return goretry.Do(ctx, config.backoff(), func(ctx context.Context) error {
		attempt++
		err := fn(attempt)
		if err != nil && shouldRetry(err) {
			return goretry.RetryableError(err)
		}
		return err
	})
}

// IsRetryable accepts lock and serialization conflicts only. Anything else
// would fail the same way on a second try.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return domain.IsPersistenceConflict(err)
}

func (c Config) backoff() goretry.Backoff {
	var retries uint64
	if c.MaxAttempts > 1 {
		retries = uint64(c.MaxAttempts - 1)
	}

	var b goretry.Backoff = goretry.BackoffFunc(func() (time.Duration, bool) {
		return 0, false
	})
	if c.BaseDelay > 0 {
		b = goretry.WithJitterPercent(50, goretry.NewExponential(c.BaseDelay))
		if c.MaxDelay > 0 {
			b = goretry.WithCappedDuration(c.MaxDelay, b)
		}
	}
	return goretry.WithMaxRetries(retries, b)
}
