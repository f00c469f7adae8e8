// Package retry holds the backoff policy the orchestrator applies to every
// external call of a consultation stage.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/fyrsmithlabs/consultd/internal/config"
)

// Policy describes how a single external call is retried.
type Policy struct {
	// MaxAttempts includes the first call. Values below 1 mean one attempt.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// FromConfig builds a Policy from the pipeline section.
func FromConfig(c config.PipelineConfig) Policy {
	return Policy{
		MaxAttempts:    c.MaxAttempts,
		InitialBackoff: c.InitialBackoff.Duration(),
		MaxBackoff:     c.MaxBackoff.Duration(),
	}
}

// Once is a policy that never retries.
var Once = Policy{MaxAttempts: 1}

// NotifyFunc is told about every failed attempt that will be retried.
type NotifyFunc func(attempt int, err error, wait time.Duration)

// Permanent marks err as not worth retrying. Do returns the wrapped error
// immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Do runs op until it succeeds, returns a permanent error, the attempts are
// exhausted or ctx is done. The last error is returned unwrapped.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error), notify NotifyFunc) (T, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	b := backoff.NewExponentialBackOff()
	if p.InitialBackoff > 0 {
		b.InitialInterval = p.InitialBackoff
	}
	if p.MaxBackoff > 0 {
		b.MaxInterval = p.MaxBackoff
	}

	attempt := 0
	operation := func() (T, error) {
		attempt++
		res, err := op(ctx)
		if err != nil && ctx.Err() != nil {
			// Stage deadline or caller cancellation: no point waiting.
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(attempts)),
	}
	if notify != nil {
		opts = append(opts, backoff.WithNotify(func(err error, wait time.Duration) {
			notify(attempt, err, wait)
		}))
	}

	return backoff.Retry(ctx, operation, opts...)
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}
