// Package capability defines the failure taxonomy shared by the
// external capabilities (LLM completion, market data) and the retry
// policy applied to transient failures before an error is allowed to
// reach the execution engine.
package capability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// TransientError marks a failure worth retrying: timeouts, rate
// limits, flaky upstreams.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure that retrying cannot fix: invalid
// ticker, malformed model output, rejected request.
type PermanentError struct {
	Op  string
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("%s: permanent failure: %v", e.Op, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

func Permanent(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Op: op, Err: err}
}

// IsTransient reports whether err is retryable. Context timeouts on a
// capability call count as transient per the scheduling model; an
// explicit PermanentError never does.
func IsTransient(err error) bool {
	var perm *PermanentError
	if errors.As(err, &perm) {
		return false
	}
	var tr *TransientError
	if errors.As(err, &tr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// RetryPolicy bounds the exponential backoff applied around a
// capability call.
type RetryPolicy struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     4,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     8 * time.Second,
	}
}

// Retry runs op with bounded exponential backoff. Permanent failures
// and context cancellation abort immediately; transient failures are
// retried until the policy's attempt budget is spent.
func Retry[T any](ctx context.Context, policy RetryPolicy, op func() (T, error)) (T, error) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = policy.InitialInterval
	expo.MaxInterval = policy.MaxInterval

	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(expo), backoff.WithMaxTries(policy.MaxAttempts))
}
