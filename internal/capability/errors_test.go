package capability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTransientClassification(t *testing.T) {
	assert.True(t, IsTransient(Transient("llm", errors.New("429"))))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(Permanent("data", errors.New("unknown ticker"))))
	assert.False(t, IsTransient(errors.New("plain error")))
}

func TestRetryRecoversFromTransientFailures(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
	attempts := 0

	got, err := Retry(context.Background(), policy, func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", Transient("llm", errors.New("rate limited"))
		}
		return "done", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "done", got)
	assert.Equal(t, 3, attempts)
}

func TestRetryStopsOnPermanentFailure(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
	attempts := 0

	_, err := Retry(context.Background(), policy, func() (int, error) {
		attempts++
		return 0, Permanent("data", errors.New("bad ticker"))
	})

	var perm *PermanentError
	require.ErrorAs(t, err, &perm)
	assert.Equal(t, 1, attempts)
}

func TestRetryExhaustsAttemptBudget(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
	attempts := 0

	_, err := Retry(context.Background(), policy, func() (int, error) {
		attempts++
		return 0, Transient("llm", errors.New("timeout"))
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.True(t, IsTransient(err))
}
