package imagegen

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/storyboard/testutil"
	"github.com/BaSui01/storyboard/types"
)

func TestRetry_NonRetryableFailsImmediately(t *testing.T) {
	t.Parallel()

	calls := 0
	r := newRetryer(RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}, nil)
	_, err := r.Do(testutil.TestContext(t), func(int) (*outcome, error) {
		calls++
		return nil, types.NewError(types.ErrAuth, "key rejected")
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrAuth, types.GetErrorCode(err))
	assert.Equal(t, 1, calls)
}

func TestRetry_ExhaustionWrapsLastError(t *testing.T) {
	t.Parallel()

	calls := 0
	r := newRetryer(RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}, nil)
	_, err := r.Do(testutil.TestContext(t), func(int) (*outcome, error) {
		calls++
		return nil, types.NewError(types.ErrNetwork, "connection reset").
			WithRetryable(true).WithHTTPStatus(502)
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)

	var genErr *types.Error
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, types.ErrExhausted, genErr.Code)
	assert.Equal(t, 502, genErr.HTTPStatus)
	assert.Contains(t, genErr.Message, "connection reset")
	assert.Equal(t, types.ErrNetwork, types.GetErrorCode(genErr.Cause))
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	t.Parallel()

	calls := 0
	want := &outcome{result: &GenerationResult{Model: "m"}}
	r := newRetryer(RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}, nil)
	out, err := r.Do(testutil.TestContext(t), func(int) (*outcome, error) {
		calls++
		if calls < 3 {
			return nil, types.NewError(types.ErrNetwork, "flaky").WithRetryable(true)
		}
		return want, nil
	})
	require.NoError(t, err)
	assert.Same(t, want, out)
	assert.Equal(t, 3, calls)
}

// Backoff is linear: 1×BaseDelay before the second attempt, 2×BaseDelay
// before the third.
func TestRetry_LinearBackoffTiming(t *testing.T) {
	t.Parallel()

	const base = 20 * time.Millisecond
	var delays []time.Duration
	r := newRetryer(RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   base,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			delays = append(delays, delay)
		},
	}, nil)

	start := time.Now()
	_, err := r.Do(testutil.TestContext(t), func(int) (*outcome, error) {
		return nil, types.NewError(types.ErrNetwork, "down").WithRetryable(true)
	})
	elapsed := time.Since(start)

	require.Error(t, err)
	require.Equal(t, []time.Duration{base, 2 * base}, delays)
	assert.GreaterOrEqual(t, elapsed, 3*base)
}

func TestRetry_ContextCancelDuringBackoff(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	r := newRetryer(RetryPolicy{MaxAttempts: 5, BaseDelay: time.Minute}, nil)
	_, err := r.Do(ctx, func(int) (*outcome, error) {
		calls++
		cancel()
		return nil, types.NewError(types.ErrNetwork, "down").WithRetryable(true)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, types.ErrNetwork, types.GetErrorCode(err))
}

func TestRetry_PolicyNormalization(t *testing.T) {
	t.Parallel()

	r := newRetryer(RetryPolicy{}, nil)
	assert.Equal(t, 1, r.policy.MaxAttempts)
	assert.Equal(t, time.Second, r.policy.BaseDelay)
}
