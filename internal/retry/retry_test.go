package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fast = Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	var notified []int

	got, err := Do(context.Background(), fast, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("503")
		}
		return "ok", nil
	}, func(attempt int, err error, wait time.Duration) {
		notified = append(notified, attempt)
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, notified)
}

func TestDo_StopsAtMaxAttempts(t *testing.T) {
	calls := 0
	boom := errors.New("timeout")

	_, err := Do(context.Background(), fast, func(context.Context) (int, error) {
		calls++
		return 0, boom
	}, nil)

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestDo_PermanentErrorNotRetried(t *testing.T) {
	calls := 0
	bad := errors.New("invalid request")

	_, err := Do(context.Background(), fast, func(context.Context) (int, error) {
		calls++
		return 0, Permanent(bad)
	}, nil)

	require.ErrorIs(t, err, bad)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelledStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	_, err := Do(ctx, Policy{MaxAttempts: 5, InitialBackoff: time.Millisecond}, func(ctx context.Context) (int, error) {
		calls++
		cancel()
		return 0, ctx.Err()
	}, nil)

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ZeroPolicyRunsOnce(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Policy{}, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("nope")
	}, nil)

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestPermanent(t *testing.T) {
	assert.Nil(t, Permanent(nil))
	assert.True(t, IsPermanent(Permanent(errors.New("x"))))
	assert.False(t, IsPermanent(errors.New("x")))
}
