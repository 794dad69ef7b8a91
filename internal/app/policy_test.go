package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/callbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_LinearDelay(t *testing.T) {
	p := RetryPolicy{Attempts: 3, BaseDelay: time.Second}
	assert.Equal(t, time.Duration(0), p.Delay(0))
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 3*time.Second, p.Delay(3))
}

func TestDo_SucceedsOnThirdAttempt(t *testing.T) {
	p := RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond}
	calls := 0
	v, attempts, err := Do(context.Background(), p, func(attempt int) (string, error) {
		calls++
		if attempt < 3 {
			return "", domain.ErrNoCallDescriptor
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsAtAttemptBound(t *testing.T) {
	p := RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond}
	calls := 0
	_, attempts, err := Do(context.Background(), p, func(int) (int, error) {
		calls++
		return 0, domain.ErrNoCallDescriptor
	})
	require.ErrorIs(t, err, domain.ErrNoCallDescriptor)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
}

func TestDo_NonRetryableFailsFast(t *testing.T) {
	p := RetryPolicy{Attempts: 3, BaseDelay: time.Hour}
	for _, e := range []error{domain.ErrRoomNotFound, domain.ErrParse, errors.New("boom")} {
		calls := 0
		_, _, err := Do(context.Background(), p, func(int) (int, error) {
			calls++
			return 0, e
		})
		require.ErrorIs(t, err, e)
		assert.Equal(t, 1, calls)
	}
}

func TestDo_CanceledDuringBackoff(t *testing.T) {
	p := RetryPolicy{Attempts: 3, BaseDelay: time.Hour}
	ctx, cancel := context.WithCancelCause(context.Background())
	cause := errors.New("left")
	_, attempts, err := Do(ctx, p, func(int) (int, error) {
		cancel(cause)
		return 0, domain.ErrNoCallDescriptor
	})
	require.ErrorIs(t, err, cause)
	assert.Equal(t, 1, attempts)
}

func TestSimplePolicy(t *testing.T) {
	p := SimplePolicy{MaxDropped: 2}
	assert.Equal(t, DropFrame, p.OnBackPressure("s", 1))
	assert.Equal(t, KickSubscriber, p.OnBackPressure("s", 2))
	assert.Equal(t, KickSubscriber, SimplePolicy{}.OnBackPressure("s", 0))
}
