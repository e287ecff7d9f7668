package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsWithoutRetry(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}
	calls := 0
	err := p.Do(context.Background(), AlwaysRetry, func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}
	calls := 0
	err := p.Do(context.Background(), AlwaysRetry, func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDo_NonRetryableFailsFast(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}
	calls := 0
	terminal := errors.New("401 unauthorized")
	err := p.Do(context.Background(), func(error) bool { return false }, func(ctx context.Context) error {
		calls++
		return terminal
	})
	assert.ErrorIs(t, err, terminal)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsAfterMaxAttempts(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}
	calls := 0
	err := p.Do(context.Background(), AlwaysRetry, func(ctx context.Context) error {
		calls++
		return errors.New("still failing")
	})
	require.Error(t, err)
	assert.True(t, IsExhausted(err))
	assert.Equal(t, 3, calls)
}

func TestDo_ContextCancellation(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Do(ctx, AlwaysRetry, func(ctx context.Context) error {
		return errors.New("x")
	})
	assert.ErrorIs(t, err, context.Canceled)
}
