package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/manthysbr/templaterelay/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestRetry_SucceedsAfterTransientErrors(t *testing.T) {
	calls := 0
	err := fastRetry().Do(context.Background(), testLogger(), "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	boom := errors.New("still down")
	err := fastRetry().Do(context.Background(), testLogger(), "render", func(context.Context) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "render failed after 3 attempt(s)")
}

func TestRetry_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	cause := errors.New("bad api key")
	err := fastRetry().Do(context.Background(), testLogger(), "op", func(context.Context) error {
		calls++
		return Permanent(cause)
	})
	require.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, domain.ErrPermanent)
	assert.Equal(t, 1, calls)

	calls = 0
	err = fastRetry().Do(context.Background(), testLogger(), "op", func(context.Context) error {
		calls++
		return domain.ErrPermanent
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxAttempts: 5, InitialInterval: time.Hour, MaxInterval: time.Hour}

	calls := 0
	err := policy.Do(ctx, testLogger(), "op", func(context.Context) error {
		calls++
		cancel()
		return errors.New("transient")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_ZeroPolicyRunsOnce(t *testing.T) {
	calls := 0
	err := RetryPolicy{}.Do(context.Background(), testLogger(), "op", func(context.Context) error {
		calls++
		return errors.New("x")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestIsPermanent(t *testing.T) {
	assert.False(t, IsPermanent(errors.New("x")))
	assert.True(t, IsPermanent(Permanent(errors.New("x"))))
	assert.Nil(t, Permanent(nil))
}

func TestJitterBackOff(t *testing.T) {
	b := &jitterBackOff{BackOff: constantBackOff(10 * time.Millisecond), max: 5 * time.Millisecond}
	for i := 0; i < 50; i++ {
		d := b.NextBackOff()
		assert.GreaterOrEqual(t, d, 10*time.Millisecond)
		assert.Less(t, d, 15*time.Millisecond)
	}
}

type constantBackOff time.Duration

func (c constantBackOff) NextBackOff() time.Duration { return time.Duration(c) }
func (constantBackOff) Reset()                       {}
