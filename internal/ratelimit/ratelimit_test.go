package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleRateLimiterEnforcesDelay(t *testing.T) {
	limiter := NewSimpleRateLimiter(50*time.Millisecond, 50*time.Millisecond)

	require.NoError(t, limiter.Wait(context.Background()))

	start := time.Now()
	require.NoError(t, limiter.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestSimpleRateLimiterCancellation(t *testing.T) {
	limiter := NewSimpleRateLimiter(time.Minute, time.Minute)
	require.NoError(t, limiter.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := limiter.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAdaptiveRateLimiterBacksOff(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(time.Second, 3*time.Second)

	for i := 0; i < 3; i++ {
		limiter.RecordError()
	}

	assert.Equal(t, 1500*time.Millisecond, limiter.minDelay)
	assert.Equal(t, 4500*time.Millisecond, limiter.maxDelay)
}

func TestAdaptiveRateLimiterRecovers(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(2*time.Second, 4*time.Second)

	for i := 0; i < 6; i++ {
		limiter.RecordSuccess()
	}

	assert.Equal(t, 1800*time.Millisecond, limiter.minDelay)
}

func TestAdaptiveRateLimiterFloor(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(520*time.Millisecond, time.Second)

	for round := 0; round < 5; round++ {
		for i := 0; i < 6; i++ {
			limiter.RecordSuccess()
		}
	}

	assert.GreaterOrEqual(t, limiter.minDelay, 500*time.Millisecond)
}
