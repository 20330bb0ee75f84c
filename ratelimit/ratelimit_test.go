package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Scenario 5: capacity=10, refillRate=10 per 1000ms, start tokens=10; 10
// consume(1) calls succeed immediately; 11th suspends >=100ms (20ms tolerance).
func TestThrottleWaitSeedScenario(t *testing.T) {
	b := NewBucket(10, 10, time.Second)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 10; i++ {
		require.NoError(t, b.Consume(ctx, 1))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond, "first 10 consumes must not block")

	waitStart := time.Now()
	require.NoError(t, b.Consume(ctx, 1))
	elapsed := time.Since(waitStart)
	assert.GreaterOrEqual(t, elapsed, 80*time.Millisecond)
}

func TestTryConsumeReturnsTrueIffTokensAvailable(t *testing.T) {
	b := NewBucket(2, 1, time.Second)
	assert.True(t, b.TryConsume(2))
	assert.False(t, b.TryConsume(1))
}

func TestUpdateFromHeaderTightensBucket(t *testing.T) {
	b := NewBucket(10, 10, time.Second)
	b.UpdateFromHeader(9) // only 1 token should remain
	assert.True(t, b.TryConsume(1))
	assert.False(t, b.TryConsume(1))
}

func TestConsumeRespectsContextCancellation(t *testing.T) {
	b := NewBucket(1, 1, time.Hour)
	require.True(t, b.TryConsume(1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := b.Consume(ctx, 1)
	assert.Error(t, err)
}

func TestStatusSnapshot(t *testing.T) {
	b := NewBucket(5, 5, time.Second)
	s := b.Status()
	assert.Equal(t, 5, s.Capacity)
	assert.InDelta(t, 5, s.Tokens, 0.01)
}
