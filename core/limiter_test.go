package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterShortWindow(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC))
	l := NewRateLimiter(LimiterConfig{ShortWindow: 15 * time.Minute, ShortLimit: 5, DailyLimit: 100}, clock.Now)

	for i := range 5 {
		ok, reason := l.TryAcquire()
		assert.True(t, ok, "call %d should be allowed", i+1)
		assert.Empty(t, reason)
		l.RecordCall()
	}

	ok, reason := l.TryAcquire()
	assert.False(t, ok, "sixth call should be rejected")
	assert.Contains(t, reason, "short window")

	clock.Advance(15 * time.Minute)
	ok, _ = l.TryAcquire()
	assert.True(t, ok, "window elapsed, budget restored")
	assert.Equal(t, 0, l.Snapshot().ShortCount)
	assert.Equal(t, 5, l.Snapshot().DailyCount)
}

func TestRateLimiterDailyCeiling(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 10, 23, 0, 0, 0, time.UTC))
	l := NewRateLimiter(LimiterConfig{ShortWindow: time.Minute, ShortLimit: 10, DailyLimit: 3}, clock.Now)

	for range 3 {
		ok, _ := l.TryAcquire()
		assert.True(t, ok)
		l.RecordCall()
	}

	ok, reason := l.TryAcquire()
	assert.False(t, ok)
	assert.Contains(t, reason, "daily limit")

	clock.Advance(30 * time.Minute)
	ok, _ = l.TryAcquire()
	assert.False(t, ok, "still before UTC midnight")

	clock.Advance(31 * time.Minute)
	ok, _ = l.TryAcquire()
	assert.True(t, ok, "daily budget resets at next UTC midnight")

	usage := l.Snapshot()
	assert.Equal(t, 0, usage.DailyCount)
	assert.Equal(t, time.Date(2025, 6, 12, 0, 0, 0, 0, time.UTC), usage.DailyResetAt)
}

func TestRateLimiterTryAcquireDoesNotCount(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC))
	l := NewRateLimiter(LimiterConfig{ShortWindow: time.Minute, ShortLimit: 1, DailyLimit: 1}, clock.Now)

	for range 10 {
		ok, _ := l.TryAcquire()
		assert.True(t, ok)
	}
	assert.Equal(t, 0, l.Snapshot().ShortCount)
}
