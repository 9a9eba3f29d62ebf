package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/huangsam/feedmirror/internal/contract"
)

// LimiterConfig holds the two ceilings enforced by RateLimiter.
type LimiterConfig struct {
	ShortWindow time.Duration
	ShortLimit  int
	DailyLimit  int
}

// LimiterUsage is a point-in-time view of the limiter counters.
type LimiterUsage struct {
	ShortCount   int       `json:"short_count"`
	ShortLimit   int       `json:"short_limit"`
	ShortResetAt time.Time `json:"short_reset_at"`
	DailyCount   int       `json:"daily_count"`
	DailyLimit   int       `json:"daily_limit"`
	DailyResetAt time.Time `json:"daily_reset_at"`
}

// RateLimiter tracks calls against a short fixed window and a daily ceiling
// that resets at the next UTC midnight.
type RateLimiter struct {
	cfg LimiterConfig
	now func() time.Time

	mu         sync.Mutex
	shortCount int
	shortStart time.Time
	dailyCount int
	dailyReset time.Time
}

var _ contract.CallBudget = &RateLimiter{}

// NewRateLimiter creates a limiter. A nil clock means time.Now.
func NewRateLimiter(cfg LimiterConfig, now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	t := now()
	return &RateLimiter{
		cfg:        cfg,
		now:        now,
		shortStart: t,
		dailyReset: contract.NextUTCMidnight(t),
	}
}

// TryAcquire reports whether another call fits in both budgets.
// When it does not, the second value says which ceiling was hit.
func (l *RateLimiter) TryAcquire() (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollLocked(l.now())

	if l.dailyCount >= l.cfg.DailyLimit {
		return false, fmt.Sprintf("daily limit of %d calls reached, resets at %s",
			l.cfg.DailyLimit, l.dailyReset.Format(time.RFC3339))
	}
	if l.shortCount >= l.cfg.ShortLimit {
		return false, fmt.Sprintf("short window limit of %d calls per %s reached, resets at %s",
			l.cfg.ShortLimit, l.cfg.ShortWindow, l.shortStart.Add(l.cfg.ShortWindow).Format(time.RFC3339))
	}
	return true, ""
}

// RecordCall counts one call against both budgets.
func (l *RateLimiter) RecordCall() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollLocked(l.now())
	l.shortCount++
	l.dailyCount++
}

// Snapshot returns the current counters.
func (l *RateLimiter) Snapshot() LimiterUsage {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollLocked(l.now())
	return LimiterUsage{
		ShortCount:   l.shortCount,
		ShortLimit:   l.cfg.ShortLimit,
		ShortResetAt: l.shortStart.Add(l.cfg.ShortWindow),
		DailyCount:   l.dailyCount,
		DailyLimit:   l.cfg.DailyLimit,
		DailyResetAt: l.dailyReset,
	}
}

// rollLocked resets any counter whose window has elapsed.
func (l *RateLimiter) rollLocked(t time.Time) {
	if !t.Before(l.shortStart.Add(l.cfg.ShortWindow)) {
		l.shortCount = 0
		l.shortStart = t
	}
	if !t.Before(l.dailyReset) {
		l.dailyCount = 0
		l.dailyReset = contract.NextUTCMidnight(t)
	}
}
