package ratelimit

import (
	"context"
	"sync"
	"time"

	"giftminder/internal/domain"
)

// MemoryLimiter enforces policies with in-process counters. It is the
// backend used when no Redis address is configured, and in tests, where
// the injected clock makes window rollover deterministic.
type MemoryLimiter struct {
	mu       sync.Mutex
	policies map[domain.Channel]Policy
	windows  map[trackerKey]*memWindow
	track    *tracker
	now      func() time.Time
}

type memWindow struct {
	start time.Time
	count int64
}

// NewMemory builds a limiter over the given per-channel policies.
// now may be nil, in which case time.Now is used.
func NewMemory(policies map[domain.Channel]Policy, now func() time.Time) *MemoryLimiter {
	if now == nil {
		now = time.Now
	}
	return &MemoryLimiter{
		policies: policies,
		windows:  map[trackerKey]*memWindow{},
		track:    newTracker(),
		now:      now,
	}
}

func (l *MemoryLimiter) Check(ctx context.Context, ch domain.Channel, key string) (Decision, error) {
	pol, ok := l.policies[ch]
	if !ok || pol.Max <= 0 || pol.Window <= 0 {
		// No policy means no limit.
		return Decision{Allowed: true}, nil
	}
	now := l.now()
	start := windowStart(now, pol.Window)
	reset := start.Add(pol.Window)

	l.mu.Lock()
	k := trackerKey{ch, key}
	w := l.windows[k]
	if w == nil || !w.start.Equal(start) {
		w = &memWindow{start: start}
		l.windows[k] = w
	}
	w.count++
	count := w.count
	l.mu.Unlock()

	d := Decision{
		Allowed:      count <= pol.Max,
		CurrentCount: count,
		MaxAllowed:   pol.Max,
		ResetAt:      reset,
	}
	if !d.Allowed {
		d.RetryAfter = reset.Sub(now)
	}
	l.track.record(ch, key, d)
	return d, nil
}

func (l *MemoryLimiter) Snapshot(ctx context.Context) ([]ActiveLimit, error) {
	return l.track.snapshot(l.now()), nil
}

func (l *MemoryLimiter) Close() error { return nil }
