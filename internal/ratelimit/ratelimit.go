// Package ratelimit enforces fixed-window send limits per delivery channel.
//
// Two backends implement the same Limiter contract: a Redis one for
// deployments where several processes share the budget, and an in-memory
// one for single-process runs and tests. Windows are aligned to wall-clock
// boundaries, so a limit of 10/min resets at the top of each minute.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"giftminder/internal/domain"
)

// Policy is the fixed-window budget for one channel.
type Policy struct {
	Max    int64
	Window time.Duration
}

// Decision is the outcome of one Check call. CurrentCount includes the
// attempt being decided, so a blocked attempt still advances the counter.
type Decision struct {
	Allowed      bool
	CurrentCount int64
	MaxAllowed   int64
	RetryAfter   time.Duration
	ResetAt      time.Time
}

// ActiveLimit is a read model row for the admin API: one (channel, key)
// pair currently inside a window, with its latest decision.
type ActiveLimit struct {
	Channel      domain.Channel `json:"channel"`
	Key          string         `json:"key"`
	CurrentCount int64          `json:"current_count"`
	MaxAllowed   int64          `json:"max_allowed"`
	Blocked      bool           `json:"blocked"`
	ResetAt      time.Time      `json:"reset_at"`
}

// Limiter answers whether one more send on a channel fits the window.
type Limiter interface {
	// Check spends one unit of the (channel, key) budget and reports
	// whether the send may proceed.
	Check(ctx context.Context, ch domain.Channel, key string) (Decision, error)
	// Snapshot lists windows that are still live.
	Snapshot(ctx context.Context) ([]ActiveLimit, error)
	Close() error
}

// tracker keeps the Snapshot read model. Both backends feed it from
// their Check path; expired windows are dropped on read.
type tracker struct {
	mu   sync.Mutex
	rows map[trackerKey]ActiveLimit
}

type trackerKey struct {
	ch  domain.Channel
	key string
}

func newTracker() *tracker {
	return &tracker{rows: map[trackerKey]ActiveLimit{}}
}

func (t *tracker) record(ch domain.Channel, key string, d Decision) {
	t.mu.Lock()
	t.rows[trackerKey{ch, key}] = ActiveLimit{
		Channel:      ch,
		Key:          key,
		CurrentCount: d.CurrentCount,
		MaxAllowed:   d.MaxAllowed,
		Blocked:      !d.Allowed,
		ResetAt:      d.ResetAt,
	}
	t.mu.Unlock()
}

func (t *tracker) snapshot(now time.Time) []ActiveLimit {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ActiveLimit, 0, len(t.rows))
	for k, row := range t.rows {
		if !row.ResetAt.After(now) {
			delete(t.rows, k)
			continue
		}
		out = append(out, row)
	}
	return out
}

// windowStart aligns now to the policy window boundary.
func windowStart(now time.Time, window time.Duration) time.Time {
	return now.Truncate(window)
}
