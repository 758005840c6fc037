package ratelimit

import (
	"context"
	"testing"
	"time"

	"giftminder/internal/domain"
)

func TestMemoryLimiterWindow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	now := time.Date(2026, 3, 10, 9, 0, 10, 0, time.UTC)
	clock := func() time.Time { return now }
	l := NewMemory(map[domain.Channel]Policy{
		domain.ChannelMail: {Max: 3, Window: time.Minute},
	}, clock)

	for i := 1; i <= 3; i++ {
		d, err := l.Check(ctx, domain.ChannelMail, "u1")
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if !d.Allowed || d.CurrentCount != int64(i) {
			t.Fatalf("check %d: %+v", i, d)
		}
	}

	// Fourth attempt in the same window is blocked and still counted.
	d, err := l.Check(ctx, domain.ChannelMail, "u1")
	if err != nil {
		t.Fatalf("blocked check: %v", err)
	}
	if d.Allowed {
		t.Fatal("fourth attempt should be blocked")
	}
	if d.CurrentCount != 4 || d.MaxAllowed != 3 {
		t.Fatalf("blocked decision = %+v", d)
	}
	if want := 50 * time.Second; d.RetryAfter != want {
		t.Fatalf("retry after = %v, want %v", d.RetryAfter, want)
	}

	// Next window starts fresh.
	now = now.Add(time.Minute)
	d, _ = l.Check(ctx, domain.ChannelMail, "u1")
	if !d.Allowed || d.CurrentCount != 1 {
		t.Fatalf("post-reset decision = %+v", d)
	}
}

func TestMemoryLimiterIsolation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	l := NewMemory(map[domain.Channel]Policy{
		domain.ChannelSlack: {Max: 1, Window: time.Minute},
	}, func() time.Time { return now })

	if d, _ := l.Check(ctx, domain.ChannelSlack, "u1"); !d.Allowed {
		t.Fatal("first u1 send should pass")
	}
	if d, _ := l.Check(ctx, domain.ChannelSlack, "u1"); d.Allowed {
		t.Fatal("second u1 send should be blocked")
	}
	// A different key has its own budget.
	if d, _ := l.Check(ctx, domain.ChannelSlack, "u2"); !d.Allowed {
		t.Fatal("u2 should have an untouched budget")
	}
	// A channel with no policy is unlimited.
	for i := 0; i < 10; i++ {
		if d, _ := l.Check(ctx, domain.ChannelPush, "u1"); !d.Allowed {
			t.Fatal("push has no policy and must never block")
		}
	}
}

func TestMemoryLimiterSnapshot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	l := NewMemory(map[domain.Channel]Policy{
		domain.ChannelMail: {Max: 1, Window: time.Minute},
	}, func() time.Time { return now })

	_, _ = l.Check(ctx, domain.ChannelMail, "u1")
	_, _ = l.Check(ctx, domain.ChannelMail, "u1")

	rows, err := l.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if !rows[0].Blocked || rows[0].CurrentCount != 2 {
		t.Fatalf("row = %+v", rows[0])
	}

	// Expired windows fall out of the snapshot.
	now = now.Add(2 * time.Minute)
	rows, _ = l.Snapshot(ctx)
	if len(rows) != 0 {
		t.Fatalf("expired rows should be pruned, got %+v", rows)
	}
}
