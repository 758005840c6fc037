package metrics

import (
	"context"
	"testing"
	"time"

	"giftminder/internal/domain"
	"giftminder/internal/storage"
	logx "giftminder/pkg/logx"
)

func TestAggregatorBuckets(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	now := time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)
	agg := NewAggregator(st, logx.Nop(), func() time.Time { return now })

	agg.RecordSent(ctx, domain.ChannelMail)
	agg.RecordSent(ctx, domain.ChannelMail)
	agg.RecordDelivered(ctx, domain.ChannelMail)
	agg.RecordFailed(ctx, domain.ChannelMail)
	agg.RecordRead(ctx, domain.ChannelSlack)
	agg.RecordClicked(ctx, domain.ChannelSlack)

	rows, err := agg.Since(ctx, 1)
	if err != nil {
		t.Fatalf("Since: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	for _, r := range rows {
		if r.Day != "2026-03-10" {
			t.Fatalf("day = %q", r.Day)
		}
		switch r.Channel {
		case domain.ChannelMail:
			if r.Sent != 2 || r.Delivered != 1 || r.Failed != 1 {
				t.Fatalf("mail = %+v", r)
			}
		case domain.ChannelSlack:
			if r.Read != 1 || r.Clicked != 1 {
				t.Fatalf("slack = %+v", r)
			}
		}
	}
}

func TestSinceWindow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	_ = st.IncrMetric(ctx, "2026-03-01", domain.ChannelMail, storage.MetricSent, 1)
	_ = st.IncrMetric(ctx, "2026-03-09", domain.ChannelMail, storage.MetricSent, 1)
	_ = st.IncrMetric(ctx, "2026-03-10", domain.ChannelMail, storage.MetricSent, 1)

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	agg := NewAggregator(st, logx.Nop(), func() time.Time { return now })

	rows, err := agg.Since(ctx, 2)
	if err != nil {
		t.Fatalf("Since: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2 (2026-03-01 excluded)", len(rows))
	}

	// days < 1 clamps to today only.
	rows, _ = agg.Since(ctx, 0)
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
}
