package storage

import (
	"context"
	"testing"
	"time"

	"giftminder/internal/domain"
)

func TestMemoryDispatchFirstWriterWins(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	ok, err := m.HasDispatch(ctx, 7, 2026, domain.ChannelMail)
	if err != nil || ok {
		t.Fatalf("HasDispatch before insert: ok=%v err=%v", ok, err)
	}

	first := DispatchRecord{
		EventID: 7, OccurrenceYear: 2026, Channel: domain.ChannelMail,
		Status: DispatchSent, SentOn: "2026-03-10", At: time.Now(),
	}
	if err := m.PutDispatch(ctx, first); err != nil {
		t.Fatalf("PutDispatch: %v", err)
	}
	// Second insert for the same key must not overwrite the outcome.
	second := first
	second.Status = DispatchFailed
	if err := m.PutDispatch(ctx, second); err != nil {
		t.Fatalf("PutDispatch (duplicate): %v", err)
	}

	ok, err = m.HasDispatch(ctx, 7, 2026, domain.ChannelMail)
	if err != nil || !ok {
		t.Fatalf("HasDispatch after insert: ok=%v err=%v", ok, err)
	}
	recs := m.Dispatches()
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	if recs[0].Status != DispatchSent {
		t.Fatalf("status = %q, want %q", recs[0].Status, DispatchSent)
	}

	// A different channel for the same occurrence is its own key.
	ok, _ = m.HasDispatch(ctx, 7, 2026, domain.ChannelSlack)
	if ok {
		t.Fatal("slack key should be independent of mail key")
	}
}

func TestMemoryOutageLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	if err := m.PutOutage(ctx, Outage{ID: "o1", Channel: domain.ChannelPush, StartedAt: start}); err != nil {
		t.Fatalf("PutOutage: %v", err)
	}
	open, err := m.GetOpenOutage(ctx, domain.ChannelPush)
	if err != nil || open == nil {
		t.Fatalf("GetOpenOutage: open=%v err=%v", open, err)
	}
	if open.ID != "o1" || open.Resolved {
		t.Fatalf("open outage = %+v", open)
	}
	if got, _ := m.GetOpenOutage(ctx, domain.ChannelMail); got != nil {
		t.Fatalf("mail should have no open outage, got %+v", got)
	}

	end := start.Add(45 * time.Minute)
	if err := m.ResolveOutage(ctx, "o1", end); err != nil {
		t.Fatalf("ResolveOutage: %v", err)
	}
	if got, _ := m.GetOpenOutage(ctx, domain.ChannelPush); got != nil {
		t.Fatalf("outage should be closed, got %+v", got)
	}
	all := m.Outages()
	if len(all) != 1 || !all[0].Resolved || all[0].EndedAt == nil || !all[0].EndedAt.Equal(end) {
		t.Fatalf("outages = %+v", all)
	}
}

func TestMemoryMetrics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	for i := 0; i < 3; i++ {
		if err := m.IncrMetric(ctx, "2026-03-10", domain.ChannelMail, MetricSent, 1); err != nil {
			t.Fatalf("IncrMetric: %v", err)
		}
	}
	_ = m.IncrMetric(ctx, "2026-03-10", domain.ChannelMail, MetricDelivered, 2)
	_ = m.IncrMetric(ctx, "2026-03-10", domain.ChannelMail, MetricFailed, 1)
	_ = m.IncrMetric(ctx, "2026-03-09", domain.ChannelMail, MetricSent, 5)
	_ = m.IncrMetric(ctx, "2026-03-10", domain.ChannelSlack, MetricRead, 1)

	rows, err := m.MetricsSince(ctx, "2026-03-10")
	if err != nil {
		t.Fatalf("MetricsSince: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2 (old day filtered out)", len(rows))
	}
	for _, r := range rows {
		switch r.Channel {
		case domain.ChannelMail:
			if r.Sent != 3 || r.Delivered != 2 || r.Failed != 1 {
				t.Fatalf("mail bucket = %+v", r)
			}
		case domain.ChannelSlack:
			if r.Read != 1 {
				t.Fatalf("slack bucket = %+v", r)
			}
		default:
			t.Fatalf("unexpected channel %q", r.Channel)
		}
	}
}

func TestMemoryCalendarProjections(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	m.SeedUser(domain.User{ID: 1, Name: "Ada", Timezone: "UTC"})
	m.SeedEvent(1, domain.Event{ID: 10, PersonName: "Grace", Type: "birthday", Recurrence: domain.RecurYearly})
	m.SeedGift(domain.Gift{ID: 1, EventID: 10, Year: 2026, Title: "book", Value: f64(19.99)})
	m.SeedGift(domain.Gift{ID: 2, EventID: 10, Year: 2025, Title: "old", Value: f64(5)})
	m.SetCompleted(10, 2025, true)

	users, err := m.Users(ctx)
	if err != nil || len(users) != 1 {
		t.Fatalf("Users: %v %v", users, err)
	}
	evs, err := m.EventsForUser(ctx, 1)
	if err != nil || len(evs) != 1 {
		t.Fatalf("EventsForUser: %v %v", evs, err)
	}
	if evs, _ := m.EventsForUser(ctx, 2); len(evs) != 0 {
		t.Fatalf("user 2 should have no events, got %v", evs)
	}

	gifts, err := m.GiftsForEvent(ctx, 10, 2026)
	if err != nil || len(gifts) != 1 || gifts[0].Title != "book" {
		t.Fatalf("GiftsForEvent: %v %v", gifts, err)
	}

	done, _ := m.IsCompleted(ctx, 10, 2025)
	open, _ := m.IsCompleted(ctx, 10, 2026)
	if !done || open {
		t.Fatalf("completion: 2025=%v 2026=%v", done, open)
	}
	m.SetCompleted(10, 2025, false)
	if done, _ := m.IsCompleted(ctx, 10, 2025); done {
		t.Fatal("completion should clear")
	}
}

func f64(v float64) *float64 { return &v }
