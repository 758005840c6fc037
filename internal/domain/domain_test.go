package domain

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestNextOccurrenceYearly(t *testing.T) {
	t.Parallel()
	ev := Event{Recurrence: RecurYearly, Date: date(1990, time.June, 15)}

	tests := []struct {
		name  string
		today time.Time
		want  time.Time
	}{
		{name: "before anniversary", today: date(2026, time.March, 1), want: date(2026, time.June, 15)},
		{name: "on anniversary", today: date(2026, time.June, 15), want: date(2026, time.June, 15)},
		{name: "after anniversary", today: date(2026, time.July, 1), want: date(2027, time.June, 15)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ev.NextOccurrence(tt.today)
			if !ok {
				t.Fatal("expected an occurrence")
			}
			if !got.Equal(tt.want) {
				t.Fatalf("NextOccurrence = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextOccurrenceNonRecurring(t *testing.T) {
	t.Parallel()
	ev := Event{Recurrence: RecurNone, Date: date(2026, time.May, 20)}

	if occ, ok := ev.NextOccurrence(date(2026, time.May, 1)); !ok || !occ.Equal(date(2026, time.May, 20)) {
		t.Fatalf("future one-off should occur on its date, got %v ok=%v", occ, ok)
	}
	if _, ok := ev.NextOccurrence(date(2026, time.May, 21)); ok {
		t.Fatal("past one-off must have no next occurrence")
	}
	// Boundary: the event day itself still counts.
	if _, ok := ev.NextOccurrence(date(2026, time.May, 20)); !ok {
		t.Fatal("event day itself must still count")
	}
}

func TestNextOccurrenceLeapDay(t *testing.T) {
	t.Parallel()
	ev := Event{Recurrence: RecurYearly, Date: date(2000, time.February, 29)}
	// 2026 is not a leap year; Feb 29 normalizes to Mar 1.
	got, ok := ev.NextOccurrence(date(2026, time.February, 1))
	if !ok {
		t.Fatal("expected an occurrence")
	}
	if !got.Equal(date(2026, time.March, 1)) {
		t.Fatalf("leap-day occurrence = %v, want 2026-03-01", got)
	}
}

func TestUserLocationDefaultsToUTC(t *testing.T) {
	t.Parallel()
	if loc := (User{}).Location(); loc != time.UTC {
		t.Fatalf("empty timezone should resolve to UTC, got %v", loc)
	}
	if loc := (User{Timezone: "Not/AZone"}).Location(); loc != time.UTC {
		t.Fatalf("invalid timezone should resolve to UTC, got %v", loc)
	}
	loc := (User{Timezone: "America/New_York"}).Location()
	if loc.String() != "America/New_York" {
		t.Fatalf("unexpected location %v", loc)
	}
}

func TestDaysBetween(t *testing.T) {
	t.Parallel()
	if d := DaysBetween(date(2026, time.June, 10), date(2026, time.June, 10)); d != 0 {
		t.Fatalf("same day = %d, want 0", d)
	}
	if d := DaysBetween(date(2026, time.June, 10), date(2026, time.June, 17)); d != 7 {
		t.Fatalf("one week = %d, want 7", d)
	}
	// Dates in different zones still compare by calendar date.
	ny, _ := time.LoadLocation("America/New_York")
	a := time.Date(2026, time.June, 10, 23, 30, 0, 0, ny)
	b := date(2026, time.June, 11)
	if d := DaysBetween(a, b); d != 1 {
		t.Fatalf("cross-zone = %d, want 1", d)
	}
}

func TestGiftAggregates(t *testing.T) {
	t.Parallel()
	v := func(f float64) *float64 { return &f }
	gifts := []Gift{
		{ID: 1, EventID: 7, Year: 2026, Value: v(25)},
		{ID: 2, EventID: 7, Year: 2026, Value: v(30.50)},
		{ID: 3, EventID: 7, Year: 2025, Value: v(99)},  // other year
		{ID: 4, EventID: 8, Year: 2026, Value: v(10)},  // other event
		{ID: 5, EventID: 7, Year: 2026, Value: nil},    // no value
	}

	if got := TotalGiftsValueForYear(gifts, 7, 2026); got != 55.50 {
		t.Fatalf("TotalGiftsValueForYear = %v, want 55.50", got)
	}

	ev := Event{ID: 7, TargetValue: v(100)}
	rem, ok := ev.RemainingValueForYear(gifts, 2026)
	if !ok || rem != 44.50 {
		t.Fatalf("RemainingValueForYear = %v ok=%v, want 44.50", rem, ok)
	}

	noBudget := Event{ID: 7}
	if _, ok := noBudget.RemainingValueForYear(gifts, 2026); ok {
		t.Fatal("event without target must report no remaining value")
	}
}

func TestMilestone(t *testing.T) {
	t.Parallel()
	ev := Event{Recurrence: RecurYearly, Date: date(1996, time.June, 15), ShowMilestone: true}
	n, ok := ev.Milestone(date(2026, time.March, 1))
	if !ok || n != 30 {
		t.Fatalf("Milestone = %d ok=%v, want 30", n, ok)
	}
	ev.ShowMilestone = false
	if _, ok := ev.Milestone(date(2026, time.March, 1)); ok {
		t.Fatal("milestone disabled must not report")
	}
}

func TestParseChannel(t *testing.T) {
	t.Parallel()
	for _, c := range AllChannels() {
		got, err := ParseChannel(string(c))
		if err != nil || got != c {
			t.Fatalf("ParseChannel(%q) = %v, %v", c, got, err)
		}
	}
	if _, err := ParseChannel("telegram"); err == nil {
		t.Fatal("expected error for channel outside the closed set")
	}
}

func TestParseSendTime(t *testing.T) {
	t.Parallel()
	h, m, err := ParseSendTime("09:00")
	if err != nil || h != 9 || m != 0 {
		t.Fatalf("ParseSendTime = %d:%d, %v", h, m, err)
	}
	for _, bad := range []string{"24:00", "09:60", "900", ""} {
		if _, _, err := ParseSendTime(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
