// Package domain holds the read-only projections the reminder core works
// with. The outer CRUD application owns these records; the core only
// receives them fully hydrated and derives occurrence/budget values.
package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Channel identifies a delivery channel. The set is closed: dispatch is a
// lookup over these four tags, never reflection over arbitrary strings.
type Channel string

const (
	ChannelMail    Channel = "mail"
	ChannelSlack   Channel = "slack"
	ChannelDiscord Channel = "discord"
	ChannelPush    Channel = "push"
)

// AllChannels returns the closed channel set in a stable order.
func AllChannels() []Channel {
	return []Channel{ChannelMail, ChannelSlack, ChannelDiscord, ChannelPush}
}

func ParseChannel(s string) (Channel, error) {
	switch Channel(strings.ToLower(strings.TrimSpace(s))) {
	case ChannelMail:
		return ChannelMail, nil
	case ChannelSlack:
		return ChannelSlack, nil
	case ChannelDiscord:
		return ChannelDiscord, nil
	case ChannelPush:
		return ChannelPush, nil
	default:
		return "", fmt.Errorf("unknown channel %q", s)
	}
}

// ChannelPref is one user's opt-in for a channel plus the address the
// channel delivers to (mail address, push device token; webhook channels
// are configured globally and may leave Address empty).
type ChannelPref struct {
	Channel Channel
	Address string
	Enabled bool
}

// User is the reminder recipient projection.
type User struct {
	ID       int64
	Name     string
	Email    string
	Timezone string // IANA zone; empty or invalid falls back to UTC
	SendTime string // preferred local send time "HH:MM"; empty means the configured default
	Channels []ChannelPref
}

// Location resolves the user's timezone, defaulting to UTC when the zone
// is unset or unknown.
func (u User) Location() *time.Location {
	tz := strings.TrimSpace(u.Timezone)
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// EnabledChannels returns the user's enabled channel preferences.
func (u User) EnabledChannels() []ChannelPref {
	out := make([]ChannelPref, 0, len(u.Channels))
	for _, p := range u.Channels {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out
}

// ParseSendTime parses an "HH:MM" clock time.
func ParseSendTime(s string) (hour, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}

// Recurrence is how an event repeats.
type Recurrence string

const (
	RecurNone   Recurrence = "none"
	RecurYearly Recurrence = "yearly"
)

// Event is a tracked occasion for a person (birthday, anniversary, ...).
type Event struct {
	ID         int64
	PersonID   int64
	PersonName string
	Type       string
	Name       string // display name; empty falls back to Type
	Date       time.Time
	Recurrence Recurrence
	// TargetValue is the gift budget in the user's currency; nil = not set.
	TargetValue   *float64
	Notes         string
	ShowMilestone bool
}

// DisplayName is the name reminders use for the event.
func (e Event) DisplayName() string {
	if strings.TrimSpace(e.Name) != "" {
		return e.Name
	}
	return e.Type
}

// NextOccurrence derives the next calendar occurrence on or after today.
// Non-recurring events in the past have no next occurrence and report
// ok=false. The returned date is midnight in today's location.
func (e Event) NextOccurrence(today time.Time) (time.Time, bool) {
	today = Midnight(today)
	base := e.Date

	if e.Recurrence != RecurYearly {
		occ := time.Date(base.Year(), base.Month(), base.Day(), 0, 0, 0, 0, today.Location())
		if occ.Before(today) {
			return time.Time{}, false
		}
		return occ, true
	}

	// Yearly: the anniversary in today's year, or next year if already past.
	// time.Date normalizes Feb 29 to Mar 1 in non-leap years.
	occ := time.Date(today.Year(), base.Month(), base.Day(), 0, 0, 0, 0, today.Location())
	if occ.Before(today) {
		occ = time.Date(today.Year()+1, base.Month(), base.Day(), 0, 0, 0, 0, today.Location())
	}
	return occ, true
}

// NextOccurrenceYear is the year component of the next occurrence.
func (e Event) NextOccurrenceYear(today time.Time) (int, bool) {
	occ, ok := e.NextOccurrence(today)
	if !ok {
		return 0, false
	}
	return occ.Year(), true
}

// Milestone reports which anniversary the next occurrence is (e.g. a 30th
// birthday), when the event opts in via ShowMilestone.
func (e Event) Milestone(today time.Time) (int, bool) {
	if !e.ShowMilestone || e.Recurrence != RecurYearly {
		return 0, false
	}
	year, ok := e.NextOccurrenceYear(today)
	if !ok {
		return 0, false
	}
	n := year - e.Date.Year()
	if n <= 0 {
		return 0, false
	}
	return n, true
}

// Midnight truncates t to its date in its own location.
func Midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// DaysBetween counts whole calendar days from a to b (b >= a gives >= 0).
// Both are compared by date only.
func DaysBetween(a, b time.Time) int {
	au := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bu := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(bu.Sub(au) / (24 * time.Hour))
}

// Gift is a gift recorded against one occurrence year of an event.
type Gift struct {
	ID      int64
	EventID int64
	Year    int
	Title   string
	Value   *float64
}

// TotalGiftsValueForYear sums gift values for one occurrence year.
// Gifts without a value count as zero.
func TotalGiftsValueForYear(gifts []Gift, eventID int64, year int) float64 {
	var total float64
	for _, g := range gifts {
		if g.EventID != eventID || g.Year != year {
			continue
		}
		if g.Value != nil {
			total += *g.Value
		}
	}
	return total
}

// RemainingValueForYear is target budget minus gifts already bought.
// Returns ok=false when the event has no target value.
func (e Event) RemainingValueForYear(gifts []Gift, year int) (float64, bool) {
	if e.TargetValue == nil {
		return 0, false
	}
	return *e.TargetValue - TotalGiftsValueForYear(gifts, e.ID, year), true
}

// Completion marks an event handled for one occurrence year.
// At most one completion exists per (event, year).
type Completion struct {
	EventID int64
	Year    int
}
