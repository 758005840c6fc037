package storage

import (
	"context"
	"errors"
	"time"

	"giftminder/internal/domain"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file
//   - "memory": in-process store (tests, throwaway runs)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// DispatchStatus is the terminal outcome recorded for a dispatch key.
type DispatchStatus string

const (
	DispatchSent   DispatchStatus = "sent"
	DispatchFailed DispatchStatus = "failed"
)

// DispatchRecord is the idempotency record for one reminder send.
// The natural key is (event, occurrence year, channel); a record of either
// status suppresses further sends for that occurrence.
type DispatchRecord struct {
	EventID        int64
	OccurrenceYear int
	Channel        domain.Channel
	Status         DispatchStatus
	// SentOn is the user-local calendar date ("2006-01-02") the dispatch
	// was decided on.
	SentOn string
	At     time.Time
	Detail string
}

// HealthSnapshot is the latest health reading for one channel.
type HealthSnapshot struct {
	Channel              domain.Channel
	State                string
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	At                   time.Time
}

// Outage spans the time a channel spent in critical state.
// A channel has at most one open (unresolved) outage.
type Outage struct {
	ID        string
	Channel   domain.Channel
	StartedAt time.Time
	EndedAt   *time.Time
	Resolved  bool
}

// MetricField selects one counter of a daily metric bucket.
type MetricField string

const (
	MetricSent      MetricField = "sent"
	MetricDelivered MetricField = "delivered"
	MetricFailed    MetricField = "failed"
	MetricRead      MetricField = "read"
	MetricClicked   MetricField = "clicked"
)

// MetricDay is one (day, channel) bucket of delivery counters.
type MetricDay struct {
	Day       string // "2006-01-02"
	Channel   domain.Channel
	Sent      int64
	Delivered int64
	Failed    int64
	Read      int64
	Clicked   int64
}

// Store is the persistence API used by the reminder core.
//
// The Users/EventsForUser/IsCompleted/GiftsForEvent reads serve the
// scheduler with projections of the calendar the outer CRUD application
// maintains; the core never writes those tables.
type Store interface {
	// Calendar projections (read-only from the core's perspective).
	Users(ctx context.Context) ([]domain.User, error)
	EventsForUser(ctx context.Context, userID int64) ([]domain.Event, error)
	IsCompleted(ctx context.Context, eventID int64, year int) (bool, error)
	GiftsForEvent(ctx context.Context, eventID int64, year int) ([]domain.Gift, error)

	// Dispatch idempotency.
	HasDispatch(ctx context.Context, eventID int64, year int, ch domain.Channel) (bool, error)
	PutDispatch(ctx context.Context, rec DispatchRecord) error

	// Channel health.
	PutHealthSnapshot(ctx context.Context, s HealthSnapshot) error
	HealthSnapshots(ctx context.Context) ([]HealthSnapshot, error)
	PutOutage(ctx context.Context, o Outage) error
	GetOpenOutage(ctx context.Context, ch domain.Channel) (*Outage, error)
	ResolveOutage(ctx context.Context, id string, endedAt time.Time) error

	// Daily metrics.
	IncrMetric(ctx context.Context, day string, ch domain.Channel, field MetricField, n int64) error
	MetricsSince(ctx context.Context, fromDay string) ([]MetricDay, error)

	Close() error
}
