package storage

import (
	"context"
	"sync"
	"time"

	"giftminder/internal/domain"
)

// Memory is an in-process Store. It backs tests and redis-less throwaway
// runs; the Seed* helpers stand in for the CRUD application that owns the
// calendar tables in the sqlite driver.
type Memory struct {
	mu sync.Mutex

	users       []domain.User
	events      map[int64][]domain.Event // by user id
	gifts       []domain.Gift
	completions map[[2]int64]bool // (event id, year)

	dispatches map[dispatchKey]DispatchRecord
	health     map[domain.Channel]HealthSnapshot
	outages    []Outage
	metrics    map[metricKey]*MetricDay
}

type dispatchKey struct {
	eventID int64
	year    int
	channel domain.Channel
}

type metricKey struct {
	day     string
	channel domain.Channel
}

func NewMemory() *Memory {
	return &Memory{
		events:      map[int64][]domain.Event{},
		completions: map[[2]int64]bool{},
		dispatches:  map[dispatchKey]DispatchRecord{},
		health:      map[domain.Channel]HealthSnapshot{},
		metrics:     map[metricKey]*MetricDay{},
	}
}

func (m *Memory) Close() error { return nil }

// ---- seed helpers ----

func (m *Memory) SeedUser(u domain.User) {
	m.mu.Lock()
	m.users = append(m.users, u)
	m.mu.Unlock()
}

func (m *Memory) SeedEvent(userID int64, ev domain.Event) {
	m.mu.Lock()
	m.events[userID] = append(m.events[userID], ev)
	m.mu.Unlock()
}

func (m *Memory) SeedGift(g domain.Gift) {
	m.mu.Lock()
	m.gifts = append(m.gifts, g)
	m.mu.Unlock()
}

func (m *Memory) SetCompleted(eventID int64, year int, done bool) {
	m.mu.Lock()
	if done {
		m.completions[[2]int64{eventID, int64(year)}] = true
	} else {
		delete(m.completions, [2]int64{eventID, int64(year)})
	}
	m.mu.Unlock()
}

// ---- calendar projections ----

func (m *Memory) Users(ctx context.Context) ([]domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.User(nil), m.users...), nil
}

func (m *Memory) EventsForUser(ctx context.Context, userID int64) ([]domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Event(nil), m.events[userID]...), nil
}

func (m *Memory) IsCompleted(ctx context.Context, eventID int64, year int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.completions[[2]int64{eventID, int64(year)}], nil
}

func (m *Memory) GiftsForEvent(ctx context.Context, eventID int64, year int) ([]domain.Gift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Gift
	for _, g := range m.gifts {
		if g.EventID == eventID && g.Year == year {
			out = append(out, g)
		}
	}
	return out, nil
}

// ---- dispatch records ----

func (m *Memory) HasDispatch(ctx context.Context, eventID int64, year int, ch domain.Channel) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.dispatches[dispatchKey{eventID, year, ch}]
	return ok, nil
}

func (m *Memory) PutDispatch(ctx context.Context, rec DispatchRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := dispatchKey{rec.EventID, rec.OccurrenceYear, rec.Channel}
	// First writer wins, matching the sqlite driver.
	if _, ok := m.dispatches[k]; ok {
		return nil
	}
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	m.dispatches[k] = rec
	return nil
}

// Dispatches returns all recorded dispatches (test helper).
func (m *Memory) Dispatches() []DispatchRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DispatchRecord, 0, len(m.dispatches))
	for _, r := range m.dispatches {
		out = append(out, r)
	}
	return out
}

// ---- channel health ----

func (m *Memory) PutHealthSnapshot(ctx context.Context, s HealthSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.health[s.Channel] = s
	return nil
}

func (m *Memory) HealthSnapshots(ctx context.Context) ([]HealthSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]HealthSnapshot, 0, len(m.health))
	for _, s := range m.health {
		out = append(out, s)
	}
	return out, nil
}

func (m *Memory) PutOutage(ctx context.Context, o Outage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.outages {
		if m.outages[i].ID == o.ID {
			m.outages[i] = o
			return nil
		}
	}
	m.outages = append(m.outages, o)
	return nil
}

func (m *Memory) GetOpenOutage(ctx context.Context, ch domain.Channel) (*Outage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.outages {
		if m.outages[i].Channel == ch && !m.outages[i].Resolved {
			cp := m.outages[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Memory) ResolveOutage(ctx context.Context, id string, endedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.outages {
		if m.outages[i].ID == id && !m.outages[i].Resolved {
			ended := endedAt
			m.outages[i].EndedAt = &ended
			m.outages[i].Resolved = true
		}
	}
	return nil
}

// Outages returns all outage rows (test helper).
func (m *Memory) Outages() []Outage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Outage(nil), m.outages...)
}

// ---- daily metrics ----

func (m *Memory) IncrMetric(ctx context.Context, day string, ch domain.Channel, field MetricField, n int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := metricKey{day, ch}
	row := m.metrics[k]
	if row == nil {
		row = &MetricDay{Day: day, Channel: ch}
		m.metrics[k] = row
	}
	switch field {
	case MetricSent:
		row.Sent += n
	case MetricDelivered:
		row.Delivered += n
	case MetricFailed:
		row.Failed += n
	case MetricRead:
		row.Read += n
	case MetricClicked:
		row.Clicked += n
	}
	return nil
}

func (m *Memory) MetricsSince(ctx context.Context, fromDay string) ([]MetricDay, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []MetricDay
	for _, row := range m.metrics {
		if row.Day >= fromDay {
			out = append(out, *row)
		}
	}
	return out, nil
}
