// Package health tracks per-channel delivery health as a three-state
// ladder (healthy, warning, critical) driven by consecutive outcomes.
//
// Each qualifying failure run moves a channel one step up the ladder, each
// success run one step down; levels are never skipped. Entering critical
// opens an outage record, and only a full return to healthy closes it.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"giftminder/internal/domain"
	"giftminder/internal/storage"
	logx "giftminder/pkg/logx"
)

type State string

const (
	StateHealthy  State = "healthy"
	StateWarning  State = "warning"
	StateCritical State = "critical"
)

// Config holds the ladder thresholds.
type Config struct {
	// FailureThreshold is the consecutive failures needed per upward step.
	FailureThreshold int
	// RecoverySuccesses is the consecutive successes needed per downward step.
	RecoverySuccesses int
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.RecoverySuccesses <= 0 {
		c.RecoverySuccesses = 2
	}
	return c
}

type channelState struct {
	state     State
	fails     int
	successes int
}

// Tracker holds the ladder state for every channel and persists each
// change as a snapshot row, plus outage rows around critical periods.
type Tracker struct {
	mu    sync.Mutex
	cfg   Config
	store storage.Store
	log   logx.Logger
	now   func() time.Time
	chans map[domain.Channel]*channelState
}

// NewTracker builds a tracker; now may be nil for time.Now.
func NewTracker(cfg Config, store storage.Store, log logx.Logger, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		cfg:   cfg.withDefaults(),
		store: store,
		log:   log,
		now:   now,
		chans: map[domain.Channel]*channelState{},
	}
}

// Restore rebuilds in-memory state from persisted snapshots, so a restart
// does not silently reset a critical channel back to healthy.
func (t *Tracker) Restore(ctx context.Context) error {
	snaps, err := t.store.HealthSnapshots(ctx)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range snaps {
		st := State(s.State)
		switch st {
		case StateHealthy, StateWarning, StateCritical:
		default:
			continue
		}
		t.chans[s.Channel] = &channelState{
			state:     st,
			fails:     s.ConsecutiveFailures,
			successes: s.ConsecutiveSuccesses,
		}
	}
	return nil
}

func (t *Tracker) get(ch domain.Channel) *channelState {
	st := t.chans[ch]
	if st == nil {
		st = &channelState{state: StateHealthy}
		t.chans[ch] = st
	}
	return st
}

// ReportFailure records one qualifying delivery failure.
func (t *Tracker) ReportFailure(ctx context.Context, ch domain.Channel) error {
	t.mu.Lock()
	st := t.get(ch)
	st.successes = 0
	st.fails++

	stepped := false
	if st.fails >= t.cfg.FailureThreshold && st.state != StateCritical {
		switch st.state {
		case StateHealthy:
			st.state = StateWarning
		case StateWarning:
			st.state = StateCritical
		}
		st.fails = 0
		stepped = true
	}
	state := st.state
	snap := t.snapshotLocked(ch, st)
	t.mu.Unlock()

	if stepped {
		t.log.Warn("channel health degraded",
			logx.String("channel", string(ch)),
			logx.String("state", string(state)),
		)
	}
	if err := t.store.PutHealthSnapshot(ctx, snap); err != nil {
		return err
	}
	if stepped && state == StateCritical {
		return t.openOutage(ctx, ch)
	}
	return nil
}

// ReportSuccess records one successful delivery.
func (t *Tracker) ReportSuccess(ctx context.Context, ch domain.Channel) error {
	t.mu.Lock()
	st := t.get(ch)
	st.fails = 0
	st.successes++

	stepped := false
	if st.successes >= t.cfg.RecoverySuccesses && st.state != StateHealthy {
		switch st.state {
		case StateCritical:
			st.state = StateWarning
		case StateWarning:
			st.state = StateHealthy
		}
		st.successes = 0
		stepped = true
	}
	state := st.state
	snap := t.snapshotLocked(ch, st)
	t.mu.Unlock()

	if stepped {
		t.log.Info("channel health recovering",
			logx.String("channel", string(ch)),
			logx.String("state", string(state)),
		)
	}
	if err := t.store.PutHealthSnapshot(ctx, snap); err != nil {
		return err
	}
	if stepped && state == StateHealthy {
		return t.resolveOutage(ctx, ch)
	}
	return nil
}

func (t *Tracker) snapshotLocked(ch domain.Channel, st *channelState) storage.HealthSnapshot {
	return storage.HealthSnapshot{
		Channel:              ch,
		State:                string(st.state),
		ConsecutiveFailures:  st.fails,
		ConsecutiveSuccesses: st.successes,
		At:                   t.now(),
	}
}

func (t *Tracker) openOutage(ctx context.Context, ch domain.Channel) error {
	open, err := t.store.GetOpenOutage(ctx, ch)
	if err != nil {
		return err
	}
	if open != nil {
		return nil
	}
	o := storage.Outage{
		ID:        uuid.NewString(),
		Channel:   ch,
		StartedAt: t.now(),
	}
	t.log.Error("channel outage opened",
		logx.String("channel", string(ch)),
		logx.String("outage_id", o.ID),
	)
	return t.store.PutOutage(ctx, o)
}

func (t *Tracker) resolveOutage(ctx context.Context, ch domain.Channel) error {
	open, err := t.store.GetOpenOutage(ctx, ch)
	if err != nil {
		return err
	}
	if open == nil {
		return nil
	}
	t.log.Info("channel outage resolved",
		logx.String("channel", string(ch)),
		logx.String("outage_id", open.ID),
	)
	return t.store.ResolveOutage(ctx, open.ID, t.now())
}

// State returns the current ladder position; unseen channels are healthy.
func (t *Tracker) State(ch domain.Channel) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st := t.chans[ch]; st != nil {
		return st.state
	}
	return StateHealthy
}

func (t *Tracker) IsHealthy(ch domain.Channel) bool  { return t.State(ch) == StateHealthy }
func (t *Tracker) IsWarning(ch domain.Channel) bool  { return t.State(ch) == StateWarning }
func (t *Tracker) IsCritical(ch domain.Channel) bool { return t.State(ch) == StateCritical }
