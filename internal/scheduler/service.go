// Package scheduler runs the per-minute reminder tick: it walks every
// user's calendar in the user's own timezone, finds occurrences inside the
// lead window, and dispatches one reminder per (event, occurrence year,
// channel) through the configured drivers.
//
// The tick is idempotent. Dispatch records are the only cross-tick state:
// a sent or failed record suppresses the key for the rest of the
// occurrence window, while transient failures leave no record so the next
// tick retries them.
package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"giftminder/internal/channel"
	"giftminder/internal/compose"
	"giftminder/internal/domain"
	"giftminder/internal/health"
	"giftminder/internal/metrics"
	"giftminder/internal/notifyerr"
	"giftminder/internal/ratelimit"
	"giftminder/internal/storage"
	logx "giftminder/pkg/logx"
)

// tickSpec fires at the top of every minute.
const tickSpec = "* * * * *"

// Settings shape what one tick is allowed to do. They come from config
// and may be swapped at runtime via Apply.
type Settings struct {
	Workers         int
	SendTimeout     time.Duration
	RatePerSec      int
	LeadDays        int
	DefaultSendTime string
	DefaultChannels []domain.Channel
}

func (s Settings) withDefaults() Settings {
	if s.Workers <= 0 {
		s.Workers = 4
	}
	if s.SendTimeout <= 0 {
		s.SendTimeout = 15 * time.Second
	}
	if s.LeadDays < 0 {
		s.LeadDays = 0
	}
	if strings.TrimSpace(s.DefaultSendTime) == "" {
		s.DefaultSendTime = "09:00"
	}
	if len(s.DefaultChannels) == 0 {
		s.DefaultChannels = []domain.Channel{domain.ChannelMail}
	}
	return s
}

// Service owns the reminder tick.
type Service struct {
	store   storage.Store
	health  *health.Tracker
	metrics *metrics.Aggregator
	log     logx.Logger
	now     func() time.Time

	mu       sync.Mutex
	registry *channel.Registry
	limits   ratelimit.Limiter
	settings Settings
	pace     *rate.Limiter

	// tickMu guards against a slow tick overlapping the next one.
	tickMu sync.Mutex

	cron *cron.Cron
}

type Deps struct {
	Store    storage.Store
	Registry *channel.Registry
	Limits   ratelimit.Limiter
	Health   *health.Tracker
	Metrics  *metrics.Aggregator
	Log      logx.Logger
	// Now may be nil for time.Now.
	Now func() time.Time
}

func New(deps Deps, settings Settings) *Service {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	s := &Service{
		store:    deps.Store,
		registry: deps.Registry,
		limits:   deps.Limits,
		health:   deps.Health,
		metrics:  deps.Metrics,
		log:      deps.Log,
		now:      now,
	}
	s.Apply(settings)
	return s
}

// SetRegistry swaps the channel drivers (hot reload). A running tick
// keeps the registry it started with.
func (s *Service) SetRegistry(r *channel.Registry) {
	s.mu.Lock()
	s.registry = r
	s.mu.Unlock()
}

// SetLimiter swaps the rate-limit backend (hot reload).
func (s *Service) SetLimiter(l ratelimit.Limiter) {
	s.mu.Lock()
	s.limits = l
	s.mu.Unlock()
}

// Apply swaps the tick settings. Safe during a running tick: the tick
// snapshots settings once at its start.
func (s *Service) Apply(settings Settings) {
	settings = settings.withDefaults()
	s.mu.Lock()
	s.settings = settings
	if settings.RatePerSec > 0 {
		s.pace = rate.NewLimiter(rate.Limit(settings.RatePerSec), settings.RatePerSec)
	} else {
		s.pace = nil
	}
	s.mu.Unlock()
}

// tickDeps is the swappable state a single tick (or test send) runs
// against, taken once so a hot reload mid-run cannot mix generations.
type tickDeps struct {
	settings Settings
	pace     *rate.Limiter
	registry *channel.Registry
	limits   ratelimit.Limiter
}

func (s *Service) snapshot() tickDeps {
	s.mu.Lock()
	defer s.mu.Unlock()
	return tickDeps{
		settings: s.settings,
		pace:     s.pace,
		registry: s.registry,
		limits:   s.limits,
	}
}

// Start registers the minute tick. Idempotent.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}
	c := cron.New()
	_, err := c.AddFunc(tickSpec, func() {
		if err := s.RunTick(ctx, s.now()); err != nil {
			s.log.Error("reminder tick failed", logx.Err(err))
		}
	})
	if err != nil {
		return err
	}
	c.Start()
	s.cron = c
	s.log.Info("reminder scheduler started", logx.String("spec", tickSpec))
	return nil
}

// Stop halts the tick and waits for an in-flight run to finish.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	stopped := c.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
	}
}

// TestSend pushes a sample reminder through the full dispatch path
// (rate limit, driver, health, metrics) without writing a dispatch
// record. It is the synchronous path behind the admin test endpoint.
func (s *Service) TestSend(ctx context.Context, ch domain.Channel, address string) (channel.DeliveryResult, error) {
	deps := s.snapshot()

	driver, ok := deps.registry.Driver(ch)
	if !ok {
		return channel.DeliveryResult{}, &notifyerr.ValidationError{
			Channel: ch,
			Errors:  []string{"channel is not enabled"},
		}
	}

	decision, err := deps.limits.Check(ctx, ch, "test:"+address)
	if err != nil {
		return channel.DeliveryResult{}, &notifyerr.DeliveryError{Channel: ch, Recipient: address, Err: err}
	}
	if !decision.Allowed {
		return channel.DeliveryResult{}, &notifyerr.RateLimitError{
			LimitType:    string(ch) + "_recipient",
			RetryAfter:   decision.RetryAfter,
			CurrentCount: int(decision.CurrentCount),
			MaxAllowed:   int(decision.MaxAllowed),
		}
	}

	now := s.now()
	occurrence := domain.Midnight(now.AddDate(0, 0, 3))
	ev := domain.Event{
		ID:         0,
		PersonName: "Test Person",
		Type:       "birthday",
		Name:       "Test reminder",
		Date:       occurrence,
		Recurrence: domain.RecurYearly,
	}
	payload := compose.Build(ev, occurrence, domain.User{Name: "Test"}, ch, 3)

	if deps.pace != nil {
		if err := deps.pace.Wait(ctx); err != nil {
			return channel.DeliveryResult{}, &notifyerr.DeliveryError{Channel: ch, Recipient: address, Err: err}
		}
	}
	sctx, cancel := context.WithTimeout(ctx, deps.settings.SendTimeout)
	defer cancel()

	s.metrics.RecordSent(ctx, ch)
	res, err := driver.Send(sctx, channel.Target{Address: address}, payload)
	if err != nil {
		s.metrics.RecordFailed(ctx, ch)
		if healthRelevant(err) {
			_ = s.health.ReportFailure(ctx, ch)
		}
		return channel.DeliveryResult{}, err
	}
	s.metrics.RecordDelivered(ctx, ch)
	_ = s.health.ReportSuccess(ctx, ch)
	return res, nil
}

// healthRelevant excludes failures that say nothing about the channel
// itself (bad payloads, bad recipients).
func healthRelevant(err error) bool {
	switch classify(err) {
	case outcomeTransient:
		return true
	case outcomePermanent:
		// Provider-side rejections count; local validation does not.
		return !isValidation(err)
	default:
		return false
	}
}
