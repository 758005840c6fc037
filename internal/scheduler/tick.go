package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"giftminder/internal/channel"
	"giftminder/internal/compose"
	"giftminder/internal/domain"
	"giftminder/internal/notifyerr"
	"giftminder/internal/storage"
	logx "giftminder/pkg/logx"
)

// tickJob is one due (user, event, channel) dispatch.
type tickJob struct {
	user     domain.User
	event    domain.Event
	channel  domain.Channel
	address  string
	occ      time.Time
	year     int
	daysAway int
	// localDate is the user-local calendar date the dispatch was decided on.
	localDate string
}

type tickStats struct {
	users     int
	due       int64
	delivered int64
	failed    int64
	retried   int64
	limited   int64
}

// RunTick is the per-minute entry point. It never overlaps itself: a tick
// arriving while the previous one still runs is skipped, and the dispatch
// records make the skip harmless.
func (s *Service) RunTick(ctx context.Context, now time.Time) error {
	if !s.tickMu.TryLock() {
		s.log.Warn("reminder tick still running, skipping this one")
		return nil
	}
	defer s.tickMu.Unlock()

	deps := s.snapshot()

	users, err := s.store.Users(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: load users: %w", err)
	}

	var (
		stats tickStats
		jobs  []tickJob
	)
	for _, user := range users {
		due, err := s.dueForUser(ctx, user, now, deps)
		if err != nil {
			s.log.Error("skipping user after calendar error",
				logx.Int64("user_id", user.ID), logx.Err(err))
			continue
		}
		if len(due) > 0 {
			stats.users++
		}
		jobs = append(jobs, due...)
	}
	stats.due = int64(len(jobs))

	if len(jobs) > 0 {
		s.dispatchAll(ctx, jobs, deps, &stats)
	}

	s.log.Info("reminder tick finished",
		logx.Int("users_due", stats.users),
		logx.Int64("due", stats.due),
		logx.Int64("delivered", atomic.LoadInt64(&stats.delivered)),
		logx.Int64("failed", atomic.LoadInt64(&stats.failed)),
		logx.Int64("retried_next_tick", atomic.LoadInt64(&stats.retried)),
		logx.Int64("rate_limited", atomic.LoadInt64(&stats.limited)),
	)
	return nil
}

// dueForUser applies the user-local gates: send time reached, occurrence
// inside the lead window, not completed, no dispatch record yet.
func (s *Service) dueForUser(ctx context.Context, user domain.User, now time.Time, deps tickDeps) ([]tickJob, error) {
	settings := deps.settings
	prefs := effectiveChannels(user, settings)
	if len(prefs) == 0 {
		return nil, nil
	}

	localNow := now.In(user.Location())

	sendTime := strings.TrimSpace(user.SendTime)
	if sendTime == "" {
		sendTime = settings.DefaultSendTime
	}
	hour, minute, err := domain.ParseSendTime(sendTime)
	if err != nil {
		// A corrupt per-user value must not silence the user entirely.
		hour, minute, _ = domain.ParseSendTime(settings.DefaultSendTime)
	}
	if localNow.Hour()*60+localNow.Minute() < hour*60+minute {
		return nil, nil
	}

	events, err := s.store.EventsForUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	localToday := domain.Midnight(localNow)
	var jobs []tickJob
	for _, ev := range events {
		occ, ok := ev.NextOccurrence(localToday)
		if !ok {
			continue
		}
		daysAway := domain.DaysBetween(localToday, occ)
		if daysAway < 0 || daysAway > settings.LeadDays {
			continue
		}
		year := occ.Year()

		done, err := s.store.IsCompleted(ctx, ev.ID, year)
		if err != nil {
			return nil, err
		}
		if done {
			continue
		}

		for _, pref := range prefs {
			if _, ok := deps.registry.Driver(pref.Channel); !ok {
				continue
			}
			sent, err := s.store.HasDispatch(ctx, ev.ID, year, pref.Channel)
			if err != nil {
				return nil, err
			}
			if sent {
				continue
			}
			jobs = append(jobs, tickJob{
				user:      user,
				event:     ev,
				channel:   pref.Channel,
				address:   pref.Address,
				occ:       occ,
				year:      year,
				daysAway:  daysAway,
				localDate: localToday.Format("2006-01-02"),
			})
		}
	}
	return jobs, nil
}

// effectiveChannels is the user's enabled preferences, falling back to the
// configured defaults for users who never picked any. The mail default
// addresses the user's account mail; other defaults only apply when the
// channel needs no per-user address.
func effectiveChannels(user domain.User, settings Settings) []domain.ChannelPref {
	if len(user.Channels) > 0 {
		return user.EnabledChannels()
	}
	var prefs []domain.ChannelPref
	for _, ch := range settings.DefaultChannels {
		switch ch {
		case domain.ChannelMail:
			if strings.TrimSpace(user.Email) != "" {
				prefs = append(prefs, domain.ChannelPref{Channel: ch, Address: user.Email, Enabled: true})
			}
		case domain.ChannelSlack, domain.ChannelDiscord:
			prefs = append(prefs, domain.ChannelPref{Channel: ch, Enabled: true})
		case domain.ChannelPush:
			// No device token to fall back to.
		}
	}
	return prefs
}

func (s *Service) dispatchAll(ctx context.Context, jobs []tickJob, deps tickDeps, stats *tickStats) {
	queue := make(chan tickJob)
	var wg sync.WaitGroup
	for i := 0; i < deps.settings.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range queue {
				s.dispatchOne(ctx, job, deps, stats)
			}
		}()
	}
	for _, job := range jobs {
		queue <- job
	}
	close(queue)
	wg.Wait()
}

type outcome int

const (
	outcomeDelivered outcome = iota
	outcomeTransient
	outcomePermanent
)

func classify(err error) outcome {
	if err == nil {
		return outcomeDelivered
	}
	if notifyerr.Retryable(err) {
		return outcomeTransient
	}
	return outcomePermanent
}

func isValidation(err error) bool {
	var ve *notifyerr.ValidationError
	return errors.As(err, &ve)
}

// dispatchOne sends a single reminder and routes the outcome:
// success and permanent failure both write a dispatch record (so the
// occurrence is settled either way); transient failures write nothing and
// the next tick retries.
func (s *Service) dispatchOne(ctx context.Context, job tickJob, deps tickDeps, stats *tickStats) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&stats.retried, 1)
			s.log.Error("dispatch panicked",
				logx.Int64("event_id", job.event.ID),
				logx.String("channel", string(job.channel)),
				logx.Any("panic", r),
			)
		}
	}()

	log := s.log.With(
		logx.Int64("user_id", job.user.ID),
		logx.Int64("event_id", job.event.ID),
		logx.Int("occurrence_year", job.year),
		logx.String("channel", string(job.channel)),
	)

	decision, err := deps.limits.Check(ctx, job.channel, fmt.Sprintf("user:%d", job.user.ID))
	if err != nil {
		atomic.AddInt64(&stats.retried, 1)
		log.Warn("rate limit check failed, retrying next tick", logx.Err(err))
		return
	}
	if !decision.Allowed {
		// Blocked sends are transient: no record, no health impact.
		atomic.AddInt64(&stats.limited, 1)
		log.Debug("send blocked by rate limit",
			logx.Int64("count", decision.CurrentCount),
			logx.Int64("max", decision.MaxAllowed),
			logx.Duration("retry_after", decision.RetryAfter),
		)
		return
	}

	driver, ok := deps.registry.Driver(job.channel)
	if !ok {
		return
	}
	payload := compose.Build(job.event, job.occ, job.user, job.channel, job.daysAway)

	if deps.pace != nil {
		if err := deps.pace.Wait(ctx); err != nil {
			atomic.AddInt64(&stats.retried, 1)
			return
		}
	}
	sctx, cancel := context.WithTimeout(ctx, deps.settings.SendTimeout)
	defer cancel()

	s.metrics.RecordSent(ctx, job.channel)
	_, err = driver.Send(sctx, channel.Target{Address: job.address}, payload)

	switch classify(err) {
	case outcomeDelivered:
		atomic.AddInt64(&stats.delivered, 1)
		s.metrics.RecordDelivered(ctx, job.channel)
		_ = s.health.ReportSuccess(ctx, job.channel)
		if err := s.store.PutDispatch(ctx, storage.DispatchRecord{
			EventID:        job.event.ID,
			OccurrenceYear: job.year,
			Channel:        job.channel,
			Status:         storage.DispatchSent,
			SentOn:         job.localDate,
			At:             s.now(),
		}); err != nil {
			log.Error("dispatch record write failed", logx.Err(err))
		}
		log.Info("reminder delivered", logx.Int("days_away", job.daysAway))

	case outcomeTransient:
		atomic.AddInt64(&stats.retried, 1)
		_ = s.health.ReportFailure(ctx, job.channel)
		log.Warn("delivery failed, retrying next tick", logx.Err(err))

	case outcomePermanent:
		atomic.AddInt64(&stats.failed, 1)
		s.metrics.RecordFailed(ctx, job.channel)
		if healthRelevant(err) {
			_ = s.health.ReportFailure(ctx, job.channel)
		}
		if err := s.store.PutDispatch(ctx, storage.DispatchRecord{
			EventID:        job.event.ID,
			OccurrenceYear: job.year,
			Channel:        job.channel,
			Status:         storage.DispatchFailed,
			SentOn:         job.localDate,
			At:             s.now(),
			Detail:         err.Error(),
		}); err != nil {
			log.Error("dispatch record write failed", logx.Err(err))
		}
		log.Error("delivery failed permanently", logx.Err(err))
	}
}
