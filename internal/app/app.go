package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"giftminder/internal/adminapi"
	"giftminder/internal/channel"
	"giftminder/internal/config"
	"giftminder/internal/health"
	"giftminder/internal/metrics"
	"giftminder/internal/ratelimit"
	"giftminder/internal/scheduler"
	"giftminder/internal/storage"
	logx "giftminder/pkg/logx"
)

// App wires the daemon: config manager, storage, rate limiting, channel
// drivers, the reminder scheduler and the admin API.
type App struct {
	cfgPath string
	cfgm    *config.Manager

	log  logx.Logger
	logs *logx.Service

	store storage.Store

	// limMu guards the limiter backend, which the reload loop can swap.
	limMu  sync.Mutex
	limits ratelimit.Limiter
	rdb    *redis.Client

	tracker *health.Tracker
	metrics *metrics.Aggregator
	sched   *scheduler.Service
	admin   *adminapi.Service

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewApp(cfgPath string) (*App, error) {
	config.LoadDotEnv()

	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		store:   store,
	}

	a.limits, a.rdb, err = buildLimiter(cfg, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	a.tracker = health.NewTracker(health.Config{
		FailureThreshold:  cfg.Health.FailureThreshold,
		RecoverySuccesses: cfg.Health.RecoverySuccesses,
	}, store, log.With(logx.String("comp", "health")), nil)

	a.metrics = metrics.NewAggregator(store, log.With(logx.String("comp", "metrics")), nil)

	registry := channel.NewRegistry(cfg.Channels, nil, log.With(logx.String("comp", "channel")))

	settings, err := mapSchedulerSettings(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.sched = scheduler.New(scheduler.Deps{
		Store:    store,
		Registry: registry,
		Limits:   a.limits,
		Health:   a.tracker,
		Metrics:  a.metrics,
		Log:      log.With(logx.String("comp", "scheduler")),
	}, settings)

	adminCfg, err := mapAdminConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.admin = adminapi.New(adminCfg, adminapi.Deps{
		Store:   store,
		Limits:  a.limits,
		Metrics: a.metrics,
		Sender:  a.sched,
		Log:     log.With(logx.String("comp", "admin")),
	})

	return a, nil
}

// buildLimiter picks the rate-limit backend: shared counters in Redis
// when a redis section is configured, in-process counters otherwise.
func buildLimiter(cfg *config.Config, log logx.Logger) (ratelimit.Limiter, *redis.Client, error) {
	policies, err := mapRatePolicies(cfg)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Redis == nil {
		return ratelimit.NewMemory(policies, nil), nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	log.Info("rate limiting via redis", logx.String("addr", cfg.Redis.Addr))
	return ratelimit.NewRedis(rdb, policies, log.With(logx.String("comp", "ratelimit"))), rdb, nil
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	// Parse() already normalizes and validates; the hook re-checks the
	// derived service configs so a bad hot-reload is rejected before
	// commit instead of half-applied.
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, err := mapSchedulerSettings(cfg); err != nil {
			return err
		}
		if _, err := mapRatePolicies(cfg); err != nil {
			return err
		}
		if _, err := mapAdminConfig(cfg); err != nil {
			return err
		}
		return nil
	})

	if err := a.tracker.Restore(runCtx); err != nil {
		a.log.Warn("channel health restore failed; starting fresh", logx.Err(err))
	}

	cfg := a.cfgm.Get()
	if cfg.SchedulerEnabled() {
		if err := a.sched.Start(runCtx); err != nil {
			cancel()
			return fmt.Errorf("start scheduler: %w", err)
		}
	} else {
		a.log.Info("reminder scheduler disabled via config")
	}

	adminCfg, err := mapAdminConfig(cfg)
	if err != nil {
		cancel()
		return err
	}
	a.admin.Reconfigure(runCtx, adminCfg)

	sub := a.cfgm.Subscribe(8)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(runCtx, sub)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(runCtx); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	a.log.Info("app started")
	return nil
}

// reloadLoop applies validated config snapshots published by the
// manager's file watcher.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest snapshot.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				lastApplied = newCfg
				continue
			}
			a.applyReload(ctx, lastApplied, newCfg, sections)
			lastApplied = newCfg

			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config reloaded", fields...)
		}
	}
}

func (a *App) applyReload(ctx context.Context, oldCfg, newCfg *config.Config, sections []string) {
	changed := map[string]bool{}
	for _, s := range sections {
		changed[s] = true
	}

	if changed["storage"] {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if changed["health"] {
		a.log.Warn("health thresholds changed; restart required for changes to take effect")
	}

	if changed["logging"] {
		a.logs.Apply(mapLogConfig(newCfg))
	}

	if changed["channels"] {
		a.sched.SetRegistry(channel.NewRegistry(newCfg.Channels, nil,
			a.log.With(logx.String("comp", "channel"))))
	}

	// Rate-limit budgets live inside the channels section; redis has its own.
	if changed["channels"] || changed["redis"] {
		limits, rdb, err := buildLimiter(newCfg, a.log)
		if err != nil {
			a.log.Warn("invalid rate-limit config; keeping previous", logx.Err(err))
		} else {
			a.limMu.Lock()
			old, oldRdb := a.limits, a.rdb
			a.limits, a.rdb = limits, rdb
			a.limMu.Unlock()
			a.sched.SetLimiter(limits)
			a.admin.SetLimiter(limits)
			if old != nil {
				_ = old.Close()
			}
			if oldRdb != nil {
				_ = oldRdb.Close()
			}
		}
	}

	if changed["scheduler"] || changed["reminders"] {
		settings, err := mapSchedulerSettings(newCfg)
		if err != nil {
			a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
		} else {
			a.sched.Apply(settings)
		}
		prev := oldCfg.SchedulerEnabled()
		next := newCfg.SchedulerEnabled()
		if prev && !next {
			a.log.Info("reminder scheduler disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.sched.Stop(stopCtx)
			cancel()
		} else if !prev && next {
			a.log.Info("reminder scheduler enabled via config")
			if err := a.sched.Start(ctx); err != nil {
				a.log.Error("scheduler restart failed", logx.Err(err))
			}
		}
	}

	if changed["admin"] {
		adminCfg, err := mapAdminConfig(newCfg)
		if err != nil {
			a.log.Warn("invalid admin config; keeping previous", logx.Err(err))
		} else {
			a.admin.Reconfigure(ctx, adminCfg)
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	a.log.Info("stopping")

	// Bound each shutdown step so one component cannot stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
		start := time.Now()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("admin", 2*time.Second, func(c context.Context) error { a.admin.Stop(c); return nil })
	step("scheduler", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("ratelimit", time.Second, func(context.Context) error {
		a.limMu.Lock()
		limits, rdb := a.limits, a.rdb
		a.limMu.Unlock()
		if limits != nil {
			_ = limits.Close()
		}
		if rdb != nil {
			return rdb.Close()
		}
		return nil
	})
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	step("background", 2*time.Second, func(c context.Context) error {
		done := make(chan struct{})
		go func() {
			a.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-c.Done():
			return c.Err()
		}
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
