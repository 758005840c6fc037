package app

import (
	"time"

	"giftminder/internal/adminapi"
	"giftminder/internal/config"
	"giftminder/internal/domain"
	"giftminder/internal/ratelimit"
	"giftminder/internal/scheduler"
	"giftminder/internal/storage"
	logx "giftminder/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

func mapSchedulerSettings(cfg *config.Config) (scheduler.Settings, error) {
	sendTimeout, err := cfg.SendTimeout()
	if err != nil {
		return scheduler.Settings{}, err
	}
	var defaults []domain.Channel
	for _, raw := range cfg.Reminders.DefaultChannels {
		ch, err := domain.ParseChannel(raw)
		if err != nil {
			return scheduler.Settings{}, err
		}
		defaults = append(defaults, ch)
	}
	return scheduler.Settings{
		Workers:         cfg.Scheduler.Workers,
		SendTimeout:     sendTimeout,
		RatePerSec:      cfg.Scheduler.RatePerSec,
		LeadDays:        cfg.Reminders.LeadDays,
		DefaultSendTime: cfg.Reminders.DefaultSendTime,
		DefaultChannels: defaults,
	}, nil
}

func mapRatePolicies(cfg *config.Config) (map[domain.Channel]ratelimit.Policy, error) {
	windows, err := cfg.RateLimitWindows()
	if err != nil {
		return nil, err
	}
	policies := make(map[domain.Channel]ratelimit.Policy, len(windows))
	for ch, w := range windows {
		policies[ch] = ratelimit.Policy{Max: w.Max, Window: w.Window}
	}
	return policies, nil
}

func mapAdminConfig(cfg *config.Config) (adminapi.Config, error) {
	read, err := config.ParseDurationOrDefault("admin.read_timeout", cfg.Admin.ReadTimeout, 5*time.Second)
	if err != nil {
		return adminapi.Config{}, err
	}
	write, err := config.ParseDurationOrDefault("admin.write_timeout", cfg.Admin.WriteTimeout, 30*time.Second)
	if err != nil {
		return adminapi.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("admin.idle_timeout", cfg.Admin.IdleTimeout, time.Minute)
	if err != nil {
		return adminapi.Config{}, err
	}
	return adminapi.Config{
		Enabled:       cfg.Admin.Enabled,
		Addr:          cfg.Admin.Addr,
		Token:         cfg.Admin.Token,
		AllowInsecure: cfg.Admin.AllowInsecure,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}
