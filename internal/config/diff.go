package config

import (
	"reflect"
	"strings"

	logx "giftminder/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections plus
// safe structured attrs for logging. Secrets (passwords, tokens, webhook
// URLs) are never included, only whether they are set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Redis, newCfg.Redis) {
		changed = append(changed, "redis")
		attrs = append(attrs, logx.Bool("redis.enabled", newCfg.Redis != nil))
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.SchedulerEnabled()),
			logx.Int("scheduler.workers", newCfg.Scheduler.Workers),
			logx.Int("scheduler.rate_per_sec", newCfg.Scheduler.RatePerSec),
		)
	}

	if !reflect.DeepEqual(oldCfg.Reminders, newCfg.Reminders) {
		changed = append(changed, "reminders")
		attrs = append(attrs,
			logx.Int("reminders.lead_days", newCfg.Reminders.LeadDays),
			logx.String("reminders.default_send_time", newCfg.Reminders.DefaultSendTime),
			logx.Int("reminders.default_channel_count", len(newCfg.Reminders.DefaultChannels)),
		)
	}

	// Channels (never log credentials or webhook URLs)
	if oldCfg.Channels != newCfg.Channels {
		changed = append(changed, "channels")
		attrs = append(attrs,
			logx.Bool("channels.mail", newCfg.Channels.Mail.Enabled),
			logx.Bool("channels.slack", newCfg.Channels.Slack.Enabled),
			logx.Bool("channels.discord", newCfg.Channels.Discord.Enabled),
			logx.Bool("channels.push", newCfg.Channels.Push.Enabled),
		)
	}

	if oldCfg.Health != newCfg.Health {
		changed = append(changed, "health")
		attrs = append(attrs,
			logx.Int("health.failure_threshold", newCfg.Health.FailureThreshold),
			logx.Int("health.recovery_successes", newCfg.Health.RecoverySuccesses),
		)
	}

	// Admin (never log token)
	if oldCfg.Admin != newCfg.Admin {
		changed = append(changed, "admin")
		attrs = append(attrs,
			logx.Bool("admin.enabled", newCfg.Admin.Enabled),
			logx.String("admin.addr", newCfg.Admin.Addr),
			logx.Bool("admin.token_set", strings.TrimSpace(newCfg.Admin.Token) != ""),
		)
	}

	return changed, attrs
}
