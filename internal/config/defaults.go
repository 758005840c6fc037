package config

import (
	"fmt"
	"strings"
	"time"

	"giftminder/internal/domain"
)

const (
	DefaultLeadDays    = 7
	DefaultSendTime    = "09:00"
	DefaultWorkers     = 4
	DefaultSendTimeout = 15 * time.Second
	DefaultSMTPPort    = 465
	DefaultAdminAddr   = "127.0.0.1:8687"
	DefaultRateWindow  = time.Minute
)

// Normalize fills zero-valued fields with defaults. It mutates the config
// in place and is safe to call more than once.
func (c *Config) Normalize() {
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if strings.TrimSpace(c.Storage.Driver) == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Scheduler.Workers <= 0 {
		c.Scheduler.Workers = DefaultWorkers
	}
	if c.Reminders.LeadDays <= 0 {
		c.Reminders.LeadDays = DefaultLeadDays
	}
	if strings.TrimSpace(c.Reminders.DefaultSendTime) == "" {
		c.Reminders.DefaultSendTime = DefaultSendTime
	}
	if len(c.Reminders.DefaultChannels) == 0 {
		c.Reminders.DefaultChannels = []string{string(domain.ChannelMail)}
	}
	if c.Channels.Mail.Port <= 0 {
		c.Channels.Mail.Port = DefaultSMTPPort
	}
	if strings.TrimSpace(c.Admin.Addr) == "" {
		c.Admin.Addr = DefaultAdminAddr
	}
}

// SchedulerEnabled reports whether the reminder tick should run.
// The field is a pointer so an omitted value means enabled.
func (c *Config) SchedulerEnabled() bool {
	return c.Scheduler.Enabled == nil || *c.Scheduler.Enabled
}

// SendTimeout returns the parsed per-send timeout.
func (c *Config) SendTimeout() (time.Duration, error) {
	return ParseDurationOrDefault("scheduler.send_timeout", c.Scheduler.SendTimeout, DefaultSendTimeout)
}

// Validate rejects configs that cannot be acted on. It assumes Normalize
// has run.
func (c *Config) Validate() error {
	if _, _, err := domain.ParseSendTime(c.Reminders.DefaultSendTime); err != nil {
		return fmt.Errorf("reminders.default_send_time: %w", err)
	}
	for _, raw := range c.Reminders.DefaultChannels {
		if _, err := domain.ParseChannel(raw); err != nil {
			return fmt.Errorf("reminders.default_channels: %w", err)
		}
	}
	if _, err := c.SendTimeout(); err != nil {
		return err
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	if c.Channels.Mail.Enabled {
		if strings.TrimSpace(c.Channels.Mail.Host) == "" {
			return fmt.Errorf("channels.mail: host is required when enabled")
		}
		if strings.TrimSpace(c.Channels.Mail.From) == "" {
			return fmt.Errorf("channels.mail: from is required when enabled")
		}
	}
	if c.Channels.Slack.Enabled && strings.TrimSpace(c.Channels.Slack.WebhookURL) == "" {
		return fmt.Errorf("channels.slack: webhook_url is required when enabled")
	}
	if c.Channels.Discord.Enabled && strings.TrimSpace(c.Channels.Discord.WebhookURL) == "" {
		return fmt.Errorf("channels.discord: webhook_url is required when enabled")
	}
	if c.Channels.Push.Enabled && strings.TrimSpace(c.Channels.Push.URL) == "" {
		return fmt.Errorf("channels.push: url is required when enabled")
	}
	if c.Redis != nil && strings.TrimSpace(c.Redis.Addr) == "" {
		return fmt.Errorf("redis: addr is required when the section is present")
	}
	for name, rl := range c.rateLimits() {
		if _, err := ParseDurationField("channels."+name+".rate_limit.window", rl.Window); err != nil {
			return err
		}
		if rl.Max < 0 {
			return fmt.Errorf("channels.%s.rate_limit.max: must be >= 0", name)
		}
	}
	return nil
}

func (c *Config) rateLimits() map[string]RateLimitConfig {
	return map[string]RateLimitConfig{
		string(domain.ChannelMail):    c.Channels.Mail.RateLimit,
		string(domain.ChannelSlack):   c.Channels.Slack.RateLimit,
		string(domain.ChannelDiscord): c.Channels.Discord.RateLimit,
		string(domain.ChannelPush):    c.Channels.Push.RateLimit,
	}
}

// RateLimitWindows resolves the per-channel fixed-window budgets.
// Channels with max == 0 carry no limit and are absent from the map.
func (c *Config) RateLimitWindows() (map[domain.Channel]RateLimitWindow, error) {
	out := map[domain.Channel]RateLimitWindow{}
	for name, rl := range c.rateLimits() {
		if rl.Max <= 0 {
			continue
		}
		w, err := ParseDurationOrDefault("channels."+name+".rate_limit.window", rl.Window, DefaultRateWindow)
		if err != nil {
			return nil, err
		}
		ch, err := domain.ParseChannel(name)
		if err != nil {
			return nil, err
		}
		out[ch] = RateLimitWindow{Max: rl.Max, Window: w}
	}
	return out, nil
}

// RateLimitWindow is a resolved budget (window already parsed).
type RateLimitWindow struct {
	Max    int64
	Window time.Duration
}
