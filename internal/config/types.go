package config

// Config is the full daemon configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Unknown keys are rejected so typos surface at load time instead of
// silently falling back to defaults.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Redis     *RedisConfig    `json:"redis,omitempty"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Reminders RemindersConfig `json:"reminders"`
	Channels  ChannelsConfig  `json:"channels"`
	Health    HealthConfig    `json:"health"`
	Admin     AdminConfig     `json:"admin,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./giftminder.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// RedisConfig enables the shared rate-limit backend. When the section is
// omitted the daemon falls back to in-process counters.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
}

// SchedulerConfig controls the reminder tick.
//
// The tick itself always runs once a minute; these settings shape what
// one tick is allowed to do.
type SchedulerConfig struct {
	Enabled *bool `json:"enabled,omitempty"` // omitted means enabled
	Workers int   `json:"workers,omitempty"` // default: 4

	// SendTimeout bounds one outbound delivery. Default: "15s".
	SendTimeout string `json:"send_timeout,omitempty"`

	// RatePerSec paces outbound sends across all channels. 0 disables pacing.
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// RemindersConfig holds per-user defaults applied when a user record
// leaves a field empty.
type RemindersConfig struct {
	// LeadDays is how many days before an occurrence reminders start. Default: 7.
	LeadDays int `json:"lead_days,omitempty"`
	// DefaultSendTime is the user-local "HH:MM" gate. Default: "09:00".
	DefaultSendTime string `json:"default_send_time,omitempty"`
	// DefaultChannels applies to users with no channel preferences. Default: ["mail"].
	DefaultChannels []string `json:"default_channels,omitempty"`
}

type ChannelsConfig struct {
	Mail    MailConfig    `json:"mail"`
	Slack   WebhookConfig `json:"slack"`
	Discord WebhookConfig `json:"discord"`
	Push    PushConfig    `json:"push"`
}

// RateLimitConfig is one fixed-window budget.
type RateLimitConfig struct {
	Max    int64  `json:"max,omitempty"`
	Window string `json:"window,omitempty"` // Go duration string; default "1m"
}

type MailConfig struct {
	Enabled   bool            `json:"enabled"`
	Host      string          `json:"host,omitempty"`
	Port      int             `json:"port,omitempty"` // default: 465 (implicit TLS)
	Username  string          `json:"username,omitempty"`
	Password  string          `json:"password,omitempty"`
	From      string          `json:"from,omitempty"`
	RateLimit RateLimitConfig `json:"rate_limit,omitempty"`
}

type WebhookConfig struct {
	Enabled    bool            `json:"enabled"`
	WebhookURL string          `json:"webhook_url,omitempty"`
	RateLimit  RateLimitConfig `json:"rate_limit,omitempty"`
}

type PushConfig struct {
	Enabled   bool            `json:"enabled"`
	URL       string          `json:"url,omitempty"`
	Token     string          `json:"token,omitempty"`
	RateLimit RateLimitConfig `json:"rate_limit,omitempty"`
}

// HealthConfig holds the channel health ladder thresholds.
type HealthConfig struct {
	// FailureThreshold is consecutive failures per step toward critical. Default: 3.
	FailureThreshold int `json:"failure_threshold,omitempty"`
	// RecoverySuccesses is consecutive successes per step toward healthy. Default: 2.
	RecoverySuccesses int `json:"recovery_successes,omitempty"`
}

// AdminConfig controls the local admin/debug HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8687").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type AdminConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:8687"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Server timeouts (Go duration strings).
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
