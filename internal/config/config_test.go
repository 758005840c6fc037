package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"giftminder/internal/domain"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestParseJSONWithDefaults(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"logging": {"level": "debug", "console": true},
		"storage": {"path": "./test.db"},
		"channels": {
			"mail": {"enabled": true, "host": "smtp.example.com", "from": "gifts@example.com"}
		}
	}`)
	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Fatalf("driver = %q, want sqlite default", cfg.Storage.Driver)
	}
	if cfg.Reminders.LeadDays != 7 || cfg.Reminders.DefaultSendTime != "09:00" {
		t.Fatalf("reminder defaults = %+v", cfg.Reminders)
	}
	if got := cfg.Reminders.DefaultChannels; len(got) != 1 || got[0] != "mail" {
		t.Fatalf("default channels = %v", got)
	}
	if cfg.Channels.Mail.Port != 465 {
		t.Fatalf("smtp port = %d, want 465", cfg.Channels.Mail.Port)
	}
	if !cfg.SchedulerEnabled() {
		t.Fatal("scheduler should default to enabled")
	}
	if m.Get() != cfg {
		t.Fatal("Load should commit the parsed config")
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "config.json", `{"loging": {"level": "info"}}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("typo key should be rejected")
	}
}

func TestParseYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
logging:
  level: warn
scheduler:
  workers: 8
  send_timeout: 5s
channels:
  slack:
    enabled: true
    webhook_url: https://hooks.slack.example/T000/B000
    rate_limit:
      max: 10
      window: 30s
`)
	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Scheduler.Workers != 8 {
		t.Fatalf("workers = %d", cfg.Scheduler.Workers)
	}
	d, err := cfg.SendTimeout()
	if err != nil || d != 5*time.Second {
		t.Fatalf("send timeout = %v %v", d, err)
	}
	wins, err := cfg.RateLimitWindows()
	if err != nil {
		t.Fatalf("RateLimitWindows: %v", err)
	}
	w, ok := wins[domain.ChannelSlack]
	if !ok || w.Max != 10 || w.Window != 30*time.Second {
		t.Fatalf("slack window = %+v ok=%v", w, ok)
	}
	if _, ok := wins[domain.ChannelMail]; ok {
		t.Fatal("mail has no limit configured")
	}
}

func TestValidateEnabledChannelNeedsTarget(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		body string
	}{
		{"mail missing host", `{"channels": {"mail": {"enabled": true, "from": "a@b.c"}}}`},
		{"slack missing url", `{"channels": {"slack": {"enabled": true}}}`},
		{"discord missing url", `{"channels": {"discord": {"enabled": true}}}`},
		{"push missing url", `{"channels": {"push": {"enabled": true}}}`},
		{"bad send time", `{"reminders": {"default_send_time": "25:00"}}`},
		{"bad default channel", `{"reminders": {"default_channels": ["telegram"]}}`},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			path := writeFile(t, "config.json", tc.body)
			if _, err := NewManager(path).Parse(); err == nil {
				t.Fatalf("config should be rejected: %s", tc.body)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GIFTMINDER_SMTP_PASSWORD", "s3cret")
	t.Setenv("GIFTMINDER_REDIS_ADDR", "127.0.0.1:6379")

	path := writeFile(t, "config.json", `{
		"channels": {"mail": {"enabled": true, "host": "smtp.example.com", "from": "a@b.c", "password": "from-file"}}
	}`)
	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Channels.Mail.Password != "s3cret" {
		t.Fatalf("password = %q, env should win", cfg.Channels.Mail.Password)
	}
	if cfg.Redis == nil || cfg.Redis.Addr != "127.0.0.1:6379" {
		t.Fatalf("redis = %+v", cfg.Redis)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{}
	oldCfg.Normalize()
	newCfg := &Config{}
	newCfg.Normalize()
	newCfg.Channels.Slack.Enabled = true
	newCfg.Admin.Token = "tok"

	changed, _ := SummarizeConfigChange(oldCfg, newCfg)
	if len(changed) != 2 {
		t.Fatalf("changed = %v", changed)
	}
	changed, _ = SummarizeConfigChange(newCfg, newCfg)
	if len(changed) != 0 {
		t.Fatalf("identical configs should report no change, got %v", changed)
	}
}
