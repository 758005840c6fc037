package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads a .env file into the process environment if one is
// present next to the working directory. Missing files are fine; secrets
// belong in the environment, not in the config file.
func LoadDotEnv() {
	_ = godotenv.Load()
}

// applyEnvOverrides overlays secret-bearing fields from the environment.
// Env values win over file values so deployments can keep credentials out
// of the config file entirely.
func applyEnvOverrides(cfg *Config) {
	if v, ok := lookup("GIFTMINDER_SMTP_PASSWORD"); ok {
		cfg.Channels.Mail.Password = v
	}
	if v, ok := lookup("GIFTMINDER_SMTP_USERNAME"); ok {
		cfg.Channels.Mail.Username = v
	}
	if v, ok := lookup("GIFTMINDER_SLACK_WEBHOOK_URL"); ok {
		cfg.Channels.Slack.WebhookURL = v
	}
	if v, ok := lookup("GIFTMINDER_DISCORD_WEBHOOK_URL"); ok {
		cfg.Channels.Discord.WebhookURL = v
	}
	if v, ok := lookup("GIFTMINDER_PUSH_TOKEN"); ok {
		cfg.Channels.Push.Token = v
	}
	if v, ok := lookup("GIFTMINDER_ADMIN_TOKEN"); ok {
		cfg.Admin.Token = v
	}
	if v, ok := lookup("GIFTMINDER_REDIS_ADDR"); ok {
		if cfg.Redis == nil {
			cfg.Redis = &RedisConfig{}
		}
		cfg.Redis.Addr = v
	}
	if v, ok := lookup("GIFTMINDER_REDIS_PASSWORD"); ok {
		if cfg.Redis == nil {
			cfg.Redis = &RedisConfig{}
		}
		cfg.Redis.Password = v
	}
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}
