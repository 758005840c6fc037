package channel

import (
	"net/http"

	"giftminder/internal/config"
	"giftminder/internal/domain"
	logx "giftminder/pkg/logx"
)

// Registry maps enabled channels to their drivers. The channel set is
// closed; a channel missing here is simply not configured.
type Registry struct {
	drivers map[domain.Channel]Driver
}

// NewRegistry builds drivers for every enabled channel. client may be nil
// for the default webhook client.
func NewRegistry(cfg config.ChannelsConfig, client *http.Client, log logx.Logger) *Registry {
	if client == nil {
		client = newHTTPClient()
	}
	drivers := map[domain.Channel]Driver{}
	if cfg.Mail.Enabled {
		drivers[domain.ChannelMail] = NewMail(cfg.Mail.Host, cfg.Mail.Port, cfg.Mail.Username, cfg.Mail.Password, cfg.Mail.From)
	}
	if cfg.Slack.Enabled {
		drivers[domain.ChannelSlack] = NewSlack(cfg.Slack.WebhookURL, client)
	}
	if cfg.Discord.Enabled {
		drivers[domain.ChannelDiscord] = NewDiscord(cfg.Discord.WebhookURL, client)
	}
	if cfg.Push.Enabled {
		drivers[domain.ChannelPush] = NewPush(cfg.Push.URL, cfg.Push.Token, client)
	}

	enabled := make([]string, 0, len(drivers))
	for ch := range drivers {
		enabled = append(enabled, string(ch))
	}
	log.Info("delivery channels configured", logx.Any("channels", enabled))
	return &Registry{drivers: drivers}
}

// NewRegistryFromDrivers wraps pre-built drivers. Later drivers for the
// same channel win.
func NewRegistryFromDrivers(drivers ...Driver) *Registry {
	m := make(map[domain.Channel]Driver, len(drivers))
	for _, d := range drivers {
		m[d.Channel()] = d
	}
	return &Registry{drivers: m}
}

// Driver returns the driver for a channel, or (nil, false) when the
// channel is not enabled.
func (r *Registry) Driver(ch domain.Channel) (Driver, bool) {
	d, ok := r.drivers[ch]
	return d, ok
}

// Enabled lists the channels with a configured driver.
func (r *Registry) Enabled() []domain.Channel {
	out := make([]domain.Channel, 0, len(r.drivers))
	for _, ch := range domain.AllChannels() {
		if _, ok := r.drivers[ch]; ok {
			out = append(out, ch)
		}
	}
	return out
}
