package channel

import (
	"context"
	"net/http"
	"time"

	"giftminder/internal/compose"
	"giftminder/internal/domain"
	"giftminder/internal/notifyerr"
)

// DiscordDriver posts embed messages to a Discord webhook.
type DiscordDriver struct {
	webhookURL string
	client     *http.Client
}

func NewDiscord(webhookURL string, client *http.Client) *DiscordDriver {
	if client == nil {
		client = newHTTPClient()
	}
	return &DiscordDriver{webhookURL: webhookURL, client: client}
}

func (d *DiscordDriver) Channel() domain.Channel { return domain.ChannelDiscord }

func (d *DiscordDriver) Send(ctx context.Context, target Target, p compose.Payload) (DeliveryResult, error) {
	if p.Discord == nil || len(p.Discord.Embeds) == 0 {
		return DeliveryResult{}, &notifyerr.ValidationError{
			Channel: domain.ChannelDiscord,
			Errors:  []string{"payload has no discord embed"},
		}
	}
	status, err := postJSON(ctx, d.client, domain.ChannelDiscord, d.webhookURL, nil, p.Discord)
	if err != nil {
		return DeliveryResult{}, err
	}
	return DeliveryResult{Channel: domain.ChannelDiscord, Recipient: target.Address, StatusCode: status, At: time.Now()}, nil
}
