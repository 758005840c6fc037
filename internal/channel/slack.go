package channel

import (
	"context"
	"net/http"
	"time"

	"giftminder/internal/compose"
	"giftminder/internal/domain"
	"giftminder/internal/notifyerr"
)

// SlackDriver posts Block Kit messages to an incoming webhook.
type SlackDriver struct {
	webhookURL string
	client     *http.Client
}

func NewSlack(webhookURL string, client *http.Client) *SlackDriver {
	if client == nil {
		client = newHTTPClient()
	}
	return &SlackDriver{webhookURL: webhookURL, client: client}
}

func (d *SlackDriver) Channel() domain.Channel { return domain.ChannelSlack }

func (d *SlackDriver) Send(ctx context.Context, target Target, p compose.Payload) (DeliveryResult, error) {
	if p.Slack == nil {
		return DeliveryResult{}, &notifyerr.ValidationError{
			Channel: domain.ChannelSlack,
			Errors:  []string{"payload has no slack message"},
		}
	}
	status, err := postJSON(ctx, d.client, domain.ChannelSlack, d.webhookURL, nil, p.Slack)
	if err != nil {
		return DeliveryResult{}, err
	}
	return DeliveryResult{Channel: domain.ChannelSlack, Recipient: target.Address, StatusCode: status, At: time.Now()}, nil
}
