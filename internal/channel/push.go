package channel

import (
	"context"
	"net/http"
	"strings"
	"time"

	"giftminder/internal/compose"
	"giftminder/internal/domain"
	"giftminder/internal/notifyerr"
)

// PushDriver posts notifications to a push gateway. The gateway fans out
// to the user's registered devices; we address it by device token.
type PushDriver struct {
	url    string
	token  string
	client *http.Client
}

func NewPush(url, token string, client *http.Client) *PushDriver {
	if client == nil {
		client = newHTTPClient()
	}
	return &PushDriver{url: url, token: token, client: client}
}

func (d *PushDriver) Channel() domain.Channel { return domain.ChannelPush }

type pushRequest struct {
	To           string `json:"to"`
	Notification any    `json:"notification"`
}

func (d *PushDriver) Send(ctx context.Context, target Target, p compose.Payload) (DeliveryResult, error) {
	var problems []string
	if p.Push == nil {
		problems = append(problems, "payload has no push notification")
	}
	if strings.TrimSpace(target.Address) == "" {
		problems = append(problems, "device token is empty")
	}
	if len(problems) > 0 {
		return DeliveryResult{}, &notifyerr.ValidationError{Channel: domain.ChannelPush, Errors: problems}
	}

	var headers map[string]string
	if d.token != "" {
		headers = map[string]string{"Authorization": "Bearer " + d.token}
	}
	status, err := postJSON(ctx, d.client, domain.ChannelPush, d.url, headers, pushRequest{
		To:           target.Address,
		Notification: p.Push,
	})
	if err != nil {
		return DeliveryResult{}, err
	}
	return DeliveryResult{Channel: domain.ChannelPush, Recipient: target.Address, StatusCode: status, At: time.Now()}, nil
}
