// Package channel contains the delivery drivers for the closed channel
// set (mail, slack, discord, push) and the registry that maps enabled
// channels to drivers.
//
// Drivers classify failures through the notifyerr taxonomy: validation
// problems surface before any network I/O, webhook rejections carry the
// provider status and body, and transport errors stay retryable.
package channel

import (
	"context"
	"time"

	"giftminder/internal/compose"
	"giftminder/internal/domain"
)

// Target is where one reminder goes: a mail address, a Slack/Discord
// channel hint, or a push device token. Webhook drivers that post to a
// fixed URL may ignore the address.
type Target struct {
	Address string
}

// DeliveryResult describes a completed send.
type DeliveryResult struct {
	Channel   domain.Channel
	Recipient string
	// StatusCode is the provider HTTP status, 0 for non-HTTP channels.
	StatusCode int
	At         time.Time
}

// Driver delivers one composed payload to one target.
type Driver interface {
	Channel() domain.Channel
	Send(ctx context.Context, target Target, p compose.Payload) (DeliveryResult, error)
}
