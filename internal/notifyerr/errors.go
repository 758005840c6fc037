// Package notifyerr defines the delivery error taxonomy and its mapping to
// HTTP responses at the application boundary. Every error carries the
// structured context (channel, recipient, response code/body, limit
// counters) the boundary needs, so callers never re-parse message text.
package notifyerr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"giftminder/internal/domain"
)

// DeliveryError is a channel send that failed before or without a usable
// provider response (connect error, timeout, SMTP failure).
type DeliveryError struct {
	Channel   domain.Channel
	Recipient string
	Err       error
	// Permanent marks failures that must not be retried (bad recipient).
	Permanent bool
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("notification delivery failed on %s: %v", e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// WebhookError is a non-2xx response from a webhook endpoint.
// 4xx responses other than 429 are permanent; 429 and 5xx are retryable.
type WebhookError struct {
	Channel      domain.Channel
	StatusCode   int
	ResponseBody string
}

func (e *WebhookError) Error() string {
	return fmt.Sprintf("webhook send failed on %s: status %d", e.Channel, e.StatusCode)
}

// Permanent reports whether the response status makes retrying pointless.
func (e *WebhookError) Permanent() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusTooManyRequests
}

// RateLimitError reports a blocked attempt against a local send window.
// It is not a delivery failure; the reminder retries after ResetAt.
type RateLimitError struct {
	LimitType    string // "<channel>_recipient"
	RetryAfter   time.Duration
	CurrentCount int
	MaxAllowed   int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s: %d/%d, retry after %s",
		e.LimitType, e.CurrentCount, e.MaxAllowed, e.RetryAfter)
}

// ValidationError is a malformed payload or missing target detected before
// any network call. Never retried.
type ValidationError struct {
	Channel domain.Channel
	Errors  []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("webhook validation failed on %s: %s", e.Channel, strings.Join(e.Errors, "; "))
}

// Retryable reports whether a later scheduler tick may succeed.
func Retryable(err error) bool {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return false
	}
	var we *WebhookError
	if errors.As(err, &we) {
		return !we.Permanent()
	}
	var de *DeliveryError
	if errors.As(err, &de) {
		return !de.Permanent
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	// Unknown errors are treated as transient so a flaky dependency does
	// not poison the occurrence forever.
	return true
}

// HTTPStatus maps an error to the boundary status code.
func HTTPStatus(err error) int {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// JSONBody renders the boundary response body for an error.
func JSONBody(err error) map[string]any {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return map[string]any{
			"message":           "The notification payload failed validation.",
			"error":             ve.Error(),
			"validation_errors": ve.Errors,
		}
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return map[string]any{
			"message":       "Too many notification attempts. Please try again later.",
			"error":         rl.Error(),
			"limit_type":    rl.LimitType,
			"retry_after":   int(rl.RetryAfter.Seconds()),
			"current_count": rl.CurrentCount,
			"max_allowed":   rl.MaxAllowed,
		}
	}
	var we *WebhookError
	if errors.As(err, &we) {
		return map[string]any{
			"message":       "The webhook endpoint rejected the notification.",
			"error":         we.Error(),
			"response_code": we.StatusCode,
			"response_body": we.ResponseBody,
		}
	}
	var de *DeliveryError
	if errors.As(err, &de) {
		return map[string]any{
			"message":   "The notification could not be delivered.",
			"error":     de.Error(),
			"channel":   string(de.Channel),
			"recipient": de.Recipient,
		}
	}
	return map[string]any{
		"message": "The notification could not be delivered.",
		"error":   err.Error(),
	}
}
