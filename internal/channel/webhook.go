package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"giftminder/internal/domain"
	"giftminder/internal/notifyerr"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	maxErrorBodyBytes  = 2048
)

// newHTTPClient returns the shared client for webhook drivers.
func newHTTPClient() *http.Client {
	return &http.Client{Timeout: defaultHTTPTimeout}
}

// postJSON posts a JSON body and classifies the outcome:
// 2xx nil, non-2xx WebhookError (permanence decided by status), transport
// failures DeliveryError.
func postJSON(ctx context.Context, client *http.Client, ch domain.Channel, url string, headers map[string]string, body any) (int, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return 0, &notifyerr.ValidationError{Channel: ch, Errors: []string{"payload not serializable: " + err.Error()}}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return 0, &notifyerr.ValidationError{Channel: ch, Errors: []string{"bad webhook url: " + err.Error()}}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, &notifyerr.DeliveryError{Channel: ch, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.StatusCode, nil
	}
	rb, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	return resp.StatusCode, &notifyerr.WebhookError{
		Channel:      ch,
		StatusCode:   resp.StatusCode,
		ResponseBody: string(rb),
	}
}
