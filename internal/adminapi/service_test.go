package adminapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"giftminder/internal/channel"
	"giftminder/internal/domain"
	"giftminder/internal/metrics"
	"giftminder/internal/notifyerr"
	"giftminder/internal/ratelimit"
	"giftminder/internal/storage"
	logx "giftminder/pkg/logx"
)

type fakeSender struct {
	err error
}

func (f *fakeSender) TestSend(ctx context.Context, ch domain.Channel, address string) (channel.DeliveryResult, error) {
	if f.err != nil {
		return channel.DeliveryResult{}, f.err
	}
	return channel.DeliveryResult{Channel: ch, Recipient: address}, nil
}

func startService(t *testing.T, token string, sender TestSender) (*Service, *storage.Memory, string) {
	t.Helper()
	st := storage.NewMemory()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	if sender == nil {
		sender = &fakeSender{}
	}
	svc := New(Config{Enabled: true, Addr: "127.0.0.1:0", Token: token}, Deps{
		Store:   st,
		Limits:  ratelimit.NewMemory(nil, clock),
		Metrics: metrics.NewAggregator(st, logx.Nop(), clock),
		Sender:  sender,
		Log:     logx.Nop(),
	})
	ctx := context.Background()
	svc.Start(ctx)
	t.Cleanup(func() { svc.Stop(ctx) })
	addr := svc.Addr()
	if addr == "" {
		t.Fatal("server did not start")
	}
	return svc, st, "http://" + addr
}

func doJSON(t *testing.T, method, url, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestAuthRequired(t *testing.T) {
	t.Parallel()
	_, _, base := startService(t, "secret", nil)

	resp, _ := doJSON(t, http.MethodGet, base+"/api/health", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodGet, base+"/api/health", "wrong", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token: status = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodGet, base+"/api/health", "secret", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("good token: status = %d", resp.StatusCode)
	}

	// Liveness stays open.
	resp, _ = doJSON(t, http.MethodGet, base+"/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: status = %d", resp.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()
	_, st, base := startService(t, "", nil)
	ctx := context.Background()
	_ = st.PutHealthSnapshot(ctx, storage.HealthSnapshot{
		Channel: domain.ChannelSlack, State: "critical", ConsecutiveFailures: 1, At: time.Now(),
	})
	_ = st.PutOutage(ctx, storage.Outage{ID: "o-1", Channel: domain.ChannelSlack, StartedAt: time.Now()})

	resp, body := doJSON(t, http.MethodGet, base+"/api/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	rows, _ := body["channels"].([]any)
	if len(rows) != 4 {
		t.Fatalf("channels = %d, want all four", len(rows))
	}
	var slack map[string]any
	for _, r := range rows {
		row := r.(map[string]any)
		if row["channel"] == "slack" {
			slack = row
		} else if row["state"] != "healthy" {
			t.Fatalf("channel %v should default to healthy: %v", row["channel"], row)
		}
	}
	if slack["state"] != "critical" || slack["outage_id"] != "o-1" {
		t.Fatalf("slack row = %v", slack)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	_, st, base := startService(t, "", nil)
	_ = st.IncrMetric(context.Background(), "2026-03-10", domain.ChannelMail, storage.MetricSent, 3)

	resp, body := doJSON(t, http.MethodGet, base+"/api/metrics?days=2", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["days"] != float64(2) {
		t.Fatalf("days = %v", body["days"])
	}
	rows, _ := body["metrics"].([]any)
	if len(rows) != 1 {
		t.Fatalf("metrics = %v", body["metrics"])
	}

	resp, _ = doJSON(t, http.MethodGet, base+"/api/metrics?days=9999", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("out-of-range days: status = %d", resp.StatusCode)
	}
}

func TestTestSendErrorMapping(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		err    error
		status int
		field  string
	}{
		{
			"validation maps to 400",
			&notifyerr.ValidationError{Channel: domain.ChannelSlack, Errors: []string{"bad payload"}},
			http.StatusBadRequest,
			"validation_errors",
		},
		{
			"rate limit maps to 429",
			&notifyerr.RateLimitError{LimitType: "slack_recipient", RetryAfter: 30 * time.Second, CurrentCount: 4, MaxAllowed: 3},
			http.StatusTooManyRequests,
			"retry_after",
		},
		{
			"webhook failure maps to 500",
			&notifyerr.WebhookError{Channel: domain.ChannelSlack, StatusCode: 502, ResponseBody: "bad gateway"},
			http.StatusInternalServerError,
			"response_code",
		},
		{
			"delivery failure maps to 500",
			&notifyerr.DeliveryError{Channel: domain.ChannelMail, Recipient: "a@b.c", Err: fmt.Errorf("boom")},
			http.StatusInternalServerError,
			"recipient",
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, _, base := startService(t, "", &fakeSender{err: tc.err})
			resp, body := doJSON(t, http.MethodPost, base+"/api/test", "", testSendRequest{Channel: "slack", Address: "x"})
			if resp.StatusCode != tc.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.status)
			}
			if _, ok := body[tc.field]; !ok {
				t.Fatalf("body missing %q: %v", tc.field, body)
			}
			if body["message"] == "" {
				t.Fatalf("body missing message: %v", body)
			}
		})
	}
}

func TestTestSendSuccess(t *testing.T) {
	t.Parallel()
	_, _, base := startService(t, "", nil)
	resp, body := doJSON(t, http.MethodPost, base+"/api/test", "", testSendRequest{Channel: "mail", Address: "ops@example.com"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["ok"] != true || body["recipient"] != "ops@example.com" {
		t.Fatalf("body = %v", body)
	}

	resp, _ = doJSON(t, http.MethodPost, base+"/api/test", "", testSendRequest{Channel: "telegram"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown channel: status = %d", resp.StatusCode)
	}
}

func TestTrackEndpoint(t *testing.T) {
	t.Parallel()
	_, st, base := startService(t, "", nil)

	resp, _ := doJSON(t, http.MethodPost, base+"/api/track", "", trackRequest{Channel: "push", Event: "read"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodPost, base+"/api/track", "", trackRequest{Channel: "push", Event: "clicked"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodPost, base+"/api/track", "", trackRequest{Channel: "push", Event: "opened"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad event: status = %d", resp.StatusCode)
	}

	rows, err := st.MetricsSince(context.Background(), "2026-03-10")
	if err != nil || len(rows) != 1 {
		t.Fatalf("metrics: %v %v", rows, err)
	}
	if rows[0].Read != 1 || rows[0].Clicked != 1 {
		t.Fatalf("bucket = %+v", rows[0])
	}
}

func TestUpcomingEndpoint(t *testing.T) {
	t.Parallel()
	_, st, base := startService(t, "", nil)

	fv := func(v float64) *float64 { return &v }
	today := time.Now().UTC()
	birthday := today.AddDate(0, 0, 5)

	st.SeedUser(domain.User{ID: 1, Name: "Dana", Timezone: "UTC"})
	st.SeedEvent(1, domain.Event{
		ID:            10,
		PersonName:    "Sam",
		Type:          "birthday",
		Date:          time.Date(1996, birthday.Month(), birthday.Day(), 0, 0, 0, 0, time.UTC),
		Recurrence:    domain.RecurYearly,
		TargetValue:   fv(100),
		ShowMilestone: true,
	})
	st.SeedGift(domain.Gift{ID: 1, EventID: 10, Year: birthday.Year(), Title: "book", Value: fv(40)})
	// Outside a 7-day horizon.
	st.SeedEvent(1, domain.Event{
		ID:         11,
		PersonName: "Sam",
		Type:       "anniversary",
		Date:       time.Date(2001, today.AddDate(0, 0, 60).Month(), today.AddDate(0, 0, 60).Day(), 0, 0, 0, 0, time.UTC),
		Recurrence: domain.RecurYearly,
	})

	resp, body := doJSON(t, http.MethodGet, base+"/api/upcoming?days=7", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	rows, _ := body["upcoming"].([]any)
	if len(rows) != 1 {
		t.Fatalf("upcoming = %v", body["upcoming"])
	}
	row := rows[0].(map[string]any)
	if row["event_id"] != float64(10) || row["days_away"] != float64(5) {
		t.Fatalf("row = %v", row)
	}
	if row["gifts_value"] != float64(40) || row["remaining"] != float64(60) {
		t.Fatalf("gift aggregates = %v", row)
	}
	if m, ok := row["milestone"].(float64); !ok || m <= 0 {
		t.Fatalf("milestone = %v", row["milestone"])
	}

	resp, _ = doJSON(t, http.MethodGet, base+"/api/upcoming?days=0", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("out-of-range days: status = %d", resp.StatusCode)
	}
}
