package adminapi

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"giftminder/internal/domain"
	"giftminder/internal/notifyerr"
	logx "giftminder/pkg/logx"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Service) writeError(w http.ResponseWriter, err error) {
	writeJSON(w, notifyerr.HTTPStatus(err), notifyerr.JSONBody(err))
}

// channelHealth is one row of GET /api/health.
type channelHealth struct {
	Channel              string     `json:"channel"`
	State                string     `json:"state"`
	ConsecutiveFailures  int        `json:"consecutive_failures"`
	ConsecutiveSuccesses int        `json:"consecutive_successes"`
	UpdatedAt            *time.Time `json:"updated_at,omitempty"`

	OutageID      string     `json:"outage_id,omitempty"`
	OutageStarted *time.Time `json:"outage_started,omitempty"`
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snaps, err := s.store.HealthSnapshots(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	byChannel := map[domain.Channel]channelHealth{}
	for _, snap := range snaps {
		at := snap.At
		byChannel[snap.Channel] = channelHealth{
			Channel:              string(snap.Channel),
			State:                snap.State,
			ConsecutiveFailures:  snap.ConsecutiveFailures,
			ConsecutiveSuccesses: snap.ConsecutiveSuccesses,
			UpdatedAt:            &at,
		}
	}

	// Channels without a snapshot yet report healthy.
	rows := make([]channelHealth, 0, 4)
	for _, ch := range domain.AllChannels() {
		row, ok := byChannel[ch]
		if !ok {
			row = channelHealth{Channel: string(ch), State: "healthy"}
		}
		if open, err := s.store.GetOpenOutage(r.Context(), ch); err == nil && open != nil {
			started := open.StartedAt
			row.OutageID = open.ID
			row.OutageStarted = &started
		}
		rows = append(rows, row)
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": rows})
}

func (s *Service) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	days := 7
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 365 {
			http.Error(w, "days must be 1..365", http.StatusBadRequest)
			return
		}
		days = n
	}
	rows, err := s.metrics.Since(r.Context(), days)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": days, "metrics": rows})
}

func (s *Service) handleRateLimits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rows, err := s.limiter().Snapshot(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"limits": rows})
}

// upcomingRow is one calendar occurrence of GET /api/upcoming, with the
// derived gift aggregates the dashboard renders next to it.
type upcomingRow struct {
	UserID      int64    `json:"user_id"`
	EventID     int64    `json:"event_id"`
	Event       string   `json:"event"`
	Person      string   `json:"person"`
	OccursOn    string   `json:"occurs_on"`
	DaysAway    int      `json:"days_away"`
	Completed   bool     `json:"completed"`
	Milestone   *int     `json:"milestone,omitempty"`
	TargetValue *float64 `json:"target_value,omitempty"`
	GiftsValue  float64  `json:"gifts_value"`
	Remaining   *float64 `json:"remaining,omitempty"`
}

func (s *Service) handleUpcoming(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	days := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 365 {
			http.Error(w, "days must be 1..365", http.StatusBadRequest)
			return
		}
		days = n
	}

	users, err := s.store.Users(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	now := time.Now()
	rows := []upcomingRow{}
	for _, u := range users {
		localToday := domain.Midnight(now.In(u.Location()))
		events, err := s.store.EventsForUser(r.Context(), u.ID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		for _, ev := range events {
			occ, ok := ev.NextOccurrence(localToday)
			if !ok {
				continue
			}
			daysAway := domain.DaysBetween(localToday, occ)
			if daysAway > days {
				continue
			}
			year := occ.Year()
			done, err := s.store.IsCompleted(r.Context(), ev.ID, year)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			gifts, err := s.store.GiftsForEvent(r.Context(), ev.ID, year)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			row := upcomingRow{
				UserID:      u.ID,
				EventID:     ev.ID,
				Event:       ev.DisplayName(),
				Person:      ev.PersonName,
				OccursOn:    occ.Format("2006-01-02"),
				DaysAway:    daysAway,
				Completed:   done,
				TargetValue: ev.TargetValue,
				GiftsValue:  domain.TotalGiftsValueForYear(gifts, ev.ID, year),
			}
			if m, ok := ev.Milestone(localToday); ok {
				row.Milestone = &m
			}
			if rem, ok := ev.RemainingValueForYear(gifts, year); ok {
				row.Remaining = &rem
			}
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].OccursOn != rows[j].OccursOn {
			return rows[i].OccursOn < rows[j].OccursOn
		}
		return rows[i].EventID < rows[j].EventID
	})
	writeJSON(w, http.StatusOK, map[string]any{"days": days, "upcoming": rows})
}

type testSendRequest struct {
	Channel string `json:"channel"`
	Address string `json:"address"`
}

// handleTestSend runs one synchronous send through the full pipeline and
// maps dispatch errors onto the boundary HTTP contract.
func (s *Service) handleTestSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req testSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	ch, err := domain.ParseChannel(req.Channel)
	if err != nil {
		s.writeError(w, &notifyerr.ValidationError{Errors: []string{err.Error()}})
		return
	}

	res, err := s.sender.TestSend(r.Context(), ch, req.Address)
	if err != nil {
		s.log.Warn("test send failed", logx.String("channel", string(ch)), logx.Err(err))
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"channel":   string(res.Channel),
		"recipient": res.Recipient,
	})
}

type trackRequest struct {
	Channel string `json:"channel"`
	Event   string `json:"event"` // "read" or "clicked"
}

// handleTrack ingests read/click receipts reported by the outer app.
func (s *Service) handleTrack(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req trackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	ch, err := domain.ParseChannel(req.Channel)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	switch req.Event {
	case "read":
		s.metrics.RecordRead(r.Context(), ch)
	case "clicked":
		s.metrics.RecordClicked(r.Context(), ch)
	default:
		http.Error(w, "event must be read or clicked", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}
