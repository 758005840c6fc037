package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"giftminder/internal/domain"
	logx "giftminder/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- calendar projections ----

func (s *sqliteStore) Users(ctx context.Context) ([]domain.User, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, email, timezone, send_time FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Timezone, &u.SendTime); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range users {
		prefs, err := s.channelPrefs(ctx, users[i].ID)
		if err != nil {
			return nil, err
		}
		users[i].Channels = prefs
	}
	return users, nil
}

func (s *sqliteStore) channelPrefs(ctx context.Context, userID int64) ([]domain.ChannelPref, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel, address, enabled FROM user_channels WHERE user_id = ? ORDER BY channel`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prefs []domain.ChannelPref
	for rows.Next() {
		var (
			raw     string
			address string
			enabled int
		)
		if err := rows.Scan(&raw, &address, &enabled); err != nil {
			return nil, err
		}
		ch, err := domain.ParseChannel(raw)
		if err != nil {
			// Rows for channels outside the closed set are ignored, not fatal.
			s.log.Warn("skipping unknown channel preference", logx.Int64("user_id", userID), logx.String("channel", raw))
			continue
		}
		prefs = append(prefs, domain.ChannelPref{Channel: ch, Address: address, Enabled: enabled != 0})
	}
	return prefs, rows.Err()
}

func (s *sqliteStore) EventsForUser(ctx context.Context, userID int64) ([]domain.Event, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT e.id, e.person_id, p.name, e.type, e.name, e.date, e.recurrence, e.target_value, e.notes, e.show_milestone
		 FROM events e JOIN persons p ON p.id = e.person_id
		 WHERE p.user_id = ? ORDER BY e.id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var (
			ev        domain.Event
			date      string
			recur     string
			target    sql.NullFloat64
			milestone int
		)
		if err := rows.Scan(&ev.ID, &ev.PersonID, &ev.PersonName, &ev.Type, &ev.Name, &date, &recur, &target, &ev.Notes, &milestone); err != nil {
			return nil, err
		}
		d, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, fmt.Errorf("event %d: bad date %q: %w", ev.ID, date, err)
		}
		ev.Date = d
		ev.Recurrence = domain.Recurrence(recur)
		if target.Valid {
			v := target.Float64
			ev.TargetValue = &v
		}
		ev.ShowMilestone = milestone != 0
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *sqliteStore) IsCompleted(ctx context.Context, eventID int64, year int) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM event_completions WHERE event_id = ? AND year = ?`, eventID, year).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *sqliteStore) GiftsForEvent(ctx context.Context, eventID int64, year int) ([]domain.Gift, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_id, year, title, value FROM gifts WHERE event_id = ? AND year = ? ORDER BY id`, eventID, year)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var gifts []domain.Gift
	for rows.Next() {
		var (
			g     domain.Gift
			value sql.NullFloat64
		)
		if err := rows.Scan(&g.ID, &g.EventID, &g.Year, &g.Title, &value); err != nil {
			return nil, err
		}
		if value.Valid {
			v := value.Float64
			g.Value = &v
		}
		gifts = append(gifts, g)
	}
	return gifts, rows.Err()
}

// ---- dispatch records ----

func (s *sqliteStore) HasDispatch(ctx context.Context, eventID int64, year int, ch domain.Channel) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM dispatches WHERE event_id = ? AND occurrence_year = ? AND channel = ?`,
		eventID, year, string(ch)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *sqliteStore) PutDispatch(ctx context.Context, rec DispatchRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	// First writer wins: a concurrent duplicate is a no-op, which is what
	// keeps the at-most-once guarantee under parallel dispatch.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dispatches(event_id, occurrence_year, channel, status, sent_on, at, detail)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(event_id, occurrence_year, channel) DO NOTHING`,
		rec.EventID, rec.OccurrenceYear, string(rec.Channel), string(rec.Status),
		rec.SentOn, rec.At.Format(time.RFC3339Nano), nullStr(rec.Detail),
	)
	return err
}

// ---- channel health ----

func (s *sqliteStore) PutHealthSnapshot(ctx context.Context, snap HealthSnapshot) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO health_snapshots(channel, state, consecutive_failures, consecutive_successes, at)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(channel) DO UPDATE SET
		   state=excluded.state,
		   consecutive_failures=excluded.consecutive_failures,
		   consecutive_successes=excluded.consecutive_successes,
		   at=excluded.at`,
		string(snap.Channel), snap.State, snap.ConsecutiveFailures, snap.ConsecutiveSuccesses,
		snap.At.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) HealthSnapshots(ctx context.Context) ([]HealthSnapshot, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel, state, consecutive_failures, consecutive_successes, at FROM health_snapshots ORDER BY channel`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []HealthSnapshot
	for rows.Next() {
		var (
			snap HealthSnapshot
			ch   string
			at   string
		)
		if err := rows.Scan(&ch, &snap.State, &snap.ConsecutiveFailures, &snap.ConsecutiveSuccesses, &at); err != nil {
			return nil, err
		}
		snap.Channel = domain.Channel(ch)
		if t, err := time.Parse(time.RFC3339Nano, at); err == nil {
			snap.At = t
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

func (s *sqliteStore) PutOutage(ctx context.Context, o Outage) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	var ended any
	if o.EndedAt != nil {
		ended = o.EndedAt.Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO outages(id, channel, started_at, ended_at, resolved) VALUES(?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET ended_at=excluded.ended_at, resolved=excluded.resolved`,
		o.ID, string(o.Channel), o.StartedAt.Format(time.RFC3339Nano), ended, boolInt(o.Resolved),
	)
	return err
}

func (s *sqliteStore) GetOpenOutage(ctx context.Context, ch domain.Channel) (*Outage, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	var (
		o       Outage
		channel string
		started string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, channel, started_at FROM outages WHERE channel = ? AND resolved = 0 LIMIT 1`,
		string(ch)).Scan(&o.ID, &channel, &started)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	o.Channel = domain.Channel(channel)
	if t, err := time.Parse(time.RFC3339Nano, started); err == nil {
		o.StartedAt = t
	}
	return &o, nil
}

func (s *sqliteStore) ResolveOutage(ctx context.Context, id string, endedAt time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE outages SET resolved = 1, ended_at = ? WHERE id = ? AND resolved = 0`,
		endedAt.Format(time.RFC3339Nano), id,
	)
	return err
}

// ---- daily metrics ----

func metricColumn(f MetricField) (string, error) {
	switch f {
	case MetricSent:
		return "sent", nil
	case MetricDelivered:
		return "delivered", nil
	case MetricFailed:
		return "failed", nil
	case MetricRead:
		return "read_count", nil
	case MetricClicked:
		return "clicked", nil
	default:
		return "", fmt.Errorf("unknown metric field %q", f)
	}
}

func (s *sqliteStore) IncrMetric(ctx context.Context, day string, ch domain.Channel, field MetricField, n int64) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	col, err := metricColumn(field)
	if err != nil {
		return err
	}
	q := fmt.Sprintf(
		`INSERT INTO metrics_daily(day, channel, %[1]s) VALUES(?,?,?)
		 ON CONFLICT(day, channel) DO UPDATE SET %[1]s = %[1]s + excluded.%[1]s`, col)
	_, err = s.db.ExecContext(ctx, q, day, string(ch), n)
	return err
}

func (s *sqliteStore) MetricsSince(ctx context.Context, fromDay string) ([]MetricDay, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT day, channel, sent, delivered, failed, read_count, clicked
		 FROM metrics_daily WHERE day >= ? ORDER BY day, channel`, fromDay)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MetricDay
	for rows.Next() {
		var (
			m  MetricDay
			ch string
		)
		if err := rows.Scan(&m.Day, &ch, &m.Sent, &m.Delivered, &m.Failed, &m.Read, &m.Clicked); err != nil {
			return nil, err
		}
		m.Channel = domain.Channel(ch)
		out = append(out, m)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
