// Package metrics folds delivery outcomes into daily per-channel buckets.
package metrics

import (
	"context"
	"time"

	"giftminder/internal/domain"
	"giftminder/internal/storage"
	logx "giftminder/pkg/logx"
)

const dayFormat = "2006-01-02"

// Aggregator writes counters through the store. Failures to record are
// logged and swallowed: metrics never block or fail a delivery.
type Aggregator struct {
	store storage.Store
	log   logx.Logger
	now   func() time.Time
}

func NewAggregator(store storage.Store, log logx.Logger, now func() time.Time) *Aggregator {
	if now == nil {
		now = time.Now
	}
	return &Aggregator{store: store, log: log, now: now}
}

func (a *Aggregator) incr(ctx context.Context, ch domain.Channel, f storage.MetricField) {
	day := a.now().UTC().Format(dayFormat)
	if err := a.store.IncrMetric(ctx, day, ch, f, 1); err != nil {
		a.log.Warn("metric increment failed",
			logx.String("channel", string(ch)),
			logx.String("field", string(f)),
			logx.Err(err),
		)
	}
}

// RecordSent counts a dispatch attempt that was handed to a channel driver.
func (a *Aggregator) RecordSent(ctx context.Context, ch domain.Channel) {
	a.incr(ctx, ch, storage.MetricSent)
}

// RecordDelivered counts a confirmed successful delivery.
func (a *Aggregator) RecordDelivered(ctx context.Context, ch domain.Channel) {
	a.incr(ctx, ch, storage.MetricDelivered)
}

// RecordFailed counts a terminally failed delivery.
func (a *Aggregator) RecordFailed(ctx context.Context, ch domain.Channel) {
	a.incr(ctx, ch, storage.MetricFailed)
}

// RecordRead counts a read receipt reported through the tracking endpoint.
func (a *Aggregator) RecordRead(ctx context.Context, ch domain.Channel) {
	a.incr(ctx, ch, storage.MetricRead)
}

// RecordClicked counts a click reported through the tracking endpoint.
func (a *Aggregator) RecordClicked(ctx context.Context, ch domain.Channel) {
	a.incr(ctx, ch, storage.MetricClicked)
}

// Since returns the daily buckets covering the last `days` days,
// including today.
func (a *Aggregator) Since(ctx context.Context, days int) ([]storage.MetricDay, error) {
	if days < 1 {
		days = 1
	}
	from := a.now().UTC().AddDate(0, 0, -(days - 1)).Format(dayFormat)
	return a.store.MetricsSince(ctx, from)
}
