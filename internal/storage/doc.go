// Package storage persists the notification subsystem's state (dispatch
// records, channel health, outages, daily metrics) and reads calendar
// projections for the scheduler. The reporting UI consumes these rows
// one-directionally; the core never reads them back to make decisions,
// except for the idempotency lookup on dispatch records.
package storage
