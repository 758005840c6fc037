package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"giftminder/internal/domain"
	logx "giftminder/pkg/logx"
)

const keyPrefix = "giftminder:rl:"

// RedisLimiter shares fixed-window counters across processes.
// Each window is one key (prefix + channel + key + window start); INCR
// advances the counter and the key expires shortly after the window ends.
type RedisLimiter struct {
	rdb      redis.Cmdable
	policies map[domain.Channel]Policy
	track    *tracker
	now      func() time.Time
	log      logx.Logger
}

func NewRedis(rdb redis.Cmdable, policies map[domain.Channel]Policy, log logx.Logger) *RedisLimiter {
	return &RedisLimiter{
		rdb:      rdb,
		policies: policies,
		track:    newTracker(),
		now:      time.Now,
		log:      log,
	}
}

func (l *RedisLimiter) Check(ctx context.Context, ch domain.Channel, key string) (Decision, error) {
	pol, ok := l.policies[ch]
	if !ok || pol.Max <= 0 || pol.Window <= 0 {
		return Decision{Allowed: true}, nil
	}
	now := l.now()
	start := windowStart(now, pol.Window)
	reset := start.Add(pol.Window)
	rkey := fmt.Sprintf("%s%s:%s:%d", keyPrefix, ch, key, start.Unix())

	pipe := l.rdb.Pipeline()
	incr := pipe.Incr(ctx, rkey)
	// Expiry covers the window plus slack for clock skew between processes.
	pipe.PExpire(ctx, rkey, pol.Window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("ratelimit: redis check %s: %w", rkey, err)
	}
	count := incr.Val()

	d := Decision{
		Allowed:      count <= pol.Max,
		CurrentCount: count,
		MaxAllowed:   pol.Max,
		ResetAt:      reset,
	}
	if !d.Allowed {
		d.RetryAfter = reset.Sub(now)
		l.log.Debug("rate limit exceeded",
			logx.String("channel", string(ch)),
			logx.String("key", key),
			logx.Int64("count", count),
			logx.Int64("max", pol.Max),
		)
	}
	l.track.record(ch, key, d)
	return d, nil
}

func (l *RedisLimiter) Snapshot(ctx context.Context) ([]ActiveLimit, error) {
	return l.track.snapshot(l.now()), nil
}

func (l *RedisLimiter) Close() error { return nil }
