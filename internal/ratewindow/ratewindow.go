// Package ratewindow is a per-tenant fixed-window counter in Redis that the
// chat-platform webhook checks, so one tenant's burst is limited
// consistently across every API instance. It is separate from, and sits on
// top of, the per-IP in-memory token bucket in internal/http/middleware,
// which it neither mirrors nor replaces. It fails open: losing counts on a
// Redis blip just means briefly under-enforcing the limit, never rejecting
// valid traffic.
// Grounded on the teacher's internal/payments.VelocityChecker, which uses
// the same INCR-then-EXPIRE counter-window shape for fraud-velocity limits
// rather than webhook throughput, but the Redis primitives are identical.
package ratewindow

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vitalishealth/bookingai/pkg/logging"
)

// Limiter enforces a fixed request budget per key per window using Redis
// INCR/EXPIRE, failing open (allow) on any Redis error so an outage never
// blocks inbound webhooks.
type Limiter struct {
	redis  *redis.Client
	logger *logging.Logger
}

func New(client *redis.Client, logger *logging.Logger) *Limiter {
	if logger == nil {
		logger = logging.Default()
	}
	return &Limiter{redis: client, logger: logger}
}

// Allow increments the counter for key and reports whether the count is
// still within limit for the current window. The first increment in a
// window sets the expiry; later calls within the same window just read and
// increment the existing counter.
func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) bool {
	if l == nil || l.redis == nil {
		return true
	}

	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		l.logger.Error("ratewindow: redis incr failed, failing open", "key", key, "error", err)
		return true
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, key, window).Err(); err != nil {
			l.logger.Error("ratewindow: redis expire failed", "key", key, "error", err)
		}
	}
	return int(count) <= limit
}

// Reset clears the counter for key, for admin-triggered unblocking.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if l == nil || l.redis == nil {
		return nil
	}
	return l.redis.Del(ctx, key).Err()
}

// WebhookKey builds the counter key for a tenant's inbound webhook traffic,
// scoped per minute so windows don't need explicit alignment bookkeeping.
func WebhookKey(accountID string, windowStart time.Time) string {
	return fmt.Sprintf("ratewindow:webhook:%s:%d", accountID, windowStart.Unix()/60)
}
