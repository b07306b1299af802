package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"grant-gateway/internal/util"
)

// CounterStore is the narrow interface the limiter needs from the shared
// counter backend.
type CounterStore interface {
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Limiter bounds per-client request rates by action. The limiter fails open:
// a nil store, a disabled flag, or a store error all allow the request. It is
// an abuse deterrent, not a hard quota.
type Limiter struct {
	store   CounterStore
	enabled bool
	window  time.Duration
	limits  map[string]int64
}

// NewLimiter builds a limiter with per-action limits. Actions missing from
// the map are never limited.
func NewLimiter(store CounterStore, enabled bool, window time.Duration, limits map[string]int64) *Limiter {
	return &Limiter{
		store:   store,
		enabled: enabled,
		window:  window,
		limits:  limits,
	}
}

// Allow reports whether the client may perform the action. Each allowed call
// increments the (action, client) counter, which expires one window after its
// last write.
func (l *Limiter) Allow(ctx context.Context, action, clientAddr string) bool {
	if !l.enabled || l.store == nil {
		return true
	}

	limit, ok := l.limits[action]
	if !ok {
		return true
	}

	count, err := l.store.Increment(ctx, action+":"+clientAddr, l.window)
	if err != nil {
		util.Warn("counter store unavailable, allowing request",
			zap.String("action", action),
			zap.Error(err))
		return true
	}

	if count > limit {
		util.Debug("rate limit exceeded",
			zap.String("action", action),
			zap.Int64("count", count),
			zap.Int64("limit", limit))
		return false
	}
	return true
}
