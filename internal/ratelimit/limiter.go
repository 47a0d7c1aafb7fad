package ratelimit

import (
	"context"

	"github.com/shopstack/payflow/internal/config"
	"go.uber.org/zap"
)

// SessionLimiter throttles create-payment calls per client. A nil limiter is
// valid and allows everything, so deployments without redis run unchanged.
type SessionLimiter struct {
	bucket *TokenBucket
	log    *zap.Logger
	rate   float64
	burst  int
}

func NewSessionLimiter(cfg config.Config, bucket *TokenBucket, log *zap.Logger) *SessionLimiter {
	if !cfg.RateLimit.Enabled || bucket == nil {
		return nil
	}
	return &SessionLimiter{
		bucket: bucket,
		log:    log.Named("ratelimit.session"),
		rate:   cfg.RateLimit.SessionRate,
		burst:  cfg.RateLimit.SessionBurst,
	}
}

func (l *SessionLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Allow reports whether the caller may create a session. Redis failures fail
// open: throttling is protective, not load-bearing, and an outage must not
// block checkout.
func (l *SessionLimiter) Allow(ctx context.Context, clientKey string) bool {
	if !l.Enabled() {
		return true
	}

	result, err := l.bucket.Allow(ctx, "ratelimit:session:"+clientKey, l.rate, l.burst)
	if err != nil {
		l.log.Warn("rate limit check failed, allowing request",
			zap.String("client", clientKey),
			zap.Error(err),
		)
		return true
	}
	return result.Allowed
}
