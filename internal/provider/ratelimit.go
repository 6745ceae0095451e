package provider

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/wonny/coarank/backend/internal/contracts"
	"github.com/wonny/coarank/backend/pkg/redis"
)

// limited spaces calls to a provider. The in-process limiter always
// applies; the Redis limiter, when enabled, shares the budget across
// processes.
type limited struct {
	Provider
	limiter   *rate.Limiter
	shared    *redis.RateLimiter
	sharedCfg redis.RateLimitConfig
}

// WithRateLimit wraps p so it makes at most rpm calls per minute. rpm <= 0
// returns p unchanged. shared may be nil.
func WithRateLimit(p Provider, rpm int, shared *redis.RateLimiter) Provider {
	if rpm <= 0 {
		return p
	}
	return &limited{
		Provider:  p,
		limiter:   rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
		shared:    shared,
		sharedCfg: redis.ProviderRateLimit(p.Name(), rpm),
	}
}

func (l *limited) Extract(ctx context.Context, img Image) (*contracts.RawExtraction, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	if l.shared != nil {
		if err := l.shared.Wait(ctx, l.sharedCfg); err != nil {
			return nil, fmt.Errorf("shared rate limit wait: %w", err)
		}
	}
	return l.Provider.Extract(ctx, img)
}
