package middleware

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"

	"github.com/naap-platform/naap-runtime/internal/db/models"
)

// Decision is the outcome of a plan quota check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// PlanLimiter enforces the per-minute rate and daily quota a gateway plan
// grants each API key. Limits live in Redis so they hold across runtime
// replicas; without Redis the limiter degrades to per-process token buckets,
// which over-admit by the replica count but never block legitimate traffic.
type PlanLimiter struct {
	limiter *redis_rate.Limiter

	mu       sync.Mutex
	fallback map[string]*RateLimiter
}

// NewPlanLimiter creates a plan limiter. rdb may be nil.
func NewPlanLimiter(rdb *redis.Client) *PlanLimiter {
	pl := &PlanLimiter{fallback: make(map[string]*RateLimiter)}
	if rdb != nil {
		pl.limiter = redis_rate.NewLimiter(rdb)
	}
	return pl
}

// Allow checks one request from keyID against its plan.
func (p *PlanLimiter) Allow(ctx context.Context, keyID string, plan *models.GatewayPlan) (*Decision, error) {
	if p.limiter == nil {
		return p.allowLocal(keyID, plan), nil
	}

	res, err := p.limiter.Allow(ctx, "gwkey:"+keyID, redis_rate.Limit{
		Rate:   plan.RequestsPerMinute,
		Burst:  plan.Burst,
		Period: time.Minute,
	})
	if err != nil {
		// Redis being down must not take the data path with it.
		slog.Error("plan rate limit check", "key", keyID, "error", err)
		return p.allowLocal(keyID, plan), nil
	}
	if res.Allowed == 0 {
		return &Decision{Allowed: false, RetryAfter: res.RetryAfter}, nil
	}

	if plan.QuotaPerDay != nil {
		qres, err := p.limiter.Allow(ctx, "gwquota:"+keyID, redis_rate.Limit{
			Rate:   *plan.QuotaPerDay,
			Burst:  *plan.QuotaPerDay,
			Period: 24 * time.Hour,
		})
		if err != nil {
			slog.Error("plan quota check", "key", keyID, "error", err)
			return &Decision{Allowed: true, Remaining: res.Remaining}, nil
		}
		if qres.Allowed == 0 {
			return &Decision{Allowed: false, RetryAfter: qres.RetryAfter}, nil
		}
		if qres.Remaining < res.Remaining {
			return &Decision{Allowed: true, Remaining: qres.Remaining}, nil
		}
	}

	return &Decision{Allowed: true, Remaining: res.Remaining}, nil
}

// allowLocal applies the plan's rate with a per-plan in-process bucket. The
// daily quota is not tracked locally.
func (p *PlanLimiter) allowLocal(keyID string, plan *models.GatewayPlan) *Decision {
	p.mu.Lock()
	rl, ok := p.fallback[plan.ID]
	if !ok {
		rl = NewRateLimiter(RateLimitConfig{
			RequestsPerMinute: plan.RequestsPerMinute,
			BurstSize:         plan.Burst,
			CleanupInterval:   5 * time.Minute,
		})
		p.fallback[plan.ID] = rl
	}
	p.mu.Unlock()

	if !rl.Allow("gwkey:" + keyID) {
		return &Decision{Allowed: false, RetryAfter: time.Minute}
	}
	return &Decision{Allowed: true, Remaining: rl.RemainingTokens("gwkey:" + keyID)}
}

// Stop releases the fallback limiters' goroutines.
func (p *PlanLimiter) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, rl := range p.fallback {
		rl.Stop()
	}
	p.fallback = make(map[string]*RateLimiter)
}
