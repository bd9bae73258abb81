// Package ratelimit limits resource generation per customer.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tjfontaine/revintel-gateway/internal/core/ports"
)

// maxLimiters bounds the limiter map; past it idle limiters are dropped.
const maxLimiters = 10000

// Policy implements ports.QualityPolicy with a token bucket per customer.
type Policy struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

// NewPolicy allows requestsPerMinute generations per customer with the given burst.
func NewPolicy(requestsPerMinute, burst int) (*Policy, error) {
	if requestsPerMinute <= 0 {
		return nil, fmt.Errorf("requests per minute must be positive")
	}
	if burst <= 0 {
		burst = 1
	}
	return &Policy{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Every(time.Minute / time.Duration(requestsPerMinute)),
		burst:    burst,
		now:      time.Now,
	}, nil
}

func (p *Policy) limiter(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.limiters[key]
	if !ok {
		if len(p.limiters) >= maxLimiters {
			p.evictFullLocked()
		}
		l = rate.NewLimiter(p.limit, p.burst)
		p.limiters[key] = l
	}
	return l
}

// evictFullLocked drops limiters whose buckets have refilled; they carry no state.
func (p *Policy) evictFullLocked() {
	now := p.now()
	for k, l := range p.limiters {
		if l.TokensAt(now) >= float64(p.burst) {
			delete(p.limiters, k)
		}
	}
}

// CheckRequest consumes one token for the request's customer.
func (p *Policy) CheckRequest(ctx context.Context, req *ports.PolicyRequest) (*ports.PolicyDecision, error) {
	if req == nil {
		return nil, fmt.Errorf("policy request required")
	}

	key := req.CustomerID
	if key == "" {
		key = req.UserID
	}

	now := p.now()
	r := p.limiter(key).ReserveN(now, 1)
	if !r.OK() {
		return &ports.PolicyDecision{Allow: false, Reason: "burst exceeds limit"}, nil
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return &ports.PolicyDecision{
			Allow:      false,
			Reason:     fmt.Sprintf("generation rate limit exceeded for customer %s", key),
			RetryAfter: delay,
		}, nil
	}

	return &ports.PolicyDecision{Allow: true}, nil
}

var _ ports.QualityPolicy = (*Policy)(nil)
