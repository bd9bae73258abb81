// Package basic provides the default generation policy: every request is
// allowed.
package basic

import (
	"context"

	"github.com/tjfontaine/revintel-gateway/internal/core/ports"
)

// Policy admits all generation requests. The gateway uses it when
// generation.rate_limit.requests_per_minute is zero.
type Policy struct{}

func NewPolicy() *Policy {
	return &Policy{}
}

func (p *Policy) CheckRequest(_ context.Context, _ *ports.PolicyRequest) (*ports.PolicyDecision, error) {
	return &ports.PolicyDecision{Allow: true, Reason: "generation unrestricted"}, nil
}

var _ ports.QualityPolicy = (*Policy)(nil)
