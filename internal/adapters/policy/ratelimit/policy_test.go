package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/revintel-gateway/internal/core/ports"
)

func TestNewPolicy_Validation(t *testing.T) {
	_, err := NewPolicy(0, 1)
	assert.Error(t, err)
}

func TestCheckRequest_PerCustomerBuckets(t *testing.T) {
	p, err := NewPolicy(6, 2) // one token every 10s
	require.NoError(t, err)

	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }
	ctx := context.Background()
	a := &ports.PolicyRequest{CustomerID: "a"}

	for i := 0; i < 2; i++ {
		d, err := p.CheckRequest(ctx, a)
		require.NoError(t, err)
		assert.True(t, d.Allow, "request %d within burst", i)
	}

	d, err := p.CheckRequest(ctx, a)
	require.NoError(t, err)
	assert.False(t, d.Allow)
	assert.InDelta(t, float64(10*time.Second), float64(d.RetryAfter), float64(time.Millisecond))

	// Another customer has its own bucket.
	d, err = p.CheckRequest(ctx, &ports.PolicyRequest{CustomerID: "b"})
	require.NoError(t, err)
	assert.True(t, d.Allow)

	// Rejected requests do not consume tokens.
	now = now.Add(10 * time.Second)
	d, err = p.CheckRequest(ctx, a)
	require.NoError(t, err)
	assert.True(t, d.Allow)
}

func TestCheckRequest_NilRequest(t *testing.T) {
	p, _ := NewPolicy(10, 1)
	_, err := p.CheckRequest(context.Background(), nil)
	assert.Error(t, err)
}

func TestEvictFull(t *testing.T) {
	p, _ := NewPolicy(60, 1)
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	p.CheckRequest(context.Background(), &ports.PolicyRequest{CustomerID: "idle"})
	now = now.Add(time.Minute)

	p.mu.Lock()
	p.evictFullLocked()
	n := len(p.limiters)
	p.mu.Unlock()
	assert.Equal(t, 0, n)
}
