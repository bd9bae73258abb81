package basic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/revintel-gateway/internal/core/ports"
)

func TestPolicy_AllowsEveryRequest(t *testing.T) {
	policy := NewPolicy()

	requests := []*ports.PolicyRequest{
		{CustomerID: "cust-1", UserID: "user-1", ResourceType: "icp"},
		{CustomerID: "cust-1", UserID: "user-1", ResourceType: "icp"},
		{CustomerID: "cust-2", ResourceType: "battlecard"},
		nil,
	}
	for _, req := range requests {
		decision, err := policy.CheckRequest(context.Background(), req)
		require.NoError(t, err)
		assert.True(t, decision.Allow)
		assert.Zero(t, decision.RetryAfter)
	}
}
