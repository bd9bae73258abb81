package nats

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/revintel-gateway/internal/core/domain"
)

func TestNewPublisher_RequiresURL(t *testing.T) {
	_, err := NewPublisher(Config{}, nil)
	assert.Error(t, err)
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "revintel.events.resource.generation.completed",
		Subject("revintel.events", domain.EventGenerationCompleted))
}

func TestPublish_BuffersWhileServerUnavailable(t *testing.T) {
	// Nothing listens on port 1; the client keeps retrying in the background
	// and buffers publishes in the meantime.
	p, err := NewPublisher(Config{URL: "nats://127.0.0.1:1"}, nil)
	require.NoError(t, err)
	defer p.Close()

	err = p.Publish(context.Background(), domain.Event{ID: "e1", Type: domain.EventGenerationStarted})
	assert.NoError(t, err)
}

func TestPublish_CanceledContext(t *testing.T) {
	p, err := NewPublisher(Config{URL: "nats://127.0.0.1:1"}, nil)
	require.NoError(t, err)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Publish(ctx, domain.Event{ID: "e1"}), context.Canceled)
}
