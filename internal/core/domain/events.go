package domain

import "time"

// EventType names an event on the bus.
type EventType string

const (
	EventGenerationStarted   EventType = "resource.generation.started"
	EventGenerationProgress  EventType = "resource.generation.progress"
	EventGenerationCompleted EventType = "resource.generation.completed"
	EventGenerationFailed    EventType = "resource.generation.failed"

	EventSessionWarning   EventType = "session.warning"
	EventSessionExpired   EventType = "session.expired"
	EventSessionRefreshed EventType = "session.refreshed"
)

// Payload keys shared by producers and consumers.
const (
	PayloadResourceID = "resourceId"
	PayloadCustomerID = "customerId"
)

// Event is an immutable record emitted on the bus.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ResourceID returns the resource the event refers to, if any.
func (e Event) ResourceID() string {
	if e.Payload == nil {
		return ""
	}
	id, _ := e.Payload[PayloadResourceID].(string)
	return id
}
