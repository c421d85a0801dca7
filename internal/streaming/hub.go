// Package streaming fans out execution events to live subscribers.
package streaming

import "context"

// Event types published by the simulator.
const (
	EventExecuted     = "execution.completed"
	EventFailed       = "execution.failed"
	EventNotification = "notification"
)

// Event is emitted after an action call finishes.
type Event struct {
	App         string `json:"app"`
	Action      string `json:"action"`
	AgentID     string `json:"agent_id,omitempty"`
	ExecutionID string `json:"execution_id,omitempty"`
	Type        string `json:"type"`
	Payload     any    `json:"payload,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive.
// Recipient matches the To field of notification payloads.
type EventFilter struct {
	App       string   `json:"app,omitempty"`
	Recipient string   `json:"recipient,omitempty"`
	Types     []string `json:"types,omitempty"`
}

// EventHub provides pub/sub for execution events.
type EventHub interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan Event, func(), error)
}
