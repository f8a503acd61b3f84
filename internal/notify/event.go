// Package notify delivers post-commit workflow notifications.
//
// Events are handed to a Dispatcher after a state transition has been
// persisted. The Dispatcher publishes them asynchronously through a
// Publisher backed by NATS JetStream, Kafka or Redis Streams. Publish
// failures are logged and dropped; they never reach the caller that
// committed the transition.
//
// Subject / topic convention: <prefix>.<event_type>, for example
// notifications.forms.approval_required.
package notify

import "time"

// EventType names a notification.
type EventType string

const (
	EventSubmissionCreated  EventType = "submission_created"
	EventApprovalRequired   EventType = "approval_required"
	EventSubmissionApproved EventType = "submission_approved"
	EventSubmissionRejected EventType = "submission_rejected"
)

// Event is the JSON document published to the broker.
type Event struct {
	ID           string         `json:"id"`
	EventType    EventType      `json:"event_type"`
	CompanyID    string         `json:"company_id"`
	ActorID      string         `json:"actor_id"`
	Recipients   []string       `json:"recipients"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	TemplateID   string         `json:"template_id,omitempty"`
	Level        int            `json:"level,omitempty"`
	IsActionable bool           `json:"is_actionable,omitempty"`
	ActionURL    string         `json:"action_url,omitempty"`
	Severity     string         `json:"severity,omitempty"`
	Category     string         `json:"category,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// Subject returns the broker subject for the event under prefix.
func (e *Event) Subject(prefix string) string {
	if prefix == "" {
		return string(e.EventType)
	}
	return prefix + "." + string(e.EventType)
}
