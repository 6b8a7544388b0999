package audit

import (
	"context"
	"time"
)

// EventType classifies audit events emitted by the core.
type EventType string

const (
	EventTokenIssued    EventType = "token.issued"
	EventTokenRotated   EventType = "token.rotated"
	EventReplayDetected EventType = "token.replay_detected"
	EventSessionRevoked EventType = "session.revoked"
	EventKeyRotated     EventType = "key.rotated"
	EventEvaluation     EventType = "policy.evaluation"
)

// Event is one audit record. Events are emitted fire-and-forget; the
// dispatching path never blocks request handling.
type Event struct {
	ID          string            `json:"id"`
	Type        EventType         `json:"type"`
	Timestamp   time.Time         `json:"timestamp"`
	TenantID    string            `json:"tenant_id,omitempty"`
	PrincipalID string            `json:"principal_id,omitempty"`
	SessionID   string            `json:"session_id,omitempty"`
	Resource    string            `json:"resource,omitempty"`
	Action      string            `json:"action,omitempty"`
	Decision    string            `json:"decision,omitempty"`
	MatchedID   string            `json:"matched_id,omitempty"`
	Reason      string            `json:"reason,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy so sinks never race on shared maps.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Metadata != nil {
		clone.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

// Sink receives audit events. Delivery failures are logged, never propagated
// back to the request path.
type Sink interface {
	Deliver(ctx context.Context, event *Event) error
	Close() error
}

// Emitter is the narrow interface the core depends on.
type Emitter interface {
	Emit(event *Event)
}
