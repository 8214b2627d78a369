package events

import "time"

// Event types.
const (
	TypeIngestion = "ingestion"
	TypeContent   = "content"
	TypeHealth    = "health"

	// TypeAll subscribes to every type.
	TypeAll = "*"
)

// Event actions.
const (
	ActionCompleted     = "completed"
	ActionFailed        = "failed"
	ActionMisconfigured = "misconfigured"
	ActionCreated       = "created"
	ActionUpdated       = "updated"
)

// Event is an immutable fact about an ingestion state change. Events are
// never persisted.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Action    string                 `json:"action"`
	SourceID  string                 `json:"source_id,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}
