// Package events announces applied user changes on NATS JetStream so owners
// of data that references a user can react to it.
package events

// EventMetadata contains common event information.
type EventMetadata struct {
	EventID   string `json:"event_id"`
	EntityID  string `json:"entity_id"`
	Timestamp int64  `json:"timestamp"`
	Source    string `json:"source"`
}

// UserChanged is published for every created, updated, or deleted user.
type UserChanged struct {
	Metadata  EventMetadata `json:"metadata"`
	Kind      string        `json:"kind"`
	Outcome   string        `json:"outcome"`
	SubjectID string        `json:"subject_id"`
	UserID    string        `json:"user_id"`
	Email     string        `json:"email,omitempty"`
	Name      string        `json:"name,omitempty"`
	Image     string        `json:"image,omitempty"`
}
