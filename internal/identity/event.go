// Package identity reconciles identity provider lifecycle events into local
// user records.
package identity

// Kind enumerates the lifecycle events mirrored from the identity provider.
type Kind string

const (
	KindUserCreated Kind = "user.created"
	KindUserUpdated Kind = "user.updated"
	KindUserDeleted Kind = "user.deleted"
)

// Supported reports whether k is one of the mirrored kinds.
func (k Kind) Supported() bool {
	switch k {
	case KindUserCreated, KindUserUpdated, KindUserDeleted:
		return true
	}
	return false
}

// Event is the canonical form of a provider event. SubjectID is the only
// field used to locate a record; the rest is best effort and nil when absent.
type Event struct {
	Kind        Kind
	SubjectID   string
	Email       *string
	DisplayName *string
	ImageURL    *string

	// DeliveryID is the provider's delivery identifier, kept for logging.
	DeliveryID string
}

// Outcome describes what a reconciliation did to the local record.
type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeUpdated Outcome = "updated"
	OutcomeDeleted Outcome = "deleted"
	OutcomeNoop    Outcome = "noop"
)
