package users

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the datastore port for user records.
type Repository interface {
	// FindBySubject returns nil, nil when no record exists for the subject.
	FindBySubject(ctx context.Context, subjectID string) (*User, error)
	// Create inserts a new record. It returns ErrDuplicateSubject when the
	// subject is already taken.
	Create(ctx context.Context, user User) (User, error)
	Patch(ctx context.Context, id uuid.UUID, patch Patch) (User, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
