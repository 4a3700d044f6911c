package users

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a user record cannot be located by id.
var ErrNotFound = errors.New("user not found")

// ErrDuplicateSubject is returned when a record for the subject already exists.
var ErrDuplicateSubject = errors.New("user subject already exists")

// User is the local mirror of an identity provider account.
type User struct {
	ID        uuid.UUID `json:"id"`
	SubjectID string    `json:"subjectId"`
	Email     string    `json:"email"`
	Name      *string   `json:"name,omitempty"`
	Image     *string   `json:"image,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Patch carries a partial update. Nil fields are left untouched.
type Patch struct {
	Email *string
	Name  *string
	Image *string
}

// Empty reports whether the patch carries no fields.
func (p Patch) Empty() bool {
	return p.Email == nil && p.Name == nil && p.Image == nil
}

// Changes returns the subset of p that differs from u.
func (p Patch) Changes(u User) Patch {
	var out Patch
	if p.Email != nil && *p.Email != u.Email {
		out.Email = p.Email
	}
	if p.Name != nil && !equalPtr(p.Name, u.Name) {
		out.Name = p.Name
	}
	if p.Image != nil && !equalPtr(p.Image, u.Image) {
		out.Image = p.Image
	}
	return out
}

// Apply writes the present fields of p onto u.
func (p Patch) Apply(u *User) {
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.Name != nil {
		name := *p.Name
		u.Name = &name
	}
	if p.Image != nil {
		image := *p.Image
		u.Image = &image
	}
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
