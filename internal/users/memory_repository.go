package users

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRepository stores users in an in-process map, ideal for local development or tests.
// The subject index is maintained under the same lock as the records, which
// gives the unique-subject guarantee the PostgreSQL constraint provides.
type InMemoryRepository struct {
	mu        sync.RWMutex
	data      map[uuid.UUID]User
	bySubject map[string]uuid.UUID
	now       func() time.Time
}

// NewInMemoryRepository constructs a repository seeded with optional initial users.
func NewInMemoryRepository(initial []User) *InMemoryRepository {
	repo := &InMemoryRepository{
		data:      make(map[uuid.UUID]User, len(initial)),
		bySubject: make(map[string]uuid.UUID, len(initial)),
		now:       time.Now,
	}
	for _, user := range initial {
		repo.data[user.ID] = user
		repo.bySubject[user.SubjectID] = user.ID
	}
	return repo
}

// FindBySubject returns the user with the given subject, or nil when absent.
func (r *InMemoryRepository) FindBySubject(_ context.Context, subjectID string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.bySubject[subjectID]
	if !ok {
		return nil, nil
	}
	user := clone(r.data[id])
	return &user, nil
}

// Create stores a new user.
func (r *InMemoryRepository) Create(_ context.Context, user User) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.bySubject[user.SubjectID]; taken {
		return User{}, ErrDuplicateSubject
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	now := r.now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	r.data[user.ID] = clone(user)
	r.bySubject[user.SubjectID] = user.ID
	return user, nil
}

// Patch applies a partial update to an existing user.
func (r *InMemoryRepository) Patch(_ context.Context, id uuid.UUID, patch Patch) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.data[id]
	if !ok {
		return User{}, ErrNotFound
	}
	patch.Apply(&user)
	user.UpdatedAt = r.now()
	r.data[id] = user
	return clone(user), nil
}

// Delete removes a user by ID.
func (r *InMemoryRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.data[id]
	if !ok {
		return ErrNotFound
	}
	delete(r.data, id)
	delete(r.bySubject, user.SubjectID)
	return nil
}

// Len returns the number of stored users.
func (r *InMemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}

func clone(u User) User {
	if u.Name != nil {
		name := *u.Name
		u.Name = &name
	}
	if u.Image != nil {
		image := *u.Image
		u.Image = &image
	}
	return u
}
