package identity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"identitysync/internal/users"
)

// Change is an applied mutation, announced to downstream owners of data that
// references the user.
type Change struct {
	Kind      Kind
	Outcome   Outcome
	SubjectID string
	User      users.User
}

// Publisher announces applied changes.
type Publisher interface {
	PublishChange(ctx context.Context, change Change) error
}

// Result reports the effect of one reconciliation.
type Result struct {
	Kind      Kind
	SubjectID string
	UserID    uuid.UUID
	Outcome   Outcome
}

// Reconciler applies canonical events to the user repository. Every operation
// looks the subject up before writing, so redelivering an event has no
// observable effect after the first successful application.
type Reconciler struct {
	repo           users.Repository
	publisher      Publisher
	createOnUpdate bool
	logger         *slog.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithPublisher announces applied changes through p.
func WithPublisher(p Publisher) Option {
	return func(r *Reconciler) {
		r.publisher = p
	}
}

// WithCreateOnUpdate makes an update for an unknown subject create the record
// when the event carries an email.
func WithCreateOnUpdate(enabled bool) Option {
	return func(r *Reconciler) {
		r.createOnUpdate = enabled
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewReconciler wires a Reconciler with the provided repository.
func NewReconciler(repo users.Repository, opts ...Option) *Reconciler {
	r := &Reconciler{
		repo:   repo,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Apply dispatches the event to the matching operation.
func (r *Reconciler) Apply(ctx context.Context, event Event) (Result, error) {
	switch event.Kind {
	case KindUserCreated:
		return r.Create(ctx, event)
	case KindUserUpdated:
		return r.Update(ctx, event)
	case KindUserDeleted:
		return r.Delete(ctx, event)
	default:
		return Result{}, fmt.Errorf("reconcile: unsupported kind %q", event.Kind)
	}
}

// Create inserts a record for the subject unless one already exists.
func (r *Reconciler) Create(ctx context.Context, event Event) (Result, error) {
	result := Result{Kind: event.Kind, SubjectID: event.SubjectID}

	existing, err := r.repo.FindBySubject(ctx, event.SubjectID)
	if err != nil {
		return result, fmt.Errorf("find user: %w", err)
	}
	if existing != nil {
		r.logger.Warn("user already exists, skipping creation", "subject_id", event.SubjectID, "user_id", existing.ID)
		result.UserID = existing.ID
		result.Outcome = OutcomeNoop
		return result, nil
	}

	return r.insert(ctx, event, result)
}

func (r *Reconciler) insert(ctx context.Context, event Event, result Result) (Result, error) {
	if event.Email == nil {
		return result, &FieldError{Field: "email"}
	}

	created, err := r.repo.Create(ctx, users.User{
		SubjectID: event.SubjectID,
		Email:     *event.Email,
		Name:      event.DisplayName,
		Image:     event.ImageURL,
	})
	if errors.Is(err, users.ErrDuplicateSubject) {
		// A concurrent delivery won the insert.
		winner, findErr := r.repo.FindBySubject(ctx, event.SubjectID)
		if findErr != nil {
			return result, fmt.Errorf("find user after conflict: %w", findErr)
		}
		if winner == nil {
			return result, fmt.Errorf("create user: %w", err)
		}
		result.UserID = winner.ID
		result.Outcome = OutcomeNoop
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("create user: %w", err)
	}

	r.logger.Info("created user", "subject_id", event.SubjectID, "user_id", created.ID)
	result.UserID = created.ID
	result.Outcome = OutcomeCreated
	r.announce(ctx, event.Kind, result.Outcome, created)
	return result, nil
}

// Update patches the fields present in the event onto the existing record.
func (r *Reconciler) Update(ctx context.Context, event Event) (Result, error) {
	result := Result{Kind: event.Kind, SubjectID: event.SubjectID}

	existing, err := r.repo.FindBySubject(ctx, event.SubjectID)
	if err != nil {
		return result, fmt.Errorf("find user: %w", err)
	}
	if existing == nil {
		if r.createOnUpdate && event.Email != nil {
			r.logger.Info("creating user from update for unknown subject", "subject_id", event.SubjectID)
			return r.insert(ctx, event, result)
		}
		return result, fmt.Errorf("update %s: %w", event.SubjectID, ErrRecordNotFound)
	}
	result.UserID = existing.ID

	changes := users.Patch{
		Email: event.Email,
		Name:  event.DisplayName,
		Image: event.ImageURL,
	}.Changes(*existing)
	if changes.Empty() {
		result.Outcome = OutcomeNoop
		return result, nil
	}

	updated, err := r.repo.Patch(ctx, existing.ID, changes)
	if errors.Is(err, users.ErrNotFound) {
		// Deleted between lookup and patch.
		return result, fmt.Errorf("update %s: %w", event.SubjectID, ErrRecordNotFound)
	}
	if err != nil {
		return result, fmt.Errorf("patch user: %w", err)
	}

	r.logger.Info("updated user", "subject_id", event.SubjectID, "user_id", updated.ID)
	result.Outcome = OutcomeUpdated
	r.announce(ctx, event.Kind, result.Outcome, updated)
	return result, nil
}

// Delete removes the subject's record. Records referencing the user are not
// touched here; the deletion announcement lets their owners react.
func (r *Reconciler) Delete(ctx context.Context, event Event) (Result, error) {
	result := Result{Kind: event.Kind, SubjectID: event.SubjectID}

	existing, err := r.repo.FindBySubject(ctx, event.SubjectID)
	if err != nil {
		return result, fmt.Errorf("find user: %w", err)
	}
	if existing == nil {
		result.Outcome = OutcomeNoop
		return result, nil
	}
	result.UserID = existing.ID

	if err := r.repo.Delete(ctx, existing.ID); err != nil {
		if errors.Is(err, users.ErrNotFound) {
			result.Outcome = OutcomeNoop
			return result, nil
		}
		return result, fmt.Errorf("delete user: %w", err)
	}

	r.logger.Info("deleted user", "subject_id", event.SubjectID, "user_id", existing.ID)
	result.Outcome = OutcomeDeleted
	r.announce(ctx, event.Kind, result.Outcome, *existing)
	return result, nil
}

func (r *Reconciler) announce(ctx context.Context, kind Kind, outcome Outcome, user users.User) {
	if r.publisher == nil {
		return
	}
	change := Change{Kind: kind, Outcome: outcome, SubjectID: user.SubjectID, User: user}
	if err := r.publisher.PublishChange(ctx, change); err != nil {
		r.logger.Error("failed to publish user change", "subject_id", user.SubjectID, "outcome", outcome, "error", err)
	}
}
