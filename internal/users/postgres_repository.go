package users

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindBySubject looks up a user by the identity provider subject.
func (r *PostgresRepository) FindBySubject(ctx context.Context, subjectID string) (*User, error) {
	const query = `
		SELECT id, subject_id, email, name, image, created_at, updated_at
		FROM users
		WHERE subject_id = $1
	`

	var row userRow
	if err := r.db.GetContext(ctx, &row, query, subjectID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return row.toUser(), nil
}

// Create inserts a new user. The unique index on subject_id arbitrates
// concurrent creates; the loser observes ErrDuplicateSubject.
func (r *PostgresRepository) Create(ctx context.Context, user User) (User, error) {
	const query = `
		INSERT INTO users (id, subject_id, email, name, image, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (subject_id) DO NOTHING
	`

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	result, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.SubjectID,
		user.Email,
		user.Name,
		user.Image,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return User{}, err
	}
	if affected == 0 {
		return User{}, ErrDuplicateSubject
	}

	return user, nil
}

// Patch updates only the columns present in the patch.
func (r *PostgresRepository) Patch(ctx context.Context, id uuid.UUID, patch Patch) (User, error) {
	const query = `
		UPDATE users
		SET email = COALESCE($2, email),
			name = COALESCE($3, name),
			image = COALESCE($4, image),
			updated_at = $5
		WHERE id = $1
		RETURNING id, subject_id, email, name, image, created_at, updated_at
	`

	var row userRow
	if err := r.db.GetContext(ctx, &row, query, id, patch.Email, patch.Name, patch.Image, time.Now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}

	return *row.toUser(), nil
}

// Delete removes a user by ID.
func (r *PostgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	const query = `DELETE FROM users WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// userRow is a database row representation of User.
type userRow struct {
	ID        uuid.UUID      `db:"id"`
	SubjectID string         `db:"subject_id"`
	Email     string         `db:"email"`
	Name      sql.NullString `db:"name"`
	Image     sql.NullString `db:"image"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

func (r *userRow) toUser() *User {
	return &User{
		ID:        r.ID,
		SubjectID: r.SubjectID,
		Email:     r.Email,
		Name:      nullableString(r.Name),
		Image:     nullableString(r.Image),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func nullableString(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	s := value.String
	return &s
}
