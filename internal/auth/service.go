package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"identitysync/internal/users"
)

var (
	// ErrMissingToken is returned when a request carries no bearer token.
	ErrMissingToken = errors.New("auth: missing bearer token")
	// ErrInvalidToken is returned when token verification fails.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrNotSynced is returned for a verified subject with no local record.
	ErrNotSynced = errors.New("auth: user not synced")
)

// Verifier validates a raw token.
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (*Claims, error)
}

// Service authenticates datastore callers and resolves their synced record.
type Service struct {
	verifier Verifier
	users    users.Repository
}

// NewService creates a new auth Service.
func NewService(verifier Verifier, repo users.Repository) *Service {
	return &Service{verifier: verifier, users: repo}
}

// Authenticate verifies a bearer token.
func (s *Service) Authenticate(ctx context.Context, rawToken string) (*Claims, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil, ErrMissingToken
	}
	claims, err := s.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrInvalidToken)
	}
	return claims, nil
}

// CurrentUser looks up the record synced for the token's subject.
func (s *Service) CurrentUser(ctx context.Context, claims *Claims) (*users.User, error) {
	user, err := s.users.FindBySubject(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return nil, ErrNotSynced
	}
	return user, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
