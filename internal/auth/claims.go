package auth

import (
	"context"
	"time"
)

// Claims are the verified claims of a datastore-scoped token.
type Claims struct {
	Subject string    `json:"sub"`
	Issuer  string    `json:"iss"`
	Email   string    `json:"email"`
	Name    string    `json:"name"`
	Picture string    `json:"picture"`
	Expiry  time.Time `json:"-"`
}

type contextKey string

const claimsContextKey contextKey = "claims"

// WithClaims returns a copy of ctx carrying claims.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// ClaimsFromContext extracts the verified claims placed by the bearer
// middleware. Returns nil if the request was not authenticated.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsContextKey).(*Claims)
	return claims
}
