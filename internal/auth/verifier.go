package auth

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
)

// TokenVerifier validates scoped tokens minted by the identity provider's
// token template for the datastore audience.
type TokenVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewTokenVerifier discovers the issuer's signing keys and verifies tokens
// against issuer and audience.
func NewTokenVerifier(ctx context.Context, issuer, audience string) (*TokenVerifier, error) {
	if issuer == "" || audience == "" {
		return nil, errors.New("auth: issuer and audience are required")
	}
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}
	return &TokenVerifier{verifier: provider.Verifier(&oidc.Config{ClientID: audience})}, nil
}

// NewStaticTokenVerifier verifies RS256 tokens against fixed public keys.
func NewStaticTokenVerifier(issuer, audience string, keys []crypto.PublicKey, now func() time.Time) *TokenVerifier {
	keySet := &oidc.StaticKeySet{PublicKeys: keys}
	return &TokenVerifier{verifier: oidc.NewVerifier(issuer, keySet, &oidc.Config{
		ClientID:             audience,
		SupportedSigningAlgs: []string{oidc.RS256},
		Now:                  now,
	})}
}

// Verify checks signature, issuer, audience and expiry and returns the claims.
func (v *TokenVerifier) Verify(ctx context.Context, rawToken string) (*Claims, error) {
	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}

	var claims Claims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("parse claims: %w", err)
	}
	claims.Subject = idToken.Subject
	claims.Issuer = idToken.Issuer
	claims.Expiry = idToken.Expiry
	return &claims, nil
}
