package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// IdPTokenFetcher requests scoped session tokens from the identity provider's
// backend API and caches each one until shortly before it expires.
type IdPTokenFetcher struct {
	baseURL   string
	secretKey string
	sessionID string
	client    *http.Client
	now       func() time.Time
	leeway    time.Duration

	mu    sync.Mutex
	cache map[string]cachedToken
	// epoch advances on Invalidate; fetches started before it do not cache.
	epoch uint64
}

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// IdPOption configures an IdPTokenFetcher.
type IdPOption func(*IdPTokenFetcher)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) IdPOption {
	return func(f *IdPTokenFetcher) {
		if c != nil {
			f.client = c
		}
	}
}

// WithFetcherClock injects the time source used for cache expiry.
func WithFetcherClock(now func() time.Time) IdPOption {
	return func(f *IdPTokenFetcher) {
		if now != nil {
			f.now = now
		}
	}
}

// NewIdPTokenFetcher builds a fetcher for one provider session.
func NewIdPTokenFetcher(baseURL, secretKey, sessionID string, opts ...IdPOption) *IdPTokenFetcher {
	f := &IdPTokenFetcher{
		baseURL:   strings.TrimRight(baseURL, "/"),
		secretKey: secretKey,
		sessionID: sessionID,
		client:    &http.Client{Timeout: 10 * time.Second},
		now:       time.Now,
		leeway:    10 * time.Second,
		cache:     make(map[string]cachedToken),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchToken implements TokenFetcher. audience names the provider's token
// template.
func (f *IdPTokenFetcher) FetchToken(ctx context.Context, audience string) (string, error) {
	token, epoch, ok := f.cached(audience)
	if ok {
		return token, nil
	}

	endpoint := fmt.Sprintf("%s/v1/sessions/%s/tokens/%s", f.baseURL, url.PathEscape(f.sessionID), url.PathEscape(audience))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader([]byte("{}")))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+f.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("request token: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var payload struct {
		JWT string `json:"jwt"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if payload.JWT == "" {
		return "", nil
	}

	if exp, ok := expiry(payload.JWT); ok {
		f.mu.Lock()
		if f.epoch == epoch {
			f.cache[audience] = cachedToken{token: payload.JWT, expiresAt: exp}
		}
		f.mu.Unlock()
	}
	return payload.JWT, nil
}

// Invalidate drops all cached tokens.
func (f *IdPTokenFetcher) Invalidate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache = make(map[string]cachedToken)
	f.epoch++
}

// cached returns a live cached token, or the current epoch on a miss.
func (f *IdPTokenFetcher) cached(audience string) (string, uint64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.cache[audience]
	if !ok {
		return "", f.epoch, false
	}
	if !f.now().Add(f.leeway).Before(entry.expiresAt) {
		delete(f.cache, audience)
		return "", f.epoch, false
	}
	return entry.token, f.epoch, true
}

// expiry reads the exp claim without verifying the signature; the datastore
// verifies the token.
func expiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
