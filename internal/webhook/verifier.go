// Package webhook authenticates and decodes identity provider deliveries.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultTolerance is the accepted clock skew between the provider and us.
const DefaultTolerance = 5 * time.Minute

const (
	secretPrefix     = "whsec_"
	signatureVersion = "v1"
)

var (
	// ErrVerification is matched by every verification failure.
	ErrVerification = errors.New("webhook verification failed")
	// ErrMissingHeaders indicates one of the signing headers was absent.
	ErrMissingHeaders = fmt.Errorf("%w: missing signing headers", ErrVerification)
	// ErrInvalidSignature indicates a bad signature or a stale timestamp.
	ErrInvalidSignature = fmt.Errorf("%w: invalid signature", ErrVerification)
)

// Headers carries the three signing headers of a delivery.
type Headers struct {
	ID        string
	Timestamp string
	Signature string
}

// HeadersFromRequest reads the svix-* headers, falling back to webhook-*.
func HeadersFromRequest(r *http.Request) Headers {
	return Headers{
		ID:        headerValue(r.Header, "svix-id", "webhook-id"),
		Timestamp: headerValue(r.Header, "svix-timestamp", "webhook-timestamp"),
		Signature: headerValue(r.Header, "svix-signature", "webhook-signature"),
	}
}

func headerValue(h http.Header, names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(h.Get(name)); v != "" {
			return v
		}
	}
	return ""
}

func (h Headers) complete() bool {
	return h.ID != "" && h.Timestamp != "" && h.Signature != ""
}

// Verifier checks delivery signatures against a shared secret.
type Verifier struct {
	key       []byte
	tolerance time.Duration
	now       func() time.Time
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithTolerance overrides DefaultTolerance.
func WithTolerance(d time.Duration) VerifierOption {
	return func(v *Verifier) {
		if d > 0 {
			v.tolerance = d
		}
	}
}

// WithClock injects the time source used for the skew check.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewVerifier decodes the signing secret. The whsec_ prefix is optional and a
// secret that is not base64 is used as raw bytes.
func NewVerifier(secret string, opts ...VerifierOption) (*Verifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("webhook: signing secret is required")
	}

	encoded := strings.TrimPrefix(secret, secretPrefix)
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(key) == 0 {
		key = []byte(encoded)
	}

	v := &Verifier{key: key, tolerance: DefaultTolerance, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify authenticates body against the delivery headers and returns the body
// unchanged on success.
func (v *Verifier) Verify(body []byte, h Headers) ([]byte, error) {
	if !h.complete() {
		return nil, ErrMissingHeaders
	}

	ts, err := strconv.ParseInt(h.Timestamp, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed timestamp", ErrInvalidSignature)
	}
	skew := v.now().Sub(time.Unix(ts, 0))
	if skew > v.tolerance {
		return nil, fmt.Errorf("%w: timestamp too old", ErrInvalidSignature)
	}
	if skew < -v.tolerance {
		return nil, fmt.Errorf("%w: timestamp too new", ErrInvalidSignature)
	}

	expected := v.sign(h.ID, h.Timestamp, body)
	for _, candidate := range strings.Fields(h.Signature) {
		version, sig, ok := strings.Cut(candidate, ",")
		if !ok || version != signatureVersion {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			return body, nil
		}
	}
	return nil, fmt.Errorf("%w: no matching signature", ErrInvalidSignature)
}

// Sign produces a signature header value for the given delivery. Used by
// tests and local tooling that replays deliveries.
func (v *Verifier) Sign(id string, timestamp time.Time, body []byte) Headers {
	ts := strconv.FormatInt(timestamp.Unix(), 10)
	sig := base64.StdEncoding.EncodeToString(v.sign(id, ts, body))
	return Headers{ID: id, Timestamp: ts, Signature: signatureVersion + "," + sig}
}

func (v *Verifier) sign(id, timestamp string, body []byte) []byte {
	mac := hmac.New(sha256.New, v.key)
	mac.Write([]byte(id))
	mac.Write([]byte("."))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return mac.Sum(nil)
}
