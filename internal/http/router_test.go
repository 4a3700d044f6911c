package http

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"

	"identitysync/internal/auth"
	"identitysync/internal/config"
	"identitysync/internal/gate"
	"identitysync/internal/identity"
	"identitysync/internal/metrics"
	"identitysync/internal/users"
	"identitysync/internal/webhook"
)

const (
	routerIssuer   = "https://clerk.example.dev"
	routerAudience = "datastore"
)

type routerFixture struct {
	handler  http.Handler
	verifier *webhook.Verifier
	repo     *users.InMemoryRepository
	key      *rsa.PrivateKey
	now      time.Time
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	now := time.Now().Truncate(time.Second)
	logger := discardLogger()

	cfg := config.Config{
		Environment:       "development",
		AllowedOrigins:    []string{"http://localhost:3000"},
		SessionCookieName: "__session",
		SignInPath:        "/auth",
	}

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	repo := users.NewInMemoryRepository(nil)
	verifier, err := webhook.NewVerifier(testWebhookSecret, webhook.WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	webhookHandler := NewWebhookHandler(verifier, identity.NewReconciler(repo), webhook.NewMemoryDeliveryLog(100, time.Hour), nil, collector, logger)

	g, err := gate.New(gate.DefaultPublicRoutes, cfg.SessionCookieName, cfg.SignInPath, gate.WithRecorder(collector))
	if err != nil {
		t.Fatalf("gate.New: %v", err)
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tokenVerifier := auth.NewStaticTokenVerifier(routerIssuer, routerAudience, []crypto.PublicKey{&key.PublicKey}, func() time.Time { return now })

	handler := NewRouter(cfg, Dependencies{
		Webhook: webhookHandler,
		Gate:    g,
		Auth:    auth.NewService(tokenVerifier, repo),
		Metrics: metrics.Handler(reg),
	}, logger)

	return &routerFixture{handler: handler, verifier: verifier, repo: repo, key: key, now: now}
}

func (f *routerFixture) token(t *testing.T, subject string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Issuer:    routerIssuer,
		Subject:   subject,
		Audience:  jwt.ClaimStrings{routerAudience},
		ExpiresAt: jwt.NewNumericDate(f.now.Add(time.Minute)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(f.key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func (f *routerFixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestRouterGate(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/auth", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected /auth to be public, got %d", rec.Code)
	}

	rec = f.do(httptest.NewRequest(http.MethodGet, "/chat", nil))
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/auth" {
		t.Fatalf("expected redirect to /auth, got %d %q", rec.Code, rec.Header().Get("Location"))
	}

	req := httptest.NewRequest(http.MethodGet, "/chat", nil)
	req.AddCookie(&http.Cookie{Name: "__session", Value: "opaque"})
	rec = f.do(req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected gated request with cookie to reach routing, got %d", rec.Code)
	}
}

func TestRouterHealthAndSecurityHeaders(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("expected security headers")
	}
	if rec.Header().Get("Strict-Transport-Security") != "" {
		t.Fatal("expected no HSTS in development")
	}
}

func TestRouterWebhookLiveness(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/webhook", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRouterSyncThenFetchCurrentUser(t *testing.T) {
	f := newRouterFixture(t)

	body := []byte(createdPayload)
	h := f.verifier.Sign("msg_1", f.now, body)
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("svix-id", h.ID)
	req.Header.Set("svix-timestamp", h.Timestamp)
	req.Header.Set("svix-signature", h.Signature)
	if rec := f.do(req); rec.Code != http.StatusOK {
		t.Fatalf("webhook failed: %d %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+f.token(t, "u1"))
	rec := f.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body.String())
	}
	var user users.User
	if err := json.Unmarshal(rec.Body.Bytes(), &user); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	if user.SubjectID != "u1" || user.Email != "a@b.com" {
		t.Fatalf("unexpected user %#v", user)
	}
}

func TestRouterCurrentUserErrors(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/me", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	if rec := f.do(req); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+f.token(t, "never-synced"))
	if rec := f.do(req); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unsynced subject, got %d", rec.Code)
	}
}

func TestRouterMetrics(t *testing.T) {
	f := newRouterFixture(t)
	f.do(httptest.NewRequest(http.MethodGet, "/chat", nil))

	rec := f.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `identitysync_gate_decisions_total{decision="redirect"} 1`) {
		t.Fatalf("expected gate metric in output:\n%s", rec.Body.String())
	}
}

func TestSignInHandlerRedirectsWhenConfigured(t *testing.T) {
	rec := httptest.NewRecorder()
	signInHandler("https://accounts.example.dev/sign-in")(rec, httptest.NewRequest(http.MethodGet, "/auth", nil))
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "https://accounts.example.dev/sign-in" {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Header().Get("Location"))
	}
}

func TestBearerMiddlewareInjectsClaims(t *testing.T) {
	f := newRouterFixture(t)
	repo := users.NewInMemoryRepository(nil)
	key := f.key
	svc := auth.NewService(auth.NewStaticTokenVerifier(routerIssuer, routerAudience, []crypto.PublicKey{&key.PublicKey}, func() time.Time { return f.now }), repo)

	next := newBearerAuthMiddleware(svc, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := auth.ClaimsFromContext(r.Context())
		if claims == nil || claims.Subject != "u9" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil).WithContext(context.Background())
	req.Header.Set("Authorization", "Bearer "+f.token(t, "u9"))
	rec := httptest.NewRecorder()
	next.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
