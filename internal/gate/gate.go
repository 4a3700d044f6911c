// Package gate decides, per request, whether a page may be served without a
// session or must redirect to sign-in.
package gate

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync/atomic"

	"identitysync/internal/metrics"
)

// DefaultPublicRoutes are reachable without a session.
var DefaultPublicRoutes = []string{
	"/auth",
	"/auth/(.*)",
	"/webhook",
	"/health",
	"/metrics",
	"/api/(.*)",
	"/static/(.*)",
	"/favicon.ico",
	"/robots.txt",
	"/sitemap.xml",
}

// Decision is the outcome of evaluating a request.
type Decision int

const (
	Redirect Decision = iota
	Allow
)

func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "redirect"
}

// Rule is a public route pattern. Patterns match the whole path.
type Rule struct {
	Pattern string
	re      *regexp.Regexp
}

// Match reports whether path matches the rule.
func (r Rule) Match(path string) bool {
	return r.re.MatchString(path)
}

// CompileRules anchors and compiles each pattern.
func CompileRules(patterns []string) ([]Rule, error) {
	rules := make([]Rule, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("^" + p + "$")
		if err != nil {
			return nil, fmt.Errorf("gate: invalid route pattern %q: %w", p, err)
		}
		rules = append(rules, Rule{Pattern: p, re: re})
	}
	return rules, nil
}

// Gate evaluates requests against the current public rules.
type Gate struct {
	rules      atomic.Pointer[[]Rule]
	signIn     []Rule
	cookieName string
	signInPath string
	logger     *slog.Logger
	recorder   metrics.Recorder
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithRecorder counts decisions.
func WithRecorder(r metrics.Recorder) Option {
	return func(g *Gate) {
		if r != nil {
			g.recorder = r
		}
	}
}

// New builds a Gate. Requests that match no public pattern and carry no
// cookieName cookie are redirected to signInPath. signInPath and the paths
// below it are always public, whatever patterns says.
func New(patterns []string, cookieName, signInPath string, opts ...Option) (*Gate, error) {
	if cookieName == "" {
		return nil, fmt.Errorf("gate: session cookie name is required")
	}
	if signInPath == "" {
		signInPath = "/auth"
	}
	trimmed := strings.TrimRight(signInPath, "/")
	if trimmed == "" {
		return nil, fmt.Errorf("gate: sign-in path %q would make every route public", signInPath)
	}
	base := regexp.QuoteMeta(trimmed)
	signIn, err := CompileRules([]string{base, base + "/(.*)"})
	if err != nil {
		return nil, err
	}

	g := &Gate{
		signIn:     signIn,
		cookieName: cookieName,
		signInPath: signInPath,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		recorder:   metrics.Nop{},
	}
	for _, opt := range opts {
		opt(g)
	}
	if err := g.SetRules(patterns); err != nil {
		return nil, err
	}
	return g, nil
}

// SetRules compiles patterns and swaps them in. On error the current rules
// stay in effect.
func (g *Gate) SetRules(patterns []string) error {
	rules, err := CompileRules(patterns)
	if err != nil {
		return err
	}
	g.rules.Store(&rules)
	return nil
}

// Patterns returns the patterns currently in effect.
func (g *Gate) Patterns() []string {
	rules := *g.rules.Load()
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = r.Pattern
	}
	return out
}

// Decide evaluates r. Only the cookie's presence is checked; the backend
// validates the session itself.
func (g *Gate) Decide(r *http.Request) Decision {
	path := r.URL.Path
	for _, rule := range g.signIn {
		if rule.Match(path) {
			return Allow
		}
	}
	for _, rule := range *g.rules.Load() {
		if rule.Match(path) {
			return Allow
		}
	}
	if _, err := r.Cookie(g.cookieName); err == nil {
		return Allow
	}
	return Redirect
}

// Middleware redirects requests the gate does not allow.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision := g.Decide(r)
		g.recorder.RecordGateDecision(decision.String())
		if decision == Allow {
			next.ServeHTTP(w, r)
			return
		}
		g.logger.Debug("redirecting unauthenticated request", "path", r.URL.Path)
		http.Redirect(w, r, g.signInPath, http.StatusSeeOther)
	})
}
