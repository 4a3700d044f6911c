package http

import (
	"net/http"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"identitysync/internal/auth"
	"identitysync/internal/config"
	"identitysync/internal/gate"
)

// Dependencies are the components the router serves.
type Dependencies struct {
	Webhook *WebhookHandler
	Gate    *gate.Gate
	// Auth enables /api/me when set.
	Auth    *auth.Service
	Metrics http.Handler
}

// NewRouter wires application routes and middleware using chi.
func NewRouter(cfg config.Config, deps Dependencies, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(newSlogMiddleware(logger))
	r.Use(newSecurityHeadersMiddleware(cfg.Environment))
	if deps.Gate != nil {
		r.Use(deps.Gate.Middleware)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "ok",
			"environment": cfg.Environment,
		})
	})

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	signIn := signInHandler(cfg.SignInURL)
	r.Get(cfg.SignInPath, signIn)
	r.Get(cfg.SignInPath+"/*", signIn)

	r.Route("/webhook", func(r chi.Router) {
		r.Get("/", deps.Webhook.Liveness)
		r.Post("/", deps.Webhook.Receive)
	})

	if deps.Auth != nil {
		userHandler := NewUserHandler(deps.Auth, logger)
		r.Route("/api", func(r chi.Router) {
			r.Use(newBearerAuthMiddleware(deps.Auth, logger))
			r.Get("/me", userHandler.Me)
		})
	} else {
		logger.Warn("TOKEN_ISSUER not set; /api endpoints are disabled")
	}

	r.NotFound(http.NotFoundHandler().ServeHTTP)

	return r
}

// signInHandler sends visitors to the hosted sign-in page when one is
// configured.
func signInHandler(signInURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if signInURL != "" {
			http.Redirect(w, r, signInURL, http.StatusFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "sign in with the identity provider to continue"})
	}
}
