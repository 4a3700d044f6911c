package http

import (
	"errors"
	"log/slog"
	"net/http"

	"identitysync/internal/auth"
)

// UserHandler serves the caller's synced record.
type UserHandler struct {
	service *auth.Service
	logger  *slog.Logger
}

// NewUserHandler creates a handler.
func NewUserHandler(service *auth.Service, logger *slog.Logger) *UserHandler {
	return &UserHandler{service: service, logger: logger}
}

// Me returns the user record for the verified token subject.
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		unauthorized(w)
		return
	}

	user, err := h.service.CurrentUser(r.Context(), claims)
	if err != nil {
		if errors.Is(err, auth.ErrNotSynced) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		h.logger.Error("load current user", "subject_id", claims.Subject, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return
	}
	writeJSON(w, http.StatusOK, user)
}
