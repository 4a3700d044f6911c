package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"identitysync/internal/identity"
	"identitysync/internal/metrics"
	"identitysync/internal/webhook"
)

// EventApplier applies a canonical event to the datastore.
type EventApplier interface {
	Apply(ctx context.Context, event identity.Event) (identity.Result, error)
}

// WebhookHandler receives identity provider deliveries.
type WebhookHandler struct {
	verifier   *webhook.Verifier
	applier    EventApplier
	deliveries webhook.DeliveryLog
	limiter    *rate.Limiter
	recorder   metrics.Recorder
	logger     *slog.Logger
}

// NewWebhookHandler creates a handler. deliveries and limiter may be nil to
// disable replay suppression and ingress limiting.
func NewWebhookHandler(verifier *webhook.Verifier, applier EventApplier, deliveries webhook.DeliveryLog, limiter *rate.Limiter, recorder metrics.Recorder, logger *slog.Logger) *WebhookHandler {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &WebhookHandler{
		verifier:   verifier,
		applier:    applier,
		deliveries: deliveries,
		limiter:    limiter,
		recorder:   recorder,
		logger:     logger,
	}
}

// Liveness answers GET probes without verification.
func (h *WebhookHandler) Liveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "webhook endpoint is live"})
}

// Receive verifies, normalizes and applies one delivery.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	if h.limiter != nil && !h.limiter.Allow() {
		h.recorder.RecordWebhook("rate_limited")
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		h.recorder.RecordWebhook("unreadable")
		if errors.Is(err, errPayloadTooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	headers := webhook.HeadersFromRequest(r)
	if _, err := h.verifier.Verify(body, headers); err != nil {
		check, message := "invalid_signature", "error verifying webhook"
		if errors.Is(err, webhook.ErrMissingHeaders) {
			check, message = "missing_headers", "missing signing headers"
		}
		h.logger.Warn("webhook verification failed", "check", check, "delivery_id", headers.ID, "error", err)
		h.recorder.RecordWebhook(check)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": message, "check": check})
		return
	}

	ctx := r.Context()
	if h.alreadyProcessed(ctx, headers.ID) {
		h.logger.Info("duplicate webhook delivery", "delivery_id", headers.ID)
		h.recorder.RecordWebhook("duplicate")
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "duplicate": true})
		return
	}

	event, err := webhook.Normalize(body)
	if err != nil {
		var kindErr *webhook.UnsupportedEventKindError
		if errors.As(err, &kindErr) {
			h.logger.Info("ignoring unsupported webhook event", "type", kindErr.Kind, "delivery_id", headers.ID)
			h.markProcessed(ctx, headers.ID)
			h.recorder.RecordWebhook("ignored")
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "ignored": kindErr.Kind})
			return
		}
		h.logger.Warn("malformed webhook payload", "delivery_id", headers.ID, "error", err)
		h.recorder.RecordWebhook("parse_error")
		writeError(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}
	event.DeliveryID = headers.ID

	h.logger.Info("received webhook event", "type", event.Kind, "subject_id", event.SubjectID, "delivery_id", event.DeliveryID)

	start := time.Now()
	result, err := h.applier.Apply(ctx, event)
	outcome := string(result.Outcome)
	if err != nil {
		outcome = "error"
	}
	h.recorder.RecordReconcile(string(event.Kind), outcome, time.Since(start))

	switch {
	case errors.Is(err, identity.ErrRecordNotFound), errors.Is(err, identity.ErrMissingRequiredField):
		// Redelivery cannot change this outcome, so acknowledge it.
		h.logger.Warn("webhook event not applied", "type", event.Kind, "subject_id", event.SubjectID, "delivery_id", event.DeliveryID, "reason", err)
		h.markProcessed(ctx, headers.ID)
		h.recorder.RecordWebhook("not_applied")
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "applied": false, "reason": err.Error()})
		return
	case err != nil:
		h.logger.Error("error processing webhook", "type", event.Kind, "subject_id", event.SubjectID, "delivery_id", event.DeliveryID, "error", err)
		h.recorder.RecordWebhook("error")
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":     "error processing webhook",
			"eventType": string(event.Kind),
			"subjectId": event.SubjectID,
			"details":   err.Error(),
		})
		return
	}

	h.markProcessed(ctx, headers.ID)
	h.recorder.RecordWebhook("applied")
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "outcome": result.Outcome})
}

// alreadyProcessed fails open on lookup errors.
func (h *WebhookHandler) alreadyProcessed(ctx context.Context, deliveryID string) bool {
	if h.deliveries == nil {
		return false
	}
	seen, err := h.deliveries.Seen(ctx, deliveryID)
	if err != nil {
		h.logger.Warn("delivery log lookup failed", "delivery_id", deliveryID, "error", err)
		return false
	}
	return seen
}

func (h *WebhookHandler) markProcessed(ctx context.Context, deliveryID string) {
	if h.deliveries == nil {
		return
	}
	if err := h.deliveries.Mark(ctx, deliveryID); err != nil {
		h.logger.Warn("delivery log write failed", "delivery_id", deliveryID, "error", err)
	}
}
