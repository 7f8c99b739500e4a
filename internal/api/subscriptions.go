package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/brightsales/webhook-service/internal/config"
	"github.com/brightsales/webhook-service/internal/domain"
	"github.com/brightsales/webhook-service/internal/engine"
	"github.com/brightsales/webhook-service/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type SubscriptionHandler struct {
	store          *store.PostgresStore
	transport      *engine.Transport
	circuitBreaker *engine.CircuitBreaker
	cfg            *config.Config
	logger         *slog.Logger
}

func NewSubscriptionHandler(s *store.PostgresStore, t *engine.Transport, cb *engine.CircuitBreaker, cfg *config.Config, logger *slog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{store: s, transport: t, circuitBreaker: cb, cfg: cfg, logger: logger}
}

func checkEventNames(events []string) error {
	for _, e := range events {
		if !domain.IsKnownEvent(e) {
			return fmt.Errorf("unknown event %q", e)
		}
	}
	return nil
}

// validateEndpoint probes the endpoint with a webhook.test event. A failed
// probe blocks registration in production; in development it only logs.
func (h *SubscriptionHandler) validateEndpoint(r *http.Request, url, secret string) bool {
	if engine.ValidateEndpoint(r.Context(), h.transport, url, secret) {
		return true
	}
	if h.cfg.Production() {
		return false
	}
	h.logger.Warn("endpoint validation failed, allowed in development", "url", url)
	return true
}

func (h *SubscriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := checkEventNames(req.Events); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !h.validateEndpoint(r, req.URL, req.Secret) {
		respondError(w, http.StatusUnprocessableEntity, "endpoint validation failed")
		return
	}

	sub, err := h.store.CreateSubscription(r.Context(), req)
	if err != nil {
		h.logger.Error("failed to create subscription", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to create subscription")
		return
	}

	respondJSON(w, http.StatusCreated, sub)
}

func (h *SubscriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	subscriptions, err := h.store.ListSubscriptions(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list subscriptions")
		return
	}

	respondJSON(w, http.StatusOK, subscriptions)
}

func (h *SubscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sub, err := h.store.GetSubscription(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get subscription")
		return
	}
	if sub == nil {
		respondError(w, http.StatusNotFound, "subscription not found")
		return
	}

	respondJSON(w, http.StatusOK, sub)
}

func (h *SubscriptionHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req domain.UpdateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Events != nil {
		if err := checkEventNames(*req.Events); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	existing, err := h.store.GetSubscription(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get subscription")
		return
	}
	if existing == nil {
		respondError(w, http.StatusNotFound, "subscription not found")
		return
	}

	// Re-probe when the destination or signing secret changes.
	if req.URL != nil || req.Secret != nil {
		url := existing.URL
		if req.URL != nil {
			url = *req.URL
		}
		secret := existing.Secret
		if req.Secret != nil {
			secret = *req.Secret
		}
		if !h.validateEndpoint(r, url, secret) {
			respondError(w, http.StatusUnprocessableEntity, "endpoint validation failed")
			return
		}
	}

	sub, err := h.store.UpdateSubscription(r.Context(), id, req)
	if err != nil {
		h.logger.Error("failed to update subscription", "error", err, "subscription_id", id)
		respondError(w, http.StatusInternalServerError, "failed to update subscription")
		return
	}
	if sub == nil {
		respondError(w, http.StatusNotFound, "subscription not found")
		return
	}

	respondJSON(w, http.StatusOK, sub)
}

// Delete removes a subscription and, via the schema's cascade, its delivery
// history.
func (h *SubscriptionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	deleted, err := h.store.DeleteSubscription(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to delete subscription")
		return
	}
	if !deleted {
		respondError(w, http.StatusNotFound, "subscription not found")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Test re-runs the validation probe against the registered endpoint.
func (h *SubscriptionHandler) Test(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sub, err := h.store.GetSubscription(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get subscription")
		return
	}
	if sub == nil {
		respondError(w, http.StatusNotFound, "subscription not found")
		return
	}

	ok := engine.ValidateEndpoint(r.Context(), h.transport, sub.URL, sub.Secret)

	respondJSON(w, http.StatusOK, map[string]bool{"ok": ok})
}

func (h *SubscriptionHandler) Health(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sub, err := h.store.GetSubscription(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get subscription")
		return
	}
	if sub == nil {
		respondError(w, http.StatusNotFound, "subscription not found")
		return
	}

	cbState := h.circuitBreaker.GetState(r.Context(), id)

	type healthResponse struct {
		SubscriptionID string                     `json:"subscription_id"`
		Name           string                     `json:"name"`
		URL            string                     `json:"url"`
		Active         bool                       `json:"active"`
		CircuitBreaker engine.CircuitBreakerState `json:"circuit_breaker"`
	}

	respondJSON(w, http.StatusOK, healthResponse{
		SubscriptionID: sub.ID,
		Name:           sub.Name,
		URL:            sub.URL,
		Active:         sub.Active,
		CircuitBreaker: cbState,
	})
}
