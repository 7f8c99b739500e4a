package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/brightsales/webhook-service/internal/engine"
	"github.com/brightsales/webhook-service/internal/store"
	"github.com/go-chi/chi/v5"
)

type DeliveryHandler struct {
	store     *store.PostgresStore
	deliverer *engine.Deliverer
	logger    *slog.Logger
}

func NewDeliveryHandler(s *store.PostgresStore, d *engine.Deliverer, logger *slog.Logger) *DeliveryHandler {
	return &DeliveryHandler{store: s, deliverer: d, logger: logger}
}

func (h *DeliveryHandler) List(w http.ResponseWriter, r *http.Request) {
	subscriptionID := r.URL.Query().Get("subscription_id")
	event := r.URL.Query().Get("event")
	status := r.URL.Query().Get("status")
	limitStr := r.URL.Query().Get("limit")

	limit := 50
	if limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
			limit = n
		}
	}

	deliveries, err := h.store.ListDeliveries(r.Context(), subscriptionID, event, status, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list deliveries")
		return
	}

	respondJSON(w, http.StatusOK, deliveries)
}

func (h *DeliveryHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	delivery, err := h.store.GetDelivery(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get delivery")
		return
	}
	if delivery == nil {
		respondError(w, http.StatusNotFound, "delivery not found")
		return
	}

	respondJSON(w, http.StatusOK, delivery)
}

// Redeliver re-attempts a delivery on operator request, resending the
// stored payload. Works on exhausted deliveries too — a manual retry is an
// explicit override of the backoff policy.
func (h *DeliveryHandler) Redeliver(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	delivery, err := h.store.GetDelivery(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get delivery")
		return
	}
	if delivery == nil {
		respondError(w, http.StatusNotFound, "delivery not found")
		return
	}

	sub, err := h.store.GetSubscription(r.Context(), delivery.SubscriptionID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get subscription")
		return
	}
	if sub == nil {
		respondError(w, http.StatusConflict, "owning subscription no longer exists")
		return
	}

	h.logger.Info("manual redelivery requested",
		"delivery_id", delivery.ID,
		"subscription_id", sub.ID,
	)

	go h.deliverer.Attempt(context.WithoutCancel(r.Context()), *sub, *delivery, delivery.Attempt+1)

	respondJSON(w, http.StatusAccepted, map[string]string{"status": "redelivery started"})
}
