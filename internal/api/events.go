package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/brightsales/webhook-service/internal/engine"
)

type EventHandler struct {
	dispatcher *engine.Dispatcher
}

func NewEventHandler(d *engine.Dispatcher) *EventHandler {
	return &EventHandler{dispatcher: d}
}

type createEventRequest struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Create accepts a domain event and dispatches it to matching subscriptions
// in the background. Delivery is best-effort side work: the response never
// depends on delivery outcomes, so the producer's action always succeeds.
func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Event == "" {
		respondError(w, http.StatusBadRequest, "event is required")
		return
	}
	if len(req.Data) == 0 {
		req.Data = json.RawMessage(`{}`)
	}
	if !json.Valid(req.Data) {
		respondError(w, http.StatusBadRequest, "data must be valid JSON")
		return
	}

	go h.dispatcher.Dispatch(context.WithoutCancel(r.Context()), req.Event, req.Data)

	respondJSON(w, http.StatusAccepted, map[string]string{
		"event":  req.Event,
		"status": "accepted",
	})
}
