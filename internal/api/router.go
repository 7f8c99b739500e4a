package api

import (
	"log/slog"
	"net/http"

	"github.com/brightsales/webhook-service/internal/config"
	"github.com/brightsales/webhook-service/internal/engine"
	"github.com/brightsales/webhook-service/internal/store"
	ws "github.com/brightsales/webhook-service/internal/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(
	pgStore *store.PostgresStore,
	dispatcher *engine.Dispatcher,
	deliverer *engine.Deliverer,
	transport *engine.Transport,
	cb *engine.CircuitBreaker,
	hub *ws.Hub,
	cfg *config.Config,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// CORS for dashboard
	r.Use(corsMiddleware)

	// Handlers
	subHandler := NewSubscriptionHandler(pgStore, transport, cb, cfg, logger)
	eventHandler := NewEventHandler(dispatcher)
	deliveryHandler := NewDeliveryHandler(pgStore, deliverer, logger)
	dashHandler := NewDashboardHandler(pgStore, cb, hub)

	// WebSocket endpoint
	r.Get("/ws", hub.HandleWebSocket)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", HealthHandler())

		r.Route("/subscriptions", func(r chi.Router) {
			r.Post("/", subHandler.Create)
			r.Get("/", subHandler.List)
			r.Get("/{id}", subHandler.Get)
			r.Patch("/{id}", subHandler.Update)
			r.Delete("/{id}", subHandler.Delete)
			r.Post("/{id}/test", subHandler.Test)
			r.Get("/{id}/health", subHandler.Health)
		})

		r.Post("/events", eventHandler.Create)

		r.Route("/deliveries", func(r chi.Router) {
			r.Get("/", deliveryHandler.List)
			r.Get("/{id}", deliveryHandler.Get)
			r.Post("/{id}/redeliver", deliveryHandler.Redeliver)
		})

		r.Get("/metrics", dashHandler.Metrics)
		r.Get("/subscriptions-health", dashHandler.SubscriptionHealth)
	})

	return r
}

// corsMiddleware adds CORS headers for dashboard development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
