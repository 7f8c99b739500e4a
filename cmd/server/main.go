package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brightsales/webhook-service/internal/api"
	"github.com/brightsales/webhook-service/internal/config"
	"github.com/brightsales/webhook-service/internal/engine"
	"github.com/brightsales/webhook-service/internal/store"
	ws "github.com/brightsales/webhook-service/internal/websocket"
	"github.com/brightsales/webhook-service/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize PostgreSQL
	ctx := context.Background()
	pgStore, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()
	logger.Info("connected to PostgreSQL")

	// Run database migrations
	if err := pgStore.RunMigrations(ctx, "migrations"); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations applied")

	// Initialize Redis (circuit breaker + rate limiter state)
	redisStore, err := store.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisStore.Close()
	logger.Info("connected to Redis")

	// Live delivery feed for the dashboard
	hub := ws.NewHub(logger)
	go hub.Run()

	// Delivery engine
	transport := engine.NewTransport()
	cb := engine.NewCircuitBreaker(redisStore.Client(), logger)
	rl := engine.NewRateLimiter(redisStore.Client(), logger)
	deliverer := engine.NewDeliverer(transport, pgStore, cb, rl, hub, logger)
	dispatcher := engine.NewDispatcher(pgStore, pgStore, deliverer, logger)

	// Retry sweep
	sweepCtx, stopSweep := context.WithCancel(ctx)
	sweeper := worker.NewSweeper(pgStore, deliverer, cfg.NumWorkers, cfg.SweepInterval, cfg.SweepBatchSize, logger)
	go sweeper.Start(sweepCtx)

	// Setup router
	router := api.NewRouter(pgStore, dispatcher, deliverer, transport, cb, hub, cfg, logger)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server starting", "port", cfg.Port, "environment", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	stopSweep()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
