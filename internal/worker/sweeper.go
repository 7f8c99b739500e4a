package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/brightsales/webhook-service/internal/domain"
	"github.com/brightsales/webhook-service/internal/engine"
)

// RetryStore is the slice of the persistence layer the sweep needs: claim
// due rows atomically and write outcomes back.
type RetryStore interface {
	ClaimDueRetries(ctx context.Context, limit int) ([]domain.DueDelivery, error)
	UpdateDelivery(ctx context.Context, id string, patch domain.DeliveryPatch) error
}

// Sweeper periodically re-scans the ledger for failed deliveries whose
// retry time has come and re-attempts them with the original stored payload.
// Runs independently of the dispatch path; overlapping sweeps are safe
// because row claims are atomic.
type Sweeper struct {
	store     RetryStore
	deliverer *engine.Deliverer
	pool      *Pool
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

func NewSweeper(store RetryStore, deliverer *engine.Deliverer, numWorkers int, interval time.Duration, batchSize int, logger *slog.Logger) *Sweeper {
	s := &Sweeper{
		store:     store,
		deliverer: deliverer,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
	}
	s.pool = NewPool(numWorkers, s.process, logger)
	return s
}

// Start begins the sweep loop. It runs until the context is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	s.pool.Start(ctx)
	s.logger.Info("retry sweeper started", "interval", s.interval, "batch_size", s.batchSize)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retry sweeper stopping")
			s.pool.Stop()
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep claims one batch of due retries and hands them to the pool. Exposed
// for manual invocation; the batch size bounds per-sweep load.
func (s *Sweeper) Sweep(ctx context.Context) {
	due, err := s.store.ClaimDueRetries(ctx, s.batchSize)
	if err != nil {
		s.logger.Error("failed to claim due retries", "error", err)
		return
	}

	if len(due) == 0 {
		return
	}

	s.logger.Info("claimed due retries", "count", len(due))

	for _, job := range due {
		s.pool.Submit(job)
	}
}

// process re-attempts one claimed delivery. A row whose attempts are already
// exhausted is finalized without touching the endpoint; otherwise the stored
// payload is resent byte-identical and the outcome recorded under the
// incremented attempt number.
func (s *Sweeper) process(ctx context.Context, job domain.DueDelivery) {
	del := job.Delivery
	sub := job.Subscription

	if del.Attempt >= sub.RetryCount {
		status := domain.StatusFailed
		patch := domain.DeliveryPatch{
			Status:           &status,
			ClearNextRetryAt: true,
		}
		if err := s.store.UpdateDelivery(ctx, del.ID, patch); err != nil {
			s.logger.Error("failed to finalize exhausted delivery", "error", err, "delivery_id", del.ID)
			return
		}
		s.logger.Warn("delivery permanently failed",
			"delivery_id", del.ID,
			"subscription_id", sub.ID,
			"attempts", del.Attempt,
		)
		return
	}

	s.deliverer.Attempt(ctx, sub, del, del.Attempt+1)
}
