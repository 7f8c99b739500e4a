package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/brightsales/webhook-service/internal/domain"
	"github.com/google/uuid"
)

// SubscriptionSource resolves the active subscriptions interested in an
// event. Backed by the subscription registry in the persistence layer.
type SubscriptionSource interface {
	FindActiveSubscriptionsFor(ctx context.Context, event string) ([]domain.Subscription, error)
}

// Dispatcher is the public entry point of the delivery engine: given an
// event name and payload it fans out one delivery per matching subscription.
//
// Dispatch never returns an error. Webhook delivery is best-effort side
// work; the business action that raised the event must succeed regardless
// of delivery outcome, so every failure is swallowed into the ledger and
// the log. Callers on a latency-sensitive path run Dispatch in a goroutine.
type Dispatcher struct {
	subs      SubscriptionSource
	ledger    Ledger
	deliverer *Deliverer
	logger    *slog.Logger
}

func NewDispatcher(subs SubscriptionSource, ledger Ledger, deliverer *Deliverer, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		subs:      subs,
		ledger:    ledger,
		deliverer: deliverer,
		logger:    logger,
	}
}

// Dispatch resolves subscriptions for event and delivers to each of them
// concurrently. It returns once every attempt has been classified and
// recorded. One subscription's failure never blocks or aborts the others.
func (d *Dispatcher) Dispatch(ctx context.Context, event string, data json.RawMessage) {
	subs, err := d.subs.FindActiveSubscriptionsFor(ctx, event)
	if err != nil {
		d.logger.Error("failed to resolve subscriptions", "error", err, "event", event)
		return
	}

	if len(subs) == 0 {
		d.logger.Debug("no matching subscriptions", "event", event)
		return
	}

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub domain.Subscription) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					d.logger.Error("panic during delivery",
						"panic", r,
						"subscription_id", sub.ID,
						"event", event,
					)
				}
			}()
			d.deliverTo(ctx, sub, event, data)
		}(sub)
	}
	wg.Wait()

	d.logger.Info("dispatch complete", "event", event, "subscriptions", len(subs))
}

// deliverTo creates the pending ledger record for one subscription and runs
// the initial attempt. The delivery ID is generated before the envelope is
// serialized because the payload embeds its own metadata.
func (d *Dispatcher) deliverTo(ctx context.Context, sub domain.Subscription, event string, data json.RawMessage) {
	deliveryID := uuid.NewString()
	now := time.Now().UTC()

	payload, err := json.Marshal(domain.Envelope{
		Event:     event,
		Timestamp: now,
		Data:      data,
		Metadata: domain.EnvelopeMetadata{
			WebhookID:  sub.ID,
			DeliveryID: deliveryID,
		},
	})
	if err != nil {
		d.logger.Error("failed to serialize envelope", "error", err, "subscription_id", sub.ID)
		return
	}

	del := domain.Delivery{
		ID:             deliveryID,
		SubscriptionID: sub.ID,
		Event:          event,
		Payload:        payload,
		Status:         domain.StatusPending,
		Attempt:        1,
		CreatedAt:      now,
	}

	if err := d.ledger.CreateDelivery(ctx, del); err != nil {
		d.logger.Error("failed to create delivery record",
			"error", err,
			"subscription_id", sub.ID,
			"event", event,
		)
		return
	}

	d.deliverer.Attempt(ctx, sub, del, 1)
}
