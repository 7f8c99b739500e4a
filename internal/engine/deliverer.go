package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brightsales/webhook-service/internal/domain"
	ws "github.com/brightsales/webhook-service/internal/websocket"
)

// UserAgent identifies outbound webhook requests.
const UserAgent = "BrightSales-Webhook/1.0"

// Outbound request headers.
const (
	HeaderEvent     = "X-Webhook-Event"
	HeaderDelivery  = "X-Webhook-Delivery"
	HeaderSignature = "X-Webhook-Signature-256"
)

// Ledger is the slice of the persistence layer the delivery path needs:
// create a pending record, then update it in place with each outcome.
type Ledger interface {
	CreateDelivery(ctx context.Context, d domain.Delivery) error
	UpdateDelivery(ctx context.Context, id string, patch domain.DeliveryPatch) error
}

// BuildHeaders assembles the outbound header set for one delivery attempt.
// Custom subscription headers are merged last but cannot clobber the
// reserved headers (Content-Type, signature, event, delivery id). The
// signature header is omitted entirely when the subscription has no secret.
func BuildHeaders(sub domain.Subscription, event, deliveryID string, payload []byte) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("User-Agent", UserAgent)
	h.Set(HeaderEvent, event)
	h.Set(HeaderDelivery, deliveryID)

	if sub.Signed() {
		h.Set(HeaderSignature, Sign(payload, sub.Secret))
	}

	reserved := map[string]struct{}{
		"Content-Type":  {},
		HeaderEvent:     {},
		HeaderDelivery:  {},
		HeaderSignature: {},
	}

	for name, value := range sub.CustomHeaders {
		if _, ok := reserved[http.CanonicalHeaderKey(name)]; ok {
			continue
		}
		h.Set(name, value)
	}

	return h
}

// Deliverer runs one delivery attempt end to end: rate limit and circuit
// checks, the HTTP POST, outcome classification, the ledger write, and the
// dashboard broadcast. The same path serves first attempts and sweep
// retries; only the attempt number differs.
type Deliverer struct {
	transport *Transport
	ledger    Ledger
	breaker   *CircuitBreaker
	limiter   *RateLimiter
	hub       *ws.Hub
	logger    *slog.Logger
}

// NewDeliverer creates a deliverer. breaker, limiter and hub may be nil;
// the corresponding steps are then skipped.
func NewDeliverer(transport *Transport, ledger Ledger, breaker *CircuitBreaker, limiter *RateLimiter, hub *ws.Hub, logger *slog.Logger) *Deliverer {
	return &Deliverer{
		transport: transport,
		ledger:    ledger,
		breaker:   breaker,
		limiter:   limiter,
		hub:       hub,
		logger:    logger,
	}
}

// Attempt sends the delivery's stored payload to the subscription endpoint
// and records the outcome. attemptNumber is 1 for the initial send and the
// incremented count for sweep retries. The stored payload is reused byte for
// byte, so a recomputed signature matches the one sent on the first attempt.
func (d *Deliverer) Attempt(ctx context.Context, sub domain.Subscription, del domain.Delivery, attemptNumber int) {
	headers := BuildHeaders(sub, del.Event, del.ID, del.Payload)

	if d.limiter != nil && !d.limiter.Allow(ctx, sub.ID, sub.RateLimitPerSecond) {
		d.recordFailure(ctx, sub, del, attemptNumber, nil, "", "rate limit exceeded")
		return
	}

	if d.breaker != nil {
		if _, allowed := d.breaker.AllowRequest(ctx, sub.ID); !allowed {
			d.recordFailure(ctx, sub, del, attemptNumber, nil, "", "circuit breaker open")
			return
		}
	}

	timeout := time.Duration(sub.TimeoutSeconds) * time.Second
	res, err := d.transport.Send(ctx, sub.URL, headers, del.Payload, timeout)
	if err != nil {
		if d.breaker != nil {
			d.breaker.RecordFailure(ctx, sub.ID)
		}
		d.recordFailure(ctx, sub, del, attemptNumber, nil, "", err.Error())
		return
	}

	if !res.OK() {
		if d.breaker != nil {
			d.breaker.RecordFailure(ctx, sub.ID)
		}
		body := Truncate(res.Body)
		errText := fmt.Sprintf("HTTP %d: %s", res.StatusCode, body)
		d.recordFailure(ctx, sub, del, attemptNumber, &res.StatusCode, body, errText)
		return
	}

	if d.breaker != nil {
		d.breaker.RecordSuccess(ctx, sub.ID)
	}
	d.recordSuccess(ctx, sub, del, attemptNumber, res.StatusCode, Truncate(res.Body))
}

func (d *Deliverer) recordSuccess(ctx context.Context, sub domain.Subscription, del domain.Delivery, attemptNumber, statusCode int, body string) {
	now := time.Now().UTC()
	status := domain.StatusSuccess

	patch := domain.DeliveryPatch{
		Status:           &status,
		ResponseCode:     &statusCode,
		DeliveredAt:      &now,
		ClearNextRetryAt: true,
	}
	if body != "" {
		patch.ResponseBody = &body
	}

	if err := d.ledger.UpdateDelivery(ctx, del.ID, patch); err != nil {
		d.logger.Error("failed to record delivery success",
			"error", err,
			"delivery_id", del.ID,
			"subscription_id", sub.ID,
		)
	}

	d.logger.Info("delivery successful",
		"delivery_id", del.ID,
		"subscription_id", sub.ID,
		"event", del.Event,
		"attempt", attemptNumber,
		"status_code", statusCode,
	)

	d.broadcast(ws.DeliveryEvent{
		Type:           "delivery.success",
		DeliveryID:     del.ID,
		SubscriptionID: sub.ID,
		Event:          del.Event,
		Attempt:        attemptNumber,
		StatusCode:     &statusCode,
		Timestamp:      now,
	})
}

func (d *Deliverer) recordFailure(ctx context.Context, sub domain.Subscription, del domain.Delivery, attemptNumber int, statusCode *int, body, errText string) {
	now := time.Now().UTC()
	status := domain.StatusFailed
	nextRetryAt := NextRetryAt(now, attemptNumber, sub.RetryCount)

	patch := domain.DeliveryPatch{
		Status:      &status,
		Attempt:     &attemptNumber,
		Error:       &errText,
		NextRetryAt: nextRetryAt,
	}
	if nextRetryAt == nil {
		patch.ClearNextRetryAt = true
	}
	if statusCode != nil {
		patch.ResponseCode = statusCode
	}
	if body != "" {
		patch.ResponseBody = &body
	}

	if err := d.ledger.UpdateDelivery(ctx, del.ID, patch); err != nil {
		d.logger.Error("failed to record delivery failure",
			"error", err,
			"delivery_id", del.ID,
			"subscription_id", sub.ID,
		)
	}

	eventType := "delivery.failed"
	if nextRetryAt == nil {
		eventType = "delivery.exhausted"
	}

	d.logger.Warn("delivery failed",
		"delivery_id", del.ID,
		"subscription_id", sub.ID,
		"event", del.Event,
		"attempt", attemptNumber,
		"error", errText,
		"retry_scheduled", nextRetryAt != nil,
	)

	d.broadcast(ws.DeliveryEvent{
		Type:           eventType,
		DeliveryID:     del.ID,
		SubscriptionID: sub.ID,
		Event:          del.Event,
		Attempt:        attemptNumber,
		StatusCode:     statusCode,
		Error:          errText,
		Timestamp:      now,
	})
}

func (d *Deliverer) broadcast(evt ws.DeliveryEvent) {
	if d.hub == nil {
		return
	}
	d.hub.Broadcast(evt)
}
