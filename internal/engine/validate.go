package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/brightsales/webhook-service/internal/domain"
	"github.com/google/uuid"
)

const validateTimeout = 10 * time.Second

// ValidateEndpoint sends one synthetic webhook.test event through the same
// transport and signature path used for real deliveries and reports whether
// the endpoint answered 2xx. Run at registration time, never on the dispatch
// hot path; nothing is recorded in the ledger.
func ValidateEndpoint(ctx context.Context, t *Transport, url, secret string) bool {
	deliveryID := uuid.NewString()

	payload, err := json.Marshal(domain.Envelope{
		Event:     domain.EventEndpointTest,
		Timestamp: time.Now().UTC(),
		Data:      json.RawMessage(`{"message":"endpoint validation"}`),
		Metadata: domain.EnvelopeMetadata{
			DeliveryID: deliveryID,
		},
	})
	if err != nil {
		return false
	}

	sub := domain.Subscription{Secret: secret}
	headers := BuildHeaders(sub, domain.EventEndpointTest, deliveryID, payload)

	res, err := t.Send(ctx, url, headers, payload, validateTimeout)
	if err != nil {
		return false
	}
	return res.OK()
}
