package domain

import (
	"encoding/json"
	"time"
)

// Delivery statuses.
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Delivery is one tracked attempt-lifecycle record for sending a specific
// event instance to a specific subscription. The row is created pending and
// updated in place on every attempt; the payload never changes so that the
// signature computed over it stays valid across retries.
type Delivery struct {
	ID             string          `json:"id"`
	SubscriptionID string          `json:"subscription_id"`
	Event          string          `json:"event"`
	Payload        json.RawMessage `json:"payload"`
	Status         string          `json:"status"`
	Attempt        int             `json:"attempt"`
	ResponseCode   *int            `json:"response_code,omitempty"`
	ResponseBody   *string         `json:"response_body,omitempty"`
	Error          *string         `json:"error,omitempty"`
	DeliveredAt    *time.Time      `json:"delivered_at,omitempty"`
	NextRetryAt    *time.Time      `json:"next_retry_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Exhausted reports whether this delivery has permanently failed: no retry
// is scheduled and the record is terminal.
func (d *Delivery) Exhausted() bool {
	return d.Status == StatusFailed && d.NextRetryAt == nil
}

// DeliveryPatch is a partial update applied to an existing delivery row.
// Nil fields are left untouched; ClearNextRetryAt distinguishes "set
// next_retry_at to NULL" from "leave it alone".
type DeliveryPatch struct {
	Status           *string
	Attempt          *int
	ResponseCode     *int
	ResponseBody     *string
	Error            *string
	DeliveredAt      *time.Time
	NextRetryAt      *time.Time
	ClearNextRetryAt bool
}

// DueDelivery is a failed delivery claimed by the retry sweep, joined with
// the subscription config needed to re-attempt it.
type DueDelivery struct {
	Delivery     Delivery
	Subscription Subscription
}
