package domain

import (
	"slices"
	"time"
)

// Subscription is a registered external endpoint plus the set of event names
// it wants to receive. Read-only to the delivery engine.
type Subscription struct {
	ID                 string            `json:"id"`
	Name               string            `json:"name"`
	URL                string            `json:"url"`
	Events             []string          `json:"events"`
	Secret             string            `json:"secret,omitempty"`
	Active             bool              `json:"active"`
	RetryCount         int               `json:"retry_count"`
	TimeoutSeconds     int               `json:"timeout_seconds"`
	RateLimitPerSecond int               `json:"rate_limit_per_second"`
	CustomHeaders      map[string]string `json:"custom_headers,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// WantsEvent reports whether this subscription is subscribed to the event.
// An empty event set means "not subscribed to anything".
func (s *Subscription) WantsEvent(event string) bool {
	return slices.Contains(s.Events, event)
}

// Signed reports whether deliveries to this subscription carry a signature
// header. An absent secret means deliveries go out unsigned; there is no
// fallback to an empty-string secret.
func (s *Subscription) Signed() bool {
	return s.Secret != ""
}

type CreateSubscriptionRequest struct {
	Name               string            `json:"name" validate:"required"`
	URL                string            `json:"url" validate:"required,url"`
	Events             []string          `json:"events" validate:"required,min=1"`
	Secret             string            `json:"secret,omitempty"`
	RetryCount         int               `json:"retry_count,omitempty" validate:"omitempty,min=1,max=10"`
	TimeoutSeconds     int               `json:"timeout_seconds,omitempty" validate:"omitempty,min=1,max=60"`
	RateLimitPerSecond int               `json:"rate_limit_per_second,omitempty" validate:"omitempty,min=0"`
	CustomHeaders      map[string]string `json:"custom_headers,omitempty"`
}

type UpdateSubscriptionRequest struct {
	Name               *string            `json:"name,omitempty"`
	URL                *string            `json:"url,omitempty" validate:"omitempty,url"`
	Events             *[]string          `json:"events,omitempty" validate:"omitempty,min=1"`
	Secret             *string            `json:"secret,omitempty"`
	Active             *bool              `json:"active,omitempty"`
	RetryCount         *int               `json:"retry_count,omitempty" validate:"omitempty,min=1,max=10"`
	TimeoutSeconds     *int               `json:"timeout_seconds,omitempty" validate:"omitempty,min=1,max=60"`
	RateLimitPerSecond *int               `json:"rate_limit_per_second,omitempty" validate:"omitempty,min=0"`
	CustomHeaders      *map[string]string `json:"custom_headers,omitempty"`
}
