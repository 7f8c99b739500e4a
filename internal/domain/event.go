package domain

import (
	"encoding/json"
	"slices"
	"time"
)

// Event names produced by the CRM. The engine itself only does string
// matching; this list backs registration-time validation.
const (
	EventOpportunityCreated      = "opportunity.created"
	EventOpportunityUpdated      = "opportunity.updated"
	EventOpportunityStageChanged = "opportunity.stage_changed"
	EventOpportunityWon          = "opportunity.won"
	EventOpportunityLost         = "opportunity.lost"
	EventOpportunityDeleted      = "opportunity.deleted"

	// EventEndpointTest is the synthetic event sent when validating an
	// endpoint at registration time.
	EventEndpointTest = "webhook.test"
)

// KnownEvents lists the event names a subscription may register for.
var KnownEvents = []string{
	EventOpportunityCreated,
	EventOpportunityUpdated,
	EventOpportunityStageChanged,
	EventOpportunityWon,
	EventOpportunityLost,
	EventOpportunityDeleted,
}

// IsKnownEvent reports whether name is a registrable event name.
func IsKnownEvent(name string) bool {
	return slices.Contains(KnownEvents, name)
}

// Envelope is the JSON body POSTed to subscriber endpoints. The delivery ID
// is generated before the envelope is serialized, so the payload carries its
// own metadata.
type Envelope struct {
	Event     string           `json:"event"`
	Timestamp time.Time        `json:"timestamp"`
	Data      json.RawMessage  `json:"data"`
	Metadata  EnvelopeMetadata `json:"metadata"`
}

type EnvelopeMetadata struct {
	WebhookID  string `json:"webhookId"`
	DeliveryID string `json:"deliveryId"`
}
