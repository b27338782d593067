package billing

import (
	"time"

	"github.com/mihaimyh/paysync/pkg/payment"
)

// WebhookEvent is a provider notification reduced to the subscription change it implies.
type WebhookEvent struct {
	// EventID is the provider's event or payment identifier
	EventID string

	// Provider is the billing provider name ("stripe", "yookassa")
	Provider string

	// EventType is the provider-specific event type
	// Stripe: "checkout.session.completed", "customer.subscription.deleted"
	// YooKassa: "payment.succeeded"
	EventType string

	// EventTimestamp is when the event occurred (from provider, zero if unknown)
	EventTimestamp time.Time

	// UserID is the internal user identifier
	UserID string

	// Tier is the subscription tier to apply
	Tier payment.Tier

	// Metadata contains provider-specific additional data
	Metadata map[string]string
}
