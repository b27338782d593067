package billing

import (
	"net/http"
)

// Provider is the generic interface that any payment gateway adapter must implement.
// Every adapter reconciles its notifications into the same subscription write.
type Provider interface {
	// Name returns the provider name (e.g., "stripe", "yookassa")
	Name() string

	// WebhookHandler returns the HTTP handler that processes real-time events.
	// The implementation handles validation, parsing, and subscription updates internally.
	WebhookHandler() http.Handler
}
