package billing

import (
	"context"

	"github.com/mihaimyh/paysync/pkg/payment"
)

// Config defines the standard configuration all providers should accept
type Config struct {
	// Updater applies the reconciled subscription tier (typically *payment.Updater)
	Updater payment.SubscriptionSetter

	// WebhookSecret is used to verify incoming webhook requests.
	// Empty means unsigned test mode: requests are accepted and a warning is logged.
	WebhookSecret string

	// APIKey is used for outbound API calls to the payment gateway.
	APIKey string

	// RateLimit caps webhook requests per client IP per second (default: 10)
	RateLimit float64

	// RateBurst is the per-IP burst allowance (default: 100)
	RateBurst int

	// OnEvent is called after a webhook event has been applied successfully.
	OnEvent func(ctx context.Context, event WebhookEvent)

	// Logger is optional; defaults to payment.NoopLogger
	Logger payment.Logger

	// Metrics is an optional metrics collector for tracking provider operations.
	// If nil, metrics will be silently ignored (no-op).
	// Use billing/metrics/prometheus.NewMetrics(reg, namespace) for Prometheus metrics.
	Metrics Metrics
}
