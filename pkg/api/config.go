package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mihaimyh/paysync/pkg/billing"
	"github.com/mihaimyh/paysync/pkg/payment"
)

// Config holds configuration for the payment API handler
type Config struct {
	// Service runs the payment intent lifecycle (required)
	Service *payment.Service

	// Updater backs the internal upgrade endpoint (required when InternalToken is set)
	Updater payment.SubscriptionSetter

	// GetUserID resolves the authenticated user. When set, create and verify
	// require a user and reject bodies naming someone else.
	// Similar to middleware/http pattern
	GetUserID func(*http.Request) string

	// InternalToken guards POST /internal/subscription/upgrade.
	// Empty disables the endpoint.
	InternalToken string

	// Providers are mounted at /api/webhooks/{name}
	Providers []billing.Provider

	// MetricsHandler is served at /metrics when set (typically promhttp)
	MetricsHandler http.Handler

	// HealthCheck is called by /healthz; nil means always healthy
	HealthCheck func(ctx context.Context) error

	// Logger is optional; defaults to payment.NoopLogger
	Logger payment.Logger
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Service == nil {
		return fmt.Errorf("service is required")
	}
	if c.InternalToken != "" && c.Updater == nil {
		return fmt.Errorf("updater is required when the internal token is set")
	}
	return nil
}

// NewHandler creates a new payment API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.Logger == nil {
		config.Logger = &payment.NoopLogger{}
	}
	return &Handler{
		config:   config,
		validate: newValidator(),
	}, nil
}

// Helper functions for common UserID extraction patterns

// FromHeader returns a GetUserID function that extracts user ID from a header
func FromHeader(headerName string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// FromContext returns a GetUserID function that extracts user ID from request context
// Uses the same context key pattern as middleware/http
func FromContext(key interface{}) func(*http.Request) string {
	return func(r *http.Request) string {
		if userID, ok := r.Context().Value(key).(string); ok {
			return userID
		}
		return ""
	}
}
