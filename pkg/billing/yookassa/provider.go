// Package yookassa reconciles YooKassa-style payment notifications into
// subscription changes.
package yookassa

import (
	"net/http"
	"strings"

	"github.com/mihaimyh/paysync/pkg/billing"
	"github.com/mihaimyh/paysync/pkg/billing/internal"
	"github.com/mihaimyh/paysync/pkg/payment"
)

const providerName = "yookassa"

// Provider implements the billing.Provider interface for YooKassa notifications
type Provider struct {
	reconciler    *billing.Reconciler
	rateLimiter   *internal.RateLimiter
	webhookSecret string
	logger        payment.Logger
	metrics       billing.Metrics
}

// NewProvider creates a new YooKassa provider. An empty WebhookSecret puts
// the handler in unsigned test mode.
func NewProvider(config billing.Config) (*Provider, error) {
	reconciler, err := billing.NewReconciler(providerName, config)
	if err != nil {
		return nil, err
	}
	return &Provider{
		reconciler:    reconciler,
		rateLimiter:   internal.NewRateLimiter(config.RateLimit, config.RateBurst),
		webhookSecret: strings.TrimSpace(config.WebhookSecret),
		logger:        reconciler.Logger(),
		metrics:       reconciler.Metrics(),
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for YooKassa notifications
func (p *Provider) WebhookHandler() http.Handler {
	return p.rateLimiter.Middleware(http.HandlerFunc(p.handleWebhook))
}

var _ billing.Provider = (*Provider)(nil)
