package stripe

import (
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/paysync/pkg/billing"
	"github.com/mihaimyh/paysync/pkg/billing/internal"
	"github.com/mihaimyh/paysync/pkg/payment"
)

const (
	providerName     = "stripe"
	defaultCurrency  = "usd"
	tokenPlaceholder = "{token}"
)

// Config extends billing.Config with Stripe-specific options
type Config struct {
	billing.Config // Base config (Updater, Logger, Metrics, etc.)

	// Stripe-specific
	StripeAPIKey        string
	StripeWebhookSecret string

	// PriceMapping maps tiers to recurring Stripe Price IDs.
	// Tiers without a price are sold as one-time payments of the intent amount.
	PriceMapping map[payment.Tier]string

	// Currency for one-time payments (default: "usd")
	Currency string

	// SuccessURL and CancelURL are Checkout redirect targets.
	// "{token}" is replaced with the payment token.
	SuccessURL string
	CancelURL  string
}

// Provider implements the billing.Provider interface for Stripe
type Provider struct {
	config        Config
	reconciler    *billing.Reconciler
	rateLimiter   *internal.RateLimiter
	webhookSecret string
	stripeClient  *stripe.Client
	logger        payment.Logger
	metrics       billing.Metrics
}

// NewProvider creates a new Stripe billing provider.
// Without StripeAPIKey the provider only handles webhooks.
func NewProvider(config Config) (*Provider, error) {
	if config.WebhookSecret == "" {
		config.WebhookSecret = config.StripeWebhookSecret
	}
	if config.StripeAPIKey == "" {
		config.StripeAPIKey = config.APIKey
	}
	reconciler, err := billing.NewReconciler(providerName, config.Config)
	if err != nil {
		return nil, err
	}

	if config.Currency == "" {
		config.Currency = defaultCurrency
	}

	// Create Stripe client (new API in v82+)
	var stripeClient *stripe.Client
	if apiKey := strings.TrimSpace(config.StripeAPIKey); apiKey != "" {
		stripeClient = stripe.NewClient(apiKey)
	}

	return &Provider{
		config:        config,
		reconciler:    reconciler,
		rateLimiter:   internal.NewRateLimiter(config.RateLimit, config.RateBurst),
		webhookSecret: strings.TrimSpace(config.WebhookSecret),
		stripeClient:  stripeClient,
		logger:        reconciler.Logger(),
		metrics:       reconciler.Metrics(),
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Stripe webhooks
func (p *Provider) WebhookHandler() http.Handler {
	handler := http.HandlerFunc(p.handleWebhook)
	// Wrap with rate limiting
	return p.rateLimiter.Middleware(handler)
}

var _ billing.Provider = (*Provider)(nil)
