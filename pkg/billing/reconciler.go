package billing

import (
	"context"
	"time"

	"github.com/mihaimyh/paysync/pkg/payment"
)

// Reconciler applies webhook events through the subscription updater.
// Providers share it so every gateway converges on the same idempotent write.
type Reconciler struct {
	provider string
	updater  payment.SubscriptionSetter
	onEvent  func(context.Context, WebhookEvent)
	logger   payment.Logger
	metrics  Metrics
}

// NewReconciler builds a reconciler for provider from the shared config.
func NewReconciler(provider string, config Config) (*Reconciler, error) {
	if config.Updater == nil {
		return nil, ErrProviderNotConfigured
	}
	logger := config.Logger
	if logger == nil {
		logger = &payment.NoopLogger{}
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = &NoopMetrics{}
	}
	return &Reconciler{
		provider: provider,
		updater:  config.Updater,
		onEvent:  config.OnEvent,
		logger:   logger,
		metrics:  metrics,
	}, nil
}

// Apply sets event.Tier for event.UserID. Duplicate deliveries are harmless
// because the underlying write is idempotent.
func (r *Reconciler) Apply(ctx context.Context, event WebhookEvent) error {
	start := time.Now()
	event.Provider = r.provider

	if event.UserID == "" {
		r.metrics.RecordWebhookError(r.provider, "missing_user")
		return ErrMissingUserID
	}
	if !event.Tier.Valid() {
		r.metrics.RecordWebhookError(r.provider, "invalid_tier")
		return payment.ErrInvalidTier
	}

	if err := r.updater.Set(ctx, event.UserID, event.Tier); err != nil {
		r.logger.Error("webhook subscription update failed",
			payment.F("provider", r.provider), payment.F("event_id", event.EventID),
			payment.F("event_type", event.EventType), payment.F("user_id", event.UserID),
			payment.F("tier", event.Tier), payment.F("error", err.Error()))
		r.metrics.RecordWebhookEvent(r.provider, event.EventType, "error")
		r.metrics.RecordWebhookError(r.provider, "processing_error")
		r.metrics.RecordWebhookProcessingDuration(r.provider, event.EventType, time.Since(start))
		return err
	}

	r.logger.Info("webhook subscription applied",
		payment.F("provider", r.provider), payment.F("event_id", event.EventID),
		payment.F("event_type", event.EventType), payment.F("user_id", event.UserID),
		payment.F("tier", event.Tier))
	r.metrics.RecordWebhookEvent(r.provider, event.EventType, "success")
	r.metrics.RecordTierChange(r.provider, event.Tier.String())
	r.metrics.RecordWebhookProcessingDuration(r.provider, event.EventType, time.Since(start))

	if r.onEvent != nil {
		r.onEvent(ctx, event)
	}
	return nil
}

// Logger returns the reconciler's logger for adapter-level messages.
func (r *Reconciler) Logger() payment.Logger { return r.logger }

// Metrics returns the reconciler's metrics collector.
func (r *Reconciler) Metrics() Metrics { return r.metrics }
