package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/mihaimyh/paysync/pkg/billing"
	"github.com/mihaimyh/paysync/pkg/billing/internal"
	"github.com/mihaimyh/paysync/pkg/payment"
)

const (
	eventCheckoutCompleted     = "checkout.session.completed"
	eventSubscriptionDeleted   = "customer.subscription.deleted"
	metadataUserID             = "userId"
	metadataUserIDSnake        = "user_id"
	metadataSubscription       = "subscription"
	metadataTier               = "tier"
	metadataPaymentToken       = "paymentToken"
	stripeSignatureHeader      = "Stripe-Signature"
	unsignedWebhookWarning     = "STRIPE WEBHOOK SIGNATURE VERIFICATION DISABLED: no webhook secret configured, accepting unsigned events"
	errorTypeInvalidPayload    = "invalid_payload"
	errorTypePayloadTooLarge   = "payload_too_large"
	errorTypeAuthFailed        = "auth_failed"
	errorTypeUnresolvableEvent = "unresolvable_event"
)

// handleWebhook processes incoming Stripe webhook events.
// Once the body is read and the signature checked the response is always
// 200 {"received":true}; processing failures are logged and counted.
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	internal.SetSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Read and validate body (with size limit protection)
	body, err := internal.ReadBodyStrict(w, r, internal.MaxWebhookBody)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			p.metrics.RecordWebhookError(providerName, errorTypePayloadTooLarge)
		} else {
			http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
			p.metrics.RecordWebhookError(providerName, errorTypeInvalidPayload)
		}
		return
	}

	event, err := p.constructEvent(body, r.Header.Get(stripeSignatureHeader))
	if err != nil {
		if errors.Is(err, billing.ErrInvalidWebhookSignature) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			p.metrics.RecordWebhookError(providerName, errorTypeAuthFailed)
		} else {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			p.metrics.RecordWebhookError(providerName, errorTypeInvalidPayload)
		}
		return
	}

	eventType := string(event.Type)
	if eventType == "" {
		eventType = "UNKNOWN"
	}

	if err := p.processWebhookEvent(r.Context(), &event); err != nil {
		p.logger.Error("stripe webhook not applied",
			payment.F("event_id", event.ID), payment.F("event_type", eventType), payment.F("error", err.Error()))
	}
	p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))

	_ = internal.Ack(w) //nolint:errcheck // Client went away; nothing to do
}

// constructEvent verifies the signature, or parses unsigned events when no
// secret is configured.
func (p *Provider) constructEvent(body []byte, signature string) (stripe.Event, error) {
	if p.webhookSecret == "" {
		p.logger.Warn(unsignedWebhookWarning)
		var event stripe.Event
		if err := json.Unmarshal(body, &event); err != nil {
			return stripe.Event{}, fmt.Errorf("%w: %v", billing.ErrInvalidWebhookPayload, err)
		}
		return event, nil
	}

	// Only metadata and client_reference_id are read, so events rendered for
	// another API version are still accepted.
	event, err := webhook.ConstructEventWithOptions(body, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		p.logger.Warn("stripe webhook signature rejected", payment.F("error", err.Error()))
		return stripe.Event{}, fmt.Errorf("%w: %v", billing.ErrInvalidWebhookSignature, err)
	}
	return event, nil
}

// processWebhookEvent reduces a Stripe event to a subscription change and applies it.
func (p *Provider) processWebhookEvent(ctx context.Context, event *stripe.Event) error {
	var (
		ev  *billing.WebhookEvent
		err error
	)
	switch event.Type {
	case eventCheckoutCompleted:
		ev, err = checkoutSessionEvent(event)
	case eventSubscriptionDeleted:
		ev, err = subscriptionDeletedEvent(event)
	default:
		// Unknown event type - ignore silently
		p.metrics.RecordWebhookEvent(providerName, string(event.Type), "ignored")
		return nil
	}
	if err != nil {
		p.metrics.RecordWebhookError(providerName, errorTypeUnresolvableEvent)
		return err
	}

	ev.EventID = event.ID
	ev.EventType = string(event.Type)
	if event.Created > 0 {
		ev.EventTimestamp = time.Unix(event.Created, 0).UTC()
	}
	return p.reconciler.Apply(ctx, *ev)
}

// checkoutSessionEvent handles checkout.session.completed.
func checkoutSessionEvent(event *stripe.Event) (*billing.WebhookEvent, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal checkout session: %v", billing.ErrInvalidWebhookPayload, err)
	}

	userID := firstNonEmpty(session.Metadata[metadataUserID], session.Metadata[metadataUserIDSnake], session.ClientReferenceID)
	if userID == "" {
		return nil, fmt.Errorf("%w: checkout session %s", billing.ErrMissingUserID, session.ID)
	}
	tier, err := payment.ParseTier(firstNonEmpty(session.Metadata[metadataSubscription], session.Metadata[metadataTier]))
	if err != nil {
		return nil, fmt.Errorf("checkout session %s: %w", session.ID, err)
	}

	return &billing.WebhookEvent{
		UserID:   userID,
		Tier:     tier,
		Metadata: session.Metadata,
	}, nil
}

// subscriptionDeletedEvent handles customer.subscription.deleted by
// returning the user to the free tier.
func subscriptionDeletedEvent(event *stripe.Event) (*billing.WebhookEvent, error) {
	var subscription stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &subscription); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal subscription: %v", billing.ErrInvalidWebhookPayload, err)
	}

	userID := firstNonEmpty(subscription.Metadata[metadataUserID], subscription.Metadata[metadataUserIDSnake])
	if userID == "" {
		return nil, fmt.Errorf("%w: subscription %s", billing.ErrMissingUserID, subscription.ID)
	}

	return &billing.WebhookEvent{
		UserID:   userID,
		Tier:     payment.TierFree,
		Metadata: subscription.Metadata,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
