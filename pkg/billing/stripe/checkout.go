package stripe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/paysync/pkg/billing"
	"github.com/mihaimyh/paysync/pkg/payment"
)

const checkoutEndpoint = "/checkout/sessions"

// CheckoutURL creates a Stripe Checkout Session for a sealed payment intent
// and returns its URL. The session carries the user, tier and token in
// metadata so checkout.session.completed can be reconciled without a lookup.
//
// Free-tier intents need no checkout and return an empty URL.
func (p *Provider) CheckoutURL(ctx context.Context, intent payment.IntentPayload, token string) (string, error) {
	if intent.Tier == payment.TierFree {
		return "", nil
	}
	if p.stripeClient == nil || p.config.SuccessURL == "" || p.config.CancelURL == "" {
		return "", billing.ErrProviderNotConfigured
	}

	startTime := time.Now()
	params := p.checkoutParams(intent, token)
	if params == nil {
		p.metrics.RecordAPICall(providerName, checkoutEndpoint, "tier_not_found")
		return "", fmt.Errorf("%w: %s", billing.ErrTierNotConfigured, intent.Tier)
	}

	session, err := p.stripeClient.V1CheckoutSessions.Create(ctx, params)
	p.metrics.RecordAPICallDuration(providerName, checkoutEndpoint, time.Since(startTime))
	if err != nil {
		p.metrics.RecordAPICall(providerName, checkoutEndpoint, "error")
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}

	p.metrics.RecordAPICall(providerName, checkoutEndpoint, "success")
	return session.URL, nil
}

// checkoutParams builds the session request. Tiers with a configured price
// become subscriptions; the rest are one-time payments of the intent amount.
// It returns nil when neither is possible.
func (p *Provider) checkoutParams(intent payment.IntentPayload, token string) *stripe.CheckoutSessionCreateParams {
	metadata := map[string]string{
		metadataUserID:       intent.UserID,
		metadataSubscription: intent.Tier.String(),
		metadataPaymentToken: token,
	}

	params := &stripe.CheckoutSessionCreateParams{
		ClientReferenceID: stripe.String(intent.UserID),
		SuccessURL:        stripe.String(strings.ReplaceAll(p.config.SuccessURL, tokenPlaceholder, token)),
		CancelURL:         stripe.String(strings.ReplaceAll(p.config.CancelURL, tokenPlaceholder, token)),
		Metadata:          metadata,
	}

	if priceID := p.config.PriceMapping[intent.Tier]; priceID != "" {
		params.Mode = stripe.String(string(stripe.CheckoutSessionModeSubscription))
		params.LineItems = []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		}
		// Subscription metadata lets customer.subscription.deleted find the user
		params.SubscriptionData = &stripe.CheckoutSessionCreateSubscriptionDataParams{}
		params.SubscriptionData.AddMetadata(metadataUserID, intent.UserID)
		params.SubscriptionData.AddMetadata(metadataSubscription, intent.Tier.String())
		return params
	}

	if intent.AmountMinorUnits <= 0 {
		return nil
	}
	params.Mode = stripe.String(string(stripe.CheckoutSessionModePayment))
	params.LineItems = []*stripe.CheckoutSessionCreateLineItemParams{
		{
			PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
				Currency: stripe.String(p.config.Currency),
				ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
					Name: stripe.String(fmt.Sprintf("Subscription: %s", intent.Tier)),
				},
				UnitAmount: stripe.Int64(intent.AmountMinorUnits),
			},
			Quantity: stripe.Int64(1),
		},
	}
	return params
}

var _ payment.CheckoutLinker = (*Provider)(nil)
