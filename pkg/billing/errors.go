package billing

import "errors"

var (
	// ErrProviderNotConfigured is returned when a provider is not properly configured
	ErrProviderNotConfigured = errors.New("billing provider not configured")

	// ErrInvalidWebhookSignature is returned when webhook signature validation fails
	ErrInvalidWebhookSignature = errors.New("invalid webhook signature")

	// ErrInvalidWebhookPayload is returned when webhook payload cannot be parsed
	ErrInvalidWebhookPayload = errors.New("invalid webhook payload")

	// ErrMissingUserID is returned when an event carries no resolvable user
	ErrMissingUserID = errors.New("webhook event has no user id")

	// ErrTierNotConfigured is returned when a tier has no provider price configured
	ErrTierNotConfigured = errors.New("tier not configured in price mapping")
)
