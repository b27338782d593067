// Package http provides net/http middleware that resolves the current user
// and gates handlers on subscription tier.
package http

import (
	"context"
	"net/http"

	"github.com/mihaimyh/paysync/pkg/payment"
)

// UserIDExtractor extracts the user ID from an HTTP request
// Return empty string if user is not authenticated
type UserIDExtractor func(r *http.Request) string

// TierLookup returns the stored subscription tier for a user.
// (*postgres.Storage).Subscription and (*firestore.Storage).Subscription fit.
type TierLookup func(ctx context.Context, userID string) (payment.Tier, error)

// ContextKey is a type for context keys
type ContextKey string

const (
	// UserIDKey is the context key for user ID
	UserIDKey ContextKey = "paysync:userID"
)

// Config holds middleware configuration
type Config struct {
	// GetUserID extracts user ID from request (required)
	GetUserID UserIDExtractor

	// Lookup reads the user's tier (required by RequireTier)
	Lookup TierLookup

	// MinTier is the lowest tier RequireTier lets through (default: premium)
	MinTier payment.Tier

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnInsufficientTier is called when the user's tier is below MinTier
	// If nil, returns 402 Payment Required
	OnInsufficientTier func(w http.ResponseWriter, r *http.Request, tier payment.Tier)

	// OnError is called when the tier lookup fails
	// If nil, returns 503 Service Unavailable
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// RequireUser rejects unauthenticated requests and stores the user ID in the
// request context under UserIDKey.
func RequireUser(config Config) func(http.Handler) http.Handler {
	mustHaveUserID(config)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := requireUser(config, w, r)
			if !ok {
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), UserIDKey, userID)))
		})
	}
}

// RequireTier lets a request through only when the user's tier is at least MinTier.
func RequireTier(config Config) func(http.Handler) http.Handler {
	if config.MinTier == "" {
		config.MinTier = payment.TierPremium
	}
	mustHaveUserID(config)
	if config.Lookup == nil {
		panic("paysync/http: Config.Lookup is required by RequireTier")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := requireUser(config, w, r)
			if !ok {
				return
			}

			tier, err := config.Lookup(r.Context(), userID)
			if err != nil {
				if config.OnError != nil {
					config.OnError(w, r, err)
				} else {
					http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
				}
				return
			}
			if !tier.AtLeast(config.MinTier) {
				if config.OnInsufficientTier != nil {
					config.OnInsufficientTier(w, r, tier)
				} else {
					http.Error(w, "Subscription required: "+string(config.MinTier), http.StatusPaymentRequired)
				}
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), UserIDKey, userID)))
		})
	}
}

func mustHaveUserID(config Config) {
	if config.GetUserID == nil {
		panic("paysync/http: Config.GetUserID is required")
	}
}

func requireUser(config Config, w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := config.GetUserID(r)
	if userID == "" {
		if config.OnUnauthorized != nil {
			config.OnUnauthorized(w, r)
		} else {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
		}
		return "", false
	}
	return userID, true
}

// UserID returns the user ID stored by RequireUser or RequireTier
func UserID(ctx context.Context) string {
	userID, _ := ctx.Value(UserIDKey).(string)
	return userID
}

// FromContext returns an UserIDExtractor that gets user ID from request context
func FromContext(key ContextKey) UserIDExtractor {
	return func(r *http.Request) string {
		if userID, ok := r.Context().Value(key).(string); ok {
			return userID
		}
		return ""
	}
}

// FromHeader returns an UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}
