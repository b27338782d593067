// Package gin provides Gin middleware that resolves the current user and
// gates routes on subscription tier.
package gin

import (
	"context"
	"net/http"

	gongin "github.com/gin-gonic/gin"

	"github.com/mihaimyh/paysync/pkg/payment"
)

// UserIDKey is the gin context key RequireUser stores the user ID under
const UserIDKey = "paysync_user_id"

// UserIDExtractor extracts the user ID from a Gin context
// Return empty string if user is not authenticated
type UserIDExtractor func(c *gongin.Context) string

// TierLookup returns the stored subscription tier for a user
type TierLookup func(ctx context.Context, userID string) (payment.Tier, error)

// Config holds middleware configuration
type Config struct {
	// GetUserID extracts user ID from context (required)
	GetUserID UserIDExtractor

	// Lookup reads the user's tier (required by RequireTier)
	Lookup TierLookup

	// MinTier is the lowest tier RequireTier lets through (default: premium)
	MinTier payment.Tier

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *gongin.Context)

	// OnInsufficientTier is called when the user's tier is below MinTier
	// If nil, returns 402 JSON with the current and required tier
	OnInsufficientTier func(c *gongin.Context, tier payment.Tier)

	// OnError is called when the tier lookup fails
	// If nil, returns 503 Service Unavailable
	OnError func(c *gongin.Context, err error)
}

// RequireUser aborts unauthenticated requests and stores the user ID under UserIDKey.
func RequireUser(config Config) gongin.HandlerFunc {
	mustHaveUserID(config)
	return func(c *gongin.Context) {
		if _, ok := requireUser(config, c); !ok {
			return
		}
		c.Next()
	}
}

// RequireTier aborts requests from users below MinTier.
func RequireTier(config Config) gongin.HandlerFunc {
	if config.MinTier == "" {
		config.MinTier = payment.TierPremium
	}
	mustHaveUserID(config)
	if config.Lookup == nil {
		panic("paysync/gin: Config.Lookup is required by RequireTier")
	}
	return func(c *gongin.Context) {
		userID, ok := requireUser(config, c)
		if !ok {
			return
		}

		tier, err := config.Lookup(c.Request.Context(), userID)
		if err != nil {
			if config.OnError != nil {
				config.OnError(c, err)
			} else {
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gongin.H{"error": "service unavailable"})
			}
			return
		}
		if !tier.AtLeast(config.MinTier) {
			if config.OnInsufficientTier != nil {
				config.OnInsufficientTier(c, tier)
			} else {
				c.AbortWithStatusJSON(http.StatusPaymentRequired, gongin.H{
					"error":         "subscription required",
					"tier":          tier,
					"required_tier": config.MinTier,
				})
			}
			return
		}
		c.Next()
	}
}

func mustHaveUserID(config Config) {
	if config.GetUserID == nil {
		panic("paysync/gin: Config.GetUserID is required")
	}
}

func requireUser(config Config, c *gongin.Context) (string, bool) {
	userID := config.GetUserID(c)
	if userID == "" {
		if config.OnUnauthorized != nil {
			config.OnUnauthorized(c)
		} else {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gongin.H{"error": "unauthorized"})
		}
		return "", false
	}
	c.Set(UserIDKey, userID)
	return userID, true
}

// UserID returns the user ID stored by RequireUser or RequireTier
func UserID(c *gongin.Context) string {
	return c.GetString(UserIDKey)
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.GetHeader(headerName)
	}
}

// FromContext returns a UserIDExtractor that reads a value set by an earlier handler
func FromContext(key string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.GetString(key)
	}
}
