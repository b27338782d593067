// Package echo provides Echo middleware that resolves the current user and
// gates routes on subscription tier.
package echo

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mihaimyh/paysync/pkg/payment"
)

// UserIDKey is the echo context key RequireUser stores the user ID under
const UserIDKey = "paysync_user_id"

// UserIDExtractor extracts the user ID from an Echo context
// Return empty string if user is not authenticated
type UserIDExtractor func(c echo.Context) string

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
	OnUnauthorized func(c echo.Context) error

	// OnInsufficientTier is called when the user's tier is below MinTier
	// If nil, returns 402 JSON with the current and required tier
	OnInsufficientTier func(c echo.Context, tier payment.Tier) error

	// OnError is called when the tier lookup fails
	// If nil, returns 503 Service Unavailable
	OnError func(c echo.Context, err error) error
}

// RequireUser rejects unauthenticated requests and stores the user ID under UserIDKey.
func RequireUser(config Config) echo.MiddlewareFunc {
	mustHaveUserID(config)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if _, ok, err := requireUser(config, c); !ok {
				return err
			}
			return next(c)
		}
	}
}

// RequireTier rejects requests from users below MinTier.
func RequireTier(config Config) echo.MiddlewareFunc {
	if config.MinTier == "" {
		config.MinTier = payment.TierPremium
	}
	mustHaveUserID(config)
	if config.Lookup == nil {
		panic("paysync/echo: Config.Lookup is required by RequireTier")
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID, ok, err := requireUser(config, c)
			if !ok {
				return err
			}

			tier, err := config.Lookup(c.Request().Context(), userID)
			if err != nil {
				if config.OnError != nil {
					return config.OnError(c, err)
				}
				return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "service unavailable"})
			}
			if !tier.AtLeast(config.MinTier) {
				if config.OnInsufficientTier != nil {
					return config.OnInsufficientTier(c, tier)
				}
				return c.JSON(http.StatusPaymentRequired, map[string]string{
					"error":         "subscription required",
					"tier":          string(tier),
					"required_tier": string(config.MinTier),
				})
			}
			return next(c)
		}
	}
}

func mustHaveUserID(config Config) {
	if config.GetUserID == nil {
		panic("paysync/echo: Config.GetUserID is required")
	}
}

func requireUser(config Config, c echo.Context) (string, bool, error) {
	userID := config.GetUserID(c)
	if userID == "" {
		if config.OnUnauthorized != nil {
			return "", false, config.OnUnauthorized(c)
		}
		return "", false, c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}
	c.Set(UserIDKey, userID)
	return userID, true, nil
}

// UserID returns the user ID stored by RequireUser or RequireTier
func UserID(c echo.Context) string {
	userID, _ := c.Get(UserIDKey).(string)
	return userID
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c echo.Context) string {
		return c.Request().Header.Get(headerName)
	}
}

// FromContext returns a UserIDExtractor that reads a value set by earlier middleware
func FromContext(key string) UserIDExtractor {
	return func(c echo.Context) string {
		userID, _ := c.Get(key).(string)
		return userID
	}
}
