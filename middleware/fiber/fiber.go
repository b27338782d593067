// Package fiber provides Fiber middleware that resolves the current user and
// gates routes on subscription tier, plus a helper to mount the payment API.
package fiber

import (
	"context"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/mihaimyh/paysync/pkg/payment"
)

// UserIDKey is the Locals key RequireUser stores the user ID under
const UserIDKey = "paysync_user_id"

// UserIDExtractor extracts the user ID from a Fiber context
// Return empty string if user is not authenticated
type UserIDExtractor func(c *fiber.Ctx) string

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
	OnUnauthorized func(c *fiber.Ctx) error

	// OnInsufficientTier is called when the user's tier is below MinTier
	// If nil, returns 402 JSON with the current and required tier
	OnInsufficientTier func(c *fiber.Ctx, tier payment.Tier) error

	// OnError is called when the tier lookup fails
	// If nil, returns 503 Service Unavailable
	OnError func(c *fiber.Ctx, err error) error
}

// RequireUser rejects unauthenticated requests and stores the user ID in Locals.
func RequireUser(config Config) fiber.Handler {
	mustHaveUserID(config)
	return func(c *fiber.Ctx) error {
		if _, ok, err := requireUser(config, c); !ok {
			return err
		}
		return c.Next()
	}
}

// RequireTier rejects requests from users below MinTier.
func RequireTier(config Config) fiber.Handler {
	if config.MinTier == "" {
		config.MinTier = payment.TierPremium
	}
	mustHaveUserID(config)
	if config.Lookup == nil {
		panic("paysync/fiber: Config.Lookup is required by RequireTier")
	}
	return func(c *fiber.Ctx) error {
		userID, ok, err := requireUser(config, c)
		if !ok {
			return err
		}

		tier, err := config.Lookup(c.UserContext(), userID)
		if err != nil {
			if config.OnError != nil {
				return config.OnError(c, err)
			}
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "service unavailable"})
		}
		if !tier.AtLeast(config.MinTier) {
			if config.OnInsufficientTier != nil {
				return config.OnInsufficientTier(c, tier)
			}
			return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
				"error":         "subscription required",
				"tier":          tier,
				"required_tier": config.MinTier,
			})
		}
		return c.Next()
	}
}

func mustHaveUserID(config Config) {
	if config.GetUserID == nil {
		panic("paysync/fiber: Config.GetUserID is required")
	}
}

func requireUser(config Config, c *fiber.Ctx) (string, bool, error) {
	userID := config.GetUserID(c)
	if userID == "" {
		if config.OnUnauthorized != nil {
			return "", false, config.OnUnauthorized(c)
		}
		return "", false, c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}
	c.Locals(UserIDKey, userID)
	return userID, true, nil
}

// UserID returns the user ID stored by RequireUser or RequireTier
func UserID(c *fiber.Ctx) string {
	userID, _ := c.Locals(UserIDKey).(string)
	return userID
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Get(headerName)
	}
}

// FromLocals returns a UserIDExtractor that reads a value set by earlier middleware
func FromLocals(key string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		userID, _ := c.Locals(key).(string)
		return userID
	}
}

// Mount serves a net/http handler (typically api.Handler.Routes()) for every
// path on app. Register Fiber-native routes before calling Mount.
func Mount(app *fiber.App, handler http.Handler) {
	app.Use(adaptor.HTTPHandler(handler))
}
