// Package config loads daemon settings from the environment and an optional .env file.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the daemon configuration. Absent webhook secrets are not an
// error: the matching adapter runs in unsigned test mode and logs it.
type Config struct {
	Addr          string
	BaseURL       string
	TokenSecret   string
	InternalToken string

	StripeAPIKey        string
	StripeWebhookSecret string
	StripeSuccessURL    string
	StripeCancelURL     string
	StripePremiumPrice  string
	StripeTeamPrice     string

	YooKassaWebhookSecret string

	DatabaseURL        string
	RedisURL           string
	FirestoreProjectID string

	// UpgradeURL sends background retries to another instance's internal
	// endpoint instead of running them in-process.
	UpgradeURL string

	AppEnv          string
	LogLevel        string
	RetryWorkers    int
	RetryQueue      int
	UpdateTimeout   time.Duration
	ShutdownTimeout time.Duration
}

// Load reads the .env file at path (if present) and then the environment.
// Real environment variables win over the file.
func Load(path string) (*Config, error) {
	fileEnv := map[string]string{}
	if path != "" {
		values, err := godotenv.Read(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		if values != nil {
			fileEnv = values
		}
	}
	get := func(key, def string) string {
		if val := os.Getenv(key); val != "" {
			return val
		}
		if val, ok := fileEnv[key]; ok && val != "" {
			return val
		}
		return def
	}

	cfg := &Config{
		Addr:                  get("PAYSYNC_ADDR", ":8080"),
		BaseURL:               strings.TrimRight(get("PAYSYNC_BASE_URL", "http://localhost:8080"), "/"),
		TokenSecret:           get("PAYSYNC_TOKEN_SECRET", ""),
		InternalToken:         get("PAYSYNC_INTERNAL_TOKEN", ""),
		StripeAPIKey:          get("STRIPE_API_KEY", ""),
		StripeWebhookSecret:   get("STRIPE_WEBHOOK_SECRET", ""),
		StripeSuccessURL:      get("STRIPE_SUCCESS_URL", ""),
		StripeCancelURL:       get("STRIPE_CANCEL_URL", ""),
		StripePremiumPrice:    get("STRIPE_PRICE_PREMIUM", ""),
		StripeTeamPrice:       get("STRIPE_PRICE_TEAM", ""),
		YooKassaWebhookSecret: get("YOOKASSA_WEBHOOK_SECRET", ""),
		DatabaseURL:           get("DATABASE_URL", ""),
		RedisURL:              get("REDIS_URL", ""),
		FirestoreProjectID:    get("FIRESTORE_PROJECT_ID", ""),
		UpgradeURL:            get("PAYSYNC_UPGRADE_URL", ""),
		AppEnv:                get("APP_ENV", "prod"),
		LogLevel:              get("PAYSYNC_LOG_LEVEL", "info"),
	}

	var err error
	if cfg.RetryWorkers, err = atoi("PAYSYNC_RETRY_WORKERS", get("PAYSYNC_RETRY_WORKERS", "4")); err != nil {
		return nil, err
	}
	if cfg.RetryQueue, err = atoi("PAYSYNC_RETRY_QUEUE", get("PAYSYNC_RETRY_QUEUE", "256")); err != nil {
		return nil, err
	}
	if cfg.UpdateTimeout, err = duration("PAYSYNC_UPDATE_TIMEOUT", get("PAYSYNC_UPDATE_TIMEOUT", "30s")); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = duration("PAYSYNC_SHUTDOWN_TIMEOUT", get("PAYSYNC_SHUTDOWN_TIMEOUT", "15s")); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.TokenSecret) == "" {
		return errors.New("PAYSYNC_TOKEN_SECRET is required")
	}
	if c.UpgradeURL != "" && c.InternalToken == "" {
		return errors.New("PAYSYNC_INTERNAL_TOKEN is required with PAYSYNC_UPGRADE_URL")
	}
	if c.DatabaseURL != "" && c.FirestoreProjectID != "" {
		return errors.New("set only one of DATABASE_URL and FIRESTORE_PROJECT_ID")
	}
	return nil
}

// IsDev reports whether the daemon runs in development mode.
func (c *Config) IsDev() bool {
	return c.AppEnv == "dev"
}

func atoi(key, val string) (int, error) {
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, errors.New(key + ": " + err.Error())
	}
	return n, nil
}

func duration(key, val string) (time.Duration, error) {
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, errors.New(key + ": " + err.Error())
	}
	return d, nil
}
