package payment

import (
	"context"
	"time"
)

// UpdaterConfig configures the subscription Updater.
type UpdaterConfig struct {
	// MaxAttempts is the total number of tries for transient failures (default: 3)
	MaxAttempts int

	// BaseBackoff is multiplied by the attempt number between tries (default: 300ms)
	BaseBackoff time.Duration

	// Logger is optional; defaults to NoopLogger
	Logger Logger

	// Metrics is optional; defaults to NoopMetrics
	Metrics Metrics

	// Sleep waits between attempts and returns early with ctx.Err() on cancel.
	// Overridable in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Updater is the single entry point for changing a user's subscription tier.
//
// Set is idempotent: repeated calls with the same tier are harmless. Verify,
// both webhook adapters and the background dispatcher may call it for the
// same user concurrently.
type Updater struct {
	store       SubscriptionStore
	maxAttempts int
	backoff     time.Duration
	logger      Logger
	metrics     Metrics
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewUpdater wraps store with the retry policy.
func NewUpdater(store SubscriptionStore, config UpdaterConfig) (*Updater, error) {
	if store == nil {
		return nil, ErrStoreUnavailable
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.BaseBackoff <= 0 {
		config.BaseBackoff = 300 * time.Millisecond
	}
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	if config.Sleep == nil {
		config.Sleep = sleepContext
	}
	return &Updater{
		store:       store,
		maxAttempts: config.MaxAttempts,
		backoff:     config.BaseBackoff,
		logger:      config.Logger,
		metrics:     config.Metrics,
		sleep:       config.Sleep,
	}, nil
}

// Set writes tier for userID, retrying transient store failures with a
// linear backoff of BaseBackoff × attempt.
func (u *Updater) Set(ctx context.Context, userID string, tier Tier) error {
	if userID == "" {
		return ErrInvalidUser
	}
	if !tier.Valid() {
		return ErrInvalidTier
	}

	start := time.Now()
	var err error
	for attempt := 1; attempt <= u.maxAttempts; attempt++ {
		err = u.store.SetSubscription(ctx, userID, tier)
		if err == nil {
			u.logger.Info("subscription updated",
				F("user_id", userID), F("tier", tier), F("attempt", attempt))
			u.metrics.RecordSubscriptionUpdate("success", attempt, time.Since(start))
			return nil
		}
		if !IsTransient(err) {
			u.logger.Error("subscription update failed",
				F("user_id", userID), F("tier", tier), F("attempt", attempt), F("error", err.Error()))
			u.metrics.RecordSubscriptionUpdate("fatal_error", attempt, time.Since(start))
			return err
		}
		if attempt == u.maxAttempts {
			break
		}
		wait := u.backoff * time.Duration(attempt)
		u.logger.Warn("transient subscription update failure, retrying",
			F("user_id", userID), F("tier", tier), F("attempt", attempt),
			F("backoff", wait.String()), F("error", err.Error()))
		if sleepErr := u.sleep(ctx, wait); sleepErr != nil {
			u.metrics.RecordSubscriptionUpdate("transient_error", attempt, time.Since(start))
			return err
		}
	}

	u.logger.Error("subscription update retries exhausted",
		F("user_id", userID), F("tier", tier), F("attempts", u.maxAttempts), F("error", err.Error()))
	u.metrics.RecordSubscriptionUpdate("transient_error", u.maxAttempts, time.Since(start))
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
