package payment

import "time"

// Metrics defines the interface for tracking payment lifecycle operations.
type Metrics interface {
	// RecordIntentCreated records a newly issued payment token.
	RecordIntentCreated(tier Tier)

	// RecordVerification records the outcome of a Verify call.
	// outcome: "success", "timeout", "duplicate", "non_retryable", "mismatch", "error"
	RecordVerification(outcome string)

	// RecordVerifyDuration records how long a Verify call took.
	RecordVerifyDuration(duration time.Duration)

	// RecordSubscriptionUpdate records a finished Updater.Set call.
	// status: "success", "transient_error", "fatal_error"
	RecordSubscriptionUpdate(status string, attempts int, duration time.Duration)

	// RecordBackgroundRetry records a background retry lifecycle event.
	// status: "scheduled", "deduplicated", "dropped", "success", "error"
	RecordBackgroundRetry(status string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordIntentCreated(_ Tier)                                {}
func (n *NoopMetrics) RecordVerification(_ string)                               {}
func (n *NoopMetrics) RecordVerifyDuration(_ time.Duration)                      {}
func (n *NoopMetrics) RecordSubscriptionUpdate(_ string, _ int, _ time.Duration) {}
func (n *NoopMetrics) RecordBackgroundRetry(_ string)                            {}
