package payment

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

var (
	// ErrInvalidToken is returned for malformed or expired payment tokens
	ErrInvalidToken = errors.New("invalid or expired payment token")

	// ErrInvalidTier is returned for unknown subscription tiers
	ErrInvalidTier = errors.New("invalid subscription tier")

	// ErrInvalidAmount is returned for negative amounts
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidUser is returned when a user ID is missing
	ErrInvalidUser = errors.New("invalid user id")

	// ErrRecordNotFound is returned when no payment record exists for an id
	ErrRecordNotFound = errors.New("payment record not found")

	// ErrDuplicatePayment is returned when a completed payment is verified again
	ErrDuplicatePayment = errors.New("payment already completed")

	// ErrNonRetryablePayment is returned when a failed payment is outside its retry window
	ErrNonRetryablePayment = errors.New("payment failed and retry window elapsed")

	// ErrDataMismatch is returned when the request disagrees with the stored record
	ErrDataMismatch = errors.New("payment data mismatch")

	// ErrStoreUnavailable is returned when a required store is not configured
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrDispatcherClosed is returned when scheduling on a stopped dispatcher
	ErrDispatcherClosed = errors.New("retry dispatcher closed")

	// ErrQueueFull is returned when the background retry queue is at capacity
	ErrQueueFull = errors.New("retry queue full")
)

// ErrorKind classifies store failures for retry decisions.
type ErrorKind int

const (
	// KindFatal errors propagate immediately
	KindFatal ErrorKind = iota
	// KindTransient errors are retried by the Updater
	KindTransient
)

func (k ErrorKind) String() string {
	if k == KindTransient {
		return "transient"
	}
	return "fatal"
}

// StoreError is the typed boundary between store adapters and the Updater.
// Adapters classify driver errors once; callers never inspect messages.
type StoreError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s store error in %s: %v", e.Kind, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable store error.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Kind: KindTransient, Op: op, Err: err}
}

// Fatal wraps err as a non-retryable store error.
func Fatal(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Kind: KindFatal, Op: op, Err: err}
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Kind == KindTransient
	}
	return false
}

// ClassifyNetError maps connection-level failures to a StoreError.
// Timeouts, resets and DNS failures are transient; anything else is fatal.
func ClassifyNetError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return Fatal(op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ETIMEDOUT) {
		return Transient(op, err)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return Transient(op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient(op, err)
	}
	return Fatal(op, err)
}
