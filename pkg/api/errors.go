package api

import (
	"errors"
	"net/http"

	"github.com/mihaimyh/paysync/pkg/payment"
)

// genericPaymentError is shown for every verification failure.
const genericPaymentError = "payment processing error, please try again"

const (
	codeInvalidRequest    = "invalid_request"
	codeInvalidToken      = "invalid_token"
	codeDuplicatePayment  = "duplicate_payment"
	codeNonRetryable      = "non_retryable_payment"
	codeDataMismatch      = "data_mismatch"
	codeNotFound          = "not_found"
	codeAlreadyCompleted  = "already_completed"
	codeUnauthorized      = "unauthorized"
	codeForbidden         = "forbidden"
	codeStoreUnavailable  = "store_unavailable"
	codeSubscriptionError = "subscription_update_failed"
)

// errorStatus maps a service error to an HTTP status and a machine code.
// Anything unrecognized is treated as a store failure.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, payment.ErrInvalidToken):
		return http.StatusBadRequest, codeInvalidToken
	case errors.Is(err, payment.ErrDuplicatePayment):
		return http.StatusBadRequest, codeDuplicatePayment
	case errors.Is(err, payment.ErrNonRetryablePayment):
		return http.StatusBadRequest, codeNonRetryable
	case errors.Is(err, payment.ErrDataMismatch):
		return http.StatusBadRequest, codeDataMismatch
	case errors.Is(err, payment.ErrInvalidTier), errors.Is(err, payment.ErrInvalidUser),
		errors.Is(err, payment.ErrInvalidAmount):
		return http.StatusBadRequest, codeInvalidRequest
	case errors.Is(err, payment.ErrRecordNotFound):
		return http.StatusNotFound, codeNotFound
	default:
		return http.StatusServiceUnavailable, codeStoreUnavailable
	}
}
