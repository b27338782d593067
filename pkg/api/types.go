package api

// CreateRequest is the body of POST /api/payment/create
type CreateRequest struct {
	UserID           string `json:"userId" validate:"required,max=255"`
	SubscriptionTier string `json:"subscriptionTier" validate:"required,oneof=free premium team"`
	Amount           int64  `json:"amount" validate:"gte=0"`
}

// CreateResponse carries the sealed token and where to send the user
type CreateResponse struct {
	Token     string `json:"token"`
	URL       string `json:"url"`
	PaymentID string `json:"paymentId"`
}

// StatusResponse is returned by GET /api/payment/status
type StatusResponse struct {
	Status           string `json:"status"`
	SubscriptionTier string `json:"subscriptionTier"`
}

// VerifyRequest is the body of POST /api/payment/verify
type VerifyRequest struct {
	PaymentID        string `json:"paymentId" validate:"required,max=64"`
	UserID           string `json:"userId" validate:"required,max=255"`
	SubscriptionTier string `json:"subscriptionTier" validate:"required,oneof=free premium team"`
	Amount           int64  `json:"amount" validate:"gte=0"`
}

// FailRequest is the body of POST /api/payment/fail
type FailRequest struct {
	PaymentID string `json:"paymentId" validate:"required,max=64"`
}

// UpgradeRequest is the body of POST /internal/subscription/upgrade
type UpgradeRequest struct {
	UserID           string `json:"userId" validate:"required,max=255"`
	SubscriptionTier string `json:"subscriptionTier" validate:"required,oneof=free premium team"`
}

// UpgradeResponse reports the outcome of an internal upgrade
type UpgradeResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ErrorResponse is the body of every non-2xx API response
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details map[string]string `json:"details,omitempty"`
}
