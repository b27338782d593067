package payment

import (
	"strings"
	"time"
)

// Tier is a subscription tier controlling feature access.
type Tier string

const (
	// TierFree is the default tier every user starts on
	TierFree Tier = "free"
	// TierPremium is the individual paid tier
	TierPremium Tier = "premium"
	// TierTeam is the multi-seat paid tier
	TierTeam Tier = "team"
)

// ParseTier normalizes s and returns the matching tier.
func ParseTier(s string) (Tier, error) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierFree:
		return TierFree, nil
	case TierPremium:
		return TierPremium, nil
	case TierTeam:
		return TierTeam, nil
	default:
		return "", ErrInvalidTier
	}
}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	return t == TierFree || t == TierPremium || t == TierTeam
}

func (t Tier) String() string { return string(t) }

// rank orders tiers by the features they unlock; unknown tiers rank lowest.
func (t Tier) rank() int {
	switch t {
	case TierPremium:
		return 1
	case TierTeam:
		return 2
	default:
		return 0
	}
}

// AtLeast reports whether t unlocks everything min does.
func (t Tier) AtLeast(min Tier) bool {
	return t.rank() >= min.rank()
}

// Status is the lifecycle state of a payment record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IntentPayload is the plaintext sealed inside a payment token.
type IntentPayload struct {
	UserID           string `json:"userId"`
	Tier             Tier   `json:"subscriptionTier"`
	AmountMinorUnits int64  `json:"amount"`
	IssuedAtMs       int64  `json:"issuedAt"`
}

// IssuedAt returns the issue time of the payload.
func (p IntentPayload) IssuedAt() time.Time {
	return time.UnixMilli(p.IssuedAtMs).UTC()
}

// Record is the server-side view of a single checkout attempt.
type Record struct {
	ID          string `json:"id"`
	UserID      string `json:"userId"`
	Tier        Tier   `json:"subscriptionTier"`
	Amount      int64  `json:"amount"`
	Status      Status `json:"status"`
	CreatedAtMs int64  `json:"createdAt"`
}

// CreatedAt returns the creation time of the record.
func (r *Record) CreatedAt() time.Time {
	return time.UnixMilli(r.CreatedAtMs).UTC()
}

// RecordPatch holds the fields to shallow-merge into an existing record.
// Nil fields are left untouched.
type RecordPatch struct {
	Status      *Status
	CreatedAtMs *int64
}

// Apply merges the patch into r.
func (p RecordPatch) Apply(r *Record) {
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.CreatedAtMs != nil {
		r.CreatedAtMs = *p.CreatedAtMs
	}
}

// StatusPatch is a shorthand for a patch that only changes the status.
func StatusPatch(s Status) RecordPatch {
	return RecordPatch{Status: &s}
}

// Intent is the result of creating a payment intent.
type Intent struct {
	Token     string `json:"token"`
	URL       string `json:"url"`
	PaymentID string `json:"paymentId"`
}

// DecodedIntent is the public view of a decoded token.
type DecodedIntent struct {
	UserID    string `json:"userId"`
	Tier      Tier   `json:"subscriptionTier"`
	Amount    int64  `json:"amount"`
	PaymentID string `json:"paymentId"`
}

// VerifyRequest carries the fields a client submits after paying.
type VerifyRequest struct {
	PaymentID string
	UserID    string
	Tier      Tier
	Amount    int64
}

// VerifyResult is returned on successful verification.
type VerifyResult struct {
	Success   bool   `json:"success"`
	PaymentID string `json:"paymentId"`
	Tier      Tier   `json:"subscriptionTier"`
}
