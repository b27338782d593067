package payment

import (
	"context"
	"strconv"

	"github.com/google/uuid"
)

// paymentNamespace scopes payment ids so they cannot collide with other UUIDv5 users.
var paymentNamespace = uuid.MustParse("6f1c7a52-2d0b-4d8e-9a43-7f5e1c3b9d10")

// PaymentID derives the record id for a checkout attempt. The same
// (userID, tier, issuedAtMs) always yields the same id, so a token decoded
// after a restart maps back to the same record.
func PaymentID(userID string, tier Tier, issuedAtMs int64) string {
	name := userID + "\x00" + string(tier) + "\x00" + strconv.FormatInt(issuedAtMs, 10)
	return uuid.NewSHA1(paymentNamespace, []byte(name)).String()
}

// RecordStore defines the interface for payment record persistence.
// Implementations must be safe for concurrent use.
type RecordStore interface {
	// Get returns the record or ErrRecordNotFound.
	Get(ctx context.Context, id string) (*Record, error)

	// CreateIfAbsent stores rec unless a record with the same id exists.
	// It returns whichever record is stored afterwards (first writer wins).
	CreateIfAbsent(ctx context.Context, rec *Record) (*Record, error)

	// Merge shallow-merges patch into the stored record. No-op if absent.
	Merge(ctx context.Context, id string, patch RecordPatch) error
}

// SubscriptionStore is the external user store. SetSubscription must be
// idempotent: applying the same tier twice leaves the same state as once.
// Implementations classify failures with Transient / Fatal.
type SubscriptionStore interface {
	SetSubscription(ctx context.Context, userID string, tier Tier) error
}
