// Package memory provides in-memory implementations of payment.RecordStore
// and payment.SubscriptionStore.
// This implementation is primarily intended for testing and development.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/mihaimyh/paysync/pkg/payment"
)

// Storage implements payment.RecordStore using an in-memory map
type Storage struct {
	mu      sync.RWMutex
	records map[string]*payment.Record
}

// New creates a new in-memory record store
func New() *Storage {
	return &Storage{
		records: make(map[string]*payment.Record),
	}
}

// Get implements payment.RecordStore
func (s *Storage) Get(ctx context.Context, id string) (*payment.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, payment.ErrRecordNotFound
	}

	// Return a copy to prevent external mutations
	recCopy := *rec
	return &recCopy, nil
}

// CreateIfAbsent implements payment.RecordStore
func (s *Storage) CreateIfAbsent(ctx context.Context, rec *payment.Record) (*payment.Record, error) {
	if rec == nil || rec.ID == "" {
		return nil, fmt.Errorf("invalid payment record")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[rec.ID]; ok {
		existingCopy := *existing
		return &existingCopy, nil
	}

	// Store a copy to prevent external mutations
	recCopy := *rec
	s.records[rec.ID] = &recCopy
	out := recCopy
	return &out, nil
}

// Merge implements payment.RecordStore
func (s *Storage) Merge(ctx context.Context, id string, patch payment.RecordPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil
	}
	patch.Apply(rec)
	return nil
}

// Delete removes a record. Used to simulate store loss.
func (s *Storage) Delete(ctx context.Context, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
}

// Len returns the number of stored records
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Users implements payment.SubscriptionStore using an in-memory map.
// Unknown users are created on first write.
type Users struct {
	mu    sync.RWMutex
	tiers map[string]payment.Tier
	calls int

	// Strict rejects writes for users not added via Add
	Strict bool
}

// NewUsers creates a new in-memory user store
func NewUsers() *Users {
	return &Users{
		tiers: make(map[string]payment.Tier),
	}
}

// Add registers a user on the free tier
func (u *Users) Add(userID string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.tiers[userID]; !ok {
		u.tiers[userID] = payment.TierFree
	}
}

// SetSubscription implements payment.SubscriptionStore
func (u *Users) SetSubscription(ctx context.Context, userID string, tier payment.Tier) error {
	if err := ctx.Err(); err != nil {
		return payment.ClassifyNetError("set_subscription", err)
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	u.calls++
	if _, ok := u.tiers[userID]; !ok && u.Strict {
		return payment.Fatal("set_subscription", fmt.Errorf("user %s not found", userID))
	}
	u.tiers[userID] = tier
	return nil
}

// Subscription returns the stored tier for userID
func (u *Users) Subscription(userID string) (payment.Tier, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	tier, ok := u.tiers[userID]
	return tier, ok
}

// Calls returns the number of SetSubscription calls
func (u *Users) Calls() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.calls
}
