// Package tiered provides a Hot/Cold tiered payment.RecordStore that pairs
// fast ephemeral storage (Hot) with durable persistent storage (Cold).
//
// Hot is private to one process while Cold is shared, so Hot only answers
// reads for completed records; completed is terminal and cannot go stale.
// Every other read goes to Cold and refreshes Hot. Writes are write-through
// (Cold first, then Hot best effort), so Cold is always the source of truth
// for payment status.
package tiered

import (
	"context"
	"errors"

	"github.com/mihaimyh/paysync/pkg/payment"
)

// Config configures the tiered storage behavior
type Config struct {
	// Hot is the L1 cache storage (e.g., Memory) for high-frequency reads
	Hot payment.RecordStore

	// Cold is the L2 persistence storage (e.g., Redis) as the source of truth
	Cold payment.RecordStore

	// HotErrorHandler is called when a best-effort Hot write fails.
	// Essential for monitoring consistency drift.
	HotErrorHandler func(error)
}

// Storage implements a Hot/Cold tiered record store.
type Storage struct {
	hot  payment.RecordStore
	cold payment.RecordStore
	conf Config
}

// New creates a new tiered storage adapter.
func New(config Config) (*Storage, error) {
	if config.Hot == nil || config.Cold == nil {
		return nil, errors.New("tiered storage: both hot and cold storage are required")
	}

	return &Storage{
		hot:  config.Hot,
		cold: config.Cold,
		conf: config,
	}, nil
}

// --- Strategy: Read-Through (Hot for terminal records, else Cold → Populate Hot) ---

// Get implements payment.RecordStore. A pending or failed copy in Hot may
// have been completed by another instance, so it is never trusted.
func (s *Storage) Get(ctx context.Context, id string) (*payment.Record, error) {
	// 1. Try Hot (terminal records only)
	if rec, err := s.hot.Get(ctx, id); err == nil && rec.Status == payment.StatusCompleted {
		return rec, nil
	}

	// 2. Read Cold (Source of Truth)
	rec, err := s.cold.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	// 3. Populate Hot (Read-Repair)
	s.fillHot(ctx, rec)

	return rec, nil
}

// --- Strategy: Write-Through (Cold → Hot) ---
// Payment status must be durable first.

// CreateIfAbsent implements payment.RecordStore with write-through strategy.
// The Cold result decides which record wins.
func (s *Storage) CreateIfAbsent(ctx context.Context, rec *payment.Record) (*payment.Record, error) {
	// 1. Write Cold (Durability)
	stored, err := s.cold.CreateIfAbsent(ctx, rec)
	if err != nil {
		return nil, err
	}
	// 2. Mirror into Hot (Availability)
	s.fillHot(ctx, stored)
	return stored, nil
}

// Merge implements payment.RecordStore with write-through strategy.
func (s *Storage) Merge(ctx context.Context, id string, patch payment.RecordPatch) error {
	// 1. Write Cold (Durability)
	if err := s.cold.Merge(ctx, id, patch); err != nil {
		return err
	}
	// 2. Write Hot (Availability)
	// If Hot fails, we report it but don't fail the operation since Cold succeeded
	if err := s.hot.Merge(ctx, id, patch); err != nil {
		s.hotFailed(err)
	}
	return nil
}

// fillHot makes Hot match rec. Hot may already hold an older copy, so the
// mutable fields are merged after the create.
func (s *Storage) fillHot(ctx context.Context, rec *payment.Record) {
	if _, err := s.hot.CreateIfAbsent(ctx, rec); err != nil {
		s.hotFailed(err)
		return
	}
	status, createdAt := rec.Status, rec.CreatedAtMs
	if err := s.hot.Merge(ctx, rec.ID, payment.RecordPatch{Status: &status, CreatedAtMs: &createdAt}); err != nil {
		s.hotFailed(err)
	}
}

func (s *Storage) hotFailed(err error) {
	if s.conf.HotErrorHandler != nil {
		s.conf.HotErrorHandler(err)
	}
}
