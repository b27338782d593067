package payment

import (
	"context"
	"sync"
	"time"
)

type memRecords struct {
	mu      sync.Mutex
	records map[string]Record
}

func newMemRecords() *memRecords {
	return &memRecords{records: make(map[string]Record)}
}

func (m *memRecords) Get(_ context.Context, id string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return &rec, nil
}

func (m *memRecords) CreateIfAbsent(_ context.Context, rec *Record) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.records[rec.ID]; ok {
		return &existing, nil
	}
	m.records[rec.ID] = *rec
	out := *rec
	return &out, nil
}

func (m *memRecords) Merge(_ context.Context, id string, patch RecordPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil
	}
	patch.Apply(&rec)
	m.records[id] = rec
	return nil
}

func (m *memRecords) delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
}

// ctxRecords fails every call made on a finished context, like a network store.
type ctxRecords struct {
	*memRecords
}

func (c ctxRecords) Get(ctx context.Context, id string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, Fatal("get_record", err)
	}
	return c.memRecords.Get(ctx, id)
}

func (c ctxRecords) CreateIfAbsent(ctx context.Context, rec *Record) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, Fatal("create_record", err)
	}
	return c.memRecords.CreateIfAbsent(ctx, rec)
}

func (c ctxRecords) Merge(ctx context.Context, id string, patch RecordPatch) error {
	if err := ctx.Err(); err != nil {
		return Fatal("merge_record", err)
	}
	return c.memRecords.Merge(ctx, id, patch)
}

// fakeSubs is a scriptable SubscriptionStore.
type fakeSubs struct {
	mu    sync.Mutex
	calls int
	tiers map[string]Tier
	errs  []error
	delay time.Duration
}

func newFakeSubs(errs ...error) *fakeSubs {
	return &fakeSubs{tiers: make(map[string]Tier), errs: errs}
}

func (f *fakeSubs) SetSubscription(ctx context.Context, userID string, tier Tier) error {
	f.mu.Lock()
	f.calls++
	var err error
	if len(f.errs) > 0 {
		err = f.errs[0]
		f.errs = f.errs[1:]
	}
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Transient("set_subscription", ctx.Err())
		}
	}
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.tiers[userID] = tier
	f.mu.Unlock()
	return nil
}

func (f *fakeSubs) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeSubs) Tier(userID string) Tier {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tiers[userID]
}

type recordingMetrics struct {
	NoopMetrics
	mu            sync.Mutex
	verifications map[string]int
	retries       map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{verifications: make(map[string]int), retries: make(map[string]int)}
}

func (m *recordingMetrics) RecordVerification(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifications[outcome]++
}

func (m *recordingMetrics) RecordBackgroundRetry(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries[status]++
}

func (m *recordingMetrics) verification(outcome string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.verifications[outcome]
}

func (m *recordingMetrics) retry(status string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retries[status]
}

type scheduleCall struct {
	userID string
	tier   Tier
}

type fakeScheduler struct {
	mu    sync.Mutex
	calls []scheduleCall
}

func (f *fakeScheduler) Schedule(userID string, tier Tier) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, scheduleCall{userID, tier})
	return nil
}

func (f *fakeScheduler) Calls() []scheduleCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]scheduleCall(nil), f.calls...)
}

// noSleep records requested backoffs without waiting.
type noSleep struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (n *noSleep) Sleep(_ context.Context, d time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.waits = append(n.waits, d)
	return nil
}
