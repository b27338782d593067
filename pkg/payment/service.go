package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultUpdateTimeout   = 30 * time.Second
	defaultDetachedTimeout = 2 * time.Minute
	defaultRetryWindow     = 10 * time.Minute
	defaultRecordTimeout   = 10 * time.Second
)

// SubscriptionSetter is satisfied by *Updater.
type SubscriptionSetter interface {
	Set(ctx context.Context, userID string, tier Tier) error
}

// RetryScheduler is satisfied by *Dispatcher.
type RetryScheduler interface {
	Schedule(userID string, tier Tier) error
}

// CheckoutLinker builds a provider checkout URL for a freshly sealed intent.
type CheckoutLinker interface {
	CheckoutURL(ctx context.Context, payload IntentPayload, token string) (string, error)
}

// Config holds the collaborators and policy of a Service.
type Config struct {
	// Codec seals and opens payment tokens (required)
	Codec *TokenCodec

	// Records stores payment records (required)
	Records RecordStore

	// Updater writes subscription tiers (required)
	Updater SubscriptionSetter

	// Retries receives follow-up writes when an update outlives UpdateTimeout.
	// If nil, timed-out updates are only logged.
	Retries RetryScheduler

	// Checkout optionally replaces the default intent URL with a provider checkout page
	Checkout CheckoutLinker

	// BaseURL prefixes the default intent URL: BaseURL + "/payment/" + token
	BaseURL string

	// UpdateTimeout is how long Verify waits for the subscription write (default: 30s)
	UpdateTimeout time.Duration

	// DetachedTimeout bounds a write that outlived UpdateTimeout (default: 2m)
	DetachedTimeout time.Duration

	// RetryWindow is how long after creation a failed payment may be retried (default: 10m)
	RetryWindow time.Duration

	// RecordTimeout bounds the record writes Verify makes once it has committed
	// to a payment. They run detached from the caller (default: 10s)
	RecordTimeout time.Duration

	// Clock returns the current time (default: time.Now)
	Clock func() time.Time

	Logger  Logger
	Metrics Metrics
}

// Service implements the payment intent lifecycle: create, decode, status,
// verify and fail.
type Service struct {
	codec           *TokenCodec
	records         RecordStore
	updater         SubscriptionSetter
	retries         RetryScheduler
	checkout        CheckoutLinker
	baseURL         string
	updateTimeout   time.Duration
	detachedTimeout time.Duration
	retryWindow     time.Duration
	recordTimeout   time.Duration
	now             func() time.Time
	logger          Logger
	metrics         Metrics
	locks           *keyedMutex

	writes        sync.WaitGroup
	pendingWrites atomic.Int64
}

// NewService validates config and fills defaults.
func NewService(config Config) (*Service, error) {
	if config.Codec == nil {
		return nil, fmt.Errorf("token codec is required")
	}
	if config.Records == nil || config.Updater == nil {
		return nil, ErrStoreUnavailable
	}
	if config.UpdateTimeout <= 0 {
		config.UpdateTimeout = defaultUpdateTimeout
	}
	if config.DetachedTimeout <= 0 {
		config.DetachedTimeout = defaultDetachedTimeout
	}
	if config.DetachedTimeout < config.UpdateTimeout {
		config.DetachedTimeout = config.UpdateTimeout
	}
	if config.RetryWindow <= 0 {
		config.RetryWindow = defaultRetryWindow
	}
	if config.RecordTimeout <= 0 {
		config.RecordTimeout = defaultRecordTimeout
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}

	return &Service{
		codec:           config.Codec,
		records:         config.Records,
		updater:         config.Updater,
		retries:         config.Retries,
		checkout:        config.Checkout,
		baseURL:         strings.TrimRight(config.BaseURL, "/"),
		updateTimeout:   config.UpdateTimeout,
		detachedTimeout: config.DetachedTimeout,
		retryWindow:     config.RetryWindow,
		recordTimeout:   config.RecordTimeout,
		now:             config.Clock,
		logger:          config.Logger,
		metrics:         config.Metrics,
		locks:           newKeyedMutex(),
	}, nil
}

// CreateIntent seals a new payment intent for userID. No record is stored
// until the token is decoded or verified.
func (s *Service) CreateIntent(ctx context.Context, userID string, tier Tier, amount int64) (*Intent, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrInvalidUser
	}
	if !tier.Valid() {
		return nil, ErrInvalidTier
	}
	if amount < 0 {
		return nil, ErrInvalidAmount
	}

	payload := IntentPayload{
		UserID:           userID,
		Tier:             tier,
		AmountMinorUnits: amount,
		IssuedAtMs:       s.now().UnixMilli(),
	}
	token, err := s.codec.Encode(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to seal payment intent: %w", err)
	}

	url := s.baseURL + "/payment/" + token
	if s.checkout != nil {
		checkoutURL, err := s.checkout.CheckoutURL(ctx, payload, token)
		if err != nil {
			s.logger.Warn("checkout session unavailable, using default payment url",
				F("user_id", userID), F("tier", tier), F("error", err.Error()))
		} else if checkoutURL != "" {
			url = checkoutURL
		}
	}

	s.metrics.RecordIntentCreated(tier)
	return &Intent{
		Token:     token,
		URL:       url,
		PaymentID: PaymentID(userID, tier, payload.IssuedAtMs),
	}, nil
}

// DecodeIntent opens token and makes sure a pending record exists for it.
// Decoding the same token repeatedly is safe and yields the same payment id.
func (s *Service) DecodeIntent(ctx context.Context, token string) (*DecodedIntent, error) {
	payload, ok := s.codec.Decode(token)
	if !ok {
		return nil, ErrInvalidToken
	}

	id := PaymentID(payload.UserID, payload.Tier, payload.IssuedAtMs)
	if _, err := s.records.CreateIfAbsent(ctx, &Record{
		ID:          id,
		UserID:      payload.UserID,
		Tier:        payload.Tier,
		Amount:      payload.AmountMinorUnits,
		Status:      StatusPending,
		CreatedAtMs: payload.IssuedAtMs,
	}); err != nil {
		return nil, fmt.Errorf("failed to store payment record: %w", err)
	}

	return &DecodedIntent{
		UserID:    payload.UserID,
		Tier:      payload.Tier,
		Amount:    payload.AmountMinorUnits,
		PaymentID: id,
	}, nil
}

// Status returns the stored record for paymentID.
func (s *Service) Status(ctx context.Context, paymentID string) (*Record, error) {
	if paymentID == "" {
		return nil, ErrRecordNotFound
	}
	return s.records.Get(ctx, paymentID)
}

// Fail marks a pending payment as failed, opening its retry window.
func (s *Service) Fail(ctx context.Context, paymentID string) (*Record, error) {
	unlock := s.locks.Lock(paymentID)
	defer unlock()

	rec, err := s.records.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	switch rec.Status {
	case StatusCompleted:
		return nil, ErrDuplicatePayment
	case StatusFailed:
		return rec, nil
	}
	if err := s.records.Merge(ctx, paymentID, StatusPatch(StatusFailed)); err != nil {
		return nil, err
	}
	rec.Status = StatusFailed
	s.logger.Info("payment marked failed", F("payment_id", paymentID), F("user_id", rec.UserID))
	return rec, nil
}

// Verify runs the user-facing "I paid" flow.
//
// Once Verify reaches the subscription write the payment is treated as
// captured: the record is marked completed and success is returned whatever
// the write outcome. If the write outlives UpdateTimeout it keeps running
// detached from ctx and a background retry is scheduled.
//
// Record writes from the failed->pending reset onwards do not observe the
// caller's cancellation, so a client that disconnects mid-verify cannot leave
// the subscription written and the record pending.
//
// Calls for the same paymentID are serialized within this process.
func (s *Service) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	start := s.now()
	defer func() { s.metrics.RecordVerifyDuration(s.now().Sub(start)) }()

	if req.PaymentID == "" || strings.TrimSpace(req.UserID) == "" {
		s.metrics.RecordVerification("error")
		return nil, ErrInvalidUser
	}
	if !req.Tier.Valid() {
		s.metrics.RecordVerification("error")
		return nil, ErrInvalidTier
	}

	unlock := s.locks.Lock(req.PaymentID)
	defer unlock()

	rec, err := s.loadOrRecreate(ctx, req)
	if err != nil {
		s.metrics.RecordVerification("error")
		return nil, err
	}

	switch rec.Status {
	case StatusCompleted:
		s.logger.Warn("duplicate payment verification",
			F("payment_id", req.PaymentID), F("user_id", req.UserID))
		s.metrics.RecordVerification("duplicate")
		return nil, ErrDuplicatePayment
	case StatusFailed:
		if age := s.now().Sub(rec.CreatedAt()); age >= s.retryWindow {
			s.logger.Warn("failed payment outside retry window",
				F("payment_id", req.PaymentID), F("age", age.String()))
			s.metrics.RecordVerification("non_retryable")
			return nil, ErrNonRetryablePayment
		}
		if err := s.mergeDetached(ctx, req.PaymentID, StatusPending); err != nil {
			s.metrics.RecordVerification("error")
			return nil, err
		}
		rec.Status = StatusPending
		s.logger.Info("retrying failed payment", F("payment_id", req.PaymentID))
	}

	if rec.UserID != req.UserID || rec.Tier != req.Tier {
		s.logger.Warn("payment data mismatch",
			F("payment_id", req.PaymentID),
			F("record_user_id", rec.UserID), F("request_user_id", req.UserID),
			F("record_tier", rec.Tier), F("request_tier", req.Tier))
		s.metrics.RecordVerification("mismatch")
		return nil, ErrDataMismatch
	}
	if rec.Amount != req.Amount {
		s.logger.Warn("payment amount differs from record",
			F("payment_id", req.PaymentID), F("record_amount", rec.Amount), F("request_amount", req.Amount))
	}

	timedOut := s.raceUpdate(ctx, req)

	if err := s.mergeDetached(ctx, req.PaymentID, StatusCompleted); err != nil {
		s.metrics.RecordVerification("error")
		return nil, err
	}

	if timedOut {
		s.scheduleRetry(req)
		s.metrics.RecordVerification("timeout")
	} else {
		s.metrics.RecordVerification("success")
	}

	return &VerifyResult{Success: true, PaymentID: req.PaymentID, Tier: req.Tier}, nil
}

// mergeDetached sets the record status on a context that outlives ctx.
func (s *Service) mergeDetached(ctx context.Context, paymentID string, status Status) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.recordTimeout)
	defer cancel()
	return s.records.Merge(wctx, paymentID, StatusPatch(status))
}

// Drain waits for subscription writes that were still running when their
// Verify call returned. When ctx ends first the remaining writes are logged
// as abandoned and ctx.Err() is returned.
func (s *Service) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.writes.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.logger.Warn("abandoning detached subscription writes",
			F("count", s.pendingWrites.Load()), F("error", ctx.Err().Error()))
		return ctx.Err()
	}
}

func (s *Service) loadOrRecreate(ctx context.Context, req VerifyRequest) (*Record, error) {
	rec, err := s.records.Get(ctx, req.PaymentID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, ErrRecordNotFound) {
		return nil, err
	}

	s.logger.Info("payment record missing, recreating from request",
		F("payment_id", req.PaymentID), F("user_id", req.UserID), F("tier", req.Tier))
	return s.records.CreateIfAbsent(ctx, &Record{
		ID:          req.PaymentID,
		UserID:      req.UserID,
		Tier:        req.Tier,
		Amount:      req.Amount,
		Status:      StatusPending,
		CreatedAtMs: s.now().UnixMilli(),
	})
}

// raceUpdate reports true when the timer fired before the write finished.
// The write is never cancelled by the timer; its late result is only logged.
func (s *Service) raceUpdate(ctx context.Context, req VerifyRequest) bool {
	updCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.detachedTimeout)
	done := make(chan error, 1)
	s.writes.Add(1)
	s.pendingWrites.Add(1)
	go func() {
		defer cancel()
		done <- s.updater.Set(updCtx, req.UserID, req.Tier)
	}()

	timer := time.NewTimer(s.updateTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		s.writeFinished()
		if err != nil {
			s.logger.Error("subscription update failed during verification; payment completed, awaiting reconciliation",
				F("payment_id", req.PaymentID), F("user_id", req.UserID), F("tier", req.Tier), F("error", err.Error()))
		} else {
			s.logger.Info("subscription updated during verification",
				F("payment_id", req.PaymentID), F("user_id", req.UserID), F("tier", req.Tier))
		}
		return false
	case <-timer.C:
		s.logger.Warn("subscription update timed out, completing payment",
			F("payment_id", req.PaymentID), F("user_id", req.UserID), F("timeout", s.updateTimeout.String()))
		go func() {
			defer s.writeFinished()
			if err := <-done; err != nil {
				s.logger.Error("late subscription update failed",
					F("payment_id", req.PaymentID), F("user_id", req.UserID), F("error", err.Error()))
				return
			}
			s.logger.Info("late subscription update finished",
				F("payment_id", req.PaymentID), F("user_id", req.UserID))
		}()
		return true
	}
}

func (s *Service) writeFinished() {
	s.pendingWrites.Add(-1)
	s.writes.Done()
}

func (s *Service) scheduleRetry(req VerifyRequest) {
	if s.retries == nil {
		s.logger.Warn("no retry dispatcher configured, relying on webhook reconciliation",
			F("payment_id", req.PaymentID), F("user_id", req.UserID))
		return
	}
	if err := s.retries.Schedule(req.UserID, req.Tier); err != nil {
		s.logger.Error("failed to schedule background retry",
			F("payment_id", req.PaymentID), F("user_id", req.UserID), F("error", err.Error()))
	}
}
