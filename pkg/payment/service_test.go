package payment

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type serviceFixture struct {
	svc     *Service
	records *memRecords
	subs    *fakeSubs
	retries *fakeScheduler
	metrics *recordingMetrics
	clock   *testClock
}

func newServiceFixture(t *testing.T, mutate func(*Config)) *serviceFixture {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
	codec, err := NewTokenCodec("service-secret", WithTokenClock(clock.Now))
	require.NoError(t, err)

	subs := newFakeSubs()
	updater, err := NewUpdater(subs, UpdaterConfig{Sleep: (&noSleep{}).Sleep})
	require.NoError(t, err)

	f := &serviceFixture{
		records: newMemRecords(),
		subs:    subs,
		retries: &fakeScheduler{},
		metrics: newRecordingMetrics(),
		clock:   clock,
	}
	cfg := Config{
		Codec:   codec,
		Records: f.records,
		Updater: updater,
		Retries: f.retries,
		BaseURL: "https://app.example.com/",
		Clock:   clock.Now,
		Metrics: f.metrics,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f.svc, err = NewService(cfg)
	require.NoError(t, err)
	return f
}

func (f *serviceFixture) createAndDecode(t *testing.T, userID string, tier Tier, amount int64) *DecodedIntent {
	t.Helper()
	ctx := context.Background()
	intent, err := f.svc.CreateIntent(ctx, userID, tier, amount)
	require.NoError(t, err)
	decoded, err := f.svc.DecodeIntent(ctx, intent.Token)
	require.NoError(t, err)
	require.Equal(t, intent.PaymentID, decoded.PaymentID)
	return decoded
}

func TestService_CreateIntent(t *testing.T) {
	f := newServiceFixture(t, nil)

	intent, err := f.svc.CreateIntent(context.Background(), "u1", TierPremium, 499)
	require.NoError(t, err)

	assert.NotEmpty(t, intent.Token)
	assert.Equal(t, "https://app.example.com/payment/"+intent.Token, intent.URL)
	assert.Equal(t, PaymentID("u1", TierPremium, f.clock.Now().UnixMilli()), intent.PaymentID)

	_, err = f.records.Get(context.Background(), intent.PaymentID)
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestService_CreateIntent_Validation(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.CreateIntent(ctx, " ", TierPremium, 1)
	assert.ErrorIs(t, err, ErrInvalidUser)
	_, err = f.svc.CreateIntent(ctx, "u1", "platinum", 1)
	assert.ErrorIs(t, err, ErrInvalidTier)
	_, err = f.svc.CreateIntent(ctx, "u1", TierPremium, -5)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

type stubLinker struct {
	url string
	err error
}

func (s stubLinker) CheckoutURL(context.Context, IntentPayload, string) (string, error) {
	return s.url, s.err
}

func TestService_CreateIntent_CheckoutLinker(t *testing.T) {
	f := newServiceFixture(t, func(c *Config) {
		c.Checkout = stubLinker{url: "https://checkout.example.com/s/abc"}
	})
	intent, err := f.svc.CreateIntent(context.Background(), "u1", TierPremium, 499)
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.example.com/s/abc", intent.URL)

	f = newServiceFixture(t, func(c *Config) {
		c.Checkout = stubLinker{err: errors.New("provider down")}
	})
	intent, err = f.svc.CreateIntent(context.Background(), "u1", TierPremium, 499)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(intent.URL, "https://app.example.com/payment/"))
}

func TestService_DecodeIntent_Idempotent(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()

	intent, err := f.svc.CreateIntent(ctx, "u1", TierTeam, 1500)
	require.NoError(t, err)

	first, err := f.svc.DecodeIntent(ctx, intent.Token)
	require.NoError(t, err)
	second, err := f.svc.DecodeIntent(ctx, intent.Token)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	rec, err := f.svc.Status(ctx, first.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, "u1", rec.UserID)
	assert.Equal(t, TierTeam, rec.Tier)
	assert.Equal(t, int64(1500), rec.Amount)
	assert.Equal(t, f.clock.Now().UnixMilli(), rec.CreatedAtMs)
}

func TestService_DecodeIntent_Invalid(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.DecodeIntent(ctx, "garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)

	intent, err := f.svc.CreateIntent(ctx, "u1", TierPremium, 1)
	require.NoError(t, err)
	f.clock.Advance(25 * time.Hour)
	_, err = f.svc.DecodeIntent(ctx, intent.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestService_Verify_HappyPathThenDuplicate(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()
	decoded := f.createAndDecode(t, "u1", TierPremium, 499)

	req := VerifyRequest{PaymentID: decoded.PaymentID, UserID: "u1", Tier: TierPremium, Amount: 499}
	res, err := f.svc.Verify(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, TierPremium, res.Tier)

	rec, err := f.svc.Status(ctx, decoded.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Equal(t, TierPremium, f.subs.Tier("u1"))
	assert.Equal(t, 1, f.subs.Calls())
	assert.Empty(t, f.retries.Calls())

	_, err = f.svc.Verify(ctx, req)
	assert.ErrorIs(t, err, ErrDuplicatePayment)
	assert.Equal(t, 1, f.subs.Calls())
	assert.Equal(t, 1, f.metrics.verification("success"))
	assert.Equal(t, 1, f.metrics.verification("duplicate"))
}

func TestService_Verify_SlowStoreSchedulesRetry(t *testing.T) {
	f := newServiceFixture(t, func(c *Config) {
		c.UpdateTimeout = 20 * time.Millisecond
		c.DetachedTimeout = 5 * time.Second
	})
	f.subs.delay = 200 * time.Millisecond
	decoded := f.createAndDecode(t, "u1", TierPremium, 499)

	start := time.Now()
	res, err := f.svc.Verify(context.Background(), VerifyRequest{
		PaymentID: decoded.PaymentID, UserID: "u1", Tier: TierPremium, Amount: 499,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Less(t, time.Since(start), 150*time.Millisecond)

	rec, err := f.svc.Status(context.Background(), decoded.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Equal(t, []scheduleCall{{"u1", TierPremium}}, f.retries.Calls())
	assert.Equal(t, 1, f.metrics.verification("timeout"))

	// The original write keeps running after Verify returns.
	assert.Eventually(t, func() bool {
		return f.subs.Tier("u1") == TierPremium
	}, 2*time.Second, 10*time.Millisecond)
}

func TestService_Verify_WriteSurvivesCallerCancel(t *testing.T) {
	f := newServiceFixture(t, func(c *Config) {
		c.UpdateTimeout = 20 * time.Millisecond
	})
	f.subs.delay = 100 * time.Millisecond
	decoded := f.createAndDecode(t, "u1", TierTeam, 1)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := f.svc.Verify(ctx, VerifyRequest{PaymentID: decoded.PaymentID, UserID: "u1", Tier: TierTeam, Amount: 1})
	require.NoError(t, err)
	cancel()

	assert.Eventually(t, func() bool {
		return f.subs.Tier("u1") == TierTeam
	}, 2*time.Second, 10*time.Millisecond)
}

func TestService_Verify_CallerCancelDuringWrite(t *testing.T) {
	records := ctxRecords{newMemRecords()}
	f := newServiceFixture(t, func(c *Config) {
		c.Records = records
	})
	f.subs.delay = 100 * time.Millisecond
	decoded := f.createAndDecode(t, "u1", TierPremium, 499)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(30*time.Millisecond, cancel)

	res, err := f.svc.Verify(ctx, VerifyRequest{
		PaymentID: decoded.PaymentID, UserID: "u1", Tier: TierPremium, Amount: 499,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, TierPremium, f.subs.Tier("u1"))

	rec, err := records.Get(context.Background(), decoded.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)
}

func TestService_Drain(t *testing.T) {
	t.Run("waits for detached writes", func(t *testing.T) {
		f := newServiceFixture(t, func(c *Config) {
			c.UpdateTimeout = 20 * time.Millisecond
		})
		f.subs.delay = 150 * time.Millisecond
		decoded := f.createAndDecode(t, "u1", TierPremium, 499)

		_, err := f.svc.Verify(context.Background(), VerifyRequest{
			PaymentID: decoded.PaymentID, UserID: "u1", Tier: TierPremium, Amount: 499,
		})
		require.NoError(t, err)
		assert.Empty(t, f.subs.Tier("u1"))

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, f.svc.Drain(ctx))
		assert.Equal(t, TierPremium, f.subs.Tier("u1"))
	})

	t.Run("gives up when the deadline passes", func(t *testing.T) {
		f := newServiceFixture(t, func(c *Config) {
			c.UpdateTimeout = 10 * time.Millisecond
		})
		f.subs.delay = 500 * time.Millisecond
		decoded := f.createAndDecode(t, "u1", TierPremium, 499)

		_, err := f.svc.Verify(context.Background(), VerifyRequest{
			PaymentID: decoded.PaymentID, UserID: "u1", Tier: TierPremium, Amount: 499,
		})
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, f.svc.Drain(ctx), context.DeadlineExceeded)
	})

	t.Run("nothing in flight", func(t *testing.T) {
		f := newServiceFixture(t, nil)
		assert.NoError(t, f.svc.Drain(context.Background()))
	})
}

func TestService_Verify_FastFailureStillCompletes(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.subs.errs = []error{Fatal("set_subscription", errors.New("user not found"))}
	decoded := f.createAndDecode(t, "u1", TierPremium, 499)

	res, err := f.svc.Verify(context.Background(), VerifyRequest{
		PaymentID: decoded.PaymentID, UserID: "u1", Tier: TierPremium, Amount: 499,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, f.retries.Calls())

	rec, err := f.svc.Status(context.Background(), decoded.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)
}

func TestService_Verify_RetryWindow(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		wantErr error
	}{
		{"inside window", 5 * time.Minute, nil},
		{"outside window", 11 * time.Minute, ErrNonRetryablePayment},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture(t, nil)
			ctx := context.Background()
			decoded := f.createAndDecode(t, "u1", TierPremium, 499)

			_, err := f.svc.Fail(ctx, decoded.PaymentID)
			require.NoError(t, err)
			f.clock.Advance(tt.elapsed)

			res, err := f.svc.Verify(ctx, VerifyRequest{
				PaymentID: decoded.PaymentID, UserID: "u1", Tier: TierPremium, Amount: 499,
			})
			rec, getErr := f.svc.Status(ctx, decoded.PaymentID)
			require.NoError(t, getErr)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, StatusFailed, rec.Status)
				assert.Equal(t, 0, f.subs.Calls())
				return
			}
			require.NoError(t, err)
			assert.True(t, res.Success)
			assert.Equal(t, StatusCompleted, rec.Status)
		})
	}
}

func TestService_Verify_Mismatch(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()
	decoded := f.createAndDecode(t, "u1", TierPremium, 499)

	_, err := f.svc.Verify(ctx, VerifyRequest{PaymentID: decoded.PaymentID, UserID: "u2", Tier: TierPremium, Amount: 499})
	assert.ErrorIs(t, err, ErrDataMismatch)
	_, err = f.svc.Verify(ctx, VerifyRequest{PaymentID: decoded.PaymentID, UserID: "u1", Tier: TierTeam, Amount: 499})
	assert.ErrorIs(t, err, ErrDataMismatch)
	assert.Equal(t, 0, f.subs.Calls())

	rec, err := f.svc.Status(ctx, decoded.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, rec.Status)
}

func TestService_Verify_AmountDifferenceAllowed(t *testing.T) {
	f := newServiceFixture(t, nil)
	decoded := f.createAndDecode(t, "u1", TierPremium, 499)

	res, err := f.svc.Verify(context.Background(), VerifyRequest{
		PaymentID: decoded.PaymentID, UserID: "u1", Tier: TierPremium, Amount: 1,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestService_Verify_RecreatesLostRecord(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()
	decoded := f.createAndDecode(t, "u1", TierPremium, 499)
	f.records.delete(decoded.PaymentID)

	res, err := f.svc.Verify(ctx, VerifyRequest{PaymentID: decoded.PaymentID, UserID: "u1", Tier: TierPremium, Amount: 499})
	require.NoError(t, err)
	assert.True(t, res.Success)

	rec, err := f.svc.Status(ctx, decoded.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Equal(t, TierPremium, f.subs.Tier("u1"))
}

func TestService_Verify_ConcurrentSamePayment(t *testing.T) {
	f := newServiceFixture(t, nil)
	decoded := f.createAndDecode(t, "u1", TierPremium, 499)
	req := VerifyRequest{PaymentID: decoded.PaymentID, UserID: "u1", Tier: TierPremium, Amount: 499}

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		successes  int
		duplicates int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Verify(context.Background(), req)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrDuplicatePayment):
				duplicates++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 9, duplicates)
	assert.Equal(t, 1, f.subs.Calls())
}

func TestService_Verify_Validation(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Verify(ctx, VerifyRequest{UserID: "u1", Tier: TierPremium})
	assert.ErrorIs(t, err, ErrInvalidUser)
	_, err = f.svc.Verify(ctx, VerifyRequest{PaymentID: "p", UserID: "u1", Tier: "x"})
	assert.ErrorIs(t, err, ErrInvalidTier)
}

func TestService_Fail(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()
	decoded := f.createAndDecode(t, "u1", TierPremium, 499)

	rec, err := f.svc.Fail(ctx, decoded.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)

	rec, err = f.svc.Fail(ctx, decoded.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)

	_, err = f.svc.Fail(ctx, "missing")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestService_Fail_CompletedPayment(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()
	decoded := f.createAndDecode(t, "u1", TierPremium, 499)

	_, err := f.svc.Verify(ctx, VerifyRequest{PaymentID: decoded.PaymentID, UserID: "u1", Tier: TierPremium, Amount: 499})
	require.NoError(t, err)

	_, err = f.svc.Fail(ctx, decoded.PaymentID)
	assert.ErrorIs(t, err, ErrDuplicatePayment)
}

func TestService_Status_NotFound(t *testing.T) {
	f := newServiceFixture(t, nil)
	_, err := f.svc.Status(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrRecordNotFound)
	_, err = f.svc.Status(context.Background(), "")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestPaymentID_Deterministic(t *testing.T) {
	a := PaymentID("u1", TierPremium, 1000)
	assert.Equal(t, a, PaymentID("u1", TierPremium, 1000))
	assert.NotEqual(t, a, PaymentID("u1", TierPremium, 1001))
	assert.NotEqual(t, a, PaymentID("u1", TierTeam, 1000))
	assert.NotEqual(t, a, PaymentID("u2", TierPremium, 1000))
}

func TestKeyedMutex_ReleasesKeys(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("a")
	unlock()
	assert.Empty(t, k.locks)
}
