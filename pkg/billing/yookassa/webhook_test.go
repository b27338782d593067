package yookassa

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/paysync/pkg/billing"
	"github.com/mihaimyh/paysync/pkg/billing/internal"
	"github.com/mihaimyh/paysync/pkg/payment"
	"github.com/mihaimyh/paysync/storage/memory"
)

const testSecret = "yk_test_secret"

type recordingSetter struct {
	mu    sync.Mutex
	calls int
	users *memory.Users
	err   error
}

func (s *recordingSetter) Set(ctx context.Context, userID string, tier payment.Tier) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	return s.users.SetSubscription(ctx, userID, tier)
}

func newTestProvider(t *testing.T, secret string) (*Provider, *recordingSetter) {
	t.Helper()
	setter := &recordingSetter{users: memory.NewUsers()}
	provider, err := NewProvider(billing.Config{
		Updater:       setter,
		WebhookSecret: secret,
		RateLimit:     1000,
		RateBurst:     1000,
	})
	require.NoError(t, err)
	return provider, setter
}

func notificationBody(t *testing.T, event, status string, metadata map[string]string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"type":  "notification",
		"event": event,
		"object": map[string]interface{}{
			"id":         "2d6b7c1f-000f-5000-9000-1b2c3d4e5f60",
			"status":     status,
			"created_at": "2026-01-02T03:04:05.000Z",
			"metadata":   metadata,
		},
	})
	require.NoError(t, err)
	return body
}

func post(provider *Provider, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/yookassa", strings.NewReader(string(body)))
	if signature != "" {
		req.Header.Set(signatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	provider.WebhookHandler().ServeHTTP(rec, req)
	return rec
}

func TestNewProvider_RequiresUpdater(t *testing.T) {
	_, err := NewProvider(billing.Config{})
	assert.ErrorIs(t, err, billing.ErrProviderNotConfigured)
}

func TestWebhook_PaymentSucceeded(t *testing.T) {
	provider, setter := newTestProvider(t, testSecret)
	body := notificationBody(t, "payment.succeeded", "succeeded", map[string]string{"userId": "u1", "subscription": "premium"})

	rec := post(provider, body, internal.SignHMACSHA256(body, testSecret))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())
	tier, ok := setter.users.Subscription("u1")
	require.True(t, ok)
	assert.Equal(t, payment.TierPremium, tier)
}

func TestWebhook_DuplicateDelivery(t *testing.T) {
	provider, setter := newTestProvider(t, testSecret)
	body := notificationBody(t, "payment.succeeded", "succeeded", map[string]string{"user_id": "u1", "tier": "team"})
	sig := internal.SignHMACSHA256(body, testSecret)

	assert.Equal(t, http.StatusOK, post(provider, body, sig).Code)
	assert.Equal(t, http.StatusOK, post(provider, body, sig).Code)

	assert.Equal(t, 2, setter.calls)
	tier, _ := setter.users.Subscription("u1")
	assert.Equal(t, payment.TierTeam, tier)
}

func TestWebhook_InvalidSignature(t *testing.T) {
	provider, setter := newTestProvider(t, testSecret)
	body := notificationBody(t, "payment.succeeded", "succeeded", map[string]string{"userId": "u1", "subscription": "premium"})

	assert.Equal(t, http.StatusUnauthorized, post(provider, body, internal.SignHMACSHA256(body, "other")).Code)
	assert.Equal(t, http.StatusUnauthorized, post(provider, body, "").Code)
	assert.Equal(t, http.StatusUnauthorized, post(provider, body, "not-hex").Code)
	assert.Zero(t, setter.calls)
}

func TestWebhook_UnsignedMode(t *testing.T) {
	provider, setter := newTestProvider(t, "")
	body := notificationBody(t, "payment.succeeded", "succeeded", map[string]string{"userId": "u1", "subscription": "premium"})

	assert.Equal(t, http.StatusOK, post(provider, body, "").Code)
	assert.Equal(t, 1, setter.calls)
}

func TestWebhook_IgnoredAndUnresolvable(t *testing.T) {
	tests := []struct {
		name   string
		event  string
		status string
		md     map[string]string
	}{
		{"canceled event", "payment.canceled", "canceled", map[string]string{"userId": "u1", "subscription": "premium"}},
		{"succeeded event with pending status", "payment.succeeded", "pending", map[string]string{"userId": "u1", "subscription": "premium"}},
		{"missing user", "payment.succeeded", "succeeded", map[string]string{"subscription": "premium"}},
		{"bad tier", "payment.succeeded", "succeeded", map[string]string{"userId": "u1", "subscription": "gold"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, setter := newTestProvider(t, testSecret)
			body := notificationBody(t, tt.event, tt.status, tt.md)

			rec := post(provider, body, internal.SignHMACSHA256(body, testSecret))

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Zero(t, setter.calls)
		})
	}
}

func TestWebhook_UpdateFailureStillAcknowledged(t *testing.T) {
	provider, setter := newTestProvider(t, testSecret)
	setter.err = payment.Fatal("set_subscription", errors.New("db down"))
	body := notificationBody(t, "payment.succeeded", "succeeded", map[string]string{"userId": "u1", "subscription": "premium"})

	rec := post(provider, body, internal.SignHMACSHA256(body, testSecret))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, setter.calls)
}

func TestWebhook_MalformedRequests(t *testing.T) {
	provider, _ := newTestProvider(t, testSecret)

	rec := httptest.NewRecorder()
	provider.WebhookHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/webhooks/yookassa", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	assert.Equal(t, http.StatusBadRequest, post(provider, []byte("{oops"), "").Code)
	assert.Equal(t, http.StatusBadRequest, post(provider, nil, "").Code)
	assert.Equal(t, http.StatusRequestEntityTooLarge, post(provider, []byte(strings.Repeat("a", internal.MaxWebhookBody+1)), "").Code)
}
