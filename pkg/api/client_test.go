package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/paysync/pkg/payment"
)

func TestUpgradeClient_Success(t *testing.T) {
	f := newAPIFixture(t, nil)
	server := httptest.NewServer(f.router)
	defer server.Close()

	client := NewUpgradeClient(server.URL+"/", testInternalToken, server.Client())
	require.NoError(t, client.Upgrade(context.Background(), "u7", payment.TierPremium))

	tier, _ := f.users.Subscription("u7")
	assert.Equal(t, payment.TierPremium, tier)
}

func TestUpgradeClient_WrongToken(t *testing.T) {
	f := newAPIFixture(t, nil)
	server := httptest.NewServer(f.router)
	defer server.Close()

	err := NewUpgradeClient(server.URL, "wrong", nil).Upgrade(context.Background(), "u7", payment.TierPremium)
	require.Error(t, err)
	assert.False(t, payment.IsTransient(err))
}

func TestUpgradeClient_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, UpgradeResponse{Error: codeSubscriptionError})
	}))
	defer server.Close()

	err := NewUpgradeClient(server.URL, testInternalToken, nil).Upgrade(context.Background(), "u7", payment.TierTeam)
	require.Error(t, err)
	assert.True(t, payment.IsTransient(err))
	assert.Contains(t, err.Error(), codeSubscriptionError)
}

func TestUpgradeClient_RunsThroughDispatcher(t *testing.T) {
	f := newAPIFixture(t, nil)
	server := httptest.NewServer(f.router)
	defer server.Close()

	dispatcher, err := payment.NewDispatcher(NewUpgradeClient(server.URL, testInternalToken, nil), payment.DispatcherConfig{Workers: 1})
	require.NoError(t, err)
	dispatcher.Start(context.Background())

	require.NoError(t, dispatcher.Schedule("u8", payment.TierTeam))
	dispatcher.Close()

	tier, _ := f.users.Subscription("u8")
	assert.Equal(t, payment.TierTeam, tier)
}
