package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mihaimyh/paysync/pkg/payment"
)

const upgradePath = "/internal/subscription/upgrade"

// UpgradeClient calls the internal upgrade endpoint of another instance.
// It implements payment.Upgrader so the retry dispatcher can run out of process.
type UpgradeClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewUpgradeClient creates a client for baseURL. httpClient may be nil.
func NewUpgradeClient(baseURL, token string, httpClient *http.Client) *UpgradeClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &UpgradeClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
	}
}

// Upgrade posts (userID, tier) to the internal endpoint.
func (c *UpgradeClient) Upgrade(ctx context.Context, userID string, tier payment.Tier) error {
	body, err := json.Marshal(UpgradeRequest{UserID: userID, SubscriptionTier: tier.String()})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+upgradePath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(internalTokenHeader, c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return payment.ClassifyNetError("internal_upgrade", err)
	}
	defer resp.Body.Close()

	var out UpgradeResponse
	_ = json.NewDecoder(resp.Body).Decode(&out) //nolint:errcheck // Status code is authoritative
	if resp.StatusCode != http.StatusOK || !out.Success {
		err := fmt.Errorf("internal upgrade returned %d: %s", resp.StatusCode, out.Error)
		if resp.StatusCode >= http.StatusInternalServerError {
			return payment.Transient("internal_upgrade", err)
		}
		return payment.Fatal("internal_upgrade", err)
	}
	return nil
}

var _ payment.Upgrader = (*UpgradeClient)(nil)
