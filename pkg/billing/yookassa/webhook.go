package yookassa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mihaimyh/paysync/pkg/billing"
	"github.com/mihaimyh/paysync/pkg/billing/internal"
	"github.com/mihaimyh/paysync/pkg/payment"
)

const (
	eventPaymentSucceeded    = "payment.succeeded"
	statusSucceeded          = "succeeded"
	signatureHeader          = "X-Webhook-Signature"
	unsignedWebhookWarning   = "YOOKASSA WEBHOOK SIGNATURE VERIFICATION DISABLED: no webhook secret configured, accepting unsigned notifications"
	errorTypeInvalidPayload  = "invalid_payload"
	errorTypePayloadTooLarge = "payload_too_large"
	errorTypeAuthFailed      = "auth_failed"
	errorTypeUnresolvable    = "unresolvable_event"
)

// notification is the YooKassa notification body
type notification struct {
	Type   string `json:"type"`
	Event  string `json:"event"`
	Object struct {
		ID        string            `json:"id"`
		Status    string            `json:"status"`
		CreatedAt string            `json:"created_at"`
		Metadata  map[string]string `json:"metadata"`
	} `json:"object"`
}

func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	internal.SetSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := internal.ReadBodyStrict(w, r, internal.MaxWebhookBody)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			p.metrics.RecordWebhookError(providerName, errorTypePayloadTooLarge)
		} else {
			http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
			p.metrics.RecordWebhookError(providerName, errorTypeInvalidPayload)
		}
		return
	}

	var n notification
	if err := json.Unmarshal(body, &n); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		p.metrics.RecordWebhookError(providerName, errorTypeInvalidPayload)
		return
	}

	if err := p.verifySignature(body, r.Header.Get(signatureHeader)); err != nil {
		p.logger.Warn("yookassa webhook signature rejected", payment.F("payment_id", n.Object.ID))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		p.metrics.RecordWebhookError(providerName, errorTypeAuthFailed)
		return
	}

	if err := p.processNotification(r.Context(), &n); err != nil {
		p.logger.Error("yookassa webhook not applied",
			payment.F("payment_id", n.Object.ID), payment.F("event_type", n.Event), payment.F("error", err.Error()))
	}
	p.metrics.RecordWebhookProcessingDuration(providerName, n.Event, time.Since(startTime))

	_ = internal.Ack(w) //nolint:errcheck // Client went away; nothing to do
}

func (p *Provider) verifySignature(body []byte, signature string) error {
	if p.webhookSecret == "" {
		p.logger.Warn(unsignedWebhookWarning)
		return nil
	}
	if !internal.VerifyHMACSHA256(body, signature, p.webhookSecret) {
		return billing.ErrInvalidWebhookSignature
	}
	return nil
}

func (p *Provider) processNotification(ctx context.Context, n *notification) error {
	if n.Event != eventPaymentSucceeded || n.Object.Status != statusSucceeded {
		p.metrics.RecordWebhookEvent(providerName, n.Event, "ignored")
		return nil
	}

	ev, err := succeededEvent(n)
	if err != nil {
		p.metrics.RecordWebhookError(providerName, errorTypeUnresolvable)
		return err
	}
	return p.reconciler.Apply(ctx, *ev)
}

// succeededEvent pulls (userId, tier) out of the payment metadata.
func succeededEvent(n *notification) (*billing.WebhookEvent, error) {
	md := n.Object.Metadata
	userID := md["userId"]
	if userID == "" {
		userID = md["user_id"]
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: payment %s", billing.ErrMissingUserID, n.Object.ID)
	}
	rawTier := md["subscription"]
	if rawTier == "" {
		rawTier = md["tier"]
	}
	tier, err := payment.ParseTier(rawTier)
	if err != nil {
		return nil, fmt.Errorf("payment %s: %w", n.Object.ID, err)
	}

	ev := &billing.WebhookEvent{
		EventID:   n.Object.ID,
		EventType: n.Event,
		UserID:    userID,
		Tier:      tier,
		Metadata:  md,
	}
	if ts, err := time.Parse(time.RFC3339, n.Object.CreatedAt); err == nil {
		ev.EventTimestamp = ts.UTC()
	}
	return ev, nil
}
