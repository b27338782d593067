package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/mihaimyh/paysync/pkg/payment"
)

const (
	maxRequestBody      = 64 * 1024
	internalTokenHeader = "X-Internal-Token"
)

// Handler provides the HTTP endpoints of the payment lifecycle
type Handler struct {
	config   Config
	validate *validator.Validate
}

// CreateIntent handles POST /api/payment/create
func (h *Handler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if !h.authorize(w, r, &req.UserID) {
		return
	}
	if !h.validRequest(w, &req) {
		return
	}

	intent, err := h.config.Service.CreateIntent(r.Context(), req.UserID, payment.Tier(req.SubscriptionTier), req.Amount)
	if err != nil {
		h.serviceError(w, r, "create", err, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, CreateResponse{Token: intent.Token, URL: intent.URL, PaymentID: intent.PaymentID})
}

// DecodeIntent handles GET /api/payment/decode?token=
func (h *Handler) DecodeIntent(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "token is required", nil)
		return
	}
	decoded, err := h.config.Service.DecodeIntent(r.Context(), token)
	if err != nil {
		h.serviceError(w, r, "decode", err, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, decoded)
}

// Status handles GET /api/payment/status?paymentId=
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	paymentID := r.URL.Query().Get("paymentId")
	if paymentID == "" {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "paymentId is required", nil)
		return
	}
	rec, err := h.config.Service.Status(r.Context(), paymentID)
	if err != nil {
		h.serviceError(w, r, "status", err, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: string(rec.Status), SubscriptionTier: rec.Tier.String()})
}

// Verify handles POST /api/payment/verify. Failures carry a generic message
// and a machine code only.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if !h.authorize(w, r, &req.UserID) {
		return
	}
	if !h.validRequest(w, &req) {
		return
	}

	result, err := h.config.Service.Verify(r.Context(), payment.VerifyRequest{
		PaymentID: req.PaymentID,
		UserID:    req.UserID,
		Tier:      payment.Tier(req.SubscriptionTier),
		Amount:    req.Amount,
	})
	if err != nil {
		h.serviceError(w, r, "verify", err, genericPaymentError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Fail handles POST /api/payment/fail
func (h *Handler) Fail(w http.ResponseWriter, r *http.Request) {
	var req FailRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if !h.validRequest(w, &req) {
		return
	}

	rec, err := h.config.Service.Fail(r.Context(), req.PaymentID)
	if errors.Is(err, payment.ErrDuplicatePayment) {
		writeError(w, http.StatusConflict, codeAlreadyCompleted, "payment already completed", nil)
		return
	}
	if err != nil {
		h.serviceError(w, r, "fail", err, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: string(rec.Status), SubscriptionTier: rec.Tier.String()})
}

// Upgrade handles POST /internal/subscription/upgrade, the out-of-process
// target of background retries.
func (h *Handler) Upgrade(w http.ResponseWriter, r *http.Request) {
	got := r.Header.Get(internalTokenHeader)
	if h.config.InternalToken == "" ||
		subtle.ConstantTimeCompare([]byte(got), []byte(h.config.InternalToken)) != 1 {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "unauthorized", nil)
		return
	}

	var req UpgradeRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if !h.validRequest(w, &req) {
		return
	}

	if err := h.config.Updater.Set(r.Context(), req.UserID, payment.Tier(req.SubscriptionTier)); err != nil {
		h.config.Logger.Error("internal subscription upgrade failed",
			payment.F("user_id", req.UserID), payment.F("tier", req.SubscriptionTier), payment.F("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, UpgradeResponse{Success: false, Error: codeSubscriptionError})
		return
	}
	writeJSON(w, http.StatusOK, UpgradeResponse{Success: true})
}

// Health handles GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.config.HealthCheck != nil {
		if err := h.config.HealthCheck(r.Context()); err != nil {
			h.config.Logger.Warn("health check failed", payment.F("error", err.Error()))
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok")
}

// authorize fills or checks *userID against the authenticated user.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, userID *string) bool {
	if h.config.GetUserID == nil {
		return true
	}
	current := h.config.GetUserID(r)
	if current == "" {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "user ID not found", nil)
		return false
	}
	if *userID == "" {
		*userID = current
		return true
	}
	if *userID != current {
		h.config.Logger.Warn("request names a different user",
			payment.F("user_id", current), payment.F("request_user_id", *userID), payment.F("path", r.URL.Path))
		writeError(w, http.StatusForbidden, codeForbidden, "forbidden", nil)
		return false
	}
	return true
}

func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid request body", nil)
		return false
	}
	return true
}

func (h *Handler) validRequest(w http.ResponseWriter, req interface{}) bool {
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid request", fieldErrors(err))
		return false
	}
	return true
}

// serviceError logs err and writes the mapped status with message.
func (h *Handler) serviceError(w http.ResponseWriter, r *http.Request, op string, err error, message string) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.config.Logger.Error("payment api request failed",
			payment.F("op", op), payment.F("path", r.URL.Path), payment.F("error", err.Error()))
		if message == err.Error() {
			message = genericPaymentError
		}
	} else {
		h.config.Logger.Debug("payment api request rejected",
			payment.F("op", op), payment.F("code", code), payment.F("error", err.Error()))
	}
	writeError(w, status, code, message, nil)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body) //nolint:errcheck // Response already committed
}

func writeError(w http.ResponseWriter, status int, code, message string, details map[string]string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}
