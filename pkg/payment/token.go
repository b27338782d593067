package payment

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// TokenTTL is how long a payment token stays valid after issue
	TokenTTL = 24 * time.Hour

	ivSize        = 16
	keySize       = 32
	kdfIterations = 100_000
	kdfSalt       = "paysync/payment-intent/v1"
	tokenSep      = ":"
)

// TokenCodec seals payment intents into opaque, URL-safe, time-bounded tokens.
//
// The sealed form is base64url(base64(iv) + ":" + base64(ciphertext)). The
// ciphertext is AES-256-GCM with a 16-byte nonce, so a modified token fails
// to open instead of decrypting to garbage.
type TokenCodec struct {
	aead cipher.AEAD
	now  func() time.Time
	rand io.Reader
}

// TokenOption customizes a TokenCodec.
type TokenOption func(*TokenCodec)

// WithTokenClock overrides the clock used for expiry checks.
func WithTokenClock(now func() time.Time) TokenOption {
	return func(c *TokenCodec) { c.now = now }
}

// WithTokenRand overrides the IV source.
func WithTokenRand(r io.Reader) TokenOption {
	return func(c *TokenCodec) { c.rand = r }
}

// NewTokenCodec derives the encryption key from secret with PBKDF2-SHA256.
func NewTokenCodec(secret string, opts ...TokenOption) (*TokenCodec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("token secret is required")
	}
	key := pbkdf2.Key([]byte(secret), []byte(kdfSalt), kdfIterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, err
	}
	c := &TokenCodec{aead: aead, now: time.Now, rand: rand.Reader}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Encode seals payload with a fresh IV.
func (c *TokenCodec) Encode(payload IntentPayload) (string, error) {
	plain, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(c.rand, iv); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nil, iv, plain, nil)
	inner := base64.StdEncoding.EncodeToString(iv) + tokenSep + base64.StdEncoding.EncodeToString(sealed)
	return base64.RawURLEncoding.EncodeToString([]byte(inner)), nil
}

// Decode opens token. It never panics: any malformed, tampered or expired
// token yields ok=false.
func (c *TokenCodec) Decode(token string) (payload IntentPayload, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			payload, ok = IntentPayload{}, false
		}
	}()

	outer, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(strings.TrimSpace(token), "="))
	if err != nil {
		return IntentPayload{}, false
	}
	ivPart, ctPart, found := strings.Cut(string(outer), tokenSep)
	if !found {
		return IntentPayload{}, false
	}
	iv, err := base64.StdEncoding.DecodeString(ivPart)
	if err != nil || len(iv) != ivSize {
		return IntentPayload{}, false
	}
	sealed, err := base64.StdEncoding.DecodeString(ctPart)
	if err != nil {
		return IntentPayload{}, false
	}
	plain, err := c.aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return IntentPayload{}, false
	}
	if err := json.Unmarshal(plain, &payload); err != nil {
		return IntentPayload{}, false
	}
	if payload.UserID == "" || !payload.Tier.Valid() || payload.AmountMinorUnits < 0 {
		return IntentPayload{}, false
	}
	if c.now().Sub(payload.IssuedAt()) > TokenTTL {
		return IntentPayload{}, false
	}
	return payload, true
}
