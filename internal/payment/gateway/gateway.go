// Package gateway authenticates and decodes bank settlement webhooks.
package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"

	paymentdomain "github.com/inkwell-ai/inkwell/internal/payment/domain"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Gateway-Signature"

var (
	ErrNotConfigured    = errors.New("webhook_secret_not_configured")
	ErrSignatureInvalid = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
)

// Verifier authenticates settlement notifications against the shared
// gateway secret.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return &Verifier{}
	}
	return &Verifier{secret: []byte(trimmed)}
}

// Verify recomputes the HMAC over the raw body and compares it to the header
// value in constant time. An unconfigured secret rejects everything; an open
// webhook endpoint is worse than a dead one.
func (v *Verifier) Verify(body []byte, signature string) error {
	if len(v.secret) == 0 {
		return ErrNotConfigured
	}

	provided := strings.TrimSpace(signature)
	if provided == "" {
		return ErrSignatureInvalid
	}
	// Tolerate a scheme prefix such as "sha256=<hex>".
	if idx := strings.IndexByte(provided, '='); idx >= 0 && !isHex(provided[:idx]) {
		provided = provided[idx+1:]
	}

	mac := hmac.New(sha256.New, v.secret)
	_, _ = mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(strings.ToLower(provided)), []byte(expected)) {
		return ErrSignatureInvalid
	}
	return nil
}

// Sign produces the signature a gateway would send for body. Used by tests
// and by operator tooling that replays notifications.
func (v *Verifier) Sign(body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseNotification decodes the webhook body. Settlement amounts must be
// positive; everything else about the content is judged later against the
// ledger.
func ParseNotification(body []byte) (*paymentdomain.SettlementNotification, error) {
	if !json.Valid(body) {
		return nil, ErrInvalidPayload
	}

	var notif paymentdomain.SettlementNotification
	if err := json.Unmarshal(body, &notif); err != nil {
		return nil, ErrInvalidPayload
	}
	if notif.SettledAmount <= 0 {
		return nil, ErrInvalidPayload
	}
	if strings.TrimSpace(notif.GatewayName) == "" {
		notif.GatewayName = "bank"
	}
	return &notif, nil
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
