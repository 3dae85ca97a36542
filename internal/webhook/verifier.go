// Package webhook authenticates gateway callbacks and maps their payloads to
// topup.Callback. Verification always runs on the raw request bytes.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

const SignatureHeader = "X-Signature"

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Sign returns the hex HMAC-SHA256 of body.
func (v *Verifier) Sign(body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is the HMAC of the exact bytes in body.
func (v *Verifier) Verify(body []byte, signature string) bool {
	if len(v.secret) == 0 {
		return false
	}
	if signature == "" {
		return false
	}
	// Exact lowercase hex: any change to the header bytes must fail.
	return hmac.Equal([]byte(v.Sign(body)), []byte(signature))
}
