package engine

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignaturePrefix tags the hash algorithm so receivers can pick a
// verification routine.
const SignaturePrefix = "sha256="

// Sign computes the signature sent in X-Webhook-Signature-256 for the exact
// payload bytes transmitted as the request body. Deterministic: the receiver
// recomputes the HMAC over the body with the shared secret and compares.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received signature header against the payload.
// Used by test tooling and receiver-side verification.
func VerifySignature(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}
