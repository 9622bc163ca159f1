package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// SignatureHeader carries the HMAC of the request body
	SignatureHeader = "X-Redeploy-Signature"
	SignaturePrefix = "sha256="
)

// VerifySignature checks an HMAC-SHA256 body signature of the form
// "sha256=<hex digest>".
func VerifySignature(payload []byte, signature, secret string) bool {
	if signature == "" || !strings.HasPrefix(signature, SignaturePrefix) {
		return false
	}

	receivedMAC := strings.TrimPrefix(signature, SignaturePrefix)

	// Constant-time comparison
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(SignaturePrefix+receivedMAC))
}

// Sign returns the signature header value for payload, as the build server
// side has to compute it.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}
