package server

import (
	"testing"
)

const testSecret = "test-secret-at-least-32-chars-long-here"

func TestVerifySignature_Valid(t *testing.T) {
	payload := []byte(`{"name":"App","build":{"number":5}}`)
	signature := Sign(payload, testSecret)

	if !VerifySignature(payload, signature, testSecret) {
		t.Error("Expected valid signature to be accepted")
	}
}

func TestVerifySignature_Invalid(t *testing.T) {
	payload := []byte(`{"name":"App","build":{"number":5}}`)
	wrongSecret := "wrong-secret-at-least-32-chars-long-x"
	signature := Sign(payload, wrongSecret)

	if VerifySignature(payload, signature, testSecret) {
		t.Error("Expected invalid signature to be rejected")
	}
}

func TestVerifySignature_TamperedPayload(t *testing.T) {
	signature := Sign([]byte(`{"name":"App","build":{"number":5}}`), testSecret)

	if VerifySignature([]byte(`{"name":"App","build":{"number":6}}`), signature, testSecret) {
		t.Error("Expected signature of a different payload to be rejected")
	}
}

func TestVerifySignature_MissingHeader(t *testing.T) {
	payload := []byte(`{"name":"App","build":{"number":5}}`)

	if VerifySignature(payload, "", testSecret) {
		t.Error("Expected missing signature to be rejected")
	}
}

func TestVerifySignature_MalformedSignature(t *testing.T) {
	payload := []byte(`{"name":"App","build":{"number":5}}`)

	testCases := []struct {
		name      string
		signature string
	}{
		{"no prefix", "abc123def456"},
		{"wrong prefix", "sha1=abc123def456"},
		{"no equals", "sha256abc123def456"},
		{"empty after prefix", "sha256="},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if VerifySignature(payload, tc.signature, testSecret) {
				t.Errorf("Expected malformed signature '%s' to be rejected", tc.signature)
			}
		})
	}
}
