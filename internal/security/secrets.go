package security

import (
	"fmt"
	"math"
	"strings"
)

const (
	// MinSecretLength is the minimum allowed length for the webhook secret.
	MinSecretLength = 32

	// MinEntropy is the minimum Shannon entropy threshold for secrets.
	MinEntropy = 3.5
)

var forbiddenSecrets = map[string]bool{
	"replace-with-secret": true,
	"jenkins-webhook":     true,
	"topsecret":           true,
	"secret":              true,
	"password":            true,
	"changeme":            true,
}

// ValidateSecret ensures the webhook secret meets security requirements:
// minimum length, not a placeholder, and sufficient Shannon entropy.
func ValidateSecret(secret string) error {
	if len(secret) < MinSecretLength {
		return fmt.Errorf("secret too short (minimum %d characters, got %d)", MinSecretLength, len(secret))
	}

	secretLower := strings.ToLower(secret)
	if forbiddenSecrets[secretLower] ||
		strings.Contains(secretLower, "replace") ||
		strings.Contains(secretLower, "changeme") {
		return fmt.Errorf("secret appears to be a placeholder value, please use a real secret")
	}

	if entropy := calculateEntropy(secret); entropy < MinEntropy {
		return fmt.Errorf("secret has insufficient entropy (%.2f < %.2f) - use a more random secret", entropy, MinEntropy)
	}

	return nil
}

// calculateEntropy computes the Shannon entropy of a string.
func calculateEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}

	freq := make(map[rune]int)
	for _, c := range s {
		freq[c]++
	}

	// H = -Σ(p(x) * log2(p(x)))
	var entropy float64
	length := float64(len(s))
	for _, count := range freq {
		p := float64(count) / length
		entropy -= p * math.Log2(p)
	}

	return entropy
}
