// Package pkce implements Proof Key for Code Exchange (RFC 7636) challenge
// verification. Only the S256 transform is supported; plain challenges defeat
// the point of PKCE and are rejected at issuance.
package pkce

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"strings"
)

const (
	// verifier length bounds from RFC 7636 §4.1.
	minVerifierLength = 43
	maxVerifierLength = 128
)

// Challenge computes the S256 code challenge for a verifier:
// base64url(SHA256(verifier)) without padding.
func Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Verify recomputes the S256 challenge over the presented verifier and
// compares it constant-time against the stored challenge.
func Verify(challenge, verifier string) bool {
	verifier = strings.TrimSpace(verifier)
	if len(verifier) < minVerifierLength || len(verifier) > maxVerifierLength {
		return false
	}
	computed := Challenge(verifier)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
