package domain

import (
	"crypto/rsa"
	"time"
)

// SigningAlgorithm is fixed for the whole key set; verifiers never have to
// negotiate algorithms per token.
const SigningAlgorithm = "RS256"

// SigningKey is an RSA signing key stored in the shared key table with
// support for rotation. The private component never leaves signing paths.
type SigningKey struct {
	KID        string
	Algorithm  string
	PrivateKey *rsa.PrivateKey
	IsActive   bool
	CreatedAt  time.Time
	ExpiresAt  time.Time
	RotatedAt  *time.Time
}

// Expired reports whether the key may no longer verify tokens.
func (k SigningKey) Expired(now time.Time) bool {
	return now.After(k.ExpiresAt)
}
