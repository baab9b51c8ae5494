package domain

import "time"

// RefreshToken persists opaque refresh tokens. Tokens are single-use:
// rotation revokes the presented token and links the replacement through
// PredecessorID for reuse detection and auditing.
type RefreshToken struct {
	ID            int64
	Token         string
	UserID        int64
	ClientID      string
	Scope         []string
	AccessTokenID string
	PredecessorID *int64
	CreatedAt     time.Time
	ExpiresAt     time.Time
	Revoked       bool
	RevokedAt     *time.Time
}

// Expired reports whether the refresh token outlived its TTL.
func (t RefreshToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// AccessTokenRecord is the lightweight persisted side of a self-contained
// signed access token. It exists only to answer revocation lookups; the
// token itself is never stored.
type AccessTokenRecord struct {
	ID        string
	TokenHash string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Revoked   bool
	RevokedAt *time.Time
}
