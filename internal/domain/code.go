package domain

import "time"

// ChallengeMethodS256 is the only accepted PKCE challenge method.
const ChallengeMethodS256 = "S256"

// AuthorizationCode models short-lived, single-use authorization codes.
// The code value itself is the primary key.
type AuthorizationCode struct {
	Code                string
	UserID              int64
	ClientID            string
	Scope               []string
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod string
	CreatedAt           time.Time
	ExpiresAt           time.Time
	Used                bool
	UsedAt              *time.Time
}

// Expired reports whether the code passed its redemption window.
func (c AuthorizationCode) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
