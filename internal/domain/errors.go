package domain

import "errors"

var (
	// ErrInvalidRequest indicates caller input validation errors.
	ErrInvalidRequest = errors.New("oauth: invalid request")
	// ErrUnauthorizedClient signals an unknown or inactive client.
	ErrUnauthorizedClient = errors.New("oauth: unauthorized client")
	// ErrUnsupportedChallengeMethod rejects PKCE methods other than S256.
	ErrUnsupportedChallengeMethod = errors.New("oauth: unsupported code challenge method")
	// ErrInvalidGrant covers missing, used, expired, or mismatched grants.
	// The specific failed check is deliberately not reported.
	ErrInvalidGrant = errors.New("oauth: invalid grant")
	// ErrReuseDetected signals replay of a rotated-away refresh token.
	ErrReuseDetected = errors.New("oauth: refresh token reuse detected")
	// ErrTokenExpired indicates a structurally valid but expired access token.
	ErrTokenExpired = errors.New("oauth: token expired")
	// ErrTokenInvalid indicates malformed or unverifiable tokens.
	ErrTokenInvalid = errors.New("oauth: token invalid")
	// ErrTokenRevoked indicates the token was revoked.
	ErrTokenRevoked = errors.New("oauth: token revoked")
	// ErrNoActiveKey means the key store holds no active signing key.
	// Treated as a fatal startup condition, not a runtime error.
	ErrNoActiveKey = errors.New("oauth: no active signing key")
	// ErrStorageUnavailable wraps persistence timeouts and outages.
	ErrStorageUnavailable = errors.New("oauth: storage unavailable")
)
