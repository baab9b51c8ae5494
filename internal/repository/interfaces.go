package repository

import (
	"context"

	"github.com/PiloTracer/tools-dashboard-sub002/internal/domain"
)

// KeyRepository stores signing keys. The active flag lives in the shared
// store so every server instance discovers the current key without
// coordination beyond the database.
type KeyRepository interface {
	GetActiveKey(ctx context.Context) (domain.SigningKey, error)
	// ListVerificationKeys returns all non-expired keys, retired ones
	// included, so tokens signed before a rotation remain verifiable.
	ListVerificationKeys(ctx context.Context) ([]domain.SigningKey, error)
	// RotateActive demotes the current active key and inserts next as the
	// new active key in a single transaction.
	RotateActive(ctx context.Context, next domain.SigningKey) (domain.SigningKey, error)
}

// CodeRepository manages authorization codes.
type CodeRepository interface {
	CreateCode(ctx context.Context, code domain.AuthorizationCode) error
	GetCode(ctx context.Context, code string) (domain.AuthorizationCode, error)
	// ConsumeCode flips used=false to used=true as a conditional write.
	// Exactly one concurrent caller observes true; everyone else false.
	ConsumeCode(ctx context.Context, code string) (bool, error)
}

// TokenRepository handles refresh tokens and access-token revocation records.
type TokenRepository interface {
	CreateRefreshToken(ctx context.Context, token domain.RefreshToken) (domain.RefreshToken, error)
	GetRefreshToken(ctx context.Context, token string) (domain.RefreshToken, error)
	// GetSuccessor returns the refresh token whose predecessor link points
	// at id. Each token has at most one successor.
	GetSuccessor(ctx context.Context, id int64) (domain.RefreshToken, error)
	// RevokeRefreshTokenIfActive is the rotation compare-and-set: it reports
	// true only for the caller that flipped revoked=false to revoked=true.
	RevokeRefreshTokenIfActive(ctx context.Context, id int64) (bool, error)
	RevokeRefreshToken(ctx context.Context, id int64) error
	CreateAccessTokenRecord(ctx context.Context, record domain.AccessTokenRecord) error
	GetAccessTokenRecord(ctx context.Context, id string) (domain.AccessTokenRecord, error)
	RevokeAccessToken(ctx context.Context, id string) error
}

// ClientRepository exposes the client registry lookup the core consumes.
type ClientRepository interface {
	GetClientByID(ctx context.Context, clientID string) (domain.Client, error)
}
