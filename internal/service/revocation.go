package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/PiloTracer/tools-dashboard-sub002/internal/repository"
)

// RevocationCache is an optional read-through cache in front of the token
// store for the hot validation path.
type RevocationCache interface {
	MarkRevoked(ctx context.Context, tokenID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// RevocationRegistry marks access tokens dead and answers liveness queries
// during validation.
type RevocationRegistry struct {
	tokens   repository.TokenRepository
	cache    RevocationCache
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewRevocationRegistry wires the registry. cache may be nil; lookups then
// go straight to the store.
func NewRevocationRegistry(tokens repository.TokenRepository, cache RevocationCache, cacheTTL time.Duration, logger *zap.Logger) *RevocationRegistry {
	return &RevocationRegistry{tokens: tokens, cache: cache, cacheTTL: cacheTTL, logger: logger}
}

// Revoke marks the access-token record revoked. Idempotent: revoking an
// unknown or already-revoked token is not an error.
func (r *RevocationRegistry) Revoke(ctx context.Context, tokenID string) error {
	if tokenID == "" {
		return nil
	}
	if err := r.tokens.RevokeAccessToken(ctx, tokenID); err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	r.cacheMark(ctx, tokenID)
	auditLog(r.logger, "access_token.revoked", "token_id", tokenID)
	return nil
}

// IsRevoked reports whether the token identifier was revoked. A record
// absent from the store counts as not revoked; expired never-revoked tokens
// rely on their own signature expiry, which keeps the store bounded.
func (r *RevocationRegistry) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	if r.cache != nil {
		revoked, err := r.cache.IsRevoked(ctx, tokenID)
		if err == nil && revoked {
			return true, nil
		}
		if err != nil && r.logger != nil {
			// Cache outages degrade to store lookups.
			r.logger.Warn("revocation cache lookup failed", zap.String("token_id", tokenID), zap.Error(err))
		}
	}

	record, err := r.tokens.GetAccessTokenRecord(ctx, tokenID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("lookup access token record: %w", err)
	}
	if record.Revoked {
		r.cacheMark(ctx, tokenID)
	}
	return record.Revoked, nil
}

func (r *RevocationRegistry) cacheMark(ctx context.Context, tokenID string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.MarkRevoked(ctx, tokenID, r.cacheTTL); err != nil && r.logger != nil {
		r.logger.Warn("revocation cache write failed", zap.String("token_id", tokenID), zap.Error(err))
	}
}
