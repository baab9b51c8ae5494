package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/PiloTracer/tools-dashboard-sub002/internal/domain"
	"github.com/PiloTracer/tools-dashboard-sub002/internal/jwt"
	"github.com/PiloTracer/tools-dashboard-sub002/internal/repository"
)

// TokenPair matches OAuth token responses.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
}

// TokenInfo is the result of validating an access token.
type TokenInfo struct {
	TokenID   string
	UserID    int64
	ClientID  string
	Scope     []string
	ExpiresAt time.Time
}

// TokenService mints, validates, rotates, and revokes tokens. Refresh
// tokens are single-use: each refresh revokes the presented token and links
// the replacement to it, which is what makes replay detectable.
type TokenService struct {
	tokens       repository.TokenRepository
	signer       *jwt.Generator
	revocations  *RevocationRegistry
	snowflake    *snowflake.Node
	accessTTL    time.Duration
	refreshTTL   time.Duration
	refreshBytes int
	logger       *zap.Logger
	tracer       trace.Tracer
}

// NewTokenService wires dependencies.
func NewTokenService(tokens repository.TokenRepository, signer *jwt.Generator, revocations *RevocationRegistry, node *snowflake.Node, accessTTL, refreshTTL time.Duration, refreshBytes int, logger *zap.Logger) *TokenService {
	return &TokenService{
		tokens:       tokens,
		signer:       signer,
		revocations:  revocations,
		snowflake:    node,
		accessTTL:    accessTTL,
		refreshTTL:   refreshTTL,
		refreshBytes: refreshBytes,
		logger:       logger,
		tracer:       otel.Tracer("github.com/PiloTracer/tools-dashboard-sub002/internal/service"),
	}
}

// IssueTokenPair builds and signs an access token and persists a fresh
// refresh token with no predecessor.
func (s *TokenService) IssueTokenPair(ctx context.Context, userID int64, clientID string, scope []string) (TokenPair, error) {
	ctx, span := s.startSpan(ctx, "TokenService.IssueTokenPair")
	defer span.End()

	pair, _, err := s.mintPair(ctx, userID, clientID, scope, nil)
	if err != nil {
		span.RecordError(err)
		return TokenPair{}, err
	}
	s.audit("token_pair.issued", "user_id", userID, "client_id", clientID)
	return pair, nil
}

// Refresh rotates the presented refresh token and mints a new pair with the
// same scope. Presenting an already-rotated-away token is a security event:
// the whole descendant chain is revoked before ErrReuseDetected is returned.
func (s *TokenService) Refresh(ctx context.Context, refreshToken, clientID string) (TokenPair, error) {
	ctx, span := s.startSpan(ctx, "TokenService.Refresh")
	defer span.End()

	if strings.TrimSpace(refreshToken) == "" {
		return TokenPair{}, domain.ErrInvalidGrant
	}

	record, err := s.tokens.GetRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TokenPair{}, domain.ErrInvalidGrant
		}
		span.RecordError(err)
		return TokenPair{}, fmt.Errorf("lookup refresh token: %w", err)
	}

	if record.Revoked {
		return TokenPair{}, s.handleRevokedRefresh(ctx, record)
	}
	if record.Expired(time.Now()) || record.ClientID != strings.TrimSpace(clientID) {
		return TokenPair{}, domain.ErrInvalidGrant
	}

	// The rotation pivot: only the caller that flips revoked wins; the
	// loser of a double-refresh race gets ErrInvalidGrant, so one presented
	// token never produces two valid descendant pairs.
	rotated, err := s.tokens.RevokeRefreshTokenIfActive(ctx, record.ID)
	if err != nil {
		span.RecordError(err)
		return TokenPair{}, fmt.Errorf("rotate refresh token: %w", err)
	}
	if !rotated {
		return TokenPair{}, domain.ErrInvalidGrant
	}

	pair, _, err := s.mintPair(ctx, record.UserID, record.ClientID, record.Scope, &record.ID)
	if err != nil {
		span.RecordError(err)
		return TokenPair{}, err
	}

	s.audit("refresh_token.rotated", "user_id", record.UserID, "client_id", record.ClientID, "predecessor_id", record.ID)
	return pair, nil
}

// handleRevokedRefresh distinguishes ordinary revocation from replay of a
// rotated-away token. A revoked token with a successor means the original
// holder already rotated it, so whoever presents it now holds a stolen or
// replayed credential.
func (s *TokenService) handleRevokedRefresh(ctx context.Context, record domain.RefreshToken) error {
	_, err := s.tokens.GetSuccessor(ctx, record.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrInvalidGrant
		}
		return fmt.Errorf("lookup successor: %w", err)
	}

	if err := s.revokeFamily(ctx, record); err != nil {
		return err
	}
	if s.logger != nil {
		s.logger.Warn("refresh token reuse detected, family revoked",
			zap.Int64("refresh_token_id", record.ID),
			zap.Int64("user_id", record.UserID),
			zap.String("client_id", record.ClientID),
		)
	}
	return domain.ErrReuseDetected
}

// revokeFamily walks the successor chain from the presented token downward,
// revoking every refresh token and its paired access token. Each node has
// at most one predecessor, so the walk cannot cycle.
func (s *TokenService) revokeFamily(ctx context.Context, from domain.RefreshToken) error {
	current := from
	for {
		if err := s.tokens.RevokeRefreshToken(ctx, current.ID); err != nil {
			return fmt.Errorf("revoke family member: %w", err)
		}
		if err := s.revocations.Revoke(ctx, current.AccessTokenID); err != nil {
			return err
		}

		next, err := s.tokens.GetSuccessor(ctx, current.ID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("walk token family: %w", err)
		}
		current = next
	}
}

// ValidateAccessToken verifies the signature against the published key set,
// checks expiry, then consults the revocation registry.
func (s *TokenService) ValidateAccessToken(ctx context.Context, token string) (TokenInfo, error) {
	ctx, span := s.startSpan(ctx, "TokenService.ValidateAccessToken")
	defer span.End()

	std, custom, err := s.signer.Verify(ctx, token)
	if err != nil {
		return TokenInfo{}, err
	}

	revoked, err := s.revocations.IsRevoked(ctx, std.ID)
	if err != nil {
		span.RecordError(err)
		return TokenInfo{}, err
	}
	if revoked {
		return TokenInfo{}, domain.ErrTokenRevoked
	}

	userID, err := strconv.ParseInt(std.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return TokenInfo{}, domain.ErrTokenInvalid
	}

	return TokenInfo{
		TokenID:   std.ID,
		UserID:    userID,
		ClientID:  custom.ClientID,
		Scope:     strings.Fields(custom.Scope),
		ExpiresAt: std.Expiry.Time(),
	}, nil
}

// Revoke handles RFC 7009 style revocation of a presented token value,
// opaque refresh token or signed access token alike. Unknown and
// already-revoked values succeed by protocol convention; only storage
// failures propagate.
func (s *TokenService) Revoke(ctx context.Context, token string) error {
	ctx, span := s.startSpan(ctx, "TokenService.Revoke")
	defer span.End()

	if strings.TrimSpace(token) == "" {
		return nil
	}

	record, err := s.tokens.GetRefreshToken(ctx, token)
	switch {
	case err == nil:
		if err := s.tokens.RevokeRefreshToken(ctx, record.ID); err != nil {
			span.RecordError(err)
			return fmt.Errorf("revoke refresh token: %w", err)
		}
		if err := s.revocations.Revoke(ctx, record.AccessTokenID); err != nil {
			span.RecordError(err)
			return err
		}
		s.audit("refresh_token.revoked", "refresh_token_id", record.ID, "client_id", record.ClientID)
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		// Not a refresh token; try it as an access token.
	default:
		span.RecordError(err)
		return fmt.Errorf("lookup refresh token: %w", err)
	}

	std, _, err := s.signer.Verify(ctx, token)
	if err != nil {
		// Unverifiable or expired tokens are simply not live; revocation
		// still reports success.
		if errors.Is(err, domain.ErrTokenInvalid) || errors.Is(err, domain.ErrTokenExpired) {
			return nil
		}
		span.RecordError(err)
		return err
	}
	if err := s.revocations.Revoke(ctx, std.ID); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func (s *TokenService) mintPair(ctx context.Context, userID int64, clientID string, scope []string, predecessorID *int64) (TokenPair, domain.RefreshToken, error) {
	scopeValue := strings.Join(scope, " ")
	signed, err := s.signer.Sign(ctx, userID, clientID, scopeValue)
	if err != nil {
		return TokenPair{}, domain.RefreshToken{}, fmt.Errorf("generate access token: %w", err)
	}

	if err := s.tokens.CreateAccessTokenRecord(ctx, domain.AccessTokenRecord{
		ID:        signed.ID,
		TokenHash: signed.TokenHash,
		IssuedAt:  signed.IssuedAt,
		ExpiresAt: signed.ExpiresAt,
	}); err != nil {
		return TokenPair{}, domain.RefreshToken{}, fmt.Errorf("persist access token record: %w", err)
	}

	now := time.Now().UTC()
	refresh := domain.RefreshToken{
		ID:            s.snowflake.Generate().Int64(),
		Token:         randomToken(s.refreshBytes),
		UserID:        userID,
		ClientID:      clientID,
		Scope:         scope,
		AccessTokenID: signed.ID,
		PredecessorID: predecessorID,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.refreshTTL),
	}
	created, err := s.tokens.CreateRefreshToken(ctx, refresh)
	if err != nil {
		return TokenPair{}, domain.RefreshToken{}, fmt.Errorf("persist refresh token: %w", err)
	}

	return TokenPair{
		AccessToken:  signed.Token,
		RefreshToken: created.Token,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.accessTTL.Seconds()),
		Scope:        scopeValue,
	}, created, nil
}

func (s *TokenService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func (s *TokenService) audit(event string, attrs ...any) {
	auditLog(s.logger, event, attrs...)
}
