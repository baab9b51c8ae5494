package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/PiloTracer/tools-dashboard-sub002/internal/domain"
	customjwt "github.com/PiloTracer/tools-dashboard-sub002/internal/jwt"
	"github.com/PiloTracer/tools-dashboard-sub002/internal/service"
)

type tokenFixture struct {
	svc    *service.TokenService
	tokens *fakeTokenRepo
}

func newTokenFixture(t *testing.T, refreshTTL time.Duration) tokenFixture {
	t.Helper()

	keys := &fakeKeyStore{}
	manager := customjwt.NewKeyManager(keys, 24*time.Hour)
	_, err := manager.EnsureActiveKey(context.Background())
	require.NoError(t, err)
	generator := customjwt.NewGenerator(manager, "https://auth.tools.example", time.Hour)

	tokens := newFakeTokenRepo()
	revocations := service.NewRevocationRegistry(tokens, nil, time.Hour, zap.NewNop())

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := service.NewTokenService(tokens, generator, revocations, node, time.Hour, refreshTTL, 32, zap.NewNop())
	return tokenFixture{svc: svc, tokens: tokens}
}

func TestIssueTokenPair(t *testing.T) {
	fx := newTokenFixture(t, 30*24*time.Hour)
	ctx := context.Background()

	pair, err := fx.svc.IssueTokenPair(ctx, 42, "app1", []string{"openid", "profile"})
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	require.Equal(t, "Bearer", pair.TokenType)
	require.Equal(t, int(time.Hour.Seconds()), pair.ExpiresIn)
	require.Equal(t, "openid profile", pair.Scope)

	info, err := fx.svc.ValidateAccessToken(ctx, pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, int64(42), info.UserID)
	require.Equal(t, "app1", info.ClientID)
	require.Equal(t, []string{"openid", "profile"}, info.Scope)

	record, err := fx.tokens.GetRefreshToken(ctx, pair.RefreshToken)
	require.NoError(t, err)
	require.Nil(t, record.PredecessorID)
	require.False(t, record.Revoked)
}

func TestRefreshRotatesToken(t *testing.T) {
	fx := newTokenFixture(t, 30*24*time.Hour)
	ctx := context.Background()

	first, err := fx.svc.IssueTokenPair(ctx, 42, "app1", []string{"openid"})
	require.NoError(t, err)
	firstRecord, err := fx.tokens.GetRefreshToken(ctx, first.RefreshToken)
	require.NoError(t, err)

	second, err := fx.svc.Refresh(ctx, first.RefreshToken, "app1")
	require.NoError(t, err)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)
	require.Equal(t, "openid", second.Scope)

	rotated, err := fx.tokens.GetRefreshToken(ctx, first.RefreshToken)
	require.NoError(t, err)
	require.True(t, rotated.Revoked)

	successor, err := fx.tokens.GetRefreshToken(ctx, second.RefreshToken)
	require.NoError(t, err)
	require.NotNil(t, successor.PredecessorID)
	require.Equal(t, firstRecord.ID, *successor.PredecessorID)

	// Rotation alone does not touch the earlier access token.
	_, err = fx.svc.ValidateAccessToken(ctx, first.AccessToken)
	require.NoError(t, err)
}

func TestRefreshReuseRevokesFamily(t *testing.T) {
	fx := newTokenFixture(t, 30*24*time.Hour)
	ctx := context.Background()

	// c1 exchanges a grant for (a1, r1), then rotates r1 into (a2, r2).
	first, err := fx.svc.IssueTokenPair(ctx, 1, "app1", []string{"openid"})
	require.NoError(t, err)
	second, err := fx.svc.Refresh(ctx, first.RefreshToken, "app1")
	require.NoError(t, err)

	// Replaying r1 is reuse: the whole descendant chain dies with it.
	_, err = fx.svc.Refresh(ctx, first.RefreshToken, "app1")
	require.ErrorIs(t, err, domain.ErrReuseDetected)

	_, err = fx.svc.ValidateAccessToken(ctx, second.AccessToken)
	require.ErrorIs(t, err, domain.ErrTokenRevoked)

	_, err = fx.svc.Refresh(ctx, second.RefreshToken, "app1")
	require.ErrorIs(t, err, domain.ErrInvalidGrant)
}

func TestRefreshRevokedWithoutSuccessor(t *testing.T) {
	fx := newTokenFixture(t, 30*24*time.Hour)
	ctx := context.Background()

	pair, err := fx.svc.IssueTokenPair(ctx, 1, "app1", []string{"openid"})
	require.NoError(t, err)
	require.NoError(t, fx.svc.Revoke(ctx, pair.RefreshToken))

	// Ordinary revocation, not reuse.
	_, err = fx.svc.Refresh(ctx, pair.RefreshToken, "app1")
	require.ErrorIs(t, err, domain.ErrInvalidGrant)
}

func TestRefreshWrongClient(t *testing.T) {
	fx := newTokenFixture(t, 30*24*time.Hour)
	ctx := context.Background()

	pair, err := fx.svc.IssueTokenPair(ctx, 1, "app1", []string{"openid"})
	require.NoError(t, err)

	_, err = fx.svc.Refresh(ctx, pair.RefreshToken, "app2")
	require.ErrorIs(t, err, domain.ErrInvalidGrant)
}

func TestRefreshExpiredToken(t *testing.T) {
	fx := newTokenFixture(t, -time.Minute)
	ctx := context.Background()

	pair, err := fx.svc.IssueTokenPair(ctx, 1, "app1", []string{"openid"})
	require.NoError(t, err)

	_, err = fx.svc.Refresh(ctx, pair.RefreshToken, "app1")
	require.ErrorIs(t, err, domain.ErrInvalidGrant)
}

func TestRefreshUnknownToken(t *testing.T) {
	fx := newTokenFixture(t, 30*24*time.Hour)

	_, err := fx.svc.Refresh(context.Background(), "never-issued", "app1")
	require.ErrorIs(t, err, domain.ErrInvalidGrant)
}

func TestRevokeRefreshTokenKillsPair(t *testing.T) {
	fx := newTokenFixture(t, 30*24*time.Hour)
	ctx := context.Background()

	pair, err := fx.svc.IssueTokenPair(ctx, 1, "app1", []string{"openid"})
	require.NoError(t, err)

	require.NoError(t, fx.svc.Revoke(ctx, pair.RefreshToken))

	_, err = fx.svc.ValidateAccessToken(ctx, pair.AccessToken)
	require.ErrorIs(t, err, domain.ErrTokenRevoked)
}

func TestRevokeAccessToken(t *testing.T) {
	fx := newTokenFixture(t, 30*24*time.Hour)
	ctx := context.Background()

	pair, err := fx.svc.IssueTokenPair(ctx, 1, "app1", []string{"openid"})
	require.NoError(t, err)

	require.NoError(t, fx.svc.Revoke(ctx, pair.AccessToken))

	_, err = fx.svc.ValidateAccessToken(ctx, pair.AccessToken)
	require.ErrorIs(t, err, domain.ErrTokenRevoked)

	// Idempotent: revoking again still succeeds.
	require.NoError(t, fx.svc.Revoke(ctx, pair.AccessToken))
}

func TestTokenServiceStorageUnavailable(t *testing.T) {
	keys := &fakeKeyStore{}
	manager := customjwt.NewKeyManager(keys, 24*time.Hour)
	_, err := manager.EnsureActiveKey(context.Background())
	require.NoError(t, err)
	generator := customjwt.NewGenerator(manager, "https://auth.tools.example", time.Hour)

	down := &downTokenRepo{}
	revocations := service.NewRevocationRegistry(down, nil, time.Hour, zap.NewNop())
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	svc := service.NewTokenService(down, generator, revocations, node, time.Hour, 30*24*time.Hour, 32, zap.NewNop())
	ctx := context.Background()

	_, err = svc.IssueTokenPair(ctx, 1, "app1", []string{"openid"})
	require.ErrorIs(t, err, domain.ErrStorageUnavailable)

	_, err = svc.Refresh(ctx, "any-token", "app1")
	require.ErrorIs(t, err, domain.ErrStorageUnavailable)

	err = svc.Revoke(ctx, "any-token")
	require.ErrorIs(t, err, domain.ErrStorageUnavailable)
}

func TestRevokeUnknownTokenSucceeds(t *testing.T) {
	fx := newTokenFixture(t, 30*24*time.Hour)

	require.NoError(t, fx.svc.Revoke(context.Background(), "never-issued"))
	require.NoError(t, fx.svc.Revoke(context.Background(), ""))
}

// downTokenRepo simulates a store outage on every operation.
type downTokenRepo struct{}

func (downTokenRepo) CreateRefreshToken(ctx context.Context, token domain.RefreshToken) (domain.RefreshToken, error) {
	return domain.RefreshToken{}, storageErr("insert refresh token")
}

func (downTokenRepo) GetRefreshToken(ctx context.Context, token string) (domain.RefreshToken, error) {
	return domain.RefreshToken{}, storageErr("get refresh token")
}

func (downTokenRepo) GetSuccessor(ctx context.Context, id int64) (domain.RefreshToken, error) {
	return domain.RefreshToken{}, storageErr("get successor")
}

func (downTokenRepo) RevokeRefreshTokenIfActive(ctx context.Context, id int64) (bool, error) {
	return false, storageErr("revoke refresh token cas")
}

func (downTokenRepo) RevokeRefreshToken(ctx context.Context, id int64) error {
	return storageErr("revoke refresh token")
}

func (downTokenRepo) CreateAccessTokenRecord(ctx context.Context, record domain.AccessTokenRecord) error {
	return storageErr("insert access token record")
}

func (downTokenRepo) GetAccessTokenRecord(ctx context.Context, id string) (domain.AccessTokenRecord, error) {
	return domain.AccessTokenRecord{}, storageErr("get access token record")
}

func (downTokenRepo) RevokeAccessToken(ctx context.Context, id string) error {
	return storageErr("revoke access token")
}

type fakeKeyStore struct {
	keys []domain.SigningKey
}

func (f *fakeKeyStore) GetActiveKey(ctx context.Context) (domain.SigningKey, error) {
	for _, key := range f.keys {
		if key.IsActive {
			return key, nil
		}
	}
	return domain.SigningKey{}, pgx.ErrNoRows
}

func (f *fakeKeyStore) ListVerificationKeys(ctx context.Context) ([]domain.SigningKey, error) {
	out := make([]domain.SigningKey, len(f.keys))
	copy(out, f.keys)
	return out, nil
}

func (f *fakeKeyStore) RotateActive(ctx context.Context, next domain.SigningKey) (domain.SigningKey, error) {
	now := time.Now().UTC()
	for i := range f.keys {
		if f.keys[i].IsActive {
			f.keys[i].IsActive = false
			f.keys[i].RotatedAt = &now
		}
	}
	f.keys = append(f.keys, next)
	return next, nil
}

type fakeTokenRepo struct {
	byID   map[int64]domain.RefreshToken
	byTok  map[string]int64
	access map[string]domain.AccessTokenRecord
}

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{
		byID:   make(map[int64]domain.RefreshToken),
		byTok:  make(map[string]int64),
		access: make(map[string]domain.AccessTokenRecord),
	}
}

func (f *fakeTokenRepo) CreateRefreshToken(ctx context.Context, token domain.RefreshToken) (domain.RefreshToken, error) {
	f.byID[token.ID] = token
	f.byTok[token.Token] = token.ID
	return token, nil
}

func (f *fakeTokenRepo) GetRefreshToken(ctx context.Context, token string) (domain.RefreshToken, error) {
	id, ok := f.byTok[token]
	if !ok {
		return domain.RefreshToken{}, pgx.ErrNoRows
	}
	return f.byID[id], nil
}

func (f *fakeTokenRepo) GetSuccessor(ctx context.Context, id int64) (domain.RefreshToken, error) {
	for _, token := range f.byID {
		if token.PredecessorID != nil && *token.PredecessorID == id {
			return token, nil
		}
	}
	return domain.RefreshToken{}, pgx.ErrNoRows
}

func (f *fakeTokenRepo) RevokeRefreshTokenIfActive(ctx context.Context, id int64) (bool, error) {
	token, ok := f.byID[id]
	if !ok || token.Revoked {
		return false, nil
	}
	now := time.Now().UTC()
	token.Revoked = true
	token.RevokedAt = &now
	f.byID[id] = token
	return true, nil
}

func (f *fakeTokenRepo) RevokeRefreshToken(ctx context.Context, id int64) error {
	token, ok := f.byID[id]
	if !ok {
		return nil
	}
	if !token.Revoked {
		now := time.Now().UTC()
		token.Revoked = true
		token.RevokedAt = &now
		f.byID[id] = token
	}
	return nil
}

func (f *fakeTokenRepo) CreateAccessTokenRecord(ctx context.Context, record domain.AccessTokenRecord) error {
	f.access[record.ID] = record
	return nil
}

func (f *fakeTokenRepo) GetAccessTokenRecord(ctx context.Context, id string) (domain.AccessTokenRecord, error) {
	record, ok := f.access[id]
	if !ok {
		return domain.AccessTokenRecord{}, pgx.ErrNoRows
	}
	return record, nil
}

func (f *fakeTokenRepo) RevokeAccessToken(ctx context.Context, id string) error {
	record, ok := f.access[id]
	if !ok {
		return nil
	}
	if !record.Revoked {
		now := time.Now().UTC()
		record.Revoked = true
		record.RevokedAt = &now
		f.access[id] = record
	}
	return nil
}
