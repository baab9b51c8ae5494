package jwt

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"

	"github.com/PiloTracer/tools-dashboard-sub002/internal/domain"
)

// Generator signs and verifies access tokens.
type Generator struct {
	keys      *KeyManager
	issuer    string
	accessTTL time.Duration
}

// NewGenerator constructs a token generator.
func NewGenerator(keys *KeyManager, issuer string, accessTTL time.Duration) *Generator {
	return &Generator{keys: keys, issuer: issuer, accessTTL: accessTTL}
}

// AccessTokenClaims is the custom JWT payload alongside the standard claims.
type AccessTokenClaims struct {
	ClientID string `json:"client_id"`
	Scope    string `json:"scope"`
}

// SignedToken carries a serialized access token plus the metadata persisted
// for revocation lookups.
type SignedToken struct {
	Token     string
	ID        string
	TokenHash string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Sign produces an RS256 access token for the user/client/scope triple using
// the current active key.
func (g *Generator) Sign(ctx context.Context, userID int64, clientID, scope string) (SignedToken, error) {
	key, err := g.keys.ActiveKey(ctx)
	if err != nil {
		return SignedToken{}, fmt.Errorf("sign access token: %w", err)
	}

	signer, err := gojose.NewSigner(
		gojose.SigningKey{Algorithm: gojose.SignatureAlgorithm(key.Algorithm), Key: key.PrivateKey},
		(&gojose.SignerOptions{}).WithType("JWT").WithHeader("kid", key.KID),
	)
	if err != nil {
		return SignedToken{}, fmt.Errorf("new signer: %w", err)
	}

	now := time.Now().UTC()
	tokenID := uuid.NewString()
	expiry := now.Add(g.accessTTL)
	stdClaims := gojwt.Claims{
		ID:       tokenID,
		Subject:  fmt.Sprintf("%d", userID),
		Audience: gojwt.Audience{clientID},
		Issuer:   g.issuer,
		IssuedAt: gojwt.NewNumericDate(now),
		Expiry:   gojwt.NewNumericDate(expiry),
	}
	custom := AccessTokenClaims{ClientID: clientID, Scope: scope}

	token, err := gojwt.Signed(signer).Claims(stdClaims).Claims(custom).Serialize()
	if err != nil {
		return SignedToken{}, fmt.Errorf("serialize jwt: %w", err)
	}

	return SignedToken{
		Token:     token,
		ID:        tokenID,
		TokenHash: hashToken(token),
		IssuedAt:  now,
		ExpiresAt: expiry,
	}, nil
}

// Verify checks the token signature against the published key set (selected
// by kid) and validates issuer and expiry. Revocation is the caller's
// concern.
func (g *Generator) Verify(ctx context.Context, token string) (*gojwt.Claims, *AccessTokenClaims, error) {
	allowed := []gojose.SignatureAlgorithm{gojose.SignatureAlgorithm(domain.SigningAlgorithm)}
	parsed, err := gojwt.ParseSigned(token, allowed)
	if err != nil {
		return nil, nil, domain.ErrTokenInvalid
	}
	if len(parsed.Headers) != 1 || parsed.Headers[0].KeyID == "" {
		return nil, nil, domain.ErrTokenInvalid
	}

	publicKey, err := g.keys.VerificationKey(ctx, parsed.Headers[0].KeyID)
	if err != nil {
		if errors.Is(err, domain.ErrTokenInvalid) {
			return nil, nil, domain.ErrTokenInvalid
		}
		return nil, nil, fmt.Errorf("verify access token: %w", err)
	}

	var std gojwt.Claims
	var custom AccessTokenClaims
	if err := parsed.Claims(publicKey, &std, &custom); err != nil {
		return nil, nil, domain.ErrTokenInvalid
	}

	if err := std.Validate(gojwt.Expected{Issuer: g.issuer, Time: time.Now()}); err != nil {
		if errors.Is(err, gojwt.ErrExpired) {
			return nil, nil, domain.ErrTokenExpired
		}
		return nil, nil, domain.ErrTokenInvalid
	}

	if std.ID == "" || custom.ClientID == "" {
		return nil, nil, domain.ErrTokenInvalid
	}
	return &std, &custom, nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
