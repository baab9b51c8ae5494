package jwt

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/PiloTracer/tools-dashboard-sub002/internal/domain"
	"github.com/PiloTracer/tools-dashboard-sub002/internal/repository"
)

const rsaKeyBits = 2048

// KeyManager owns the signing keypairs. The active key lives in the shared
// key table; rotation demotes the previous key but keeps it verifiable until
// its own expiry.
type KeyManager struct {
	repo   repository.KeyRepository
	keyTTL time.Duration
}

// NewKeyManager creates a KeyManager. keyTTL bounds how long a key may
// verify tokens after creation.
func NewKeyManager(repo repository.KeyRepository, keyTTL time.Duration) *KeyManager {
	return &KeyManager{repo: repo, keyTTL: keyTTL}
}

// ActiveKey returns the current signing key. A missing active key is a
// misconfiguration surfaced as ErrNoActiveKey; bootstrap treats it as fatal.
func (m *KeyManager) ActiveKey(ctx context.Context) (domain.SigningKey, error) {
	key, err := m.repo.GetActiveKey(ctx)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SigningKey{}, domain.ErrNoActiveKey
		}
		return domain.SigningKey{}, fmt.Errorf("active key: %w", err)
	}
	return key, nil
}

// EnsureActiveKey returns the active key, generating the first one when the
// store is empty. Called once at startup.
func (m *KeyManager) EnsureActiveKey(ctx context.Context) (domain.SigningKey, error) {
	key, err := m.ActiveKey(ctx)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, domain.ErrNoActiveKey) {
		return domain.SigningKey{}, err
	}
	return m.Rotate(ctx)
}

// Rotate generates a new RSA key, marks it active, and demotes the previous
// key. New signings pick up the new key immediately; verification of old
// tokens is unaffected until the old key expires.
func (m *KeyManager) Rotate(ctx context.Context) (domain.SigningKey, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return domain.SigningKey{}, fmt.Errorf("generate rsa key: %w", err)
	}

	now := time.Now().UTC()
	next := domain.SigningKey{
		KID:        uuid.NewString(),
		Algorithm:  domain.SigningAlgorithm,
		PrivateKey: privateKey,
		IsActive:   true,
		CreatedAt:  now,
		ExpiresAt:  now.Add(m.keyTTL),
	}

	rotated, err := m.repo.RotateActive(ctx, next)
	if err != nil {
		return domain.SigningKey{}, fmt.Errorf("persist signing key: %w", err)
	}
	return rotated, nil
}

// VerificationKey resolves the public key for a kid from the non-expired
// key set.
func (m *KeyManager) VerificationKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	keys, err := m.repo.ListVerificationKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list verification keys: %w", err)
	}
	now := time.Now()
	for _, key := range keys {
		if key.KID == kid && !key.Expired(now) {
			return &key.PrivateKey.PublicKey, nil
		}
	}
	return nil, domain.ErrTokenInvalid
}

// PublicKeySet returns the JWKS of all non-expired keys, retired ones
// included, for independent verification by third parties.
func (m *KeyManager) PublicKeySet(ctx context.Context) (jose.JSONWebKeySet, error) {
	keys, err := m.repo.ListVerificationKeys(ctx)
	if err != nil {
		return jose.JSONWebKeySet{}, fmt.Errorf("jwks: %w", err)
	}

	now := time.Now()
	set := jose.JSONWebKeySet{Keys: make([]jose.JSONWebKey, 0, len(keys))}
	for _, key := range keys {
		if key.Expired(now) {
			continue
		}
		set.Keys = append(set.Keys, jose.JSONWebKey{
			KeyID:     key.KID,
			Use:       "sig",
			Algorithm: key.Algorithm,
			Key:       &key.PrivateKey.PublicKey,
		})
	}
	return set, nil
}
