package repository

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"database/sql"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/PiloTracer/tools-dashboard-sub002/internal/domain"
)

// Compile-time interface assertions.
var (
	_ KeyRepository    = (*PostgresKeyRepo)(nil)
	_ CodeRepository   = (*PostgresCodeRepo)(nil)
	_ TokenRepository  = (*PostgresTokenRepo)(nil)
	_ ClientRepository = (*PostgresClientRepo)(nil)
)

// defaultQueryTimeout bounds every store round trip so callers never hang on
// a degraded database; timeouts surface as ErrStorageUnavailable.
const defaultQueryTimeout = 5 * time.Second

func queryCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, defaultQueryTimeout)
}

// mapErr keeps pgx.ErrNoRows visible to callers and folds everything else
// into ErrStorageUnavailable.
func mapErr(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, domain.ErrStorageUnavailable, err)
}

// PostgresKeyRepo implements KeyRepository.
type PostgresKeyRepo struct {
	db *pgxpool.Pool
}

func NewPostgresKeyRepo(pool *pgxpool.Pool) *PostgresKeyRepo {
	return &PostgresKeyRepo{db: pool}
}

const selectKeyColumns = `kid, algorithm, private_key_pem, is_active, created_at, expires_at, rotated_at`

func (r *PostgresKeyRepo) GetActiveKey(ctx context.Context) (domain.SigningKey, error) {
	ctx, cancel := queryCtx(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM signing_keys WHERE is_active LIMIT 1`, selectKeyColumns)
	key, err := scanKey(r.db.QueryRow(ctx, query))
	if err != nil {
		return domain.SigningKey{}, mapErr("get active key", err)
	}
	return key, nil
}

func (r *PostgresKeyRepo) ListVerificationKeys(ctx context.Context) ([]domain.SigningKey, error) {
	ctx, cancel := queryCtx(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM signing_keys WHERE expires_at > now() ORDER BY created_at DESC`, selectKeyColumns)
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, mapErr("list verification keys", err)
	}
	defer rows.Close()

	var keys []domain.SigningKey
	for rows.Next() {
		key, err := scanKey(rows)
		if err != nil {
			return nil, mapErr("list verification keys", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("list verification keys", err)
	}
	return keys, nil
}

func (r *PostgresKeyRepo) RotateActive(ctx context.Context, next domain.SigningKey) (domain.SigningKey, error) {
	ctx, cancel := queryCtx(ctx)
	defer cancel()

	privatePEM, err := encodePrivateKey(next.PrivateKey)
	if err != nil {
		return domain.SigningKey{}, fmt.Errorf("rotate key: %w", err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return domain.SigningKey{}, mapErr("rotate key begin", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE signing_keys SET is_active = false, rotated_at = now() WHERE is_active`); err != nil {
		return domain.SigningKey{}, mapErr("rotate key demote", err)
	}

	query := fmt.Sprintf(`INSERT INTO signing_keys (kid, algorithm, private_key_pem, is_active, created_at, expires_at)
VALUES ($1, $2, $3, true, $4, $5)
RETURNING %s`, selectKeyColumns)
	inserted, err := scanKey(tx.QueryRow(ctx, query, next.KID, next.Algorithm, privatePEM, next.CreatedAt, next.ExpiresAt))
	if err != nil {
		return domain.SigningKey{}, mapErr("rotate key insert", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.SigningKey{}, mapErr("rotate key commit", err)
	}
	return inserted, nil
}

// PostgresCodeRepo implements CodeRepository.
type PostgresCodeRepo struct {
	db *pgxpool.Pool
}

func NewPostgresCodeRepo(pool *pgxpool.Pool) *PostgresCodeRepo {
	return &PostgresCodeRepo{db: pool}
}

func (r *PostgresCodeRepo) CreateCode(ctx context.Context, code domain.AuthorizationCode) error {
	ctx, cancel := queryCtx(ctx)
	defer cancel()

	var challenge, challengeMethod sql.NullString
	if code.CodeChallenge != "" {
		challenge = sql.NullString{String: code.CodeChallenge, Valid: true}
	}
	if code.CodeChallengeMethod != "" {
		challengeMethod = sql.NullString{String: code.CodeChallengeMethod, Valid: true}
	}

	const query = `INSERT INTO authorization_codes
(code, user_id, client_id, scope, redirect_uri, code_challenge, code_challenge_method, created_at, expires_at, used)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, false)`
	if _, err := r.db.Exec(ctx, query,
		code.Code, code.UserID, code.ClientID, code.Scope, code.RedirectURI,
		challenge, challengeMethod, code.CreatedAt, code.ExpiresAt,
	); err != nil {
		return mapErr("insert code", err)
	}
	return nil
}

func (r *PostgresCodeRepo) GetCode(ctx context.Context, code string) (domain.AuthorizationCode, error) {
	ctx, cancel := queryCtx(ctx)
	defer cancel()

	const query = `SELECT code, user_id, client_id, scope, redirect_uri, code_challenge, code_challenge_method, created_at, expires_at, used, used_at
FROM authorization_codes WHERE code = $1`

	var (
		rec                        domain.AuthorizationCode
		challenge, challengeMethod sql.NullString
		usedAt                     sql.NullTime
	)
	if err := r.db.QueryRow(ctx, query, code).Scan(
		&rec.Code, &rec.UserID, &rec.ClientID, &rec.Scope, &rec.RedirectURI,
		&challenge, &challengeMethod, &rec.CreatedAt, &rec.ExpiresAt, &rec.Used, &usedAt,
	); err != nil {
		return domain.AuthorizationCode{}, mapErr("get code", err)
	}
	rec.CodeChallenge = challenge.String
	rec.CodeChallengeMethod = challengeMethod.String
	rec.UsedAt = nullableTime(usedAt)
	return rec, nil
}

func (r *PostgresCodeRepo) ConsumeCode(ctx context.Context, code string) (bool, error) {
	ctx, cancel := queryCtx(ctx)
	defer cancel()

	tag, err := r.db.Exec(ctx, `UPDATE authorization_codes SET used = true, used_at = now() WHERE code = $1 AND used = false`, code)
	if err != nil {
		return false, mapErr("consume code", err)
	}
	return tag.RowsAffected() == 1, nil
}

// PostgresTokenRepo implements TokenRepository.
type PostgresTokenRepo struct {
	db *pgxpool.Pool
}

func NewPostgresTokenRepo(pool *pgxpool.Pool) *PostgresTokenRepo {
	return &PostgresTokenRepo{db: pool}
}

const selectRefreshColumns = `id, token, user_id, client_id, scope, access_token_id, predecessor_id, created_at, expires_at, revoked, revoked_at`

func (r *PostgresTokenRepo) CreateRefreshToken(ctx context.Context, token domain.RefreshToken) (domain.RefreshToken, error) {
	ctx, cancel := queryCtx(ctx)
	defer cancel()

	var predecessor sql.NullInt64
	if token.PredecessorID != nil {
		predecessor = sql.NullInt64{Int64: *token.PredecessorID, Valid: true}
	}

	query := fmt.Sprintf(`INSERT INTO refresh_tokens
(id, token, user_id, client_id, scope, access_token_id, predecessor_id, created_at, expires_at, revoked)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, false)
RETURNING %s`, selectRefreshColumns)
	inserted, err := scanRefreshToken(r.db.QueryRow(ctx, query,
		token.ID, token.Token, token.UserID, token.ClientID, token.Scope,
		token.AccessTokenID, predecessor, token.CreatedAt, token.ExpiresAt,
	))
	if err != nil {
		return domain.RefreshToken{}, mapErr("insert refresh token", err)
	}
	return inserted, nil
}

func (r *PostgresTokenRepo) GetRefreshToken(ctx context.Context, token string) (domain.RefreshToken, error) {
	ctx, cancel := queryCtx(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM refresh_tokens WHERE token = $1`, selectRefreshColumns)
	rec, err := scanRefreshToken(r.db.QueryRow(ctx, query, token))
	if err != nil {
		return domain.RefreshToken{}, mapErr("get refresh token", err)
	}
	return rec, nil
}

func (r *PostgresTokenRepo) GetSuccessor(ctx context.Context, id int64) (domain.RefreshToken, error) {
	ctx, cancel := queryCtx(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM refresh_tokens WHERE predecessor_id = $1`, selectRefreshColumns)
	rec, err := scanRefreshToken(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return domain.RefreshToken{}, mapErr("get successor", err)
	}
	return rec, nil
}

func (r *PostgresTokenRepo) RevokeRefreshTokenIfActive(ctx context.Context, id int64) (bool, error) {
	ctx, cancel := queryCtx(ctx)
	defer cancel()

	tag, err := r.db.Exec(ctx, `UPDATE refresh_tokens SET revoked = true, revoked_at = now() WHERE id = $1 AND revoked = false`, id)
	if err != nil {
		return false, mapErr("revoke refresh token cas", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresTokenRepo) RevokeRefreshToken(ctx context.Context, id int64) error {
	ctx, cancel := queryCtx(ctx)
	defer cancel()

	if _, err := r.db.Exec(ctx, `UPDATE refresh_tokens SET revoked = true, revoked_at = now() WHERE id = $1 AND revoked = false`, id); err != nil {
		return mapErr("revoke refresh token", err)
	}
	return nil
}

func (r *PostgresTokenRepo) CreateAccessTokenRecord(ctx context.Context, record domain.AccessTokenRecord) error {
	ctx, cancel := queryCtx(ctx)
	defer cancel()

	const query = `INSERT INTO access_tokens (id, token_hash, issued_at, expires_at, revoked)
VALUES ($1, $2, $3, $4, false)`
	if _, err := r.db.Exec(ctx, query, record.ID, record.TokenHash, record.IssuedAt, record.ExpiresAt); err != nil {
		return mapErr("insert access token record", err)
	}
	return nil
}

func (r *PostgresTokenRepo) GetAccessTokenRecord(ctx context.Context, id string) (domain.AccessTokenRecord, error) {
	ctx, cancel := queryCtx(ctx)
	defer cancel()

	const query = `SELECT id, token_hash, issued_at, expires_at, revoked, revoked_at FROM access_tokens WHERE id = $1`

	var (
		rec       domain.AccessTokenRecord
		revokedAt sql.NullTime
	)
	if err := r.db.QueryRow(ctx, query, id).Scan(
		&rec.ID, &rec.TokenHash, &rec.IssuedAt, &rec.ExpiresAt, &rec.Revoked, &revokedAt,
	); err != nil {
		return domain.AccessTokenRecord{}, mapErr("get access token record", err)
	}
	rec.RevokedAt = nullableTime(revokedAt)
	return rec, nil
}

func (r *PostgresTokenRepo) RevokeAccessToken(ctx context.Context, id string) error {
	ctx, cancel := queryCtx(ctx)
	defer cancel()

	if _, err := r.db.Exec(ctx, `UPDATE access_tokens SET revoked = true, revoked_at = now() WHERE id = $1 AND revoked = false`, id); err != nil {
		return mapErr("revoke access token", err)
	}
	return nil
}

// PostgresClientRepo implements ClientRepository.
type PostgresClientRepo struct {
	db *pgxpool.Pool
}

func NewPostgresClientRepo(pool *pgxpool.Pool) *PostgresClientRepo {
	return &PostgresClientRepo{db: pool}
}

func (r *PostgresClientRepo) GetClientByID(ctx context.Context, clientID string) (domain.Client, error) {
	ctx, cancel := queryCtx(ctx)
	defer cancel()

	const query = `SELECT client_id, secret_hash, redirect_uris, scopes, active, created_at
FROM oauth_clients WHERE client_id = $1 LIMIT 1`

	var client domain.Client
	if err := r.db.QueryRow(ctx, query, clientID).Scan(
		&client.ClientID, &client.SecretHash, &client.RedirectURIs, &client.Scopes, &client.Active, &client.CreatedAt,
	); err != nil {
		return domain.Client{}, mapErr("get oauth client", err)
	}
	return client, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKey(row rowScanner) (domain.SigningKey, error) {
	var (
		key        domain.SigningKey
		privatePEM []byte
		rotatedAt  sql.NullTime
	)
	if err := row.Scan(&key.KID, &key.Algorithm, &privatePEM, &key.IsActive, &key.CreatedAt, &key.ExpiresAt, &rotatedAt); err != nil {
		return domain.SigningKey{}, err
	}
	privateKey, err := decodePrivateKey(privatePEM)
	if err != nil {
		return domain.SigningKey{}, err
	}
	key.PrivateKey = privateKey
	key.RotatedAt = nullableTime(rotatedAt)
	return key, nil
}

func scanRefreshToken(row rowScanner) (domain.RefreshToken, error) {
	var (
		rec         domain.RefreshToken
		predecessor sql.NullInt64
		revokedAt   sql.NullTime
	)
	if err := row.Scan(
		&rec.ID, &rec.Token, &rec.UserID, &rec.ClientID, &rec.Scope,
		&rec.AccessTokenID, &predecessor, &rec.CreatedAt, &rec.ExpiresAt, &rec.Revoked, &revokedAt,
	); err != nil {
		return domain.RefreshToken{}, err
	}
	if predecessor.Valid {
		val := predecessor.Int64
		rec.PredecessorID = &val
	}
	rec.RevokedAt = nullableTime(revokedAt)
	return rec, nil
}

func encodePrivateKey(key *rsa.PrivateKey) ([]byte, error) {
	if key == nil {
		return nil, fmt.Errorf("missing private key")
	}
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	return pem.EncodeToMemory(block), nil
}

func decodePrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("malformed private key pem")
	}
	return x509.ParsePKCS1PrivateKey(block.Bytes)
}

func nullableTime(t sql.NullTime) *time.Time {
	if t.Valid {
		return &t.Time
	}
	return nil
}
