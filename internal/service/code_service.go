package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/PiloTracer/tools-dashboard-sub002/internal/domain"
	"github.com/PiloTracer/tools-dashboard-sub002/internal/pkce"
	"github.com/PiloTracer/tools-dashboard-sub002/internal/repository"
)

// AuthorizationCodeService issues and redeems one-time authorization codes.
// A code moves issued -> redeemed exactly once; expiry is checked at
// redemption time.
type AuthorizationCodeService struct {
	codes   repository.CodeRepository
	clients repository.ClientRepository
	codeTTL time.Duration
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewAuthorizationCodeService wires dependencies.
func NewAuthorizationCodeService(codes repository.CodeRepository, clients repository.ClientRepository, codeTTL time.Duration, logger *zap.Logger) *AuthorizationCodeService {
	return &AuthorizationCodeService{
		codes:   codes,
		clients: clients,
		codeTTL: codeTTL,
		logger:  logger,
		tracer:  otel.Tracer("github.com/PiloTracer/tools-dashboard-sub002/internal/service"),
	}
}

// IssueCodeInput carries everything recorded at issuance. UserID comes from
// the upstream authentication step; this core never authenticates end users.
type IssueCodeInput struct {
	UserID              int64
	ClientID            string
	RedirectURI         string
	Scope               []string
	CodeChallenge       string
	CodeChallengeMethod string
}

// Grant is the result of a successful code redemption.
type Grant struct {
	UserID int64
	Scope  []string
}

// IssueCode validates the client against the registry, persists an
// AuthorizationCode with a bounded TTL, and returns the opaque code value.
// The redirect URI has already been validated against the registry by the
// caller; it is recorded here for the exact-match check at redemption.
func (s *AuthorizationCodeService) IssueCode(ctx context.Context, in IssueCodeInput) (string, error) {
	ctx, span := s.startSpan(ctx, "AuthorizationCodeService.IssueCode")
	defer span.End()

	clientID := strings.TrimSpace(in.ClientID)
	redirect := strings.TrimSpace(in.RedirectURI)
	if clientID == "" || redirect == "" {
		return "", domain.ErrInvalidRequest
	}

	client, err := s.clients.GetClientByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrUnauthorizedClient
		}
		span.RecordError(err)
		return "", fmt.Errorf("lookup client: %w", err)
	}
	if !client.Active {
		return "", domain.ErrUnauthorizedClient
	}
	if !client.AllowsScope(in.Scope) {
		return "", domain.ErrInvalidRequest
	}

	challenge := strings.TrimSpace(in.CodeChallenge)
	method := strings.TrimSpace(in.CodeChallengeMethod)
	if challenge != "" && method != domain.ChallengeMethodS256 {
		return "", domain.ErrUnsupportedChallengeMethod
	}
	if challenge == "" && method != "" {
		return "", domain.ErrInvalidRequest
	}
	if challenge == "" && client.SecretHash == "" {
		// Public clients have no secret to present at the token endpoint;
		// PKCE is their only proof of possession.
		return "", domain.ErrInvalidRequest
	}

	now := time.Now().UTC()
	code := domain.AuthorizationCode{
		Code:                randomToken(32),
		UserID:              in.UserID,
		ClientID:            clientID,
		Scope:               in.Scope,
		RedirectURI:         redirect,
		CodeChallenge:       challenge,
		CodeChallengeMethod: method,
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.codeTTL),
	}

	if err := s.codes.CreateCode(ctx, code); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("persist authorization code: %w", err)
	}

	s.audit("authorization_code.issued", "user_id", in.UserID, "client_id", clientID, "pkce", challenge != "")
	return code.Code, nil
}

// RedeemCode exchanges a code for the grant it was issued against. Every
// failure mode (missing, used, expired, client/redirect mismatch, PKCE
// mismatch) reports the same ErrInvalidGrant so callers cannot probe which
// check failed. The used flag flips through a conditional write, so exactly
// one of any concurrent redemptions succeeds.
func (s *AuthorizationCodeService) RedeemCode(ctx context.Context, code, clientID, redirectURI, codeVerifier string) (Grant, error) {
	ctx, span := s.startSpan(ctx, "AuthorizationCodeService.RedeemCode")
	defer span.End()

	if strings.TrimSpace(code) == "" {
		return Grant{}, domain.ErrInvalidGrant
	}

	stored, err := s.codes.GetCode(ctx, code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Grant{}, domain.ErrInvalidGrant
		}
		span.RecordError(err)
		return Grant{}, fmt.Errorf("lookup authorization code: %w", err)
	}

	if stored.Used || stored.Expired(time.Now()) {
		return Grant{}, domain.ErrInvalidGrant
	}
	if stored.ClientID != strings.TrimSpace(clientID) || stored.RedirectURI != strings.TrimSpace(redirectURI) {
		return Grant{}, domain.ErrInvalidGrant
	}
	if stored.CodeChallenge != "" && !pkce.Verify(stored.CodeChallenge, codeVerifier) {
		return Grant{}, domain.ErrInvalidGrant
	}

	consumed, err := s.codes.ConsumeCode(ctx, stored.Code)
	if err != nil {
		span.RecordError(err)
		return Grant{}, fmt.Errorf("consume authorization code: %w", err)
	}
	if !consumed {
		// A concurrent redemption won the conditional update.
		return Grant{}, domain.ErrInvalidGrant
	}

	s.audit("authorization_code.redeemed", "user_id", stored.UserID, "client_id", stored.ClientID)
	return Grant{UserID: stored.UserID, Scope: stored.Scope}, nil
}

// IsValidRedirectURI validates redirect URIs against the client registry.
// The HTTP layer calls this before IssueCode; the service itself only
// re-checks the recorded value at redemption.
func (s *AuthorizationCodeService) IsValidRedirectURI(ctx context.Context, clientID, redirectURI string) bool {
	cleanClient := strings.TrimSpace(clientID)
	cleanRedirect := strings.TrimSpace(redirectURI)
	if cleanClient == "" || cleanRedirect == "" {
		return false
	}

	client, err := s.clients.GetClientByID(ctx, cleanClient)
	if err != nil {
		if logger := s.logger; logger != nil {
			logger.Warn("lookup oauth client failed", zap.String("client_id", cleanClient), zap.Error(err))
		}
		return false
	}
	return client.Active && client.AllowsRedirectURI(cleanRedirect)
}

func (s *AuthorizationCodeService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func (s *AuthorizationCodeService) audit(event string, attrs ...any) {
	auditLog(s.logger, event, attrs...)
}

func auditLog(logger *zap.Logger, event string, attrs ...any) {
	if logger == nil {
		logger = zap.L()
	}
	fields := make([]zap.Field, 0, len(attrs)/2+2)
	fields = append(fields, zap.String("event", event), zap.Time("timestamp", time.Now().UTC()))
	for i := 0; i+1 < len(attrs); i += 2 {
		key, ok := attrs[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, attrs[i+1]))
	}
	logger.Info("audit", fields...)
}

func randomToken(n int) string {
	if n <= 0 {
		n = 32
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
