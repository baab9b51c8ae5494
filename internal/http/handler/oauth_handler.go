package handler

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/PiloTracer/tools-dashboard-sub002/internal/domain"
	"github.com/PiloTracer/tools-dashboard-sub002/internal/jwt"
	"github.com/PiloTracer/tools-dashboard-sub002/internal/repository"
	"github.com/PiloTracer/tools-dashboard-sub002/internal/secret"
	"github.com/PiloTracer/tools-dashboard-sub002/internal/service"
)

// authenticatedUserHeader carries the upstream-authenticated user id. The
// gateway in front of this service strips the header from external traffic
// and sets it only after its own authentication step.
const authenticatedUserHeader = "X-Authenticated-User"

// OAuthHandler orchestrates the authorization-server endpoints.
type OAuthHandler struct {
	Codes     *service.AuthorizationCodeService
	Tokens    *service.TokenService
	Keys      *jwt.KeyManager
	Clients   repository.ClientRepository
	Discovery *service.DiscoveryService
	Issuer    string
}

// NewOAuthHandler creates the handler set.
func NewOAuthHandler(codes *service.AuthorizationCodeService, tokens *service.TokenService, keys *jwt.KeyManager, clients repository.ClientRepository, discovery *service.DiscoveryService, issuer string) *OAuthHandler {
	return &OAuthHandler{Codes: codes, Tokens: tokens, Keys: keys, Clients: clients, Discovery: discovery, Issuer: issuer}
}

// Metadata returns the RFC 8414 discovery document.
func (h *OAuthHandler) Metadata(c *gin.Context) {
	c.JSON(http.StatusOK, h.Discovery.Metadata(h.Issuer))
}

// JWKS exposes the public key set, retired-but-valid keys included.
func (h *OAuthHandler) JWKS(c *gin.Context) {
	jwks, err := h.Keys.PublicKeySet(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, jwks)
}

// RotateKey generates a new signing key and demotes the previous one. The
// route is mounted under /internal and must only be reachable from the
// operator network.
func (h *OAuthHandler) RotateKey(c *gin.Context) {
	key, err := h.Keys.Rotate(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"kid": key.KID, "expires_at": key.ExpiresAt})
}

type authorizeRequest struct {
	ClientID            string `form:"client_id"`
	ResponseType        string `form:"response_type"`
	RedirectURI         string `form:"redirect_uri"`
	Scope               string `form:"scope"`
	CodeChallenge       string `form:"code_challenge"`
	CodeChallengeMethod string `form:"code_challenge_method"`
	State               string `form:"state"`
}

// Authorize issues an authorization code for an upstream-authenticated user
// and redirects back to the client. Errors discovered before the redirect
// URI is validated are returned directly; later ones redirect with standard
// OAuth error parameters.
func (h *OAuthHandler) Authorize(c *gin.Context) {
	var req authorizeRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid authorize request."})
		return
	}

	responseType := strings.TrimSpace(req.ResponseType)
	if responseType == "" {
		responseType = "code"
	}
	if !strings.EqualFold(responseType, "code") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_response_type", "error_description": "Only response_type=code is supported."})
		return
	}

	redirectURI := strings.TrimSpace(req.RedirectURI)
	parsedRedirect, err := url.Parse(redirectURI)
	if redirectURI == "" || err != nil || parsedRedirect.Scheme == "" || parsedRedirect.Host == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "redirect_uri must be absolute."})
		return
	}
	if !h.Codes.IsValidRedirectURI(c.Request.Context(), req.ClientID, redirectURI) {
		// Never redirect to an unregistered URI.
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "redirect_uri not registered for this client."})
		return
	}

	userID, ok := upstreamUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "access_denied", "error_description": "No authenticated user."})
		return
	}

	code, err := h.Codes.IssueCode(c.Request.Context(), service.IssueCodeInput{
		UserID:              userID,
		ClientID:            req.ClientID,
		RedirectURI:         redirectURI,
		Scope:               strings.Fields(req.Scope),
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
	})
	if err != nil {
		h.redirectError(c, parsedRedirect, req.State, err)
		return
	}

	q := parsedRedirect.Query()
	q.Set("code", code)
	if req.State != "" {
		q.Set("state", req.State)
	}
	parsedRedirect.RawQuery = q.Encode()
	c.Redirect(http.StatusFound, parsedRedirect.String())
}

type tokenRequest struct {
	GrantType    string `form:"grant_type" binding:"required"`
	Code         string `form:"code"`
	RedirectURI  string `form:"redirect_uri"`
	CodeVerifier string `form:"code_verifier"`
	RefreshToken string `form:"refresh_token"`
	ClientID     string `form:"client_id"`
	ClientSecret string `form:"client_secret"`
}

// Token handles the token endpoint grant exchanges.
func (h *OAuthHandler) Token(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid token request."})
		return
	}

	if err := h.authenticateClient(c, req.ClientID, req.ClientSecret); err != nil {
		h.respondError(c, err)
		return
	}

	var (
		pair service.TokenPair
		err  error
	)
	switch strings.ToLower(req.GrantType) {
	case "authorization_code":
		var grant service.Grant
		grant, err = h.Codes.RedeemCode(c.Request.Context(), req.Code, req.ClientID, req.RedirectURI, req.CodeVerifier)
		if err == nil {
			pair, err = h.Tokens.IssueTokenPair(c.Request.Context(), grant.UserID, req.ClientID, grant.Scope)
		}
	case "refresh_token":
		pair, err = h.Tokens.Refresh(c.Request.Context(), req.RefreshToken, req.ClientID)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_grant_type", "error_description": "Unsupported grant type."})
		return
	}

	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

// Introspect validates tokens per RFC 7662. Dead tokens answer active=false
// rather than an error.
func (h *OAuthHandler) Introspect(c *gin.Context) {
	var req struct {
		Token string `form:"token" json:"token" binding:"required"`
	}
	if err := c.ShouldBind(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "token is required."})
		return
	}

	info, err := h.Tokens.ValidateAccessToken(c.Request.Context(), req.Token)
	if err != nil {
		if errors.Is(err, domain.ErrTokenExpired) || errors.Is(err, domain.ErrTokenInvalid) || errors.Is(err, domain.ErrTokenRevoked) {
			c.JSON(http.StatusOK, gin.H{"active": false})
			return
		}
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"active":    true,
		"sub":       strconv.FormatInt(info.UserID, 10),
		"client_id": info.ClientID,
		"scope":     strings.Join(info.Scope, " "),
		"exp":       info.ExpiresAt.Unix(),
	})
}

// Revoke processes RFC 7009 token revocation. Unknown tokens succeed.
func (h *OAuthHandler) Revoke(c *gin.Context) {
	var req struct {
		Token string `form:"token" json:"token" binding:"required"`
	}
	if err := c.ShouldBind(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "token is required."})
		return
	}
	if err := h.Tokens.Revoke(c.Request.Context(), req.Token); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}

// authenticateClient verifies client credentials for confidential clients.
// Public clients (no stored secret) rely on PKCE instead.
func (h *OAuthHandler) authenticateClient(c *gin.Context, clientID, clientSecret string) error {
	cleanID := strings.TrimSpace(clientID)
	if cleanID == "" {
		return domain.ErrInvalidRequest
	}

	client, err := h.Clients.GetClientByID(c.Request.Context(), cleanID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrUnauthorizedClient
		}
		return err
	}
	if !client.Active {
		return domain.ErrUnauthorizedClient
	}
	if client.SecretHash == "" {
		return nil
	}

	ok, err := secret.Verify(clientSecret, client.SecretHash)
	if err != nil || !ok {
		return domain.ErrUnauthorizedClient
	}
	return nil
}

func (h *OAuthHandler) redirectError(c *gin.Context, redirect *url.URL, state string, err error) {
	code, _, description := oauthErrorCode(err)
	q := redirect.Query()
	q.Set("error", code)
	q.Set("error_description", description)
	if state != "" {
		q.Set("state", state)
	}
	redirect.RawQuery = q.Encode()
	c.Redirect(http.StatusFound, redirect.String())
}

func (h *OAuthHandler) respondError(c *gin.Context, err error) {
	code, status, description := oauthErrorCode(err)
	if status >= http.StatusInternalServerError {
		zap.L().Error("oauth request failed", zap.Error(err))
	}
	c.JSON(status, gin.H{"error": code, "error_description": description})
}

// oauthErrorCode maps domain sentinels onto stable wire-level error codes.
func oauthErrorCode(err error) (code string, status int, description string) {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return "invalid_request", http.StatusBadRequest, "Malformed request."
	case errors.Is(err, domain.ErrUnauthorizedClient):
		return "unauthorized_client", http.StatusUnauthorized, "Unknown or inactive client."
	case errors.Is(err, domain.ErrUnsupportedChallengeMethod):
		return "unsupported_challenge_method", http.StatusBadRequest, "Only the S256 code challenge method is supported."
	case errors.Is(err, domain.ErrReuseDetected):
		return "reuse_detected", http.StatusBadRequest, "Refresh token reuse detected; token family revoked."
	case errors.Is(err, domain.ErrInvalidGrant):
		return "invalid_grant", http.StatusBadRequest, "Invalid grant."
	case errors.Is(err, domain.ErrTokenExpired):
		return "token_expired", http.StatusUnauthorized, "Token expired."
	case errors.Is(err, domain.ErrTokenRevoked):
		return "token_revoked", http.StatusUnauthorized, "Token revoked."
	case errors.Is(err, domain.ErrTokenInvalid):
		return "invalid_token", http.StatusUnauthorized, "Token could not be verified."
	case errors.Is(err, domain.ErrStorageUnavailable):
		return "temporarily_unavailable", http.StatusServiceUnavailable, "Storage unavailable; retry later."
	default:
		return "server_error", http.StatusInternalServerError, "Internal server error."
	}
}

func upstreamUserID(c *gin.Context) (int64, bool) {
	raw := strings.TrimSpace(c.GetHeader(authenticatedUserHeader))
	if raw == "" {
		return 0, false
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		return 0, false
	}
	return userID, true
}
