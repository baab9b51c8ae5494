package handler_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/PiloTracer/tools-dashboard-sub002/internal/domain"
	httpHandler "github.com/PiloTracer/tools-dashboard-sub002/internal/http/handler"
	"github.com/PiloTracer/tools-dashboard-sub002/internal/jwt"
	"github.com/PiloTracer/tools-dashboard-sub002/internal/repository"
	"github.com/PiloTracer/tools-dashboard-sub002/internal/service"
)

const testIssuer = "https://auth.tools.example"

func TestJWKSHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, testIssuer+"/.well-known/jwks.json", nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req

	handler.JWKS(c)

	res := w.Result()
	body, _ := io.ReadAll(res.Body)
	_ = res.Body.Close()

	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Contains(t, string(body), "keys")
	require.Contains(t, string(body), "RS256")
}

func TestMetadataResponse(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, testIssuer+"/.well-known/oauth-authorization-server", nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req

	handler.Metadata(c)

	res := w.Result()
	body, _ := io.ReadAll(res.Body)
	_ = res.Body.Close()

	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Contains(t, string(body), "authorization_endpoint")
	require.Contains(t, string(body), "jwks_uri")
	require.Contains(t, string(body), "S256")
}

func newTestHandler(t *testing.T) *httpHandler.OAuthHandler {
	t.Helper()

	keyRepo := &inMemoryKeyRepo{}
	keyManager := jwt.NewKeyManager(keyRepo, 24*time.Hour)
	_, err := keyManager.EnsureActiveKey(context.Background())
	require.NoError(t, err)

	return httpHandler.NewOAuthHandler(nil, nil, keyManager, nil, &service.DiscoveryService{}, testIssuer)
}

type inMemoryKeyRepo struct {
	keys []domain.SigningKey
}

var _ repository.KeyRepository = (*inMemoryKeyRepo)(nil)

func (i *inMemoryKeyRepo) GetActiveKey(ctx context.Context) (domain.SigningKey, error) {
	for _, key := range i.keys {
		if key.IsActive {
			return key, nil
		}
	}
	return domain.SigningKey{}, pgx.ErrNoRows
}

func (i *inMemoryKeyRepo) ListVerificationKeys(ctx context.Context) ([]domain.SigningKey, error) {
	out := make([]domain.SigningKey, len(i.keys))
	copy(out, i.keys)
	return out, nil
}

func (i *inMemoryKeyRepo) RotateActive(ctx context.Context, next domain.SigningKey) (domain.SigningKey, error) {
	now := time.Now().UTC()
	for idx := range i.keys {
		if i.keys[idx].IsActive {
			i.keys[idx].IsActive = false
			i.keys[idx].RotatedAt = &now
		}
	}
	i.keys = append(i.keys, next)
	return next, nil
}
