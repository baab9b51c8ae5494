package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/PiloTracer/tools-dashboard-sub002/internal/middleware"
)

func postForm(r *gin.Engine, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimiterThrottlesPerClient(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// 60 rpm gives a burst of 6; the seventh immediate request is throttled.
	limiter := middleware.NewRateLimiter(60)
	r := gin.New()
	r.Use(limiter.Handler())
	r.POST("/oauth/token", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 6; i++ {
		w := postForm(r, url.Values{"client_id": {"app1"}})
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := postForm(r, url.Values{"client_id": {"app1"}})
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	// A different client keeps its own bucket even from the same address.
	w = postForm(r, url.Values{"client_id": {"app2"}})
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimiterDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)

	require.Nil(t, middleware.NewRateLimiter(0))

	var limiter *middleware.RateLimiter
	r := gin.New()
	r.Use(limiter.Handler())
	r.POST("/oauth/token", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 20; i++ {
		w := postForm(r, url.Values{"client_id": {"app1"}})
		require.Equal(t, http.StatusOK, w.Code)
	}
}
