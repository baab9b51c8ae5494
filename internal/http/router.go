package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/PiloTracer/tools-dashboard-sub002/internal/config"
	"github.com/PiloTracer/tools-dashboard-sub002/internal/http/handler"
	httpmiddleware "github.com/PiloTracer/tools-dashboard-sub002/internal/http/middleware"
	"github.com/PiloTracer/tools-dashboard-sub002/internal/middleware"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(cfg config.Config, oauthHandler *handler.OAuthHandler, rateLimiter *middleware.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(nil))
	if rateLimiter != nil {
		r.Use(rateLimiter.Handler())
	}
	r.Use(middleware.CORS(cfg))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	r.GET("/.well-known/oauth-authorization-server", oauthHandler.Metadata)
	r.GET("/.well-known/jwks.json", oauthHandler.JWKS)

	oauth := r.Group("/oauth")
	{
		oauth.GET("/authorize", oauthHandler.Authorize)
		oauth.POST("/token", oauthHandler.Token)
		oauth.POST("/introspect", oauthHandler.Introspect)
		oauth.POST("/revoke", oauthHandler.Revoke)
	}

	// Operator surface; the gateway keeps /internal off the public network.
	internal := r.Group("/internal")
	{
		internal.POST("/keys/rotate", oauthHandler.RotateKey)
	}

	return r
}
