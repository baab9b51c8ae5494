package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cacheadapter "github.com/PiloTracer/tools-dashboard-sub002/internal/adapter/cache"
	"github.com/PiloTracer/tools-dashboard-sub002/internal/bootstrap"
	"github.com/PiloTracer/tools-dashboard-sub002/internal/config"
	httptransport "github.com/PiloTracer/tools-dashboard-sub002/internal/http"
	"github.com/PiloTracer/tools-dashboard-sub002/internal/http/handler"
	"github.com/PiloTracer/tools-dashboard-sub002/internal/jwt"
	apimiddleware "github.com/PiloTracer/tools-dashboard-sub002/internal/middleware"
	"github.com/PiloTracer/tools-dashboard-sub002/internal/repository"
	"github.com/PiloTracer/tools-dashboard-sub002/internal/server"
	"github.com/PiloTracer/tools-dashboard-sub002/internal/service"
	"github.com/PiloTracer/tools-dashboard-sub002/internal/telemetry"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newPGXPool,
			newKeyRepository,
			newCodeRepository,
			newTokenRepository,
			newClientRepository,
			newRevocationCache,
			newKeyManager,
			newTokenGenerator,
			newRevocationRegistry,
			newAuthorizationCodeService,
			newTokenService,
			newDiscoveryService,
			newRateLimiter,
			newOAuthHandler,
			newRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, ensureSigningKey, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newSnowflake() (*snowflake.Node, error) {
	node, err := snowflake.NewNode(1)
	return node, err
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newKeyRepository(pool *pgxpool.Pool) repository.KeyRepository {
	return repository.NewPostgresKeyRepo(pool)
}

func newCodeRepository(pool *pgxpool.Pool) repository.CodeRepository {
	return repository.NewPostgresCodeRepo(pool)
}

func newTokenRepository(pool *pgxpool.Pool) repository.TokenRepository {
	return repository.NewPostgresTokenRepo(pool)
}

func newClientRepository(pool *pgxpool.Pool) repository.ClientRepository {
	return repository.NewPostgresClientRepo(pool)
}

// newRevocationCache is optional: without REDIS_ADDR the registry queries
// the store directly.
func newRevocationCache(lc fx.Lifecycle, cfg config.Config) (service.RevocationCache, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return cacheadapter.NewRedisRevocationCache(client), nil
}

func newKeyManager(repo repository.KeyRepository, cfg config.Config) *jwt.KeyManager {
	return jwt.NewKeyManager(repo, cfg.SigningKeyTTL)
}

func newTokenGenerator(keys *jwt.KeyManager, cfg config.Config) *jwt.Generator {
	return jwt.NewGenerator(keys, cfg.Issuer, cfg.AccessTokenTTL)
}

func newRevocationRegistry(tokens repository.TokenRepository, cache service.RevocationCache, cfg config.Config, logger *zap.Logger) *service.RevocationRegistry {
	return service.NewRevocationRegistry(tokens, cache, cfg.AccessTokenTTL, logger)
}

func newAuthorizationCodeService(codes repository.CodeRepository, clients repository.ClientRepository, cfg config.Config, logger *zap.Logger) *service.AuthorizationCodeService {
	return service.NewAuthorizationCodeService(codes, clients, cfg.AuthCodeTTL, logger)
}

func newTokenService(tokens repository.TokenRepository, generator *jwt.Generator, revocations *service.RevocationRegistry, node *snowflake.Node, cfg config.Config, logger *zap.Logger) *service.TokenService {
	return service.NewTokenService(tokens, generator, revocations, node, cfg.AccessTokenTTL, cfg.RefreshTokenTTL, cfg.RefreshTokenBytes, logger)
}

func newDiscoveryService() *service.DiscoveryService {
	return &service.DiscoveryService{}
}

func newRateLimiter(cfg config.Config) *apimiddleware.RateLimiter {
	return apimiddleware.NewRateLimiter(cfg.RateLimitRPM)
}

func newOAuthHandler(codes *service.AuthorizationCodeService, tokens *service.TokenService, keys *jwt.KeyManager, clients repository.ClientRepository, discovery *service.DiscoveryService, cfg config.Config) *handler.OAuthHandler {
	return handler.NewOAuthHandler(codes, tokens, keys, clients, discovery, cfg.Issuer)
}

func newRouter(cfg config.Config, oauthHandler *handler.OAuthHandler, rateLimiter *apimiddleware.RateLimiter) *gin.Engine {
	return httptransport.NewRouter(cfg, oauthHandler, rateLimiter)
}

func ensureSigningKey(keys *jwt.KeyManager, logger *zap.Logger) error {
	return bootstrap.EnsureSigningKey(keys, logger)
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
