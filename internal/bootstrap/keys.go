package bootstrap

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/PiloTracer/tools-dashboard-sub002/internal/jwt"
)

// EnsureSigningKey guarantees an active signing key exists before the server
// accepts traffic. A store without an active key is a fatal startup
// condition, never a runtime error.
func EnsureSigningKey(keys *jwt.KeyManager, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	key, err := keys.EnsureActiveKey(ctx)
	if err != nil {
		return fmt.Errorf("ensure signing key: %w", err)
	}

	if logger != nil {
		logger.Info("active signing key ready",
			zap.String("kid", key.KID),
			zap.Time("expires_at", key.ExpiresAt),
		)
	}
	return nil
}
