package http

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/webcall/internal/adapters/signal"
	"github.com/dkeye/webcall/internal/app/transform"
	"github.com/dkeye/webcall/internal/config"
)

const secretHeader = "X-Bridge-Secret"

// BridgeHandler serves one host bridge connection.
type BridgeHandler interface {
	HandleBridge(ctx context.Context, c *gin.Context)
}

// SecretMiddleware rejects requests whose X-Bridge-Secret does not match.
// An empty secret lets everything through.
func SecretMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}
		got := c.GetHeader(secretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			log.Warn().Str("module", "adapters.http").Str("remote", c.ClientIP()).Msg("bridge secret mismatch")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// RateLimitMiddleware limits requests per client address.
func RateLimitMiddleware(rl *signal.RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			log.Warn().Str("module", "adapters.http").Str("remote", c.ClientIP()).Msg("bridge rate limited")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

type capabilitiesView struct {
	transform.Platform
	Encryption bool `json:"encryption"`
	UseWorker  bool `json:"useWorker"`
	Compress   bool `json:"compress"`
}

func SetupRouter(ctx context.Context, cfg *config.Config, bridge BridgeHandler, rl *signal.RateLimiter) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	log.Info().Str("module", "adapters.http").Bool("auth", cfg.Secret != "").Msg("router setup")

	api := r.Group("/api")

	api.GET("/capabilities", func(c *gin.Context) {
		c.JSON(http.StatusOK, capabilitiesView{
			Platform:   cfg.Platform,
			Encryption: cfg.Platform.EncryptionSupported(cfg.Call.UseWorker),
			UseWorker:  cfg.Call.UseWorker,
			Compress:   cfg.Call.Compress,
		})
	})

	api.GET("/bridge", SecretMiddleware(cfg.Secret), RateLimitMiddleware(rl), func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("remote", c.ClientIP()).Msg("bridge endpoint hit")
		bridge.HandleBridge(ctx, c)
	})

	return r
}
