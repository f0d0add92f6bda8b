package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/chainledger/internal/identity"
	"github.com/jmerrifield20/chainledger/internal/ledger"
	"github.com/jmerrifield20/chainledger/internal/verify"
)

// RouterConfig holds everything NewRouter wires together.
type RouterConfig struct {
	Ledger *ledger.Ledger
	Engine *verify.Engine
	Hub    *Hub // optional

	Tokens          *identity.ActorTokenIssuer // nil leaves commits open
	AdminSecretHash string                     // empty disables reset

	CORSOrigins  []string
	RateLimit RateLimitConfig
	Logger       *zap.Logger
}

// NewRouter builds the ledgerd HTTP router. ctx bounds background work
// started by middleware.
func NewRouter(ctx context.Context, cfg RouterConfig) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())

	if len(cfg.CORSOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept", AdminSecretHeader, RequestIDHeader},
			ExposeHeaders:    []string{"Content-Length", RequestIDHeader},
			AllowCredentials: !containsWildcard(cfg.CORSOrigins),
			MaxAge:           12 * time.Hour,
		}))
	}

	router.Use(SecurityHeaders())
	router.Use(BodyLimit(1 << 20))
	if cfg.RateLimit.RPS > 0 {
		router.Use(RateLimiter(ctx, cfg.RateLimit))
	}
	router.Use(RequestID())
	router.Use(RequestLogger(logger))
	router.Use(PrometheusMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", MetricsHandler())

	v1 := router.Group("/api/v1")
	NewBlockHandler(cfg.Ledger, cfg.Engine, cfg.Tokens, logger).Register(v1)
	NewLedgerHandler(cfg.Ledger, cfg.Hub, cfg.AdminSecretHash, logger).Register(v1)

	return router
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}
