package main

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/tsa-ledger/internal/activity"
	"github.com/jmerrifield20/tsa-ledger/internal/auth"
	"github.com/jmerrifield20/tsa-ledger/internal/eventledger"
	"github.com/jmerrifield20/tsa-ledger/internal/health"
	"github.com/jmerrifield20/tsa-ledger/internal/server/handler"
	"go.uber.org/zap"
)

const maxRequestBody = 1 << 20

func newRouter(
	ctx context.Context,
	cfg config,
	ledger *eventledger.Ledger,
	svc *activity.Service,
	writerAuth *auth.TokenIssuer,
	logger *zap.Logger,
) *gin.Engine {
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	// CORS
	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: !containsWildcard(cfg.CORSOrigins),
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.CORSOrigins) == 0 || containsWildcard(cfg.CORSOrigins) {
		corsConfig.AllowOrigins = nil
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowCredentials = false
	}
	router.Use(cors.New(corsConfig))

	router.Use(securityHeaders())

	// Request body size limit (1 MB)
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBody)
		c.Next()
	})

	router.Use(handler.RateLimiter(ctx, cfg.RateLimitRPS, cfg.RateLimitRPS*2))
	router.Use(handler.PrometheusMiddleware())
	router.Use(requestLogger(logger))

	// Health (public, no auth)
	var auditor *health.Auditor
	if cfg.AuditInterval > 0 {
		auditor = health.New(ledger, health.Config{CheckInterval: cfg.AuditInterval}, logger)
		auditor.SetMetricsRecord(handler.RecordChainAudit)
		go auditor.Start(ctx)
	}

	router.GET("/healthz", func(c *gin.Context) {
		status := http.StatusOK
		body := gin.H{"status": "ok", "entries": ledger.Len()}
		if !ledger.Verify() {
			status = http.StatusServiceUnavailable
			body["status"] = "chain verification failed"
		}
		if auditor != nil {
			body["audit"] = auditor.Last()
		}
		c.JSON(status, body)
	})
	router.GET("/metrics", handler.MetricsHandler())

	// Feature endpoints
	handler.NewActivityHandler(svc, ledger, logger).Register(router)

	// API v1
	ledgerHandler := handler.NewLedgerHandler(ledger, logger)
	ledgerHandler.SetPingInterval(cfg.StreamPingInterval)
	if writerAuth != nil {
		ledgerHandler.SetWriterAuth(auth.RequireWriter(writerAuth))
	}
	ledgerHandler.Register(router.Group("/api/v1"))

	return router
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
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

// requestLogger returns a Gin middleware that logs each request with zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
