package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/tsa-ledger/internal/auth"
	"github.com/jmerrifield20/tsa-ledger/internal/eventledger"
	"go.uber.org/zap"
)

// LedgerHandler exposes HTTP endpoints for reading, appending to and
// streaming the event ledger.
type LedgerHandler struct {
	ledger       *eventledger.Ledger
	writerAuth   gin.HandlerFunc
	pingInterval time.Duration
	logger       *zap.Logger
}

// NewLedgerHandler creates a new LedgerHandler. Appends are open until
// SetWriterAuth is called.
func NewLedgerHandler(ledger *eventledger.Ledger, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{
		ledger:       ledger,
		writerAuth:   auth.RequireWriter(nil),
		pingInterval: defaultPingInterval,
		logger:       logger,
	}
}

// SetWriterAuth configures the middleware guarding POST /ledger/entries.
func (h *LedgerHandler) SetWriterAuth(mw gin.HandlerFunc) {
	h.writerAuth = mw
}

// SetPingInterval configures the keepalive interval of stream connections.
func (h *LedgerHandler) SetPingInterval(d time.Duration) {
	if d > 0 {
		h.pingInterval = d
	}
}

// Register mounts the ledger routes on the given router group.
func (h *LedgerHandler) Register(rg *gin.RouterGroup) {
	l := rg.Group("/ledger")
	{
		l.GET("", h.Overview)
		l.GET("/chain", h.Chain)
		l.GET("/verify", h.Verify)
		l.GET("/entries/:idx", h.GetEntry)
		l.POST("/entries", h.writerAuth, h.Append)
		l.GET("/features/:feature/logs", h.FeatureLogs)
		l.GET("/stream", h.Stream)
		l.GET("/events", h.Events)
	}
}

// Overview handles GET /ledger and returns the chain length, current root hash
// and live subscriber count.
func (h *LedgerHandler) Overview(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"entries":     h.ledger.Len(),
		"root":        h.ledger.Root(),
		"subscribers": h.ledger.Subscribers(),
	})
}

// Chain handles GET /ledger/chain and returns the full chain, or the entries
// from ?since=N onward.
func (h *LedgerHandler) Chain(c *gin.Context) {
	var pred eventledger.Predicate
	if s := c.Query("since"); s != "" {
		since, err := strconv.Atoi(s)
		if err != nil || since < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be a non-negative integer"})
			return
		}
		pred = eventledger.Since(since)
	}
	c.JSON(http.StatusOK, h.ledger.Query(pred))
}

// Verify handles GET /ledger/verify and walks the full chain and reports integrity.
func (h *LedgerHandler) Verify(c *gin.Context) {
	err := h.ledger.VerifyChain()
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"valid": true, "entries": h.ledger.Len()})
		return
	}

	h.logger.Warn("ledger integrity check failed", zap.Error(err))
	resp := gin.H{"valid": false, "error": err.Error()}
	var brk *eventledger.ChainBreak
	if errors.As(err, &brk) {
		resp["broken_index"] = brk.Index
	}
	c.JSON(http.StatusOK, resp)
}

// GetEntry handles GET /ledger/entries/:idx and returns a single ledger entry.
func (h *LedgerHandler) GetEntry(c *gin.Context) {
	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil || idx < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "idx must be a non-negative integer"})
		return
	}

	entry, err := h.ledger.Get(idx)
	if err != nil {
		respondError(c, h.logger, "ledger Get", err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

type appendRequest struct {
	Feature string          `json:"feature" binding:"required"`
	Payload json.RawMessage `json:"payload"`
}

// Append handles POST /ledger/entries and records an arbitrary feature event.
func (h *LedgerHandler) Append(c *gin.Context) {
	var req appendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Payload) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "payload is required"})
		return
	}

	entry, err := h.ledger.Append(c.Request.Context(), req.Feature, req.Payload)
	if err != nil {
		respondError(c, h.logger, "ledger Append", err)
		return
	}

	fields := []zap.Field{zap.Int("index", entry.Index), zap.String("feature", entry.Feature)}
	if claims := auth.ClaimsFromCtx(c); claims != nil {
		fields = append(fields, zap.String("writer", claims.Subject))
	}
	h.logger.Info("ledger entry appended via API", fields...)
	c.JSON(http.StatusCreated, entry)
}

// FeatureLogs handles GET /ledger/features/:feature/logs and returns the
// entries recorded under a feature, optionally only those whose payload has
// ?key=<name>.
func (h *LedgerHandler) FeatureLogs(c *gin.Context) {
	feature := c.Param("feature")
	preds := []eventledger.Predicate{eventledger.FeatureIs(feature)}
	if key := c.Query("key"); key != "" {
		preds = append(preds, eventledger.HasPayloadKey(key))
	}

	entries := h.ledger.Query(eventledger.All(preds...))
	c.JSON(http.StatusOK, gin.H{
		"feature": feature,
		"count":   len(entries),
		"entries": entries,
	})
}
