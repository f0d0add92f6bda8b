package api

import (
	"bytes"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/chainledger/internal/identity"
	"github.com/jmerrifield20/chainledger/internal/ledger"
)

// AdminSecretHeader carries the plaintext admin secret for DELETE /ledger.
const AdminSecretHeader = "X-Admin-Secret"

// LedgerHandler exposes chain-wide endpoints: overview, audit, export,
// proof, reset and the live block stream.
type LedgerHandler struct {
	ledger     *ledger.Ledger
	hub        *Hub
	secretHash string
	logger     *zap.Logger
}

// NewLedgerHandler creates a new LedgerHandler. An empty secretHash
// disables DELETE /ledger. hub may be nil, which disables the stream.
func NewLedgerHandler(l *ledger.Ledger, hub *Hub, secretHash string, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: l, hub: hub, secretHash: secretHash, logger: logger}
}

// Register mounts the ledger routes on the given router group.
func (h *LedgerHandler) Register(rg *gin.RouterGroup) {
	l := rg.Group("/ledger")
	{
		l.GET("", h.Overview)
		l.GET("/audit", h.Audit)
		l.GET("/export", h.Export)
		l.GET("/proof", h.Proof)
		l.DELETE("", h.Clear)
		if h.hub != nil {
			l.GET("/stream", h.hub.Serve)
		}
	}
}

// Overview handles GET /ledger: returns the chain length and current root.
func (h *LedgerHandler) Overview(c *gin.Context) {
	ctx := c.Request.Context()

	count, err := h.ledger.Len(ctx)
	if err != nil {
		writeError(c, h.logger, "ledger len", err)
		return
	}
	root, err := h.ledger.Root(ctx)
	if err != nil {
		writeError(c, h.logger, "ledger root", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"blocks":    count,
		"root":      root,
		"watermark": h.ledger.Watermark(),
	})
}

// Audit handles GET /ledger/audit: walks the full chain and reports integrity.
// A broken chain is still a 200; the report says where it breaks.
func (h *LedgerHandler) Audit(c *gin.Context) {
	report, err := h.ledger.Audit(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, "ledger audit", err)
		return
	}
	if !report.Intact {
		h.logger.Warn("ledger integrity check failed",
			zap.Intp("broken_at", report.BrokenAt),
			zap.Int("issues", len(report.Issues)),
		)
	}
	c.JSON(http.StatusOK, report)
}

// Export handles GET /ledger/export?format=json|csv.
func (h *LedgerHandler) Export(c *gin.Context) {
	format := c.DefaultQuery("format", "json")
	if format != "json" && format != "csv" {
		badRequest(c, "format must be json or csv")
		return
	}

	export, err := h.ledger.Export(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, "ledger export", err)
		return
	}
	if format == "json" {
		c.JSON(http.StatusOK, export)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteCSV(&buf); err != nil {
		writeError(c, h.logger, "ledger export csv", err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="ledger.csv"`)
	c.Header("X-Global-Fingerprint", export.GlobalFingerprint)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

// Proof handles GET /ledger/proof.
func (h *LedgerHandler) Proof(c *gin.Context) {
	proof, err := h.ledger.Proof(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, "ledger proof", err)
		return
	}
	c.JSON(http.StatusOK, proof)
}

// Clear handles DELETE /ledger: the administrative reset.
func (h *LedgerHandler) Clear(c *gin.Context) {
	if h.secretHash == "" {
		c.JSON(http.StatusForbidden, gin.H{"error": "ledger reset is disabled"})
		return
	}
	if err := identity.CheckSecret(h.secretHash, c.GetHeader(AdminSecretHeader)); err != nil {
		h.logger.Warn("rejected ledger reset", zap.String("client_ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid admin secret"})
		return
	}
	if err := h.ledger.Clear(c.Request.Context()); err != nil {
		writeError(c, h.logger, "ledger clear", err)
		return
	}
	c.Status(http.StatusNoContent)
}
