package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/chainledger/internal/canonical"
	"github.com/jmerrifield20/chainledger/internal/diverge"
	"github.com/jmerrifield20/chainledger/internal/identity"
	"github.com/jmerrifield20/chainledger/internal/ledger"
	"github.com/jmerrifield20/chainledger/internal/verify"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
	maxVerifyDelay  = 30 * time.Second
)

// BlockHandler serves commit, lookup, verification and the standalone differ.
type BlockHandler struct {
	ledger *ledger.Ledger
	engine *verify.Engine
	tokens *identity.ActorTokenIssuer
	logger *zap.Logger
}

// NewBlockHandler creates a new BlockHandler. tokens may be nil, in which
// case commits are accepted without an actor token.
func NewBlockHandler(l *ledger.Ledger, e *verify.Engine, tokens *identity.ActorTokenIssuer, logger *zap.Logger) *BlockHandler {
	return &BlockHandler{ledger: l, engine: e, tokens: tokens, logger: logger}
}

// Register mounts the block routes on the given router group.
func (h *BlockHandler) Register(rg *gin.RouterGroup) {
	b := rg.Group("/blocks")
	{
		b.POST("", identity.RequireActor(h.tokens), h.Commit)
		b.GET("", h.List)
		b.GET("/:index", h.GetBlock)
		b.GET("/:index/verify", h.VerifyBlock)
	}
	r := rg.Group("/records")
	{
		r.GET("/:record_id", h.GetRecord)
		r.POST("/:record_id/verify", h.VerifyRecord)
		r.GET("/:record_id/report", h.Report)
	}
	rg.POST("/explain", h.Explain)
}

// CommitRequest is the body of POST /blocks.
type CommitRequest struct {
	RecordID   string          `json:"record_id" binding:"required"`
	EntityKind string          `json:"entity_kind" binding:"required"`
	Content    json.RawMessage `json:"content"`
	Actor      string          `json:"actor"`
	Reason     string          `json:"reason"`
}

// Commit handles POST /blocks: appends a block. With actor tokens enabled
// the token's actor replaces any actor in the body.
func (h *BlockHandler) Commit(c *gin.Context) {
	var req CommitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if absent(req.Content) {
		badRequest(c, "content is required")
		return
	}
	if claims := identity.ActorFromCtx(c); claims != nil {
		req.Actor = claims.Actor
	}
	if req.Actor == "" {
		badRequest(c, "actor is required")
		return
	}

	content, err := canonical.FromJSON(req.Content)
	if err != nil {
		writeError(c, h.logger, "commit", err)
		return
	}

	block, err := h.ledger.Append(c.Request.Context(), ledger.AppendRequest{
		RecordID:   req.RecordID,
		EntityKind: req.EntityKind,
		Content:    content,
		Actor:      req.Actor,
		Reason:     req.Reason,
	})
	if err != nil {
		writeError(c, h.logger, "commit", err)
		return
	}
	c.JSON(http.StatusCreated, block)
}

// List handles GET /blocks?from=&limit=: returns a page of the chain.
func (h *BlockHandler) List(c *gin.Context) {
	from, err := queryInt(c, "from", 0)
	if err != nil || from < 0 {
		badRequest(c, "from must be a non-negative integer")
		return
	}
	limit, err := queryInt(c, "limit", defaultPageSize)
	if err != nil || limit < 1 || limit > maxPageSize {
		badRequest(c, "limit must be between 1 and "+strconv.Itoa(maxPageSize))
		return
	}

	ctx := c.Request.Context()
	blocks := []*ledger.Block{}
	for b, err := range h.ledger.Range(ctx, from, limit) {
		if err != nil {
			writeError(c, h.logger, "list blocks", err)
			return
		}
		blocks = append(blocks, b)
	}
	total, err := h.ledger.Len(ctx)
	if err != nil {
		writeError(c, h.logger, "list blocks", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"blocks": blocks,
		"from":   from,
		"total":  total,
	})
}

// GetBlock handles GET /blocks/:index.
func (h *BlockHandler) GetBlock(c *gin.Context) {
	idx, ok := indexParam(c)
	if !ok {
		return
	}
	block, err := h.ledger.At(c.Request.Context(), idx)
	if err != nil {
		writeError(c, h.logger, "get block", err)
		return
	}
	c.JSON(http.StatusOK, block)
}

// GetRecord handles GET /records/:record_id: the latest block for a record.
func (h *BlockHandler) GetRecord(c *gin.Context) {
	block, err := h.ledger.Find(c.Request.Context(), c.Param("record_id"))
	if err != nil {
		writeError(c, h.logger, "get record", err)
		return
	}
	c.JSON(http.StatusOK, block)
}

// VerifyBlock handles GET /blocks/:index/verify: self-check of one block.
func (h *BlockHandler) VerifyBlock(c *gin.Context) {
	idx, ok := indexParam(c)
	if !ok {
		return
	}
	res, err := h.engine.VerifyAt(c.Request.Context(), idx)
	if err != nil {
		writeError(c, h.logger, "verify block", err)
		return
	}
	RecordVerification(res.Valid)
	c.JSON(http.StatusOK, res)
}

// absent reports whether an optional JSON field was omitted or sent as null.
func absent(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// VerifyRequest is the optional body of POST /records/:record_id/verify.
type VerifyRequest struct {
	CurrentContent json.RawMessage `json:"current_content"`
	DelayMS        int             `json:"delay_ms"`
	Reason         string          `json:"reason"`
}

// VerifyRecord handles POST /records/:record_id/verify. Without
// current_content (or with null) the stored content is checked against itself.
func (h *BlockHandler) VerifyRecord(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err.Error())
		return
	}
	delay := time.Duration(req.DelayMS) * time.Millisecond
	if req.DelayMS < 0 || delay > maxVerifyDelay {
		badRequest(c, "delay_ms must be between 0 and "+strconv.Itoa(int(maxVerifyDelay.Milliseconds())))
		return
	}

	opts := verify.Options{Delay: delay, Reason: req.Reason}
	if !absent(req.CurrentContent) {
		current, err := canonical.FromJSON(req.CurrentContent)
		if err != nil {
			writeError(c, h.logger, "verify record", err)
			return
		}
		opts.Current = &current
	}

	res, err := h.engine.Verify(c.Request.Context(), c.Param("record_id"), opts)
	if err != nil {
		writeError(c, h.logger, "verify record", err)
		return
	}
	RecordVerification(res.Valid)
	c.JSON(http.StatusOK, res)
}

// Report handles GET /records/:record_id/report: self-check rendered as a
// verification report.
func (h *BlockHandler) Report(c *gin.Context) {
	res, err := h.engine.Verify(c.Request.Context(), c.Param("record_id"), verify.Options{})
	if err != nil {
		writeError(c, h.logger, "report", err)
		return
	}
	RecordVerification(res.Valid)
	c.JSON(http.StatusOK, verify.NewReport(res, time.Now()))
}

// ExplainRequest is the body of POST /explain.
type ExplainRequest struct {
	Expected json.RawMessage `json:"expected"`
	Actual   json.RawMessage `json:"actual"`
	MaxDepth *int            `json:"max_depth"`
}

// Explain handles POST /explain: diffs two arbitrary documents.
func (h *BlockHandler) Explain(c *gin.Context) {
	var req ExplainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if len(req.Expected) == 0 || len(req.Actual) == 0 {
		badRequest(c, "expected and actual are required")
		return
	}
	if req.MaxDepth != nil && *req.MaxDepth < 0 {
		badRequest(c, "max_depth must be a non-negative integer")
		return
	}

	expected, err := canonical.FromJSON(req.Expected)
	if err != nil {
		writeError(c, h.logger, "explain", err)
		return
	}
	actual, err := canonical.FromJSON(req.Actual)
	if err != nil {
		writeError(c, h.logger, "explain", err)
		return
	}

	var divs []diverge.Divergence
	if req.MaxDepth != nil {
		divs, err = h.engine.ExplainDepth(expected, actual, *req.MaxDepth)
	} else {
		divs, err = h.engine.Explain(expected, actual)
	}
	if err != nil {
		writeError(c, h.logger, "explain", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"divergences": divs})
}

func indexParam(c *gin.Context) (int, bool) {
	idx, err := strconv.Atoi(c.Param("index"))
	if err != nil || idx < 0 {
		badRequest(c, "index must be a non-negative integer")
		return 0, false
	}
	return idx, true
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	s := c.Query(key)
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}
