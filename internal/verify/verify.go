// Package verify recomputes block fingerprints and explains mismatches.
//
// Verification never writes to the ledger. It loads a stored block,
// re-digests either the stored content or a caller-supplied snapshot of
// the content as it exists today, and on mismatch runs the diverge package
// over stored-vs-current content to show which fields changed.
package verify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/chainledger/internal/canonical"
	"github.com/jmerrifield20/chainledger/internal/digest"
	"github.com/jmerrifield20/chainledger/internal/diverge"
	"github.com/jmerrifield20/chainledger/internal/ledger"
)

// DefaultExplanation is attached to invalid results when the caller gives
// no reason of its own.
const DefaultExplanation = "changes detected in the comparison"

// Reader is the read side of the ledger used by the Engine.
type Reader interface {
	Find(ctx context.Context, recordID string) (*ledger.Block, error)
	At(ctx context.Context, index int) (*ledger.Block, error)
}

// Engine verifies stored blocks. It is safe for concurrent use.
type Engine struct {
	reader   Reader
	delay    time.Duration
	maxDepth int
	clock    func() time.Time
	logger   *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithDelay adds artificial latency to every verification. It is meant for
// exercising slow-path handling in clients.
func WithDelay(d time.Duration) Option {
	return func(e *Engine) { e.delay = d }
}

// WithMaxDepth bounds how deep the differ descends into nested objects.
func WithMaxDepth(n int) Option {
	return func(e *Engine) { e.maxDepth = n }
}

// WithClock replaces the stopwatch used for ElapsedMS.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.clock = now }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New returns an Engine reading blocks from r.
func New(r Reader, opts ...Option) *Engine {
	e := &Engine{
		reader:   r,
		maxDepth: diverge.DefaultMaxDepth,
		clock:    time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Options tune a single verification.
type Options struct {
	// Current is the content as it exists today. nil re-hashes the stored
	// content, which must always succeed.
	Current *canonical.Content

	// Delay overrides the engine-wide delay when positive.
	Delay time.Duration

	// Reason replaces DefaultExplanation on an invalid result.
	Reason string
}

// Metadata is copied from the verified block.
type Metadata struct {
	Index       int       `json:"index"`
	Reference   string    `json:"reference"`
	Actor       string    `json:"actor"`
	CreatedAt   time.Time `json:"created_at"`
	EntityKind  string    `json:"entity_kind"`
	Reason      string    `json:"reason"`
	Explanation string    `json:"explanation,omitempty"` // only when invalid
}

// Result is the transient outcome of a verification. A mismatch is a
// Result with Valid false, not an error.
type Result struct {
	RecordID              string               `json:"record_id"`
	Valid                 bool                 `json:"is_valid"`
	StoredFingerprint     string               `json:"stored_fingerprint"`
	RecomputedFingerprint string               `json:"recomputed_fingerprint"`
	ElapsedMS             float64              `json:"elapsed_ms"`
	Divergences           []diverge.Divergence `json:"divergences"`
	ExpectedContent       any                  `json:"expected_content"`
	ActualContent         any                  `json:"actual_content"`
	Metadata              Metadata             `json:"metadata"`
}

// Verify checks the latest block stored for recordID. It returns
// ledger.ErrNotFound when there is none and canonical.ErrMalformedContent
// when opts.Current cannot be serialised.
func (e *Engine) Verify(ctx context.Context, recordID string, opts Options) (*Result, error) {
	b, err := e.reader.Find(ctx, recordID)
	if err != nil {
		return nil, err
	}
	return e.check(ctx, b, opts)
}

// VerifyAt checks the block at index against its own stored content.
func (e *Engine) VerifyAt(ctx context.Context, index int) (*Result, error) {
	b, err := e.reader.At(ctx, index)
	if err != nil {
		return nil, err
	}
	return e.check(ctx, b, Options{})
}

func (e *Engine) check(ctx context.Context, b *ledger.Block, opts Options) (*Result, error) {
	stored := canonical.Raw(b.Content)
	current := stored
	if opts.Current != nil {
		current = *opts.Current
	}
	serialized, err := current.Serialize()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := e.clock()
	recomputed := digest.Sealed(serialized, b.Watermark, b.RecordID)
	if err := e.sleep(ctx, opts.Delay); err != nil {
		return nil, err
	}
	elapsed := e.clock().Sub(start)

	expected, _ := canonical.Decode(stored)
	actual, err := canonical.Decode(current)
	if err != nil {
		return nil, err
	}

	res := &Result{
		RecordID:              b.RecordID,
		Valid:                 recomputed == b.Fingerprint,
		StoredFingerprint:     b.Fingerprint,
		RecomputedFingerprint: recomputed,
		ElapsedMS:             float64(elapsed) / float64(time.Millisecond),
		Divergences:           []diverge.Divergence{},
		ExpectedContent:       expected,
		ActualContent:         actual,
		Metadata: Metadata{
			Index:      b.Index,
			Reference:  b.Reference,
			Actor:      b.Actor,
			CreatedAt:  b.CreatedAt,
			EntityKind: b.EntityKind,
			Reason:     b.Reason,
		},
	}
	if !res.Valid {
		res.Divergences = diverge.Diff(expected, actual, e.maxDepth)
		if len(res.Divergences) == 0 {
			// The decoded values agree but the hashed text does not, e.g. a
			// JSON string against the same words as free text.
			res.Divergences = []diverge.Divergence{{
				FieldPath: diverge.RootPath,
				Expected:  b.Content,
				Actual:    serialized,
			}}
		}
		res.Metadata.Explanation = DefaultExplanation
		if opts.Reason != "" {
			res.Metadata.Explanation = opts.Reason
		}
		e.logger.Warn("fingerprint mismatch",
			zap.String("record_id", b.RecordID),
			zap.Int("idx", b.Index),
			zap.Int("divergences", len(res.Divergences)),
		)
	}
	return res, nil
}

// sleep waits for the per-call delay, or the engine delay when d is not
// positive. It returns early with ctx.Err() on cancellation.
func (e *Engine) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		d = e.delay
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Explain compares two arbitrary contents with the engine's depth bound,
// outside of any stored block.
func (e *Engine) Explain(expected, actual canonical.Content) ([]diverge.Divergence, error) {
	return diverge.Explain(expected, actual, e.maxDepth)
}

// ExplainDepth is Explain with an explicit depth bound.
func (e *Engine) ExplainDepth(expected, actual canonical.Content, maxDepth int) ([]diverge.Divergence, error) {
	return diverge.Explain(expected, actual, maxDepth)
}
