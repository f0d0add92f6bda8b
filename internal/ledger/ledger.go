// Package ledger implements the append-only hash chain of attested records.
//
// Every Block stores the canonical text of its content and a fingerprint
// over that text, the chain watermark and the record id. Each block also
// carries the fingerprint of its predecessor, so editing or removing any
// stored block is detectable by Audit or by the verify package.
//
// The Ledger owns chain linkage. Persistence is delegated to a Store; an
// in-memory implementation is provided here and durable backends live in
// internal/store.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/chainledger/internal/canonical"
	"github.com/jmerrifield20/chainledger/internal/digest"
)

// maxAppendAttempts bounds retries when another writer sharing the store
// takes the tail first.
const maxAppendAttempts = 5

// Ledger is safe for concurrent use. Appends are serialised; reads go
// straight to the store.
type Ledger struct {
	mu        sync.Mutex // held across read-tail, fingerprint, insert
	store     Store
	watermark string
	now       func() time.Time
	logger    *zap.Logger
	onAppend  []func(*Block)
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithWatermark overrides DefaultWatermark.
func WithWatermark(w string) Option {
	return func(l *Ledger) { l.watermark = w }
}

// WithClock sets the source of CreatedAt timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithOnAppend registers fn to be called with a copy of every appended
// block, after it has been stored. fn runs on the appending goroutine while
// the append lock is held and must not call back into the Ledger.
func WithOnAppend(fn func(*Block)) Option {
	return func(l *Ledger) { l.onAppend = append(l.onAppend, fn) }
}

// New returns a Ledger over store.
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:     store,
		watermark: DefaultWatermark,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Watermark returns the watermark sealed into new blocks.
func (l *Ledger) Watermark() string { return l.watermark }

// AppendRequest is the input to Append.
type AppendRequest struct {
	RecordID   string
	EntityKind string
	Content    canonical.Content
	Actor      string
	Reason     string
}

// Append commits a new block at the tail of the chain and returns it.
//
// Content is serialised before anything is read from the store, so
// canonical.ErrMalformedContent is returned without side effects. Store
// failures are returned as *StorageError.
func (l *Ledger) Append(ctx context.Context, req AppendRequest) (*Block, error) {
	serialized, err := req.Content.Serialize()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for attempt := 1; attempt <= maxAppendAttempts; attempt++ {
		tail, err := l.store.Tail(ctx)
		if err != nil {
			return nil, l.fail("tail", err)
		}

		b := &Block{
			RecordID:   req.RecordID,
			EntityKind: req.EntityKind,
			Content:    serialized,
			Actor:      req.Actor,
			CreatedAt:  l.now().UTC().Truncate(time.Microsecond),
			Reason:     req.Reason,
			Watermark:  l.watermark,
		}
		if tail != nil {
			parent := tail.Fingerprint
			b.Index = tail.Index + 1
			b.ParentFingerprint = &parent
		}
		b.Reference = ReferenceFor(b.Index)
		b.Fingerprint = digest.Sealed(serialized, l.watermark, req.RecordID)

		err = l.store.Insert(ctx, b)
		if errors.Is(err, ErrConflict) {
			l.logger.Debug("append conflict, retrying",
				zap.Int("idx", b.Index),
				zap.Int("attempt", attempt),
			)
			continue
		}
		if err != nil {
			return nil, l.fail("insert", err)
		}

		l.logger.Debug("block appended",
			zap.Int("idx", b.Index),
			zap.String("record_id", b.RecordID),
			zap.String("entity_kind", b.EntityKind),
		)
		for _, fn := range l.onAppend {
			fn(b.Clone())
		}
		return b, nil
	}
	return nil, l.fail("insert", fmt.Errorf("%w: gave up after %d attempts", ErrConflict, maxAppendAttempts))
}

func (l *Ledger) fail(op string, err error) error {
	err = storageErr(op, err)
	if IsStorage(err) {
		l.logger.Error("ledger storage failure", zap.String("op", op), zap.Error(err))
	}
	return err
}

// Find returns the most recently appended block for recordID. A record id
// that was committed several times resolves to its latest attestation.
func (l *Ledger) Find(ctx context.Context, recordID string) (*Block, error) {
	b, err := l.store.Latest(ctx, recordID)
	if err != nil {
		return nil, l.fail("latest", err)
	}
	return b, nil
}

// At returns the block at index.
func (l *Ledger) At(ctx context.Context, index int) (*Block, error) {
	if index < 0 {
		return nil, ErrNotFound
	}
	b, err := l.store.At(ctx, index)
	if err != nil {
		return nil, l.fail("at", err)
	}
	return b, nil
}

// Len returns the number of blocks in the chain.
func (l *Ledger) Len(ctx context.Context) (int, error) {
	n, err := l.store.Len(ctx)
	if err != nil {
		return 0, l.fail("len", err)
	}
	return n, nil
}

// Root returns the fingerprint of the tail block, or "" for an empty chain.
func (l *Ledger) Root(ctx context.Context) (string, error) {
	tail, err := l.store.Tail(ctx)
	if err != nil {
		return "", l.fail("tail", err)
	}
	if tail == nil {
		return "", nil
	}
	return tail.Fingerprint, nil
}

// All returns the full chain in insertion order. The sequence is lazy and
// may be ranged over any number of times; each pass reads the store afresh.
// A store failure is yielded once as the final element.
//
// All panics if a stored block's index does not match its position: the
// chain is corrupt and no caller can meaningfully continue.
func (l *Ledger) All(ctx context.Context) iter.Seq2[*Block, error] {
	return l.Range(ctx, 0, -1)
}

// Range is All restricted to at most limit blocks starting at index from.
// A negative limit means no limit.
func (l *Ledger) Range(ctx context.Context, from, limit int) iter.Seq2[*Block, error] {
	return func(yield func(*Block, error) bool) {
		if limit == 0 {
			return
		}
		if from < 0 {
			from = 0
		}
		pos, seen := from, 0
		err := l.store.Scan(ctx, from, func(b *Block) error {
			if b.Index != pos {
				panic(fmt.Sprintf("ledger: block at position %d has index %d", pos, b.Index))
			}
			pos++
			seen++
			if !yield(b, nil) || seen == limit {
				return errStopScan
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStopScan) {
			yield(nil, l.fail("scan", err))
		}
	}
}

// Blocks collects All into a slice.
func (l *Ledger) Blocks(ctx context.Context) ([]*Block, error) {
	var out []*Block
	for b, err := range l.All(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// Clear removes every block. It is an administrative reset for demos and
// tests and is not part of the append-only contract.
func (l *Ledger) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.store.Clear(ctx); err != nil {
		return l.fail("clear", err)
	}
	l.logger.Warn("ledger cleared")
	return nil
}
