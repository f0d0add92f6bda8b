package ledger

import (
	"context"
	"errors"
)

// Store is the durable ordered key-value collaborator behind a Ledger.
// Implementations live in internal/store; MemoryStore is provided here.
type Store interface {
	// Tail returns the last block, or nil when the store is empty.
	Tail(ctx context.Context) (*Block, error)

	// Insert writes b atomically. It returns ErrConflict unless b.Index
	// equals the current length, so readers never see a gap or a
	// half-written block.
	Insert(ctx context.Context, b *Block) error

	// Latest returns the most recently inserted block for recordID.
	Latest(ctx context.Context, recordID string) (*Block, error)

	// At returns the block at index.
	At(ctx context.Context, index int) (*Block, error)

	// Scan calls fn for every block with Index >= from, in ascending order.
	// A non-nil error from fn stops the scan and is returned as is.
	Scan(ctx context.Context, from int, fn func(*Block) error) error

	// Len returns the number of stored blocks.
	Len(ctx context.Context) (int, error)

	// Clear removes every block.
	Clear(ctx context.Context) error
}

// errStopScan ends a Scan early without surfacing an error.
var errStopScan = errors.New("stop scan")
