package ledger

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory, thread-safe Store. It is used in tests and by
// single-process deployments that do not need the chain to survive restarts.
type MemoryStore struct {
	mu       sync.RWMutex
	blocks   []*Block
	byRecord map[string]int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byRecord: make(map[string]int)}
}

// Tail implements Store.
func (s *MemoryStore) Tail(_ context.Context) (*Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.blocks) == 0 {
		return nil, nil
	}
	return s.blocks[len(s.blocks)-1].Clone(), nil
}

// Insert implements Store.
func (s *MemoryStore) Insert(ctx context.Context, b *Block) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.Index != len(s.blocks) {
		return ErrConflict
	}
	s.blocks = append(s.blocks, b.Clone())
	s.byRecord[b.RecordID] = b.Index
	return nil
}

// Latest implements Store.
func (s *MemoryStore) Latest(_ context.Context, recordID string) (*Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byRecord[recordID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.blocks[idx].Clone(), nil
}

// At implements Store.
func (s *MemoryStore) At(_ context.Context, index int) (*Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || index >= len(s.blocks) {
		return nil, ErrNotFound
	}
	return s.blocks[index].Clone(), nil
}

// Scan implements Store. It iterates over a snapshot so fn may call back
// into the store.
func (s *MemoryStore) Scan(ctx context.Context, from int, fn func(*Block) error) error {
	s.mu.RLock()
	snapshot := s.blocks
	s.mu.RUnlock()

	if from < 0 {
		from = 0
	}
	for i := from; i < len(snapshot); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(snapshot[i].Clone()); err != nil {
			return err
		}
	}
	return nil
}

// Len implements Store.
func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blocks), nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks = nil
	s.byRecord = make(map[string]int)
	return nil
}

// Tamper overwrites the stored content of the block at index, bypassing the
// append-only contract. It exists for demos and tests of tamper detection.
func (s *MemoryStore) Tamper(index int, content string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.blocks) {
		return false
	}
	b := s.blocks[index].Clone()
	b.Content = content
	// Scan snapshots may still be reading the old backing array.
	blocks := append([]*Block(nil), s.blocks...)
	blocks[index] = b
	s.blocks = blocks
	return true
}
