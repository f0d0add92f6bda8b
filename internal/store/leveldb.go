package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
	"go.uber.org/zap"

	"github.com/jmerrifield20/chainledger/internal/ledger"
)

// Key layout:
//
//	block:<%020d index>  encoded block
//	record:<record id>   index of the latest block for the record
//	meta:len             chain length
var (
	blockPrefix = []byte("block:")
	recordKeyP  = "record:"
	lenKey      = []byte("meta:len")
)

func blockKey(index int) []byte {
	return []byte(fmt.Sprintf("block:%020d", index))
}

// LevelDB persists the chain in an embedded LevelDB directory. LevelDB
// locks the directory, so only one process can hold it; the mutex covers
// goroutines within that process.
type LevelDB struct {
	mu     sync.Mutex // guards Insert and Clear
	db     *leveldb.DB
	logger *zap.Logger
}

// OpenLevelDB opens (creating if needed) the database at path.
func OpenLevelDB(path string, logger *zap.Logger) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return &LevelDB{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *LevelDB) Close() error { return s.db.Close() }

// Insert implements ledger.Store. The block, the record pointer and the new
// length are written in one batch.
func (s *LevelDB) Insert(_ context.Context, b *ledger.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.length()
	if err != nil {
		return err
	}
	if b.Index != n {
		return ledger.ErrConflict
	}

	data, err := ledger.EncodeBlock(b)
	if err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	batch.Put(blockKey(b.Index), data)
	batch.Put([]byte(recordKeyP+b.RecordID), []byte(strconv.Itoa(b.Index)))
	batch.Put(lenKey, []byte(strconv.Itoa(n+1)))
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("write ledger batch: %w", err)
	}

	s.logger.Debug("ledger block stored",
		zap.Int("idx", b.Index),
		zap.String("record_id", b.RecordID),
	)
	return nil
}

func (s *LevelDB) length() (int, error) {
	v, err := s.db.Get(lenKey, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read ledger length: %w", err)
	}
	n, err := strconv.Atoi(string(v))
	if err != nil {
		return 0, fmt.Errorf("decode ledger length: %w", err)
	}
	return n, nil
}

// Tail implements ledger.Store.
func (s *LevelDB) Tail(ctx context.Context) (*ledger.Block, error) {
	n, err := s.length()
	if err != nil || n == 0 {
		return nil, err
	}
	return s.At(ctx, n-1)
}

// Latest implements ledger.Store.
func (s *LevelDB) Latest(ctx context.Context, recordID string) (*ledger.Block, error) {
	v, err := s.db.Get([]byte(recordKeyP+recordID), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read record pointer: %w", err)
	}
	idx, err := strconv.Atoi(string(v))
	if err != nil {
		return nil, fmt.Errorf("decode record pointer: %w", err)
	}
	return s.At(ctx, idx)
}

// At implements ledger.Store.
func (s *LevelDB) At(_ context.Context, index int) (*ledger.Block, error) {
	data, err := s.db.Get(blockKey(index), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read block %d: %w", index, err)
	}
	return ledger.DecodeBlock(data)
}

// Scan implements ledger.Store. The iterator reads a consistent snapshot.
func (s *LevelDB) Scan(ctx context.Context, from int, fn func(*ledger.Block) error) error {
	if from < 0 {
		from = 0
	}
	rng := util.BytesPrefix(blockPrefix)
	rng.Start = blockKey(from)

	it := s.db.NewIterator(rng, nil)
	defer it.Release()
	for it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		b, err := ledger.DecodeBlock(it.Value())
		if err != nil {
			return err
		}
		if err := fn(b); err != nil {
			return err
		}
	}
	return it.Error()
}

// Len implements ledger.Store.
func (s *LevelDB) Len(_ context.Context) (int, error) {
	return s.length()
}

// Clear implements ledger.Store.
func (s *LevelDB) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := new(leveldb.Batch)
	it := s.db.NewIterator(nil, nil)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return fmt.Errorf("iterate ledger: %w", err)
	}
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("clear ledger: %w", err)
	}
	return nil
}
