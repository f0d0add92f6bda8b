package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jmerrifield20/chainledger/internal/ledger"
)

// redisAppendScript appends a block only if the list length equals the
// block's index.
// KEYS[1] = blocks list
// KEYS[2] = record pointer hash
// ARGV[1] = block index
// ARGV[2] = encoded block
// ARGV[3] = record id
var redisAppendScript = redis.NewScript(`
local n = redis.call("LLEN", KEYS[1])
if n ~= tonumber(ARGV[1]) then
    return 0
end
redis.call("RPUSH", KEYS[1], ARGV[2])
redis.call("HSET", KEYS[2], ARGV[3], ARGV[1])
return 1
`)

// Redis persists the chain as a list of encoded blocks plus a hash from
// record id to the index of its latest block.
type Redis struct {
	client     *redis.Client
	blocksKey  string
	recordsKey string
	logger     *zap.Logger
}

// NewRedis wraps an existing client. prefix namespaces the two keys.
func NewRedis(client *redis.Client, prefix string, logger *zap.Logger) *Redis {
	if prefix == "" {
		prefix = "ledger"
	}
	return &Redis{
		client:     client,
		blocksKey:  prefix + ":blocks",
		recordsKey: prefix + ":records",
		logger:     logger,
	}
}

// OpenRedis connects and pings the server.
func OpenRedis(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedis(client, cfg.KeyPrefix, logger), nil
}

// Close closes the client.
func (s *Redis) Close() error { return s.client.Close() }

// Insert implements ledger.Store.
func (s *Redis) Insert(ctx context.Context, b *ledger.Block) error {
	data, err := ledger.EncodeBlock(b)
	if err != nil {
		return err
	}
	res, err := redisAppendScript.Run(ctx, s.client,
		[]string{s.blocksKey, s.recordsKey},
		b.Index, string(data), b.RecordID,
	).Int()
	if err != nil {
		return fmt.Errorf("redis append: %w", err)
	}
	if res != 1 {
		return ledger.ErrConflict
	}

	s.logger.Debug("ledger block stored",
		zap.Int("idx", b.Index),
		zap.String("record_id", b.RecordID),
	)
	return nil
}

// Tail implements ledger.Store.
func (s *Redis) Tail(ctx context.Context) (*ledger.Block, error) {
	b, err := s.index(ctx, -1)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, nil
	}
	return b, err
}

// At implements ledger.Store.
func (s *Redis) At(ctx context.Context, index int) (*ledger.Block, error) {
	if index < 0 {
		return nil, ledger.ErrNotFound
	}
	return s.index(ctx, int64(index))
}

func (s *Redis) index(ctx context.Context, i int64) (*ledger.Block, error) {
	data, err := s.client.LIndex(ctx, s.blocksKey, i).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis lindex: %w", err)
	}
	return ledger.DecodeBlock(data)
}

// Latest implements ledger.Store.
func (s *Redis) Latest(ctx context.Context, recordID string) (*ledger.Block, error) {
	v, err := s.client.HGet(ctx, s.recordsKey, recordID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis hget: %w", err)
	}
	idx, err := strconv.Atoi(v)
	if err != nil {
		return nil, fmt.Errorf("decode record pointer: %w", err)
	}
	return s.At(ctx, idx)
}

// Scan implements ledger.Store. The list is read in pages with LRANGE.
func (s *Redis) Scan(ctx context.Context, from int, fn func(*ledger.Block) error) error {
	if from < 0 {
		from = 0
	}
	for start := int64(from); ; start += scanPageSize {
		page, err := s.client.LRange(ctx, s.blocksKey, start, start+scanPageSize-1).Result()
		if err != nil {
			return fmt.Errorf("redis lrange: %w", err)
		}
		for _, raw := range page {
			b, err := ledger.DecodeBlock([]byte(raw))
			if err != nil {
				return err
			}
			if err := fn(b); err != nil {
				return err
			}
		}
		if len(page) < scanPageSize {
			return nil
		}
	}
}

// Len implements ledger.Store.
func (s *Redis) Len(ctx context.Context) (int, error) {
	n, err := s.client.LLen(ctx, s.blocksKey).Result()
	if err != nil {
		return 0, fmt.Errorf("redis llen: %w", err)
	}
	return int(n), nil
}

// Clear implements ledger.Store.
func (s *Redis) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.blocksKey, s.recordsKey).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
