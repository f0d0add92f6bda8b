// Package store provides durable ledger.Store backends.
//
// All backends enforce the same append rule as the in-memory store: a
// block is written only when its index equals the current chain length,
// otherwise ledger.ErrConflict is returned and nothing is written. This
// lets several ledgerd processes share one Postgres, SQLite file or Redis
// instance without forking the chain.
package store

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/jmerrifield20/chainledger/internal/ledger"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendLevelDB  = "leveldb"
	BackendRedis    = "redis"
)

// scanPageSize is how many blocks paged backends load per round trip.
const scanPageSize = 256

// Backend is a ledger.Store that holds external resources.
type Backend interface {
	ledger.Store
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend     string
	DatabaseURL string
	SQLitePath  string
	LevelDBPath string
	Redis       RedisConfig
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Open connects to the configured backend. SQL backends are migrated on
// open except Postgres, whose schema is owned by cmd/migrate.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (Backend, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendMemory:
		logger.Warn("using in-memory ledger store; the chain will not survive a restart")
		return memoryBackend{ledger.NewMemoryStore()}, nil

	case BackendPostgres:
		return OpenPostgres(ctx, cfg.DatabaseURL, logger)

	case BackendSQLite:
		s, err := OpenSQLite(cfg.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil

	case BackendLevelDB:
		return OpenLevelDB(cfg.LevelDBPath, logger)

	case BackendRedis:
		return OpenRedis(ctx, cfg.Redis, logger)

	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Backend)
	}
}

type memoryBackend struct{ *ledger.MemoryStore }

func (memoryBackend) Close() error { return nil }
