package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/jmerrifield20/chainledger/internal/ledger"
)

// advisoryLockKey serialises Insert across every process sharing the
// database. The value is arbitrary but must be the same everywhere.
const advisoryLockKey = int64(1_159_876_544)

const pgColumns = `idx, record_id, entity_kind, content, fingerprint, parent_fingerprint,
	actor, created_at, reason, watermark, reference`

// Postgres persists the chain in the ledger_blocks table.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool *pgxpool.Pool, logger *zap.Logger) *Postgres {
	return &Postgres{pool: pool, logger: logger}
}

// OpenPostgres connects to url and checks the connection.
func OpenPostgres(ctx context.Context, url string, logger *zap.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPostgres(pool, logger), nil
}

// Close releases the pool.
func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

// Insert implements ledger.Store. It takes a transaction-scoped advisory
// lock, checks the tail index and inserts, all in one transaction.
func (s *Postgres) Insert(ctx context.Context, b *ledger.Block) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}

	var last int
	if err := tx.QueryRow(ctx, "SELECT COALESCE(MAX(idx), -1) FROM ledger_blocks").Scan(&last); err != nil {
		return fmt.Errorf("read ledger tail: %w", err)
	}
	if b.Index != last+1 {
		return ledger.ErrConflict
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO ledger_blocks (`+pgColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		b.Index, b.RecordID, b.EntityKind, b.Content, b.Fingerprint, b.ParentFingerprint,
		b.Actor, b.CreatedAt, b.Reason, b.Watermark, b.Reference,
	); err != nil {
		if isUniqueViolation(err) {
			return ledger.ErrConflict
		}
		return fmt.Errorf("insert ledger block: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}

	s.logger.Debug("ledger block stored",
		zap.Int("idx", b.Index),
		zap.String("record_id", b.RecordID),
	)
	return nil
}

// isUniqueViolation reports a 23505 from the idx primary key. The advisory
// lock normally prevents it; a writer that bypasses the lock can still race.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Tail implements ledger.Store.
func (s *Postgres) Tail(ctx context.Context) (*ledger.Block, error) {
	b, err := s.one(ctx, "SELECT "+pgColumns+" FROM ledger_blocks ORDER BY idx DESC LIMIT 1")
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, nil
	}
	return b, err
}

// Latest implements ledger.Store.
func (s *Postgres) Latest(ctx context.Context, recordID string) (*ledger.Block, error) {
	return s.one(ctx,
		"SELECT "+pgColumns+" FROM ledger_blocks WHERE record_id = $1 ORDER BY idx DESC LIMIT 1",
		recordID)
}

// At implements ledger.Store.
func (s *Postgres) At(ctx context.Context, index int) (*ledger.Block, error) {
	return s.one(ctx, "SELECT "+pgColumns+" FROM ledger_blocks WHERE idx = $1", index)
}

func (s *Postgres) one(ctx context.Context, query string, args ...any) (*ledger.Block, error) {
	b, err := scanBlock(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger block: %w", err)
	}
	return b, nil
}

// Scan implements ledger.Store. Rows are streamed in index order.
func (s *Postgres) Scan(ctx context.Context, from int, fn func(*ledger.Block) error) error {
	rows, err := s.pool.Query(ctx,
		"SELECT "+pgColumns+" FROM ledger_blocks WHERE idx >= $1 ORDER BY idx ASC", from)
	if err != nil {
		return fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return fmt.Errorf("scan ledger row: %w", err)
		}
		if err := fn(b); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Len implements ledger.Store.
func (s *Postgres) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM ledger_blocks").Scan(&n); err != nil {
		return 0, fmt.Errorf("count ledger blocks: %w", err)
	}
	return n, nil
}

// Clear implements ledger.Store.
func (s *Postgres) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "TRUNCATE ledger_blocks"); err != nil {
		return fmt.Errorf("truncate ledger: %w", err)
	}
	return nil
}

// rowScanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanBlock(row rowScanner) (*ledger.Block, error) {
	b := &ledger.Block{}
	if err := row.Scan(
		&b.Index, &b.RecordID, &b.EntityKind, &b.Content, &b.Fingerprint, &b.ParentFingerprint,
		&b.Actor, &b.CreatedAt, &b.Reason, &b.Watermark, &b.Reference,
	); err != nil {
		return nil, err
	}
	b.CreatedAt = b.CreatedAt.UTC()
	return b, nil
}
