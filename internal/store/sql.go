package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/chainledger/internal/ledger"

	_ "modernc.org/sqlite"
)

const sqlColumns = `idx, record_id, entity_kind, content, fingerprint, parent_fingerprint,
	actor, created_at, reason, watermark, reference`

const sqlSchema = `
CREATE TABLE IF NOT EXISTS ledger_blocks (
	idx                INTEGER PRIMARY KEY,
	record_id          TEXT NOT NULL,
	entity_kind        TEXT NOT NULL DEFAULT '',
	content            TEXT NOT NULL,
	fingerprint        TEXT NOT NULL,
	parent_fingerprint TEXT,
	actor              TEXT NOT NULL DEFAULT '',
	created_at         TEXT NOT NULL,
	reason             TEXT NOT NULL DEFAULT '',
	watermark          TEXT NOT NULL,
	reference          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS ledger_blocks_record_idx ON ledger_blocks (record_id, idx);`

// SQL persists the chain through database/sql with "?" placeholders. It is
// used with the pure-Go SQLite driver.
type SQL struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQL wraps an open database. Call Migrate before first use.
func NewSQL(db *sql.DB, logger *zap.Logger) *SQL {
	return &SQL{db: db, logger: logger}
}

// OpenSQLite opens (creating if needed) the SQLite file at path.
func OpenSQLite(path string, logger *zap.Logger) (*SQL, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer connection avoids SQLITE_BUSY between our own goroutines.
	db.SetMaxOpenConns(1)
	return NewSQL(db, logger), nil
}

// Migrate creates the ledger table if it does not exist.
func (s *SQL) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqlSchema); err != nil {
		return fmt.Errorf("migrate ledger schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQL) Close() error { return s.db.Close() }

// Insert implements ledger.Store.
func (s *SQL) Insert(ctx context.Context, b *ledger.Block) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var last int
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(idx), -1) FROM ledger_blocks").Scan(&last); err != nil {
		return fmt.Errorf("read ledger tail: %w", err)
	}
	if b.Index != last+1 {
		return ledger.ErrConflict
	}

	var parent sql.NullString
	if b.ParentFingerprint != nil {
		parent = sql.NullString{String: *b.ParentFingerprint, Valid: true}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_blocks (`+sqlColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.Index, b.RecordID, b.EntityKind, b.Content, b.Fingerprint, parent,
		b.Actor, b.CreatedAt.UTC().Format(time.RFC3339Nano), b.Reason, b.Watermark, b.Reference,
	); err != nil {
		return fmt.Errorf("insert ledger block: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}

	s.logger.Debug("ledger block stored",
		zap.Int("idx", b.Index),
		zap.String("record_id", b.RecordID),
	)
	return nil
}

// Tail implements ledger.Store.
func (s *SQL) Tail(ctx context.Context) (*ledger.Block, error) {
	b, err := s.one(ctx, "SELECT "+sqlColumns+" FROM ledger_blocks ORDER BY idx DESC LIMIT 1")
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, nil
	}
	return b, err
}

// Latest implements ledger.Store.
func (s *SQL) Latest(ctx context.Context, recordID string) (*ledger.Block, error) {
	return s.one(ctx,
		"SELECT "+sqlColumns+" FROM ledger_blocks WHERE record_id = ? ORDER BY idx DESC LIMIT 1",
		recordID)
}

// At implements ledger.Store.
func (s *SQL) At(ctx context.Context, index int) (*ledger.Block, error) {
	return s.one(ctx, "SELECT "+sqlColumns+" FROM ledger_blocks WHERE idx = ?", index)
}

func (s *SQL) one(ctx context.Context, query string, args ...any) (*ledger.Block, error) {
	b, err := scanSQLBlock(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger block: %w", err)
	}
	return b, nil
}

// Scan implements ledger.Store. Blocks are loaded a page at a time and the
// rows are closed before fn runs, so fn may use the store.
func (s *SQL) Scan(ctx context.Context, from int, fn func(*ledger.Block) error) error {
	for {
		page, err := s.page(ctx, from)
		if err != nil {
			return err
		}
		for _, b := range page {
			if err := fn(b); err != nil {
				return err
			}
		}
		if len(page) < scanPageSize {
			return nil
		}
		from = page[len(page)-1].Index + 1
	}
}

func (s *SQL) page(ctx context.Context, from int) ([]*ledger.Block, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+sqlColumns+" FROM ledger_blocks WHERE idx >= ? ORDER BY idx ASC LIMIT ?",
		from, scanPageSize)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*ledger.Block
	for rows.Next() {
		b, err := scanSQLBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Len implements ledger.Store.
func (s *SQL) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM ledger_blocks").Scan(&n); err != nil {
		return 0, fmt.Errorf("count ledger blocks: %w", err)
	}
	return n, nil
}

// Clear implements ledger.Store.
func (s *SQL) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM ledger_blocks"); err != nil {
		return fmt.Errorf("clear ledger: %w", err)
	}
	return nil
}

func scanSQLBlock(row rowScanner) (*ledger.Block, error) {
	var (
		b         ledger.Block
		parent    sql.NullString
		createdAt string
	)
	if err := row.Scan(
		&b.Index, &b.RecordID, &b.EntityKind, &b.Content, &b.Fingerprint, &parent,
		&b.Actor, &createdAt, &b.Reason, &b.Watermark, &b.Reference,
	); err != nil {
		return nil, err
	}
	if parent.Valid {
		p := parent.String
		b.ParentFingerprint = &p
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	b.CreatedAt = t.UTC()
	return &b, nil
}
