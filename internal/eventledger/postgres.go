package eventledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey is a stable PostgreSQL advisory lock key used to serialise
// tail inserts. The value is arbitrary but must never change.
const advisoryLockKey = int64(2_024_061_517)

// PostgresBackend is an append-only Backend storing one row per entry in
// the event_ledger table (see migrations/). Payloads are stored as their
// canonical JSON text rather than jsonb, because jsonb rewrites numbers and
// key order and would break hash recomputation.
type PostgresBackend struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresBackend creates a PostgresBackend backed by the given pool. The
// pool is owned by the caller; Close does not close it.
func NewPostgresBackend(pool *pgxpool.Pool, logger *zap.Logger) *PostgresBackend {
	return &PostgresBackend{pool: pool, logger: logger}
}

func (b *PostgresBackend) String() string { return "postgres:event_ledger" }

// Load implements Backend.
func (b *PostgresBackend) Load(ctx context.Context) ([]Entry, error) {
	rows, err := b.pool.Query(ctx,
		`SELECT idx, ts, feature, payload, prev_hash, hash
		 FROM event_ledger ORDER BY idx ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query event ledger: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			ts      time.Time
			payload string
		)
		if err := rows.Scan(&e.Index, &ts, &e.Feature, &payload, &e.PreviousHash, &e.Hash); err != nil {
			return nil, fmt.Errorf("scan event ledger row: %w", err)
		}
		e.Timestamp = ts.UTC()
		v, err := decodePayload([]byte(payload))
		if err != nil {
			return nil, &CorruptChainError{Source: b.String(), Index: e.Index, Err: err}
		}
		e.Payload = v
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read event ledger: %w", err)
	}
	return entries, nil
}

// Persist implements Backend. It acquires a transaction-scoped advisory
// lock, checks that the stored tail is the new entry's predecessor, and
// inserts only the new entry.
func (b *PostgresBackend) Persist(ctx context.Context, chain []Entry) error {
	if len(chain) == 0 {
		return fmt.Errorf("persist: empty chain")
	}
	entry := chain[len(chain)-1]

	payload, err := canonicalPayload(entry.Payload)
	if err != nil {
		return err
	}

	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}

	var tailIdx int
	if err := tx.QueryRow(ctx,
		"SELECT COALESCE(MAX(idx), -1) FROM event_ledger",
	).Scan(&tailIdx); err != nil {
		return fmt.Errorf("read ledger tail: %w", err)
	}
	if tailIdx+1 != entry.Index {
		return fmt.Errorf("ledger tail is %d, cannot append index %d", tailIdx, entry.Index)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO event_ledger (idx, ts, feature, payload, prev_hash, hash)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.Index, entry.Timestamp, entry.Feature,
		string(payload), entry.PreviousHash, entry.Hash,
	); err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if !b.committedDespite(ctx, entry, err) {
			return fmt.Errorf("commit ledger tx: %w", err)
		}
	}

	b.logger.Debug("ledger entry persisted",
		zap.Int("idx", entry.Index),
		zap.String("feature", entry.Feature),
	)
	return nil
}

// rowQuerier is the part of pgxpool.Pool used to re-read a row.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// committedDespite reports whether entry reached the table even though
// COMMIT returned commitErr, as happens when the connection drops after the
// server has committed.
func (b *PostgresBackend) committedDespite(ctx context.Context, entry Entry, commitErr error) bool {
	return confirmCommitted(ctx, b.pool, entry, commitErr, b.logger)
}

func confirmCommitted(ctx context.Context, q rowQuerier, entry Entry, commitErr error, logger *zap.Logger) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	var hash string
	err := q.QueryRow(ctx, "SELECT hash FROM event_ledger WHERE idx = $1", entry.Index).Scan(&hash)
	switch {
	case err == nil && hash == entry.Hash:
		logger.Warn("ledger commit reported an error but the entry is stored",
			zap.Int("idx", entry.Index),
			zap.NamedError("commit_error", commitErr),
		)
		return true
	case err == nil:
		logger.Error("ledger row holds a different entry after failed commit",
			zap.Int("idx", entry.Index),
			zap.String("stored_hash", hash),
			zap.String("entry_hash", entry.Hash),
		)
	case !errors.Is(err, pgx.ErrNoRows):
		logger.Warn("could not confirm ledger commit", zap.Int("idx", entry.Index), zap.Error(err))
	}
	return false
}

// Close implements Backend.
func (b *PostgresBackend) Close() error { return nil }
