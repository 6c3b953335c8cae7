package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/tsa-ledger/internal/eventledger"
	"go.uber.org/zap"
)

// openBackend opens the durable store selected by cfg.Backend. The returned
// cleanup releases resources the backend borrows (the Postgres pool); the
// backend itself is closed by the Ledger.
func openBackend(ctx context.Context, cfg config, logger *zap.Logger) (eventledger.Backend, func(), error) {
	noop := func() {}

	switch cfg.Backend {
	case backendFile:
		if dir := filepath.Dir(cfg.ChainPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, noop, fmt.Errorf("create chain directory: %w", err)
			}
		}
		return eventledger.NewFileBackend(cfg.ChainPath), noop, nil

	case backendLevelDB:
		b, err := eventledger.OpenLevelDBBackend(cfg.LevelDBDir)
		if err != nil {
			return nil, noop, err
		}
		return b, noop, nil

	case backendPostgres:
		db, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, noop, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := db.Ping(ctx); err != nil {
			db.Close()
			return nil, noop, fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("connected to postgres")
		return eventledger.NewPostgresBackend(db, logger), db.Close, nil

	default:
		return nil, noop, fmt.Errorf("unknown ledger backend %q", cfg.Backend)
	}
}
