package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/odyssey-logistics/internal/logistics"
	"github.com/odyssey-erp/odyssey-logistics/internal/logistics/memstore"
	"github.com/odyssey-erp/odyssey-logistics/internal/logistics/repository"
	"github.com/odyssey-erp/odyssey-logistics/internal/platform/db"
)

// OpenStore builds the order and batch store selected by STORE_DRIVER. The
// returned close function is never nil.
func OpenStore(ctx context.Context, cfg *Config, logger *slog.Logger) (logistics.Store, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StoreDriver == StoreDriverMemory {
		logger.Warn("using in-memory store, data is lost on restart")
		return memstore.New(), func() {}, nil
	}

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		return nil, func() {}, err
	}
	repo := repository.NewRepository(pool)
	if cfg.PGMigrate {
		if err := repo.Migrate(ctx); err != nil {
			pool.Close()
			return nil, func() {}, fmt.Errorf("migrate schema: %w", err)
		}
		logger.Info("schema applied")
	}
	return repo, pool.Close, nil
}
