package main

import (
	"context"
	"fmt"

	"github.com/lawnchairsociety/questengine/internal/config"
	"github.com/lawnchairsociety/questengine/internal/database"
	"github.com/lawnchairsociety/questengine/internal/logger"
	"github.com/lawnchairsociety/questengine/internal/mail"
	"github.com/lawnchairsociety/questengine/internal/progression"
	"github.com/lawnchairsociety/questengine/internal/reward"
	"github.com/lawnchairsociety/questengine/internal/store"
)

// backend bundles the storage the engine runs on.
type backend struct {
	progress store.ProgressStore
	granter  progression.RewardGranter
	levels   progression.LevelSource
	mail     mail.Queue
	closers  []func() error
}

// openBackend opens the configured store. SQL stores also hold the player
// ledger and reward mail; the memory and redis stores keep those in
// process.
func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	switch cfg.Store.Driver {
	case "sqlite", "postgres":
		db, err := database.OpenWithConfig(database.FromStoreConfig(cfg.Store))
		if err != nil {
			return nil, err
		}
		db.SetDefaultSlots(cfg.Rewards.InventorySlots)
		logger.Info("Quest database initialized", "driver", cfg.Store.Driver)
		return &backend{
			progress: db,
			granter:  reward.NewGranter(db),
			levels:   db,
			mail:     db,
			closers:  []func() error{db.Close},
		}, nil

	case "redis":
		r, err := store.NewRedis(ctx, cfg.Store.RedisURL)
		if err != nil {
			return nil, err
		}
		logger.Warning("Redis store keeps the reward ledger in memory; balances reset on restart")
		return memoryLedgerBackend(r, cfg, r.Close), nil

	case "memory":
		logger.Warning("Memory store selected; progress is lost on restart")
		return memoryLedgerBackend(store.NewMemory(), cfg), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

func memoryLedgerBackend(progress store.ProgressStore, cfg *config.Config, closers ...func() error) *backend {
	ledger := reward.NewMemoryLedger(cfg.Rewards.InventorySlots)
	return &backend{
		progress: progress,
		granter:  reward.NewGranter(ledger),
		levels:   ledger,
		mail:     mail.NewMemoryQueue(),
		closers:  closers,
	}
}

// Close releases the backend's connections.
func (b *backend) Close() {
	for _, c := range b.closers {
		if err := c(); err != nil {
			logger.Error("Failed to close store", "error", err)
		}
	}
}
