package main

import (
	"context"
	"fmt"

	"secsync/internal/config"
	"secsync/internal/database"
	"secsync/internal/domain"
	"secsync/internal/repository"

	"github.com/rs/zerolog"
)

// storeHandle owns whatever backs the queue so it can be closed in one place.
type storeHandle struct {
	store   domain.ItemStore
	db      *database.DB
	closers []func() error
}

func (h *storeHandle) Close() {
	for i := len(h.closers) - 1; i >= 0; i-- {
		_ = h.closers[i]()
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*storeHandle, error) {
	h := &storeHandle{}

	var primary domain.ItemStore
	switch cfg.Store.Driver {
	case "sqlite":
		db, err := database.NewDB(cfg.Database.Path, logger)
		if err != nil {
			logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
			return nil, err
		}
		h.db = db
		h.closers = append(h.closers, db.Close)
		primary = db
	case "redis":
		client := repository.NewRedisClient(cfg.Redis)
		h.closers = append(h.closers, func() error { return repository.Close(client) })
		if err := repository.Ping(ctx, client); err != nil {
			if !cfg.Store.Failover {
				h.Close()
				return nil, fmt.Errorf("redis connection failed: %w", err)
			}
			logger.Warn().Err(err).Msg("redis connection failed, continuing on failover store")
		} else {
			logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
		}
		primary = repository.NewRedisItemStore(client, cfg.Redis.KeyPrefix)
	case "memory":
		logger.Warn().Msg("memory store selected, queued items will not survive a restart")
		h.store = repository.NewMemoryItemStore()
		return h, nil
	default:
		return nil, fmt.Errorf("unknown store driver: %s", cfg.Store.Driver)
	}

	if cfg.Store.Failover {
		h.store = repository.NewFailoverItemStore(primary, repository.NewMemoryItemStore(), logger)
	} else {
		h.store = primary
	}
	return h, nil
}
