package main

import (
	"fmt"

	"github.com/tokikanri/tokikanri/internal/config"
	"github.com/tokikanri/tokikanri/internal/database"
	"github.com/tokikanri/tokikanri/internal/storage"
	"github.com/tokikanri/tokikanri/internal/storage/redis"
)

// backends holds the snapshot store and, when needed, the SQLite database
// shared by the sqlite store and the flush history.
type backends struct {
	store storage.Store
	db    *database.DB
	repo  *database.Repository
}

func openBackends(cfg *config.Config, withHistory bool) (*backends, error) {
	b := &backends{}

	if cfg.Storage.Backend == "sqlite" || (withHistory && cfg.History.Enabled) {
		db, err := database.Connect(cfg.DatabasePath())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := db.Initialize(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		b.db = db
		b.repo = database.NewRepository(db)
	}

	switch cfg.Storage.Backend {
	case "sqlite":
		b.store = database.NewStore(b.db)
	case "redis":
		s, err := redis.Open(cfg.Storage.Redis)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.store = s
	default:
		b.store = storage.NewJSONStore(cfg.StoragePath())
	}

	return b, nil
}

// history returns the repository when flush history is enabled
func (b *backends) history(cfg *config.Config) *database.Repository {
	if !cfg.History.Enabled {
		return nil
	}
	return b.repo
}

func (b *backends) Close() error {
	var firstErr error
	if b.store != nil {
		firstErr = b.store.Close()
	}
	if b.db != nil {
		if err := b.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
