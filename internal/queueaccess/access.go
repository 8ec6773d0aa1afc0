// Package queueaccess opens the job store backend selected in configuration.
package queueaccess

import (
	"fmt"

	"holo/internal/config"
	"holo/internal/queue"
	"holo/internal/queue/badgerstore"
	"holo/internal/services"
)

// Open returns the configured queue.Store.
func Open(cfg *config.Config) (queue.Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is nil", services.ErrConfiguration)
	}
	switch cfg.Store.Backend {
	case config.StoreBackendSQLite, "":
		return queue.Open(cfg.Store.SQLitePath)
	case config.StoreBackendBadger:
		return badgerstore.Open(cfg.Store.BadgerDir)
	default:
		return nil, fmt.Errorf("%w: unknown store backend %q", services.ErrConfiguration, cfg.Store.Backend)
	}
}

// Describe returns a short human-readable location for status output.
func Describe(cfg *config.Config) string {
	if cfg == nil {
		return ""
	}
	if cfg.Store.Backend == config.StoreBackendBadger {
		return "badger:" + cfg.Store.BadgerDir
	}
	return "sqlite:" + cfg.Store.SQLitePath
}
