package storage

import (
	"errors"
	"strings"

	logx "stockwatch/pkg/logx"
)

// Open initializes the configured store.
// An empty driver means "file"; "none" keeps state in memory only.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "file", "json":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "postgres", "postgresql", "pg":
		return openPostgres(cfg, log)
	case "none", "memory":
		return openMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
