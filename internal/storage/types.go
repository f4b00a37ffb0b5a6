package storage

import (
	"context"
	"errors"
	"time"

	"stockwatch/internal/catalog"
)

var ErrDisabled = errors.New("storage disabled")

// Store is the persistence API used by the pipeline.
type Store interface {
	// Load returns the last saved snapshot. Missing or corrupt data yields an
	// empty snapshot; the condition is logged, never returned.
	Load(ctx context.Context) catalog.Snapshot
	// Save replaces the stored snapshot atomically.
	Save(ctx context.Context, snap catalog.Snapshot) error

	AppendRun(ctx context.Context, r RunRecord) error
	// RecentRuns returns up to n records, newest first.
	RecentRuns(ctx context.Context, n int) ([]RunRecord, error)
	Close() error
}

// Config configures storage.
//
// Driver values:
//   - "file": JSON snapshot document at Path, run history next to it (default)
//   - "sqlite": SQLite database file at Path
//   - "postgres": Path is a connection string (postgres://...)
//   - "none": in-memory only, lost on exit
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunRecord summarizes one pipeline run.
// Keep it compact and schema-stable.
type RunRecord struct {
	ID             string        `json:"id"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
	Loaded         int           `json:"loaded"`
	Extracted      int           `json:"extracted"`
	Failed         int           `json:"failed"`
	Filtered       int           `json:"filtered,omitempty"`
	NewItems       int           `json:"new_items"`
	PriceChanges   int           `json:"price_changes"`
	Restocks       int           `json:"restocks"`
	StockIncreases int           `json:"stock_increases"`
	Notified       bool          `json:"notified"`
	DeliveryStatus string        `json:"delivery_status,omitempty"`
	Error          string        `json:"error,omitempty"`
}
