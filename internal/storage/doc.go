// Package storage persists catalog snapshots between runs.
//
// It currently supports:
//   - Snapshot load/save (the previous run's catalog state)
//   - Run history appends (one record per pipeline run)
//
// Drivers: "file" (JSON document replaced atomically), "sqlite" and "postgres"
// (snapshot replaced inside one transaction), and "none" (memory only).
// Whatever the driver, a reader sees either the complete old snapshot or the
// complete new one.
package storage
