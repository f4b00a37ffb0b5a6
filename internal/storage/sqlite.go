package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"stockwatch/internal/catalog"
	logx "stockwatch/pkg/logx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = FULL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations/sqlite.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Load(ctx context.Context) catalog.Snapshot {
	rows, err := s.db.QueryContext(ctx, `SELECT key, doc FROM snapshot`)
	if err != nil {
		s.log.Warn("snapshot unreadable", logx.String("driver", "sqlite"), logx.Err(err))
		return catalog.Snapshot{}
	}
	defer rows.Close()

	snap := catalog.Snapshot{}
	for rows.Next() {
		var key, doc string
		if err := rows.Scan(&key, &doc); err != nil {
			s.log.Warn("snapshot parse failed", logx.String("driver", "sqlite"), logx.Err(err))
			return catalog.Snapshot{}
		}
		var v catalog.Variant
		if err := json.Unmarshal([]byte(doc), &v); err != nil {
			s.log.Warn("snapshot parse failed", logx.String("driver", "sqlite"), logx.String("key", key), logx.Err(err))
			return catalog.Snapshot{}
		}
		v.Key = key
		snap[key] = v.Normalize()
	}
	if err := rows.Err(); err != nil {
		s.log.Warn("snapshot unreadable", logx.String("driver", "sqlite"), logx.Err(err))
		return catalog.Snapshot{}
	}
	if len(snap) == 0 {
		s.log.Info("snapshot not found", logx.String("driver", "sqlite"))
		return snap
	}
	s.log.Info("snapshot loaded", logx.String("driver", "sqlite"), logx.Int("items", len(snap)))
	return snap
}

func (s *sqliteStore) Save(ctx context.Context, snap catalog.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save snapshot: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshot`); err != nil {
		return fmt.Errorf("save snapshot: clear: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO snapshot(key, doc) VALUES(?, ?)`)
	if err != nil {
		return fmt.Errorf("save snapshot: prepare: %w", err)
	}
	defer stmt.Close()
	for _, key := range snap.Keys() {
		doc, err := json.Marshal(snap[key])
		if err != nil {
			return fmt.Errorf("save snapshot: encode %s: %w", key, err)
		}
		if _, err := stmt.ExecContext(ctx, key, string(doc)); err != nil {
			return fmt.Errorf("save snapshot: insert %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save snapshot: commit: %w", err)
	}
	s.log.Info("snapshot saved", logx.String("driver", "sqlite"), logx.Int("items", len(snap)))
	return nil
}

func (s *sqliteStore) AppendRun(ctx context.Context, r RunRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	doc, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs(id, started_at, doc) VALUES(?,?,?)
		 ON CONFLICT(id) DO UPDATE SET started_at=excluded.started_at, doc=excluded.doc`,
		r.ID, r.StartedAt.UTC().Format(time.RFC3339Nano), string(doc),
	)
	return err
}

func (s *sqliteStore) RecentRuns(ctx context.Context, n int) ([]RunRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM runs ORDER BY started_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunRecord
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var r RunRecord
		if err := json.Unmarshal([]byte(doc), &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
