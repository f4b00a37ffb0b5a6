package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stockwatch/internal/catalog"
	logx "stockwatch/pkg/logx"
)

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.Path)
	if dsn == "" {
		return nil, errors.New("postgres connection string is required (storage.path)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	b, err := migrationsFS.ReadFile("migrations/postgres.sql")
	if err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, string(b)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return &postgresStore{pool: pool, log: log}, nil
}

func (s *postgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *postgresStore) Load(ctx context.Context) catalog.Snapshot {
	rows, err := s.pool.Query(ctx, `SELECT key, doc::text FROM snapshot`)
	if err != nil {
		s.log.Warn("snapshot unreadable", logx.String("driver", "postgres"), logx.Err(err))
		return catalog.Snapshot{}
	}
	defer rows.Close()

	snap := catalog.Snapshot{}
	for rows.Next() {
		var key, doc string
		if err := rows.Scan(&key, &doc); err != nil {
			s.log.Warn("snapshot parse failed", logx.String("driver", "postgres"), logx.Err(err))
			return catalog.Snapshot{}
		}
		var v catalog.Variant
		if err := json.Unmarshal([]byte(doc), &v); err != nil {
			s.log.Warn("snapshot parse failed", logx.String("driver", "postgres"), logx.String("key", key), logx.Err(err))
			return catalog.Snapshot{}
		}
		v.Key = key
		snap[key] = v.Normalize()
	}
	if err := rows.Err(); err != nil {
		s.log.Warn("snapshot unreadable", logx.String("driver", "postgres"), logx.Err(err))
		return catalog.Snapshot{}
	}
	s.log.Info("snapshot loaded", logx.String("driver", "postgres"), logx.Int("items", len(snap)))
	return snap
}

func (s *postgresStore) Save(ctx context.Context, snap catalog.Snapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("save snapshot: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM snapshot`); err != nil {
		return fmt.Errorf("save snapshot: clear: %w", err)
	}
	rows := make([][]any, 0, len(snap))
	for _, key := range snap.Keys() {
		doc, err := json.Marshal(snap[key])
		if err != nil {
			return fmt.Errorf("save snapshot: encode %s: %w", key, err)
		}
		rows = append(rows, []any{key, string(doc)})
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"snapshot"}, []string{"key", "doc"}, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("save snapshot: copy: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("save snapshot: commit: %w", err)
	}
	s.log.Info("snapshot saved", logx.String("driver", "postgres"), logx.Int("items", len(snap)))
	return nil
}

func (s *postgresStore) AppendRun(ctx context.Context, r RunRecord) error {
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	doc, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs(id, started_at, doc) VALUES($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET started_at = EXCLUDED.started_at, doc = EXCLUDED.doc`,
		r.ID, r.StartedAt, string(doc),
	)
	return err
}

func (s *postgresStore) RecentRuns(ctx context.Context, n int) ([]RunRecord, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT doc::text FROM runs ORDER BY started_at DESC LIMIT $1`, n)
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
