package storage

import (
	"context"
	"maps"
	"sync"

	"stockwatch/internal/catalog"
)

// memHistory caps the run history kept by the "none" driver.
const memHistory = 500

// memStore keeps state for the lifetime of the process only. Every start
// begins from an empty snapshot, so the first scan reports all items as new.
type memStore struct {
	mu   sync.Mutex
	snap catalog.Snapshot
	runs []RunRecord
}

func openMemory() Store { return &memStore{} }

func (s *memStore) Load(ctx context.Context) catalog.Snapshot {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap == nil {
		return catalog.Snapshot{}
	}
	return maps.Clone(s.snap)
}

func (s *memStore) Save(ctx context.Context, snap catalog.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.snap = maps.Clone(snap)
	s.mu.Unlock()
	return nil
}

func (s *memStore) AppendRun(ctx context.Context, r RunRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.runs) == memHistory {
		copy(s.runs, s.runs[1:])
		s.runs = s.runs[:memHistory-1]
	}
	s.runs = append(s.runs, r)
	return nil
}

func (s *memStore) RecentRuns(ctx context.Context, n int) ([]RunRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 {
		return nil, nil
	}
	out := make([]RunRecord, 0, min(n, len(s.runs)))
	for i := len(s.runs) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.runs[i])
	}
	return out, nil
}

func (s *memStore) Close() error { return nil }
