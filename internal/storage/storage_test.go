package storage

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"stockwatch/internal/catalog"
	logx "stockwatch/pkg/logx"
)

var seen = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleSnapshot() catalog.Snapshot {
	return catalog.NewSnapshot(
		catalog.Variant{
			Title: "Beta Jacket", SKU: "X000007301", Color: "Black",
			Currency: "$", Price: catalog.PriceOf(450),
			Sizes: map[string]catalog.Quantity{"M": catalog.Qty(2), "L": catalog.Qty(0), "XL": catalog.RawQty("few")},
			URL:   "https://www.example.com/beta-jacket/p", LastSeen: seen,
		},
		catalog.Variant{
			Title: "Atom Hoody", Color: "Orca", Currency: "CA$", Price: catalog.PriceOf(0),
			Sizes: map[string]catalog.Quantity{}, URL: "https://www.example.com/atom/p", LastSeen: seen,
		},
		catalog.Placeholder("https://www.example.com/broken/p", seen),
	)
}

func tmpFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	var out []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			out = append(out, e.Name())
		}
	}
	return out
}

func TestSnapshotFileRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.json")

	in := sampleSnapshot()
	if err := SaveFile(path, in); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	out := LoadFile(path, logx.Nop())
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("round trip mismatch:\n in=%+v\nout=%+v", in, out)
	}
	if out["broken::na"].Price.Valid {
		t.Fatal("unknown price must stay unknown")
	}
	if p := out["atom hoody::orca"].Price; !p.Valid || p.Value != 0 {
		t.Fatalf("zero price must stay a real zero: %+v", p)
	}
	if left := tmpFiles(t, dir); len(left) != 0 {
		t.Fatalf("temp files left behind: %v", left)
	}
}

func TestSaveFileReplacesWholeDocument(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "snapshot.json")
	if err := SaveFile(path, sampleSnapshot()); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	next := catalog.NewSnapshot(catalog.Variant{Key: "only::na", Title: "Only", LastSeen: seen})
	if err := SaveFile(path, next); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	got := LoadFile(path, logx.Nop())
	if len(got) != 1 {
		t.Fatalf("expected full replacement, got %d items", len(got))
	}
}

func TestSaveFileFailureRemovesTemp(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	// A directory at the destination makes the final rename fail.
	path := filepath.Join(dir, "snapshot.json")
	if err := os.Mkdir(path, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(path, "keep"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	err := SaveFile(path, sampleSnapshot())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "save snapshot") {
		t.Fatalf("error not wrapped: %v", err)
	}
	if left := tmpFiles(t, dir); len(left) != 0 {
		t.Fatalf("temp files left behind: %v", left)
	}
}

func TestLoadFileNeverFails(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	tests := []struct {
		name    string
		content *string
	}{
		{name: "missing"},
		{name: "empty", content: ptr("")},
		{name: "garbage", content: ptr("{not json")},
		{name: "wrong shape", content: ptr(`[1,2,3]`)},
		{name: "truncated", content: ptr(`{"a::na": {"title": "x"`)},
	}
	for _, tt := range tests {
		path := filepath.Join(dir, strings.ReplaceAll(tt.name, " ", "_")+".json")
		if tt.content != nil {
			if err := os.WriteFile(path, []byte(*tt.content), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
		}
		got := LoadFile(path, logx.Nop())
		if got == nil || len(got) != 0 {
			t.Fatalf("%s: expected empty snapshot, got %+v", tt.name, got)
		}
	}
}

func TestLoadFileLegacyNaN(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "snapshot.json")
	doc := `{
  "x1::black": {
    "title": "Beta",
    "sku": "X1",
    "color": "Black",
    "currency": "",
    "price": NaN,
    "sizes": {"M": 1, "L": 0},
    "in_stock": false,
    "url": "https://www.example.com/beta/p",
    "last_seen": "2026-03-01T12:00:00.000000+00:00",
    "key": "x1::black"
  }
}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := LoadFile(path, logx.Nop())
	v, ok := got["x1::black"]
	if !ok {
		t.Fatalf("legacy document not loaded: %+v", got)
	}
	if v.Price.Valid {
		t.Fatal("NaN must load as unknown price")
	}
	if !v.InStock {
		t.Fatal("in_stock must be recomputed from sizes")
	}
}

func TestLoadFileKeepsNonFiniteWordsInStrings(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	t.Run("valid document", func(t *testing.T) {
		path := filepath.Join(dir, "valid.json")
		snap := catalog.NewSnapshot(catalog.Variant{
			Title: "Gear: NaN, Infinity edition", Color: `Night: -Infinity} "x"`,
			Price: catalog.PriceOf(120), Sizes: map[string]catalog.Quantity{"M": catalog.Qty(1)},
			URL: "https://www.example.com/gear/p", LastSeen: seen,
		})
		if err := SaveFile(path, snap); err != nil {
			t.Fatalf("save: %v", err)
		}
		got := LoadFile(path, logx.Nop())
		if !reflect.DeepEqual(got, snap) {
			t.Fatalf("round trip changed the snapshot:\n got %+v\nwant %+v", got, snap)
		}
	})

	t.Run("legacy document", func(t *testing.T) {
		path := filepath.Join(dir, "legacy.json")
		doc := `{"gear::na": {"title": "Gear: NaN, edition", "price": NaN, "sizes": {}, "url": "https://www.example.com/gear/p"}}`
		if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		v, ok := LoadFile(path, logx.Nop())["gear::na"]
		if !ok {
			t.Fatal("legacy document not loaded")
		}
		if v.Title != "Gear: NaN, edition" {
			t.Fatalf("title = %q", v.Title)
		}
		if v.Price.Valid {
			t.Fatal("NaN must load as unknown price")
		}
	})
}

func TestFileStoreRunHistory(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "snapshot.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	for i, id := range []string{"r1", "r2", "r3"} {
		if err := st.AppendRun(ctx, RunRecord{ID: id, StartedAt: seen.Add(time.Duration(i) * time.Minute), NewItems: i}); err != nil {
			t.Fatalf("AppendRun: %v", err)
		}
	}
	runs, err := st.RecentRuns(ctx, 2)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "r3" || runs[1].ID != "r2" {
		t.Fatalf("unexpected runs: %+v", runs)
	}

	if err := st.Save(ctx, sampleSnapshot()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got := st.Load(ctx); len(got) != 3 {
		t.Fatalf("Load = %d items", len(got))
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "stockwatch.db"), BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	if got := st.Load(ctx); len(got) != 0 {
		t.Fatalf("fresh store should be empty, got %d", len(got))
	}
	in := sampleSnapshot()
	if err := st.Save(ctx, in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if out := st.Load(ctx); !reflect.DeepEqual(in, out) {
		t.Fatalf("round trip mismatch:\n in=%+v\nout=%+v", in, out)
	}

	next := catalog.NewSnapshot(catalog.Variant{Key: "only::na", LastSeen: seen})
	if err := st.Save(ctx, next); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if out := st.Load(ctx); len(out) != 1 {
		t.Fatalf("expected full replacement, got %d", len(out))
	}

	if err := st.AppendRun(ctx, RunRecord{ID: "a", StartedAt: seen}); err != nil {
		t.Fatalf("AppendRun: %v", err)
	}
	if err := st.AppendRun(ctx, RunRecord{ID: "b", StartedAt: seen.Add(time.Hour)}); err != nil {
		t.Fatalf("AppendRun: %v", err)
	}
	runs, err := st.RecentRuns(ctx, 10)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "b" {
		t.Fatalf("unexpected runs: %+v", runs)
	}
}

// EnvTestPostgresDSN points the postgres driver tests at a disposable
// database. They own the snapshot and runs tables there.
const EnvTestPostgresDSN = "STOCKWATCH_TEST_POSTGRES_DSN"

func TestPostgresStoreRoundTrip(t *testing.T) {
	dsn := os.Getenv(EnvTestPostgresDSN)
	if dsn == "" {
		t.Skipf("%s not set", EnvTestPostgresDSN)
	}
	ctx := context.Background()
	st, err := Open(Config{Driver: "postgres", Path: dsn}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := pool.Exec(ctx, `TRUNCATE snapshot, runs`); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	if got := st.Load(ctx); len(got) != 0 {
		t.Fatalf("fresh store should be empty, got %d", len(got))
	}
	in := sampleSnapshot()
	if err := st.Save(ctx, in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if out := st.Load(ctx); !reflect.DeepEqual(in, out) {
		t.Fatalf("round trip mismatch:\n in=%+v\nout=%+v", in, out)
	}

	t.Run("failed save keeps previous snapshot", func(t *testing.T) {
		canceled, cancel := context.WithCancel(ctx)
		cancel()
		next := catalog.NewSnapshot(catalog.Variant{Key: "only::na", LastSeen: seen})
		if err := st.Save(canceled, next); err == nil {
			t.Fatal("expected error on canceled context")
		}
		if out := st.Load(ctx); !reflect.DeepEqual(in, out) {
			t.Fatalf("partial save visible: %d items", len(out))
		}
	})

	t.Run("save replaces everything", func(t *testing.T) {
		next := catalog.NewSnapshot(catalog.Variant{Key: "only::na", LastSeen: seen})
		if err := st.Save(ctx, next); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if out := st.Load(ctx); len(out) != 1 {
			t.Fatalf("expected full replacement, got %d", len(out))
		}
	})

	t.Run("corrupt row loads as empty", func(t *testing.T) {
		if _, err := pool.Exec(ctx, `INSERT INTO snapshot(key, doc) VALUES('bad::na', '"not a record"')`); err != nil {
			t.Fatalf("seed: %v", err)
		}
		if out := st.Load(ctx); len(out) != 0 {
			t.Fatalf("corrupt snapshot must load empty, got %d", len(out))
		}
	})

	t.Run("run history", func(t *testing.T) {
		for i, id := range []string{"a", "b", "c"} {
			if err := st.AppendRun(ctx, RunRecord{ID: id, StartedAt: seen.Add(time.Duration(i) * time.Hour)}); err != nil {
				t.Fatalf("AppendRun: %v", err)
			}
		}
		runs, err := st.RecentRuns(ctx, 2)
		if err != nil {
			t.Fatalf("RecentRuns: %v", err)
		}
		if len(runs) != 2 || runs[0].ID != "c" || runs[1].ID != "b" {
			t.Fatalf("unexpected runs: %+v", runs)
		}
	})
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "etcd", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("expected error")
	}
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for missing postgres dsn")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("expected error for missing path")
	}
}

func ptr(s string) *string { return &s }

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, err := Open(Config{Driver: "none"}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	if got := st.Load(ctx); len(got) != 0 {
		t.Fatalf("expected empty snapshot, got %d items", len(got))
	}
	snap := sampleSnapshot()
	if err := st.Save(ctx, snap); err != nil {
		t.Fatalf("save: %v", err)
	}
	got := st.Load(ctx)
	if !reflect.DeepEqual(got, snap) {
		t.Fatalf("snapshot mismatch:\n got %+v\nwant %+v", got, snap)
	}
	delete(got, got.Keys()[0])
	if len(st.Load(ctx)) != len(snap) {
		t.Fatal("Load must return a copy")
	}

	for _, id := range []string{"a", "b", "c"} {
		if err := st.AppendRun(ctx, RunRecord{ID: id}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	runs, err := st.RecentRuns(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "c" || runs[1].ID != "b" {
		t.Fatalf("unexpected runs: %+v", runs)
	}
}
