package diff

import (
	"reflect"
	"testing"
	"time"

	"stockwatch/internal/catalog"
)

var seen = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func variant(key string, price float64, sizes map[string]catalog.Quantity) catalog.Variant {
	return catalog.Variant{
		Key:      key,
		Title:    "Item " + key,
		Currency: "$",
		Price:    catalog.PriceOf(price),
		Sizes:    sizes,
		URL:      "https://www.example.com/" + key + "/p",
		LastSeen: seen,
	}
}

func sizes(kv ...any) map[string]catalog.Quantity {
	m := map[string]catalog.Quantity{}
	for i := 0; i+1 < len(kv); i += 2 {
		switch v := kv[i+1].(type) {
		case int:
			m[kv[i].(string)] = catalog.Qty(v)
		case string:
			m[kv[i].(string)] = catalog.RawQty(v)
		}
	}
	return m
}

func TestDiffIdempotent(t *testing.T) {
	t.Parallel()
	snaps := []catalog.Snapshot{
		{},
		catalog.NewSnapshot(variant("a", 10, sizes("M", 1))),
		catalog.NewSnapshot(
			variant("a", 10, sizes("M", 1, "L", "lots")),
			catalog.Placeholder("https://www.example.com/b/p", seen),
			variant("c", 0, nil),
		),
	}
	for i, s := range snaps {
		if cs := Diff(s, s); !cs.Empty() {
			t.Fatalf("snapshot %d: Diff(S, S) not empty: %+v", i, cs.Counts())
		}
	}
}

func TestDiffNewItemsOnly(t *testing.T) {
	t.Parallel()
	cur := catalog.NewSnapshot(
		variant("b", 10, sizes("M", 1)),
		variant("a", 10, nil),
	)
	cs := Diff(catalog.Snapshot{}, cur)
	if len(cs.NewItems) != 2 || cs.NewItems[0].Key != "a" || cs.NewItems[1].Key != "b" {
		t.Fatalf("unexpected new items: %+v", cs.NewItems)
	}
	if cs.NewItems[0].Old != nil {
		t.Fatal("new item must not carry an old record")
	}
	// b is in stock with sizes but is new: no other category applies.
	if len(cs.Restocks)+len(cs.StockIncreases)+len(cs.PriceChanges) != 0 {
		t.Fatalf("new keys must only be new items: %+v", cs.Counts())
	}
}

func TestDiffSingleNewRecord(t *testing.T) {
	t.Parallel()
	cs := Diff(catalog.Snapshot{}, catalog.NewSnapshot(variant("only", 5, nil)))
	if cs.Total() != 1 || len(cs.NewItems) != 1 || cs.NewItems[0].Key != "only" {
		t.Fatalf("expected exactly one new item, got %+v", cs.Counts())
	}
}

func TestDiffPriceThreshold(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		old, cur float64
		want     bool
		dir      Direction
	}{
		{name: "exactly one cent up", old: 100.00, cur: 100.01, want: true, dir: Up},
		{name: "below threshold", old: 100.00, cur: 100.009, want: false},
		{name: "float noise still a cent", old: 0.30, cur: 0.29, want: true, dir: Down},
		{name: "equal", old: 42, cur: 42, want: false},
		{name: "big drop", old: 360, cur: 252, want: true, dir: Down},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			prev := catalog.NewSnapshot(variant("k", tt.old, nil))
			cur := catalog.NewSnapshot(variant("k", tt.cur, nil))
			cs := Diff(prev, cur)
			if got := len(cs.PriceChanges) == 1; got != tt.want {
				t.Fatalf("price change reported = %v, want %v", got, tt.want)
			}
			if tt.want && cs.PriceChanges[0].Direction() != tt.dir {
				t.Fatalf("direction = %v, want %v", cs.PriceChanges[0].Direction(), tt.dir)
			}
		})
	}
}

func TestDiffUnknownPriceNeverChanges(t *testing.T) {
	t.Parallel()
	a := variant("k", 10, nil)
	b := a
	b.Price = catalog.UnknownPrice()
	if cs := Diff(catalog.NewSnapshot(a), catalog.NewSnapshot(b)); len(cs.PriceChanges) != 0 {
		t.Fatal("known -> unknown must not be a price change")
	}
	if cs := Diff(catalog.NewSnapshot(b), catalog.NewSnapshot(a)); len(cs.PriceChanges) != 0 {
		t.Fatal("unknown -> known must not be a price change")
	}
}

func TestDiffRestockDirectionality(t *testing.T) {
	t.Parallel()
	out := variant("k", 10, sizes("M", 0))
	in := variant("k", 10, sizes("M", 2))

	cs := Diff(catalog.NewSnapshot(out), catalog.NewSnapshot(in))
	if len(cs.Restocks) != 1 {
		t.Fatalf("out -> in should be a restock: %+v", cs.Counts())
	}

	cs = Diff(catalog.NewSnapshot(in), catalog.NewSnapshot(out))
	if len(cs.Restocks) != 0 {
		t.Fatal("in -> out must never be reported as a restock")
	}
	if !cs.Empty() {
		t.Fatalf("going out of stock reports nothing, got %+v", cs.Counts())
	}
}

func TestDiffStockIncreaseGranularity(t *testing.T) {
	t.Parallel()
	prev := catalog.NewSnapshot(variant("k", 10, sizes("M", 0, "L", 2)))
	cur := catalog.NewSnapshot(variant("k", 10, sizes("M", 1, "L", 2, "XL", 1)))
	cs := Diff(prev, cur)
	if len(cs.StockIncreases) != 1 {
		t.Fatalf("expected one stock increase entry, got %d", len(cs.StockIncreases))
	}
	want := map[string]int{"M": 1, "XL": 1}
	if got := cs.StockIncreases[0].Increased; !reflect.DeepEqual(got, want) {
		t.Fatalf("Increased = %v, want %v", got, want)
	}
	if got := cs.StockIncreases[0].IncreasedSizes(); !reflect.DeepEqual(got, []string{"M", "XL"}) {
		t.Fatalf("IncreasedSizes = %v", got)
	}
	// L had stock before, so this is not a restock either.
	if len(cs.Restocks) != 0 {
		t.Fatalf("unexpected restock: %+v", cs.Restocks)
	}
}

func TestDiffUnparsedQuantityFallsBackToPresence(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		old, cur  map[string]catalog.Quantity
		increased map[string]int
	}{
		{name: "absent to unparsed", old: sizes(), cur: sizes("M", "yes"), increased: map[string]int{"M": 1}},
		{name: "zero to unparsed", old: sizes("M", 0), cur: sizes("M", "in stock"), increased: map[string]int{"M": 1}},
		{name: "unparsed to number", old: sizes("M", "none"), cur: sizes("M", 3), increased: map[string]int{"M": 1}},
		{name: "unparsed to unparsed", old: sizes("M", "yes"), cur: sizes("M", "yes"), increased: nil},
		{name: "present to unparsed", old: sizes("M", 2), cur: sizes("M", "many"), increased: nil},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cs := Diff(catalog.NewSnapshot(variant("k", 1, tt.old)), catalog.NewSnapshot(variant("k", 1, tt.cur)))
			var got map[string]int
			if len(cs.StockIncreases) == 1 {
				got = cs.StockIncreases[0].Increased
			}
			if !reflect.DeepEqual(got, tt.increased) {
				t.Fatalf("Increased = %v, want %v", got, tt.increased)
			}
		})
	}
}

func TestDiffCategoriesAreIndependent(t *testing.T) {
	t.Parallel()
	prev := catalog.NewSnapshot(variant("k", 100, sizes("M", 0)))
	cur := catalog.NewSnapshot(variant("k", 80, sizes("M", 3)))
	cs := Diff(prev, cur)
	if len(cs.PriceChanges) != 1 || len(cs.Restocks) != 1 || len(cs.StockIncreases) != 1 {
		t.Fatalf("all three categories should apply: %+v", cs.Counts())
	}
	if cs.PriceChanges[0].Old == nil || cs.PriceChanges[0].Old.Price.Value != 100 {
		t.Fatalf("old record not carried: %+v", cs.PriceChanges[0])
	}
}

func TestDiffSortedAcrossSharedKeys(t *testing.T) {
	t.Parallel()
	var prevV, curV []catalog.Variant
	for _, k := range []string{"d", "b", "a", "c"} {
		prevV = append(prevV, variant(k, 10, nil))
		curV = append(curV, variant(k, 20, nil))
	}
	cs := Diff(catalog.NewSnapshot(prevV...), catalog.NewSnapshot(curV...))
	var keys []string
	for _, c := range cs.PriceChanges {
		keys = append(keys, c.Key)
	}
	if !reflect.DeepEqual(keys, []string{"a", "b", "c", "d"}) {
		t.Fatalf("keys = %v", keys)
	}
}

func TestDiffIgnoresRemovedKeys(t *testing.T) {
	t.Parallel()
	prev := catalog.NewSnapshot(variant("gone", 10, sizes("M", 1)))
	if cs := Diff(prev, catalog.Snapshot{}); !cs.Empty() {
		t.Fatalf("removed keys are not reported: %+v", cs.Counts())
	}
}
