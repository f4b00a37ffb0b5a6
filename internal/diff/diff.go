// Package diff compares two catalog snapshots.
//
// Diff is pure and reentrant. Every shared key is evaluated against each rule
// independently, so one variant can show up in several categories in one run.
package diff

import (
	"math"

	"stockwatch/internal/catalog"
)

// PriceThreshold is the smallest absolute price move that counts as a change.
const PriceThreshold = 0.01

// priceEpsilon absorbs float noise so that a move of exactly 0.01 still counts.
const priceEpsilon = 1e-9

// Kind names a change category.
type Kind string

const (
	KindNew           Kind = "new_items"
	KindPrice         Kind = "price_changes"
	KindRestock       Kind = "restocks"
	KindStockIncrease Kind = "stock_increases"
)

// Kinds lists the categories in report order.
var Kinds = []Kind{KindNew, KindPrice, KindRestock, KindStockIncrease}

// Change is one entry of a ChangeSet.
type Change struct {
	Key string
	Old *catalog.Variant // nil for new items
	New catalog.Variant
	// Increased holds the sizes whose quantity grew (stock increases only).
	Increased map[string]int
}

// Direction of a price change.
type Direction int

const (
	Unchanged Direction = iota
	Up
	Down
)

// PriceDelta returns new minus old price (0 when either is unknown).
func (c Change) PriceDelta() float64 {
	if c.Old == nil || !c.Old.Price.Valid || !c.New.Price.Valid {
		return 0
	}
	return c.New.Price.Value - c.Old.Price.Value
}

// Direction derives whether the price went up or down.
func (c Change) Direction() Direction {
	switch d := c.PriceDelta(); {
	case d >= priceEpsilon:
		return Up
	case d <= -priceEpsilon:
		return Down
	default:
		return Unchanged
	}
}

// IncreasedSizes returns the increased size labels in display order.
func (c Change) IncreasedSizes() []string {
	labels := make([]string, 0, len(c.Increased))
	for label := range c.Increased {
		labels = append(labels, label)
	}
	catalog.SortSizes(labels)
	return labels
}

// ChangeSet is the structured result of comparing two snapshots.
type ChangeSet struct {
	NewItems       []Change
	PriceChanges   []Change
	Restocks       []Change
	StockIncreases []Change
}

// Empty reports whether no category has entries.
func (cs ChangeSet) Empty() bool { return cs.Total() == 0 }

// Total counts entries across categories.
func (cs ChangeSet) Total() int {
	return len(cs.NewItems) + len(cs.PriceChanges) + len(cs.Restocks) + len(cs.StockIncreases)
}

// Counts returns per-category sizes.
func (cs ChangeSet) Counts() map[Kind]int {
	return map[Kind]int{
		KindNew:           len(cs.NewItems),
		KindPrice:         len(cs.PriceChanges),
		KindRestock:       len(cs.Restocks),
		KindStockIncrease: len(cs.StockIncreases),
	}
}

// Of returns the entries of one category.
func (cs ChangeSet) Of(k Kind) []Change {
	switch k {
	case KindNew:
		return cs.NewItems
	case KindPrice:
		return cs.PriceChanges
	case KindRestock:
		return cs.Restocks
	case KindStockIncrease:
		return cs.StockIncreases
	}
	return nil
}

// Diff compares the previous snapshot against the current one.
//
// Keys only in cur are new items and nothing else. Keys only in prev are
// ignored: going away is not reported. Output order is by key.
func Diff(prev, cur catalog.Snapshot) ChangeSet {
	var cs ChangeSet
	for _, key := range cur.Keys() {
		n := cur[key]
		o, ok := prev[key]
		if !ok {
			cs.NewItems = append(cs.NewItems, Change{Key: key, New: n})
			continue
		}
		oc := o
		if priceChanged(o.Price, n.Price) {
			cs.PriceChanges = append(cs.PriceChanges, Change{Key: key, Old: &oc, New: n})
		}
		if restocked(o, n) {
			cs.Restocks = append(cs.Restocks, Change{Key: key, Old: &oc, New: n})
		}
		if inc := increasedSizes(o.Sizes, n.Sizes); len(inc) > 0 {
			cs.StockIncreases = append(cs.StockIncreases, Change{Key: key, Old: &oc, New: n, Increased: inc})
		}
	}
	return cs
}

func priceChanged(o, n catalog.Price) bool {
	if !o.Valid || !n.Valid {
		return false
	}
	return math.Abs(n.Value-o.Value) >= PriceThreshold-priceEpsilon
}

// restocked only looks at out-of-stock -> in-stock; the reverse is never reported.
func restocked(o, n catalog.Variant) bool {
	return !o.InStock && n.InStock
}

// increasedSizes compares per-size quantities. When either side is not a
// parsed integer it falls back to presence: absent/zero -> present counts as 1.
//
// The fallback cannot tell "unknown" from "one unit"; see DESIGN.md.
func increasedSizes(prev, cur map[string]catalog.Quantity) map[string]int {
	var inc map[string]int
	for size, nq := range cur {
		oq, ok := prev[size]
		if !ok {
			oq = catalog.Qty(0)
		}
		var grew bool
		var qty int
		if nq.Valid && oq.Valid {
			grew, qty = nq.N > oq.N, nq.N
		} else {
			grew, qty = nq.Present() && !oq.Present(), 1
		}
		if !grew {
			continue
		}
		if inc == nil {
			inc = map[string]int{}
		}
		inc[size] = qty
	}
	return inc
}
