package catalog

import (
	"sort"
	"strings"
	"time"
)

// NoteParseFailed marks a placeholder produced for a detail page that could not be parsed.
const NoteParseFailed = "parse_failed"

// Variant is one size/color combination of a product.
//
// InStock is derived from Sizes; use Normalize (or NewSnapshot) to recompute it
// instead of trusting whatever the producer set.
type Variant struct {
	Key      string              `json:"key"`
	Title    string              `json:"title"`
	SKU      string              `json:"sku"`
	Color    string              `json:"color"`
	Currency string              `json:"currency"`
	Price    Price               `json:"price"`
	Sizes    map[string]Quantity `json:"sizes"`
	InStock  bool                `json:"in_stock"`
	URL      string              `json:"url"`
	LastSeen time.Time           `json:"last_seen"`
	Note     string              `json:"note,omitempty"`
}

// Failed reports whether v is a parse_failed placeholder.
func (v Variant) Failed() bool { return v.Note == NoteParseFailed }

// Normalize returns a copy of v with collapsed whitespace, a lower-cased key,
// a private copy of Sizes and InStock recomputed from the sizes.
// If v has no key, one is derived with NormalizeKey.
func (v Variant) Normalize() Variant {
	out := v
	out.Title = CollapseSpaces(v.Title)
	out.SKU = CollapseSpaces(v.SKU)
	out.Color = CollapseSpaces(v.Color)
	out.Currency = strings.TrimSpace(v.Currency)
	out.URL = strings.TrimSpace(v.URL)

	key := strings.ToLower(strings.TrimSpace(v.Key))
	if key == "" {
		key = NormalizeKey(out.Title, out.SKU, out.Color, out.URL)
	}
	out.Key = key

	sizes := make(map[string]Quantity, len(v.Sizes))
	for label, q := range v.Sizes {
		label = strings.TrimSpace(label)
		if label == "" {
			continue
		}
		sizes[label] = q
	}
	out.Sizes = sizes
	out.InStock = anyInStock(sizes)
	return out
}

// SizeLabels returns the size labels of v in display order (see CompareSizes).
func (v Variant) SizeLabels() []string {
	labels := make([]string, 0, len(v.Sizes))
	for label := range v.Sizes {
		labels = append(labels, label)
	}
	SortSizes(labels)
	return labels
}

func anyInStock(sizes map[string]Quantity) bool {
	for _, q := range sizes {
		if q.Available() {
			return true
		}
	}
	return false
}

// Placeholder is the record kept for a product page that could not be parsed,
// so the URL is not forgotten between runs.
func Placeholder(url string, at time.Time) Variant {
	url = strings.TrimSpace(url)
	return Variant{
		Key:      NormalizeKey("", "", "", url),
		Price:    UnknownPrice(),
		Sizes:    map[string]Quantity{},
		URL:      url,
		LastSeen: at.UTC(),
		Note:     NoteParseFailed,
	}
}

// Snapshot maps variant key to the last observed record.
type Snapshot map[string]Variant

// NewSnapshot normalizes variants and indexes them by key.
// A later variant with the same key replaces an earlier one.
func NewSnapshot(variants ...Variant) Snapshot {
	snap := make(Snapshot, len(variants))
	for _, v := range variants {
		n := v.Normalize()
		snap[n.Key] = n
	}
	return snap
}

// Keys returns the snapshot keys sorted ascending.
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Failed counts placeholder records.
func (s Snapshot) Failed() int {
	n := 0
	for _, v := range s {
		if v.Failed() {
			n++
		}
	}
	return n
}
