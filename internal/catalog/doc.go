// Package catalog defines the records a catalog scan produces.
//
// A Variant is one sellable size/color/SKU combination of a product, tracked
// independently across runs by its Key. A Snapshot is the full set of variants
// observed in one run; it is built once and never merged into another one.
package catalog
