// Package extract produces catalog variants from a product listing.
//
// The Extractor interface is the only contract the pipeline relies on. Browser
// walks a paginated collection with a headless Chrome (rod + stealth) and reads
// every product detail page; StaticExtractor returns canned results for tests
// and dry runs. Text heuristics live in parse.go as pure functions.
package extract
