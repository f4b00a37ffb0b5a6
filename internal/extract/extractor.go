package extract

import (
	"context"
	"errors"

	"stockwatch/internal/catalog"
)

// ErrNoTitle marks a detail page that never yielded a product title.
var ErrNoTitle = errors.New("extract: product title not found")

// Result is one extracted item. Err != nil means the item at URL could not
// be read; the pipeline records a placeholder for it.
type Result struct {
	Variant catalog.Variant
	URL     string
	Err     error
}

// Extractor yields the current catalog. A returned error means the listing as
// a whole could not be read, not that some items failed.
type Extractor interface {
	Extract(ctx context.Context) ([]Result, error)
}

// StaticExtractor returns fixed results.
type StaticExtractor struct {
	Results []Result
	Err     error
}

func (s StaticExtractor) Extract(ctx context.Context) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}
	out := make([]Result, len(s.Results))
	copy(out, s.Results)
	return out, nil
}

// Func adapts a function to Extractor.
type Func func(ctx context.Context) ([]Result, error)

func (f Func) Extract(ctx context.Context) ([]Result, error) { return f(ctx) }
