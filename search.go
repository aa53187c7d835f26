package voxdex

import (
	"context"
	"errors"
	"fmt"

	"github.com/kailas-cloud/voxdex/internal/domain/search/query"
)

// ErrUnknownFilterValue reports a Where value absent from the index's known
// value set. The set is primed by WarmUp or Refresh and extended by Put; a
// value that is genuinely stored but still rejected means the snapshot is
// stale.
var ErrUnknownFilterValue = errors.New("voxdex: filter value not known to the index")

// TextDimension names the free-text similarity dimension for Weight.
const TextDimension = query.TextDimension

// Hit is a typed search result.
type Hit[T any] struct {
	Item      T
	Score     float64
	SubScores map[string]float64
}

// SearchBuilder is a fluent builder for structured queries against a typed
// index. Filters eliminate before scoring; weights shape the composite.
type SearchBuilder[T any] struct {
	idx *TypedIndex[T]

	text    string
	exact   map[string]string
	bounds  map[string]query.Bound
	weights map[string]float64
	limit   int
}

// Where adds an exact categorical filter.
func (b *SearchBuilder[T]) Where(attr, value string) *SearchBuilder[T] {
	if b.exact == nil {
		b.exact = make(map[string]string)
	}
	b.exact[attr] = value
	return b
}

// Min constrains a numeric attribute from below (inclusive).
func (b *SearchBuilder[T]) Min(attr string, v float64) *SearchBuilder[T] {
	bd := b.bound(attr)
	bd.Lower = &v
	b.bounds[attr] = bd
	return b
}

// Max constrains a numeric attribute from above (inclusive).
func (b *SearchBuilder[T]) Max(attr string, v float64) *SearchBuilder[T] {
	bd := b.bound(attr)
	bd.Upper = &v
	b.bounds[attr] = bd
	return b
}

// Between constrains a numeric attribute to [lo, hi].
func (b *SearchBuilder[T]) Between(attr string, lo, hi float64) *SearchBuilder[T] {
	b.bound(attr)
	b.bounds[attr] = query.Bound{Lower: &lo, Upper: &hi}
	return b
}

// Weight sets the scoring weight of one dimension (TextDimension or a
// numeric attribute name). Unset dimensions take the client default.
func (b *SearchBuilder[T]) Weight(dim string, w float64) *SearchBuilder[T] {
	if b.weights == nil {
		b.weights = make(map[string]float64)
	}
	b.weights[dim] = w
	return b
}

// Limit caps the number of hits, default 10.
func (b *SearchBuilder[T]) Limit(n int) *SearchBuilder[T] {
	b.limit = n
	return b
}

// Do executes the search and returns hits ordered by descending composite
// score. An empty result is not an error; a Where value the index does not
// know is, since a programmatic filter that silently vanishes would return
// broader results than asked for.
func (b *SearchBuilder[T]) Do(ctx context.Context) ([]Hit[T], error) {
	limit := b.limit
	if limit == 0 {
		limit = 10
	}

	q, err := query.New(b.text, b.exact, b.bounds, b.weights)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	out, err := b.idx.search.SearchStructured(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if len(out.Dropped) > 0 {
		d := out.Dropped[0]
		return nil, fmt.Errorf("search: %s=%q: %w", d.Attr, d.Value, ErrUnknownFilterValue)
	}

	hits := make([]Hit[T], 0, len(out.Hits))
	for i := range out.Hits {
		h := &out.Hits[i]
		sum := h.Entity()
		item, ok := b.idx.meta.fromFields(h.ID(), sum.Description, sum.Numerics, sum.Categoricals).(T)
		if !ok {
			continue
		}
		hits = append(hits, Hit[T]{Item: item, Score: h.Composite(), SubScores: h.SubScores()})
	}
	return hits, nil
}

func (b *SearchBuilder[T]) bound(attr string) query.Bound {
	if b.bounds == nil {
		b.bounds = make(map[string]query.Bound)
	}
	return b.bounds[attr]
}
