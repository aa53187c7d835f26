package query

import "fmt"

// TextDimension names the free-text similarity scoring dimension.
const TextDimension = "text"

// MaxTextLength is the maximum allowed similarity phrase length.
const MaxTextLength = 2048

// Bound is a numeric range constraint. Nil ends are unbounded.
type Bound struct {
	Lower *float64
	Upper *float64
}

// DroppedFilter records a categorical filter removed because its value
// matched no known index value. Surfaced so the agent can ask a
// clarifying question instead of returning zero results.
type DroppedFilter struct {
	Attr  string
	Value string
}

// Structured is a validated, machine-usable search request: a free-text
// similarity phrase, exact categorical filters, numeric bound filters,
// and non-negative per-dimension scoring weights.
type Structured struct {
	text    string
	exact   map[string]string
	bounds  map[string]Bound
	weights map[string]float64
}

// New validates and creates a Structured query.
// Text is required. Weights must be non-negative. A bound with both ends
// set must have lower <= upper.
func New(text string, exact map[string]string, bounds map[string]Bound, weights map[string]float64) (Structured, error) {
	if text == "" {
		return Structured{}, fmt.Errorf("query text is required")
	}
	if len(text) > MaxTextLength {
		return Structured{}, fmt.Errorf("query text too long (max %d chars)", MaxTextLength)
	}
	for dim, w := range weights {
		if w < 0 {
			return Structured{}, fmt.Errorf("weight for %q must be non-negative, got %v", dim, w)
		}
	}
	for attr, b := range bounds {
		if b.Lower != nil && b.Upper != nil && *b.Lower > *b.Upper {
			return Structured{}, fmt.Errorf("bound for %q: lower %v exceeds upper %v", attr, *b.Lower, *b.Upper)
		}
	}

	return Structured{
		text:    text,
		exact:   cloneStringMap(exact),
		bounds:  cloneBoundMap(bounds),
		weights: cloneFloat64Map(weights),
	}, nil
}

// TextOnly creates the degraded fallback query: free-text phrase, no
// filters, default weights. Used when interpretation fails.
func TextOnly(text string) Structured {
	return Structured{text: text}
}

// Reconstruct creates a Structured query without validation (tests).
func Reconstruct(text string, exact map[string]string, bounds map[string]Bound, weights map[string]float64) Structured {
	return Structured{text: text, exact: exact, bounds: bounds, weights: weights}
}

// Text returns the free-text similarity phrase.
func (q *Structured) Text() string { return q.text }

// Exact returns the categorical exact-match filters.
func (q *Structured) Exact() map[string]string { return q.exact }

// Bounds returns the numeric range filters.
func (q *Structured) Bounds() map[string]Bound { return q.bounds }

// Weights returns the per-dimension scoring weights.
func (q *Structured) Weights() map[string]float64 { return q.weights }

// Weight returns the weight for a dimension, or def when unset.
// Missing weights default to a configured constant, never zero, so
// unweighted dimensions still contribute to the composite.
func (q *Structured) Weight(dim string, def float64) float64 {
	if w, ok := q.weights[dim]; ok {
		return w
	}
	return def
}

// WithoutExact returns a copy with one categorical filter removed.
func (q *Structured) WithoutExact(attr string) Structured {
	exact := make(map[string]string, len(q.exact))
	for k, v := range q.exact {
		if k != attr {
			exact[k] = v
		}
	}
	return Structured{text: q.text, exact: exact, bounds: q.bounds, weights: q.weights}
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

func cloneFloat64Map(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	c := make(map[string]float64, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

func cloneBoundMap(m map[string]Bound) map[string]Bound {
	if m == nil {
		return nil
	}
	c := make(map[string]Bound, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
