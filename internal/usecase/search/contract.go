package search

import (
	"context"

	"github.com/kailas-cloud/voxdex/internal/domain/search/query"
	"github.com/kailas-cloud/voxdex/internal/domain/search/result"
)

// Interpreter parses raw caller text into a structured query.
type Interpreter interface {
	Parse(ctx context.Context, text string) (query.Structured, error)
}

// Index serves filter-surviving, text-scored candidates. FilterAndScore is
// the live index; FilterAndScoreFallback serves from the last snapshot.
type Index interface {
	FilterAndScore(ctx context.Context, q query.Structured, k int) ([]result.Candidate, error)
	FilterAndScoreFallback(ctx context.Context, q query.Structured, k int) ([]result.Candidate, error)
	KnownValues(attr string) []string
}

// Outcome is one search's ranked hits plus serving metadata. Dropped lists
// categorical filters removed because their value matched nothing in the
// index; Degraded marks results served from the snapshot fallback.
type Outcome struct {
	Hits     []result.Scored
	Dropped  []query.DroppedFilter
	Degraded bool
}
