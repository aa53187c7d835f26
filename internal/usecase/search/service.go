// Package search is the hybrid ranking engine: hard filters eliminate
// candidates at the index, then a weighted composite of normalized
// sub-scores ranks the survivors. Ordering is deterministic, so re-running
// a query against an unchanged index reproduces the result byte for byte.
package search

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/voxdex/internal/domain"
	"github.com/kailas-cloud/voxdex/internal/domain/entity/schema"
	"github.com/kailas-cloud/voxdex/internal/domain/search/query"
	"github.com/kailas-cloud/voxdex/internal/domain/search/result"
	"github.com/kailas-cloud/voxdex/internal/metrics"
)

// Config holds ranking engine settings.
type Config struct {
	DefaultWeight float64
	CandidateK    int
	MinScore      float64
	Timeout       time.Duration
	Retries       int
}

// Service executes hybrid searches over the entity index.
type Service struct {
	interp Interpreter
	index  Index
	schema schema.Schema
	cfg    Config
	logger *zap.Logger
}

// New creates a ranking engine.
func New(interp Interpreter, index Index, sch schema.Schema, cfg Config, logger *zap.Logger) *Service {
	return &Service{interp: interp, index: index, schema: sch, cfg: cfg, logger: logger}
}

// Search interprets rawText, filters and ranks the index, and returns at
// most limit hits ordered by descending composite score with an
// entity-id tiebreak. An empty hit list is a valid outcome, not an error.
func (s *Service) Search(ctx context.Context, rawText string, limit int) (Outcome, error) {
	if domain.BlankText(rawText) {
		return Outcome{}, fmt.Errorf("query text is required")
	}
	if limit <= 0 {
		return Outcome{}, fmt.Errorf("limit must be positive, got %d", limit)
	}

	q, err := s.interpret(ctx, rawText)
	if err != nil {
		return Outcome{}, err
	}

	return s.SearchStructured(ctx, q, limit)
}

// SearchStructured runs the filter-and-rank pipeline on an already
// structured query, bypassing the interpreter. Programmatic callers build
// the query themselves and enter here.
func (s *Service) SearchStructured(ctx context.Context, q query.Structured, limit int) (Outcome, error) {
	if limit <= 0 {
		return Outcome{}, fmt.Errorf("limit must be positive, got %d", limit)
	}

	q, dropped := s.dropUnknownValues(q)

	candidates, degraded, err := s.candidates(ctx, q)
	if err != nil {
		return Outcome{}, err
	}

	hits := s.rank(&q, candidates)
	if len(hits) > limit {
		hits = hits[:limit]
	}

	s.logger.Debug("Search done",
		zap.String("query", q.Text()),
		zap.Int("hits", len(hits)),
		zap.Int("dropped_filters", len(dropped)),
		zap.Bool("degraded", degraded))

	return Outcome{Hits: hits, Dropped: dropped, Degraded: degraded}, nil
}

// interpret parses rawText, downgrading interpreter failures to a
// text-only query. Only cancellation aborts the search.
func (s *Service) interpret(ctx context.Context, rawText string) (query.Structured, error) {
	q, err := s.interp.Parse(ctx, rawText)
	if err == nil {
		return q, nil
	}
	if errors.Is(err, context.Canceled) {
		return query.Structured{}, fmt.Errorf("interpret: %w", err)
	}

	metrics.InterpreterFallbackTotal.Inc()
	s.logger.Warn("Interpreter failed, using text-only query", zap.Error(err))
	return query.TextOnly(rawText), nil
}

// dropUnknownValues removes categorical filters whose value is absent from
// the index's known value set. Dropping beats over-constraining: a fuzzy
// caller phrase would otherwise eliminate every candidate.
func (s *Service) dropUnknownValues(q query.Structured) (query.Structured, []query.DroppedFilter) {
	exact := q.Exact()
	if len(exact) == 0 {
		return q, nil
	}

	attrs := make([]string, 0, len(exact))
	for attr := range exact {
		attrs = append(attrs, attr)
	}
	sort.Strings(attrs)

	var dropped []query.DroppedFilter
	for _, attr := range attrs {
		value := exact[attr]
		if slices.Contains(s.index.KnownValues(attr), value) {
			continue
		}
		q = q.WithoutExact(attr)
		dropped = append(dropped, query.DroppedFilter{Attr: attr, Value: value})
		s.logger.Info("Dropped filter with unknown value",
			zap.String("attr", attr), zap.String("value", value))
	}
	return q, dropped
}

// candidates queries the live index with a per-attempt timeout and one
// retry, then switches to the snapshot fallback. The bool reports degraded
// serving.
func (s *Service) candidates(ctx context.Context, q query.Structured) ([]result.Candidate, bool, error) {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.Retries; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		cands, err := s.index.FilterAndScore(cctx, q, s.cfg.CandidateK)
		cancel()
		if err == nil {
			return cands, false, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, false, fmt.Errorf("filter and score: %w", err)
		}
		s.logger.Warn("Live index search failed",
			zap.Int("attempt", attempt+1), zap.Error(err))
	}

	s.logger.Warn("Switching to snapshot fallback", zap.Error(lastErr))
	cands, err := s.index.FilterAndScoreFallback(ctx, q, s.cfg.CandidateK)
	if err != nil {
		return nil, false, fmt.Errorf("snapshot fallback: %w", err)
	}
	return cands, true, nil
}

// rank computes the weighted composite per candidate and sorts. Weights
// missing from the query take the configured default, never zero, so
// unweighted dimensions still pull the composite. The composite divides by
// the summed weight and stays in [0,1].
func (s *Service) rank(q *query.Structured, candidates []result.Candidate) []result.Scored {
	hits := make([]result.Scored, 0, len(candidates))
	for i := range candidates {
		hits = append(hits, s.scoreCandidate(q, &candidates[i]))
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Composite() != hits[j].Composite() {
			return hits[i].Composite() > hits[j].Composite()
		}
		return hits[i].ID() < hits[j].ID()
	})

	if s.cfg.MinScore > 0 {
		kept := hits[:0]
		for _, h := range hits {
			if h.Composite() >= s.cfg.MinScore {
				kept = append(kept, h)
			}
		}
		hits = kept
	}
	return hits
}

func (s *Service) scoreCandidate(q *query.Structured, c *result.Candidate) result.Scored {
	subs := make(map[string]float64, len(s.schema.Numerics())+1)

	textWeight := q.Weight(query.TextDimension, s.cfg.DefaultWeight)
	subs[query.TextDimension] = c.TextScore
	weighted := textWeight * c.TextScore
	weightSum := textWeight

	for _, n := range s.schema.Numerics() {
		v, ok := c.Numerics[n.Name()]
		if !ok {
			continue // entity lacks the attribute, dimension not scored
		}
		sub := n.Score(v)
		subs[n.Name()] = sub

		w := q.Weight(n.Name(), s.cfg.DefaultWeight)
		weighted += w * sub
		weightSum += w
	}

	var composite float64
	if weightSum > 0 {
		composite = weighted / weightSum
	}

	return result.New(c.ID, composite, subs, result.Summary{
		Description:  c.Description,
		Numerics:     c.Numerics,
		Categoricals: c.Categoricals,
	})
}
