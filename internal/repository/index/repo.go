// Package index is the entity index repository: hard filtering plus text
// similarity over RediSearch, with an in-process snapshot fallback for
// degraded serving when the live index is unreachable.
package index

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/voxdex/internal/db"
	"github.com/kailas-cloud/voxdex/internal/domain"
	"github.com/kailas-cloud/voxdex/internal/domain/entity/schema"
	"github.com/kailas-cloud/voxdex/internal/domain/search/query"
	"github.com/kailas-cloud/voxdex/internal/domain/search/result"
	"github.com/kailas-cloud/voxdex/internal/metrics"
)

// store is the consumer interface for index operations (ISP).
type store interface {
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	TagVals(ctx context.Context, index, field string) ([]string, error)
	Scan(ctx context.Context, pattern string) ([]string, error)
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	HSet(ctx context.Context, key string, fields map[string]string) error
	Del(ctx context.Context, key string) error
}

// Config holds entity index layout settings.
type Config struct {
	KeyPrefix       string
	VectorDim       int
	HNSWM           int
	HNSWEFConstruct int
}

// Repo implements the ranking engine's index contract over a RediSearch
// store. FilterAndScore serves from the live index; FilterAndScoreFallback
// serves from the last snapshot held by the embedded FallbackIndex.
type Repo struct {
	store    store
	embedder domain.Embedder
	schema   schema.Schema
	cfg      Config
	logger   *zap.Logger

	fallback *FallbackIndex

	mu    sync.RWMutex
	known map[string][]string // categorical attr -> sorted known values

	refreshOnce sync.Once
	stopOnce    sync.Once
	refreshing  bool
	stop        chan struct{}
	done        chan struct{}
}

// New creates an entity index repository.
func New(s store, embedder domain.Embedder, sch schema.Schema, cfg Config, logger *zap.Logger) *Repo {
	return &Repo{
		store:    s,
		embedder: embedder,
		schema:   sch,
		cfg:      cfg,
		logger:   logger,
		fallback: &FallbackIndex{},
		known:    make(map[string][]string),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// FilterAndScore embeds the query phrase and runs a filtered KNN search on
// the live index. Store faults are wrapped with domain.ErrIndexUnavailable;
// context cancellation passes through unwrapped so callers can tell a
// superseded turn from an unreachable index.
func (r *Repo) FilterAndScore(ctx context.Context, q query.Structured, k int) ([]result.Candidate, error) {
	if k <= 0 {
		return nil, fmt.Errorf("candidate count must be positive, got %d", k)
	}

	emb, err := r.embedder.Embed(ctx, q.Text())
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	start := time.Now()
	sr, err := r.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    r.indexName(),
		Vector:       emb.Embedding,
		K:            k,
		Predicates:   r.predicates(&q),
		ReturnFields: r.returnFields(),
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("index search: %w", err)
		}
		return nil, fmt.Errorf("index search: %v: %w", err, domain.ErrIndexUnavailable)
	}
	metrics.SearchDuration.WithLabelValues("live").Observe(time.Since(start).Seconds())

	return r.parseCandidates(sr), nil
}

// FilterAndScoreFallback serves the query from the last snapshot. Filters
// apply in-process; the text sub-score is cosine similarity against snapshot
// vectors, or zero for every candidate when embedding itself fails.
func (r *Repo) FilterAndScoreFallback(ctx context.Context, q query.Structured, k int) ([]result.Candidate, error) {
	if k <= 0 {
		return nil, fmt.Errorf("candidate count must be positive, got %d", k)
	}
	if !r.fallback.Ready() {
		return nil, fmt.Errorf("snapshot fallback: no snapshot taken: %w", domain.ErrIndexUnavailable)
	}

	var vec []float32
	emb, err := r.embedder.Embed(ctx, q.Text())
	switch {
	case err == nil:
		vec = emb.Embedding
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return nil, fmt.Errorf("embed query: %w", err)
	default:
		r.logger.Warn("Embedding failed on fallback path, text scores zeroed", zap.Error(err))
	}

	start := time.Now()
	candidates := r.fallback.FilterAndScore(vec, &q, k)
	metrics.SearchDuration.WithLabelValues("fallback").Observe(time.Since(start).Seconds())
	metrics.SearchFallbackTotal.Inc()

	r.logger.Warn("Search served from snapshot fallback",
		zap.Int("candidates", len(candidates)),
		zap.Time("snapshot_taken", r.fallback.TakenAt()))

	return candidates, nil
}

// KnownValues returns the known values of a categorical attribute, sorted.
// The set is primed at warm-up from FT.TAGVALS and refreshed on every
// snapshot.
func (r *Repo) KnownValues(attr string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	vals := r.known[attr]
	if len(vals) == 0 {
		return nil
	}
	out := make([]string, len(vals))
	copy(out, vals)
	return out
}

// predicates translates query filters into db predicates. Fields are sorted
// so the generated FT query string is stable across runs.
func (r *Repo) predicates(q *query.Structured) []db.Predicate {
	exact := q.Exact()
	bounds := q.Bounds()
	preds := make([]db.Predicate, 0, len(exact)+len(bounds))

	for _, attr := range sortedKeys(exact) {
		preds = append(preds, db.Predicate{Field: attr, Tag: exact[attr]})
	}
	for _, attr := range sortedKeys(bounds) {
		b := bounds[attr]
		preds = append(preds, db.Predicate{Field: attr, Range: &db.Range{Lower: b.Lower, Upper: b.Upper}})
	}
	return preds
}

// returnFields lists the hash fields to pull back with each hit: the
// description, every schema attribute, and the KNN score field.
func (r *Repo) returnFields() []string {
	fields := make([]string, 0, len(r.schema.Numerics())+len(r.schema.Categoricals())+2)
	fields = append(fields, "description")
	for _, n := range r.schema.Numerics() {
		fields = append(fields, n.Name())
	}
	fields = append(fields, r.schema.Categoricals()...)
	fields = append(fields, "__vector_score")
	return fields
}

func (r *Repo) parseCandidates(sr *db.SearchResult) []result.Candidate {
	if sr == nil || len(sr.Entries) == 0 {
		return nil
	}

	prefix := r.entityKeyPrefix()
	candidates := make([]result.Candidate, 0, len(sr.Entries))
	for _, entry := range sr.Entries {
		c := result.Candidate{
			ID:           strings.TrimPrefix(entry.Key, prefix),
			TextScore:    entry.Score,
			Numerics:     make(map[string]float64),
			Categoricals: make(map[string]string),
		}
		for name, value := range entry.Fields {
			switch {
			case name == "description":
				c.Description = value
			case r.schema.HasNumeric(name):
				if f, err := strconv.ParseFloat(value, 64); err == nil {
					c.Numerics[name] = f
				}
			case r.schema.HasCategorical(name):
				c.Categoricals[name] = value
			}
		}
		candidates = append(candidates, c)
	}
	return candidates
}

func (r *Repo) indexName() string {
	return r.entityKeyPrefix() + "idx"
}

func (r *Repo) entityKeyPrefix() string {
	return r.cfg.KeyPrefix + "entity:"
}

func (r *Repo) setKnown(known map[string][]string) {
	r.mu.Lock()
	r.known = known
	r.mu.Unlock()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
