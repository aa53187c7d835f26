package voxdex

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/voxdex/internal/domain"
	"github.com/kailas-cloud/voxdex/internal/domain/entity"
	"github.com/kailas-cloud/voxdex/internal/domain/search/query"
	indexrepo "github.com/kailas-cloud/voxdex/internal/repository/index"
	searchuc "github.com/kailas-cloud/voxdex/internal/usecase/search"
)

// ErrNotFound reports a Get for an ID that is not stored.
var ErrNotFound = errors.New("voxdex: entity not found")

// TypedIndex is a generic, schema-first handle on the entity index.
// The attribute schema is inferred from T's struct tags at construction time.
type TypedIndex[T any] struct {
	client *Client
	meta   *schemaMeta
	repo   *indexrepo.Repo
	search *searchuc.Service
}

// Index creates a typed index handle. T must be a struct with voxdex tags;
// the schema is parsed once and cached.
func Index[T any](c *Client) (*TypedIndex[T], error) {
	meta, err := parseSchema[T]()
	if err != nil {
		return nil, err
	}
	sch, err := meta.schema()
	if err != nil {
		return nil, fmt.Errorf("voxdex: schema: %w", err)
	}

	repo := indexrepo.New(c.store, c.queryEmb, sch, indexrepo.Config{
		KeyPrefix:       c.cfg.keyPrefix,
		VectorDim:       c.cfg.vectorDim,
		HNSWM:           c.cfg.hnswM,
		HNSWEFConstruct: c.cfg.hnswEFConstruct,
	}, c.logger)

	svc := searchuc.New(textInterpreter{}, repo, sch, searchuc.Config{
		DefaultWeight: c.cfg.defaultWeight,
		CandidateK:    c.cfg.candidateK,
		MinScore:      c.cfg.minScore,
		Timeout:       c.cfg.searchTimeout,
		Retries:       c.cfg.searchRetries,
	}, c.logger)

	return &TypedIndex[T]{client: c, meta: meta, repo: repo, search: svc}, nil
}

// Ensure creates the FT index when missing (idempotent).
func (x *TypedIndex[T]) Ensure(ctx context.Context) error {
	if err := x.repo.EnsureIndex(ctx); err != nil {
		return fmt.Errorf("ensure: %w", err)
	}
	return nil
}

// WarmUp ensures the index exists, primes the known categorical values and
// takes the first fallback snapshot. Searching clients call it once after
// New; Where filters are checked against the known value set.
func (x *TypedIndex[T]) WarmUp(ctx context.Context) error {
	return x.repo.WarmUp(ctx)
}

// Refresh retakes the fallback snapshot and the known value sets.
func (x *TypedIndex[T]) Refresh(ctx context.Context) error {
	return x.repo.Snapshot(ctx)
}

// Put embeds the item's text and stores it. The item is searchable on the
// live index immediately; the fallback snapshot catches up on Refresh.
func (x *TypedIndex[T]) Put(ctx context.Context, item T) error {
	e, err := x.meta.toEntity(item)
	if err != nil {
		return fmt.Errorf("put: %w", err)
	}
	emb, err := x.client.docEmb.Embed(ctx, e.Description())
	if err != nil {
		return fmt.Errorf("put %s: %w", e.ID(), err)
	}
	stored := entity.Reconstruct(e.ID(), e.Description(), e.Numerics(), e.Categoricals(), emb.Embedding)
	if err := x.repo.Upsert(ctx, stored); err != nil {
		return fmt.Errorf("put: %w", err)
	}
	return nil
}

// PutBatch stores items with bounded concurrency. The first failure cancels
// the remaining puts.
func (x *TypedIndex[T]) PutBatch(ctx context.Context, items []T) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(x.client.cfg.ingestWorkers)
	for _, item := range items {
		item := item // per-iteration copy; required under go <1.22 loop semantics
		g.Go(func() error { return x.Put(ctx, item) })
	}
	return g.Wait()
}

// Get retrieves a typed item by ID.
func (x *TypedIndex[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	e, err := x.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrEntityNotFound) {
			return zero, fmt.Errorf("get %s: %w", id, ErrNotFound)
		}
		return zero, fmt.Errorf("get: %w", err)
	}
	item, ok := x.meta.fromFields(e.ID(), e.Description(), e.Numerics(), e.Categoricals()).(T)
	if !ok {
		return zero, fmt.Errorf("get: type assertion failed")
	}
	return item, nil
}

// Delete removes an item by ID.
func (x *TypedIndex[T]) Delete(ctx context.Context, id string) error {
	return x.repo.Delete(ctx, id)
}

// Count returns the number of stored items.
func (x *TypedIndex[T]) Count(ctx context.Context) (int, error) {
	return x.repo.Count(ctx)
}

// Search returns a fluent builder for the given similarity phrase.
func (x *TypedIndex[T]) Search(text string) *SearchBuilder[T] {
	return &SearchBuilder[T]{idx: x, text: text}
}

// textInterpreter fills the ranking engine's interpreter slot. The builder
// constructs structured queries itself, so raw text stays text-only.
type textInterpreter struct{}

func (textInterpreter) Parse(_ context.Context, text string) (query.Structured, error) {
	return query.TextOnly(text), nil
}
