package index

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/voxdex/internal/db"
)

// WarmUp prepares the index for steady-state serving: ensures the FT index
// exists, primes the known categorical values, takes the first snapshot and
// runs one throwaway KNN query. The first query against a cold index is
// several times slower than steady state, so it is spent here rather than on
// a caller's turn.
func (r *Repo) WarmUp(ctx context.Context) error {
	if err := r.EnsureIndex(ctx); err != nil {
		return fmt.Errorf("ensure index: %w", err)
	}
	if err := r.Snapshot(ctx); err != nil {
		return fmt.Errorf("first snapshot: %w", err)
	}
	r.warmQuery(ctx)
	return nil
}

// EnsureIndex creates the FT index when missing. A concurrent create racing
// this one is treated as success.
func (r *Repo) EnsureIndex(ctx context.Context) error {
	exists, err := r.store.IndexExists(ctx, r.indexName())
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	def, err := r.indexDefinition()
	if err != nil {
		return err
	}
	if err := r.store.CreateIndex(ctx, def); err != nil {
		if errors.Is(err, db.ErrIndexExists) {
			return nil
		}
		return err
	}

	r.logger.Info("Created entity index", zap.String("index", r.indexName()))
	return nil
}

// indexDefinition builds the FT schema from the attribute schema: one HNSW
// vector field, case-sensitive TAG per categorical, NUMERIC per numeric.
// The description is a plain hash field, retrievable but not indexed.
func (r *Repo) indexDefinition() (*db.IndexDefinition, error) {
	b := db.NewIndex(r.indexName()).
		Prefix(r.entityKeyPrefix()).
		VectorHNSW("vector", r.cfg.VectorDim, r.cfg.HNSWM, r.cfg.HNSWEFConstruct)

	for _, attr := range r.schema.Categoricals() {
		b = b.TagCaseSensitive(attr)
	}
	for _, n := range r.schema.Numerics() {
		b = b.Numeric(n.Name())
	}
	return b.Build()
}

// primeKnownValues refreshes the known categorical value sets via FT.TAGVALS.
func (r *Repo) primeKnownValues(ctx context.Context) error {
	known := make(map[string][]string, len(r.schema.Categoricals()))
	for _, attr := range r.schema.Categoricals() {
		vals, err := r.store.TagVals(ctx, r.indexName(), attr)
		if err != nil {
			return fmt.Errorf("tag values for %s: %w", attr, err)
		}
		sort.Strings(vals)
		known[attr] = vals
	}
	r.setKnown(known)
	return nil
}

// warmQuery runs one KNN query against a zero vector and discards the
// result. Failures only get logged; warm-up must not fail on them.
func (r *Repo) warmQuery(ctx context.Context) {
	start := time.Now()
	_, err := r.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName: r.indexName(),
		Vector:    make([]float32, r.cfg.VectorDim),
		K:         1,
	})
	if err != nil {
		r.logger.Warn("Warm-up query failed", zap.Error(err))
		return
	}
	r.logger.Debug("Warm-up query done", zap.Duration("took", time.Since(start)))
}
