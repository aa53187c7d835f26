package index

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/kailas-cloud/voxdex/internal/domain/entity"
	"github.com/kailas-cloud/voxdex/internal/domain/search/query"
	"github.com/kailas-cloud/voxdex/internal/domain/search/result"
)

// FallbackIndex holds the last good snapshot of the entity index for
// degraded serving. Reads take an RLock; Swap replaces the whole snapshot.
type FallbackIndex struct {
	mu       sync.RWMutex
	entities []entity.Entity
	takenAt  time.Time
}

// Swap replaces the snapshot contents.
func (f *FallbackIndex) Swap(entities []entity.Entity, takenAt time.Time) {
	f.mu.Lock()
	f.entities = entities
	f.takenAt = takenAt
	f.mu.Unlock()
}

// Ready reports whether at least one snapshot has been taken.
func (f *FallbackIndex) Ready() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return !f.takenAt.IsZero()
}

// TakenAt returns when the current snapshot was taken.
func (f *FallbackIndex) TakenAt() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.takenAt
}

// Len returns the number of entities in the snapshot.
func (f *FallbackIndex) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entities)
}

// FilterAndScore mirrors the live index semantics in-process: entities
// missing a filtered attribute are excluded, bounds are inclusive, and the
// text sub-score is clamped cosine similarity against the snapshot vector.
// A nil query vector yields zero text scores for every candidate.
func (f *FallbackIndex) FilterAndScore(vec []float32, q *query.Structured, k int) []result.Candidate {
	f.mu.RLock()
	defer f.mu.RUnlock()

	candidates := make([]result.Candidate, 0, k)
	for i := range f.entities {
		e := &f.entities[i]
		if !matches(e, q) {
			continue
		}
		candidates = append(candidates, result.Candidate{
			ID:           e.ID(),
			TextScore:    textScore(vec, e.Vector()),
			Description:  e.Description(),
			Numerics:     e.Numerics(),
			Categoricals: e.Categoricals(),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].TextScore != candidates[j].TextScore {
			return candidates[i].TextScore > candidates[j].TextScore
		}
		return candidates[i].ID < candidates[j].ID
	})

	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates
}

func matches(e *entity.Entity, q *query.Structured) bool {
	for attr, want := range q.Exact() {
		got, ok := e.Categorical(attr)
		if !ok || got != want {
			return false
		}
	}
	for attr, b := range q.Bounds() {
		v, ok := e.Numeric(attr)
		if !ok {
			return false
		}
		if b.Lower != nil && v < *b.Lower {
			return false
		}
		if b.Upper != nil && v > *b.Upper {
			return false
		}
	}
	return true
}

func textScore(queryVec, entityVec []float32) float64 {
	s := cosineSimilarity(queryVec, entityVec)
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
