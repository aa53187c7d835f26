package index

import (
	"context"
	"encoding/binary"
	"math"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/voxdex/internal/db"
	"github.com/kailas-cloud/voxdex/internal/domain"
	"github.com/kailas-cloud/voxdex/internal/domain/entity/schema"
)

// mockStore implements the consumer interface for tests.
type mockStore struct {
	createIndexFn  func(ctx context.Context, def *db.IndexDefinition) error
	indexExistsFn  func(ctx context.Context, name string) (bool, error)
	searchKNNFn    func(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	tagValsFn      func(ctx context.Context, index, field string) ([]string, error)
	scanFn         func(ctx context.Context, pattern string) ([]string, error)
	hGetAllMultiFn func(ctx context.Context, keys []string) ([]map[string]string, error)
	hSetFn         func(ctx context.Context, key string, fields map[string]string) error
	delFn          func(ctx context.Context, key string) error
}

func (m *mockStore) CreateIndex(ctx context.Context, def *db.IndexDefinition) error {
	if m.createIndexFn != nil {
		return m.createIndexFn(ctx, def)
	}
	return nil
}

func (m *mockStore) IndexExists(ctx context.Context, name string) (bool, error) {
	if m.indexExistsFn != nil {
		return m.indexExistsFn(ctx, name)
	}
	return true, nil
}

func (m *mockStore) SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	if m.searchKNNFn != nil {
		return m.searchKNNFn(ctx, q)
	}
	return &db.SearchResult{}, nil
}

func (m *mockStore) TagVals(ctx context.Context, index, field string) ([]string, error) {
	if m.tagValsFn != nil {
		return m.tagValsFn(ctx, index, field)
	}
	return nil, nil
}

func (m *mockStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	if m.scanFn != nil {
		return m.scanFn(ctx, pattern)
	}
	return nil, nil
}

func (m *mockStore) HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error) {
	if m.hGetAllMultiFn != nil {
		return m.hGetAllMultiFn(ctx, keys)
	}
	return make([]map[string]string, len(keys)), nil
}

func (m *mockStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	if m.hSetFn != nil {
		return m.hSetFn(ctx, key, fields)
	}
	return nil
}

func (m *mockStore) Del(ctx context.Context, key string) error {
	if m.delFn != nil {
		return m.delFn(ctx, key)
	}
	return nil
}

// mockEmbedder implements domain.Embedder for tests.
type mockEmbedder struct {
	result domain.EmbeddingResult
	err    error
	calls  int
}

func (m *mockEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	m.calls++
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	return m.result, nil
}

func testSchema(t *testing.T) schema.Schema {
	t.Helper()
	price, err := schema.NewNumeric("price", 50, 500, schema.Descending)
	if err != nil {
		t.Fatalf("NewNumeric(price): %v", err)
	}
	rooms, err := schema.NewNumeric("rooms", 1, 5, schema.Ascending)
	if err != nil {
		t.Fatalf("NewNumeric(rooms): %v", err)
	}
	sch, err := schema.New([]schema.Numeric{price, rooms}, []string{"district"})
	if err != nil {
		t.Fatalf("schema.New: %v", err)
	}
	return sch
}

func newTestRepo(t *testing.T) (*Repo, *mockStore, *mockEmbedder) {
	t.Helper()
	ms := &mockStore{}
	me := &mockEmbedder{result: domain.EmbeddingResult{Embedding: testVector()}}
	cfg := Config{KeyPrefix: "voxdex:", VectorDim: 4, HNSWM: 16, HNSWEFConstruct: 200}
	return New(ms, me, testSchema(t), cfg, zap.NewNop()), ms, me
}

func testVector() []float32 {
	return []float32{0.1, 0.2, 0.3, 0.4}
}

func vectorBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}

func f64(v float64) *float64 {
	return &v
}
