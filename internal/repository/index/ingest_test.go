package index

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/voxdex/internal/domain"
	"github.com/kailas-cloud/voxdex/internal/domain/entity"
)

func storedEntity(t *testing.T, id string, vector []float32) entity.Entity {
	t.Helper()
	e, err := entity.New(id, "bright loft near the river",
		map[string]float64{"price": 140, "rooms": 3},
		map[string]string{"district": "center"})
	if err != nil {
		t.Fatalf("entity.New: %v", err)
	}
	return entity.Reconstruct(e.ID(), e.Description(), e.Numerics(), e.Categoricals(), vector)
}

func TestUpsert_WritesAllFields(t *testing.T) {
	var gotKey string
	var gotFields map[string]string
	ms := &mockStore{hSetFn: func(_ context.Context, key string, fields map[string]string) error {
		gotKey = key
		gotFields = fields
		return nil
	}}
	repo := New(ms, &mockEmbedder{}, testSchema(t), Config{KeyPrefix: "voxdex:", VectorDim: 4}, zap.NewNop())

	err := repo.Upsert(context.Background(), storedEntity(t, "apt-9", testVector()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotKey != "voxdex:entity:apt-9" {
		t.Errorf("key = %q, want voxdex:entity:apt-9", gotKey)
	}
	if gotFields["description"] != "bright loft near the river" {
		t.Errorf("description = %q", gotFields["description"])
	}
	if gotFields["vector"] != vectorBytes(testVector()) {
		t.Error("vector field does not round-trip through the binary format")
	}
	if gotFields["price"] != "140" || gotFields["rooms"] != "3" {
		t.Errorf("numeric fields = price %q rooms %q", gotFields["price"], gotFields["rooms"])
	}
	if gotFields["district"] != "center" {
		t.Errorf("district = %q, want center", gotFields["district"])
	}
}

func TestUpsert_VectorDimensionMismatch(t *testing.T) {
	called := false
	ms := &mockStore{hSetFn: func(context.Context, string, map[string]string) error {
		called = true
		return nil
	}}
	repo := New(ms, &mockEmbedder{}, testSchema(t), Config{KeyPrefix: "voxdex:", VectorDim: 4}, zap.NewNop())

	err := repo.Upsert(context.Background(), storedEntity(t, "apt-9", []float32{0.1, 0.2}))
	if err == nil {
		t.Fatal("expected error for a short vector")
	}
	if !strings.Contains(err.Error(), "dimension") {
		t.Errorf("error %q does not name the dimension mismatch", err)
	}
	if called {
		t.Error("a rejected entity must not reach the store")
	}
}

func TestUpsert_UnknownAttributeRejected(t *testing.T) {
	repo, ms, _ := newTestRepo(t)
	ms.hSetFn = func(context.Context, string, map[string]string) error {
		t.Fatal("a rejected entity must not reach the store")
		return nil
	}

	e := entity.Reconstruct("apt-9", "loft",
		map[string]float64{"floor": 2}, nil, testVector())
	if err := repo.Upsert(context.Background(), e); err == nil {
		t.Error("expected error for a numeric attribute outside the schema")
	}

	e = entity.Reconstruct("apt-9", "loft",
		nil, map[string]string{"color": "red"}, testVector())
	if err := repo.Upsert(context.Background(), e); err == nil {
		t.Error("expected error for a categorical attribute outside the schema")
	}
}

func TestUpsert_NewValueJoinsKnownSet(t *testing.T) {
	repo, _, _ := newTestRepo(t)

	if err := repo.Upsert(context.Background(), storedEntity(t, "apt-1", testVector())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := repo.KnownValues("district"); len(got) != 1 || got[0] != "center" {
		t.Fatalf("known district values = %v, want [center]", got)
	}

	e := entity.Reconstruct("apt-2", "harbor view studio",
		nil, map[string]string{"district": "harbor"}, testVector())
	if err := repo.Upsert(context.Background(), e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := repo.KnownValues("district")
	if len(got) != 2 || got[0] != "center" || got[1] != "harbor" {
		t.Errorf("known district values = %v, want [center harbor]", got)
	}
}

func TestUpsert_StoreError(t *testing.T) {
	wantErr := errors.New("connection reset")
	ms := &mockStore{hSetFn: func(context.Context, string, map[string]string) error {
		return wantErr
	}}
	repo := New(ms, &mockEmbedder{}, testSchema(t), Config{KeyPrefix: "voxdex:", VectorDim: 4}, zap.NewNop())

	err := repo.Upsert(context.Background(), storedEntity(t, "apt-9", testVector()))
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected the store error wrapped, got %v", err)
	}
}

func TestGet_HydratesEntity(t *testing.T) {
	repo, ms, _ := newTestRepo(t)
	ms.hGetAllMultiFn = func(_ context.Context, keys []string) ([]map[string]string, error) {
		if len(keys) != 1 || keys[0] != "voxdex:entity:apt-9" {
			t.Fatalf("keys = %v, want [voxdex:entity:apt-9]", keys)
		}
		return []map[string]string{{
			"description": "bright loft near the river",
			"vector":      vectorBytes(testVector()),
			"price":       "140",
			"district":    "center",
		}}, nil
	}

	e, err := repo.Get(context.Background(), "apt-9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.ID() != "apt-9" || e.Description() != "bright loft near the river" {
		t.Errorf("entity = %s / %q", e.ID(), e.Description())
	}
	if v, ok := e.Numeric("price"); !ok || v != 140 {
		t.Errorf("price = %v (%v)", v, ok)
	}
	if v, ok := e.Categorical("district"); !ok || v != "center" {
		t.Errorf("district = %q (%v)", v, ok)
	}
	if len(e.Vector()) != 4 {
		t.Errorf("vector len = %d, want 4", len(e.Vector()))
	}
}

func TestGet_NotFound(t *testing.T) {
	repo, ms, _ := newTestRepo(t)
	ms.hGetAllMultiFn = func(_ context.Context, keys []string) ([]map[string]string, error) {
		return []map[string]string{{}}, nil
	}

	_, err := repo.Get(context.Background(), "ghost")
	if !errors.Is(err, domain.ErrEntityNotFound) {
		t.Fatalf("expected ErrEntityNotFound, got %v", err)
	}
}

func TestCount_ScansPrefix(t *testing.T) {
	repo, ms, _ := newTestRepo(t)
	ms.scanFn = func(_ context.Context, pattern string) ([]string, error) {
		if pattern != "voxdex:entity:*" {
			t.Fatalf("pattern = %q, want voxdex:entity:*", pattern)
		}
		return []string{"voxdex:entity:a", "voxdex:entity:b", "voxdex:entity:c"}, nil
	}

	n, err := repo.Count(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Errorf("count = %d, want 3", n)
	}
}

func TestDelete_RemovesKey(t *testing.T) {
	var gotKey string
	ms := &mockStore{delFn: func(_ context.Context, key string) error {
		gotKey = key
		return nil
	}}
	repo := New(ms, &mockEmbedder{}, testSchema(t), Config{KeyPrefix: "voxdex:", VectorDim: 4}, zap.NewNop())

	if err := repo.Delete(context.Background(), "apt-9"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotKey != "voxdex:entity:apt-9" {
		t.Errorf("key = %q, want voxdex:entity:apt-9", gotKey)
	}
}

func TestDelete_EmptyID(t *testing.T) {
	repo, ms, _ := newTestRepo(t)
	ms.delFn = func(context.Context, string) error {
		t.Fatal("an empty ID must not reach the store")
		return nil
	}
	if err := repo.Delete(context.Background(), ""); err == nil {
		t.Error("expected error for an empty ID")
	}
}

func TestDelete_StoreError(t *testing.T) {
	wantErr := errors.New("connection reset")
	ms := &mockStore{delFn: func(context.Context, string) error { return wantErr }}
	repo := New(ms, &mockEmbedder{}, testSchema(t), Config{KeyPrefix: "voxdex:", VectorDim: 4}, zap.NewNop())

	if err := repo.Delete(context.Background(), "apt-9"); !errors.Is(err, wantErr) {
		t.Fatalf("expected the store error wrapped, got %v", err)
	}
}
