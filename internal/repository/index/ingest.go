package index

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/kailas-cloud/voxdex/internal/domain"
	"github.com/kailas-cloud/voxdex/internal/domain/entity"
)

// Upsert writes one entity to the live store. The vector must already be
// computed and match the configured dimension; embedding happens at the
// caller, which knows which instruction the model expects for stored
// descriptions. New categorical values join the known value set right away,
// so a search filtering on them does not drop the filter before the next
// snapshot.
func (r *Repo) Upsert(ctx context.Context, e entity.Entity) error {
	if e.ID() == "" {
		return fmt.Errorf("entity ID is required")
	}
	if len(e.Vector()) != r.cfg.VectorDim {
		return fmt.Errorf("vector dimension %d does not match index dimension %d",
			len(e.Vector()), r.cfg.VectorDim)
	}
	if err := r.checkAttrs(&e); err != nil {
		return err
	}

	fields := make(map[string]string, len(e.Numerics())+len(e.Categoricals())+2)
	fields["description"] = e.Description()
	fields["vector"] = vectorToBytes(e.Vector())
	for name, v := range e.Numerics() {
		fields[name] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	for name, v := range e.Categoricals() {
		fields[name] = v
	}

	if err := r.store.HSet(ctx, r.entityKeyPrefix()+e.ID(), fields); err != nil {
		return fmt.Errorf("store entity %s: %w", e.ID(), err)
	}

	r.addKnown(e.Categoricals())
	r.logger.Debug("Entity stored", zap.String("id", e.ID()))
	return nil
}

// Get hydrates one entity from the live store, including its stored vector.
func (r *Repo) Get(ctx context.Context, id string) (entity.Entity, error) {
	if id == "" {
		return entity.Entity{}, fmt.Errorf("entity ID is required")
	}
	rows, err := r.store.HGetAllMulti(ctx, []string{r.entityKeyPrefix() + id})
	if err != nil {
		return entity.Entity{}, fmt.Errorf("get entity %s: %w", id, err)
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return entity.Entity{}, fmt.Errorf("entity %s: %w", id, domain.ErrEntityNotFound)
	}
	return r.entityFromFields(id, rows[0]), nil
}

// Count returns the number of stored entities.
func (r *Repo) Count(ctx context.Context) (int, error) {
	keys, err := r.store.Scan(ctx, r.entityKeyPrefix()+"*")
	if err != nil {
		return 0, fmt.Errorf("count entities: %w", err)
	}
	return len(keys), nil
}

// Delete removes one entity from the live store. The snapshot keeps serving
// the old record until the next refresh.
func (r *Repo) Delete(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("entity ID is required")
	}
	if err := r.store.Del(ctx, r.entityKeyPrefix()+id); err != nil {
		return fmt.Errorf("delete entity %s: %w", id, err)
	}
	r.logger.Debug("Entity deleted", zap.String("id", id))
	return nil
}

// checkAttrs rejects attribute names the schema does not declare. Values are
// not range-checked; scoring clamps them to the declared bounds.
func (r *Repo) checkAttrs(e *entity.Entity) error {
	for name := range e.Numerics() {
		if !r.schema.HasNumeric(name) {
			return fmt.Errorf("numeric attribute %q is not in the schema", name)
		}
	}
	for name := range e.Categoricals() {
		if !r.schema.HasCategorical(name) {
			return fmt.Errorf("categorical attribute %q is not in the schema", name)
		}
	}
	return nil
}

func (r *Repo) addKnown(categoricals map[string]string) {
	if len(categoricals) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for attr, value := range categoricals {
		vals := r.known[attr]
		if slices.Contains(vals, value) {
			continue
		}
		vals = append(vals, value)
		sort.Strings(vals)
		r.known[attr] = vals
	}
}

// vectorToBytes serializes []float32 to the binary hash field format, the
// inverse of bytesToVector.
func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}
