package index

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/voxdex/internal/domain/entity"
)

const (
	snapshotBatch   = 200
	snapshotTimeout = 30 * time.Second
)

// Snapshot rebuilds the fallback index from the live store: scans entity
// keys, hydrates every hash including the stored vector, and refreshes the
// known categorical values. On any error the previous snapshot stays intact.
func (r *Repo) Snapshot(ctx context.Context) error {
	keys, err := r.store.Scan(ctx, r.entityKeyPrefix()+"*")
	if err != nil {
		return fmt.Errorf("snapshot scan: %w", err)
	}

	entities := make([]entity.Entity, 0, len(keys))
	for start := 0; start < len(keys); start += snapshotBatch {
		end := min(start+snapshotBatch, len(keys))
		batch := keys[start:end]

		rows, err := r.store.HGetAllMulti(ctx, batch)
		if err != nil {
			return fmt.Errorf("snapshot hydrate: %w", err)
		}
		for i, fields := range rows {
			if len(fields) == 0 {
				continue // key expired between scan and hydrate
			}
			id := strings.TrimPrefix(batch[i], r.entityKeyPrefix())
			entities = append(entities, r.entityFromFields(id, fields))
		}
	}

	if err := r.primeKnownValues(ctx); err != nil {
		return err
	}
	r.fallback.Swap(entities, time.Now())

	r.logger.Debug("Snapshot refreshed", zap.Int("entities", len(entities)))
	return nil
}

// StartRefresh launches the periodic snapshot loop. Safe to call once;
// subsequent calls are no-ops.
func (r *Repo) StartRefresh(interval time.Duration) {
	r.refreshOnce.Do(func() {
		r.refreshing = true
		go r.refreshLoop(interval)
	})
}

// Close stops the refresh loop and waits for it to exit.
func (r *Repo) Close() {
	r.stopOnce.Do(func() {
		close(r.stop)
		if r.refreshing {
			<-r.done
		}
	})
}

func (r *Repo) refreshLoop(interval time.Duration) {
	defer close(r.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
			if err := r.Snapshot(ctx); err != nil {
				r.logger.Warn("Snapshot refresh failed, keeping previous snapshot", zap.Error(err))
			}
			cancel()
		}
	}
}

func (r *Repo) entityFromFields(id string, fields map[string]string) entity.Entity {
	var description string
	var vector []float32
	numerics := make(map[string]float64)
	categoricals := make(map[string]string)

	for name, value := range fields {
		switch {
		case name == "description":
			description = value
		case name == "vector":
			vector = bytesToVector(value)
		case r.schema.HasNumeric(name):
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				numerics[name] = f
			}
		case r.schema.HasCategorical(name):
			categoricals[name] = value
		}
	}

	return entity.Reconstruct(id, description, numerics, categoricals, vector)
}

// bytesToVector deserializes a binary hash field to []float32.
func bytesToVector(s string) []float32 {
	b := []byte(s)
	if len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
