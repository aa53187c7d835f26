package entity

import (
	"fmt"
	"regexp"
)

var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// MaxDescriptionSize is the maximum entity description size in bytes.
const MaxDescriptionSize = 16384 // 16KB

// Entity is one searchable record (immutable value object). The voice
// pipeline reads entities only; writes go through the embedded client
// library at the repository root.
type Entity struct {
	id           string
	description  string
	numerics     map[string]float64
	categoricals map[string]string
	vector       []float32
}

// New validates and creates an Entity.
// ID: ^[a-zA-Z0-9_-]+$, 1-256 chars. Description: non-empty, max 16KB.
// Attribute conformance to the schema is checked at the repository layer.
func New(id, description string, numerics map[string]float64, categoricals map[string]string) (Entity, error) {
	if id == "" {
		return Entity{}, fmt.Errorf("entity ID is required")
	}
	if len(id) > 256 {
		return Entity{}, fmt.Errorf("entity ID too long (max 256)")
	}
	if !idRegex.MatchString(id) {
		return Entity{}, fmt.Errorf("entity ID must be alphanumeric with underscores and hyphens")
	}
	if description == "" {
		return Entity{}, fmt.Errorf("description is required")
	}
	if len(description) > MaxDescriptionSize {
		return Entity{}, fmt.Errorf("description too large (max %d bytes)", MaxDescriptionSize)
	}

	return Entity{
		id:           id,
		description:  description,
		numerics:     cloneFloat64Map(numerics),
		categoricals: cloneStringMap(categoricals),
	}, nil
}

// Reconstruct creates an Entity without validation (storage hydration).
func Reconstruct(
	id, description string, numerics map[string]float64, categoricals map[string]string,
	vector []float32,
) Entity {
	return Entity{id: id, description: description, numerics: numerics, categoricals: categoricals, vector: vector}
}

// ID returns the entity identifier.
func (e *Entity) ID() string { return e.id }

// Description returns the free-text description.
func (e *Entity) Description() string { return e.description }

// Numerics returns the numeric attribute values.
func (e *Entity) Numerics() map[string]float64 { return e.numerics }

// Categoricals returns the categorical attribute values.
func (e *Entity) Categoricals() map[string]string { return e.categoricals }

// Vector returns the description embedding, if hydrated.
func (e *Entity) Vector() []float32 { return e.vector }

// Numeric returns one numeric attribute value.
func (e *Entity) Numeric(name string) (float64, bool) {
	v, ok := e.numerics[name]
	return v, ok
}

// Categorical returns one categorical attribute value.
func (e *Entity) Categorical(name string) (string, bool) {
	v, ok := e.categoricals[name]
	return v, ok
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

func cloneFloat64Map(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	c := make(map[string]float64, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
