package schema

import "fmt"

// Mode is the scoring direction of a numeric attribute.
type Mode string

// Scoring mode constants.
const (
	// Ascending means higher values score better (rooms, area).
	Ascending Mode = "ascending"
	// Descending means lower values score better (price, distance).
	Descending Mode = "descending"
)

// IsValid reports whether the mode is a known scoring direction.
func (m Mode) IsValid() bool { return m == Ascending || m == Descending }

var reservedAttrNames = map[string]bool{
	"id": true, "description": true, "vector": true, "text": true,
}

// Numeric is an immutable value object describing one scored numeric attribute.
type Numeric struct {
	name string
	min  float64
	max  float64
	mode Mode
}

// NewNumeric validates and creates a Numeric attribute declaration.
// Name must be non-empty, max 64 chars, not reserved. min must be < max.
func NewNumeric(name string, min, max float64, mode Mode) (Numeric, error) {
	if name == "" {
		return Numeric{}, fmt.Errorf("attribute name is required")
	}
	if len(name) > 64 {
		return Numeric{}, fmt.Errorf("attribute name %q too long (max 64)", name)
	}
	if reservedAttrNames[name] {
		return Numeric{}, fmt.Errorf("attribute name %q is reserved", name)
	}
	if min >= max {
		return Numeric{}, fmt.Errorf("attribute %q: min %v must be less than max %v", name, min, max)
	}
	if !mode.IsValid() {
		return Numeric{}, fmt.Errorf("attribute %q: invalid scoring mode %q", name, mode)
	}
	return Numeric{name: name, min: min, max: max, mode: mode}, nil
}

// ReconstructNumeric creates a Numeric without validation (config hydration in tests).
func ReconstructNumeric(name string, min, max float64, mode Mode) Numeric {
	return Numeric{name: name, min: min, max: max, mode: mode}
}

// Name returns the attribute name.
func (n Numeric) Name() string { return n.name }

// Min returns the declared lower bound.
func (n Numeric) Min() float64 { return n.min }

// Max returns the declared upper bound.
func (n Numeric) Max() float64 { return n.max }

// ScoreMode returns the scoring direction.
func (n Numeric) ScoreMode() Mode { return n.mode }

// Score normalizes a raw value to [0,1] using the declared bounds and mode.
// Values outside the bounds are clamped, never rejected.
func (n Numeric) Score(value float64) float64 {
	var s float64
	switch n.mode {
	case Descending:
		s = (n.max - value) / (n.max - n.min)
	default:
		s = (value - n.min) / (n.max - n.min)
	}
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// Schema declares the scored numeric attributes and filterable categorical
// attributes of the entity index. Immutable after construction.
type Schema struct {
	numerics     []Numeric
	numericIdx   map[string]int
	categoricals []string
	catSet       map[string]bool
}

// New validates and creates a Schema. Attribute names must be unique across
// both kinds. At least one attribute of either kind is required.
func New(numerics []Numeric, categoricals []string) (Schema, error) {
	if len(numerics) == 0 && len(categoricals) == 0 {
		return Schema{}, fmt.Errorf("schema requires at least one attribute")
	}

	seen := make(map[string]bool, len(numerics)+len(categoricals))
	numericIdx := make(map[string]int, len(numerics))
	for i, n := range numerics {
		if seen[n.name] {
			return Schema{}, fmt.Errorf("duplicate attribute %q", n.name)
		}
		seen[n.name] = true
		numericIdx[n.name] = i
	}

	catSet := make(map[string]bool, len(categoricals))
	for _, c := range categoricals {
		if c == "" {
			return Schema{}, fmt.Errorf("categorical attribute name is required")
		}
		if reservedAttrNames[c] {
			return Schema{}, fmt.Errorf("attribute name %q is reserved", c)
		}
		if seen[c] {
			return Schema{}, fmt.Errorf("duplicate attribute %q", c)
		}
		seen[c] = true
		catSet[c] = true
	}

	return Schema{
		numerics:     append([]Numeric(nil), numerics...),
		numericIdx:   numericIdx,
		categoricals: append([]string(nil), categoricals...),
		catSet:       catSet,
	}, nil
}

// Numerics returns the declared numeric attributes in declaration order.
func (s *Schema) Numerics() []Numeric { return s.numerics }

// Numeric looks up a numeric attribute by name.
func (s *Schema) Numeric(name string) (Numeric, bool) {
	i, ok := s.numericIdx[name]
	if !ok {
		return Numeric{}, false
	}
	return s.numerics[i], true
}

// Categoricals returns the declared categorical attribute names.
func (s *Schema) Categoricals() []string { return s.categoricals }

// HasCategorical reports whether name is a declared categorical attribute.
func (s *Schema) HasCategorical(name string) bool { return s.catSet[name] }

// HasNumeric reports whether name is a declared numeric attribute.
func (s *Schema) HasNumeric(name string) bool {
	_, ok := s.numericIdx[name]
	return ok
}
