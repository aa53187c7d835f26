package result

// Scored is a single ranked search hit with its explainable sub-scores.
// Composite is a weighted mean in [0,1]; SubScores holds the normalized
// per-dimension contributions keyed by dimension name.
type Scored struct {
	id        string
	composite float64
	subScores map[string]float64
	entity    Summary
}

// Summary carries the displayable entity fields alongside a hit.
type Summary struct {
	Description  string
	Numerics     map[string]float64
	Categoricals map[string]string
}

// New creates a Scored result.
func New(id string, composite float64, subScores map[string]float64, entity Summary) Scored {
	return Scored{id: id, composite: composite, subScores: subScores, entity: entity}
}

// ID returns the entity identifier.
func (s *Scored) ID() string { return s.id }

// Composite returns the weighted composite score in [0,1].
func (s *Scored) Composite() float64 { return s.composite }

// SubScores returns the normalized per-dimension sub-scores.
func (s *Scored) SubScores() map[string]float64 { return s.subScores }

// SubScore returns one dimension's normalized sub-score.
func (s *Scored) SubScore(dim string) (float64, bool) {
	v, ok := s.subScores[dim]
	return v, ok
}

// Entity returns the displayable entity fields.
func (s *Scored) Entity() Summary { return s.entity }

// Candidate is a filter-surviving entity as the index layer hands it to the
// ranking engine: raw attribute values plus the normalized text similarity.
// Numeric sub-scores and the composite are computed downstream.
type Candidate struct {
	ID           string
	TextScore    float64
	Description  string
	Numerics     map[string]float64
	Categoricals map[string]string
}
