package db

// KNNQuery is the input for vector similarity search. Predicates are
// applied as a hard pre-filter before the KNN stage.
type KNNQuery struct {
	IndexName    string
	Vector       []float32
	K            int
	Predicates   []Predicate
	ReturnFields []string
}

// Predicate is a single pre-filter condition on an indexed field.
// Exactly one of Tag or Range is set.
type Predicate struct {
	Field string
	Tag   string
	Range *Range
}

// Range is a numeric interval with inclusive bounds; a nil bound is open.
type Range struct {
	Lower *float64
	Upper *float64
}

// SearchResult is the output of a search operation.
type SearchResult struct {
	Total   int
	Entries []SearchEntry
}

// SearchEntry is a single document hit from a search.
type SearchEntry struct {
	Key    string
	Score  float64
	Fields map[string]string
}
