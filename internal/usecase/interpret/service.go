// Package interpret turns raw caller phrasing into a structured search
// query with one auxiliary completion call. It never blocks a search for
// long: one short timeout, no retry, and any failure surfaces as
// ErrInterpretation for the engine to downgrade to a text-only query.
package interpret

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/voxdex/internal/domain"
	"github.com/kailas-cloud/voxdex/internal/domain/entity/schema"
	"github.com/kailas-cloud/voxdex/internal/domain/search/query"
)

const (
	maxReplyTokens = 500
	maxValueHints  = 20
)

// Service interprets raw query text against the attribute schema.
type Service struct {
	completer Completer
	schema    schema.Schema
	values    ValueSource
	timeout   time.Duration
	logger    *zap.Logger
}

// New creates an interpreter service.
func New(completer Completer, sch schema.Schema, values ValueSource, timeout time.Duration, logger *zap.Logger) *Service {
	return &Service{
		completer: completer,
		schema:    sch,
		values:    values,
		timeout:   timeout,
		logger:    logger,
	}
}

// parsedBound mirrors the JSON contract for one numeric constraint.
type parsedBound struct {
	Min *float64 `json:"min"`
	Max *float64 `json:"max"`
}

// parsedQuery mirrors the JSON contract the model is instructed to emit.
type parsedQuery struct {
	Text    string                 `json:"text"`
	Exact   map[string]string      `json:"exact"`
	Bounds  map[string]parsedBound `json:"bounds"`
	Weights map[string]float64     `json:"weights"`
}

// Parse interprets raw text into a structured query. Failures other than
// context cancellation come back wrapped in domain.ErrInterpretation.
func (s *Service) Parse(ctx context.Context, text string) (query.Structured, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	completion, err := s.completer.Complete(cctx, domain.CompletionRequest{
		Messages: []domain.PromptMessage{
			{Role: domain.RoleSystem, Text: s.instruction()},
			{Role: domain.RoleUser, Text: text},
		},
		MaxTokens: maxReplyTokens,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return query.Structured{}, fmt.Errorf("interpret query: %w", err)
		}
		return query.Structured{}, fmt.Errorf("interpret query: %v: %w", err, domain.ErrInterpretation)
	}

	var parsed parsedQuery
	if err := json.Unmarshal([]byte(stripFences(completion.Text)), &parsed); err != nil {
		s.logger.Debug("Interpreter returned unparseable JSON",
			zap.String("reply", completion.Text), zap.Error(err))
		return query.Structured{}, fmt.Errorf("parse interpreter reply: %v: %w", err, domain.ErrInterpretation)
	}

	q, err := s.toQuery(text, &parsed)
	if err != nil {
		return query.Structured{}, fmt.Errorf("validate interpreted query: %v: %w", err, domain.ErrInterpretation)
	}
	return q, nil
}

// toQuery validates the parsed structure against the schema. Filters and
// weights on undeclared attributes are model noise and get dropped;
// structural violations fail the whole parse.
func (s *Service) toQuery(raw string, parsed *parsedQuery) (query.Structured, error) {
	text := strings.TrimSpace(parsed.Text)
	if text == "" {
		text = raw
	}

	var exact map[string]string
	for attr, value := range parsed.Exact {
		if !s.schema.HasCategorical(attr) {
			s.logger.Debug("Dropping filter on undeclared attribute", zap.String("attr", attr))
			continue
		}
		if exact == nil {
			exact = make(map[string]string)
		}
		exact[attr] = value
	}

	var bounds map[string]query.Bound
	for attr, b := range parsed.Bounds {
		if !s.schema.HasNumeric(attr) {
			s.logger.Debug("Dropping bound on undeclared attribute", zap.String("attr", attr))
			continue
		}
		if bounds == nil {
			bounds = make(map[string]query.Bound)
		}
		bounds[attr] = query.Bound{Lower: b.Min, Upper: b.Max}
	}

	var weights map[string]float64
	for dim, w := range parsed.Weights {
		if dim != query.TextDimension && !s.schema.HasNumeric(dim) {
			s.logger.Debug("Dropping weight on undeclared dimension", zap.String("dimension", dim))
			continue
		}
		if weights == nil {
			weights = make(map[string]float64)
		}
		weights[dim] = w
	}

	return query.New(text, exact, bounds, weights)
}

// instruction builds the system prompt from the schema. Known categorical
// values are rebuilt per call; they change with every index snapshot.
func (s *Service) instruction() string {
	var b strings.Builder
	b.WriteString("You convert a caller's home search request into JSON. ")
	b.WriteString("Respond with a single JSON object and nothing else, no prose, using this shape:\n")
	b.WriteString(`{"text": "<search phrase>", "exact": {"<attr>": "<value>"}, ` +
		`"bounds": {"<attr>": {"min": <number or null>, "max": <number or null>}}, ` +
		`"weights": {"<dimension>": <0..1>}}` + "\n\n")

	b.WriteString("Numeric attributes (usable in bounds and weights):\n")
	for _, n := range s.schema.Numerics() {
		fmt.Fprintf(&b, "- %s: range %g to %g, %s values are better\n",
			n.Name(), n.Min(), n.Max(), preferenceWord(n.ScoreMode()))
	}

	b.WriteString("Categorical attributes (usable in exact):\n")
	for _, attr := range s.schema.Categoricals() {
		vals := s.values.KnownValues(attr)
		if len(vals) > maxValueHints {
			vals = vals[:maxValueHints]
		}
		if len(vals) > 0 {
			fmt.Fprintf(&b, "- %s: known values %s\n", attr, strings.Join(vals, ", "))
		} else {
			fmt.Fprintf(&b, "- %s\n", attr)
		}
	}

	b.WriteString("\nRules: \"text\" carries the descriptive phrase to match against listings. ")
	b.WriteString("Only add filters the caller explicitly stated; leave \"exact\" and \"bounds\" empty otherwise. ")
	b.WriteString(`Weights express stated priorities per dimension ("text" plus numeric attributes); `)
	b.WriteString("omit \"weights\" unless the caller stressed a priority.")
	return b.String()
}

func preferenceWord(m schema.Mode) string {
	if m == schema.Descending {
		return "lower"
	}
	return "higher"
}

// stripFences removes a surrounding markdown code fence, with or without a
// language tag. Models add them even when told not to.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
