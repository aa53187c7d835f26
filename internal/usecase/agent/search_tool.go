package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/voxdex/internal/domain"
	"github.com/kailas-cloud/voxdex/internal/usecase/search"
)

const searchToolName = "search_properties"

const noMatchText = "No properties matched your criteria."

var searchToolParams = json.RawMessage(`{
	"type": "object",
	"properties": {
		"query": {
			"type": "string",
			"description": "What the caller is looking for, in natural language, including any budget, size or location constraints."
		},
		"limit": {
			"type": "integer",
			"description": "How many matches to return. Optional."
		}
	},
	"required": ["query"]
}`)

// SearchTool exposes the ranking engine to the agent. Results render into
// deterministic text so the same search always produces the same spoken
// answer downstream.
type SearchTool struct {
	engine       Searcher
	defaultLimit int
	maxLimit     int
	logger       *zap.Logger
}

// NewSearchTool creates the property search tool.
func NewSearchTool(engine Searcher, defaultLimit, maxLimit int, logger *zap.Logger) *SearchTool {
	return &SearchTool{engine: engine, defaultLimit: defaultLimit, maxLimit: maxLimit, logger: logger}
}

// Name returns the tool name advertised to the completion service.
func (t *SearchTool) Name() string { return searchToolName }

// Definition returns the tool schema advertised to the completion service.
func (t *SearchTool) Definition() domain.ToolDef {
	return domain.ToolDef{
		Name:        searchToolName,
		Description: "Search the property listings. Returns ranked matches with per-dimension scores.",
		Parameters:  searchToolParams,
	}
}

type searchArgs struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

// Invoke parses the arguments, clamps the limit and runs the search.
func (t *SearchTool) Invoke(ctx context.Context, args json.RawMessage) (string, error) {
	var a searchArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return "", fmt.Errorf("search arguments: %w", err)
	}
	if domain.BlankText(a.Query) {
		return "", fmt.Errorf("search arguments: query is required")
	}

	limit := a.Limit
	if limit <= 0 {
		limit = t.defaultLimit
	}
	if limit > t.maxLimit {
		limit = t.maxLimit
	}

	out, err := t.engine.Search(ctx, a.Query, limit)
	if err != nil {
		return "", err
	}
	if out.Degraded {
		t.logger.Debug("Search served from the snapshot fallback", zap.String("query", a.Query))
	}
	return render(out), nil
}

// render formats an outcome with a fixed field order: rank, id, composite,
// sub-scores by sorted dimension name, then sorted attributes and the
// description. Dropped-filter notes follow so the agent can ask a
// clarifying question.
func render(out search.Outcome) string {
	var b strings.Builder
	if len(out.Hits) == 0 {
		b.WriteString(noMatchText)
		b.WriteString("\n")
	} else {
		fmt.Fprintf(&b, "Found %d matching properties.\n", len(out.Hits))
		for i := range out.Hits {
			h := &out.Hits[i]
			fmt.Fprintf(&b, "%d. %s, score %.2f", i+1, h.ID(), h.Composite())

			subs := h.SubScores()
			if len(subs) > 0 {
				b.WriteString(" (")
				for j, dim := range sortedKeys(subs) {
					if j > 0 {
						b.WriteString(", ")
					}
					fmt.Fprintf(&b, "%s %.2f", dim, subs[dim])
				}
				b.WriteString(")")
			}

			ent := h.Entity()
			for _, attr := range sortedKeys(ent.Categoricals) {
				fmt.Fprintf(&b, "; %s: %s", attr, ent.Categoricals[attr])
			}
			for _, attr := range sortedKeys(ent.Numerics) {
				fmt.Fprintf(&b, "; %s: %g", attr, ent.Numerics[attr])
			}
			if ent.Description != "" {
				fmt.Fprintf(&b, ". %s", ent.Description)
			}
			b.WriteString("\n")
		}
	}

	for _, d := range out.Dropped {
		fmt.Fprintf(&b, "Note: no listings have %s %q; that filter was ignored.\n", d.Attr, d.Value)
	}
	return strings.TrimRight(b.String(), "\n")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
