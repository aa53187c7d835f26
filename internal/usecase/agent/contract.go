package agent

import (
	"context"
	"encoding/json"

	"github.com/kailas-cloud/voxdex/internal/domain"
	"github.com/kailas-cloud/voxdex/internal/usecase/search"
)

// Completer runs one reasoning call against the completion service.
type Completer interface {
	Complete(ctx context.Context, req domain.CompletionRequest) (domain.Completion, error)
}

// TokenCounter measures prompt footprints for the memory budget.
type TokenCounter interface {
	CountText(text string) int
	CountMessages(msgs []domain.PromptMessage) int
}

// Tool is a capability the agent can request during reasoning. Invoke
// returns the observation text fed back into the next reasoning step.
type Tool interface {
	Name() string
	Definition() domain.ToolDef
	Invoke(ctx context.Context, args json.RawMessage) (string, error)
}

// Searcher runs one ranked entity search.
type Searcher interface {
	Search(ctx context.Context, rawText string, limit int) (search.Outcome, error)
}
