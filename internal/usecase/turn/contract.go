package turn

import (
	"context"

	"github.com/kailas-cloud/voxdex/internal/domain"
	"github.com/kailas-cloud/voxdex/internal/domain/thread"
	"github.com/kailas-cloud/voxdex/internal/usecase/agent"
)

// Agent runs one reasoning step at a time and dispatches tool calls.
// The orchestrator owns the loop; the agent owns prompt assembly and
// the tool registry.
type Agent interface {
	Step(ctx context.Context, th *thread.Thread, turnLog []domain.PromptMessage) (agent.StepResult, error)
	Invoke(ctx context.Context, call domain.ToolCall) (string, error)
}

// ThreadStore resolves conversation threads by caller id.
type ThreadStore interface {
	GetOrCreate(id string) (*thread.Thread, error)
}
