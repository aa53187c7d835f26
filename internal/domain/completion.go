package domain

import (
	"context"
	"encoding/json"
)

// PromptMessage is one message in a completion request context.
// ToolCallID is set on tool observations; ToolCalls on assistant
// messages that requested tool invocations.
type PromptMessage struct {
	Role       Role
	Text       string
	ToolCallID string
	ToolCalls  []ToolCall
}

// ToolDef describes a callable tool advertised to the completion service.
// Parameters is a JSON Schema object.
type ToolDef struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// ToolCall is a tool invocation requested by the completion service.
type ToolCall struct {
	ID   string
	Name string
	Args json.RawMessage
}

// Completion is the outcome of one reasoning call: final text, or one or
// more tool calls to execute before reasoning continues.
type Completion struct {
	Text         string
	ToolCalls    []ToolCall
	PromptTokens int
	TotalTokens  int
}

// CompletionRequest carries the assembled context for one reasoning call.
type CompletionRequest struct {
	Messages    []PromptMessage
	Tools       []ToolDef
	MaxTokens   int
	Temperature float32
}

// Completer is the language reasoning contract shared between layers.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
}

// Transcriber converts a buffered audio segment into text.
// An empty transcript is a valid non-error result.
type Transcriber interface {
	Transcribe(ctx context.Context, seg AudioSegment) (string, error)
}

// Synthesizer converts response text into streamable audio chunks.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (*SynthesisStream, error)
}
