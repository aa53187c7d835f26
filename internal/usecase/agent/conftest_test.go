package agent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/voxdex/internal/domain"
	"github.com/kailas-cloud/voxdex/internal/domain/thread"
)

// --- Mocks ---

type mockCompleter struct {
	completeFn func(ctx context.Context, req domain.CompletionRequest) (domain.Completion, error)
	calls      int
	lastReq    domain.CompletionRequest
}

func (m *mockCompleter) Complete(ctx context.Context, req domain.CompletionRequest) (domain.Completion, error) {
	m.calls++
	m.lastReq = req
	if m.completeFn != nil {
		return m.completeFn(ctx, req)
	}
	return domain.Completion{Text: "Certainly."}, nil
}

type mockCounter struct {
	countFn func(msgs []domain.PromptMessage) int
}

func (m *mockCounter) CountText(text string) int { return len(text) / 4 }

func (m *mockCounter) CountMessages(msgs []domain.PromptMessage) int {
	if m.countFn != nil {
		return m.countFn(msgs)
	}
	return 10
}

type mockTool struct {
	name     string
	invokeFn func(ctx context.Context, args json.RawMessage) (string, error)
	calls    int
	lastArgs json.RawMessage
}

func (m *mockTool) Name() string { return m.name }

func (m *mockTool) Definition() domain.ToolDef {
	return domain.ToolDef{
		Name:        m.name,
		Description: "test tool",
		Parameters:  json.RawMessage(`{"type":"object"}`),
	}
}

func (m *mockTool) Invoke(ctx context.Context, args json.RawMessage) (string, error) {
	m.calls++
	m.lastArgs = args
	if m.invokeFn != nil {
		return m.invokeFn(ctx, args)
	}
	return "tool output", nil
}

// --- Helpers ---

func newTestAgent(t *testing.T, completer, summarizer *mockCompleter, counter *mockCounter, tools ...Tool) *Service {
	t.Helper()
	cfg := Config{
		Persona:        "You are a test assistant.",
		TokenBudget:    1000,
		KeepRecent:     4,
		MaxReplyTokens: 400,
		Timeout:        100 * time.Millisecond,
		Retries:        1,
	}
	return New(completer, summarizer, counter, tools, cfg, zap.NewNop())
}

func newTestThread(t *testing.T, id string) *thread.Thread {
	t.Helper()
	th, err := thread.New(id)
	if err != nil {
		t.Fatalf("thread.New: %v", err)
	}
	return th
}

func userTurn(text string) []domain.PromptMessage {
	return []domain.PromptMessage{{Role: domain.RoleUser, Text: text}}
}
