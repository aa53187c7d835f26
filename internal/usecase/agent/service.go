// Package agent reasons over a conversation thread: one completion step at
// a time, tool calling in between, and a token-budgeted rolling memory.
// The turn orchestrator drives the step loop; the agent owns prompt
// assembly, the tool registry and memory compression.
package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/voxdex/internal/domain"
	"github.com/kailas-cloud/voxdex/internal/domain/thread"
)

const completionRetryDelay = 200 * time.Millisecond

// Config holds agent settings.
type Config struct {
	Persona        string
	TokenBudget    int
	KeepRecent     int
	MaxReplyTokens int
	Timeout        time.Duration
	Retries        int
}

// StepResult is one reasoning step's outcome: a final spoken answer, or a
// tool call the orchestrator must execute before reasoning continues.
type StepResult struct {
	FinalText string
	ToolCall  *domain.ToolCall
}

// Service is the conversational agent.
type Service struct {
	completer  Completer
	summarizer Completer
	counter    TokenCounter
	tools      map[string]Tool
	defs       []domain.ToolDef
	cfg        Config
	logger     *zap.Logger
}

// New creates an agent with a registered tool set.
func New(completer, summarizer Completer, counter TokenCounter, tools []Tool, cfg Config, logger *zap.Logger) *Service {
	byName := make(map[string]Tool, len(tools))
	for _, t := range tools {
		byName[t.Name()] = t
	}
	defs := make([]domain.ToolDef, 0, len(byName))
	for _, t := range byName {
		defs = append(defs, t.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })

	return &Service{
		completer:  completer,
		summarizer: summarizer,
		counter:    counter,
		tools:      byName,
		defs:       defs,
		cfg:        cfg,
		logger:     logger,
	}
}

// Step runs one reasoning call over the thread memory plus this turn's
// evolving log. Memory is compressed first if the prompt exceeds the token
// budget. The model may answer or request a tool; when it requests several
// tools at once only the first is taken.
func (s *Service) Step(ctx context.Context, th *thread.Thread, turnLog []domain.PromptMessage) (StepResult, error) {
	s.compactIfOver(ctx, th, turnLog)

	req := domain.CompletionRequest{
		Messages:  s.assemble(th, turnLog),
		Tools:     s.defs,
		MaxTokens: s.cfg.MaxReplyTokens,
	}
	comp, err := s.complete(ctx, req)
	if err != nil {
		return StepResult{}, err
	}

	if len(comp.ToolCalls) > 0 {
		call := comp.ToolCalls[0]
		if len(comp.ToolCalls) > 1 {
			s.logger.Debug("Ignoring parallel tool calls beyond the first",
				zap.Int("ignored", len(comp.ToolCalls)-1))
		}
		return StepResult{ToolCall: &call}, nil
	}

	if domain.BlankText(comp.Text) {
		return StepResult{}, fmt.Errorf("blank completion text: %w", domain.ErrReasoning)
	}
	return StepResult{FinalText: strings.TrimSpace(comp.Text)}, nil
}

// Invoke dispatches a tool call to its registered tool and returns the
// observation text.
func (s *Service) Invoke(ctx context.Context, call domain.ToolCall) (string, error) {
	t, ok := s.tools[call.Name]
	if !ok {
		return "", fmt.Errorf("%s: %w", call.Name, domain.ErrUnknownTool)
	}
	obs, err := t.Invoke(ctx, call.Args)
	if err != nil {
		return "", fmt.Errorf("tool %s: %w", call.Name, err)
	}
	return obs, nil
}

// assemble builds the prompt: persona, rolling summary when present, thread
// history, then this turn's log.
func (s *Service) assemble(th *thread.Thread, turnLog []domain.PromptMessage) []domain.PromptMessage {
	history := th.History()
	msgs := make([]domain.PromptMessage, 0, len(history)+len(turnLog)+2)
	msgs = append(msgs, domain.PromptMessage{Role: domain.RoleSystem, Text: s.cfg.Persona})
	if th.Summary() != "" {
		msgs = append(msgs, domain.PromptMessage{
			Role: domain.RoleSystem,
			Text: "Conversation so far, summarized: " + th.Summary(),
		})
	}
	for _, m := range history {
		msgs = append(msgs, domain.PromptMessage{Role: m.Role, Text: m.Text})
	}
	return append(msgs, turnLog...)
}

// complete calls the reasoning model with a per-attempt timeout and a short
// delay before the retry. Provider faults and attempt timeouts map to
// ErrReasoning; parent cancellation passes through so the orchestrator can
// tell a barge-in from a fault.
func (s *Service) complete(ctx context.Context, req domain.CompletionRequest) (domain.Completion, error) {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(completionRetryDelay):
			case <-ctx.Done():
				return domain.Completion{}, fmt.Errorf("reasoning: %w", ctx.Err())
			}
		}

		cctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		comp, err := s.completer.Complete(cctx, req)
		cancel()
		if err == nil {
			return comp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return domain.Completion{}, fmt.Errorf("reasoning: %w", err)
		}
		s.logger.Warn("Completion attempt failed",
			zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return domain.Completion{}, fmt.Errorf("reasoning after retries: %v: %w", lastErr, domain.ErrReasoning)
}
