package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/voxdex/internal/domain"
	"github.com/kailas-cloud/voxdex/internal/domain/thread"
)

const maxSummaryTokens = 300

const summaryInstruction = "Condense the conversation below into a short factual summary. " +
	"Keep the caller's stated preferences, constraints, and every concrete fact already " +
	"established, such as prices, locations and property ids. Write plain prose. " +
	"Reply with the summary only."

// compactIfOver folds older history into the rolling summary when the
// assembled prompt exceeds the token budget. The last KeepRecent messages
// always survive verbatim. Compression failure keeps the full history; a
// long prompt beats losing memory.
func (s *Service) compactIfOver(ctx context.Context, th *thread.Thread, turnLog []domain.PromptMessage) {
	history := th.History()
	if len(history) <= s.cfg.KeepRecent {
		return
	}
	total := s.counter.CountMessages(s.assemble(th, turnLog))
	if total <= s.cfg.TokenBudget {
		return
	}

	older := history[:len(history)-s.cfg.KeepRecent]
	summary, err := s.summarize(ctx, th.Summary(), older)
	if err != nil {
		s.logger.Warn("Memory compression failed, keeping full history", zap.Error(err))
		return
	}
	th.Compact(summary, s.cfg.KeepRecent)
	s.logger.Info("Compressed thread memory",
		zap.String("thread_id", th.ID()),
		zap.Int("folded_messages", len(older)),
		zap.Int("prompt_tokens", total))
}

// summarize folds the previous summary and the older messages into a new
// rolling summary with the smaller summarization model.
func (s *Service) summarize(ctx context.Context, prev string, older []domain.Message) (string, error) {
	var b strings.Builder
	if prev != "" {
		b.WriteString("Existing summary:\n")
		b.WriteString(prev)
		b.WriteString("\n\n")
	}
	b.WriteString("Conversation to fold in:\n")
	for _, m := range older {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Text)
	}

	cctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	comp, err := s.summarizer.Complete(cctx, domain.CompletionRequest{
		Messages: []domain.PromptMessage{
			{Role: domain.RoleSystem, Text: summaryInstruction},
			{Role: domain.RoleUser, Text: b.String()},
		},
		MaxTokens: maxSummaryTokens,
	})
	if err != nil {
		return "", fmt.Errorf("summarize history: %w", err)
	}
	if domain.BlankText(comp.Text) {
		return "", fmt.Errorf("summarize history: blank summary")
	}
	return strings.TrimSpace(comp.Text), nil
}
