package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/voxdex/internal/domain"
	"github.com/kailas-cloud/voxdex/internal/metrics"
)

// Completer runs chat completions with tool calling. One instance is bound
// to one model; the reasoning loop, summarizer and interpreter each get
// their own.
type Completer struct {
	client      *openai.Client
	model       string
	temperature float32
	logger      *zap.Logger
}

// NewCompleter creates a completion adapter bound to a model.
func NewCompleter(client *openai.Client, model string, temperature float32, logger *zap.Logger) *Completer {
	return &Completer{
		client:      client,
		model:       model,
		temperature: temperature,
		logger:      logger,
	}
}

// Complete implements domain.Completer.
func (c *Completer) Complete(ctx context.Context, req domain.CompletionRequest) (domain.Completion, error) {
	apiReq := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    toAPIMessages(req.Messages),
		Tools:       toAPITools(req.Tools),
		MaxTokens:   req.MaxTokens,
		Temperature: c.temperature,
	}
	if req.Temperature > 0 {
		apiReq.Temperature = req.Temperature
	}

	start := time.Now()

	resp, err := c.client.CreateChatCompletion(ctx, apiReq)
	if err != nil {
		metrics.ProviderErrorsTotal.WithLabelValues("complete").Inc()
		return domain.Completion{}, parseAPIError("complete", err, domain.ErrReasoning)
	}

	if len(resp.Choices) == 0 {
		metrics.ProviderErrorsTotal.WithLabelValues("complete").Inc()
		return domain.Completion{}, fmt.Errorf("empty completion response: %w", domain.ErrReasoning)
	}

	metrics.ProviderRequestDuration.WithLabelValues("complete").Observe(time.Since(start).Seconds())

	msg := resp.Choices[0].Message
	out := domain.Completion{
		Text:         msg.Content,
		PromptTokens: resp.Usage.PromptTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, domain.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: json.RawMessage(tc.Function.Arguments),
		})
	}

	return out, nil
}

func toAPIMessages(messages []domain.PromptMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Text,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Args),
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

func toAPITools(tools []domain.ToolDef) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}
