package openai

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/voxdex/internal/domain"
	"github.com/kailas-cloud/voxdex/internal/metrics"
)

// Embedder embeds query phrases for the entity index.
type Embedder struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
	logger     *zap.Logger
}

// NewEmbedder creates an OpenAI-compatible embedding adapter.
func NewEmbedder(client *openai.Client, model string, dimensions int, logger *zap.Logger) *Embedder {
	return &Embedder{
		client:     client,
		model:      openai.EmbeddingModel(model),
		dimensions: dimensions,
		logger:     logger,
	}
}

// Embed implements domain.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	req := openai.EmbeddingRequest{
		Input:          []string{text},
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if e.dimensions > 0 {
		req.Dimensions = e.dimensions
	}

	start := time.Now()

	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		metrics.ProviderErrorsTotal.WithLabelValues("embed").Inc()
		return domain.EmbeddingResult{}, parseAPIError("embed", err, domain.ErrEmbedding)
	}

	if len(resp.Data) == 0 {
		metrics.ProviderErrorsTotal.WithLabelValues("embed").Inc()
		return domain.EmbeddingResult{}, fmt.Errorf("empty embedding response: %w", domain.ErrEmbedding)
	}

	metrics.ProviderRequestDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())

	return domain.EmbeddingResult{
		Embedding:    resp.Data[0].Embedding,
		PromptTokens: resp.Usage.PromptTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}, nil
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (e *Embedder) HealthCheck(ctx context.Context) error {
	if _, err := e.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}
