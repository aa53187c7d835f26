package voxdex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/voxdex/internal/db"
	dbRedis "github.com/kailas-cloud/voxdex/internal/db/redis"
	"github.com/kailas-cloud/voxdex/internal/domain"
)

const defaultReadinessTimeout = 10 * time.Second

// Client is the embedded voxdex entry point. Programs that own the entity
// index (seeders, migration jobs, test harnesses) use it for ingest and
// structured search against the same store the voice server reads, without
// the voice pipeline on top.
type Client struct {
	store    db.Store
	queryEmb domain.Embedder
	docEmb   domain.Embedder
	cfg      *clientConfig
	logger   *zap.Logger
}

// New creates a voxdex Client and connects to the database.
func New(opts ...Option) (*Client, error) {
	cfg := defaultClientConfig()
	for _, o := range opts {
		o(cfg)
	}

	if len(cfg.addrs) == 0 {
		return nil, errors.New("voxdex: database address required (use WithRedis)")
	}

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.addrs,
		Password: cfg.password,
	})
	if err != nil {
		return nil, fmt.Errorf("voxdex: create redis store: %w", err)
	}

	ctx := context.Background()
	if err := store.WaitForReady(ctx, defaultReadinessTimeout); err != nil {
		store.Close()
		return nil, fmt.Errorf("voxdex: database not ready: %w", err)
	}

	return wireClient(store, cfg), nil
}

// wireClient builds the embedder chain. Queries and stored descriptions get
// separate instruction prefixes around one shared inner embedder; with no
// instructions configured both paths see the raw text.
func wireClient(store db.Store, cfg *clientConfig) *Client {
	var inner domain.Embedder = &noopEmbedder{}
	if cfg.embedder != nil {
		inner = &embedderAdapter{inner: cfg.embedder}
	}

	queryEmb := inner
	if cfg.queryInstruction != "" {
		queryEmb = domain.NewInstructionEmbedder(inner, cfg.queryInstruction)
	}
	docEmb := inner
	if cfg.documentInstruction != "" {
		docEmb = domain.NewInstructionEmbedder(inner, cfg.documentInstruction)
	}

	return &Client{
		store:    store,
		queryEmb: queryEmb,
		docEmb:   docEmb,
		cfg:      cfg,
		logger:   cfg.logger,
	}
}

// Close releases all resources.
func (c *Client) Close() {
	if c.store != nil {
		c.store.Close()
	}
}

// Ping checks database connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.store.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// EmbeddingResult is one embedding with provider token usage.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
}

// Embedder computes text embeddings. Implementations must be safe for
// concurrent use; PutBatch calls Embed from several goroutines.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// embedderAdapter wraps the public Embedder to satisfy internal domain.Embedder.
type embedderAdapter struct {
	inner Embedder
}

func (a *embedderAdapter) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	r, err := a.inner.Embed(ctx, text)
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("embed: %w", err)
	}
	return domain.EmbeddingResult{
		Embedding:    r.Embedding,
		PromptTokens: r.PromptTokens,
		TotalTokens:  r.TotalTokens,
	}, nil
}

// noopEmbedder returns an error on Embed call (used when no embedder configured).
type noopEmbedder struct{}

func (noopEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	return domain.EmbeddingResult{}, errors.New(
		"voxdex: embedder not configured (use WithEmbedder)",
	)
}
