package voxdex

import (
	"time"

	"go.uber.org/zap"
)

// Option configures the Client.
type Option func(*clientConfig)

type clientConfig struct {
	addrs    []string
	password string

	embedder            Embedder
	queryInstruction    string
	documentInstruction string

	keyPrefix       string
	vectorDim       int
	hnswM           int
	hnswEFConstruct int

	defaultWeight float64
	candidateK    int
	minScore      float64
	searchTimeout time.Duration
	searchRetries int

	ingestWorkers int

	logger *zap.Logger
}

// Defaults track the serving configuration, so a client pointed at the same
// store with the same key prefix sees the voice server's index.
func defaultClientConfig() *clientConfig {
	return &clientConfig{
		keyPrefix:       "voxdex:",
		vectorDim:       1536,
		hnswM:           32,
		hnswEFConstruct: 400,
		defaultWeight:   0.25,
		candidateK:      50,
		searchTimeout:   2 * time.Second,
		searchRetries:   1,
		ingestWorkers:   4,
		logger:          zap.NewNop(),
	}
}

// WithRedis sets the database addresses and password.
func WithRedis(addrs []string, password string) Option {
	return func(c *clientConfig) {
		c.addrs = addrs
		c.password = password
	}
}

// WithEmbedder sets the embedding provider. Required for Put and for text
// scoring on Search; a client without one can still Get, Delete and Count.
func WithEmbedder(e Embedder) Option {
	return func(c *clientConfig) {
		c.embedder = e
	}
}

// WithInstructions sets instruction prefixes for instructed embedding models
// (Qwen-style). Queries and stored descriptions must carry the same
// instructions as the serving side to share a vector space.
func WithInstructions(query, document string) Option {
	return func(c *clientConfig) {
		c.queryInstruction = query
		c.documentInstruction = document
	}
}

// WithKeyPrefix sets the key namespace, default "voxdex:".
func WithKeyPrefix(prefix string) Option {
	return func(c *clientConfig) {
		c.keyPrefix = prefix
	}
}

// WithVectorDim sets the embedding dimension, default 1536. Must match the
// embedder's output.
func WithVectorDim(dim int) Option {
	return func(c *clientConfig) {
		c.vectorDim = dim
	}
}

// WithHNSW sets the HNSW graph parameters for index creation.
func WithHNSW(m, efConstruct int) Option {
	return func(c *clientConfig) {
		c.hnswM = m
		c.hnswEFConstruct = efConstruct
	}
}

// WithDefaultWeight sets the weight of scoring dimensions the query does not
// weight explicitly, default 0.25.
func WithDefaultWeight(w float64) Option {
	return func(c *clientConfig) {
		c.defaultWeight = w
	}
}

// WithCandidateK sets how many candidates the index returns for ranking,
// default 50.
func WithCandidateK(k int) Option {
	return func(c *clientConfig) {
		c.candidateK = k
	}
}

// WithMinScore drops hits whose composite score falls below the threshold,
// default 0 (keep all).
func WithMinScore(s float64) Option {
	return func(c *clientConfig) {
		c.minScore = s
	}
}

// WithSearchTimeout sets the per-attempt live index timeout, default 2s.
func WithSearchTimeout(d time.Duration) Option {
	return func(c *clientConfig) {
		c.searchTimeout = d
	}
}

// WithIngestWorkers sets how many entities PutBatch embeds and stores
// concurrently, default 4.
func WithIngestWorkers(n int) Option {
	return func(c *clientConfig) {
		c.ingestWorkers = n
	}
}

// WithLogger sets the client logger, default no-op.
func WithLogger(l *zap.Logger) Option {
	return func(c *clientConfig) {
		c.logger = l
	}
}
