package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"productrag/config"
	"productrag/types"
)

// EmbedderInterface turns text into fixed-length vectors.
type EmbedderInterface interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Provider performs one call to an embedding service for a batch of texts.
// The returned vectors must be in input order.
type Provider interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

var (
	// errCountMismatch marks a response with fewer vectors than inputs; retried.
	errCountMismatch = errors.New("embedding response count mismatch")

	// errTransport marks a failure before any response was received; retried.
	errTransport = errors.New("transport failure")
)

// Embedder batches texts, retries transient provider failures and checks the
// dimension of every returned vector.
type Embedder struct {
	provider       Provider
	embeddingType  string
	dim            int
	batchSize      int
	maxBatchTokens int
	tokens         TokenCounter
	backoff        Backoff
	logger         *slog.Logger
}

type Option func(*Embedder)

// WithBatchSize caps the number of texts per provider call. 1 means one call per chunk.
func WithBatchSize(n int) Option {
	return func(e *Embedder) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithMaxBatchTokens caps the token count of one provider call. 0 disables the cap.
func WithMaxBatchTokens(n int) Option {
	return func(e *Embedder) { e.maxBatchTokens = n }
}

func WithTokenCounter(c TokenCounter) Option {
	return func(e *Embedder) { e.tokens = c }
}

func WithBackoff(b Backoff) Option {
	return func(e *Embedder) { e.backoff = b }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Embedder) { e.logger = l }
}

func WithType(name string) Option {
	return func(e *Embedder) { e.embeddingType = name }
}

// NewEmbedder wraps provider; every vector it returns must have length dim.
func NewEmbedder(provider Provider, dim int, opts ...Option) *Embedder {
	e := &Embedder{
		provider:      provider,
		embeddingType: "custom",
		dim:           dim,
		batchSize:     1,
		tokens:        EstimateCounter{},
		backoff:       DefaultBackoff(),
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewEmbedderFromConfig selects the provider named by EMBEDDING_PROVIDER.
func NewEmbedderFromConfig(cfg config.Config, logger *slog.Logger) (*Embedder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dim, err := cfg.Embedding.Dimension()
	if err != nil {
		return nil, err
	}

	var provider Provider
	switch cfg.Embedding.Provider {
	case "openai":
		provider = NewOpenAIEmbedder(OpenAIConfig{
			APIKey:  cfg.OpenAIKey,
			BaseURL: cfg.Embedding.BaseURL,
			Model:   cfg.Embedding.Model,
			Timeout: cfg.Embedding.Timeout,
		})
	case "ollama":
		provider = NewOllamaEmbedder(cfg.Embedding.BaseURL, cfg.Embedding.Model, cfg.Embedding.Timeout)
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q", cfg.Embedding.Provider)
	}

	logger.Info("[EMBEDDER] using embedding provider",
		"provider", cfg.Embedding.Provider,
		"model", cfg.Embedding.Model,
		"dimension", dim)

	return NewEmbedder(provider, dim,
		WithType(cfg.Embedding.Provider),
		WithBatchSize(cfg.Embedding.BatchSize),
		WithMaxBatchTokens(cfg.Embedding.MaxBatchTokens),
		WithTokenCounter(NewTokenCounter(cfg.Embedding.Model, logger)),
		WithBackoff(Backoff{
			MaxRetries:   cfg.Embedding.MaxRetries,
			InitialDelay: cfg.Embedding.InitialDelay,
			Factor:       cfg.Embedding.BackoffFactor,
		}),
		WithLogger(logger),
	), nil
}

func (e *Embedder) Dimension() int {
	return e.dim
}

// Embed creates the embedding of a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedTexts creates the embeddings of texts, in order.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, batch := range e.batches(texts) {
		var vectors [][]float32
		err := e.backoff.Do(ctx, func() error {
			var err error
			vectors, err = e.provider.EmbedBatch(ctx, batch)
			if err != nil {
				return err
			}
			if len(vectors) != len(batch) {
				return fmt.Errorf("%w: got %d vectors for %d texts", errCountMismatch, len(vectors), len(batch))
			}
			return nil
		})
		if err != nil {
			e.logger.Error("[EMBEDDER] embedding failed", "provider", e.embeddingType, "texts", len(batch), "err", err)
			return nil, asServiceError(err)
		}

		for i, v := range vectors {
			if len(v) != e.dim {
				return nil, types.NewEmbeddingServiceError("embed", 0,
					fmt.Sprintf("vector %d has %d dimensions, want %d", len(out)+i, len(v), e.dim),
					types.ErrDimensionMismatch)
			}
		}
		out = append(out, vectors...)
	}
	return out, nil
}

// batches splits texts by count and token budget, keeping order.
// A text above the budget on its own still forms a batch.
func (e *Embedder) batches(texts []string) [][]string {
	var (
		batches [][]string
		current []string
		tokens  int
	)
	for _, text := range texts {
		n := 0
		if e.maxBatchTokens > 0 {
			n = e.tokens.Count(text)
		}
		full := len(current) >= e.batchSize ||
			(e.maxBatchTokens > 0 && len(current) > 0 && tokens+n > e.maxBatchTokens)
		if full {
			batches = append(batches, current)
			current, tokens = nil, 0
		}
		current = append(current, text)
		tokens += n
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

func asServiceError(err error) error {
	var svcErr *types.EmbeddingServiceError
	if errors.As(err, &svcErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return types.NewEmbeddingServiceError("embed", 0, "cancelled", err)
	}
	return types.NewEmbeddingServiceError("embed", 0, "", err)
}

// Backoff retries transient failures with exponential delays.
type Backoff struct {
	MaxRetries   int
	InitialDelay time.Duration
	Factor       float64
}

func DefaultBackoff() Backoff {
	return Backoff{MaxRetries: 3, InitialDelay: time.Second, Factor: 2.0}
}

// Do runs fn until it succeeds, fails permanently, or the retries are spent.
func (b Backoff) Do(ctx context.Context, fn func() error) error {
	delay := b.InitialDelay
	factor := b.Factor
	if factor < 1 {
		factor = 1
	}

	var lastErr error
	for attempt := 0; attempt <= b.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}

		if attempt < b.MaxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
				delay = time.Duration(float64(delay) * factor)
			}
		}
	}

	if b.MaxRetries == 0 {
		return lastErr
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// isRetryable reports whether err is worth another attempt.
func isRetryable(err error) bool {
	if errors.Is(err, errCountMismatch) || errors.Is(err, errTransport) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return !errors.Is(urlErr, context.Canceled)
	}

	var svcErr *types.EmbeddingServiceError
	if errors.As(err, &svcErr) {
		switch svcErr.StatusCode {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
	}
	return false
}

var _ EmbedderInterface = (*Embedder)(nil)
