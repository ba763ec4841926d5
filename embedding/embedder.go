// Package embedding turns pattern text into capability-space vectors.
// The router treats the embedder as an external collaborator that fails
// closed: when embedding is unavailable it switches to metadata-only
// candidate generation.
package embedding

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/itsneelabh/patternroute/core"
)

// Dimension is the expected embedding width for text-embedding-3-small
const Dimension = 1536

// Embedder produces a capability-space vector for a pattern query.
// Metadata is folded into the embedded text so structured signals
// influence the neighborhood.
type Embedder interface {
	Embed(ctx context.Context, text string, metadata map[string]string) ([]float32, error)
}

// OpenAIEmbedder is an Embedder backed by the OpenAI embeddings API
// with bounded retry.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration
	logger     core.Logger
}

// NewOpenAIEmbedder creates an embedder from config
func NewOpenAIEmbedder(cfg core.EmbeddingConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embedding API key is required: %w", core.ErrInvalidConfiguration)
	}

	model := openai.EmbeddingModel(cfg.Model)
	if cfg.Model == "" {
		model = openai.SmallEmbedding3
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}

	return &OpenAIEmbedder{
		client:     openai.NewClient(cfg.APIKey),
		model:      model,
		timeout:    timeout,
		maxRetries: retries,
		retryDelay: 500 * time.Millisecond,
		logger:     &core.NoOpLogger{},
	}, nil
}

// SetLogger sets the logger provider
func (e *OpenAIEmbedder) SetLogger(logger core.Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// Embed generates the pattern vector. Retries transient API failures with
// exponential backoff; a final failure surfaces as ErrEmbeddingUnavailable
// so the router can degrade to metadata-only candidates.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string, metadata map[string]string) ([]float32, error) {
	input := text
	for k, v := range metadata {
		input += fmt.Sprintf("\n%s: %s", k, v)
	}

	var lastErr error
	delay := e.retryDelay
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, fmt.Errorf("embed: %w", core.ErrEmbeddingUnavailable)
			}
			delay *= 2
		}

		attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
		resp, err := e.client.CreateEmbeddings(attemptCtx, openai.EmbeddingRequestStrings{
			Input: []string{input},
			Model: e.model,
		})
		cancel()

		if err != nil {
			lastErr = err
			continue
		}
		if len(resp.Data) == 0 {
			lastErr = fmt.Errorf("no embeddings returned")
			continue
		}

		vector := resp.Data[0].Embedding
		if len(vector) != Dimension {
			e.logger.Warn("Unexpected embedding dimension", map[string]interface{}{
				"operation": "embed",
				"expected":  Dimension,
				"actual":    len(vector),
			})
		}
		return vector, nil
	}

	e.logger.Error("Embedding failed after retries", map[string]interface{}{
		"operation": "embed",
		"attempts":  e.maxRetries + 1,
		"error":     lastErr.Error(),
	})
	return nil, fmt.Errorf("embed after %d attempts: %v: %w", e.maxRetries+1, lastErr, core.ErrEmbeddingUnavailable)
}
