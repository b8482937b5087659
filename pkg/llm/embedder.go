package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/xhad/recall/internal/types"
)

const (
	ProviderOllama  = "ollama"
	ProviderHashing = "hashing"
)

// EmbedderConfig represents the configuration for an embedder.
type EmbedderConfig struct {
	Provider  string
	Model     string
	BaseURL   string // Ollama server URL
	Dimension int
	BatchSize int
}

// Embedder maps text to fixed-length vectors. It is built once and shared by
// pointer; it carries no mutable state.
type Embedder struct {
	config EmbedderConfig
	embed  embeddings.Embedder
}

func NewEmbedderWithConfig(config EmbedderConfig) (*Embedder, error) {
	if config.Provider == "" {
		config.Provider = ProviderOllama
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 64
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434" // Default Ollama URL
	}

	var client embeddings.EmbedderClient
	switch config.Provider {
	case ProviderOllama:
		if config.Model == "" {
			config.Model = "nomic-embed-text:latest"
		}
		if config.Dimension == 0 {
			config.Dimension = 768
		}
		emb, err := ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrModelUnavailable, err)
		}
		client = emb
	case ProviderHashing:
		if config.Dimension == 0 {
			config.Dimension = 384
		}
		h, err := NewHashingModel(config.Dimension)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrModelUnavailable, err)
		}
		client = h
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", types.ErrModelUnavailable, config.Provider)
	}

	return NewEmbedder(client, config)
}

// NewEmbedder wraps an arbitrary embedding client. config.Dimension must be set.
func NewEmbedder(client embeddings.EmbedderClient, config EmbedderConfig) (*Embedder, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: nil client", types.ErrModelUnavailable)
	}
	if config.Dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", config.Dimension)
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 64
	}

	emb, err := embeddings.NewEmbedder(client,
		embeddings.WithBatchSize(config.BatchSize),
		embeddings.WithStripNewLines(false),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrModelUnavailable, err)
	}

	return &Embedder{config: config, embed: emb}, nil
}

func (e *Embedder) Dimension() int {
	return e.config.Dimension
}

func (e *Embedder) Model() string {
	return e.config.Model
}

// Encode embeds texts in order. An empty batch never reaches the model.
func (e *Embedder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	vectors, err := e.embed.EmbedDocuments(ctx, texts)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", types.ErrModelUnavailable, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: model returned %d vectors for %d texts",
			types.ErrModelUnavailable, len(vectors), len(texts))
	}
	for _, v := range vectors {
		if len(v) != e.config.Dimension {
			return nil, &types.DimensionMismatchError{Expected: e.config.Dimension, Got: len(v)}
		}
	}

	return vectors, nil
}

func (e *Embedder) EncodeOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Encode(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}
