package types

import (
	"context"
	"fmt"
	"strings"

	"github.com/xhad/recall/internal/models"
)

// Core interfaces
type Fetcher interface {
	Fetch(ctx context.Context, source string) (string, error)
}

type Chunker interface {
	Process(docs []models.Document) ([]models.Chunk, error)
}

type Embedder interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)
	EncodeOne(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

type VectorIndex interface {
	ExistsAndNonEmpty(ctx context.Context) (bool, error)
	Add(ctx context.Context, entries []models.IndexEntry) error
	Query(ctx context.Context, embedding []float32, k int) ([]models.Match, error)
	Count(ctx context.Context) (int, error)
	Reset(ctx context.Context) error
	Close() error
}

// Generator turns a question and its retrieved context into a final answer.
type Generator interface {
	Generate(ctx context.Context, query, contextText string) (string, error)
	GenerateStream(ctx context.Context, query, contextText string) (<-chan string, error)
}

// Metric is the similarity function a collection is built with.
type Metric string

const (
	MetricCosine    Metric = "cosine"
	MetricEuclidean Metric = "euclidean"
)

func ParseMetric(s string) (Metric, error) {
	switch Metric(strings.ToLower(strings.TrimSpace(s))) {
	case MetricCosine, "":
		return MetricCosine, nil
	case MetricEuclidean, "l2":
		return MetricEuclidean, nil
	}
	return "", fmt.Errorf("unknown similarity metric %q", s)
}

// Better reports whether score a ranks ahead of score b under the metric.
func (m Metric) Better(a, b float32) bool {
	if m == MetricEuclidean {
		return a < b
	}
	return a > b
}
