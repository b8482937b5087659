package llm

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’-][\p{L}\p{N}]+)*`)

// HashingModel is an offline embedding model: lower-cased tokens are hashed
// into a fixed number of signed buckets and the result is L2-normalised.
// Identical text always yields the identical vector.
type HashingModel struct {
	dim int
}

func NewHashingModel(dim int) (*HashingModel, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("hashing model dimension must be positive, got %d", dim)
	}
	return &HashingModel{dim: dim}, nil
}

// CreateEmbedding satisfies langchaingo's embeddings.EmbedderClient.
func (h *HashingModel) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.vector(text)
	}
	return out, nil
}

func (h *HashingModel) vector(text string) []float32 {
	v := make([]float32, h.dim)
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		hf := fnv.New64a()
		hf.Write([]byte(tok))
		sum := hf.Sum64()

		bucket := int(sum % uint64(h.dim))
		if sum&(1<<63) != 0 {
			v[bucket]--
		} else {
			v[bucket]++
		}
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= scale
	}
	return v
}
