package store

import (
	"context"
	"sync"

	"github.com/xhad/recall/internal/models"
	"github.com/xhad/recall/internal/types"
)

// MemoryStore is a process-local collection scored by brute force. Entries are
// lost when the process exits.
type MemoryStore struct {
	mu      sync.RWMutex
	metric  types.Metric
	dim     int
	entries []models.IndexEntry
	ids     map[string]struct{}
}

func NewMemory(metric types.Metric) *MemoryStore {
	if metric == "" {
		metric = types.MetricCosine
	}
	return &MemoryStore{
		metric: metric,
		ids:    make(map[string]struct{}),
	}
}

func (s *MemoryStore) ExistsAndNonEmpty(ctx context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries) > 0, nil
}

func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

// Add appends entries atomically: either all are stored or none.
func (s *MemoryStore) Add(ctx context.Context, entries []models.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dim, err := checkBatch(entries, s.dim)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if _, ok := s.ids[e.ID]; ok {
			return &types.DuplicateIDError{ID: e.ID}
		}
	}

	for _, e := range entries {
		emb := make([]float32, len(e.Embedding))
		copy(emb, e.Embedding)
		s.entries = append(s.entries, models.IndexEntry{ID: e.ID, Text: e.Text, Embedding: emb})
		s.ids[e.ID] = struct{}{}
	}
	s.dim = dim
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, embedding []float32, k int) ([]models.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.entries) == 0 || k <= 0 {
		return []models.Match{}, nil
	}
	if len(embedding) != s.dim {
		return nil, &types.DimensionMismatchError{Expected: s.dim, Got: len(embedding)}
	}

	matches := make([]models.Match, 0, len(s.entries))
	for _, e := range s.entries {
		matches = append(matches, models.Match{
			ID:    e.ID,
			Text:  e.Text,
			Score: score(s.metric, embedding, e.Embedding),
		})
	}
	return topK(s.metric, matches, k), nil
}

// Reset drops every entry and forgets the established dimension.
func (s *MemoryStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.ids = make(map[string]struct{})
	s.dim = 0
	return nil
}

func (s *MemoryStore) Close() error { return nil }
