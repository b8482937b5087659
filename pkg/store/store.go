package store

import (
	"fmt"
	"math"
	"regexp"
	"sort"

	"github.com/xhad/recall/internal/models"
	"github.com/xhad/recall/internal/types"
)

const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPGVector = "pgvector"
)

// VectorStoreConfig selects and configures a vector index backend.
//
// Only the sqlite and pgvector backends outlive the process; the memory
// backend loses every entry on exit.
type VectorStoreConfig struct {
	Backend    string
	Collection string
	Metric     types.Metric
	Path       string // sqlite database file
	ConnString string // pgvector connection string
	VectorDim  int    // required by pgvector, optional elsewhere
}

var collectionName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// checkCollection defaults an empty collection name and rejects names that
// are not plain SQL identifiers.
func checkCollection(config *VectorStoreConfig) error {
	if config.Collection == "" {
		config.Collection = "finops_docs"
	}
	if !collectionName.MatchString(config.Collection) {
		return fmt.Errorf("invalid collection name %q", config.Collection)
	}
	return nil
}

// New opens the configured backend.
func New(config VectorStoreConfig) (types.VectorIndex, error) {
	if err := checkCollection(&config); err != nil {
		return nil, err
	}
	if config.Metric == "" {
		config.Metric = types.MetricCosine
	}

	switch config.Backend {
	case BackendMemory, "":
		return NewMemory(config.Metric), nil
	case BackendSQLite:
		return NewSQLite(config)
	case BackendPGVector:
		return NewWithConfig(config)
	}
	return nil, fmt.Errorf("unknown vector store backend %q", config.Backend)
}

func score(metric types.Metric, a, b []float32) float32 {
	if metric == types.MetricEuclidean {
		return euclidean(a, b)
	}
	return cosine(a, b)
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func euclidean(a, b []float32) float32 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return float32(math.Sqrt(sum))
}

// topK orders matches best first under metric and keeps at most k. Ties keep
// insertion order.
func topK(metric types.Metric, matches []models.Match, k int) []models.Match {
	sort.SliceStable(matches, func(i, j int) bool {
		return metric.Better(matches[i].Score, matches[j].Score)
	})
	if k < len(matches) {
		matches = matches[:k]
	}
	return matches
}

// checkBatch validates dimensions and in-batch id uniqueness before anything
// is written. dim <= 0 means the collection has no dimension yet and the
// first entry establishes it.
func checkBatch(entries []models.IndexEntry, dim int) (int, error) {
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if dim <= 0 {
			dim = len(e.Embedding)
		}
		if len(e.Embedding) != dim || dim == 0 {
			return 0, &types.DimensionMismatchError{Expected: dim, Got: len(e.Embedding)}
		}
		if _, ok := seen[e.ID]; ok {
			return 0, &types.DuplicateIDError{ID: e.ID}
		}
		seen[e.ID] = struct{}{}
	}
	return dim, nil
}
