package models

// Document is raw acquired text plus the source it came from. It only lives for
// the duration of an ingestion run.
type Document struct {
	ID       string
	URL      string
	Title    string
	Content  string
	Metadata map[string]interface{}
}

// Chunk is a contiguous slice of a Document's content.
type Chunk struct {
	ID       string
	SourceID string
	Text     string
	Position int
}

// IndexEntry is the unit persisted by a vector index.
type IndexEntry struct {
	ID        string
	Text      string
	Embedding []float32
}

// Match is a single nearest-neighbour result. Score is a similarity for the
// cosine metric and a distance for the euclidean metric.
type Match struct {
	ID    string  `json:"id"`
	Text  string  `json:"text"`
	Score float32 `json:"score"`
}

type Answer struct {
	Query   string  `json:"query"`
	Context string  `json:"context"`
	Matches []Match `json:"matches"`
}
