package processor

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/xhad/recall/internal/models"
	"github.com/xhad/recall/internal/types"
)

const (
	StrategyWindow    = "window"
	StrategyRecursive = "recursive"
)

type ProcessorConfig struct {
	ChunkSize           int
	ChunkOverlap        int
	Strategy            string
	NormalizeWhitespace bool
	RemoveStopwords     bool
	CustomStopwords     []string
}

type Processor struct {
	config ProcessorConfig
	newID  func() string
}

func NewWithConfig(config ProcessorConfig) (*Processor, error) {
	if config.ChunkSize == 0 {
		config.ChunkSize = 500
	}
	if config.Strategy == "" {
		config.Strategy = StrategyWindow
	}
	if err := validate(config.ChunkSize, config.ChunkOverlap); err != nil {
		return nil, err
	}
	if config.Strategy != StrategyWindow && config.Strategy != StrategyRecursive {
		return nil, fmt.Errorf("%w: unknown strategy %q", types.ErrInvalidChunking, config.Strategy)
	}

	return &Processor{
		config: config,
		newID:  func() string { return uuid.New().String() },
	}, nil
}

// Process splits every document into chunks. Each chunk gets a fresh UUID and
// a back-reference to its document's URL.
func (p *Processor) Process(docs []models.Document) ([]models.Chunk, error) {
	var chunks []models.Chunk

	for _, doc := range docs {
		texts, err := p.split(p.cleanText(doc.Content))
		if err != nil {
			return nil, fmt.Errorf("failed to split %s: %w", doc.URL, err)
		}

		for i, text := range texts {
			chunks = append(chunks, models.Chunk{
				ID:       p.newID(),
				SourceID: doc.URL,
				Text:     text,
				Position: i,
			})
		}
	}

	return chunks, nil
}

func (p *Processor) split(text string) ([]string, error) {
	if p.config.Strategy == StrategyRecursive {
		if text == "" {
			return nil, nil
		}
		splitter := textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(p.config.ChunkSize),
			textsplitter.WithChunkOverlap(p.config.ChunkOverlap),
		)
		return splitter.SplitText(text)
	}
	return Split(text, p.config.ChunkSize, p.config.ChunkOverlap)
}

// Split slides a window of chunkSize runes over text, advancing by
// chunkSize-overlap each step. The last chunk may be shorter. Empty text
// yields no chunks.
func Split(text string, chunkSize, overlap int) ([]string, error) {
	if err := validate(chunkSize, overlap); err != nil {
		return nil, err
	}
	if text == "" {
		return []string{}, nil
	}

	runes := []rune(text)
	step := chunkSize - overlap
	chunks := make([]string, 0, len(runes)/step+1)

	for start := 0; start < len(runes); start += step {
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}

	return chunks, nil
}

func validate(chunkSize, overlap int) error {
	if chunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", types.ErrInvalidChunking, chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return fmt.Errorf("%w: overlap must be in [0, %d), got %d", types.ErrInvalidChunking, chunkSize, overlap)
	}
	return nil
}

// cleanText always drops invalid UTF-8 bytes; the other steps are optional.
func (p *Processor) cleanText(text string) string {
	text = strings.ToValidUTF8(text, "")

	if p.config.NormalizeWhitespace {
		text = strings.Join(strings.Fields(text), " ")
	}

	if p.config.RemoveStopwords {
		text = p.removeStopwords(text)
	}

	return text
}

func (p *Processor) removeStopwords(text string) string {
	stopwords := make(map[string]struct{})
	for _, w := range getStopwords() {
		stopwords[w] = struct{}{}
	}
	for _, w := range p.config.CustomStopwords {
		stopwords[strings.ToLower(w)] = struct{}{}
	}

	var filtered []string
	for _, word := range strings.Fields(text) {
		if _, ok := stopwords[strings.ToLower(word)]; !ok {
			filtered = append(filtered, word)
		}
	}

	return strings.Join(filtered, " ")
}

// Common English stopwords
func getStopwords() []string {
	return []string{
		"a", "an", "and", "are", "as", "at", "be", "by", "for",
		"from", "has", "he", "in", "is", "it", "its", "of", "on",
		"that", "the", "to", "was", "were", "will", "with",
	}
}
