// Package rag wires acquisition, chunking, embedding and the vector index into
// the two operations the assistant needs: Ingest and Answer.
package rag

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/xhad/recall/internal/models"
	"github.com/xhad/recall/internal/types"
	"github.com/xhad/recall/pkg/logger"
)

const (
	DefaultK             = 3
	DefaultContextBudget = 2000
)

// Progress stages reported through Config.OnProgress.
const (
	StageFetch = "fetch"
	StageSkip  = "skip"
	StageEmbed = "embed"
	StageStore = "store"
)

type Config struct {
	// ContextBudget caps the assembled context in runes. Zero disables the cap.
	ContextBudget int
	// Joiner separates retrieved texts in the context. Defaults to a single space.
	Joiner     string
	OnProgress func(stage, source string)
	Logger     *logrus.Entry
}

// Pipeline holds no state of its own beyond its collaborators. The embedder
// and index are shared by reference.
type Pipeline struct {
	fetcher  types.Fetcher
	chunker  types.Chunker
	embedder types.Embedder
	index    types.VectorIndex
	config   Config
	log      *logrus.Entry
	newID    func() string

	ingestMu sync.Mutex
}

type IngestReport struct {
	Skipped       bool     `json:"skipped"` // collection was already populated
	Sources       []string `json:"sources"` // sources that contributed chunks
	FailedSources []string `json:"failed_sources,omitempty"`
	Chunks        int      `json:"chunks"`
}

func New(fetcher types.Fetcher, chunker types.Chunker, embedder types.Embedder, index types.VectorIndex, config Config) *Pipeline {
	if config.Joiner == "" {
		config.Joiner = " "
	}
	log := config.Logger
	if log == nil {
		log = logger.For("pipeline")
	}

	return &Pipeline{
		fetcher:  fetcher,
		chunker:  chunker,
		embedder: embedder,
		index:    index,
		config:   config,
		log:      log,
		newID:    func() string { return uuid.New().String() },
	}
}

func (p *Pipeline) progress(stage, source string) {
	if p.config.OnProgress != nil {
		p.config.OnProgress(stage, source)
	}
}

// Ingest populates an empty collection from sources. A populated collection
// is left untouched, even if sources changed since it was built.
func (p *Pipeline) Ingest(ctx context.Context, sources []string) (*IngestReport, error) {
	p.ingestMu.Lock()
	defer p.ingestMu.Unlock()

	report := &IngestReport{}

	populated, err := p.index.ExistsAndNonEmpty(ctx)
	if err != nil {
		return nil, fmt.Errorf("checking collection: %w", err)
	}
	if populated {
		p.log.Info("collection already populated, skipping ingestion")
		report.Skipped = true
		return report, nil
	}

	var docs []models.Document
	for _, source := range sources {
		p.progress(StageFetch, source)

		text, err := p.fetcher.Fetch(ctx, source)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if err != nil || text == "" {
			acqErr := &types.AcquisitionError{Source: source, Err: err}
			p.log.WithField("source", source).WithError(acqErr).Warn("skipping source")
			p.progress(StageSkip, source)
			report.FailedSources = append(report.FailedSources, source)
			continue
		}

		docs = append(docs, models.Document{ID: p.newID(), URL: source, Content: text})
		report.Sources = append(report.Sources, source)
	}

	if len(docs) == 0 {
		return nil, types.ErrNoContent
	}

	chunks, err := p.chunker.Process(docs)
	if err != nil {
		return nil, fmt.Errorf("chunking: %w", err)
	}
	if len(chunks) == 0 {
		return nil, types.ErrNoContent
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	p.progress(StageEmbed, "")
	vectors, err := p.embedder.Encode(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding %d chunks: %w", len(texts), err)
	}

	entries := make([]models.IndexEntry, len(chunks))
	for i, c := range chunks {
		entries[i] = models.IndexEntry{ID: c.ID, Text: c.Text, Embedding: vectors[i]}
	}

	p.progress(StageStore, "")
	if err := p.index.Add(ctx, entries); err != nil {
		return nil, fmt.Errorf("storing %d entries: %w", len(entries), err)
	}

	report.Chunks = len(entries)
	p.log.WithFields(logrus.Fields{
		"sources": len(report.Sources),
		"skipped": len(report.FailedSources),
		"chunks":  report.Chunks,
	}).Info("ingestion complete")

	return report, nil
}

// Answer retrieves the k nearest chunks for query and assembles them, in rank
// order, into a context string. An empty collection gives zero matches and an
// empty context.
func (p *Pipeline) Answer(ctx context.Context, query string, k int) (*models.Answer, error) {
	if k <= 0 {
		k = DefaultK
	}

	embedding, err := p.embedder.EncodeOne(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	matches, err := p.index.Query(ctx, embedding, k)
	if err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}

	p.log.WithFields(logrus.Fields{"k": k, "matches": len(matches)}).Debug("retrieved")

	return &models.Answer{
		Query:   query,
		Context: p.assemble(matches),
		Matches: matches,
	}, nil
}

func (p *Pipeline) assemble(matches []models.Match) string {
	texts := make([]string, len(matches))
	for i, m := range matches {
		texts[i] = m.Text
	}
	return truncate(strings.Join(texts, p.config.Joiner), p.config.ContextBudget)
}

func truncate(s string, budget int) string {
	if budget <= 0 {
		return s
	}
	n := 0
	for i := range s {
		if n == budget {
			return s[:i]
		}
		n++
	}
	return s
}
