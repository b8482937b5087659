package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError
	add := func(field, message string) {
		errors = append(errors, ValidationError{Field: field, Message: message})
	}

	// Validate LLM config
	if c.LLM.BaseURL == "" {
		add("llm.base_url", "Ollama base URL is required")
	} else if !validURL(c.LLM.BaseURL) {
		add("llm.base_url", "invalid Ollama base URL")
	}
	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 4096 {
		add("llm.max_tokens", "max_tokens must be between 1 and 4096")
	}
	if t := c.LLM.Temperature; t == nil || *t < 0 || *t > 1 {
		add("llm.temperature", "temperature must be between 0 and 1")
	}

	// Validate Embedder config
	if !oneOf(c.Embedder.Provider, "ollama", "hashing") {
		add("embedder.provider", fmt.Sprintf("unknown provider: %s", c.Embedder.Provider))
	}
	if c.Embedder.Dimension < 1 {
		add("embedder.dimension", "dimension must be positive")
	}
	if c.Embedder.BatchSize < 1 {
		add("embedder.batch_size", "batch_size must be positive")
	}

	// Validate Index config
	if !oneOf(c.Index.Backend, "memory", "sqlite", "pgvector") {
		add("index.backend", fmt.Sprintf("unknown backend: %s", c.Index.Backend))
	}
	if !oneOf(c.Index.Metric, "cosine", "euclidean", "l2") {
		add("index.metric", fmt.Sprintf("unknown metric: %s", c.Index.Metric))
	}
	if c.Index.Backend == "sqlite" && c.Index.Path == "" {
		add("index.path", "path is required for the sqlite backend")
	}

	// Validate Database config
	if c.Index.Backend == "pgvector" && c.Database.URL == "" {
		add("database.url", "database URL is required for the pgvector backend")
	}
	if c.Database.URL != "" && !validURL(c.Database.URL) {
		add("database.url", "invalid database URL")
	}

	// Validate Scraper config
	if c.Scraper.MaxDepth < 0 {
		add("scraper.max_depth", "max_depth must not be negative")
	}
	if c.Scraper.RateLimit <= 0 {
		add("scraper.rate_limit", "rate_limit must be positive")
	}
	if c.Scraper.TimeoutSeconds < 1 {
		add("scraper.timeout_seconds", "timeout_seconds must be positive")
	}

	// Validate extensions format
	for _, ext := range c.Scraper.AllowedExtensions {
		if !strings.HasPrefix(ext, ".") && ext != "" && ext != "/" {
			add("scraper.allowed_extensions", fmt.Sprintf("invalid extension format: %s", ext))
		}
	}

	// Validate Processor config
	if c.Processor.ChunkSize < 1 {
		add("processor.chunk_size", "chunk_size must be positive")
	}
	if c.Processor.ChunkOverlap < 0 || c.Processor.ChunkOverlap >= c.Processor.ChunkSize {
		add("processor.chunk_overlap", "chunk_overlap must be non-negative and less than chunk_size")
	}
	if !oneOf(c.Processor.Strategy, "window", "recursive") {
		add("processor.strategy", fmt.Sprintf("unknown strategy: %s", c.Processor.Strategy))
	}

	// Validate Retrieval config
	if c.Retrieval.K < 1 {
		add("retrieval.k", "k must be positive")
	}
	if c.Budget() < 0 {
		add("retrieval.context_budget", "context_budget must not be negative")
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		add("log.level", fmt.Sprintf("unknown level: %s", c.Log.Level))
	}

	if len(c.Sources) == 0 {
		add("sources", "at least one source is required")
	}

	return errors
}
