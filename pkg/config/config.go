package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultSource is ingested when neither the config file nor the command line
// names any sources.
const DefaultSource = "https://www.infracost.io/finops-policies/amazon-ec2-consider-using-latest-generation-instances-for-g-family-instances/"

type LLMConfig struct {
	BaseURL     string   `yaml:"base_url"`
	Model       string   `yaml:"model"`
	MaxTokens   int      `yaml:"max_tokens"`
	Temperature *float64 `yaml:"temperature"` // nil means default; 0 is deterministic
	Streaming   bool     `yaml:"streaming"`
}

type EmbedderConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	Dimension int    `yaml:"dimension"`
	BatchSize int    `yaml:"batch_size"`
}

type IndexConfig struct {
	Backend    string `yaml:"backend"`
	Collection string `yaml:"collection"`
	Metric     string `yaml:"metric"`
	Path       string `yaml:"path"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type ScraperConfig struct {
	MaxDepth          int      `yaml:"max_depth"`
	RateLimit         float64  `yaml:"rate_limit"`
	TimeoutSeconds    int      `yaml:"timeout_seconds"`
	UserAgent         string   `yaml:"user_agent"`
	IgnorePatterns    []string `yaml:"ignore_patterns"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
}

type ProcessorConfig struct {
	ChunkSize           int    `yaml:"chunk_size"`
	ChunkOverlap        int    `yaml:"chunk_overlap"`
	Strategy            string `yaml:"strategy"`
	NormalizeWhitespace bool   `yaml:"normalize_whitespace"`
	RemoveStopwords     bool   `yaml:"remove_stopwords"`
}

type RetrievalConfig struct {
	K             int  `yaml:"k"`
	ContextBudget *int `yaml:"context_budget"` // nil means default; 0 disables the cap
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Index     IndexConfig     `yaml:"index"`
	Database  DatabaseConfig  `yaml:"database"`
	Scraper   ScraperConfig   `yaml:"scraper"`
	Processor ProcessorConfig `yaml:"processor"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Log       LogConfig       `yaml:"log"`
	Sources   []string        `yaml:"sources"`
}

// Budget returns the effective context budget in runes.
func (c *Config) Budget() int {
	if c.Retrieval.ContextBudget == nil {
		return 2000
	}
	return *c.Retrieval.ContextBudget
}

// LoadConfig reads a .env file if present, then the YAML file at path (or the
// first default location that exists), then environment overrides.
func LoadConfig(path string) (*Config, error) {
	// A missing .env is not an error.
	_ = godotenv.Load()

	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/recall/config.yaml"),
			"/etc/recall/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// Merge with environment variables
	mergeWithEnv(&config)

	// Apply defaults for unset values
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.LLM.Model == "" {
		config.LLM.Model = "llama3"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}
	if config.LLM.Temperature == nil {
		t := 0.2
		config.LLM.Temperature = &t
	}
	if config.LLM.BaseURL == "" {
		config.LLM.BaseURL = "http://localhost:11434"
	}

	if config.Embedder.Provider == "" {
		config.Embedder.Provider = "ollama"
	}
	if config.Embedder.BaseURL == "" {
		config.Embedder.BaseURL = config.LLM.BaseURL
	}
	if config.Embedder.Model == "" && config.Embedder.Provider == "ollama" {
		config.Embedder.Model = "nomic-embed-text:latest"
	}
	if config.Embedder.Dimension == 0 {
		if config.Embedder.Provider == "hashing" {
			config.Embedder.Dimension = 384
		} else {
			config.Embedder.Dimension = 768
		}
	}
	if config.Embedder.BatchSize == 0 {
		config.Embedder.BatchSize = 64
	}

	if config.Index.Backend == "" {
		config.Index.Backend = "memory"
	}
	if config.Index.Collection == "" {
		config.Index.Collection = "finops_docs"
	}
	if config.Index.Metric == "" {
		config.Index.Metric = "cosine"
	}
	if config.Index.Path == "" {
		config.Index.Path = "recall.db"
	}

	if config.Scraper.MaxDepth == 0 {
		config.Scraper.MaxDepth = 1
	}
	if config.Scraper.RateLimit == 0 {
		config.Scraper.RateLimit = 2.0
	}
	if config.Scraper.TimeoutSeconds == 0 {
		config.Scraper.TimeoutSeconds = 10
	}
	if len(config.Scraper.AllowedExtensions) == 0 {
		config.Scraper.AllowedExtensions = []string{".html", ".htm", "/", ""}
	}

	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 500
	}
	if config.Processor.Strategy == "" {
		config.Processor.Strategy = "window"
	}

	if config.Retrieval.K == 0 {
		config.Retrieval.K = 3
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "text"
	}

	if len(config.Sources) == 0 {
		config.Sources = []string{DefaultSource}
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
		config.Embedder.BaseURL = baseURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if path := os.Getenv("RECALL_INDEX_PATH"); path != "" {
		config.Index.Path = path
	}
	if level := os.Getenv("RECALL_LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}
}
