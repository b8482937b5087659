package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/xhad/recall/internal/types"
	cfgPkg "github.com/xhad/recall/pkg/config"
	"github.com/xhad/recall/pkg/llm"
	"github.com/xhad/recall/pkg/logger"
	"github.com/xhad/recall/pkg/processor"
	"github.com/xhad/recall/pkg/rag"
	"github.com/xhad/recall/pkg/scraper"
	"github.com/xhad/recall/pkg/store"
	"github.com/xhad/recall/server"
)

// sourceList collects repeated -source flags.
type sourceList []string

func (s *sourceList) String() string { return strings.Join(*s, ",") }

func (s *sourceList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

type Options struct {
	ConfigPath string
	Sources    sourceList
	CrawlURL   string
	Reset      bool
	K          int
	Serve      bool
	Addr       string
	NoStream   bool
}

func main() {
	opts := parseFlags()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		log.Fatal(err)
	}
}

func parseFlags() Options {
	var opts Options

	flag.StringVar(&opts.ConfigPath, "config", "", "Path to config file")
	flag.Var(&opts.Sources, "source", "URL or file to ingest (repeatable, replaces configured sources)")
	flag.StringVar(&opts.CrawlURL, "crawl", "", "Crawl this URL and ingest every same-host page found")
	flag.BoolVar(&opts.Reset, "reset", false, "Clear the collection before ingesting")
	flag.IntVar(&opts.K, "k", 0, "Number of chunks to retrieve per question")
	flag.BoolVar(&opts.Serve, "serve", false, "Run the websocket server instead of the chat loop")
	flag.StringVar(&opts.Addr, "addr", ":8080", "Websocket server listen address")
	flag.BoolVar(&opts.NoStream, "no-stream", false, "Disable streaming responses")
	flag.Parse()

	return opts
}

func loadConfig(opts Options) (*cfgPkg.Config, error) {
	cfg, err := cfgPkg.LoadConfig(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	// Command line flags take precedence over the config file
	if len(opts.Sources) > 0 {
		cfg.Sources = opts.Sources
	}
	if opts.K > 0 {
		cfg.Retrieval.K = opts.K
	}
	if opts.NoStream {
		cfg.LLM.Streaming = false
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Red("config: %v", e)
		}
		return nil, fmt.Errorf("invalid configuration (%d errors)", len(errs))
	}
	return cfg, nil
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("sources"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// crawledFetcher serves pages already fetched by a crawl and falls back to
// the scraper for everything else.
type crawledFetcher struct {
	pages map[string]string
	next  types.Fetcher
}

func (f *crawledFetcher) Fetch(ctx context.Context, source string) (string, error) {
	if text, ok := f.pages[source]; ok {
		return text, nil
	}
	return f.next.Fetch(ctx, source)
}

func run(ctx context.Context, opts Options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	// Initialize components
	scr := scraper.NewWithConfig(scraper.ScraperConfig{
		MaxDepth:          cfg.Scraper.MaxDepth,
		RateLimit:         cfg.Scraper.RateLimit,
		IgnorePatterns:    cfg.Scraper.IgnorePatterns,
		AllowedExtensions: cfg.Scraper.AllowedExtensions,
		Timeout:           time.Duration(cfg.Scraper.TimeoutSeconds) * time.Second,
		UserAgent:         cfg.Scraper.UserAgent,
	})

	chunker, err := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:           cfg.Processor.ChunkSize,
		ChunkOverlap:        cfg.Processor.ChunkOverlap,
		Strategy:            cfg.Processor.Strategy,
		NormalizeWhitespace: cfg.Processor.NormalizeWhitespace,
		RemoveStopwords:     cfg.Processor.RemoveStopwords,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize chunker: %w", err)
	}

	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Provider:  cfg.Embedder.Provider,
		Model:     cfg.Embedder.Model,
		BaseURL:   cfg.Embedder.BaseURL,
		Dimension: cfg.Embedder.Dimension,
		BatchSize: cfg.Embedder.BatchSize,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %w", err)
	}

	chatEngine, err := llm.NewWithConfig(llm.ChatConfig{
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		BaseURL:     cfg.LLM.BaseURL,
		Temperature: *cfg.LLM.Temperature,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize chat engine: %w", err)
	}

	metric, err := types.ParseMetric(cfg.Index.Metric)
	if err != nil {
		return err
	}
	index, err := store.New(store.VectorStoreConfig{
		Backend:    cfg.Index.Backend,
		Collection: cfg.Index.Collection,
		Metric:     metric,
		Path:       cfg.Index.Path,
		ConnString: cfg.Database.URL,
		VectorDim:  embedder.Dimension(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize vector store: %w", err)
	}
	defer index.Close()

	if opts.Reset {
		if err := index.Reset(ctx); err != nil {
			return err
		}
		color.Yellow("Collection %s cleared", cfg.Index.Collection)
	}

	sources := cfg.Sources
	fetcher := &crawledFetcher{pages: map[string]string{}, next: scr}
	if opts.CrawlURL != "" {
		spinner := getSpinner("Crawling " + opts.CrawlURL)
		docs, err := scr.Crawl(ctx, opts.CrawlURL)
		spinner.Finish()
		if err != nil {
			return fmt.Errorf("failed to crawl %s: %w", opts.CrawlURL, err)
		}
		sources = nil
		for _, doc := range docs {
			fetcher.pages[doc.URL] = doc.Content
			sources = append(sources, doc.URL)
		}
		color.Green("✓ Crawled %d pages", len(docs))
	}

	bar := getProgressBar(len(sources), "Ingesting documentation...")
	pipeline := rag.New(fetcher, chunker, embedder, index, rag.Config{
		ContextBudget: cfg.Budget(),
		OnProgress: func(stage, source string) {
			switch stage {
			case rag.StageFetch:
				bar.Describe(color.BlueString("Fetching %s", source))
				bar.Add(1)
			case rag.StageEmbed:
				bar.Describe(color.BlueString("Embedding chunks..."))
			case rag.StageStore:
				bar.Describe(color.BlueString("Storing in vector index..."))
			}
		},
	})

	report, err := pipeline.Ingest(ctx, sources)
	bar.Finish()
	fmt.Println()
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}
	if report.Skipped {
		color.Green("✓ Collection %s already populated", cfg.Index.Collection)
	} else {
		color.Green("✓ Stored %d chunks from %d sources", report.Chunks, len(report.Sources))
		for _, s := range report.FailedSources {
			color.Yellow("  skipped %s", s)
		}
	}

	if opts.Serve {
		srv := server.NewWSServer(server.Config{
			K:         cfg.Retrieval.K,
			Streaming: cfg.LLM.Streaming,
		}, pipeline, chatEngine)
		return srv.ListenAndServe(ctx, opts.Addr)
	}

	return chat(ctx, pipeline, chatEngine, cfg.Retrieval.K, cfg.LLM.Streaming)
}

func chat(ctx context.Context, pipeline *rag.Pipeline, chatEngine *llm.ChatEngine, k int, streaming bool) error {
	// Interactive chat loop with colored output
	color.Cyan("\nAsk about your documentation (type 'exit' to quit)")

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		query := strings.TrimSpace(scanner.Text())
		if strings.ToLower(query) == "exit" {
			break
		}
		if query == "" {
			continue
		}

		querySpinner := getSpinner("Searching documentation...")
		answer, err := pipeline.Answer(ctx, query, k)
		querySpinner.Finish()
		if err != nil {
			color.Red("Error querying documents: %v\n", err)
			continue
		}

		if len(answer.Matches) == 0 {
			assistantPrompt("Assistant: %s\n", llm.NoAnswer)
			continue
		}

		if streaming {
			stream, err := chatEngine.GenerateStream(ctx, query, answer.Context)
			if err != nil {
				color.Red("Error: %v\n", err)
				continue
			}
			assistantPrompt("Assistant: ")
			for chunk := range stream {
				assistantPrompt("%s", chunk)
			}
			fmt.Println()
			continue
		}

		responseSpinner := getSpinner("Generating response...")
		response, err := chatEngine.Generate(ctx, query, answer.Context)
		responseSpinner.Finish()
		if err != nil {
			color.Red("Error: %v\n", err)
			continue
		}
		assistantPrompt("Assistant: %s\n", response)
	}

	return scanner.Err()
}
