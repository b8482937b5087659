package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/schema"
)

// NoAnswer is returned to the user when retrieval found nothing to ground an answer on.
const NoAnswer = "Sorry, no relevant information found."

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Model           string
	Temperature     float64
	MaxTokens       int
	SystemTemplate  string
	ContextTemplate string
	BaseURL         string // Ollama server URL
}

// ChatEngine is an engine that uses an LLM to generate chat responses.
type ChatEngine struct {
	config ChatConfig
	llm    llms.Model
}

// NewWithConfig creates a new ChatEngine with the given configuration.
func NewWithConfig(config ChatConfig) (*ChatEngine, error) {
	if config.Model == "" {
		config.Model = "llama3"
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434" // Default Ollama URL
	}

	llm, err := ollama.New(ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return NewWithModel(llm, config)
}

// NewWithModel builds a ChatEngine around an existing langchaingo model.
func NewWithModel(model llms.Model, config ChatConfig) (*ChatEngine, error) {
	if config.Temperature < 0 || config.Temperature > 1 {
		return nil, fmt.Errorf("temperature must be between 0 and 1")
	}
	if config.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	if config.SystemTemplate == "" {
		config.SystemTemplate = "You are a FinOps assistant. Answer the question using only the provided documentation. If the documentation does not cover it, say so."
	}
	if config.ContextTemplate == "" {
		config.ContextTemplate = "Relevant documentation:\n%s\n\nQuestion: %s"
	}

	return &ChatEngine{
		config: config,
		llm:    model,
	}, nil
}

func (ce *ChatEngine) messages(query, contextText string) []llms.MessageContent {
	return []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, ce.config.SystemTemplate),
		llms.TextParts(schema.ChatMessageTypeHuman, fmt.Sprintf(ce.config.ContextTemplate, contextText, query)),
	}
}

// Generate answers query from the retrieved context.
func (ce *ChatEngine) Generate(ctx context.Context, query, contextText string) (string, error) {
	if contextText == "" {
		return NoAnswer, nil
	}

	resp, err := ce.llm.GenerateContent(ctx, ce.messages(query, contextText),
		llms.WithTemperature(ce.config.Temperature),
		llms.WithMaxTokens(ce.config.MaxTokens),
	)
	if err != nil {
		return "", fmt.Errorf("chat error: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat error: no response from LLM")
	}

	return resp.Choices[0].Content, nil
}

// GenerateStream streams the answer in pieces as the model produces them. The
// channel is closed when generation ends; a failure is delivered as a final
// "Error: ..." message.
func (ce *ChatEngine) GenerateStream(ctx context.Context, query, contextText string) (<-chan string, error) {
	resultChan := make(chan string)

	if contextText == "" {
		go func() {
			defer close(resultChan)
			resultChan <- NoAnswer
		}()
		return resultChan, nil
	}

	go func() {
		defer close(resultChan)

		_, err := ce.llm.GenerateContent(ctx, ce.messages(query, contextText),
			llms.WithTemperature(ce.config.Temperature),
			llms.WithMaxTokens(ce.config.MaxTokens),
			llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
				select {
				case resultChan <- string(chunk):
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			}),
		)
		if err != nil {
			select {
			case resultChan <- fmt.Sprintf("Error: %v", err):
			case <-ctx.Done():
			}
		}
	}()

	return resultChan, nil
}
