package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"

	DefaultOllamaURL = "http://localhost:11434"
)

type Config struct {
	Provider    string
	BaseURL     string
	APIKey      string
	TextModel   string
	VisionModel string
	Version     string
	Timeout     time.Duration
}

// NewChatModel builds one eino chat model for the configured provider.
// Both providers are constrained to the card metadata JSON schema.
func NewChatModel(ctx context.Context, cfg Config, modelName string) (model.BaseChatModel, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderOpenAI, "":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai api key is required")
		}
		format, err := openAIResponseFormat()
		if err != nil {
			return nil, err
		}
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			APIKey:         cfg.APIKey,
			BaseURL:        cfg.BaseURL,
			Model:          modelName,
			Timeout:        timeout,
			ResponseFormat: format,
		})
	case ProviderOllama:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = DefaultOllamaURL
		}
		return ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
			BaseURL: baseURL,
			Model:   modelName,
			Timeout: timeout,
			Format:  json.RawMessage(metadataSchemaJSON),
		})
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s (supported: openai, ollama)", cfg.Provider)
	}
}

func openAIResponseFormat() (*openai.ChatCompletionResponseFormat, error) {
	schema, err := metadataSchema()
	if err != nil {
		return nil, err
	}
	return &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
		JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
			Name:       metadataSchemaName,
			JSONSchema: schema,
			Strict:     true,
		},
	}, nil
}
