package provider

import (
	"context"
	"fmt"

	einoark "github.com/cloudwego/eino-ext/components/model/ark"
	einogemini "github.com/cloudwego/eino-ext/components/model/gemini"
	einoollama "github.com/cloudwego/eino-ext/components/model/ollama"
	einoopenai "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/neurodesk/neurodesk-go/internal/rag"
)

// chatGenerator adapts an eino chat model to the Generator interface.
type chatGenerator struct {
	name  string
	model model.BaseChatModel
}

func (g *chatGenerator) Name() string { return g.name }

func (g *chatGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	msg, err := g.model.Generate(ctx, []*schema.Message{
		schema.SystemMessage(system),
		schema.UserMessage(prompt),
	})
	if err != nil {
		return "", fmt.Errorf("provider: %s: %w: %v", g.name, rag.ErrGenerationProvider, err)
	}
	if msg == nil || msg.Content == "" {
		return "", fmt.Errorf("provider: %s: %w: empty response", g.name, rag.ErrGenerationProvider)
	}
	return msg.Content, nil
}

// newOllama constructs a Generator backed by a local Ollama instance.
func newOllama(ctx context.Context, cfg *Config) (Generator, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	m, err := einoollama.NewChatModel(ctx, &einoollama.ChatModelConfig{
		BaseURL: baseURL,
		Model:   cfg.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: ollama: %w", err)
	}
	return &chatGenerator{name: string(BackendOllama), model: m}, nil
}

// newOpenAI constructs a Generator backed by the OpenAI API.
func newOpenAI(ctx context.Context, cfg *Config) (Generator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("provider: OPENAI_API_KEY is required for openai backend")
	}
	m, err := einoopenai.NewChatModel(ctx, &einoopenai.ChatModelConfig{
		Model:       cfg.Model,
		APIKey:      cfg.APIKey,
		MaxTokens:   &cfg.MaxTokens,
		Temperature: &cfg.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: openai: %w", err)
	}
	return &chatGenerator{name: string(BackendOpenAI), model: m}, nil
}

// newAzure constructs a Generator backed by Azure OpenAI Service.
func newAzure(ctx context.Context, cfg *Config) (Generator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("provider: AZURE_OPENAI_API_KEY is required for azure backend")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("provider: AZURE_OPENAI_ENDPOINT is required for azure backend")
	}
	if cfg.AzureDeployment == "" {
		return nil, fmt.Errorf("provider: AZURE_OPENAI_DEPLOYMENT is required for azure backend")
	}
	m, err := einoopenai.NewChatModel(ctx, &einoopenai.ChatModelConfig{
		Model:       cfg.AzureDeployment,
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		ByAzure:     true,
		APIVersion:  cfg.AzureAPIVersion,
		MaxTokens:   &cfg.MaxTokens,
		Temperature: &cfg.Temperature,
		// Use the deployment name as-is; the default mapper strips dots and
		// colons, which breaks deployment names like "gpt-4.1".
		AzureModelMapperFunc: func(model string) string { return model },
	})
	if err != nil {
		return nil, fmt.Errorf("provider: azure: %w", err)
	}
	return &chatGenerator{name: string(BackendAzure), model: m}, nil
}

// newBedrock constructs a Generator backed by AWS Bedrock through its
// OpenAI-compatible endpoint. The ark runtime speaks that dialect.
func newBedrock(ctx context.Context, cfg *Config) (Generator, error) {
	maxTokens := cfg.MaxTokens
	temp := cfg.Temperature
	m, err := einoark.NewChatModel(ctx, &einoark.ChatModelConfig{
		Model:       cfg.Model,
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		MaxTokens:   &maxTokens,
		Temperature: &temp,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: bedrock: %w", err)
	}
	return &chatGenerator{name: string(BackendBedrock), model: m}, nil
}

// newGemini constructs a Generator backed by Google Gemini (AI Studio).
func newGemini(ctx context.Context, cfg *Config) (Generator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("provider: GOOGLE_API_KEY is required for gemini backend")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: failed to create Gemini client: %w", err)
	}
	m, err := einogemini.NewChatModel(ctx, &einogemini.Config{
		Client: client,
		Model:  cfg.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: gemini: %w", err)
	}
	return &chatGenerator{name: string(BackendGemini), model: m}, nil
}
