package llm

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// GeminiConfig configures the Gemini client
type GeminiConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
}

// GeminiClient generates text with Google's Gemini API.
type GeminiClient struct {
	client *genai.Client
	cfg    GeminiConfig
	logger *zap.Logger
}

// NewGeminiClient creates a GeminiClient.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.Model == "" || strings.HasPrefix(cfg.Model, "o3") || strings.HasPrefix(cfg.Model, "gpt") {
		cfg.Model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeminiClient{
		client: client,
		cfg:    cfg,
		logger: logger.With(zap.String("provider", "gemini"), zap.String("model", cfg.Model)),
	}, nil
}

// Complete sends the prompt with system as the system instruction.
func (c *GeminiClient) Complete(ctx context.Context, system, user string) (string, error) {
	gc := &genai.GenerateContentConfig{}
	if strings.TrimSpace(system) != "" {
		gc.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if c.cfg.MaxTokens > 0 {
		gc.MaxOutputTokens = int32(c.cfg.MaxTokens)
	}

	result, err := c.client.Models.GenerateContent(ctx, c.cfg.Model, genai.Text(user), gc)
	if err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}
	text := result.Text()
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
