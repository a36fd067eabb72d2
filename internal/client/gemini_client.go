package client

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/animgen/api/internal/config"
)

// CompletionClient defines the interface for text completion calls
type CompletionClient interface {
	Complete(ctx context.Context, prompt, apiKey string) (string, error)
	IsConfigured() bool
}

// GeminiClient calls the Gemini API through the official SDK.
// A fresh SDK client is constructed per call so that a caller-supplied
// API key can override the platform key on any individual request.
type GeminiClient struct {
	baseURL string
	apiKey  string
	model   string
}

// NewGeminiClient creates a new Gemini completion client
func NewGeminiClient(cfg *config.GeminiConfig) *GeminiClient {
	return &GeminiClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
	}
}

// Complete sends a single-turn generation request. apiKey overrides the
// platform key when non-empty.
func (c *GeminiClient) Complete(ctx context.Context, prompt, apiKey string) (string, error) {
	key := apiKey
	if key == "" {
		key = c.apiKey
	}
	if key == "" {
		return "", fmt.Errorf("gemini API key is missing")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: c.baseURL,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create gemini client: %w", err)
	}

	resp, err := client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("gemini generation failed: %w", err)
	}

	text := ""
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			text += part.Text
		}
	}
	return text, nil
}

// IsConfigured returns true if a platform API key is available
func (c *GeminiClient) IsConfigured() bool {
	return c.apiKey != ""
}
