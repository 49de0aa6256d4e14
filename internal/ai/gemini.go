package ai

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiBackend calls the Gemini API.
type GeminiBackend struct {
	client *genai.Client
}

// NewGeminiBackend creates a Gemini backend. An empty key yields ErrUnavailable.
func NewGeminiBackend(ctx context.Context, apiKey string) (*GeminiBackend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key not set: %w", ErrUnavailable)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiBackend{client: client}, nil
}

func (b *GeminiBackend) Name() string { return "gemini" }

func (b *GeminiBackend) Complete(ctx context.Context, req Request) (string, error) {
	contents := make([]*genai.Content, 0, 2*len(req.History)+1)
	for _, turn := range req.History {
		contents = append(contents,
			genai.NewContentFromText(turn.Question, genai.RoleUser),
			genai.NewContentFromText(turn.Answer, genai.RoleModel),
		)
	}
	contents = append(contents, genai.NewContentFromText(req.Prompt, genai.RoleUser))

	resp, err := b.client.Models.GenerateContent(ctx, req.Model, contents, &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	})
	if err != nil {
		return "", fmt.Errorf("gemini generate failed: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("gemini returned an empty response")
	}
	return text, nil
}
