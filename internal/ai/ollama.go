package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

// ErrUnavailable is returned when no model backend is configured or reachable.
var ErrUnavailable = errors.New("generation backend unavailable")

// Turn is one prior question/answer exchange.
type Turn struct {
	Question string
	Answer   string
}

// Request is a single completion call.
type Request struct {
	Model       string
	Prompt      string
	History     []Turn // earlier exchanges, oldest first
	Temperature float64
}

// Backend is a model provider.
type Backend interface {
	Complete(ctx context.Context, req Request) (string, error)
	Name() string
}

// OllamaBackend talks to a local or remote Ollama server.
type OllamaBackend struct {
	client *api.Client
}

// NewOllamaBackend creates a backend for the Ollama server at baseURL.
func NewOllamaBackend(baseURL string, timeout time.Duration) (*OllamaBackend, error) {
	parsedURL, err := url.Parse(baseURL)
	if err != nil || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid ollama base URL %q", baseURL)
	}
	return &OllamaBackend{
		client: api.NewClient(parsedURL, &http.Client{Timeout: timeout}),
	}, nil
}

func (b *OllamaBackend) Name() string { return "ollama" }

// Complete uses the generate endpoint for single prompts and the chat
// endpoint when there is history to replay.
func (b *OllamaBackend) Complete(ctx context.Context, req Request) (string, error) {
	options := map[string]interface{}{
		"temperature": req.Temperature,
	}

	if len(req.History) == 0 {
		genReq := &api.GenerateRequest{
			Model:   req.Model,
			Prompt:  req.Prompt,
			Stream:  new(bool), // false
			Options: options,
		}

		var fullResponse strings.Builder
		err := b.client.Generate(ctx, genReq, func(resp api.GenerateResponse) error {
			fullResponse.WriteString(resp.Response)
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("ollama generate failed: %w", err)
		}
		return strings.TrimSpace(fullResponse.String()), nil
	}

	messages := make([]api.Message, 0, 2*len(req.History)+1)
	for _, turn := range req.History {
		messages = append(messages,
			api.Message{Role: "user", Content: turn.Question},
			api.Message{Role: "assistant", Content: turn.Answer},
		)
	}
	messages = append(messages, api.Message{Role: "user", Content: req.Prompt})

	chatReq := &api.ChatRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   new(bool), // false
		Options:  options,
	}

	var fullResponse strings.Builder
	err := b.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		fullResponse.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat failed: %w", err)
	}
	return strings.TrimSpace(fullResponse.String()), nil
}
