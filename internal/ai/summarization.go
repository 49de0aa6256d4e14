package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/matthewjhunter/newsai/internal/storage"
)

// DefaultChatContextChars bounds how much article text is sent with a question.
const DefaultChatContextChars = 15000

const truncationMarker = " [Content Truncated]"

var errEmptyText = errors.New("no text to process")

// Result is one generation outcome plus the provenance stored with it.
type Result struct {
	Text   string
	Prompt string // the effective prompt template
	Model  string
}

// Generator is the boundary the rest of the service uses for model calls.
type Generator interface {
	Summarize(ctx context.Context, text, promptOverride string) (Result, error)
	ExtractTags(ctx context.Context, text, promptOverride string) ([]string, Result, error)
	Answer(ctx context.Context, articleText, question string, history []Turn, promptOverride string) (Result, error)
}

// Processor implements Generator on top of a Backend.
type Processor struct {
	backend          Backend
	prompts          *PromptLoader
	summaryModel     string
	chatModel        string
	tagModel         string
	chatContextChars int
}

var _ Generator = (*Processor)(nil)

// NewProcessor creates a processor. A nil backend makes every call fail with
// ErrUnavailable.
func NewProcessor(backend Backend, cfg *storage.Config) *Processor {
	if cfg == nil {
		cfg = storage.DefaultConfig()
	}
	p := &Processor{
		backend:          backend,
		prompts:          NewPromptLoader(cfg),
		summaryModel:     cfg.LLM.SummaryModel,
		chatModel:        cfg.LLM.ChatModel,
		tagModel:         cfg.LLM.TagModel,
		chatContextChars: cfg.Articles.ChatContextChars,
	}
	if p.chatContextChars <= 0 {
		p.chatContextChars = DefaultChatContextChars
	}
	return p
}

// NewBackend builds the backend named by cfg.LLM.Provider.
func NewBackend(ctx context.Context, cfg *storage.Config) (Backend, error) {
	timeout := time.Duration(cfg.LLM.TimeoutSeconds) * time.Second
	switch cfg.LLM.Provider {
	case "gemini":
		b, err := NewGeminiBackend(ctx, cfg.LLM.GeminiAPIKey)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "ollama", "":
		b, err := NewOllamaBackend(cfg.LLM.OllamaBaseURL, timeout)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}

// Prompts exposes the loader so callers can report defaults.
func (p *Processor) Prompts() *PromptLoader { return p.prompts }

func (p *Processor) complete(ctx context.Context, promptType PromptType, tmpl string, data PromptData, model string, history []Turn) (Result, error) {
	res := Result{Prompt: tmpl, Model: model}
	if p.backend == nil {
		return res, ErrUnavailable
	}

	prompt, err := ExecutePrompt(tmpl, data)
	if err != nil {
		return res, err
	}

	text, err := p.backend.Complete(ctx, Request{
		Model:       model,
		Prompt:      prompt,
		History:     history,
		Temperature: p.prompts.Temperature(promptType),
	})
	if err != nil {
		return res, err
	}
	res.Text = text
	return res, nil
}

// Summarize generates a summary of text.
func (p *Processor) Summarize(ctx context.Context, text, promptOverride string) (Result, error) {
	tmpl, err := p.prompts.Resolve(PromptTypeSummary, promptOverride)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load summary prompt: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return Result{Prompt: tmpl, Model: p.summaryModel}, errEmptyText
	}

	res, err := p.complete(ctx, PromptTypeSummary, tmpl, PromptData{Text: text}, p.summaryModel, nil)
	if err != nil {
		return res, fmt.Errorf("article summarization failed: %w", err)
	}
	if res.Text == "" {
		return res, fmt.Errorf("article summarization failed: empty response")
	}
	return res, nil
}

// ExtractTags asks the model for a comma-separated tag list and parses it.
// The returned names are raw; the store normalizes them.
func (p *Processor) ExtractTags(ctx context.Context, text, promptOverride string) ([]string, Result, error) {
	tmpl, err := p.prompts.Resolve(PromptTypeTags, promptOverride)
	if err != nil {
		return nil, Result{}, fmt.Errorf("failed to load tag prompt: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, Result{Prompt: tmpl, Model: p.tagModel}, nil
	}

	res, err := p.complete(ctx, PromptTypeTags, tmpl, PromptData{Text: text}, p.tagModel, nil)
	if err != nil {
		return nil, res, fmt.Errorf("tag extraction failed: %w", err)
	}
	return ParseTags(res.Text), res, nil
}

// Answer responds to question using articleText as context. Blank article
// text switches to the no-article prompt.
func (p *Processor) Answer(ctx context.Context, articleText, question string, history []Turn, promptOverride string) (Result, error) {
	if strings.TrimSpace(question) == "" {
		return Result{Model: p.chatModel}, fmt.Errorf("no question provided")
	}

	promptType := PromptTypeChat
	if strings.TrimSpace(articleText) == "" {
		promptType = PromptTypeChatNoArticle
		promptOverride = ""
	}
	tmpl, err := p.prompts.Resolve(promptType, promptOverride)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load chat prompt: %w", err)
	}

	data := PromptData{
		ArticleText: TruncateText(articleText, p.chatContextChars),
		Question:    question,
	}
	res, err := p.complete(ctx, promptType, tmpl, data, p.chatModel, history)
	if err != nil {
		return res, fmt.Errorf("chat failed: %w", err)
	}
	return res, nil
}

// TruncateText cuts text to maxChars characters, appending a marker when it
// was shortened.
func TruncateText(text string, maxChars int) string {
	runes := []rune(text)
	if maxChars <= 0 || len(runes) <= maxChars {
		return text
	}
	return string(runes[:maxChars]) + truncationMarker
}

// ParseTags splits a model response into tag names, dropping list
// decoration and duplicates.
func ParseTags(response string) []string {
	response = strings.TrimSpace(response)
	if strings.HasPrefix(strings.ToLower(response), "tags:") {
		response = response[len("tags:"):]
	}

	fields := strings.FieldsFunc(response, func(r rune) bool {
		return r == ',' || r == '\n' || r == ';'
	})

	var tags []string
	seen := make(map[string]bool)
	for _, f := range fields {
		name := strings.Trim(strings.TrimSpace(f), "\"'`*-•#. ")
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if seen[key] {
			continue
		}
		seen[key] = true
		tags = append(tags, name)
	}
	return tags
}
