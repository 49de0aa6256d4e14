package ai

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/matthewjhunter/newsai/internal/storage"
)

// Embedded default prompts
//
//go:embed prompts/summary.txt
var defaultSummaryPrompt string

//go:embed prompts/tags.txt
var defaultTagsPrompt string

//go:embed prompts/chat.txt
var defaultChatPrompt string

//go:embed prompts/chat_no_article.txt
var defaultChatNoArticlePrompt string

// PromptType represents the type of AI prompt
type PromptType string

const (
	PromptTypeSummary       PromptType = "summary"
	PromptTypeTags          PromptType = "tags"
	PromptTypeChat          PromptType = "chat"
	PromptTypeChatNoArticle PromptType = "chat_no_article"
)

// PromptData is the value prompt templates are executed against.
type PromptData struct {
	Text        string
	ArticleText string
	Question    string
}

// PromptLoader resolves prompts with 3-tier fallback:
// request override -> config file -> embedded default.
type PromptLoader struct {
	config *storage.Config
}

// NewPromptLoader creates a new prompt loader. A nil config uses only the
// embedded defaults.
func NewPromptLoader(config *storage.Config) *PromptLoader {
	return &PromptLoader{config: config}
}

// Default returns the configured or embedded prompt for promptType.
func (pl *PromptLoader) Default(promptType PromptType) (string, error) {
	if pl.config != nil {
		var configPrompt string
		switch promptType {
		case PromptTypeSummary:
			configPrompt = pl.config.Prompts.Summary
		case PromptTypeTags:
			configPrompt = pl.config.Prompts.Tags
		case PromptTypeChat:
			configPrompt = pl.config.Prompts.Chat
		case PromptTypeChatNoArticle:
			configPrompt = pl.config.Prompts.ChatNoArticle
		}
		if strings.TrimSpace(configPrompt) != "" {
			return NormalizeTemplate(configPrompt), nil
		}
	}

	switch promptType {
	case PromptTypeSummary:
		return defaultSummaryPrompt, nil
	case PromptTypeTags:
		return defaultTagsPrompt, nil
	case PromptTypeChat:
		return defaultChatPrompt, nil
	case PromptTypeChatNoArticle:
		return defaultChatNoArticlePrompt, nil
	default:
		return "", fmt.Errorf("unknown prompt type: %s", promptType)
	}
}

// Resolve returns override when it is non-blank, otherwise the default.
func (pl *PromptLoader) Resolve(promptType PromptType, override string) (string, error) {
	if strings.TrimSpace(override) != "" {
		return NormalizeTemplate(override), nil
	}
	return pl.Default(promptType)
}

// Temperature gets the temperature for a prompt type with fallback to
// built-in defaults.
func (pl *PromptLoader) Temperature(promptType PromptType) float64 {
	if pl.config != nil {
		var configTemp float64
		switch promptType {
		case PromptTypeSummary:
			configTemp = pl.config.Temperatures.Summary
		case PromptTypeTags:
			configTemp = pl.config.Temperatures.Tags
		case PromptTypeChat, PromptTypeChatNoArticle:
			configTemp = pl.config.Temperatures.Chat
		}
		if configTemp > 0 {
			return configTemp
		}
	}

	switch promptType {
	case PromptTypeSummary:
		return 0.3
	case PromptTypeTags:
		return 0.2
	default:
		return 0.5
	}
}

var placeholderReplacer = strings.NewReplacer(
	"{text}", "{{.Text}}",
	"{article_text}", "{{.ArticleText}}",
	"{question}", "{{.Question}}",
)

// NormalizeTemplate rewrites single-brace placeholders ({text},
// {article_text}, {question}) into template actions so older prompt strings
// keep working.
func NormalizeTemplate(prompt string) string {
	return placeholderReplacer.Replace(prompt)
}

// ExecutePrompt renders a prompt template with the given data
func ExecutePrompt(promptTemplate string, data PromptData) (string, error) {
	tmpl, err := template.New("prompt").Option("missingkey=zero").Parse(promptTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse prompt template: %w", err)
	}

	var buf strings.Builder
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute prompt template: %w", err)
	}

	return buf.String(), nil
}
