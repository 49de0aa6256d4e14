package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Database struct {
		Path string `yaml:"path" toml:"path"`
	} `yaml:"database" toml:"database"`

	LLM struct {
		Provider       string `yaml:"provider" toml:"provider"` // "ollama" or "gemini"
		OllamaBaseURL  string `yaml:"ollama_base_url" toml:"ollama_base_url"`
		GeminiAPIKey   string `yaml:"gemini_api_key,omitempty" toml:"gemini_api_key"`
		SummaryModel   string `yaml:"summary_model" toml:"summary_model"`
		ChatModel      string `yaml:"chat_model" toml:"chat_model"`
		TagModel       string `yaml:"tag_model" toml:"tag_model"`
		TimeoutSeconds int    `yaml:"timeout_seconds" toml:"timeout_seconds"`
	} `yaml:"llm" toml:"llm"`

	Feeds struct {
		URLs                   []string `yaml:"urls" toml:"urls"`
		DefaultIntervalMinutes int      `yaml:"default_interval_minutes" toml:"default_interval_minutes"`
		MaxArticlesPerFeed     int      `yaml:"max_articles_per_feed" toml:"max_articles_per_feed"`
		TimeoutSeconds         int      `yaml:"timeout_seconds" toml:"timeout_seconds"`
		// Schedule is a cron spec for the global refresh trigger. Empty means
		// every DefaultIntervalMinutes.
		Schedule string `yaml:"schedule,omitempty" toml:"schedule"`
	} `yaml:"feeds" toml:"feeds"`

	Scraper struct {
		TimeoutSeconds int    `yaml:"timeout_seconds" toml:"timeout_seconds"`
		UserAgent      string `yaml:"user_agent" toml:"user_agent"`
		MaxBodyBytes   int64  `yaml:"max_body_bytes" toml:"max_body_bytes"`
	} `yaml:"scraper" toml:"scraper"`

	Articles struct {
		PageSize         int `yaml:"page_size" toml:"page_size"`
		MaxPageSize      int `yaml:"max_page_size" toml:"max_page_size"`
		MinTextLength    int `yaml:"min_text_length" toml:"min_text_length"`
		ChatContextChars int `yaml:"chat_context_chars" toml:"chat_context_chars"`
		BatchConcurrency int `yaml:"batch_concurrency" toml:"batch_concurrency"`
		PrefetchQueue    int `yaml:"prefetch_queue" toml:"prefetch_queue"`
	} `yaml:"articles" toml:"articles"`

	Prompts struct {
		Summary       string `yaml:"summary,omitempty" toml:"summary"`
		Chat          string `yaml:"chat,omitempty" toml:"chat"`
		ChatNoArticle string `yaml:"chat_no_article,omitempty" toml:"chat_no_article"`
		Tags          string `yaml:"tags,omitempty" toml:"tags"`
	} `yaml:"prompts,omitempty" toml:"prompts"`

	Temperatures struct {
		Summary float64 `yaml:"summary" toml:"summary"`
		Chat    float64 `yaml:"chat" toml:"chat"`
		Tags    float64 `yaml:"tags" toml:"tags"`
	} `yaml:"temperatures" toml:"temperatures"`

	Server struct {
		Addr        string `yaml:"addr" toml:"addr"`
		AdminSecret string `yaml:"admin_secret,omitempty" toml:"admin_secret"`
	} `yaml:"server" toml:"server"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Database.Path = "./data/newsai.db"
	cfg.LLM.Provider = "ollama"
	cfg.LLM.OllamaBaseURL = "http://localhost:11434"
	cfg.LLM.SummaryModel = "llama3"
	cfg.LLM.ChatModel = "llama3"
	cfg.LLM.TagModel = "llama3"
	cfg.LLM.TimeoutSeconds = 120
	cfg.Feeds.DefaultIntervalMinutes = 60
	cfg.Feeds.MaxArticlesPerFeed = 15
	cfg.Feeds.TimeoutSeconds = 30
	cfg.Scraper.TimeoutSeconds = 20
	cfg.Scraper.UserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	cfg.Scraper.MaxBodyBytes = 5 << 20
	cfg.Articles.PageSize = 6
	cfg.Articles.MaxPageSize = 100
	cfg.Articles.MinTextLength = 100
	cfg.Articles.ChatContextChars = 15000
	cfg.Articles.BatchConcurrency = 3
	cfg.Articles.PrefetchQueue = 16
	cfg.Temperatures.Summary = 0.3
	cfg.Temperatures.Chat = 0.5
	cfg.Temperatures.Tags = 0.2
	cfg.Server.Addr = ":8080"
	return cfg
}

// LoadConfig reads a YAML or TOML (by extension) config file over the
// defaults. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables onto cfg. Malformed integers are
// ignored and the existing value kept.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	setString := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setString(&cfg.Database.Path, "DATABASE_PATH")
	setString(&cfg.LLM.Provider, "LLM_PROVIDER")
	setString(&cfg.LLM.OllamaBaseURL, "OLLAMA_HOST")
	setString(&cfg.LLM.GeminiAPIKey, "GEMINI_API_KEY")
	setString(&cfg.LLM.SummaryModel, "DEFAULT_SUMMARY_MODEL_NAME")
	setString(&cfg.LLM.ChatModel, "DEFAULT_CHAT_MODEL_NAME")
	setString(&cfg.LLM.TagModel, "DEFAULT_TAG_MODEL_NAME")
	setInt(&cfg.Articles.PageSize, "DEFAULT_PAGE_SIZE")
	setInt(&cfg.Feeds.MaxArticlesPerFeed, "MAX_ARTICLES_PER_INDIVIDUAL_FEED")
	setInt(&cfg.Feeds.DefaultIntervalMinutes, "DEFAULT_RSS_FETCH_INTERVAL_MINUTES")
	setString(&cfg.Prompts.Summary, "DEFAULT_SUMMARY_PROMPT")
	setString(&cfg.Prompts.Chat, "DEFAULT_CHAT_PROMPT")
	setString(&cfg.Prompts.ChatNoArticle, "CHAT_NO_ARTICLE_PROMPT")
	setString(&cfg.Prompts.Tags, "DEFAULT_TAG_GENERATION_PROMPT")
	setString(&cfg.Server.AdminSecret, "NEWSAI_ADMIN_SECRET")

	if v := getenv("RSS_FEED_URLS"); strings.TrimSpace(v) != "" {
		cfg.Feeds.URLs = ParseFeedURLs(v)
	}
}

// ParseFeedURLs accepts either a JSON array of strings or a comma-separated list.
func ParseFeedURLs(raw string) []string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "[") && strings.HasSuffix(raw, "]") {
		var urls []string
		if err := json.Unmarshal([]byte(raw), &urls); err != nil {
			return nil
		}
		return compact(urls)
	}
	return compact(strings.Split(raw, ","))
}

func compact(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate rejects settings the rest of the system cannot work with.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	switch c.LLM.Provider {
	case "ollama", "gemini":
	default:
		errs = append(errs, fmt.Errorf("llm.provider must be ollama or gemini, got %q", c.LLM.Provider))
	}
	if c.Articles.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("articles.page_size must be positive, got %d", c.Articles.PageSize))
	}
	if c.Articles.MaxPageSize < c.Articles.PageSize {
		errs = append(errs, fmt.Errorf("articles.max_page_size (%d) is below page_size (%d)", c.Articles.MaxPageSize, c.Articles.PageSize))
	}
	if c.Articles.MinTextLength < 0 {
		errs = append(errs, fmt.Errorf("articles.min_text_length must not be negative, got %d", c.Articles.MinTextLength))
	}
	if c.Feeds.DefaultIntervalMinutes <= 0 {
		errs = append(errs, fmt.Errorf("feeds.default_interval_minutes must be positive, got %d", c.Feeds.DefaultIntervalMinutes))
	}
	if c.Feeds.MaxArticlesPerFeed <= 0 {
		errs = append(errs, fmt.Errorf("feeds.max_articles_per_feed must be positive, got %d", c.Feeds.MaxArticlesPerFeed))
	}
	return errors.Join(errs...)
}
