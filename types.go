package newsai

import (
	"time"

	"go.uber.org/zap"

	"github.com/matthewjhunter/newsai/internal/ai"
	"github.com/matthewjhunter/newsai/internal/scrape"
	"github.com/matthewjhunter/newsai/internal/storage"
)

// EngineConfig configures the newsai engine.
type EngineConfig struct {
	Config *storage.Config // nil means storage.DefaultConfig()
	DBPath string          // overrides Config.Database.Path when set

	// Collaborators; nil means build from Config.
	Scraper   scrape.Scraper
	Generator ai.Generator

	Logger *zap.Logger
}

// Tag is a normalized tag name.
type Tag struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// TagInfo is a tag with the number of articles carrying it.
type TagInfo struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	ArticleCount int    `json:"article_count"`
}

// ArticleResult is an article as served to clients.
type ArticleResult struct {
	ID            int64      `json:"id"`
	Title         string     `json:"title"`
	URL           string     `json:"url"`
	Summary       *string    `json:"summary"`
	SummaryHTML   string     `json:"summary_html,omitempty"`
	Publisher     string     `json:"publisher,omitempty"`
	PublishedDate *time.Time `json:"published_date"`
	SourceFeedURL *string    `json:"source_feed_url"`
	Tags          []Tag      `json:"tags"`
	ErrorMessage  *string    `json:"error_message"`
}

// ArticleContent is the sanitized scraped markup of an article.
type ArticleContent struct {
	ArticleID    int64   `json:"article_id"`
	OriginalURL  string  `json:"original_url"`
	Title        string  `json:"title"`
	Content      *string `json:"sanitized_html_content"`
	ErrorMessage *string `json:"error_message"`
}

// Feed is a registered feed source.
type Feed struct {
	ID                   int64      `json:"id"`
	URL                  string     `json:"url"`
	Name                 string     `json:"name"`
	FetchIntervalMinutes int        `json:"fetch_interval_minutes"`
	LastFetchedAt        *time.Time `json:"last_fetched_at,omitempty"`
	LastError            string     `json:"last_error,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}

// AddFeedRequest registers a feed. Name and interval are optional.
type AddFeedRequest struct {
	URL                  string `json:"url"`
	Name                 string `json:"name,omitempty"`
	FetchIntervalMinutes *int   `json:"fetch_interval_minutes,omitempty"`
}

// UpdateFeedRequest changes a feed's settings. Nil fields are left alone.
type UpdateFeedRequest struct {
	Name                 *string `json:"name,omitempty"`
	FetchIntervalMinutes *int    `json:"fetch_interval_minutes,omitempty"`
}

// PageRequest asks for one page of articles. Tag filters use AND semantics.
type PageRequest struct {
	Page          int     `json:"page"`
	PageSize      int     `json:"page_size"`
	FeedIDs       []int64 `json:"feed_ids,omitempty"`
	TagIDs        []int64 `json:"tag_ids,omitempty"`
	Keyword       string  `json:"keyword,omitempty"`
	SummaryPrompt string  `json:"summary_prompt,omitempty"`
	TagPrompt     string  `json:"tag_prompt,omitempty"`
}

// PageResponse is one page of reconciled articles.
type PageResponse struct {
	SearchSource  string          `json:"search_source"`
	RequestedPage int             `json:"requested_page"` // after clamping
	PageSize      int             `json:"page_size"`
	TotalArticles int             `json:"total_articles_available"`
	TotalPages    int             `json:"total_pages"`
	Articles      []ArticleResult `json:"processed_articles_on_page"`
}

// RegenerateRequest controls a forced summary regeneration.
type RegenerateRequest struct {
	Prompt         string `json:"prompt,omitempty"`
	RegenerateTags bool   `json:"regenerate_tags"`
}

// ChatMessage is one side of a conversation, role "user" or "assistant".
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a question about an article. When History is empty the
// stored conversation for the article is used.
type ChatRequest struct {
	Question string        `json:"question"`
	History  []ChatMessage `json:"history,omitempty"`
	Prompt   string        `json:"prompt,omitempty"`
}

// ChatResponse carries the answer, or an error message when generation
// failed. A failed answer is not stored.
type ChatResponse struct {
	ArticleID    int64     `json:"article_id"`
	Question     string    `json:"question"`
	Answer       string    `json:"answer"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	Turn         *ChatTurn `json:"new_chat_history_item,omitempty"`
}

// ChatTurn is a stored question and answer.
type ChatTurn struct {
	ID        int64     `json:"id"`
	ArticleID int64     `json:"article_id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Model     string    `json:"model_used,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// InitialConfig is what a client needs to render its first screen.
type InitialConfig struct {
	DefaultFeeds                []string `json:"default_rss_feeds"`
	Feeds                       []Feed   `json:"all_db_feed_sources"`
	DefaultPageSize             int      `json:"default_articles_per_page"`
	DefaultSummaryPrompt        string   `json:"default_summary_prompt"`
	DefaultChatPrompt           string   `json:"default_chat_prompt"`
	DefaultTagPrompt            string   `json:"default_tag_generation_prompt"`
	DefaultFetchIntervalMinutes int      `json:"default_rss_fetch_interval_minutes"`
}

// RefreshResult summarizes a feed refresh.
type RefreshResult struct {
	Started     bool `json:"started"` // false when a refresh was already running
	FeedsDue    int  `json:"feeds_due"`
	FeedsFailed int  `json:"feeds_failed"`
	NewArticles int  `json:"new_articles"`
}

// CleanupResult reports a retention purge.
type CleanupResult struct {
	Deleted int64 `json:"deleted"`
}
