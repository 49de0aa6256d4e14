package storage

import (
	"context"
	"time"

	"github.com/matthewjhunter/newsai/internal/content"
)

// Store defines the storage interface for newsai's data layer.
type Store interface {
	Close() error

	// Feed sources
	AddFeed(url, name string, intervalMinutes int) (int64, error)
	GetFeed(id int64) (*FeedSource, error)
	ListFeeds() ([]FeedSource, error)
	UpdateFeed(id int64, name *string, intervalMinutes *int) error
	DeleteFeed(id int64) error
	MarkFeedFetched(id int64, at time.Time, etag, lastModified, fetchErr string) error
	FeedNames(ids []int64) ([]string, error)

	// Articles
	InsertArticle(a *Article) (int64, bool, error)
	GetArticle(id int64) (*Article, error)
	GetArticleState(id int64) (*ArticleState, error)
	SaveScrapeResult(id int64, text, markup string) error
	SaveScrapeFault(id int64, fault *content.Fault) error
	QueryArticles(q ArticleQuery) (*ArticlePage, error)
	DeleteArticlesOlderThan(cutoff time.Time) (int64, error)

	// Summaries
	LatestSummary(articleID int64) (*Summary, error)
	ReplaceSummary(ctx context.Context, sum *Summary) error

	// Tags
	ArticleTags(articleID int64) ([]Tag, error)
	TagsForArticles(ids []int64) (map[int64][]Tag, error)
	ReplaceTags(ctx context.Context, articleID int64, names []string, onlyIfEmpty bool) ([]Tag, bool, error)
	ListTags() ([]TagCount, error)
	TagNames(ids []int64) ([]string, error)

	// Chat
	AddChatTurn(turn *ChatTurn) (int64, error)
	ChatTurns(articleID int64) ([]ChatTurn, error)
}

var _ Store = (*SQLiteStore)(nil)
