package feeds

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/matthewjhunter/newsai/internal/storage"
)

const (
	userAgent          = "newsai/1.0"
	maxFeedBody        = 10 << 20
	DefaultMaxPerFeed  = 15
	defaultFeedTimeout = 30 * time.Second
)

// Store is the subset of storage.Store the fetcher and scheduler use.
type Store interface {
	AddFeed(url, name string, intervalMinutes int) (int64, error)
	ListFeeds() ([]storage.FeedSource, error)
	MarkFeedFetched(id int64, at time.Time, etag, lastModified, fetchErr string) error
	InsertArticle(a *storage.Article) (int64, bool, error)
}

type Fetcher struct {
	parser     *gofeed.Parser
	client     *http.Client
	store      Store
	maxPerFeed int
	timeout    time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

// OPML structures for parsing
type OPML struct {
	XMLName xml.Name `xml:"opml"`
	Body    OPMLBody `xml:"body"`
}

type OPMLBody struct {
	Outlines []OPMLOutline `xml:"outline"`
}

type OPMLOutline struct {
	Text     string        `xml:"text,attr"`
	Title    string        `xml:"title,attr"`
	Type     string        `xml:"type,attr"`
	XMLURL   string        `xml:"xmlUrl,attr"`
	HTMLURL  string        `xml:"htmlUrl,attr"`
	Outlines []OPMLOutline `xml:"outline"`
}

// NewFetcher creates a new feed fetcher. maxPerFeed caps how many entries
// are taken from each feed per fetch; timeout bounds each feed request.
func NewFetcher(store Store, maxPerFeed int, timeout time.Duration, logger *zap.Logger) *Fetcher {
	if maxPerFeed <= 0 {
		maxPerFeed = DefaultMaxPerFeed
	}
	if timeout <= 0 {
		timeout = defaultFeedTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	parser := gofeed.NewParser()
	parser.UserAgent = userAgent
	return &Fetcher{
		parser:     parser,
		client:     &http.Client{},
		store:      store,
		maxPerFeed: maxPerFeed,
		timeout:    timeout,
		logger:     logger,
		now:        time.Now,
	}
}

// FetchResult holds the outcome of a conditional feed fetch.
type FetchResult struct {
	Feed         *gofeed.Feed // nil when NotModified is true
	ETag         string       // ETag from response (empty if absent)
	LastModified string       // Last-Modified from response (empty if absent)
	NotModified  bool         // true when server returned 304
}

// FetchFeed fetches and parses a single feed using conditional HTTP requests.
// If the feed has stored ETag or Last-Modified values, they are sent as
// If-None-Match / If-Modified-Since headers. A 304 response skips parsing
// entirely and returns NotModified=true.
func (f *Fetcher) FetchFeed(ctx context.Context, feed storage.FeedSource) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", feed.URL, err)
	}
	req.Header.Set("User-Agent", userAgent)
	if feed.ETag != "" {
		req.Header.Set("If-None-Match", feed.ETag)
	}
	if feed.LastModified != "" {
		req.Header.Set("If-Modified-Since", feed.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed %s: %w", feed.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return &FetchResult{NotModified: true}, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed %s returned status %d", feed.URL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read feed %s: %w", feed.URL, err)
	}

	parsed, err := f.parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed %s: %w", feed.URL, err)
	}

	return &FetchResult{
		Feed:         parsed,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}, nil
}

// StoreArticles inserts up to maxPerFeed entries from parsed, in feed order.
// URLs already present are skipped. Returns the number of new articles.
func (f *Fetcher) StoreArticles(feed storage.FeedSource, parsed *gofeed.Feed) (int, error) {
	publisher := strings.TrimSpace(parsed.Title)
	if publisher == "" {
		publisher = feed.Name
	}

	items := parsed.Items
	if len(items) > f.maxPerFeed {
		items = items[:f.maxPerFeed]
	}

	feedID := feed.ID
	stored := 0
	var errs []error
	for _, item := range items {
		link := strings.TrimSpace(item.Link)
		if link == "" {
			continue
		}

		title := strings.TrimSpace(item.Title)
		if title == "" {
			title = link
		}
		article := &storage.Article{
			FeedID:    &feedID,
			URL:       link,
			Title:     title,
			Publisher: publisher,
		}
		if article.Publisher == "" {
			article.Publisher = HostName(link)
		}

		// Parse published date
		if item.PublishedParsed != nil {
			article.PublishedAt = item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			article.PublishedAt = item.UpdatedParsed
		}

		// Store article (ignore duplicates)
		_, inserted, err := f.store.InsertArticle(article)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if inserted {
			stored++
		}
	}

	return stored, errors.Join(errs...)
}

// FetchOne fetches one feed and stores its new entries. The fetch attempt is
// recorded on the feed even when it fails, so a broken feed waits a full
// interval before the next try.
func (f *Fetcher) FetchOne(ctx context.Context, feed storage.FeedSource) (int, error) {
	feedCtx, cancel := context.WithTimeout(ctx, f.timeout)
	result, err := f.FetchFeed(feedCtx, feed)
	cancel()

	if err != nil {
		if markErr := f.store.MarkFeedFetched(feed.ID, f.now(), "", "", err.Error()); markErr != nil {
			f.logger.Warn("failed to record feed error", zap.String("feed_url", feed.URL), zap.Error(markErr))
		}
		return 0, err
	}

	stored := 0
	if !result.NotModified {
		stored, err = f.StoreArticles(feed, result.Feed)
		if err != nil {
			f.logger.Warn("error storing articles", zap.String("feed_url", feed.URL), zap.Error(err))
		}
	}

	// Persist cache headers for next conditional request
	if err := f.store.MarkFeedFetched(feed.ID, f.now(), result.ETag, result.LastModified, ""); err != nil {
		f.logger.Warn("failed to update last_fetched", zap.String("feed_url", feed.URL), zap.Error(err))
	}
	return stored, nil
}

// ImportOPML registers every outline that carries a feed URL. Feeds that
// are already registered are skipped. Returns the number of feeds added.
func (f *Fetcher) ImportOPML(opmlPath string, intervalMinutes int) (int, error) {
	data, err := os.ReadFile(opmlPath)
	if err != nil {
		return 0, fmt.Errorf("failed to read OPML file: %w", err)
	}

	var opml OPML
	if err := xml.Unmarshal(data, &opml); err != nil {
		return 0, fmt.Errorf("failed to parse OPML: %w", err)
	}

	// Process outlines recursively
	added := 0
	var processOutlines func(outlines []OPMLOutline)
	processOutlines = func(outlines []OPMLOutline) {
		for _, outline := range outlines {
			if outline.XMLURL != "" {
				title := outline.Title
				if title == "" {
					title = outline.Text
				}
				if title == "" {
					title = HostName(outline.XMLURL)
				}

				_, err := f.store.AddFeed(outline.XMLURL, title, intervalMinutes)
				switch {
				case errors.Is(err, storage.ErrDuplicate):
					f.logger.Debug("feed already registered", zap.String("feed_url", outline.XMLURL))
				case err != nil:
					f.logger.Warn("failed to add feed", zap.String("feed_url", outline.XMLURL), zap.Error(err))
				default:
					added++
				}
			}

			// Process nested outlines (folders)
			if len(outline.Outlines) > 0 {
				processOutlines(outline.Outlines)
			}
		}
	}

	processOutlines(opml.Body.Outlines)
	f.logger.Info("imported OPML", zap.String("path", opmlPath), zap.Int("added", added))
	return added, nil
}

// HostName returns the URL's host without a leading "www.", or the input
// when it does not parse.
func HostName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}
