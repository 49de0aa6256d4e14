package newsai

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matthewjhunter/newsai/internal/ai"
	"github.com/matthewjhunter/newsai/internal/content"
	"github.com/matthewjhunter/newsai/internal/feeds"
	"github.com/matthewjhunter/newsai/internal/freshness"
	"github.com/matthewjhunter/newsai/internal/reconcile"
	"github.com/matthewjhunter/newsai/internal/render"
	"github.com/matthewjhunter/newsai/internal/scrape"
	"github.com/matthewjhunter/newsai/internal/storage"
)

const msgChatSaveFailed = "(Failed to save chat history)"

// Engine is the public API for newsai. It wraps the store, the feed
// scheduler, the reconciler and the model collaborators.
type Engine struct {
	store      *storage.SQLiteStore
	config     *storage.Config
	fetcher    *feeds.Fetcher
	scheduler  *feeds.Scheduler
	reconciler *reconcile.Reconciler
	prefetcher *reconcile.Prefetcher
	gen        ai.Generator
	prompts    *ai.PromptLoader
	genErr     error // why no generator is available; nil when one is
	logger     *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

// NewEngine opens the database and wires the collaborators. A model backend
// that cannot be configured is not fatal: the engine starts, and
// generation-dependent calls return ErrGeneratorUnavailable.
func NewEngine(ec EngineConfig) (*Engine, error) {
	cfg := storage.DefaultConfig()
	if ec.Config != nil {
		c := *ec.Config
		cfg = &c
	}
	if ec.DBPath != "" {
		cfg.Database.Path = ec.DBPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := ec.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if dir := filepath.Dir(cfg.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	store, err := storage.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	scraper := ec.Scraper
	if scraper == nil {
		s := scrape.New(seconds(cfg.Scraper.TimeoutSeconds), cfg.Scraper.UserAgent)
		s.SetMaxBodyBytes(cfg.Scraper.MaxBodyBytes)
		scraper = s
	}

	var genErr error
	gen := ec.Generator
	if gen == nil {
		backend, err := ai.NewBackend(context.Background(), cfg)
		if err != nil {
			genErr = err
			logger.Warn("generation backend unavailable", zap.String("provider", cfg.LLM.Provider), zap.Error(err))
		}
		gen = ai.NewProcessor(backend, cfg)
	}

	rec := reconcile.New(store, scraper, gen, reconcile.Config{
		MinTextLength:   cfg.Articles.MinTextLength,
		Concurrency:     cfg.Articles.BatchConcurrency,
		ScrapeTimeout:   seconds(cfg.Scraper.TimeoutSeconds),
		GenerateTimeout: seconds(cfg.LLM.TimeoutSeconds),
	}, logger.Named("reconcile"))

	fetcher := feeds.NewFetcher(store, cfg.Feeds.MaxArticlesPerFeed, seconds(cfg.Feeds.TimeoutSeconds), logger.Named("feeds"))

	return &Engine{
		store:      store,
		config:     cfg,
		fetcher:    fetcher,
		scheduler:  feeds.NewScheduler(fetcher, store, logger.Named("scheduler")),
		reconciler: rec,
		prefetcher: reconcile.NewPrefetcher(rec, cfg.Articles.PrefetchQueue, logger.Named("prefetch")),
		gen:        gen,
		prompts:    ai.NewPromptLoader(cfg),
		genErr:     genErr,
		logger:     logger,
	}, nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Config returns the effective configuration.
func (e *Engine) Config() *storage.Config {
	return e.config
}

func (e *Engine) requireGenerator() error {
	if e.genErr != nil {
		return fmt.Errorf("%w: %v", ErrGeneratorUnavailable, e.genErr)
	}
	return nil
}

// Articles

// ListArticles serves one page. Articles on the page that are missing
// content, a summary or tags are reconciled before returning; the next page
// is queued for background reconciliation.
func (e *Engine) ListArticles(ctx context.Context, req PageRequest) (*PageResponse, error) {
	if err := e.requireGenerator(); err != nil {
		return nil, err
	}
	q, err := e.pageQuery(req)
	if err != nil {
		return nil, err
	}

	page, err := e.store.QueryArticles(q)
	if err != nil {
		return nil, storeErr("query articles", err)
	}
	source, err := e.searchSource(req)
	if err != nil {
		return nil, err
	}

	opts := reconcile.Options{SummaryPrompt: req.SummaryPrompt, TagPrompt: req.TagPrompt}
	results, err := e.reconcilePage(ctx, page.Articles, opts)
	if err != nil {
		return nil, err
	}

	if page.Page < page.TotalPages {
		e.prefetch(q, page.Page+1, opts)
	}

	return &PageResponse{
		SearchSource:  source,
		RequestedPage: page.Page,
		PageSize:      page.PageSize,
		TotalArticles: page.Total,
		TotalPages:    page.TotalPages,
		Articles:      results,
	}, nil
}

func (e *Engine) pageQuery(req PageRequest) (storage.ArticleQuery, error) {
	size := req.PageSize
	if size == 0 {
		size = e.config.Articles.PageSize
	}
	if size < 0 {
		return storage.ArticleQuery{}, invalid("page_size", "must be positive, got %d", size)
	}
	if size > e.config.Articles.MaxPageSize {
		return storage.ArticleQuery{}, invalid("page_size", "must be at most %d, got %d", e.config.Articles.MaxPageSize, size)
	}
	return storage.ArticleQuery{
		FeedIDs:  req.FeedIDs,
		TagIDs:   req.TagIDs,
		Keyword:  strings.TrimSpace(req.Keyword),
		Page:     req.Page,
		PageSize: size,
	}, nil
}

// searchSource describes the active filters, e.g.
// "Feeds: Example & Tags: ai & Keyword: 'chips'".
func (e *Engine) searchSource(req PageRequest) (string, error) {
	var parts []string
	if len(req.FeedIDs) > 0 {
		names, err := e.store.FeedNames(req.FeedIDs)
		if err != nil {
			return "", storeErr("feed names", err)
		}
		parts = append(parts, "Feeds: "+joinOr(names, "Selected Feeds"))
	}
	if len(req.TagIDs) > 0 {
		names, err := e.store.TagNames(req.TagIDs)
		if err != nil {
			return "", storeErr("tag names", err)
		}
		parts = append(parts, "Tags: "+joinOr(names, "Selected Tags"))
	}
	if kw := strings.TrimSpace(req.Keyword); kw != "" {
		parts = append(parts, fmt.Sprintf("Keyword: '%s'", kw))
	}
	if len(parts) == 0 {
		return "All Articles", nil
	}
	return strings.Join(parts, " & "), nil
}

func joinOr(names []string, fallback string) string {
	if len(names) == 0 {
		return fallback
	}
	return strings.Join(names, ", ")
}

// reconcilePage brings the articles that need work up to date and builds a
// result for every article, in page order.
func (e *Engine) reconcilePage(ctx context.Context, articles []storage.Article, opts reconcile.Options) ([]ArticleResult, error) {
	results := make([]ArticleResult, len(articles))
	var pending []int64
	slot := make(map[int64]int, len(articles))

	ids := make([]int64, len(articles))
	for i, a := range articles {
		ids[i] = a.ID
	}
	tags, err := e.store.TagsForArticles(ids)
	if err != nil {
		return nil, storeErr("load tags", err)
	}

	for i, a := range articles {
		summary, err := e.store.LatestSummary(a.ID)
		if err != nil {
			return nil, storeErr("load summary", err)
		}
		desc := e.reconciler.Describe(&storage.ArticleState{Article: a, Summary: summary, Tags: tags[a.ID]})
		if desc.Needs.Scrape || desc.Needs.Summary || desc.Needs.Tags {
			pending = append(pending, a.ID)
			slot[a.ID] = i
		}
		results[i] = e.articleResult(desc)
	}

	for _, out := range e.reconciler.ReconcileBatch(ctx, pending, opts) {
		i := slot[out.ArticleID]
		if out.Err != nil {
			msg := "Processing failed: " + out.Err.Error()
			results[i].ErrorMessage = &msg
			continue
		}
		results[i] = e.articleResult(out.Result)
	}
	return results, nil
}

func (e *Engine) prefetch(q storage.ArticleQuery, page int, opts reconcile.Options) {
	q.Page = page
	next, err := e.store.QueryArticles(q)
	if err != nil {
		e.logger.Warn("failed to load next page for prefetch", zap.Int("page", page), zap.Error(err))
		return
	}
	ids := make([]int64, 0, len(next.Articles))
	for _, a := range next.Articles {
		ids = append(ids, a.ID)
	}
	if !e.prefetcher.Enqueue(ids, opts) {
		e.logger.Debug("prefetch skipped", zap.Int("page", page))
	}
}

// GetArticle reconciles one article and returns it.
func (e *Engine) GetArticle(ctx context.Context, id int64) (*ArticleResult, error) {
	if err := e.requireGenerator(); err != nil {
		return nil, err
	}
	res, err := e.reconciler.ReconcileOne(ctx, id, reconcile.Options{})
	if err != nil {
		return nil, storeErr("reconcile article", err)
	}
	out := e.articleResult(res)
	return &out, nil
}

// ArticleContent returns the scraped markup, sanitized for display.
func (e *Engine) ArticleContent(id int64) (*ArticleContent, error) {
	a, err := e.store.GetArticle(id)
	if err != nil {
		return nil, storeErr("get article", err)
	}
	out := &ArticleContent{ArticleID: a.ID, OriginalURL: a.URL, Title: a.Title}
	switch {
	case a.ScrapeFault != nil:
		msg := a.ScrapeFault.Display()
		out.ErrorMessage = &msg
	case a.ScrapedMarkup == nil || *a.ScrapedMarkup == "":
		msg := "Full HTML content not available for this article."
		out.ErrorMessage = &msg
	default:
		html := render.Sanitize(*a.ScrapedMarkup)
		out.Content = &html
	}
	return out, nil
}

// RegenerateSummary forces a new summary, scraping again first when the
// stored content is missing, faulted or suspiciously short. A failed scrape
// returns ErrScrapeFailed.
func (e *Engine) RegenerateSummary(ctx context.Context, id int64, req RegenerateRequest) (*ArticleResult, error) {
	if err := e.requireGenerator(); err != nil {
		return nil, err
	}
	res, err := e.reconciler.Regenerate(ctx, id, reconcile.RegenerateOptions{
		Prompt:         req.Prompt,
		RegenerateTags: req.RegenerateTags,
	})
	if errors.Is(err, reconcile.ErrScrapeFailed) {
		var fault *content.Fault
		if errors.As(err, &fault) {
			return nil, fmt.Errorf("%w: %s", ErrScrapeFailed, fault.Message)
		}
		return nil, ErrScrapeFailed
	}
	if err != nil {
		return nil, storeErr("regenerate summary", err)
	}
	out := e.articleResult(res)
	return &out, nil
}

func (e *Engine) articleResult(res *reconcile.Result) ArticleResult {
	a := res.Article
	out := ArticleResult{
		ID:            a.ID,
		Title:         a.Title,
		URL:           a.URL,
		Publisher:     a.Publisher,
		PublishedDate: a.PublishedAt,
		Tags:          make([]Tag, 0, len(res.Tags)),
	}
	if a.FeedName != "" {
		out.Publisher = a.FeedName
	}
	if a.FeedURL != "" {
		u := a.FeedURL
		out.SourceFeedURL = &u
	}
	if res.Summary != nil && res.Summary.Fault == nil {
		text := res.Summary.Text
		out.Summary = &text
		out.SummaryHTML = render.SummaryHTML(text)
	}
	for _, t := range res.Tags {
		out.Tags = append(out.Tags, Tag{ID: t.ID, Name: t.Name})
	}
	if res.DisplayError != "" {
		msg := res.DisplayError
		out.ErrorMessage = &msg
	}
	return out
}

// Chat

// Chat answers a question about an article. Missing or faulted content is
// scraped again first; without usable text the question is answered without
// article context. Only successful answers are stored.
func (e *Engine) Chat(ctx context.Context, articleID int64, req ChatRequest) (*ChatResponse, error) {
	if err := e.requireGenerator(); err != nil {
		return nil, err
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, invalid("question", "must not be empty")
	}

	st, fault, err := e.reconciler.EnsureText(ctx, articleID)
	if err != nil {
		return nil, storeErr("load article", err)
	}
	var errMsgs []string
	if fault != nil {
		errMsgs = append(errMsgs, fault.Display())
	}

	text := ""
	if freshness.UsableText(reconcile.StateOf(st)) {
		text = *st.Article.ScrapedText
	}

	history, err := e.chatHistory(articleID, req.History)
	if err != nil {
		return nil, err
	}

	resp := &ChatResponse{ArticleID: articleID, Question: question}
	res, err := e.gen.Answer(ctx, text, question, history, req.Prompt)
	if errors.Is(err, ai.ErrUnavailable) {
		return nil, fmt.Errorf("%w: %v", ErrGeneratorUnavailable, err)
	}
	if err != nil {
		e.logger.Warn("chat generation failed", zap.Int64("article_id", articleID), zap.Error(err))
		errMsgs = append(errMsgs, content.NewFault(content.FaultGeneration, err).Display())
		resp.ErrorMessage = joinErrors(errMsgs)
		return resp, nil
	}
	resp.Answer = res.Text

	turn := &storage.ChatTurn{
		ArticleID: articleID,
		Question:  question,
		Answer:    res.Text,
		Prompt:    res.Prompt,
		Model:     res.Model,
	}
	if _, err := e.store.AddChatTurn(turn); err != nil {
		e.logger.Error("failed to save chat turn", zap.Int64("article_id", articleID), zap.Error(err))
		errMsgs = append(errMsgs, msgChatSaveFailed)
	} else {
		t := chatTurnFromInternal(*turn)
		resp.Turn = &t
	}
	resp.ErrorMessage = joinErrors(errMsgs)
	return resp, nil
}

// chatHistory converts request messages into turns, falling back to the
// stored conversation when the request carries none.
func (e *Engine) chatHistory(articleID int64, msgs []ChatMessage) ([]ai.Turn, error) {
	if len(msgs) > 0 {
		return turnsFromMessages(msgs), nil
	}
	stored, err := e.store.ChatTurns(articleID)
	if err != nil {
		return nil, storeErr("load chat history", err)
	}
	turns := make([]ai.Turn, 0, len(stored))
	for _, t := range stored {
		turns = append(turns, ai.Turn{Question: t.Question, Answer: t.Answer})
	}
	return turns, nil
}

// turnsFromMessages pairs each user message with the assistant reply that
// follows it. A trailing unanswered question is dropped.
func turnsFromMessages(msgs []ChatMessage) []ai.Turn {
	var turns []ai.Turn
	var pending *string
	for _, m := range msgs {
		switch strings.ToLower(m.Role) {
		case "user":
			q := m.Content
			pending = &q
		case "assistant", "ai", "model":
			if pending != nil {
				turns = append(turns, ai.Turn{Question: *pending, Answer: m.Content})
				pending = nil
			}
		}
	}
	return turns
}

func joinErrors(msgs []string) *string {
	if len(msgs) == 0 {
		return nil
	}
	s := strings.Join(msgs, " ")
	return &s
}

// ChatHistory returns the stored conversation for an article, oldest first.
func (e *Engine) ChatHistory(articleID int64) ([]ChatTurn, error) {
	if _, err := e.store.GetArticle(articleID); err != nil {
		return nil, storeErr("get article", err)
	}
	turns, err := e.store.ChatTurns(articleID)
	if err != nil {
		return nil, storeErr("load chat history", err)
	}
	out := make([]ChatTurn, 0, len(turns))
	for _, t := range turns {
		out = append(out, chatTurnFromInternal(t))
	}
	return out, nil
}

func chatTurnFromInternal(t storage.ChatTurn) ChatTurn {
	return ChatTurn{
		ID:        t.ID,
		ArticleID: t.ArticleID,
		Question:  t.Question,
		Answer:    t.Answer,
		Model:     t.Model,
		CreatedAt: t.CreatedAt,
	}
}

// Feeds

// Feeds lists every registered feed source.
func (e *Engine) Feeds() ([]Feed, error) {
	ff, err := e.store.ListFeeds()
	if err != nil {
		return nil, storeErr("list feeds", err)
	}
	return feedsFromInternal(ff), nil
}

// AddFeed registers a feed. The name defaults to the URL's host and the
// interval to the configured default.
func (e *Engine) AddFeed(req AddFeedRequest) (*Feed, error) {
	rawURL := strings.TrimSpace(req.URL)
	if err := validateFeedURL(rawURL); err != nil {
		return nil, err
	}
	interval := e.config.Feeds.DefaultIntervalMinutes
	if req.FetchIntervalMinutes != nil {
		if *req.FetchIntervalMinutes <= 0 {
			return nil, invalid("fetch_interval_minutes", "must be positive, got %d", *req.FetchIntervalMinutes)
		}
		interval = *req.FetchIntervalMinutes
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = feeds.HostName(rawURL)
	}

	id, err := e.store.AddFeed(rawURL, name, interval)
	if err != nil {
		return nil, storeErr("add feed", err)
	}
	e.logger.Info("feed added", zap.Int64("feed_id", id), zap.String("feed_url", rawURL))
	return e.Feed(id)
}

func validateFeedURL(rawURL string) error {
	if rawURL == "" {
		return invalid("url", "must not be empty")
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return invalid("url", "must be an http or https URL, got %q", rawURL)
	}
	if feeds.HostName(rawURL) == rawURL {
		return invalid("url", "has no host: %q", rawURL)
	}
	return nil
}

// UpdateFeed renames a feed or changes its interval.
func (e *Engine) UpdateFeed(id int64, req UpdateFeedRequest) (*Feed, error) {
	if req.FetchIntervalMinutes != nil && *req.FetchIntervalMinutes <= 0 {
		return nil, invalid("fetch_interval_minutes", "must be positive, got %d", *req.FetchIntervalMinutes)
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		return nil, invalid("name", "must not be blank")
	}
	if err := e.store.UpdateFeed(id, req.Name, req.FetchIntervalMinutes); err != nil {
		return nil, storeErr("update feed", err)
	}
	return e.Feed(id)
}

// DeleteFeed removes a feed and its articles.
func (e *Engine) DeleteFeed(id int64) error {
	if err := e.store.DeleteFeed(id); err != nil {
		return storeErr("delete feed", err)
	}
	e.logger.Info("feed deleted", zap.Int64("feed_id", id))
	return nil
}

// Feed returns one registered feed.
func (e *Engine) Feed(id int64) (*Feed, error) {
	f, err := e.store.GetFeed(id)
	if err != nil {
		return nil, storeErr("get feed", err)
	}
	out := feedFromInternal(*f)
	return &out, nil
}

// ImportOPML registers the feeds listed in an OPML file.
func (e *Engine) ImportOPML(path string) (int, error) {
	return e.fetcher.ImportOPML(path, e.config.Feeds.DefaultIntervalMinutes)
}

// RegisterDefaultFeeds adds the configured feed URLs, skipping ones already
// registered. Returns how many were added.
func (e *Engine) RegisterDefaultFeeds() (int, error) {
	added := 0
	for _, u := range e.config.Feeds.URLs {
		_, err := e.store.AddFeed(u, feeds.HostName(u), e.config.Feeds.DefaultIntervalMinutes)
		switch {
		case errors.Is(err, storage.ErrDuplicate):
		case err != nil:
			return added, storeErr("add default feed", err)
		default:
			added++
		}
	}
	return added, nil
}

// RefreshFeeds fetches every due feed and waits for the run to finish.
// Started is false when another run was already in progress.
func (e *Engine) RefreshFeeds(ctx context.Context) (*RefreshResult, error) {
	res, err := e.scheduler.RunDue(ctx)
	if err != nil {
		return nil, err
	}
	return &RefreshResult{
		Started:     res.Started,
		FeedsDue:    res.FeedsDue,
		FeedsFailed: res.FeedsFailed,
		NewArticles: res.NewArticles,
	}, nil
}

// TriggerRefresh starts a refresh in the background. It reports false when
// one is already running.
func (e *Engine) TriggerRefresh() bool {
	return e.scheduler.Trigger()
}

// StartScheduler registers the default feeds, refreshes once and then keeps
// refreshing on the configured schedule until Close.
func (e *Engine) StartScheduler() error {
	if n, err := e.RegisterDefaultFeeds(); err != nil {
		return err
	} else if n > 0 {
		e.logger.Info("registered default feeds", zap.Int("added", n))
	}
	spec := feeds.ScheduleSpec(e.config.Feeds.Schedule, e.config.Feeds.DefaultIntervalMinutes)
	return e.scheduler.Start(spec)
}

// Tags and maintenance

// Tags lists every tag with its article count.
func (e *Engine) Tags() ([]TagInfo, error) {
	tags, err := e.store.ListTags()
	if err != nil {
		return nil, storeErr("list tags", err)
	}
	out := make([]TagInfo, 0, len(tags))
	for _, t := range tags {
		out = append(out, TagInfo{ID: t.ID, Name: t.Name, ArticleCount: t.Articles})
	}
	return out, nil
}

// Cleanup deletes articles created more than days ago.
func (e *Engine) Cleanup(days int) (*CleanupResult, error) {
	if days < 1 {
		return nil, invalid("older_than_days", "must be at least 1, got %d", days)
	}
	cutoff := time.Now().AddDate(0, 0, -days)
	n, err := e.store.DeleteArticlesOlderThan(cutoff)
	if err != nil {
		return nil, storeErr("delete old articles", err)
	}
	e.logger.Info("old articles deleted", zap.Int("older_than_days", days), zap.Int64("deleted", n))
	return &CleanupResult{Deleted: n}, nil
}

// InitialConfig reports defaults and the registered feeds.
func (e *Engine) InitialConfig() (*InitialConfig, error) {
	ff, err := e.Feeds()
	if err != nil {
		return nil, err
	}
	out := &InitialConfig{
		DefaultFeeds:                append([]string{}, e.config.Feeds.URLs...),
		Feeds:                       ff,
		DefaultPageSize:             e.config.Articles.PageSize,
		DefaultFetchIntervalMinutes: e.config.Feeds.DefaultIntervalMinutes,
	}
	prompts := []struct {
		dst *string
		pt  ai.PromptType
	}{
		{&out.DefaultSummaryPrompt, ai.PromptTypeSummary},
		{&out.DefaultChatPrompt, ai.PromptTypeChat},
		{&out.DefaultTagPrompt, ai.PromptTypeTags},
	}
	for _, p := range prompts {
		if *p.dst, err = e.prompts.Default(p.pt); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Close stops background work and closes the database.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.scheduler.Stop()
		e.prefetcher.Close()
		e.closeErr = e.store.Close()
	})
	return e.closeErr
}

func feedFromInternal(f storage.FeedSource) Feed {
	return Feed{
		ID:                   f.ID,
		URL:                  f.URL,
		Name:                 f.Name,
		FetchIntervalMinutes: f.FetchIntervalMinutes,
		LastFetchedAt:        f.LastFetchedAt,
		LastError:            f.LastError,
		CreatedAt:            f.CreatedAt,
	}
}

func feedsFromInternal(ff []storage.FeedSource) []Feed {
	out := make([]Feed, 0, len(ff))
	for _, f := range ff {
		out = append(out, feedFromInternal(f))
	}
	return out
}
