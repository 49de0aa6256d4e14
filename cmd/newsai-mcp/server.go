package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/matthewjhunter/newsai"
)

const version = "0.2.0"

// server is the newsai MCP server.
type server struct {
	engine *newsai.Engine
	logger *zap.Logger
	mcp    *mcp.Server
}

func newServer(engine *newsai.Engine, logger *zap.Logger) *server {
	s := &server{
		engine: engine,
		logger: logger,
		mcp:    mcp.NewServer(&mcp.Implementation{Name: "newsai", Version: version}, nil),
	}
	s.registerTools()
	return s
}

// run serves tools over stdio until the client disconnects or ctx ends.
func (s *server) run(ctx context.Context) error {
	s.logger.Info("newsai-mcp starting", zap.String("version", version))
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

func (s *server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_articles",
		Description: "List one page of articles, newest first. Articles on the page are scraped, summarized and tagged first when needed. Filters: feed IDs, tag IDs (all must match) and a keyword.",
	}, s.listArticles)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_article",
		Description: "Get one article with its summary and tags, processing it first if needed.",
	}, s.getArticle)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "article_chat",
		Description: "Ask a question about an article. The previous conversation about the article is included. Successful answers are stored.",
	}, s.articleChat)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "chat_history",
		Description: "Get the stored conversation about an article, oldest first.",
	}, s.chatHistory)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "regenerate_summary",
		Description: "Force a new summary for an article, re-scraping it first if its content is missing or broken. Optionally replaces its tags too.",
	}, s.regenerateSummary)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_feeds",
		Description: "List registered feed sources with their fetch interval and last fetch status.",
	}, s.listFeeds)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "add_feed",
		Description: "Register a new RSS/Atom feed. Fails if the URL is already registered.",
	}, s.addFeed)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "delete_feed",
		Description: "Delete a feed source and all of its articles.",
	}, s.deleteFeed)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "refresh_feeds",
		Description: "Fetch every due feed now and report how many new articles arrived. Returns started=false when a refresh was already running.",
	}, s.refreshFeeds)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_tags",
		Description: "List all tags with the number of articles carrying each. Tag IDs can be passed to list_articles.",
	}, s.listTags)
}

// --- tool handlers ---

func (s *server) listArticles(ctx context.Context, _ *mcp.CallToolRequest, in listArticlesInput) (*mcp.CallToolResult, any, error) {
	req := newsai.PageRequest{
		Page:     deref(in.Page),
		PageSize: deref(in.PageSize),
		FeedIDs:  in.FeedIDs,
		TagIDs:   in.TagIDs,
		Keyword:  deref(in.Keyword),
	}
	page, err := s.engine.ListArticles(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	s.logger.Debug("list_articles", zap.Int("page", page.RequestedPage), zap.Int("results", len(page.Articles)))
	return jsonResult(page)
}

func (s *server) getArticle(ctx context.Context, _ *mcp.CallToolRequest, in articleIDInput) (*mcp.CallToolResult, any, error) {
	if in.ArticleID <= 0 {
		return nil, nil, fmt.Errorf("article_id parameter is required")
	}
	article, err := s.engine.GetArticle(ctx, in.ArticleID)
	if err != nil {
		return nil, nil, err
	}
	return jsonResult(article)
}

func (s *server) articleChat(ctx context.Context, _ *mcp.CallToolRequest, in chatInput) (*mcp.CallToolResult, any, error) {
	if in.ArticleID <= 0 {
		return nil, nil, fmt.Errorf("article_id parameter is required")
	}
	resp, err := s.engine.Chat(ctx, in.ArticleID, newsai.ChatRequest{
		Question: in.Question,
		Prompt:   deref(in.Prompt),
	})
	if err != nil {
		return nil, nil, err
	}
	return jsonResult(resp)
}

func (s *server) chatHistory(_ context.Context, _ *mcp.CallToolRequest, in articleIDInput) (*mcp.CallToolResult, any, error) {
	turns, err := s.engine.ChatHistory(in.ArticleID)
	if err != nil {
		return nil, nil, err
	}
	return jsonResult(turns)
}

func (s *server) regenerateSummary(ctx context.Context, _ *mcp.CallToolRequest, in regenerateInput) (*mcp.CallToolResult, any, error) {
	if in.ArticleID <= 0 {
		return nil, nil, fmt.Errorf("article_id parameter is required")
	}
	article, err := s.engine.RegenerateSummary(ctx, in.ArticleID, newsai.RegenerateRequest{
		Prompt:         deref(in.Prompt),
		RegenerateTags: deref(in.RegenerateTags),
	})
	if err != nil {
		return nil, nil, err
	}
	return jsonResult(article)
}

func (s *server) listFeeds(_ context.Context, _ *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, any, error) {
	feeds, err := s.engine.Feeds()
	if err != nil {
		return nil, nil, err
	}
	return jsonResult(feeds)
}

func (s *server) addFeed(_ context.Context, _ *mcp.CallToolRequest, in feedAddInput) (*mcp.CallToolResult, any, error) {
	feed, err := s.engine.AddFeed(newsai.AddFeedRequest{
		URL:                  in.URL,
		Name:                 deref(in.Name),
		FetchIntervalMinutes: in.FetchIntervalMinutes,
	})
	if err != nil {
		return nil, nil, err
	}
	s.logger.Info("feed added", zap.Int64("feed_id", feed.ID), zap.String("feed_url", feed.URL))
	return jsonResult(feed)
}

func (s *server) deleteFeed(_ context.Context, _ *mcp.CallToolRequest, in feedIDInput) (*mcp.CallToolResult, any, error) {
	if err := s.engine.DeleteFeed(in.FeedID); err != nil {
		return nil, nil, err
	}
	return textResult("Deleted feed %d", in.FeedID), nil, nil
}

func (s *server) refreshFeeds(ctx context.Context, _ *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, any, error) {
	result, err := s.engine.RefreshFeeds(ctx)
	if err != nil {
		return nil, nil, err
	}
	return jsonResult(result)
}

func (s *server) listTags(_ context.Context, _ *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, any, error) {
	tags, err := s.engine.Tags()
	if err != nil {
		return nil, nil, err
	}
	return jsonResult(tags)
}

// --- MCP response helpers ---

func textResult(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
	}
}

func jsonResult(data any) (*mcp.CallToolResult, any, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal response: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(b)}},
	}, nil, nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
