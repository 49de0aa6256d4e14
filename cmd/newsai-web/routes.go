package main

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/matthewjhunter/newsai"
)

// newRouter sets up all routes using Go 1.22+ enhanced routing. Routes that
// change feeds or delete data require an admin bearer token.
func newRouter(engine *newsai.Engine, adminSecret string, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()

	h := &handlers{engine: engine, logger: logger}
	admin := requireAdmin(adminSecret, logger)

	mux.HandleFunc("GET /config", h.handleInitialConfig)
	mux.HandleFunc("GET /tags", h.handleTags)

	// Articles
	mux.HandleFunc("POST /articles:list", h.handleArticleList)
	mux.Handle("DELETE /articles:cleanup", admin(http.HandlerFunc(h.handleCleanup)))
	mux.HandleFunc("GET /articles/{id}", h.handleArticle)
	mux.HandleFunc("GET /articles/{id}/content", h.handleArticleContent)
	mux.HandleFunc("GET /articles/{id}/chat", h.handleChatHistory)
	mux.HandleFunc("POST /articles/{id}/chat", h.handleChat)
	// "{id}:regenerate-summary" is a custom method on the article
	mux.HandleFunc("POST /articles/{target}", h.handleArticleAction)

	// Feeds
	mux.HandleFunc("GET /feeds", h.handleFeedList)
	mux.HandleFunc("GET /feeds/{id}", h.handleFeed)
	mux.Handle("POST /feeds", admin(http.HandlerFunc(h.handleFeedAdd)))
	mux.Handle("PUT /feeds/{id}", admin(http.HandlerFunc(h.handleFeedUpdate)))
	mux.Handle("DELETE /feeds/{id}", admin(http.HandlerFunc(h.handleFeedDelete)))
	mux.Handle("POST /feeds:refresh", admin(http.HandlerFunc(h.handleRefresh)))

	return mux
}
