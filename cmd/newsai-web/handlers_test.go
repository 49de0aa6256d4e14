package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/matthewjhunter/newsai"
	"github.com/matthewjhunter/newsai/internal/ai"
	"github.com/matthewjhunter/newsai/internal/auth"
	"github.com/matthewjhunter/newsai/internal/scrape"
	"github.com/matthewjhunter/newsai/internal/storage"
)

const testSecret = "test-secret"

var articleText = strings.Repeat("Lawmakers passed the transit bill after a week of talks. ", 4)

type stubScraper struct{}

func (stubScraper) Scrape(_ context.Context, url string) (*scrape.Page, error) {
	return &scrape.Page{Text: articleText + url, Markup: "<p>" + articleText + "</p><script>x()</script>"}, nil
}

type stubGenerator struct{}

func (stubGenerator) Summarize(_ context.Context, _, prompt string) (ai.Result, error) {
	return ai.Result{Text: "* Transit bill passed", Prompt: prompt, Model: "stub"}, nil
}

func (stubGenerator) ExtractTags(_ context.Context, _, prompt string) ([]string, ai.Result, error) {
	return []string{"Transit"}, ai.Result{Prompt: prompt, Model: "stub"}, nil
}

func (stubGenerator) Answer(_ context.Context, _, question string, _ []ai.Turn, prompt string) (ai.Result, error) {
	return ai.Result{Text: "Answer to: " + question, Prompt: prompt, Model: "stub"}, nil
}

// testFixtures holds a router over a fresh engine plus the seeded article IDs.
type testFixtures struct {
	router     http.Handler
	engine     *newsai.Engine
	articleIDs []int64
}

func newTestFixtures(t *testing.T, articles int) *testFixtures {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	engine, err := newsai.NewEngine(newsai.EngineConfig{
		DBPath:    dbPath,
		Scraper:   stubScraper{},
		Generator: stubGenerator{},
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	// We need the store directly to seed data.
	st, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}

	var ids []int64
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < articles; i++ {
		pub := base.Add(-time.Duration(i) * time.Hour)
		id, _, err := st.InsertArticle(&storage.Article{
			URL:         fmt.Sprintf("https://example.com/news/%d", i),
			Title:       fmt.Sprintf("Article %d", i),
			Publisher:   "Example News",
			PublishedAt: &pub,
		})
		if err != nil {
			t.Fatalf("InsertArticle: %v", err)
		}
		ids = append(ids, id)
	}

	t.Cleanup(func() {
		engine.Close()
		st.Close()
	})

	return &testFixtures{
		router:     newRouter(engine, testSecret, zap.NewNop()),
		engine:     engine,
		articleIDs: ids,
	}
}

// request is a convenience helper for making test HTTP requests.
func request(t *testing.T, handler http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func adminHeaders(t *testing.T) map[string]string {
	t.Helper()
	tok, err := auth.NewToken(testSecret, "tests", time.Hour, time.Now())
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + tok}
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("status: got %d, want %d (body %s)", rr.Code, want, rr.Body.String())
	}
}

// --- Tests ---

func TestHandleArticleList(t *testing.T) {
	f := newTestFixtures(t, 3)

	rr := request(t, f.router, "POST", "/articles:list", `{"page":1,"page_size":2}`, nil)
	expectStatus(t, rr, http.StatusOK)

	page := decode[newsai.PageResponse](t, rr)
	if page.TotalArticles != 3 || page.TotalPages != 2 || page.RequestedPage != 1 {
		t.Errorf("unexpected paging: %+v", page)
	}
	if page.SearchSource != "All Articles" {
		t.Errorf("search source: got %q", page.SearchSource)
	}
	if len(page.Articles) != 2 {
		t.Fatalf("expected 2 articles, got %d", len(page.Articles))
	}
	first := page.Articles[0]
	if first.Title != "Article 0" {
		t.Errorf("newest first: got %q", first.Title)
	}
	if first.Summary == nil || *first.Summary != "* Transit bill passed" {
		t.Errorf("summary: got %v", first.Summary)
	}
	if len(first.Tags) != 1 || first.Tags[0].Name != "transit" {
		t.Errorf("tags: got %+v", first.Tags)
	}
}

func TestHandleArticleList_EmptyBodyUsesDefaults(t *testing.T) {
	f := newTestFixtures(t, 1)

	rr := request(t, f.router, "POST", "/articles:list", "", nil)
	expectStatus(t, rr, http.StatusOK)
	page := decode[newsai.PageResponse](t, rr)
	if page.PageSize != 6 {
		t.Errorf("default page size: got %d", page.PageSize)
	}
}

func TestHandleArticleList_BadRequests(t *testing.T) {
	f := newTestFixtures(t, 0)

	rr := request(t, f.router, "POST", "/articles:list", `{"page":`, nil)
	expectStatus(t, rr, http.StatusBadRequest)

	rr = request(t, f.router, "POST", "/articles:list", `{"page_size":5000}`, nil)
	expectStatus(t, rr, http.StatusBadRequest)
	if body := decode[errorBody](t, rr); !strings.Contains(body.Error, "page_size") {
		t.Errorf("error body: got %q", body.Error)
	}
}

func TestHandleArticle(t *testing.T) {
	f := newTestFixtures(t, 1)
	id := f.articleIDs[0]

	rr := request(t, f.router, "GET", fmt.Sprintf("/articles/%d", id), "", nil)
	expectStatus(t, rr, http.StatusOK)
	article := decode[newsai.ArticleResult](t, rr)
	if article.ID != id || article.Summary == nil {
		t.Errorf("unexpected article: %+v", article)
	}
	if !strings.Contains(article.SummaryHTML, "<li>Transit bill passed</li>") {
		t.Errorf("summary_html: got %q", article.SummaryHTML)
	}

	rr = request(t, f.router, "GET", "/articles/9999", "", nil)
	expectStatus(t, rr, http.StatusNotFound)

	rr = request(t, f.router, "GET", "/articles/abc", "", nil)
	expectStatus(t, rr, http.StatusBadRequest)
}

func TestHandleArticleContent(t *testing.T) {
	f := newTestFixtures(t, 1)
	path := fmt.Sprintf("/articles/%d/content", f.articleIDs[0])

	rr := request(t, f.router, "GET", path, "", nil)
	expectStatus(t, rr, http.StatusOK)
	before := decode[newsai.ArticleContent](t, rr)
	if before.Content != nil || before.ErrorMessage == nil {
		t.Fatalf("unscraped article should report missing content: %+v", before)
	}

	// Reconciling scrapes the page.
	expectStatus(t, request(t, f.router, "GET", fmt.Sprintf("/articles/%d", f.articleIDs[0]), "", nil), http.StatusOK)

	rr = request(t, f.router, "GET", path, "", nil)
	expectStatus(t, rr, http.StatusOK)
	after := decode[newsai.ArticleContent](t, rr)
	if after.Content == nil {
		t.Fatal("expected sanitized content after scrape")
	}
	if strings.Contains(*after.Content, "<script") {
		t.Errorf("content not sanitized: %s", *after.Content)
	}
}

func TestHandleRegenerateSummary(t *testing.T) {
	f := newTestFixtures(t, 1)
	id := f.articleIDs[0]

	rr := request(t, f.router, "POST", fmt.Sprintf("/articles/%d:regenerate-summary", id), `{"regenerate_tags":true}`, nil)
	expectStatus(t, rr, http.StatusOK)
	article := decode[newsai.ArticleResult](t, rr)
	if article.Summary == nil || len(article.Tags) != 1 {
		t.Errorf("expected summary and tags: %+v", article)
	}

	rr = request(t, f.router, "POST", fmt.Sprintf("/articles/%d:explode", id), "", nil)
	expectStatus(t, rr, http.StatusNotFound)

	rr = request(t, f.router, "POST", "/articles/x:regenerate-summary", "", nil)
	expectStatus(t, rr, http.StatusBadRequest)

	rr = request(t, f.router, "POST", "/articles/9999:regenerate-summary", "", nil)
	expectStatus(t, rr, http.StatusNotFound)
}

func TestHandleChat(t *testing.T) {
	f := newTestFixtures(t, 1)
	path := fmt.Sprintf("/articles/%d/chat", f.articleIDs[0])

	rr := request(t, f.router, "POST", path, `{"question":"Who voted?"}`, nil)
	expectStatus(t, rr, http.StatusOK)
	resp := decode[newsai.ChatResponse](t, rr)
	if resp.Answer != "Answer to: Who voted?" || resp.ErrorMessage != nil {
		t.Errorf("unexpected chat response: %+v", resp)
	}
	if resp.Turn == nil || resp.Turn.ID == 0 {
		t.Errorf("expected stored turn, got %+v", resp.Turn)
	}

	rr = request(t, f.router, "GET", path, "", nil)
	expectStatus(t, rr, http.StatusOK)
	turns := decode[[]newsai.ChatTurn](t, rr)
	if len(turns) != 1 || turns[0].Question != "Who voted?" {
		t.Errorf("history: got %+v", turns)
	}

	rr = request(t, f.router, "POST", path, `{"question":"  "}`, nil)
	expectStatus(t, rr, http.StatusBadRequest)

	rr = request(t, f.router, "GET", "/articles/9999/chat", "", nil)
	expectStatus(t, rr, http.StatusNotFound)
}

func TestFeedLifecycle(t *testing.T) {
	f := newTestFixtures(t, 0)
	admin := adminHeaders(t)

	rr := request(t, f.router, "POST", "/feeds", `{"url":"https://www.example.org/rss"}`, nil)
	expectStatus(t, rr, http.StatusUnauthorized)

	rr = request(t, f.router, "POST", "/feeds", `{"url":"https://www.example.org/rss"}`, admin)
	expectStatus(t, rr, http.StatusCreated)
	feed := decode[newsai.Feed](t, rr)
	if feed.Name != "example.org" || feed.FetchIntervalMinutes != 60 {
		t.Errorf("defaults not applied: %+v", feed)
	}

	rr = request(t, f.router, "POST", "/feeds", `{"url":"https://www.example.org/rss"}`, admin)
	expectStatus(t, rr, http.StatusConflict)

	rr = request(t, f.router, "POST", "/feeds", `{"url":"ftp://example.org/rss"}`, admin)
	expectStatus(t, rr, http.StatusBadRequest)

	feedPath := fmt.Sprintf("/feeds/%d", feed.ID)
	rr = request(t, f.router, "GET", feedPath, "", nil)
	expectStatus(t, rr, http.StatusOK)

	rr = request(t, f.router, "PUT", feedPath, `{"fetch_interval_minutes":0}`, admin)
	expectStatus(t, rr, http.StatusBadRequest)

	rr = request(t, f.router, "PUT", feedPath, `{"name":"Example","fetch_interval_minutes":15}`, admin)
	expectStatus(t, rr, http.StatusOK)
	updated := decode[newsai.Feed](t, rr)
	if updated.Name != "Example" || updated.FetchIntervalMinutes != 15 {
		t.Errorf("update not applied: %+v", updated)
	}

	rr = request(t, f.router, "GET", "/feeds", "", nil)
	expectStatus(t, rr, http.StatusOK)
	if list := decode[[]newsai.Feed](t, rr); len(list) != 1 {
		t.Errorf("expected 1 feed, got %d", len(list))
	}

	rr = request(t, f.router, "DELETE", feedPath, "", admin)
	expectStatus(t, rr, http.StatusNoContent)

	rr = request(t, f.router, "GET", feedPath, "", nil)
	expectStatus(t, rr, http.StatusNotFound)

	rr = request(t, f.router, "DELETE", feedPath, "", admin)
	expectStatus(t, rr, http.StatusNotFound)
}

func TestHandleRefresh(t *testing.T) {
	f := newTestFixtures(t, 0)

	rr := request(t, f.router, "POST", "/feeds:refresh", "", nil)
	expectStatus(t, rr, http.StatusUnauthorized)

	rr = request(t, f.router, "POST", "/feeds:refresh", "", adminHeaders(t))
	expectStatus(t, rr, http.StatusAccepted)
	if _, ok := decode[map[string]bool](t, rr)["started"]; !ok {
		t.Errorf("missing started field: %s", rr.Body.String())
	}
}

func TestHandleCleanup(t *testing.T) {
	f := newTestFixtures(t, 2)
	admin := adminHeaders(t)

	rr := request(t, f.router, "DELETE", "/articles:cleanup", "", admin)
	expectStatus(t, rr, http.StatusBadRequest)

	rr = request(t, f.router, "DELETE", "/articles:cleanup?older_than_days=0", "", admin)
	expectStatus(t, rr, http.StatusBadRequest)

	rr = request(t, f.router, "DELETE", "/articles:cleanup?older_than_days=30", "", admin)
	expectStatus(t, rr, http.StatusOK)
	if got := decode[newsai.CleanupResult](t, rr); got.Deleted != 0 {
		t.Errorf("fresh articles should survive, deleted %d", got.Deleted)
	}
}

func TestHandleConfigAndTags(t *testing.T) {
	f := newTestFixtures(t, 1)

	rr := request(t, f.router, "GET", "/config", "", nil)
	expectStatus(t, rr, http.StatusOK)
	cfg := decode[newsai.InitialConfig](t, rr)
	if cfg.DefaultPageSize != 6 || cfg.DefaultSummaryPrompt == "" {
		t.Errorf("unexpected config: %+v", cfg)
	}

	expectStatus(t, request(t, f.router, "GET", fmt.Sprintf("/articles/%d", f.articleIDs[0]), "", nil), http.StatusOK)

	rr = request(t, f.router, "GET", "/tags", "", nil)
	expectStatus(t, rr, http.StatusOK)
	tags := decode[[]newsai.TagInfo](t, rr)
	if len(tags) != 1 || tags[0].Name != "transit" || tags[0].ArticleCount != 1 {
		t.Errorf("tags: got %+v", tags)
	}
}

func TestGeneratorUnavailableIs503(t *testing.T) {
	cfg := storage.DefaultConfig()
	cfg.LLM.OllamaBaseURL = "::not a url"
	engine, err := newsai.NewEngine(newsai.EngineConfig{
		Config:  cfg,
		DBPath:  filepath.Join(t.TempDir(), "test.db"),
		Scraper: stubScraper{},
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer engine.Close()
	router := newRouter(engine, "", zap.NewNop())

	rr := request(t, router, "POST", "/articles:list", "", nil)
	expectStatus(t, rr, http.StatusServiceUnavailable)

	// Without a secret, admin routes are open and feeds still work.
	rr = request(t, router, "POST", "/feeds", `{"url":"https://example.net/feed"}`, nil)
	expectStatus(t, rr, http.StatusCreated)
}

func TestMiddleware(t *testing.T) {
	logger := zap.NewNop()
	panicky := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })
	handler := withRequestID(logging(logger)(recovery(logger)(panicky)))

	rr := request(t, handler, "GET", "/", "", nil)
	expectStatus(t, rr, http.StatusInternalServerError)
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected generated request id")
	}

	const id = "5f0c6f5e-9d1c-4c37-9b6e-2f4d1a0b7c11"
	rr = request(t, handler, "GET", "/", "", map[string]string{"X-Request-ID": id})
	if got := rr.Header().Get("X-Request-ID"); got != id {
		t.Errorf("request id not echoed: got %q", got)
	}
}
