package reconcile

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewjhunter/newsai/internal/ai"
	"github.com/matthewjhunter/newsai/internal/content"
	"github.com/matthewjhunter/newsai/internal/scrape"
	"github.com/matthewjhunter/newsai/internal/storage"
)

var articleText = strings.Repeat("Lawmakers debated new rules for artificial intelligence. ", 5)

type stubScraper struct {
	mu    sync.Mutex
	calls int
	page  *scrape.Page
	err   error
}

func (s *stubScraper) Scrape(_ context.Context, _ string) (*scrape.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	p := *s.page
	return &p, nil
}

func (s *stubScraper) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubGen struct {
	mu           sync.Mutex
	summaryCalls int
	tagCalls     int
	summaryErr   error
	tags         []string
	tagErr       error
	panicFor     string
	prompts      []string
}

func (g *stubGen) Summarize(_ context.Context, text, prompt string) (ai.Result, error) {
	if g.panicFor != "" && strings.Contains(text, g.panicFor) {
		panic("generator exploded")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.summaryCalls++
	g.prompts = append(g.prompts, prompt)
	res := ai.Result{Prompt: prompt, Model: "stub"}
	if g.summaryErr != nil {
		return res, g.summaryErr
	}
	res.Text = "Summary of article."
	return res, nil
}

func (g *stubGen) ExtractTags(_ context.Context, _, prompt string) ([]string, ai.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tagCalls++
	return g.tags, ai.Result{Prompt: prompt, Model: "stub"}, g.tagErr
}

func (g *stubGen) Answer(context.Context, string, string, []ai.Turn, string) (ai.Result, error) {
	return ai.Result{}, errors.New("not used")
}

func (g *stubGen) counts() (int, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.summaryCalls, g.tagCalls
}

func newTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func addArticle(t *testing.T, store *storage.SQLiteStore, url string) int64 {
	t.Helper()
	id, inserted, err := store.InsertArticle(&storage.Article{URL: url, Title: "Title " + url})
	if err != nil || !inserted {
		t.Fatalf("InsertArticle(%s) failed: inserted=%v err=%v", url, inserted, err)
	}
	return id
}

func goodPage() *scrape.Page {
	return &scrape.Page{Text: articleText, Markup: "<p>" + articleText + "</p>"}
}

func TestReconcileNewArticleEndToEnd(t *testing.T) {
	store := newTestStore(t)
	scraper := &stubScraper{page: goodPage()}
	gen := &stubGen{tags: []string{"AI", " Policy", "ai"}}
	rec := New(store, scraper, gen, Config{}, nil)
	id := addArticle(t, store, "https://example.com/a")

	res, err := rec.ReconcileOne(context.Background(), id, Options{})
	require.NoError(t, err)

	assert.Equal(t, articleText, *res.Article.ScrapedText)
	require.NotNil(t, res.Summary)
	assert.Equal(t, "Summary of article.", res.Summary.Text)
	assert.Nil(t, res.Summary.Fault)
	assert.Equal(t, []string{"ai", "policy"}, tagNames(res.Tags))
	assert.Empty(t, res.DisplayError)

	// A fully processed article needs no further collaborator calls.
	_, err = rec.ReconcileOne(context.Background(), id, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, scraper.count())
	summaries, tagCalls := gen.counts()
	assert.Equal(t, 1, summaries)
	assert.Equal(t, 1, tagCalls)
}

func TestScrapeFailureIsStickyAndSkipsGeneration(t *testing.T) {
	store := newTestStore(t)
	scraper := &stubScraper{err: errors.New("connection refused")}
	gen := &stubGen{tags: []string{"x"}}
	rec := New(store, scraper, gen, Config{}, nil)
	id := addArticle(t, store, "https://example.com/broken")

	res, err := rec.ReconcileOne(context.Background(), id, Options{})
	require.NoError(t, err)
	require.NotNil(t, res.Article.ScrapeFault)
	assert.Equal(t, content.FaultScrape, res.Article.ScrapeFault.Kind)
	assert.Equal(t, "Scraping Error: connection refused", res.DisplayError)
	assert.Nil(t, res.Summary)

	_, err = rec.ReconcileOne(context.Background(), id, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, scraper.count(), "sticky fault must not be retried")
	summaries, tagCalls := gen.counts()
	assert.Zero(t, summaries)
	assert.Zero(t, tagCalls)
}

func TestContentFaultKeepsKind(t *testing.T) {
	store := newTestStore(t)
	scraper := &stubScraper{err: content.Faultf(content.FaultContent, "no readable text found")}
	rec := New(store, scraper, &stubGen{}, Config{}, nil)
	id := addArticle(t, store, "https://example.com/empty")

	res, err := rec.ReconcileOne(context.Background(), id, Options{})
	require.NoError(t, err)
	assert.Equal(t, "Content Error: no readable text found", res.DisplayError)
}

func TestGenerationFailureIsRecordedAndRetried(t *testing.T) {
	store := newTestStore(t)
	gen := &stubGen{summaryErr: errors.New("rate limited"), tags: []string{"ai"}}
	rec := New(store, &stubScraper{page: goodPage()}, gen, Config{}, nil)
	id := addArticle(t, store, "https://example.com/a")

	res, err := rec.ReconcileOne(context.Background(), id, Options{})
	require.NoError(t, err)
	require.NotNil(t, res.Summary)
	require.NotNil(t, res.Summary.Fault)
	assert.Equal(t, content.FaultGeneration, res.Summary.Fault.Kind)
	assert.Contains(t, res.DisplayError, "Generation Error: rate limited")
	assert.Contains(t, res.DisplayError, "Summary needs generation.")
	assert.Equal(t, []string{"ai"}, tagNames(res.Tags), "tag success must not depend on summary success")

	gen.mu.Lock()
	gen.summaryErr = nil
	gen.mu.Unlock()

	res, err = rec.ReconcileOne(context.Background(), id, Options{})
	require.NoError(t, err)
	assert.Nil(t, res.Summary.Fault)
	assert.Equal(t, "Summary of article.", res.Summary.Text)
	assert.Empty(t, res.DisplayError)
}

func TestTagFailureLeavesSummaryIntact(t *testing.T) {
	store := newTestStore(t)
	gen := &stubGen{tagErr: errors.New("bad output")}
	rec := New(store, &stubScraper{page: goodPage()}, gen, Config{}, nil)
	id := addArticle(t, store, "https://example.com/a")

	res, err := rec.ReconcileOne(context.Background(), id, Options{})
	require.NoError(t, err)
	assert.Equal(t, "Summary of article.", res.Summary.Text)
	assert.Empty(t, res.Tags)
	assert.Equal(t, "Tags need generation.", res.DisplayError)
}

func TestPromptOverrideIsStored(t *testing.T) {
	store := newTestStore(t)
	gen := &stubGen{tags: []string{"a"}}
	rec := New(store, &stubScraper{page: goodPage()}, gen, Config{}, nil)
	id := addArticle(t, store, "https://example.com/a")

	res, err := rec.ReconcileOne(context.Background(), id, Options{SummaryPrompt: "Be brief: {{.Text}}"})
	require.NoError(t, err)
	assert.Equal(t, "Be brief: {{.Text}}", res.Summary.Prompt)
	assert.Equal(t, "stub", res.Summary.Model)
}

func TestRegenerate(t *testing.T) {
	store := newTestStore(t)
	scraper := &stubScraper{err: errors.New("timeout")}
	gen := &stubGen{tags: []string{"first"}}
	rec := New(store, scraper, gen, Config{}, nil)
	id := addArticle(t, store, "https://example.com/a")

	_, err := rec.ReconcileOne(context.Background(), id, Options{})
	require.NoError(t, err)

	_, err = rec.Regenerate(context.Background(), id, RegenerateOptions{})
	require.ErrorIs(t, err, ErrScrapeFailed)
	assert.Equal(t, 2, scraper.count(), "regenerate ignores stickiness")

	scraper.mu.Lock()
	scraper.err = nil
	scraper.page = goodPage()
	scraper.mu.Unlock()

	res, err := rec.Regenerate(context.Background(), id, RegenerateOptions{Prompt: "custom {{.Text}}"})
	require.NoError(t, err)
	assert.Nil(t, res.Article.ScrapeFault)
	assert.Equal(t, "custom {{.Text}}", res.Summary.Prompt)
	assert.Empty(t, res.Tags, "tags untouched unless requested")

	res, err = rec.ReconcileOne(context.Background(), id, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"first"}, tagNames(res.Tags))

	gen.mu.Lock()
	gen.tags = []string{"second"}
	gen.mu.Unlock()
	res, err = rec.Regenerate(context.Background(), id, RegenerateOptions{RegenerateTags: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"second"}, tagNames(res.Tags), "regenerate replaces existing tags")
	assert.Equal(t, 3, scraper.count(), "good content is not re-scraped")
}

func TestRegenerateUnusableTextKeepsSummary(t *testing.T) {
	store := newTestStore(t)
	scraper := &stubScraper{page: &scrape.Page{Text: "   ", Markup: "<p></p>"}}
	rec := New(store, scraper, &stubGen{}, Config{}, nil)
	id := addArticle(t, store, "https://example.com/a")

	res, err := rec.Regenerate(context.Background(), id, RegenerateOptions{})
	require.NoError(t, err)
	assert.Nil(t, res.Summary)
	assert.True(t, strings.HasPrefix(res.DisplayError, msgCannotRegenerate))
}

func TestReconcileBatchIsolatesFailures(t *testing.T) {
	store := newTestStore(t)
	scraper := &stubScraper{page: goodPage()}
	gen := &stubGen{tags: []string{"ok"}}
	rec := New(store, scraper, gen, Config{Concurrency: 3}, nil)

	good1 := addArticle(t, store, "https://example.com/1")
	bad := addArticle(t, store, "https://example.com/2")
	good2 := addArticle(t, store, "https://example.com/3")

	// Articles whose text mentions the bad URL make the generator panic.
	require.NoError(t, store.SaveScrapeResult(bad, "BOOM "+articleText, "<p>x</p>"))
	gen.panicFor = "BOOM"

	outcomes := rec.ReconcileBatch(context.Background(), []int64{good1, bad, 9999, good2}, Options{})
	require.Len(t, outcomes, 4)

	assert.Equal(t, good1, outcomes[0].ArticleID)
	assert.NoError(t, outcomes[0].Err)
	assert.Equal(t, "Summary of article.", outcomes[0].Result.Summary.Text)

	assert.Error(t, outcomes[1].Err)
	assert.Contains(t, outcomes[1].Err.Error(), "panic")

	assert.ErrorIs(t, outcomes[2].Err, storage.ErrNotFound)

	assert.NoError(t, outcomes[3].Err)
	assert.Equal(t, []string{"ok"}, tagNames(outcomes[3].Result.Tags))
}

func TestConcurrentReconcileProducesOneTagSet(t *testing.T) {
	store := newTestStore(t)
	gen := &stubGen{tags: []string{"ai", "policy", "ai"}}
	rec := New(store, &stubScraper{page: goodPage()}, gen, Config{}, nil)
	id := addArticle(t, store, "https://example.com/a")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Distinct options defeat request coalescing so the store guard is exercised.
			_, err := rec.ReconcileOne(context.Background(), id, Options{TagPrompt: fmt.Sprint(i)})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	tags, err := store.ArticleTags(id)
	require.NoError(t, err)
	assert.Equal(t, []string{"ai", "policy"}, tagNames(tags))
}

func tagNames(tags []storage.Tag) []string {
	var names []string
	for _, t := range tags {
		names = append(names, t.Name)
	}
	return names
}

func TestEnsureTextRetriesStickyFault(t *testing.T) {
	store := newTestStore(t)
	scraper := &stubScraper{err: content.Faultf(content.FaultScrape, "timeout")}
	rec := New(store, scraper, &stubGen{}, Config{}, nil)
	id := addArticle(t, store, "https://example.com/chat")

	st, fault, err := rec.EnsureText(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, fault)
	assert.Equal(t, content.FaultScrape, fault.Kind)
	assert.NotNil(t, st.Article.ScrapeFault)

	// A chat request scrapes again even though the fault is sticky for
	// reconciliation.
	scraper.mu.Lock()
	scraper.err = nil
	scraper.page = goodPage()
	scraper.mu.Unlock()

	st, fault, err = rec.EnsureText(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, fault)
	require.NotNil(t, st.Article.ScrapedText)
	assert.Equal(t, articleText, *st.Article.ScrapedText)
	assert.Equal(t, 2, scraper.count())

	// Usable text is not scraped again.
	_, _, err = rec.EnsureText(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 2, scraper.count())
}

// blockingScraper holds every request until its context ends.
type blockingScraper struct {
	started chan struct{}
	once    sync.Once
}

func (s *blockingScraper) Scrape(ctx context.Context, url string) (*scrape.Page, error) {
	s.once.Do(func() { close(s.started) })
	<-ctx.Done()
	return nil, fmt.Errorf("fetching page: Get %q: %w", url, ctx.Err())
}

func TestCallerCancellationLeavesArticleRetryable(t *testing.T) {
	store := newTestStore(t)
	blocking := &blockingScraper{started: make(chan struct{})}
	gen := &stubGen{tags: []string{"ai"}}
	rec := New(store, blocking, gen, Config{ScrapeTimeout: time.Minute}, nil)
	id := addArticle(t, store, "https://example.com/slow")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-blocking.started
		cancel()
	}()
	_, err := rec.ReconcileOne(ctx, id, Options{})
	require.ErrorIs(t, err, context.Canceled)

	a, err := store.GetArticle(id)
	require.NoError(t, err)
	assert.Nil(t, a.ScrapeFault, "an abandoned request must not record a fault")
	assert.Nil(t, a.ScrapedText)

	// The next request scrapes the article normally.
	rec = New(store, &stubScraper{page: goodPage()}, gen, Config{}, nil)
	res, err := rec.ReconcileOne(context.Background(), id, Options{})
	require.NoError(t, err)
	require.NotNil(t, res.Article.ScrapedText)
	assert.Equal(t, articleText, *res.Article.ScrapedText)
	assert.Empty(t, res.DisplayError)
}

func TestScrapeTimeoutIsRecordedAsFault(t *testing.T) {
	store := newTestStore(t)
	blocking := &blockingScraper{started: make(chan struct{})}
	rec := New(store, blocking, &stubGen{}, Config{ScrapeTimeout: 20 * time.Millisecond}, nil)
	id := addArticle(t, store, "https://example.com/slow")

	res, err := rec.ReconcileOne(context.Background(), id, Options{})
	require.NoError(t, err)
	require.NotNil(t, res.Article.ScrapeFault)
	assert.Equal(t, content.FaultScrape, res.Article.ScrapeFault.Kind)
	assert.Contains(t, res.DisplayError, "deadline exceeded")
}

func TestCancelledGenerationStoresNothing(t *testing.T) {
	store := newTestStore(t)
	gen := &stubGen{summaryErr: context.Canceled}
	rec := New(store, &stubScraper{page: goodPage()}, gen, Config{}, nil)
	id := addArticle(t, store, "https://example.com/a")
	require.NoError(t, store.SaveScrapeResult(id, articleText, "<p>x</p>"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := rec.ReconcileOne(ctx, id, Options{})
	require.ErrorIs(t, err, context.Canceled)

	sum, err := store.LatestSummary(id)
	require.NoError(t, err)
	assert.Nil(t, sum, "no faulted summary row for an abandoned request")
}

func TestShortTextSkipsGeneration(t *testing.T) {
	store := newTestStore(t)
	short := strings.Repeat("y", 39)
	gen := &stubGen{tags: []string{"ai"}}
	rec := New(store, &stubScraper{page: &scrape.Page{Text: short, Markup: "<p>" + short + "</p>"}}, gen, Config{}, nil)
	id := addArticle(t, store, "https://example.com/landing")

	res, err := rec.ReconcileOne(context.Background(), id, Options{})
	require.NoError(t, err)
	summaries, tagCalls := gen.counts()
	assert.Zero(t, summaries, "short text must not reach the generator")
	assert.Zero(t, tagCalls)
	assert.Nil(t, res.Summary)
	assert.Contains(t, res.DisplayError, "very short")

	res, err = rec.Regenerate(context.Background(), id, RegenerateOptions{RegenerateTags: true})
	require.NoError(t, err)
	summaries, tagCalls = gen.counts()
	assert.Zero(t, summaries, "regenerate refuses short text too")
	assert.Zero(t, tagCalls)
	assert.True(t, strings.HasPrefix(res.DisplayError, msgCannotRegenerate))
}
