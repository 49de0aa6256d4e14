// Package reconcile brings articles up to date: scrape when content is
// missing, then generate whatever summary or tags are outstanding.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/matthewjhunter/newsai/internal/ai"
	"github.com/matthewjhunter/newsai/internal/content"
	"github.com/matthewjhunter/newsai/internal/freshness"
	"github.com/matthewjhunter/newsai/internal/scrape"
	"github.com/matthewjhunter/newsai/internal/storage"
)

// ErrScrapeFailed is returned by Regenerate when the forced scrape fails.
var ErrScrapeFailed = errors.New("scrape failed")

const msgCannotRegenerate = "Cannot regenerate summary: article content is missing or unusable."

// Store is the subset of storage.Store reconciliation writes through.
type Store interface {
	GetArticleState(id int64) (*storage.ArticleState, error)
	SaveScrapeResult(id int64, text, markup string) error
	SaveScrapeFault(id int64, fault *content.Fault) error
	ReplaceSummary(ctx context.Context, sum *storage.Summary) error
	ReplaceTags(ctx context.Context, articleID int64, names []string, onlyIfEmpty bool) ([]storage.Tag, bool, error)
}

// Options carries per-request prompt overrides. Empty means default.
type Options struct {
	SummaryPrompt string
	TagPrompt     string
}

// RegenerateOptions controls an explicit regenerate request.
type RegenerateOptions struct {
	Prompt         string
	RegenerateTags bool
}

// Config tunes a Reconciler.
type Config struct {
	MinTextLength   int
	Concurrency     int
	ScrapeTimeout   time.Duration
	GenerateTimeout time.Duration
}

// Result is the state of one article after reconciliation.
type Result struct {
	Article      storage.Article
	Summary      *storage.Summary // latest row, possibly faulted
	Tags         []storage.Tag
	Needs        freshness.Needs // what is still outstanding
	DisplayError string
}

// Outcome pairs a batch entry with its result or failure.
type Outcome struct {
	ArticleID int64
	Result    *Result
	Err       error
}

// Reconciler runs the per-article procedure shared by the request path and
// the prefetcher.
type Reconciler struct {
	store   Store
	scraper scrape.Scraper
	gen     ai.Generator
	eval    freshness.Evaluator
	cfg     Config
	logger  *zap.Logger
	flight  singleflight.Group
}

// New creates a Reconciler.
func New(store Store, scraper scrape.Scraper, gen ai.Generator, cfg Config, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Reconciler{
		store:   store,
		scraper: scraper,
		gen:     gen,
		eval:    freshness.New(cfg.MinTextLength),
		cfg:     cfg,
		logger:  logger,
	}
}

// StateOf converts a stored article into the freshness view of it.
func StateOf(st *storage.ArticleState) freshness.State {
	fs := freshness.State{
		Text:        st.Article.ScrapedText,
		Markup:      st.Article.ScrapedMarkup,
		ScrapeFault: st.Article.ScrapeFault,
		TagCount:    len(st.Tags),
	}
	if st.Summary != nil {
		fs.HasSummary = true
		fs.SummaryFault = st.Summary.Fault
	}
	return fs
}

// Describe evaluates a stored article without changing it.
func (r *Reconciler) Describe(st *storage.ArticleState) *Result {
	needs := r.eval.Evaluate(StateOf(st))
	return &Result{
		Article:      st.Article,
		Summary:      st.Summary,
		Tags:         st.Tags,
		Needs:        needs,
		DisplayError: needs.DisplayError,
	}
}

// ReconcileOne brings one article up to date. Concurrent calls for the same
// article and options share a single run.
func (r *Reconciler) ReconcileOne(ctx context.Context, articleID int64, opts Options) (*Result, error) {
	key := strconv.FormatInt(articleID, 10) + "\x00" + opts.SummaryPrompt + "\x00" + opts.TagPrompt
	v, err, _ := r.flight.Do(key, func() (interface{}, error) {
		return r.reconcile(ctx, articleID, opts)
	})
	if err != nil {
		return nil, err
	}
	res := *v.(*Result)
	return &res, nil
}

func (r *Reconciler) reconcile(ctx context.Context, articleID int64, opts Options) (*Result, error) {
	st, err := r.store.GetArticleState(articleID)
	if err != nil {
		return nil, err
	}
	needs := r.eval.Evaluate(StateOf(st))

	if needs.Scrape {
		if err := r.scrape(ctx, &st.Article); err != nil {
			var fault *content.Fault
			if !errors.As(err, &fault) {
				return nil, err
			}
			// A failed scrape leaves nothing to generate from this cycle.
			return r.reload(articleID)
		}
		if st, err = r.store.GetArticleState(articleID); err != nil {
			return nil, err
		}
		needs = r.eval.Evaluate(StateOf(st))
	}

	if needs.Summary {
		if err := r.summarize(ctx, st, opts.SummaryPrompt); err != nil {
			return nil, err
		}
	}
	if needs.Tags {
		if err := r.tag(ctx, st, opts.TagPrompt, true); err != nil {
			return nil, err
		}
	}

	return r.reload(articleID)
}

// Regenerate forces a new summary, scraping first when the stored content
// is missing, faulted or suspiciously short.
func (r *Reconciler) Regenerate(ctx context.Context, articleID int64, opts RegenerateOptions) (*Result, error) {
	st, err := r.store.GetArticleState(articleID)
	if err != nil {
		return nil, err
	}

	if r.eval.ForRegenerate(StateOf(st)) {
		if err := r.scrape(ctx, &st.Article); err != nil {
			var fault *content.Fault
			if errors.As(err, &fault) {
				return nil, fmt.Errorf("%w: %w", ErrScrapeFailed, fault)
			}
			return nil, err
		}
		if st, err = r.store.GetArticleState(articleID); err != nil {
			return nil, err
		}
	}

	if !r.eval.Processable(StateOf(st)) {
		res := r.Describe(st)
		res.DisplayError = joinMessages(msgCannotRegenerate, res.DisplayError)
		return res, nil
	}

	if err := r.summarize(ctx, st, opts.Prompt); err != nil {
		return nil, err
	}
	if opts.RegenerateTags {
		if err := r.tag(ctx, st, "", false); err != nil {
			return nil, err
		}
	}
	return r.reload(articleID)
}

// EnsureText scrapes the article when it has no usable text, regardless of
// a recorded fault. It is used by chat, which needs content now rather than
// on the next cycle. The returned fault is non-nil when that scrape failed.
func (r *Reconciler) EnsureText(ctx context.Context, articleID int64) (*storage.ArticleState, *content.Fault, error) {
	st, err := r.store.GetArticleState(articleID)
	if err != nil {
		return nil, nil, err
	}
	if freshness.UsableText(StateOf(st)) {
		return st, nil, nil
	}

	var fault *content.Fault
	if err := r.scrape(ctx, &st.Article); err != nil && !errors.As(err, &fault) {
		return nil, nil, err
	}
	if st, err = r.store.GetArticleState(articleID); err != nil {
		return nil, nil, err
	}
	return st, fault, nil
}

// ReconcileBatch reconciles ids with bounded parallelism. A failure or
// panic on one article is recorded in its Outcome and never stops the rest.
// Outcomes are returned in input order.
func (r *Reconciler) ReconcileBatch(ctx context.Context, ids []int64, opts Options) []Outcome {
	outcomes := make([]Outcome, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for i, id := range ids {
		outcomes[i].ArticleID = id
		g.Go(func() error {
			res, err := r.safeReconcile(gctx, id, opts)
			outcomes[i].Result = res
			outcomes[i].Err = err
			if err != nil {
				r.logger.Warn("article reconciliation failed",
					zap.Int64("article_id", id), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (r *Reconciler) safeReconcile(ctx context.Context, id int64, opts Options) (res *Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("panic during reconciliation",
				zap.Int64("article_id", id),
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()))
			res, err = nil, fmt.Errorf("reconcile article %d: panic: %v", id, p)
		}
	}()
	return r.ReconcileOne(ctx, id, opts)
}

// scrape fetches the article and persists either the content or the fault.
// The returned error is the *content.Fault on a scrape failure, ctx.Err()
// when the caller gave up, or a storage error. Nothing is persisted when the
// caller gave up: the page was not proven broken.
func (r *Reconciler) scrape(ctx context.Context, a *storage.Article) error {
	sctx := ctx
	if r.cfg.ScrapeTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, r.cfg.ScrapeTimeout)
		defer cancel()
	}

	var fault *content.Fault
	page, err := r.scrapePage(sctx, a.URL)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			r.logger.Debug("scrape abandoned",
				zap.Int64("article_id", a.ID), zap.Error(ctxErr))
			return ctxErr
		}
		if !errors.As(err, &fault) {
			fault = content.NewFault(content.FaultScrape, err)
		}
		r.logger.Info("scrape failed",
			zap.Int64("article_id", a.ID),
			zap.String("url", a.URL),
			zap.String("kind", string(fault.Kind)),
			zap.String("reason", fault.Message))
		if err := r.store.SaveScrapeFault(a.ID, fault); err != nil {
			return fmt.Errorf("save scrape fault: %w", err)
		}
		return fault
	}

	if err := r.store.SaveScrapeResult(a.ID, page.Text, page.Markup); err != nil {
		return fmt.Errorf("save scrape result: %w", err)
	}
	r.logger.Debug("article scraped", zap.Int64("article_id", a.ID), zap.Stringer("page", page))
	return nil
}

func (r *Reconciler) scrapePage(ctx context.Context, url string) (page *scrape.Page, err error) {
	if r.scraper == nil {
		return nil, content.Faultf(content.FaultScrape, "no scraper configured")
	}
	page, err = r.scraper.Scrape(ctx, url)
	if err == nil && page == nil {
		err = content.Faultf(content.FaultContent, "scraper returned no page")
	}
	return page, err
}

func (r *Reconciler) generateCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.GenerateTimeout > 0 {
		return context.WithTimeout(ctx, r.cfg.GenerateTimeout)
	}
	return ctx, func() {}
}

// summarize generates and stores a summary. A generation failure is stored
// as a faulted row so it is visible and retried next cycle; only storage
// errors and caller cancellation are returned.
func (r *Reconciler) summarize(ctx context.Context, st *storage.ArticleState, prompt string) error {
	gctx, cancel := r.generateCtx(ctx)
	defer cancel()

	res, err := r.gen.Summarize(gctx, *st.Article.ScrapedText, prompt)
	sum := &storage.Summary{
		ArticleID: st.Article.ID,
		Text:      res.Text,
		Prompt:    res.Prompt,
		Model:     res.Model,
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		sum.Text = ""
		sum.Fault = content.NewFault(content.FaultGeneration, err)
		r.logger.Warn("summary generation failed",
			zap.Int64("article_id", st.Article.ID), zap.Error(err))
	}
	if err := r.store.ReplaceSummary(ctx, sum); err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	return nil
}

// tag generates and stores tags. Failures leave the tag set empty so the
// next cycle retries; only storage errors are returned.
func (r *Reconciler) tag(ctx context.Context, st *storage.ArticleState, prompt string, onlyIfEmpty bool) error {
	gctx, cancel := r.generateCtx(ctx)
	defer cancel()

	names, _, err := r.gen.ExtractTags(gctx, *st.Article.ScrapedText, prompt)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		r.logger.Warn("tag generation failed",
			zap.Int64("article_id", st.Article.ID), zap.Error(err))
		return nil
	}
	if len(storage.NormalizeTagNames(names)) == 0 {
		return nil
	}

	_, replaced, err := r.store.ReplaceTags(ctx, st.Article.ID, names, onlyIfEmpty)
	if err != nil {
		return fmt.Errorf("save tags: %w", err)
	}
	if !replaced {
		r.logger.Debug("tags already present, keeping existing set", zap.Int64("article_id", st.Article.ID))
	}
	return nil
}

func (r *Reconciler) reload(articleID int64) (*Result, error) {
	st, err := r.store.GetArticleState(articleID)
	if err != nil {
		return nil, err
	}
	return r.Describe(st), nil
}

func joinMessages(first, rest string) string {
	if rest == "" {
		return first
	}
	return first + freshness.Separator + rest
}
