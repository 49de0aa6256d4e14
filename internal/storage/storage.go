package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/matthewjhunter/newsai/internal/content"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique key (feed URL) already exists.
	ErrDuplicate = errors.New("duplicate")
)

const tagCacheSize = 1024

type SQLiteStore struct {
	db     *sql.DB
	tagIDs *lru.Cache[string, int64]
	now    func() time.Time
}

type FeedSource struct {
	ID                   int64
	URL                  string
	Name                 string
	FetchIntervalMinutes int
	LastFetchedAt        *time.Time
	LastError            string
	ETag                 string
	LastModified         string
	CreatedAt            time.Time
}

// Due reports whether the feed should be fetched at now.
func (f FeedSource) Due(now time.Time) bool {
	if f.LastFetchedAt == nil {
		return true
	}
	interval := time.Duration(f.FetchIntervalMinutes) * time.Minute
	return !f.LastFetchedAt.After(now.Add(-interval))
}

type Article struct {
	ID            int64
	FeedID        *int64
	URL           string
	Title         string
	Publisher     string
	PublishedAt   *time.Time
	ScrapedText   *string
	ScrapedMarkup *string
	ScrapeFault   *content.Fault
	CreatedAt     time.Time

	// Joined from feed_sources; empty when the article has no feed.
	FeedName string
	FeedURL  string
}

type Summary struct {
	ID        int64
	ArticleID int64
	Text      string
	Fault     *content.Fault
	Prompt    string
	Model     string
	CreatedAt time.Time
}

type Tag struct {
	ID   int64
	Name string
}

type TagCount struct {
	Tag
	Articles int
}

type ChatTurn struct {
	ID        int64
	ArticleID int64
	Question  string
	Answer    string
	Prompt    string
	Model     string
	CreatedAt time.Time
}

// ArticleState is an article plus everything freshness evaluation looks at.
type ArticleState struct {
	Article Article
	Summary *Summary // latest row, nil when none
	Tags    []Tag
}

// NewSQLiteStore opens (creating if needed) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := dbPath + "?_time_format=sqlite&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows a single writer; one connection keeps transactions from
	// tripping over each other between the request path and background work.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	cache, err := lru.New[string, int64](tagCacheSize)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tag cache: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		tagIDs: cache,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Feed sources

const feedColumns = `id, url, name, fetch_interval_minutes, last_fetched_at, last_error, etag, last_modified, created_at`

func scanFeed(sc interface{ Scan(...any) error }) (FeedSource, error) {
	var f FeedSource
	var lastFetched sql.NullTime
	var lastErr, etag, lastMod sql.NullString
	err := sc.Scan(&f.ID, &f.URL, &f.Name, &f.FetchIntervalMinutes, &lastFetched, &lastErr, &etag, &lastMod, &f.CreatedAt)
	if err != nil {
		return f, err
	}
	if lastFetched.Valid {
		t := lastFetched.Time
		f.LastFetchedAt = &t
	}
	f.LastError = lastErr.String
	f.ETag = etag.String
	f.LastModified = lastMod.String
	return f, nil
}

// AddFeed registers a feed source. Returns ErrDuplicate when the URL exists.
func (s *SQLiteStore) AddFeed(url, name string, intervalMinutes int) (int64, error) {
	result, err := s.db.Exec(
		`INSERT INTO feed_sources (url, name, fetch_interval_minutes, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(url) DO NOTHING`,
		url, name, intervalMinutes, s.now(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to add feed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to add feed: %w", err)
	}
	if n == 0 {
		return 0, fmt.Errorf("feed %s: %w", url, ErrDuplicate)
	}
	return result.LastInsertId()
}

// GetFeed returns one feed source or ErrNotFound.
func (s *SQLiteStore) GetFeed(id int64) (*FeedSource, error) {
	row := s.db.QueryRow("SELECT "+feedColumns+" FROM feed_sources WHERE id = ?", id)
	f, err := scanFeed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feed: %w", err)
	}
	return &f, nil
}

// ListFeeds returns all feed sources ordered by name.
func (s *SQLiteStore) ListFeeds() ([]FeedSource, error) {
	rows, err := s.db.Query("SELECT " + feedColumns + " FROM feed_sources ORDER BY name COLLATE NOCASE, id")
	if err != nil {
		return nil, fmt.Errorf("failed to list feeds: %w", err)
	}
	defer rows.Close()

	var feeds []FeedSource
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feed: %w", err)
		}
		feeds = append(feeds, f)
	}
	return feeds, rows.Err()
}

// UpdateFeed changes the display name and/or fetch interval. Nil fields are left alone.
func (s *SQLiteStore) UpdateFeed(id int64, name *string, intervalMinutes *int) error {
	var sets []string
	var args []any
	if name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *name)
	}
	if intervalMinutes != nil {
		sets = append(sets, "fetch_interval_minutes = ?")
		args = append(args, *intervalMinutes)
	}
	if len(sets) == 0 {
		_, err := s.GetFeed(id)
		return err
	}
	args = append(args, id)
	result, err := s.db.Exec("UPDATE feed_sources SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to update feed: %w", err)
	}
	return requireRow(result)
}

// DeleteFeed removes a feed source and, through the cascade, its articles.
func (s *SQLiteStore) DeleteFeed(id int64) error {
	result, err := s.db.Exec("DELETE FROM feed_sources WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete feed: %w", err)
	}
	return requireRow(result)
}

// MarkFeedFetched records a fetch attempt. fetchErr is empty on success; the
// cache headers are only overwritten when non-empty.
func (s *SQLiteStore) MarkFeedFetched(id int64, at time.Time, etag, lastModified, fetchErr string) error {
	var lastErr any
	if fetchErr != "" {
		lastErr = fetchErr
	}
	_, err := s.db.Exec(
		`UPDATE feed_sources SET
		   last_fetched_at = ?,
		   last_error = ?,
		   etag = COALESCE(NULLIF(?, ''), etag),
		   last_modified = COALESCE(NULLIF(?, ''), last_modified)
		 WHERE id = ?`,
		at.UTC(), lastErr, etag, lastModified, id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark feed fetched: %w", err)
	}
	return nil
}

// FeedNames returns display names for the given ids, in id order.
func (s *SQLiteStore) FeedNames(ids []int64) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query("SELECT name FROM feed_sources WHERE id IN ("+placeholders(len(ids))+") ORDER BY id", int64Args(ids)...)
	if err != nil {
		return nil, fmt.Errorf("failed to get feed names: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// Articles

const articleColumns = `a.id, a.feed_id, a.url, a.title, a.publisher, a.published_at,
	a.scraped_text, a.scraped_markup, a.scrape_fault_kind, a.scrape_fault_message, a.created_at,
	COALESCE(f.name, ''), COALESCE(f.url, '')`

const articleFrom = ` FROM articles a LEFT JOIN feed_sources f ON f.id = a.feed_id`

func scanArticle(sc interface{ Scan(...any) error }) (Article, error) {
	var a Article
	var feedID sql.NullInt64
	var publisher, text, markup, faultKind, faultMsg sql.NullString
	var published sql.NullTime
	err := sc.Scan(&a.ID, &feedID, &a.URL, &a.Title, &publisher, &published,
		&text, &markup, &faultKind, &faultMsg, &a.CreatedAt, &a.FeedName, &a.FeedURL)
	if err != nil {
		return a, err
	}
	if feedID.Valid {
		id := feedID.Int64
		a.FeedID = &id
	}
	a.Publisher = publisher.String
	if published.Valid {
		t := published.Time
		a.PublishedAt = &t
	}
	if text.Valid {
		v := text.String
		a.ScrapedText = &v
	}
	if markup.Valid {
		v := markup.String
		a.ScrapedMarkup = &v
	}
	a.ScrapeFault = faultFromColumns(faultKind, faultMsg)
	return a, nil
}

func faultFromColumns(kind, msg sql.NullString) *content.Fault {
	k, ok := content.ParseKind(kind.String)
	if !ok {
		return nil
	}
	return &content.Fault{Kind: k, Message: msg.String}
}

// InsertArticle adds an article unless its URL is already known. The boolean
// reports whether a row was inserted.
func (s *SQLiteStore) InsertArticle(a *Article) (int64, bool, error) {
	created := a.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	var published any
	if a.PublishedAt != nil {
		published = a.PublishedAt.UTC()
	}
	result, err := s.db.Exec(
		`INSERT INTO articles (feed_id, url, title, publisher, published_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(url) DO NOTHING`,
		a.FeedID, a.URL, a.Title, a.Publisher, published, created.UTC(),
	)
	if err != nil {
		return 0, false, fmt.Errorf("failed to insert article: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("failed to insert article: %w", err)
	}
	if n == 0 {
		return 0, false, nil
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("failed to insert article: %w", err)
	}
	return id, true, nil
}

// GetArticle returns one article or ErrNotFound.
func (s *SQLiteStore) GetArticle(id int64) (*Article, error) {
	row := s.db.QueryRow("SELECT "+articleColumns+articleFrom+" WHERE a.id = ?", id)
	a, err := scanArticle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get article: %w", err)
	}
	return &a, nil
}

// GetArticleState loads an article with its latest summary and tag set.
func (s *SQLiteStore) GetArticleState(id int64) (*ArticleState, error) {
	a, err := s.GetArticle(id)
	if err != nil {
		return nil, err
	}
	summary, err := s.LatestSummary(id)
	if err != nil {
		return nil, err
	}
	tags, err := s.ArticleTags(id)
	if err != nil {
		return nil, err
	}
	return &ArticleState{Article: *a, Summary: summary, Tags: tags}, nil
}

// SaveScrapeResult stores freshly scraped content and clears any recorded fault.
// Markup is stored even when empty: a completed scrape counts as captured.
func (s *SQLiteStore) SaveScrapeResult(id int64, text, markup string) error {
	result, err := s.db.Exec(
		`UPDATE articles SET scraped_text = ?, scraped_markup = ?,
		   scrape_fault_kind = NULL, scrape_fault_message = NULL
		 WHERE id = ?`,
		text, markup, id,
	)
	if err != nil {
		return fmt.Errorf("failed to save scrape result: %w", err)
	}
	return requireRow(result)
}

// SaveScrapeFault records a failed scrape. Previously scraped content is
// dropped so the fault is the only thing readers see.
func (s *SQLiteStore) SaveScrapeFault(id int64, fault *content.Fault) error {
	if fault == nil {
		return errors.New("nil scrape fault")
	}
	result, err := s.db.Exec(
		`UPDATE articles SET scraped_text = NULL, scraped_markup = NULL,
		   scrape_fault_kind = ?, scrape_fault_message = ?
		 WHERE id = ?`,
		string(fault.Kind), fault.Message, id,
	)
	if err != nil {
		return fmt.Errorf("failed to save scrape fault: %w", err)
	}
	return requireRow(result)
}

// DeleteArticlesOlderThan purges articles created before cutoff.
func (s *SQLiteStore) DeleteArticlesOlderThan(cutoff time.Time) (int64, error) {
	result, err := s.db.Exec("DELETE FROM articles WHERE created_at < ?", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old articles: %w", err)
	}
	return result.RowsAffected()
}

// Summaries

// LatestSummary returns the most recent summary row, or nil when none exists.
func (s *SQLiteStore) LatestSummary(articleID int64) (*Summary, error) {
	var sum Summary
	var faultKind, faultMsg, prompt, model sql.NullString
	err := s.db.QueryRow(
		`SELECT id, article_id, text, fault_kind, fault_message, prompt_used, model_used, created_at
		 FROM summaries WHERE article_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		articleID,
	).Scan(&sum.ID, &sum.ArticleID, &sum.Text, &faultKind, &faultMsg, &prompt, &model, &sum.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest summary: %w", err)
	}
	sum.Fault = faultFromColumns(faultKind, faultMsg)
	sum.Prompt = prompt.String
	sum.Model = model.String
	return &sum, nil
}

// ReplaceSummary deletes every summary for the article and inserts sum in one
// transaction. Repeating it is harmless.
func (s *SQLiteStore) ReplaceSummary(ctx context.Context, sum *Summary) error {
	if sum.CreatedAt.IsZero() {
		sum.CreatedAt = s.now()
	}
	var faultKind, faultMsg any
	if sum.Fault != nil {
		faultKind = string(sum.Fault.Kind)
		faultMsg = sum.Fault.Message
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin summary transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM summaries WHERE article_id = ?", sum.ArticleID); err != nil {
		return fmt.Errorf("failed to clear summaries: %w", err)
	}
	result, err := tx.ExecContext(ctx,
		`INSERT INTO summaries (article_id, text, fault_kind, fault_message, prompt_used, model_used, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sum.ArticleID, sum.Text, faultKind, faultMsg, sum.Prompt, sum.Model, sum.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert summary: %w", err)
	}
	if sum.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("failed to insert summary: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit summary: %w", err)
	}
	return nil
}

// Tags

// NormalizeTagNames trims, lowercases and deduplicates names, keeping first-seen order.
func NormalizeTagNames(names []string) []string {
	seen := make(map[string]bool, len(names))
	var out []string
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// ArticleTags returns the article's tags ordered by name.
func (s *SQLiteStore) ArticleTags(articleID int64) ([]Tag, error) {
	rows, err := s.db.Query(
		`SELECT t.id, t.name FROM tags t
		 JOIN article_tags at ON at.tag_id = t.id
		 WHERE at.article_id = ? ORDER BY t.name`,
		articleID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get article tags: %w", err)
	}
	defer rows.Close()
	return scanTags(rows)
}

// TagsForArticles returns tag sets keyed by article id.
func (s *SQLiteStore) TagsForArticles(ids []int64) (map[int64][]Tag, error) {
	out := make(map[int64][]Tag, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.Query(
		`SELECT at.article_id, t.id, t.name FROM article_tags at
		 JOIN tags t ON t.id = at.tag_id
		 WHERE at.article_id IN (`+placeholders(len(ids))+`) ORDER BY t.name`,
		int64Args(ids)...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get tags: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var articleID int64
		var t Tag
		if err := rows.Scan(&articleID, &t.ID, &t.Name); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		out[articleID] = append(out[articleID], t)
	}
	return out, rows.Err()
}

// ListTags returns every tag with the number of articles carrying it.
func (s *SQLiteStore) ListTags() ([]TagCount, error) {
	rows, err := s.db.Query(
		`SELECT t.id, t.name, COUNT(at.article_id) FROM tags t
		 LEFT JOIN article_tags at ON at.tag_id = t.id
		 GROUP BY t.id, t.name ORDER BY t.name`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	defer rows.Close()

	var tags []TagCount
	for rows.Next() {
		var tc TagCount
		if err := rows.Scan(&tc.ID, &tc.Name, &tc.Articles); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		tags = append(tags, tc)
	}
	return tags, rows.Err()
}

// TagNames returns names for the given tag ids, in id order.
func (s *SQLiteStore) TagNames(ids []int64) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query("SELECT name FROM tags WHERE id IN ("+placeholders(len(ids))+") ORDER BY id", int64Args(ids)...)
	if err != nil {
		return nil, fmt.Errorf("failed to get tag names: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// ReplaceTags swaps the article's tag set for names in a single transaction:
// existing links are cleared, then the new set is linked. When onlyIfEmpty is
// set and the article already has tags, nothing changes and the existing set
// is returned with replaced=false.
func (s *SQLiteStore) ReplaceTags(ctx context.Context, articleID int64, names []string, onlyIfEmpty bool) (tags []Tag, replaced bool, err error) {
	names = NormalizeTagNames(names)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin tag transaction: %w", err)
	}
	defer tx.Rollback()

	if onlyIfEmpty {
		var count int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM article_tags WHERE article_id = ?", articleID).Scan(&count); err != nil {
			return nil, false, fmt.Errorf("failed to count tags: %w", err)
		}
		if count > 0 {
			existing, err := tagsInTx(ctx, tx, articleID)
			return existing, false, err
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM article_tags WHERE article_id = ?", articleID); err != nil {
		return nil, false, fmt.Errorf("failed to clear tags: %w", err)
	}

	created := make(map[string]int64, len(names))
	for _, name := range names {
		id, err := s.tagID(ctx, tx, name)
		if err != nil {
			return nil, false, err
		}
		created[name] = id
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO article_tags (article_id, tag_id) VALUES (?, ?)",
			articleID, id,
		); err != nil {
			return nil, false, fmt.Errorf("failed to link tag %q: %w", name, err)
		}
		tags = append(tags, Tag{ID: id, Name: name})
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit tags: %w", err)
	}
	for name, id := range created {
		s.tagIDs.Add(name, id)
	}
	return tags, true, nil
}

// tagID gets or creates the tag row. A concurrent creator winning the unique
// constraint is handled by re-reading the row after the no-op insert.
func (s *SQLiteStore) tagID(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	if id, ok := s.tagIDs.Get(name); ok {
		return id, nil
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO tags (name) VALUES (?) ON CONFLICT(name) DO NOTHING", name); err != nil {
		return 0, fmt.Errorf("failed to create tag %q: %w", name, err)
	}
	var id int64
	if err := tx.QueryRowContext(ctx, "SELECT id FROM tags WHERE name = ?", name).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to look up tag %q: %w", name, err)
	}
	return id, nil
}

func tagsInTx(ctx context.Context, tx *sql.Tx, articleID int64) ([]Tag, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT t.id, t.name FROM tags t
		 JOIN article_tags at ON at.tag_id = t.id
		 WHERE at.article_id = ? ORDER BY t.name`,
		articleID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get article tags: %w", err)
	}
	defer rows.Close()
	return scanTags(rows)
}

// Chat

// AddChatTurn appends one question/answer pair.
func (s *SQLiteStore) AddChatTurn(turn *ChatTurn) (int64, error) {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = s.now()
	}
	result, err := s.db.Exec(
		`INSERT INTO chat_turns (article_id, question, answer, prompt_used, model_used, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		turn.ArticleID, turn.Question, turn.Answer, turn.Prompt, turn.Model, turn.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to add chat turn: %w", err)
	}
	turn.ID, err = result.LastInsertId()
	return turn.ID, err
}

// ChatTurns returns an article's conversation in creation order.
func (s *SQLiteStore) ChatTurns(articleID int64) ([]ChatTurn, error) {
	rows, err := s.db.Query(
		`SELECT id, article_id, question, answer, prompt_used, model_used, created_at
		 FROM chat_turns WHERE article_id = ? ORDER BY created_at, id`,
		articleID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get chat turns: %w", err)
	}
	defer rows.Close()

	var turns []ChatTurn
	for rows.Next() {
		var t ChatTurn
		var prompt, model sql.NullString
		if err := rows.Scan(&t.ID, &t.ArticleID, &t.Question, &t.Answer, &prompt, &model, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat turn: %w", err)
		}
		t.Prompt = prompt.String
		t.Model = model.String
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// helpers

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func scanTags(rows *sql.Rows) ([]Tag, error) {
	var tags []Tag
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
