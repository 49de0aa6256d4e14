package storage

import (
	"fmt"
	"strings"
)

// ArticleQuery filters and pages the article list. TagIDs use AND semantics:
// an article must carry every listed tag.
type ArticleQuery struct {
	FeedIDs  []int64
	TagIDs   []int64
	Keyword  string
	Page     int
	PageSize int
}

// ArticlePage is one page of query results plus paging metadata. Page is the
// page actually served after clamping.
type ArticlePage struct {
	Articles   []Article
	Total      int
	TotalPages int
	Page       int
	PageSize   int
}

// ClampPage bounds page into [1, totalPages]. With no pages at all it returns 1.
func ClampPage(page, totalPages int) int {
	if page < 1 {
		page = 1
	}
	if totalPages > 0 && page > totalPages {
		page = totalPages
	}
	return page
}

// TotalPages is ceil(total / pageSize).
func TotalPages(total, pageSize int) int {
	if pageSize <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

func (q ArticleQuery) where() (string, []any) {
	var clauses []string
	var args []any

	if len(q.FeedIDs) > 0 {
		clauses = append(clauses, "a.feed_id IN ("+placeholders(len(q.FeedIDs))+")")
		args = append(args, int64Args(q.FeedIDs)...)
	}
	for _, tagID := range q.TagIDs {
		clauses = append(clauses, "EXISTS (SELECT 1 FROM article_tags at WHERE at.article_id = a.id AND at.tag_id = ?)")
		args = append(args, tagID)
	}
	if kw := strings.TrimSpace(q.Keyword); kw != "" {
		like := "%" + escapeLike(kw) + "%"
		clauses = append(clauses, `(a.title LIKE ? ESCAPE '\' OR a.scraped_text LIKE ? ESCAPE '\')`)
		args = append(args, like, like)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// QueryArticles applies the filters, counts matches, clamps the page and
// returns that slice ordered newest first (undated articles last).
func (s *SQLiteStore) QueryArticles(q ArticleQuery) (*ArticlePage, error) {
	if q.PageSize <= 0 {
		return nil, fmt.Errorf("page size must be positive, got %d", q.PageSize)
	}
	where, args := q.where()

	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM articles a"+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count articles: %w", err)
	}

	page := &ArticlePage{
		Total:      total,
		TotalPages: TotalPages(total, q.PageSize),
		PageSize:   q.PageSize,
	}
	page.Page = ClampPage(q.Page, page.TotalPages)
	if total == 0 {
		return page, nil
	}

	offset := (page.Page - 1) * q.PageSize
	rows, err := s.db.Query(
		"SELECT "+articleColumns+articleFrom+where+
			" ORDER BY a.published_at IS NULL, a.published_at DESC, a.id DESC LIMIT ? OFFSET ?",
		append(args, q.PageSize, offset)...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query articles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan article: %w", err)
		}
		page.Articles = append(page.Articles, a)
	}
	return page, rows.Err()
}
