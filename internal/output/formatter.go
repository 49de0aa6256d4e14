package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/matthewjhunter/newsai"
)

type Format string

const (
	FormatJSON  Format = "json"
	FormatText  Format = "text"
	FormatHuman Format = "human"
)

type Formatter struct {
	format Format
	out    io.Writer
	err    io.Writer
}

// NewFormatter creates a new output formatter
func NewFormatter(format Format) *Formatter {
	return &Formatter{
		format: format,
		out:    os.Stdout,
		err:    os.Stderr,
	}
}

// NewFormatterWithWriters creates a formatter with custom output writers for testability
func NewFormatterWithWriters(format Format, out, errW io.Writer) *Formatter {
	return &Formatter{
		format: format,
		out:    out,
		err:    errW,
	}
}

// ParseFormat validates a --format flag value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatJSON, FormatText, FormatHuman:
		return f, nil
	}
	return "", fmt.Errorf("unknown format %q (want json, text or human)", s)
}

// OutputRefreshResult outputs the outcome of a feed refresh
func (f *Formatter) OutputRefreshResult(result *newsai.RefreshResult) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(result)
	case FormatText:
		fmt.Fprintf(f.out, "started=%t\n", result.Started)
		fmt.Fprintf(f.out, "feeds_due=%d\n", result.FeedsDue)
		fmt.Fprintf(f.out, "feeds_failed=%d\n", result.FeedsFailed)
		fmt.Fprintf(f.out, "new_articles=%d\n", result.NewArticles)
		return nil
	case FormatHuman:
		if !result.Started {
			fmt.Fprintln(f.out, "A refresh is already running")
			return nil
		}
		fmt.Fprintf(f.out, "Refreshed %d feeds, %d new articles\n", result.FeedsDue, result.NewArticles)
		if result.FeedsFailed > 0 {
			fmt.Fprintf(f.out, "%d feeds failed\n", result.FeedsFailed)
		}
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// OutputPage outputs one page of articles
func (f *Formatter) OutputPage(page *newsai.PageResponse) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(page)
	case FormatText:
		fmt.Fprintf(f.out, "page=%d\ttotal_pages=%d\ttotal=%d\n", page.RequestedPage, page.TotalPages, page.TotalArticles)
		for _, a := range page.Articles {
			f.articleLine(a)
		}
		return nil
	case FormatHuman:
		if len(page.Articles) == 0 {
			fmt.Fprintf(f.out, "No articles (%s)\n", page.SearchSource)
			return nil
		}
		fmt.Fprintf(f.out, "%s - page %d of %d (%d articles)\n\n",
			page.SearchSource, page.RequestedPage, page.TotalPages, page.TotalArticles)
		for _, a := range page.Articles {
			f.articleBlock(a, 300)
		}
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// OutputArticle outputs a single article in full
func (f *Formatter) OutputArticle(a *newsai.ArticleResult) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(a)
	case FormatText:
		f.articleLine(*a)
		return nil
	case FormatHuman:
		f.articleBlock(*a, 0)
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

func (f *Formatter) articleLine(a newsai.ArticleResult) {
	fmt.Fprintf(f.out, "id=%d\ttitle=%s\turl=%s\tpublished=%s\ttags=%s\terror=%s\n",
		a.ID, a.Title, a.URL, formatTime(a.PublishedDate), tagList(a.Tags, ","), deref(a.ErrorMessage))
}

// articleBlock prints a readable article; maxSummary 0 means untruncated.
func (f *Formatter) articleBlock(a newsai.ArticleResult, maxSummary int) {
	fmt.Fprintf(f.out, "ID: %d\n", a.ID)
	fmt.Fprintf(f.out, "Title: %s\n", a.Title)
	fmt.Fprintf(f.out, "URL: %s\n", a.URL)
	if a.Publisher != "" {
		fmt.Fprintf(f.out, "Publisher: %s\n", a.Publisher)
	}
	if a.PublishedDate != nil {
		fmt.Fprintf(f.out, "Published: %s\n", a.PublishedDate.Format("2006-01-02 15:04"))
	}
	if len(a.Tags) > 0 {
		fmt.Fprintf(f.out, "Tags: %s\n", tagList(a.Tags, ", "))
	}
	if a.Summary != nil {
		summary := *a.Summary
		if maxSummary > 0 {
			summary = truncate(summary, maxSummary)
		}
		fmt.Fprintf(f.out, "\n%s\n\n", summary)
	}
	if a.ErrorMessage != nil {
		fmt.Fprintf(f.out, "⚠️  %s\n", *a.ErrorMessage)
	}
	fmt.Fprintln(f.out, "---")
}

// OutputArticleContent outputs the sanitized captured markup of an article
func (f *Formatter) OutputArticleContent(c *newsai.ArticleContent) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(c)
	case FormatText:
		fmt.Fprintf(f.out, "article_id=%d\turl=%s\terror=%s\n", c.ArticleID, c.OriginalURL, deref(c.ErrorMessage))
		if c.Content != nil {
			fmt.Fprintln(f.out, *c.Content)
		}
		return nil
	case FormatHuman:
		fmt.Fprintf(f.out, "%s\n%s\n\n", c.Title, c.OriginalURL)
		if c.Content != nil {
			fmt.Fprintln(f.out, *c.Content)
		}
		if c.ErrorMessage != nil {
			fmt.Fprintf(f.err, "⚠️  %s\n", *c.ErrorMessage)
		}
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// OutputFeeds outputs the registered feed sources
func (f *Formatter) OutputFeeds(feeds []newsai.Feed) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(feeds)
	case FormatText:
		for _, fd := range feeds {
			fmt.Fprintf(f.out, "id=%d\tname=%s\turl=%s\tinterval=%d\tlast_fetched=%s\terror=%s\n",
				fd.ID, fd.Name, fd.URL, fd.FetchIntervalMinutes, formatTime(fd.LastFetchedAt), fd.LastError)
		}
		return nil
	case FormatHuman:
		if len(feeds) == 0 {
			fmt.Fprintln(f.out, "No feeds registered")
			return nil
		}
		for _, fd := range feeds {
			fmt.Fprintf(f.out, "[%d] %s (every %dm)\n", fd.ID, fd.Name, fd.FetchIntervalMinutes)
			fmt.Fprintf(f.out, "    %s\n", fd.URL)
			if fd.LastFetchedAt != nil {
				fmt.Fprintf(f.out, "    last fetched %s\n", fd.LastFetchedAt.Format("2006-01-02 15:04"))
			}
			if fd.LastError != "" {
				fmt.Fprintf(f.out, "    last error: %s\n", fd.LastError)
			}
		}
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// OutputChat outputs a chat answer
func (f *Formatter) OutputChat(resp *newsai.ChatResponse) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(resp)
	case FormatText:
		fmt.Fprintf(f.out, "article_id=%d\tanswer=%s\terror=%s\n",
			resp.ArticleID, oneLine(resp.Answer), deref(resp.ErrorMessage))
		return nil
	case FormatHuman:
		if resp.Answer != "" {
			fmt.Fprintln(f.out, resp.Answer)
		}
		if resp.ErrorMessage != nil {
			fmt.Fprintf(f.err, "⚠️  %s\n", *resp.ErrorMessage)
		}
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// OutputChatHistory outputs an article's stored conversation
func (f *Formatter) OutputChatHistory(turns []newsai.ChatTurn) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(turns)
	case FormatText:
		for _, t := range turns {
			fmt.Fprintf(f.out, "id=%d\tat=%s\tquestion=%s\tanswer=%s\n",
				t.ID, t.CreatedAt.Format(time.RFC3339), oneLine(t.Question), oneLine(t.Answer))
		}
		return nil
	case FormatHuman:
		if len(turns) == 0 {
			fmt.Fprintln(f.out, "No conversation yet")
			return nil
		}
		for _, t := range turns {
			fmt.Fprintf(f.out, "> %s\n%s\n\n", t.Question, t.Answer)
		}
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// OutputTags outputs tags with their article counts
func (f *Formatter) OutputTags(tags []newsai.TagInfo) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(tags)
	case FormatText:
		for _, t := range tags {
			fmt.Fprintf(f.out, "id=%d\tname=%s\tarticles=%d\n", t.ID, t.Name, t.ArticleCount)
		}
		return nil
	case FormatHuman:
		if len(tags) == 0 {
			fmt.Fprintln(f.out, "No tags yet")
			return nil
		}
		for _, t := range tags {
			fmt.Fprintf(f.out, "%-30s %d\n", t.Name, t.ArticleCount)
		}
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// OutputCleanup outputs the result of a retention purge
func (f *Formatter) OutputCleanup(result *newsai.CleanupResult) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(result)
	case FormatText:
		fmt.Fprintf(f.out, "deleted=%d\n", result.Deleted)
		return nil
	case FormatHuman:
		fmt.Fprintf(f.out, "Deleted %d articles\n", result.Deleted)
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// Error outputs an error message to stderr
func (f *Formatter) Error(format string, args ...interface{}) {
	fmt.Fprintf(f.err, format+"\n", args...)
}

// Warning outputs a warning message to stderr
func (f *Formatter) Warning(format string, args ...interface{}) {
	fmt.Fprintf(f.err, "Warning: "+format+"\n", args...)
}

// formatTime formats a time pointer for output
func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

// truncate shortens s to maxLen characters
func truncate(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}

func tagList(tags []newsai.Tag, sep string) string {
	names := make([]string, len(tags))
	for i, t := range tags {
		names[i] = t.Name
	}
	return strings.Join(names, sep)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// oneLine keeps tab-separated records on a single line.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
