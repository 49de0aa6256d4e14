// Package scrape fetches article pages and extracts their readable text.
package scrape

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"

	"github.com/matthewjhunter/newsai/internal/content"
)

const defaultMaxBody = 5 << 20

// Page is the extracted content of one article URL.
type Page struct {
	Text     string
	Markup   string // sanitized HTML of the main content
	SiteName string
}

// Scraper fetches a URL and extracts its main text. Failures are returned as
// *content.Fault values: FaultScrape for transport/HTTP problems, FaultContent
// when the page loaded but held no readable text.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*Page, error)
}

type HTTPScraper struct {
	client    *http.Client
	userAgent string
	maxBody   int64
	policy    *bluemonday.Policy
}

// New creates a scraper with the given per-request timeout.
func New(timeout time.Duration, userAgent string) *HTTPScraper {
	return NewWithClient(&http.Client{Timeout: timeout}, userAgent)
}

// NewWithClient creates a scraper with a caller-supplied HTTP client.
func NewWithClient(client *http.Client, userAgent string) *HTTPScraper {
	return &HTTPScraper{
		client:    client,
		userAgent: userAgent,
		maxBody:   defaultMaxBody,
		policy:    bluemonday.UGCPolicy(),
	}
}

// SetMaxBodyBytes caps how much of a response is read.
func (s *HTTPScraper) SetMaxBodyBytes(n int64) {
	if n > 0 {
		s.maxBody = n
	}
}

func (s *HTTPScraper) Scrape(ctx context.Context, rawURL string) (*Page, error) {
	pageURL, err := url.Parse(rawURL)
	if err != nil || pageURL.Host == "" {
		return nil, content.Faultf(content.FaultScrape, "invalid url %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, content.Faultf(content.FaultScrape, "creating request: %v", err)
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, content.Faultf(content.FaultScrape, "fetching page: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, content.Faultf(content.FaultScrape, "page returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBody))
	if err != nil {
		return nil, content.Faultf(content.FaultScrape, "reading page: %v", err)
	}

	return s.extract(body, pageURL)
}

func (s *HTTPScraper) extract(body []byte, pageURL *url.URL) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, content.Faultf(content.FaultScrape, "parsing page: %v", err)
	}
	page := &Page{SiteName: siteName(doc)}

	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err == nil {
		page.Text = normalizeSpace(article.TextContent)
		page.Markup = strings.TrimSpace(s.policy.Sanitize(article.Content))
	}

	if page.Text == "" {
		// readability gives up on thin pages; fall back to the visible body text.
		doc.Find("script, style, noscript, nav, header, footer, aside, form").Remove()
		body := doc.Find("body")
		page.Text = normalizeSpace(body.Text())
		if html, err := body.Html(); err == nil {
			page.Markup = strings.TrimSpace(s.policy.Sanitize(html))
		}
	}

	if page.Text == "" {
		return nil, content.Faultf(content.FaultContent, "no readable text found")
	}
	return page, nil
}

func siteName(doc *goquery.Document) string {
	if v, ok := doc.Find(`meta[property="og:site_name"]`).Attr("content"); ok {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	if v, ok := doc.Find(`meta[name="application-name"]`).Attr("content"); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// normalizeSpace collapses runs of blank lines and trims each line.
func normalizeSpace(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// String implements fmt.Stringer for log fields.
func (p *Page) String() string {
	return fmt.Sprintf("page(text=%d chars, markup=%d bytes)", len(p.Text), len(p.Markup))
}
