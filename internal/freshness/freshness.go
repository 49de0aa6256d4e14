// Package freshness decides what processing an article still needs.
//
// Evaluate is pure: it only reads the State it is given, so the request path
// and the background prefetch path can both call it without coordinating.
package freshness

import (
	"strings"

	"github.com/matthewjhunter/newsai/internal/content"
)

// DefaultMinTextLength is the length below which scraped text is treated as
// suspiciously short (likely a paywall or landing page).
const DefaultMinTextLength = 100

// Separator joins display error parts.
const Separator = " | "

const (
	msgPendingScrape = "Content pending fresh scrape."
	msgShortContent  = "Content previously scraped but found to be very short."
	msgNeedsSummary  = "Summary needs generation."
	msgNeedsTags     = "Tags need generation."
)

// State is the persisted view of one article that freshness depends on.
type State struct {
	Text        *string // nil when never scraped
	Markup      *string // nil when no markup was captured
	ScrapeFault *content.Fault

	HasSummary   bool
	SummaryFault *content.Fault // fault on the latest summary row, if any

	TagCount int
}

// Needs is the outcome of evaluation.
type Needs struct {
	Scrape  bool
	Summary bool
	Tags    bool
	// DisplayError is the deduplicated " | "-joined list of reasons; empty
	// when nothing is outstanding.
	DisplayError string
}

// Evaluator holds the tunable policy.
type Evaluator struct {
	MinTextLength int
}

// New returns an Evaluator using minTextLength, or the default when it is not positive.
func New(minTextLength int) Evaluator {
	if minTextLength <= 0 {
		minTextLength = DefaultMinTextLength
	}
	return Evaluator{MinTextLength: minTextLength}
}

// UsableText reports whether s carries text that summaries and tags can be built from.
func UsableText(s State) bool {
	return s.ScrapeFault == nil && s.Text != nil && strings.TrimSpace(*s.Text) != ""
}

// Short reports whether the text is present but below the threshold.
func (e Evaluator) Short(s State) bool {
	return s.Text != nil && len([]rune(strings.TrimSpace(*s.Text))) < e.MinTextLength
}

// Processable reports whether s has text long enough to summarize and tag.
// Short text is usually a landing or paywall page and is never sent to the
// generator.
func (e Evaluator) Processable(s State) bool {
	return UsableText(s) && !e.Short(s)
}

// NeedsScrape applies the scrape policy. A sticky fault never triggers a
// retry; only an explicit regenerate clears it.
func (e Evaluator) NeedsScrape(s State) bool {
	if s.ScrapeFault.Sticky() {
		return false
	}
	if s.Text == nil || strings.TrimSpace(*s.Text) == "" {
		return true
	}
	// Without markup there is no evidence a full page was ever seen.
	return s.Markup == nil
}

// Evaluate classifies s. Rules are independent; several may hold at once.
func (e Evaluator) Evaluate(s State) Needs {
	var n Needs
	n.Scrape = e.NeedsScrape(s)

	usable := UsableText(s)
	processable := e.Processable(s)
	summaryBad := !s.HasSummary || s.SummaryFault != nil
	n.Summary = processable && summaryBad
	n.Tags = processable && s.TagCount == 0

	var parts []string
	if n.Scrape {
		parts = append(parts, msgPendingScrape)
	}
	if s.ScrapeFault != nil {
		parts = append(parts, s.ScrapeFault.Display())
	}
	if !n.Scrape && usable && s.Markup != nil && e.Short(s) {
		parts = append(parts, msgShortContent)
	}
	if s.SummaryFault != nil {
		parts = append(parts, s.SummaryFault.Display())
	}
	if n.Summary {
		parts = append(parts, msgNeedsSummary)
	}
	if n.Tags {
		parts = append(parts, msgNeedsTags)
	}
	n.DisplayError = join(parts)
	return n
}

// ForRegenerate reports whether an explicit regenerate request must scrape
// again before generating. Unlike NeedsScrape it ignores stickiness and also
// retries short pages.
func (e Evaluator) ForRegenerate(s State) bool {
	if s.ScrapeFault != nil || s.Text == nil || s.Markup == nil {
		return true
	}
	return strings.TrimSpace(*s.Text) == "" || e.Short(s)
}

// join deduplicates while keeping first-seen order.
func join(parts []string) string {
	seen := make(map[string]bool, len(parts))
	out := parts[:0]
	for _, p := range parts {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return strings.Join(out, Separator)
}
