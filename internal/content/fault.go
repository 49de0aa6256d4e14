// Package content holds the tagged error type recorded next to scraped text
// and generated summaries.
package content

import (
	"errors"
	"fmt"
)

// FaultKind classifies a recorded processing failure.
type FaultKind string

const (
	// FaultScrape is a network or parse failure while fetching the article page.
	// It is sticky: automatic reconciliation does not retry it.
	FaultScrape FaultKind = "scrape"
	// FaultContent means the page was fetched but yielded no usable text. Sticky.
	FaultContent FaultKind = "content"
	// FaultGeneration is an LLM failure or empty output. Retried on the next pass.
	FaultGeneration FaultKind = "generation"
)

// Fault is a processing failure persisted alongside the content it replaced.
type Fault struct {
	Kind    FaultKind `json:"kind"`
	Message string    `json:"message"`
}

func (f *Fault) Error() string {
	return f.Display()
}

// Display renders the fault the way it is shown to API clients.
func (f *Fault) Display() string {
	if f == nil {
		return ""
	}
	label := "Error"
	switch f.Kind {
	case FaultScrape:
		label = "Scraping Error"
	case FaultContent:
		label = "Content Error"
	case FaultGeneration:
		label = "Generation Error"
	}
	if f.Message == "" {
		return label
	}
	return label + ": " + f.Message
}

// Sticky reports whether automatic reconciliation should leave the fault alone.
func (f *Fault) Sticky() bool {
	return f != nil && (f.Kind == FaultScrape || f.Kind == FaultContent)
}

// NewFault builds a fault of the given kind from err.
func NewFault(kind FaultKind, err error) *Fault {
	if err == nil {
		return &Fault{Kind: kind}
	}
	var existing *Fault
	if errors.As(err, &existing) && existing.Kind == kind {
		return &Fault{Kind: kind, Message: existing.Message}
	}
	return &Fault{Kind: kind, Message: err.Error()}
}

// Faultf is NewFault with a formatted message.
func Faultf(kind FaultKind, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// ParseKind maps a stored kind column back to a FaultKind. Unknown or empty
// values yield ok=false.
func ParseKind(s string) (FaultKind, bool) {
	switch FaultKind(s) {
	case FaultScrape, FaultContent, FaultGeneration:
		return FaultKind(s), true
	}
	return "", false
}
