package newsai

import (
	"errors"
	"fmt"

	"github.com/matthewjhunter/newsai/internal/storage"
)

var (
	// ErrNotFound is returned when an article or feed does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateFeed is returned when a feed URL is already registered.
	ErrDuplicateFeed = errors.New("feed URL already registered")
	// ErrGeneratorUnavailable is returned by generation-dependent operations
	// when no model backend could be configured.
	ErrGeneratorUnavailable = errors.New("generation service unavailable")
	// ErrScrapeFailed is returned by RegenerateSummary when the forced
	// re-scrape fails.
	ErrScrapeFailed = errors.New("failed to get valid content for regeneration")
)

// ValidationError reports a malformed request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// PersistenceError wraps a storage failure surfaced by the engine.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// storeErr maps storage errors onto the public error set.
func storeErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, storage.ErrDuplicate):
		return fmt.Errorf("%s: %w", op, ErrDuplicateFeed)
	default:
		return &PersistenceError{Op: op, Err: err}
	}
}
