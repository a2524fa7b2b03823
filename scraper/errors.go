package scraper

import (
	"errors"
	"fmt"
	"strings"

	"goofish-crawler/models"
)

var (
	// ErrInvalidRequest is returned before any work starts.
	ErrInvalidRequest = errors.New("invalid crawl request")

	// ErrCrawlFailed matches a *CrawlFailedError.
	ErrCrawlFailed = errors.New("crawl failed")

	// ErrBlocked is returned by renderers when the marketplace served a
	// challenge page instead of results. It is retried like any transient
	// fetch failure.
	ErrBlocked = errors.New("blocked by challenge page")
)

// PageAbortedError reports a page whose retries were exhausted.
type PageAbortedError struct {
	PageIndex int
	Attempts  int
	Err       error
}

func (e *PageAbortedError) Error() string {
	return fmt.Sprintf("page %d aborted after %d attempts: %v", e.PageIndex, e.Attempts, e.Err)
}

func (e *PageAbortedError) Unwrap() error { return e.Err }

// CrawlFailedError is returned when no page of a run succeeded.
type CrawlFailedError struct {
	Keyword string
	Pages   []models.PageReport
}

func (e *CrawlFailedError) Error() string {
	reasons := make([]string, 0, len(e.Pages))
	for _, p := range e.Pages {
		reasons = append(reasons, fmt.Sprintf("page %d: %s", p.PageIndex, p.Error))
	}
	return fmt.Sprintf("crawl failed for %q: no page succeeded (%s)", e.Keyword, strings.Join(reasons, "; "))
}

func (e *CrawlFailedError) Is(target error) bool {
	return target == ErrCrawlFailed
}
