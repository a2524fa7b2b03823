// Package scraper drives keyword searches across paginated result pages and
// hands every extracted listing to the dedup store.
package scraper

import (
	"context"

	"goofish-crawler/models"
)

// Page is one rendered search result page.
type Page struct {
	Index int // 0-based page index that was requested
	URL   string
	HTML  string
}

// Renderer loads the search result page for keyword at pageIndex and
// returns its rendered DOM. Implementations must honour ctx.
type Renderer interface {
	Render(ctx context.Context, keyword string, pageIndex int) (*Page, error)
}

// Extraction is what an Extractor found on a page.
type Extraction struct {
	// Listings in DOM order.
	Listings []*models.RawListing
	// Skipped counts cards that lacked an item URL.
	Skipped int
	// LastPage is set when the page shows no way forward.
	LastPage bool
	// DisplayedIndex is the 0-based page index the site says it showed,
	// or -1 when the page does not say.
	DisplayedIndex int
}

// Extractor turns a rendered page into raw listings.
type Extractor interface {
	Extract(page *Page) (*Extraction, error)
}

// LowConfidencePolicy decides what happens to listings whose fingerprint
// could not be derived from the item URL.
type LowConfidencePolicy string

const (
	LowConfidenceInsert LowConfidencePolicy = "insert"
	LowConfidenceSkip   LowConfidencePolicy = "skip"
)
