package models

import (
	"fmt"
	"time"
)

// Price is an amount in the smallest currency unit (cents / fen).
// An invalid Price means the card carried no parseable price; it is kept
// apart from a real zero.
type Price struct {
	Cents int64
	Valid bool
}

// PriceOf returns a valid Price for the given number of cents.
func PriceOf(cents int64) Price {
	return Price{Cents: cents, Valid: true}
}

func (p Price) String() string {
	if !p.Valid {
		return "unknown"
	}
	return fmt.Sprintf("%d.%02d", p.Cents/100, p.Cents%100)
}

// RawListing is one item card as extracted from a rendered result page.
// It is transient and never persisted directly.
type RawListing struct {
	Title        string
	RawPrice     string
	Price        Price
	URL          string
	ThumbnailURL string
	Seller       string
	Area         string
	// RawPublished is the publish time as shown or embedded in the card.
	RawPublished string
	// PublishedAt is zero when the publish time is unknown.
	PublishedAt time.Time
	PageIndex   int
}

// Fingerprint identifies a listing for deduplication. LowConfidence is set
// when the key had to be derived from title, price and seller instead of
// the item URL.
type Fingerprint struct {
	Key           string
	LowConfidence bool
}

// StoredListing is the persisted record, created on first sighting of its
// fingerprint and never updated by the crawl pipeline afterwards.
type StoredListing struct {
	ID            int64
	Fingerprint   string
	LowConfidence bool
	Title         string
	RawPrice      string
	Price         Price
	URL           string
	ThumbnailURL  string
	Seller        string
	Area          string
	PageIndex     int
	Keyword       string
	PublishedAt   time.Time // zero when unknown
	FirstSeenAt   time.Time
}

// Candidate pairs an extracted listing with its fingerprint on its way to
// the dedup store.
type Candidate struct {
	Fingerprint Fingerprint
	Listing     *RawListing
}

// Reservation is the store's verdict for one fingerprint.
type Reservation struct {
	Fingerprint string
	IsNew       bool
	ID          int64
}

// CrawlRequest asks for a keyword search over at most MaxPages result pages.
type CrawlRequest struct {
	Keyword  string `json:"keyword"`
	MaxPages int    `json:"max_pages"`
}

// CrawlStatus is the orchestrator-level outcome of a run.
type CrawlStatus string

const (
	StatusCompleted          CrawlStatus = "completed"
	StatusPartiallyCompleted CrawlStatus = "partially_completed"
	StatusFailed             CrawlStatus = "failed"
)

// PageState is the terminal state of a single page task.
type PageState string

const (
	PageSucceeded PageState = "succeeded"
	PageAborted   PageState = "aborted"
)

// PageReport records what happened to one result page.
type PageReport struct {
	PageIndex int       `json:"page_index"`
	State     PageState `json:"state"`
	Attempts  int       `json:"attempts"`
	Listings  int       `json:"listings"`
	Skipped   int       `json:"skipped"`
	LastPage  bool      `json:"last_page,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// CrawlResult aggregates a run. NewRecordIDs are in ascending order.
type CrawlResult struct {
	RunID                string        `json:"run_id"`
	Status               CrawlStatus   `json:"status"`
	Keyword              string        `json:"keyword"`
	TotalResults         int           `json:"total_results"`
	NewRecords           int           `json:"new_records"`
	NewRecordIDs         []int64       `json:"new_record_ids"`
	FailedPages          int           `json:"failed_pages"`
	SkippedCards         int           `json:"skipped_cards"`
	LowConfidenceSkipped int           `json:"low_confidence_skipped"`
	Cancelled            bool          `json:"cancelled,omitempty"`
	Pages                []PageReport  `json:"pages,omitempty"`
	Listings             []*RawListing `json:"-"`
}

// ListingQuery is the read contract offered to downstream consumers.
// Zero values mean "no filter"; Limit <= 0 falls back to the reader's default.
type ListingQuery struct {
	Keyword       string
	Limit         int
	MinPriceCents int64
	MaxPriceCents int64
}

// InsightReport holds price and area statistics over stored listings.
type InsightReport struct {
	Keyword          string
	TotalListings    int
	PricedListings   int
	LowConfidence    int
	AveragePrice     float64
	MedianPrice      float64
	MinPrice         float64
	MaxPrice         float64
	Cheapest         *StoredListing
	MostExpensive    *StoredListing
	ListingsByArea   map[string]int
	ListingsBySeller map[string]int
}
