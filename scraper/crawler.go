package scraper

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"goofish-crawler/models"
	"goofish-crawler/services"
	"goofish-crawler/storage"
	"goofish-crawler/utils"
)

// Options tune a Crawler. Zero values fall back to the defaults below.
type Options struct {
	Concurrency    int
	RateLimitMs    int
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	PageTimeout    time.Duration
	MaxPagesLimit  int
	LowConfidence  LowConfidencePolicy
	// KeepListings retains the cleaned listings on the result for export.
	KeepListings bool
}

const (
	defaultConcurrency   = 3
	defaultMaxRetries    = 3
	defaultRetryDelay    = 2 * time.Second
	defaultPageTimeout   = 60 * time.Second
	defaultMaxPagesLimit = 50
)

func (o Options) withDefaults() Options {
	if o.Concurrency < 1 {
		o.Concurrency = defaultConcurrency
	}
	if o.MaxRetries < 1 {
		o.MaxRetries = defaultMaxRetries
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = defaultRetryDelay
	}
	if o.PageTimeout <= 0 {
		o.PageTimeout = defaultPageTimeout
	}
	if o.MaxPagesLimit < 1 {
		o.MaxPagesLimit = defaultMaxPagesLimit
	}
	if o.LowConfidence == "" {
		o.LowConfidence = LowConfidenceInsert
	}
	return o
}

// Crawler runs keyword searches. It is safe for concurrent use; each Crawl
// call gets its own worker pool.
type Crawler struct {
	renderer  Renderer
	extractor Extractor
	store     storage.DedupStore
	cleaner   *services.Cleaner
	logger    *utils.Logger
	opts      Options
}

// New creates a Crawler.
func New(renderer Renderer, extractor Extractor, store storage.DedupStore, opts Options, logger *utils.Logger) *Crawler {
	return &Crawler{
		renderer:  renderer,
		extractor: extractor,
		store:     store,
		cleaner:   services.NewCleaner(logger),
		logger:    logger,
		opts:      opts.withDefaults(),
	}
}

// Validate checks req without touching the network.
func (c *Crawler) Validate(req models.CrawlRequest) error {
	if strings.TrimSpace(req.Keyword) == "" {
		return fmt.Errorf("%w: keyword must not be empty", ErrInvalidRequest)
	}
	if req.MaxPages < 1 {
		return fmt.Errorf("%w: max_pages must be at least 1, got %d", ErrInvalidRequest, req.MaxPages)
	}
	if req.MaxPages > c.opts.MaxPagesLimit {
		return fmt.Errorf("%w: max_pages %d exceeds limit %d", ErrInvalidRequest, req.MaxPages, c.opts.MaxPagesLimit)
	}
	return nil
}

// Crawl fetches up to req.MaxPages result pages for req.Keyword, reserves
// every extracted listing and reports which ones were new.
//
// Individual page failures degrade the result to partially_completed. If no
// page succeeds a *CrawlFailedError is returned. A storage failure is
// returned alongside the partial result built so far, since its counts may
// be incomplete. Cancelling ctx stops new pages from being dispatched; pages
// already in flight finish their current attempt.
func (c *Crawler) Crawl(ctx context.Context, req models.CrawlRequest) (*models.CrawlResult, error) {
	if err := c.Validate(req); err != nil {
		return nil, err
	}
	keyword := strings.TrimSpace(req.Keyword)

	run := &crawlRun{
		Crawler: c,
		keyword: keyword,
		id:      uuid.NewString(),
		pages:   make(map[int][]*models.RawListing),
	}
	run.log = c.logger.With("run " + run.id[:8])
	run.stopAfter.Store(math.MaxInt64)

	run.log.Info("Crawling %q, up to %d pages (workers=%d)", keyword, req.MaxPages, c.opts.Concurrency)
	start := time.Now()

	dispatchCtx, stopDispatch := context.WithCancel(ctx)
	defer stopDispatch()
	run.stopDispatch = stopDispatch

	pool := utils.NewWorkerPool(c.opts.Concurrency, c.opts.RateLimitMs)
	for idx := 0; idx < req.MaxPages; idx++ {
		if int64(idx) > run.stopAfter.Load() {
			break
		}
		pageIndex := idx
		if err := pool.Submit(dispatchCtx, func() { run.page(ctx, pageIndex) }); err != nil {
			break
		}
	}
	pool.Wait()

	if ctx.Err() != nil {
		run.cancelled = true
	}

	result, err := run.finish()
	if result != nil {
		run.log.Info("Finished in %v: status=%s total=%d new=%d failed_pages=%d",
			time.Since(start).Round(time.Millisecond), result.Status,
			result.TotalResults, result.NewRecords, result.FailedPages)
	}
	return result, err
}

// crawlRun holds the mutable state of one Crawl call.
type crawlRun struct {
	*Crawler
	keyword      string
	id           string
	log          *utils.Logger
	stopDispatch context.CancelFunc

	// stopAfter is the lowest page index known to end the results.
	stopAfter atomic.Int64

	mu         sync.Mutex
	reports    []models.PageReport
	pages      map[int][]*models.RawListing
	newIDs     []int64
	total      int
	skipped    int
	lowSkipped int
	storeErr   error
	cancelled  bool
}

func (r *crawlRun) page(ctx context.Context, idx int) {
	// Dispatch may have been admitted before an earlier page hit the end.
	if int64(idx) > r.stopAfter.Load() {
		return
	}
	log := r.log.With(fmt.Sprintf("page %d", idx))

	retry := &utils.RetryConfig{
		MaxAttempts: r.opts.MaxRetries,
		BaseDelay:   r.opts.RetryBaseDelay,
		MaxDelay:    r.opts.RetryMaxDelay,
		Jitter:      0.2,
		Logger:      log,
	}

	var ext *Extraction
	attempts, err := retry.Do(ctx, "fetch", func(attempt int) error {
		// In-flight attempts run to completion even if the crawl is cancelled.
		attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.PageTimeout)
		defer cancel()

		page, err := r.renderer.Render(attemptCtx, r.keyword, idx)
		if err != nil {
			return err
		}
		x, err := r.extractor.Extract(page)
		if err != nil {
			return err
		}
		ext = x
		return nil
	})

	report := models.PageReport{PageIndex: idx, Attempts: attempts}
	if err != nil {
		aborted := &PageAbortedError{PageIndex: idx, Attempts: attempts, Err: err}
		log.Error("%v", aborted)
		report.State = models.PageAborted
		report.Error = err.Error()
		r.record(report, nil, nil, 0)
		return
	}

	listings := r.cleaner.Clean(ext.Listings)
	for _, l := range listings {
		l.PageIndex = idx
	}
	report.State = models.PageSucceeded
	report.Skipped = ext.Skipped

	switch {
	case ext.DisplayedIndex >= 0 && ext.DisplayedIndex < idx:
		// The site clamped us back to an earlier page: nothing past idx-1 exists.
		log.Info("Site showed page %d instead, past the last page", ext.DisplayedIndex)
		r.lowerStop(int64(idx) - 1)
		report.LastPage = true
		listings = nil
	case len(listings) == 0:
		log.Info("No listings, stopping pagination")
		r.lowerStop(int64(idx))
		report.LastPage = true
	case ext.LastPage:
		log.Debug("Last page reached")
		r.lowerStop(int64(idx))
		report.LastPage = true
	}
	report.Listings = len(listings)

	candidates, lowSkipped := r.candidates(listings)
	var reservations []models.Reservation
	if len(candidates) > 0 {
		// Results of a fetched page are always persisted, cancellation or not.
		reservations, err = r.store.Reserve(context.WithoutCancel(ctx), r.keyword, candidates)
		if err != nil {
			log.Error("Reserving %d listings failed: %v", len(candidates), err)
			r.failStorage(err)
			report.Error = err.Error()
			r.record(report, listings, nil, lowSkipped)
			return
		}
	}
	r.record(report, listings, reservations, lowSkipped)
	log.Info("%d listings, %d skipped cards, %d new", len(listings), ext.Skipped, countNew(reservations))
}

// candidates fingerprints listings and drops duplicates within the page.
func (r *crawlRun) candidates(listings []*models.RawListing) ([]models.Candidate, int) {
	seen := make(map[string]struct{}, len(listings))
	out := make([]models.Candidate, 0, len(listings))
	lowSkipped := 0
	for _, l := range listings {
		fp := services.Fingerprint(l)
		if fp.LowConfidence && r.opts.LowConfidence == LowConfidenceSkip {
			lowSkipped++
			continue
		}
		if _, dup := seen[fp.Key]; dup {
			continue
		}
		seen[fp.Key] = struct{}{}
		out = append(out, models.Candidate{Fingerprint: fp, Listing: l})
	}
	return out, lowSkipped
}

func (r *crawlRun) lowerStop(idx int64) {
	for {
		cur := r.stopAfter.Load()
		if idx >= cur || r.stopAfter.CompareAndSwap(cur, idx) {
			return
		}
	}
}

func (r *crawlRun) failStorage(err error) {
	r.mu.Lock()
	if r.storeErr == nil {
		r.storeErr = err
	}
	r.mu.Unlock()
	r.stopDispatch()
}

func (r *crawlRun) record(report models.PageReport, listings []*models.RawListing, res []models.Reservation, lowSkipped int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	if report.State != models.PageSucceeded {
		return
	}
	r.total += len(listings)
	r.skipped += report.Skipped
	r.lowSkipped += lowSkipped
	r.pages[report.PageIndex] = listings
	for _, rv := range res {
		if rv.IsNew {
			r.newIDs = append(r.newIDs, rv.ID)
		}
	}
}

func (r *crawlRun) finish() (*models.CrawlResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stopAfter := r.stopAfter.Load()
	sort.Slice(r.reports, func(i, j int) bool { return r.reports[i].PageIndex < r.reports[j].PageIndex })
	sort.Slice(r.newIDs, func(i, j int) bool { return r.newIDs[i] < r.newIDs[j] })

	result := &models.CrawlResult{
		RunID:                r.id,
		Keyword:              r.keyword,
		TotalResults:         r.total,
		NewRecords:           len(r.newIDs),
		NewRecordIDs:         append([]int64{}, r.newIDs...),
		SkippedCards:         r.skipped,
		LowConfidenceSkipped: r.lowSkipped,
		Cancelled:            r.cancelled,
		Pages:                r.reports,
	}

	succeeded := 0
	var failed []models.PageReport
	for _, p := range r.reports {
		switch {
		case p.State == models.PageSucceeded:
			succeeded++
		case int64(p.PageIndex) <= stopAfter:
			// Failures past the end of the results do not count.
			failed = append(failed, p)
		}
	}
	result.FailedPages = len(failed)

	if r.opts.KeepListings {
		indexes := make([]int, 0, len(r.pages))
		for idx := range r.pages {
			indexes = append(indexes, idx)
		}
		sort.Ints(indexes)
		for _, idx := range indexes {
			result.Listings = append(result.Listings, r.pages[idx]...)
		}
	}

	if r.storeErr != nil {
		result.Status = models.StatusFailed
		return result, fmt.Errorf("reserving listings for %q: %w", r.keyword, r.storeErr)
	}
	if succeeded == 0 && len(failed) > 0 {
		return nil, &CrawlFailedError{Keyword: r.keyword, Pages: failed}
	}
	if len(failed) > 0 || r.cancelled {
		result.Status = models.StatusPartiallyCompleted
	} else {
		result.Status = models.StatusCompleted
	}
	return result, nil
}

func countNew(res []models.Reservation) int {
	n := 0
	for _, rv := range res {
		if rv.IsNew {
			n++
		}
	}
	return n
}
