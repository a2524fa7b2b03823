// Package scheduler runs keyword crawls on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"

	"goofish-crawler/models"
	"goofish-crawler/utils"
)

// Crawler is the part of scraper.Crawler the scheduler needs.
type Crawler interface {
	Crawl(ctx context.Context, req models.CrawlRequest) (*models.CrawlResult, error)
}

// Scheduler triggers crawls for a set of keywords. A keyword whose previous
// crawl is still running is skipped for that tick.
type Scheduler struct {
	cron    *cron.Cron
	crawler Crawler
	logger  *utils.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running map[string]bool
}

// New creates a Scheduler. Crawls it starts are cancelled by Stop.
func New(crawler Crawler, logger *utils.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(),
		crawler: crawler,
		logger:  logger.With("scheduler"),
		ctx:     ctx,
		cancel:  cancel,
		running: make(map[string]bool),
	}
}

// Add registers a crawl of keyword over maxPages pages on the given cron
// schedule (standard 5-field syntax or descriptors like "@every 30m").
func (s *Scheduler) Add(schedule, keyword string, maxPages int) error {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return fmt.Errorf("scheduler: empty keyword")
	}
	req := models.CrawlRequest{Keyword: keyword, MaxPages: maxPages}
	if _, err := s.cron.AddFunc(schedule, func() { s.RunOnce(req) }); err != nil {
		return fmt.Errorf("failed to add cron job for %q: %w", keyword, err)
	}
	s.logger.Info("Scheduled %q (%d pages) on %q", keyword, maxPages, schedule)
	return nil
}

// Start runs the cron loop in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling, cancels running crawls and waits for them to
// return.
func (s *Scheduler) Stop() {
	done := s.cron.Stop()
	s.cancel()
	<-done.Done()
}

// RunOnce crawls req now unless a crawl for the same keyword is in flight.
// It reports whether the crawl ran.
func (s *Scheduler) RunOnce(req models.CrawlRequest) bool {
	if !s.acquire(req.Keyword) {
		s.logger.Warn("Skipping %q: previous crawl still running", req.Keyword)
		return false
	}
	defer s.release(req.Keyword)

	s.logger.Info("Cron triggered: crawling %q", req.Keyword)
	res, err := s.crawler.Crawl(s.ctx, req)
	if err != nil {
		s.logger.Error("Crawl of %q failed: %v", req.Keyword, err)
		return true
	}
	s.logger.Info("Crawl of %q: %s, %d new of %d", req.Keyword, res.Status, res.NewRecords, res.TotalResults)
	return true
}

func (s *Scheduler) acquire(keyword string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[keyword] {
		return false
	}
	s.running[keyword] = true
	return true
}

func (s *Scheduler) release(keyword string) {
	s.mu.Lock()
	delete(s.running, keyword)
	s.mu.Unlock()
}
