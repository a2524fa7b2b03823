package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"goofish-crawler/models"
	"goofish-crawler/utils"
)

type blockingCrawler struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (b *blockingCrawler) Crawl(ctx context.Context, req models.CrawlRequest) (*models.CrawlResult, error) {
	b.calls.Add(1)
	b.started <- struct{}{}
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return &models.CrawlResult{Keyword: req.Keyword, Status: models.StatusCompleted}, nil
}

func TestRunOnceSkipsOverlappingKeyword(t *testing.T) {
	c := &blockingCrawler{started: make(chan struct{}, 4), release: make(chan struct{})}
	s := New(c, utils.NewLogger())
	req := models.CrawlRequest{Keyword: "switch", MaxPages: 1}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.RunOnce(req)
	}()
	<-c.started

	if s.RunOnce(req) {
		t.Errorf("overlapping crawl for the same keyword ran")
	}

	other := models.CrawlRequest{Keyword: "iphone", MaxPages: 1}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if !s.RunOnce(other) {
			t.Errorf("crawl for a different keyword was skipped")
		}
	}()
	<-c.started

	close(c.release)
	wg.Wait()

	if got := c.calls.Load(); got != 2 {
		t.Errorf("crawler called %d times; want 2", got)
	}
	if !s.RunOnce(req) {
		t.Errorf("keyword not released after crawl finished")
	}
}

func TestAddRejectsBadInput(t *testing.T) {
	s := New(&blockingCrawler{}, utils.NewLogger())
	if err := s.Add("not a schedule", "switch", 1); err == nil {
		t.Errorf("invalid schedule accepted")
	}
	if err := s.Add("@every 1h", "  ", 1); err == nil {
		t.Errorf("empty keyword accepted")
	}
	if err := s.Add("@every 1h", "switch", 1); err != nil {
		t.Errorf("Add: %v", err)
	}
}

func TestStopCancelsRunningCrawl(t *testing.T) {
	c := &blockingCrawler{started: make(chan struct{}, 1), release: make(chan struct{})}
	s := New(c, utils.NewLogger())
	s.Start()

	done := make(chan struct{})
	go func() {
		s.RunOnce(models.CrawlRequest{Keyword: "switch", MaxPages: 1})
		close(done)
	}()
	<-c.started
	s.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("running crawl not cancelled by Stop")
	}
}
