package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"goofish-crawler/api"
	"goofish-crawler/config"
	"goofish-crawler/models"
	"goofish-crawler/scheduler"
	"goofish-crawler/services"
	"goofish-crawler/utils"
)

const usageText = `goofish-crawler: keyword crawler for goofish.com listings

Usage:
  goofish-crawler search <keyword> [-pages N] [-format table|json|csv] [-o FILE] [-dry-run] [-limit N]
  goofish-crawler serve
  goofish-crawler watch [-schedule SPEC] [-pages N] <keyword> [keyword...]
  goofish-crawler insights [-keyword K] [-limit N]
  goofish-crawler info

Configuration is read from .env and the environment (see config/config.go).
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usageText)
		os.Exit(2)
	}

	logger := utils.NewLogger()
	cfg := config.Load()
	logger.SetDebug(cfg.Debug)
	if err := cfg.Validate(); err != nil {
		logger.Error("%v", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "search":
		err = runSearch(ctx, cfg, logger, args)
	case "serve":
		err = runServe(ctx, cfg, logger)
	case "watch":
		err = runWatch(ctx, cfg, logger, args)
	case "insights":
		err = runInsights(ctx, cfg, logger, args)
	case "info":
		err = runInfo(ctx, cfg, logger)
	case "help", "-h", "--help":
		fmt.Print(usageText)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usageText)
		os.Exit(2)
	}

	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		logger.Error("%v", err)
		os.Exit(1)
	}
}

func runSearch(ctx context.Context, cfg *config.Config, logger *utils.Logger, args []string) error {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	pages := fs.Int("pages", cfg.MaxPagesDefault, "maximum number of result pages")
	format := fs.String("format", "table", "output format: table, json or csv")
	out := fs.String("o", "", "write listings to this file instead of stdout")
	dryRun := fs.Bool("dry-run", false, "use an in-memory store instead of PostgreSQL")
	limit := fs.Int("limit", 20, "rows shown in table output (0 = all)")

	keyword, err := parseWithKeyword(fs, args)
	if err != nil {
		return err
	}
	switch *format {
	case "table", "json", "csv":
	default:
		return fmt.Errorf("unknown format %q", *format)
	}
	if *format != "table" && *out == "" {
		// stdout carries the export
		logger.SetOutput(os.Stderr)
	}

	backend, err := openBackend(ctx, cfg, logger, *dryRun)
	if err != nil {
		return err
	}
	defer backend.Close()

	crawler, closeBrowser, err := newCrawler(cfg, backend.dedup, logger, true)
	if err != nil {
		return err
	}
	defer closeBrowser()

	result, err := crawler.Crawl(ctx, models.CrawlRequest{Keyword: keyword, MaxPages: *pages})
	if result != nil {
		logSummary(logger, result)
		if werr := writeListings(result, *format, *out, *limit); werr != nil {
			logger.Error("Writing output failed: %v", werr)
		} else if *out != "" {
			logger.Info("Listings saved to %s", *out)
		}
	}
	return err
}

func runServe(ctx context.Context, cfg *config.Config, logger *utils.Logger) error {
	backend, err := openBackend(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer backend.Close()

	crawler, closeBrowser, err := newCrawler(cfg, backend.dedup, logger, false)
	if err != nil {
		return err
	}
	defer closeBrowser()

	srv := api.NewServer(crawler, backend.reader, cfg.MaxPagesDefault, logger)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(cfg.ServerAddr()) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.PageTimeout+10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runWatch(ctx context.Context, cfg *config.Config, logger *utils.Logger, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	schedule := fs.String("schedule", "@every 1h", "cron schedule for every keyword")
	pages := fs.Int("pages", cfg.MaxPagesDefault, "maximum number of result pages per crawl")
	now := fs.Bool("now", false, "also crawl every keyword once at startup")
	if err := fs.Parse(args); err != nil {
		return err
	}
	keywords := splitKeywords(fs.Args())
	if len(keywords) == 0 {
		return errors.New("watch: at least one keyword is required")
	}

	backend, err := openBackend(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer backend.Close()

	crawler, closeBrowser, err := newCrawler(cfg, backend.dedup, logger, false)
	if err != nil {
		return err
	}
	defer closeBrowser()

	sched := scheduler.New(crawler, logger)
	for _, kw := range keywords {
		req := models.CrawlRequest{Keyword: kw, MaxPages: *pages}
		if err := crawler.Validate(req); err != nil {
			return err
		}
		if err := sched.Add(*schedule, kw, *pages); err != nil {
			return err
		}
	}
	sched.Start()
	if *now {
		for _, kw := range keywords {
			go sched.RunOnce(models.CrawlRequest{Keyword: kw, MaxPages: *pages})
		}
	}

	<-ctx.Done()
	logger.Info("Stopping scheduler...")
	sched.Stop()
	return nil
}

func runInsights(ctx context.Context, cfg *config.Config, logger *utils.Logger, args []string) error {
	fs := flag.NewFlagSet("insights", flag.ContinueOnError)
	keyword := fs.String("keyword", "", "only listings for this keyword (crawl keyword or title match)")
	limit := fs.Int("limit", 1000, "maximum listings to analyse")
	if err := fs.Parse(args); err != nil {
		return err
	}

	backend, err := openBackend(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer backend.Close()

	listings, err := backend.reader.ListListings(ctx, models.ListingQuery{Keyword: *keyword, Limit: *limit})
	if err != nil {
		return fmt.Errorf("failed to fetch listings for insights: %w", err)
	}

	insightSvc := services.NewInsightService(logger)
	insightSvc.Print(insightSvc.Generate(*keyword, listings))
	return nil
}

func runInfo(ctx context.Context, cfg *config.Config, logger *utils.Logger) error {
	backend, err := openBackend(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer backend.Close()

	n, err := backend.reader.CountListings(ctx)
	if err != nil {
		return err
	}
	latest, err := backend.reader.ListListings(ctx, models.ListingQuery{Limit: 5})
	if err != nil {
		return err
	}

	fmt.Printf("Stored listings: %d\n\n", n)
	if len(latest) > 0 {
		fmt.Println("Latest listings:")
		printStoredTable(os.Stdout, latest)
	}
	return nil
}

// parseWithKeyword accepts the keyword before or after the flags.
func parseWithKeyword(fs *flag.FlagSet, args []string) (string, error) {
	var keyword string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		keyword, args = args[0], args[1:]
	}
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if rest := strings.Join(fs.Args(), " "); rest != "" {
		keyword = strings.TrimSpace(keyword + " " + rest)
	}
	if keyword == "" {
		return "", fmt.Errorf("%s: a keyword is required", fs.Name())
	}
	return keyword, nil
}

// splitKeywords accepts space separated args and comma separated lists.
func splitKeywords(args []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, a := range args {
		for _, kw := range strings.Split(a, ",") {
			kw = strings.TrimSpace(kw)
			if kw != "" && !seen[kw] {
				seen[kw] = true
				out = append(out, kw)
			}
		}
	}
	return out
}

func logSummary(logger *utils.Logger, r *models.CrawlResult) {
	logger.Info("Crawl %s for %q: %s", r.RunID, r.Keyword, r.Status)
	logger.Info("Total results: %d | new: %d | failed pages: %d | skipped cards: %d",
		r.TotalResults, r.NewRecords, r.FailedPages, r.SkippedCards)
	if r.LowConfidenceSkipped > 0 {
		logger.Info("Low-confidence listings not stored: %d", r.LowConfidenceSkipped)
	}
	if len(r.NewRecordIDs) > 0 {
		logger.Info("New record IDs: %v", r.NewRecordIDs)
	}
}
