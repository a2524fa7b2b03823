package main

import (
	"context"
	"fmt"

	"goofish-crawler/config"
	"goofish-crawler/scraper"
	"goofish-crawler/scraper/goofish"
	"goofish-crawler/storage"
	"goofish-crawler/utils"
)

// backend bundles the write and read sides of the configured store.
type backend struct {
	dedup   storage.DedupStore
	reader  storage.ListingReader
	closers []func() error
}

// openBackend connects to PostgreSQL, fronted by the Redis seen-cache when
// REDIS_ADDR is set. dryRun swaps in an in-memory store.
func openBackend(ctx context.Context, cfg *config.Config, logger *utils.Logger, dryRun bool) (*backend, error) {
	if dryRun {
		logger.Warn("Dry run: listings are kept in memory only")
		mem := storage.NewMemoryStore()
		return &backend{dedup: mem, reader: mem}, nil
	}

	pg, err := storage.NewPostgresStore(ctx, cfg.DSN(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	b := &backend{dedup: pg, reader: pg, closers: []func() error{pg.Close}}

	if cfg.RedisAddr != "" {
		cache, err := storage.NewRedisSeenCache(ctx, storage.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
			Key:      cfg.SeenCacheKey,
			TTL:      cfg.SeenCacheTTL,
		})
		if err != nil {
			logger.Warn("Seen cache disabled: %v", err)
		} else {
			logger.Info("Seen cache enabled at %s (key %s)", cfg.RedisAddr, cfg.SeenCacheKey)
			b.dedup = storage.NewCachedStore(pg, cache, logger)
			b.closers = append(b.closers, cache.Close)
		}
	}
	return b, nil
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		_ = b.closers[i]()
	}
}

// newCrawler starts a browser and builds a Crawler on top of it. The
// returned func stops the browser.
func newCrawler(cfg *config.Config, dedup storage.DedupStore, logger *utils.Logger, keepListings bool) (*scraper.Crawler, func(), error) {
	sel, err := goofish.LoadSelectors(cfg.SelectorsFile)
	if err != nil {
		return nil, nil, err
	}

	renderer, err := goofish.NewChromeRenderer(goofish.RendererOptions{
		SearchURL:        cfg.SearchURLTemplate,
		Headless:         cfg.BrowserHeadless,
		UserAgent:        cfg.UserAgent,
		ChromeBin:        cfg.ChromeBin,
		RenderWait:       cfg.RenderWait,
		CardSelector:     sel.Card,
		ChallengeMarkers: sel.ChallengeMarkers,
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	opts := crawlerOptions(cfg)
	opts.KeepListings = keepListings
	crawler := scraper.New(renderer, goofish.NewCardExtractor(sel, logger), dedup, opts, logger)
	return crawler, renderer.Close, nil
}

func crawlerOptions(cfg *config.Config) scraper.Options {
	return scraper.Options{
		Concurrency:    cfg.MaxConcurrency,
		RateLimitMs:    cfg.RateLimitMs,
		MaxRetries:     cfg.MaxRetries,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.PageTimeout,
		PageTimeout:    cfg.PageTimeout,
		MaxPagesLimit:  cfg.MaxPagesLimit,
		LowConfidence:  scraper.LowConfidencePolicy(cfg.LowConfidencePolicy),
	}
}
