package goofish

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"goofish-crawler/scraper"
	"goofish-crawler/utils"
)

// DefaultSearchURL is the search page template. {keyword} is replaced by the
// escaped keyword and {page} by the 1-based page number. Results are sorted
// newest first so repeated crawls reach fresh items on the first pages.
const DefaultSearchURL = "https://www.goofish.com/search?q={keyword}&pageNumber={page}&sortField=create&sortValue=desc"

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// RendererOptions configure the headless browser.
type RendererOptions struct {
	SearchURL  string
	Headless   bool
	UserAgent  string
	ChromeBin  string
	RenderWait time.Duration // settle time after navigation before scrolling
	// CardSelector is waited for after navigation; an empty result page
	// still renders once the wait times out.
	CardSelector     string
	ChallengeMarkers []string
}

// ChromeRenderer renders search pages in a shared headless Chrome, one tab
// per Render call. It is safe for concurrent use.
type ChromeRenderer struct {
	opts          RendererOptions
	logger        *utils.Logger
	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
}

// NewChromeRenderer starts a browser process. Call Close to stop it.
func NewChromeRenderer(opts RendererOptions, logger *utils.Logger) (*ChromeRenderer, error) {
	if opts.SearchURL == "" {
		opts.SearchURL = DefaultSearchURL
	}
	if !strings.Contains(opts.SearchURL, "{keyword}") {
		return nil, fmt.Errorf("goofish: search URL %q has no {keyword} placeholder", opts.SearchURL)
	}
	if err := checkSearchURL(SearchURL(opts.SearchURL, "keyword", 0)); err != nil {
		return nil, err
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.RenderWait <= 0 {
		opts.RenderWait = 3 * time.Second
	}

	chromeBin := opts.ChromeBin
	if chromeBin == "" {
		chromeBin = findChromeBinary()
	}
	logger.Info("[goofish] Using browser binary: %s", chromeBin)

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(opts.UserAgent),
	)
	if chromeBin != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocOpts...)

	// Suppress chromedp log noise
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("goofish: start browser: %w", err)
	}

	return &ChromeRenderer{
		opts:          opts,
		logger:        logger,
		browserCtx:    browserCtx,
		cancelBrowser: cancelBrowser,
		cancelAlloc:   cancelAlloc,
	}, nil
}

// SearchURL builds the URL of the given 0-based result page.
func SearchURL(template, keyword string, pageIndex int) string {
	return strings.NewReplacer(
		"{keyword}", url.QueryEscape(keyword),
		"{page}", strconv.Itoa(pageIndex+1),
	).Replace(template)
}

// Render implements scraper.Renderer.
func (r *ChromeRenderer) Render(ctx context.Context, keyword string, pageIndex int) (*scraper.Page, error) {
	pageURL := SearchURL(r.opts.SearchURL, keyword, pageIndex)
	if err := checkSearchURL(pageURL); err != nil {
		return nil, err
	}

	tabCtx, cancelTab := chromedp.NewContext(r.browserCtx)
	defer cancelTab()
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	actions := []chromedp.Action{
		chromedp.Navigate(pageURL),
		chromedp.Sleep(r.opts.RenderWait),
	}
	if r.opts.CardSelector != "" {
		actions = append(actions, waitVisible(r.opts.CardSelector, 5*time.Second))
	}

	var html string
	actions = append(actions,
		// Scroll to load lazy cards and images
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight / 2)`, nil),
		chromedp.Sleep(time.Second),
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
		chromedp.Sleep(time.Second),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)

	if err := chromedp.Run(tabCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("render %s: %w", pageURL, ctx.Err())
		}
		return nil, fmt.Errorf("render %s: %w", pageURL, err)
	}

	if marker := challengeMarker(html, r.opts.ChallengeMarkers); marker != "" {
		return nil, fmt.Errorf("render %s: %w (marker %q)", pageURL, scraper.ErrBlocked, marker)
	}

	r.logger.Debug("[goofish] rendered %s (%d bytes)", pageURL, len(html))
	return &scraper.Page{Index: pageIndex, URL: pageURL, HTML: html}, nil
}

// checkSearchURL rejects URLs a browser cannot navigate to. Retrying such a
// URL cannot help, so the error is permanent.
func checkSearchURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return utils.Permanent(fmt.Errorf("goofish: bad search URL %q: %w", raw, err))
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return utils.Permanent(fmt.Errorf("goofish: search URL %q is not an absolute http(s) URL", raw))
	}
	return nil
}

// Close stops the browser.
func (r *ChromeRenderer) Close() {
	r.cancelBrowser()
	r.cancelAlloc()
}

// waitVisible waits up to d for sel and carries on if it never shows up.
func waitVisible(sel string, d time.Duration) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		waitCtx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		_ = chromedp.WaitVisible(sel, chromedp.ByQuery).Do(waitCtx)
		return ctx.Err()
	})
}

func challengeMarker(html string, markers []string) string {
	for _, m := range markers {
		if m != "" && strings.Contains(html, m) {
			return m
		}
	}
	return ""
}

func findChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
