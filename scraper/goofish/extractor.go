// Package goofish adapts the goofish.com web search to the scraper
// contracts: a chromedp renderer and a goquery card extractor.
package goofish

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"goofish-crawler/models"
	"goofish-crawler/scraper"
	"goofish-crawler/utils"
)

// publishAttr carries the item's publish timestamp in milliseconds.
const publishAttr = "data-publish-time"

// CardExtractor reads item cards out of a rendered search page.
type CardExtractor struct {
	sel    Selectors
	logger *utils.Logger
}

// NewCardExtractor creates a CardExtractor.
func NewCardExtractor(sel Selectors, logger *utils.Logger) *CardExtractor {
	return &CardExtractor{sel: sel, logger: logger}
}

// Extract implements scraper.Extractor. Cards without an item link are
// skipped and counted; all other fields are best-effort.
// A missing page or unparseable HTML is a permanent failure.
func (e *CardExtractor) Extract(page *scraper.Page) (*scraper.Extraction, error) {
	if page == nil {
		return nil, utils.Permanent(errors.New("goofish: no page to extract"))
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return nil, utils.Permanent(fmt.Errorf("failed to parse HTML: %w", err))
	}

	out := &scraper.Extraction{DisplayedIndex: -1}
	doc.Find(e.sel.Card).Each(func(i int, s *goquery.Selection) {
		href := e.link(s)
		if href == "" {
			out.Skipped++
			return
		}
		out.Listings = append(out.Listings, &models.RawListing{
			Title:        text(s, e.sel.Title),
			RawPrice:     text(s, e.sel.Price),
			URL:          href,
			ThumbnailURL: image(s, e.sel.Thumbnail),
			Seller:       text(s, e.sel.Seller),
			Area:         text(s, e.sel.Area),
			RawPublished: e.publishTime(s),
			PageIndex:    page.Index,
		})
	})

	if e.sel.NextPage != "" {
		out.LastPage = doc.Find(e.sel.NextPage).Length() == 0
	}
	if e.sel.CurrentPage != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(doc.Find(e.sel.CurrentPage).First().Text())); err == nil && n > 0 {
			out.DisplayedIndex = n - 1
		}
	}

	e.logger.Debug("[goofish] page %d: %d cards, %d skipped, last=%v",
		page.Index, len(out.Listings), out.Skipped, out.LastPage)
	return out, nil
}

func (e *CardExtractor) link(s *goquery.Selection) string {
	if e.sel.Link == "" {
		if href := strings.TrimSpace(s.AttrOr("href", "")); href != "" {
			return href
		}
		return strings.TrimSpace(s.Find("a[href]").First().AttrOr("href", ""))
	}
	return strings.TrimSpace(s.Find(e.sel.Link).First().AttrOr("href", ""))
}

func (e *CardExtractor) publishTime(s *goquery.Selection) string {
	if ts := strings.TrimSpace(s.AttrOr(publishAttr, "")); ts != "" {
		return ts
	}
	if e.sel.PublishTime == "" {
		return ""
	}
	el := s.Find(e.sel.PublishTime).First()
	if ts := strings.TrimSpace(el.AttrOr(publishAttr, "")); ts != "" {
		return ts
	}
	return strings.TrimSpace(el.Text())
}

func text(s *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.TrimSpace(s.Find(selector).First().Text())
}

func image(s *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	img := s.Find(selector).First()
	if src := strings.TrimSpace(img.AttrOr("src", "")); src != "" {
		return src
	}
	return strings.TrimSpace(img.AttrOr("data-src", ""))
}
