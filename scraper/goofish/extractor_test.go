package goofish

import (
	"os"
	"path/filepath"
	"testing"

	"goofish-crawler/scraper"
	"goofish-crawler/utils"
)

func loadPage(t *testing.T, name string, idx int) *scraper.Page {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	return &scraper.Page{Index: idx, HTML: string(data)}
}

func TestExtractCards(t *testing.T) {
	e := NewCardExtractor(DefaultSelectors(), utils.NewLogger())
	x, err := e.Extract(loadPage(t, "search_page.html", 1))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if len(x.Listings) != 3 {
		t.Fatalf("got %d listings; want 3", len(x.Listings))
	}
	if x.Skipped != 1 {
		t.Errorf("skipped = %d; want 1 (card without link)", x.Skipped)
	}
	if x.LastPage {
		t.Errorf("page with an enabled next arrow reported as last")
	}
	if x.DisplayedIndex != 1 {
		t.Errorf("DisplayedIndex = %d; want 1", x.DisplayedIndex)
	}

	first := x.Listings[0]
	if first.URL != "//www.goofish.com/item?id=7001&categoryId=126862528&spm=a21ybx.search.searchFeedList.1" {
		t.Errorf("URL = %q", first.URL)
	}
	if first.RawPrice != "¥1,350" {
		t.Errorf("RawPrice = %q", first.RawPrice)
	}
	if first.ThumbnailURL != "//img.alicdn.com/bao/uploaded/i1/7001.jpg" {
		t.Errorf("ThumbnailURL = %q", first.ThumbnailURL)
	}
	if first.Seller != "阿花的小铺" || first.Area != "上海" {
		t.Errorf("Seller = %q, Area = %q", first.Seller, first.Area)
	}
	if first.RawPublished != "3小时前" {
		t.Errorf("RawPublished = %q; want the card's publish label", first.RawPublished)
	}
	if first.PageIndex != 1 {
		t.Errorf("PageIndex = %d; want 1", first.PageIndex)
	}

	second := x.Listings[1]
	if second.ThumbnailURL != "https://img.alicdn.com/bao/uploaded/i2/7002.jpg" {
		t.Errorf("data-src fallback: ThumbnailURL = %q", second.ThumbnailURL)
	}
	if second.RawPublished != "1714537800000" {
		t.Errorf("RawPublished = %q; want the data-publish-time attribute", second.RawPublished)
	}
	if x.Listings[2].RawPublished != "" {
		t.Errorf("card without a publish time: RawPublished = %q", x.Listings[2].RawPublished)
	}
	if second.RawPrice != "¥1.2万" {
		t.Errorf("RawPrice = %q", second.RawPrice)
	}

	if x.Listings[2].URL != "fleamarket://item?id=7003" {
		t.Errorf("app link URL = %q", x.Listings[2].URL)
	}
}

func TestExtractLastPage(t *testing.T) {
	e := NewCardExtractor(DefaultSelectors(), utils.NewLogger())
	x, err := e.Extract(loadPage(t, "last_page.html", 4))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !x.LastPage {
		t.Errorf("disabled next arrow not detected")
	}
	if x.DisplayedIndex != 4 {
		t.Errorf("DisplayedIndex = %d; want 4", x.DisplayedIndex)
	}
	if len(x.Listings) != 1 || x.Listings[0].URL != "/item?id=9001" {
		t.Errorf("listings = %+v", x.Listings)
	}
}

func TestExtractEmptyPage(t *testing.T) {
	e := NewCardExtractor(DefaultSelectors(), utils.NewLogger())
	x, err := e.Extract(&scraper.Page{HTML: "<html><body><p>没有找到相关宝贝</p></body></html>"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(x.Listings) != 0 || !x.LastPage || x.DisplayedIndex != -1 {
		t.Errorf("got %+v; want empty last page with unknown index", x)
	}
}

func TestExtractCustomLinkSelector(t *testing.T) {
	sel := DefaultSelectors()
	sel.Card = "div.card"
	sel.Link = "a.item-link"
	e := NewCardExtractor(sel, utils.NewLogger())

	html := `<div class="card"><a class="shop" href="/shop/1">shop</a><a class="item-link" href="/item?id=5">x</a></div>`
	x, err := e.Extract(&scraper.Page{HTML: html})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(x.Listings) != 1 || x.Listings[0].URL != "/item?id=5" {
		t.Errorf("listings = %+v", x.Listings)
	}
}

func TestExtractMissingPageIsPermanent(t *testing.T) {
	e := NewCardExtractor(DefaultSelectors(), utils.NewLogger())
	if _, err := e.Extract(nil); !utils.IsPermanent(err) {
		t.Errorf("Extract(nil) error = %v; want a permanent error", err)
	}
}
