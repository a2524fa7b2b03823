package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"goofish-crawler/models"
	"goofish-crawler/storage"
	"goofish-crawler/utils"
)

type exportListing struct {
	PageIndex    int        `json:"page_index"`
	Title        string     `json:"title"`
	RawPrice     string     `json:"raw_price"`
	Price        *float64   `json:"price"`
	Area         string     `json:"area"`
	Seller       string     `json:"seller"`
	URL          string     `json:"url"`
	ThumbnailURL string     `json:"thumbnail_url"`
	PublishedAt  *time.Time `json:"published_at"`
}

type exportDocument struct {
	Result   *models.CrawlResult `json:"result"`
	Listings []exportListing     `json:"listings"`
}

// writeListings renders the extracted listings of r to path, or stdout when
// path is empty.
func writeListings(r *models.CrawlResult, format, path string, limit int) error {
	if format == "csv" {
		var (
			w   *storage.CSVWriter
			err error
		)
		if path == "" {
			w, err = storage.NewCSVStream(os.Stdout)
		} else {
			w, err = storage.NewCSVWriter(path)
		}
		if err != nil {
			return err
		}
		if err := w.WriteRaw(r.Listings); err != nil {
			_ = w.Close()
			return err
		}
		return w.Close()
	}

	out := io.Writer(os.Stdout)
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create %q: %w", path, err)
		}
		defer f.Close()
		out = f
	}

	if format == "json" {
		doc := exportDocument{Result: r, Listings: make([]exportListing, 0, len(r.Listings))}
		for _, l := range r.Listings {
			doc.Listings = append(doc.Listings, toExport(l))
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(doc)
	}

	listings := r.Listings
	if limit > 0 && len(listings) > limit {
		listings = listings[:limit]
	}
	printRawTable(out, listings)
	if len(listings) < len(r.Listings) {
		fmt.Fprintf(out, "... %d more (use -limit 0 or -format csv)\n", len(r.Listings)-len(listings))
	}
	return nil
}

func toExport(l *models.RawListing) exportListing {
	e := exportListing{
		PageIndex:    l.PageIndex,
		Title:        l.Title,
		RawPrice:     l.RawPrice,
		Area:         l.Area,
		Seller:       l.Seller,
		URL:          l.URL,
		ThumbnailURL: l.ThumbnailURL,
	}
	if l.Price.Valid {
		yuan := float64(l.Price.Cents) / 100
		e.Price = &yuan
	}
	if !l.PublishedAt.IsZero() {
		published := l.PublishedAt
		e.PublishedAt = &published
	}
	return e
}

func printRawTable(w io.Writer, listings []*models.RawListing) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PAGE\tTITLE\tPRICE\tAREA\tSELLER\tURL")
	for _, l := range listings {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			l.PageIndex+1, utils.Truncate(l.Title, 40), priceCell(l.Price, l.RawPrice),
			utils.Truncate(l.Area, 10), utils.Truncate(l.Seller, 16), l.URL)
	}
	tw.Flush()
}

func printStoredTable(w io.Writer, listings []*models.StoredListing) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKEYWORD\tTITLE\tPRICE\tFIRST SEEN")
	for _, l := range listings {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			l.ID, utils.Truncate(l.Keyword, 16), utils.Truncate(l.Title, 40),
			priceCell(l.Price, l.RawPrice), l.FirstSeenAt.Format("2006-01-02 15:04"))
	}
	tw.Flush()
}

func priceCell(p models.Price, raw string) string {
	if p.Valid {
		return "¥" + p.String()
	}
	if raw != "" {
		return utils.Truncate(raw, 10)
	}
	return "-"
}
