package storage

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"goofish-crawler/models"
)

var csvHeader = []string{
	"page_index", "title", "raw_price", "price", "area", "seller", "url", "thumbnail_url", "published_at",
}

// CSVWriter writes extracted listings as CSV. It is safe for concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	closer io.Closer
	writer *csv.Writer
}

// NewCSVWriter creates (or truncates) the CSV file at the given path and
// writes the header row. Intermediate directories are created automatically.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv: create file %q: %w", path, err)
	}

	c, err := newCSVWriter(f, f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return c, nil
}

// NewCSVStream writes CSV to w, e.g. stdout. Close does not close w.
func NewCSVStream(w io.Writer) (*CSVWriter, error) {
	return newCSVWriter(w, nil)
}

func newCSVWriter(w io.Writer, closer io.Closer) (*CSVWriter, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("csv: write header: %w", err)
	}
	cw.Flush()
	return &CSVWriter{closer: closer, writer: cw}, cw.Error()
}

// WriteRaw appends one row per listing.
func (c *CSVWriter) WriteRaw(listings []*models.RawListing) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, l := range listings {
		price := ""
		if l.Price.Valid {
			price = l.Price.String()
		}
		published := ""
		if !l.PublishedAt.IsZero() {
			published = l.PublishedAt.Format(time.RFC3339)
		}
		row := []string{
			strconv.Itoa(l.PageIndex),
			l.Title,
			l.RawPrice,
			price,
			l.Area,
			l.Seller,
			l.URL,
			l.ThumbnailURL,
			published,
		}
		if err := c.writer.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

// Close flushes and closes the underlying file, if any.
func (c *CSVWriter) Close() error {
	c.writer.Flush()
	if c.closer == nil {
		return c.writer.Error()
	}
	return c.closer.Close()
}
