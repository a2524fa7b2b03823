// Package api exposes crawls and stored listings over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"goofish-crawler/models"
	"goofish-crawler/scraper"
	"goofish-crawler/storage"
	"goofish-crawler/utils"
)

// Crawler is the part of scraper.Crawler the server needs.
type Crawler interface {
	Crawl(ctx context.Context, req models.CrawlRequest) (*models.CrawlResult, error)
}

// Server serves the search and listing endpoints.
type Server struct {
	crawler         Crawler
	reader          storage.ListingReader
	logger          *utils.Logger
	defaultMaxPages int
	router          *mux.Router
	httpServer      *http.Server
}

// NewServer wires the routes. reader may be nil, in which case GET
// /listings answers 503.
func NewServer(crawler Crawler, reader storage.ListingReader, defaultMaxPages int, logger *utils.Logger) *Server {
	if defaultMaxPages < 1 {
		defaultMaxPages = 1
	}
	s := &Server{
		crawler:         crawler,
		reader:          reader,
		logger:          logger.With("api"),
		defaultMaxPages: defaultMaxPages,
		router:          mux.NewRouter(),
	}
	s.router.HandleFunc("/search", s.handleSearch).Methods(http.MethodPost)
	s.router.HandleFunc("/search/", s.handleSearch).Methods(http.MethodPost)
	s.router.HandleFunc("/listings", s.handleListings).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Use(s.logRequests)
	return s
}

// Handler returns the routed handler, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe blocks serving on addr until Shutdown is called.
func (s *Server) ListenAndServe(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Server running on %s", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight crawls.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

type searchResponse struct {
	Status               string              `json:"status"`
	CrawlStatus          models.CrawlStatus  `json:"crawl_status"`
	RunID                string              `json:"run_id"`
	Keyword              string              `json:"keyword"`
	TotalResults         int                 `json:"total_results"`
	NewRecords           int                 `json:"new_records"`
	NewRecordIDs         []int64             `json:"new_record_ids"`
	FailedPages          int                 `json:"failed_pages"`
	SkippedCards         int                 `json:"skipped_cards"`
	LowConfidenceSkipped int                 `json:"low_confidence_skipped"`
	Pages                []models.PageReport `json:"pages,omitempty"`
}

// errorResponse carries Partial when storage failed after some records
// were committed.
type errorResponse struct {
	Status  string              `json:"status"`
	Error   string              `json:"error"`
	Pages   []models.PageReport `json:"pages,omitempty"`
	Partial *searchResponse     `json:"partial,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseSearch(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Status: "error", Error: err.Error()})
		return
	}

	result, err := s.crawler.Crawl(r.Context(), req)
	if err != nil {
		s.writeCrawlError(w, result, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toSearchResponse(result))
}

// parseSearch accepts keyword and max_pages as query parameters or as a
// JSON body. Query parameters win; a missing max_pages means the default.
func (s *Server) parseSearch(r *http.Request) (models.CrawlRequest, error) {
	var body struct {
		Keyword  string `json:"keyword"`
		MaxPages *int   `json:"max_pages"`
	}

	if r.Body != nil && r.ContentLength != 0 {
		ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if ct == "application/json" {
			data, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
			if err != nil {
				return models.CrawlRequest{}, fmt.Errorf("reading body: %w", err)
			}
			if len(strings.TrimSpace(string(data))) > 0 {
				if err := json.Unmarshal(data, &body); err != nil {
					return models.CrawlRequest{}, fmt.Errorf("%w: malformed JSON body: %v", scraper.ErrInvalidRequest, err)
				}
			}
		}
	}

	req := models.CrawlRequest{Keyword: body.Keyword, MaxPages: s.defaultMaxPages}
	if body.MaxPages != nil {
		req.MaxPages = *body.MaxPages
	}

	q := r.URL.Query()
	if kw := q.Get("keyword"); kw != "" {
		req.Keyword = kw
	}
	if mp := q.Get("max_pages"); mp != "" {
		n, err := strconv.Atoi(mp)
		if err != nil {
			return req, fmt.Errorf("%w: max_pages must be an integer, got %q", scraper.ErrInvalidRequest, mp)
		}
		req.MaxPages = n
	}
	return req, nil
}

func (s *Server) writeCrawlError(w http.ResponseWriter, result *models.CrawlResult, err error) {
	resp := errorResponse{Status: "error", Error: err.Error()}
	status := http.StatusInternalServerError

	var failed *scraper.CrawlFailedError
	switch {
	case errors.Is(err, scraper.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.As(err, &failed):
		resp.Pages = failed.Pages
	case errors.Is(err, storage.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	if result != nil {
		partial := toSearchResponse(result)
		resp.Partial = &partial
	}
	if status >= 500 {
		s.logger.Error("search failed: %v", err)
	}
	s.writeJSON(w, status, resp)
}

func toSearchResponse(r *models.CrawlResult) searchResponse {
	ids := r.NewRecordIDs
	if ids == nil {
		ids = []int64{}
	}
	return searchResponse{
		Status:               "success",
		CrawlStatus:          r.Status,
		RunID:                r.RunID,
		Keyword:              r.Keyword,
		TotalResults:         r.TotalResults,
		NewRecords:           r.NewRecords,
		NewRecordIDs:         ids,
		FailedPages:          r.FailedPages,
		SkippedCards:         r.SkippedCards,
		LowConfidenceSkipped: r.LowConfidenceSkipped,
		Pages:                r.Pages,
	}
}

type listingJSON struct {
	ID            int64      `json:"id"`
	Title         string     `json:"title"`
	RawPrice      string     `json:"raw_price"`
	Price         *float64   `json:"price"`
	URL           string     `json:"url"`
	ThumbnailURL  string     `json:"thumbnail_url"`
	Seller        string     `json:"seller"`
	Area          string     `json:"area"`
	Keyword       string     `json:"keyword"`
	LowConfidence bool       `json:"low_confidence"`
	PublishedAt   *time.Time `json:"published_at"`
	FirstSeenAt   time.Time  `json:"first_seen_at"`
}

func (s *Server) handleListings(w http.ResponseWriter, r *http.Request) {
	if s.reader == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Status: "error", Error: "no listing store configured"})
		return
	}

	q := r.URL.Query()
	query := models.ListingQuery{Keyword: strings.TrimSpace(q.Get("keyword"))}
	var err error
	if query.Limit, err = intParam(q.Get("limit")); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Status: "error", Error: "limit: " + err.Error()})
		return
	}
	if query.MinPriceCents, err = centsParam(q.Get("min_price")); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Status: "error", Error: "min_price: " + err.Error()})
		return
	}
	if query.MaxPriceCents, err = centsParam(q.Get("max_price")); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Status: "error", Error: "max_price: " + err.Error()})
		return
	}

	listings, err := s.reader.ListListings(r.Context(), query)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, storage.ErrUnavailable) {
			status = http.StatusServiceUnavailable
		}
		s.logger.Error("listing query failed: %v", err)
		s.writeJSON(w, status, errorResponse{Status: "error", Error: err.Error()})
		return
	}

	out := make([]listingJSON, 0, len(listings))
	for _, l := range listings {
		item := listingJSON{
			ID:            l.ID,
			Title:         l.Title,
			RawPrice:      l.RawPrice,
			URL:           l.URL,
			ThumbnailURL:  l.ThumbnailURL,
			Seller:        l.Seller,
			Area:          l.Area,
			Keyword:       l.Keyword,
			LowConfidence: l.LowConfidence,
			FirstSeenAt:   l.FirstSeenAt,
		}
		if l.Price.Valid {
			yuan := float64(l.Price.Cents) / 100
			item.Price = &yuan
		}
		if !l.PublishedAt.IsZero() {
			published := l.PublishedAt
			item.PublishedAt = &published
		}
		out = append(out, item)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "success", "count": len(out), "listings": out})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("writing response: %v", err)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("%s %s (%v)", r.Method, r.URL.RequestURI(), time.Since(start).Round(time.Millisecond))
	})
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("must be a non-negative integer, got %q", v)
	}
	return n, nil
}

// centsParam parses a yuan amount such as "1500" or "99.5".
func centsParam(v string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("must be a non-negative amount, got %q", v)
	}
	return int64(f*100 + 0.5), nil
}
