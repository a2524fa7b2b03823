package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"goofish-crawler/models"
)

// MemoryStore is an in-process Store used for dry runs and tests.
// It is safe for concurrent use.
type MemoryStore struct {
	mu      sync.Mutex
	nextID  int64
	byKey   map[string]*models.StoredListing
	ordered []*models.StoredListing
	now     func() time.Time
}

// NewMemoryStore returns an empty MemoryStore whose first record gets ID 1.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID: 1,
		byKey:  make(map[string]*models.StoredListing),
		now:    time.Now,
	}
}

// Reserve implements DedupStore.
func (m *MemoryStore) Reserve(ctx context.Context, keyword string, candidates []models.Candidate) ([]models.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Reservation, len(candidates))
	for i, c := range candidates {
		key := c.Fingerprint.Key
		if existing, ok := m.byKey[key]; ok {
			out[i] = models.Reservation{Fingerprint: key, ID: existing.ID}
			continue
		}
		rec := newStoredListing(m.nextID, keyword, c, m.now())
		m.nextID++
		m.byKey[key] = rec
		m.ordered = append(m.ordered, rec)
		out[i] = models.Reservation{Fingerprint: key, IsNew: true, ID: rec.ID}
	}
	return out, nil
}

// ListListings implements ListingReader.
func (m *MemoryStore) ListListings(ctx context.Context, q models.ListingQuery) ([]*models.StoredListing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	needle := strings.ToLower(strings.TrimSpace(q.Keyword))

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.StoredListing
	for i := len(m.ordered) - 1; i >= 0 && len(out) < limit; i-- {
		l := m.ordered[i]
		if needle != "" && strings.ToLower(l.Keyword) != needle &&
			!strings.Contains(strings.ToLower(l.Title), needle) {
			continue
		}
		if !inPriceRange(l.Price, q) {
			continue
		}
		cp := *l
		out = append(out, &cp)
	}
	return out, nil
}

// CountListings implements ListingReader.
func (m *MemoryStore) CountListings(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ordered), nil
}

// Fingerprints returns every reserved key in sorted order.
func (m *MemoryStore) Fingerprints() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.byKey))
	for k := range m.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *MemoryStore) Close() error { return nil }

func newStoredListing(id int64, keyword string, c models.Candidate, now time.Time) *models.StoredListing {
	rec := &models.StoredListing{
		ID:            id,
		Fingerprint:   c.Fingerprint.Key,
		LowConfidence: c.Fingerprint.LowConfidence,
		Keyword:       keyword,
		FirstSeenAt:   now,
	}
	if l := c.Listing; l != nil {
		rec.Title = l.Title
		rec.RawPrice = l.RawPrice
		rec.Price = l.Price
		rec.URL = l.URL
		rec.ThumbnailURL = l.ThumbnailURL
		rec.Seller = l.Seller
		rec.Area = l.Area
		rec.PageIndex = l.PageIndex
		rec.PublishedAt = l.PublishedAt
	}
	return rec
}

func inPriceRange(p models.Price, q models.ListingQuery) bool {
	if q.MinPriceCents == 0 && q.MaxPriceCents == 0 {
		return true
	}
	if !p.Valid {
		return false
	}
	if q.MinPriceCents > 0 && p.Cents < q.MinPriceCents {
		return false
	}
	if q.MaxPriceCents > 0 && p.Cents > q.MaxPriceCents {
		return false
	}
	return true
}
