package storage

import (
	"context"
	"errors"

	"goofish-crawler/models"
)

// ErrUnavailable is returned when the backing store cannot be reached.
// A Reserve call that fails with it has committed nothing.
var ErrUnavailable = errors.New("storage unavailable")

// DedupStore reserves fingerprints. Reserve returns one Reservation per
// candidate, in candidate order. Exactly one Reserve across all concurrent
// callers sees IsNew for a given fingerprint, and a new record is durable
// by the time Reserve returns. When an error is returned the whole batch
// has failed and no candidate of it was committed.
type DedupStore interface {
	Reserve(ctx context.Context, keyword string, candidates []models.Candidate) ([]models.Reservation, error)
}

// ListingReader is the read side offered to reports and the HTTP API.
type ListingReader interface {
	ListListings(ctx context.Context, q models.ListingQuery) ([]*models.StoredListing, error)
	CountListings(ctx context.Context) (int, error)
}

// Store is a full backend.
type Store interface {
	DedupStore
	ListingReader
	Close() error
}

// RawListingWriter persists listings exactly as extracted, for export.
type RawListingWriter interface {
	WriteRaw(listings []*models.RawListing) error
	Close() error
}

// DefaultListLimit applies when a ListingQuery carries no limit.
const DefaultListLimit = 10
