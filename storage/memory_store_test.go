package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"goofish-crawler/models"
)

func candidate(key, title string, cents int64) models.Candidate {
	return models.Candidate{
		Fingerprint: models.Fingerprint{Key: key},
		Listing: &models.RawListing{
			Title: title,
			Price: models.PriceOf(cents),
			URL:   "https://www.goofish.com/item?id=" + key,
		},
	}
}

func TestMemoryStoreReserveOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	first, err := s.Reserve(ctx, "switch", []models.Candidate{candidate("a", "A", 100), candidate("b", "B", 200)})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if !first[0].IsNew || !first[1].IsNew {
		t.Fatalf("first reservations should be new, got %+v", first)
	}
	if first[0].ID != 1 || first[1].ID != 2 {
		t.Errorf("ids = %d,%d; want 1,2", first[0].ID, first[1].ID)
	}

	second, err := s.Reserve(ctx, "switch", []models.Candidate{candidate("b", "B", 200), candidate("c", "C", 300)})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if second[0].IsNew {
		t.Errorf("b reserved twice")
	}
	if !second[1].IsNew || second[1].ID != 3 {
		t.Errorf("c = %+v; want new with id 3", second[1])
	}
}

func TestMemoryStoreConcurrentReserve(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	const workers = 16
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		fresh int
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.Reserve(ctx, "switch", []models.Candidate{candidate("same", "S", 1)})
			if err != nil {
				t.Errorf("Reserve: %v", err)
				return
			}
			if res[0].IsNew {
				mu.Lock()
				fresh++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if fresh != 1 {
		t.Errorf("fingerprint reserved as new %d times; want 1", fresh)
	}
}

func TestMemoryStoreListListings(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, _ = s.Reserve(ctx, "switch", []models.Candidate{
		candidate("1", "Nintendo Switch OLED", 150000),
		candidate("2", "Switch Lite", 80000),
	})
	_, _ = s.Reserve(ctx, "iphone", []models.Candidate{
		candidate("3", "iPhone 13", 300000),
		candidate("4", "iPhone case for switch fans", 2000),
	})

	got, err := s.ListListings(ctx, models.ListingQuery{Keyword: "switch"})
	if err != nil {
		t.Fatalf("ListListings: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d listings; want 3", len(got))
	}
	if got[0].ID != 4 {
		t.Errorf("newest first: got id %d; want 4", got[0].ID)
	}

	got, _ = s.ListListings(ctx, models.ListingQuery{Keyword: "switch", MinPriceCents: 10000, MaxPriceCents: 100000})
	if len(got) != 1 || got[0].Title != "Switch Lite" {
		t.Errorf("price filter returned %+v", got)
	}

	got, _ = s.ListListings(ctx, models.ListingQuery{Limit: 2})
	if len(got) != 2 {
		t.Errorf("limit: got %d; want 2", len(got))
	}

	n, _ := s.CountListings(ctx)
	if n != 4 {
		t.Errorf("CountListings = %d; want 4", n)
	}
}

func TestMemoryStoreDefaultLimit(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for i := 0; i < DefaultListLimit+5; i++ {
		_, _ = s.Reserve(ctx, "k", []models.Candidate{candidate(fmt.Sprint(i), "t", 1)})
	}
	got, _ := s.ListListings(ctx, models.ListingQuery{})
	if len(got) != DefaultListLimit {
		t.Errorf("got %d; want %d", len(got), DefaultListLimit)
	}
}
