package services

import (
	"testing"

	"goofish-crawler/models"
)

func TestFingerprintStableAcrossURLVariants(t *testing.T) {
	base := &models.RawListing{Title: "iPhone 14", URL: "https://www.goofish.com/item?id=123"}
	want := Fingerprint(base)
	if want.LowConfidence {
		t.Fatal("well-formed URL should give a high-confidence fingerprint")
	}
	if len(want.Key) != 32 {
		t.Errorf("key length = %d; want 32 hex chars", len(want.Key))
	}

	variants := []string{
		"https://www.goofish.com/item?id=123",
		"https://www.goofish.com/item/?id=123",
		"HTTPS://WWW.GOOFISH.COM/item?id=123",
		"http://www.goofish.com/item?id=123",
		"https://www.goofish.com/item?id=123&spm=a21ybx.search.0.0",
		"https://www.goofish.com/item?utm_source=feed&id=123",
		"https://www.goofish.com/item?id=123#comments",
		"  https://www.goofish.com/item?id=123  ",
		"https://www.goofish.com/item?id=123&categoryId=126854525",
		"https://www.goofish.com/item?categoryId=50023914&id=123&spm=a21ybx.search",
		"//www.goofish.com/item?id=123&categoryId=126854525",
		"/item?id=123",
		"fleamarket://item?id=123",
		"fleamarket://item?id=123&categoryId=126854525",
	}

	for _, v := range variants {
		// title and seller changes must not matter when the URL is usable
		l := &models.RawListing{Title: "different title", Seller: "someone", URL: v}
		got := Fingerprint(l)
		if got != want {
			t.Errorf("Fingerprint(%q) = %+v; want %+v", v, got, want)
		}
	}

	if again := Fingerprint(base); again != want {
		t.Errorf("repeated call changed the key: %v vs %v", again, want)
	}
}

func TestFingerprintDistinguishesItems(t *testing.T) {
	a := Fingerprint(&models.RawListing{URL: "https://www.goofish.com/item?id=123"})
	b := Fingerprint(&models.RawListing{URL: "https://www.goofish.com/item?id=124"})
	if a.Key == b.Key {
		t.Error("different item ids produced the same key")
	}
}

func TestFingerprintFallback(t *testing.T) {
	l := &models.RawListing{Title: "  Nintendo   Switch ", Price: models.PriceOf(150000), Seller: "Alice", URL: "not a url"}
	fp := Fingerprint(l)
	if !fp.LowConfidence {
		t.Fatal("malformed URL should give a low-confidence fingerprint")
	}

	same := Fingerprint(&models.RawListing{Title: "nintendo switch", Price: models.PriceOf(150000), Seller: "alice"})
	if same != fp {
		t.Errorf("normalised composite should match: %v vs %v", same, fp)
	}

	unknown := Fingerprint(&models.RawListing{Title: "nintendo switch", Seller: "alice"})
	zero := Fingerprint(&models.RawListing{Title: "nintendo switch", Price: models.PriceOf(0), Seller: "alice"})
	if unknown.Key == zero.Key {
		t.Error("missing price must not collide with a zero price")
	}
	if unknown.Key == fp.Key {
		t.Error("missing price must not collide with a real price")
	}
}

func TestFingerprintFallbackNeverCollidesWithURLKey(t *testing.T) {
	// a composite that spells out a URL is still hashed in its own namespace
	l := &models.RawListing{Title: "https://www.goofish.com/item?id=1"}
	composite := Fingerprint(l)
	byURL := Fingerprint(&models.RawListing{URL: "https://www.goofish.com/item?id=1"})
	if composite.Key == byURL.Key {
		t.Error("fallback and URL keys share a namespace")
	}
}

func TestFingerprintTotal(t *testing.T) {
	cases := []*models.RawListing{
		nil,
		{},
		{Title: "   "},
		{URL: "ftp://example.com/file"},
		{URL: "https://"},
		{URL: "%zz"},
	}
	for _, c := range cases {
		fp := Fingerprint(c)
		if fp.Key == "" || !fp.LowConfidence {
			t.Errorf("Fingerprint(%+v) = %+v; want non-empty low-confidence key", c, fp)
		}
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"https://www.goofish.com/item?id=1", "https://www.goofish.com/item?id=1", true},
		{"https://www.goofish.com/item/?id=1&utm_medium=x", "https://www.goofish.com/item?id=1", true},
		{"https://Example.com/a/b/", "https://example.com/a/b", true},
		{"https://example.com/?b=2&a=1", "https://example.com?a=1&b=2", true},
		{"", "", false},
		{"goofish item 1", "", false},
		{"fleamarket://item?id=1", "https://www.goofish.com/item?id=1", true},
		{"https://www.goofish.com/item?id=1&categoryId=9&itemType=x", "https://www.goofish.com/item?id=1", true},
		{"https://www.goofish.com/search?q=switch&spm=x", "https://www.goofish.com/search?q=switch", true},
	}
	for _, tt := range tests {
		got, ok := NormalizeURL(tt.raw)
		if got != tt.want || ok != tt.ok {
			t.Errorf("NormalizeURL(%q) = %q, %v; want %q, %v", tt.raw, got, ok, tt.want, tt.ok)
		}
	}
}
