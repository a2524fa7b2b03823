package goofish

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Selectors locate the parts of a search result page. Goofish class names
// carry build hashes, so the defaults match on class substrings.
type Selectors struct {
	Card        string `yaml:"card"`
	Title       string `yaml:"title"`
	Price       string `yaml:"price"`
	Link        string `yaml:"link"` // empty: the card itself is the anchor
	Thumbnail   string `yaml:"thumbnail"`
	Seller      string `yaml:"seller"`
	Area        string `yaml:"area"`
	PublishTime string `yaml:"publish_time"` // data-publish-time attribute, else text
	NextPage    string `yaml:"next_page"`    // enabled "next" control
	CurrentPage string `yaml:"current_page"` // 1-based active page number
	// ChallengeMarkers are substrings that only appear on anti-bot pages.
	ChallengeMarkers []string `yaml:"challenge_markers"`
}

// DefaultSelectors match the goofish.com search layout.
func DefaultSelectors() Selectors {
	return Selectors{
		Card:        "a[class*='feeds-item-wrap']",
		Title:       "[class*='main-title']",
		Price:       "[class*='price-wrap']",
		Thumbnail:   "img[class*='feeds-image']",
		Seller:      "[class*='seller-text']",
		Area:        "[class*='seller-left'] p, [class*='area']",
		PublishTime: "[data-publish-time], [class*='publish-time']",
		NextPage:    "[class*='search-pagination-arrow-right']:not([disabled])",
		CurrentPage: "[class*='search-pagination-page-box--active']",
		ChallengeMarkers: []string{
			"nc_1_wrapper",
			"baxia-dialog",
			"punish-component",
			"x5secdata",
		},
	}
}

// LoadSelectors reads a YAML profile from path. Fields the profile leaves
// empty keep their defaults.
func LoadSelectors(path string) (Selectors, error) {
	sel := DefaultSelectors()
	if path == "" {
		return sel, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return sel, fmt.Errorf("selectors: read %q: %w", path, err)
	}
	var override Selectors
	if err := yaml.Unmarshal(data, &override); err != nil {
		return sel, fmt.Errorf("selectors: parse %q: %w", path, err)
	}
	sel.merge(override)
	if sel.Card == "" {
		return sel, fmt.Errorf("selectors: %q leaves card selector empty", path)
	}
	return sel, nil
}

func (s *Selectors) merge(o Selectors) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&s.Card, o.Card)
	set(&s.Title, o.Title)
	set(&s.Price, o.Price)
	set(&s.Link, o.Link)
	set(&s.Thumbnail, o.Thumbnail)
	set(&s.Seller, o.Seller)
	set(&s.Area, o.Area)
	set(&s.PublishTime, o.PublishTime)
	set(&s.NextPage, o.NextPage)
	set(&s.CurrentPage, o.CurrentPage)
	if len(o.ChallengeMarkers) > 0 {
		s.ChallengeMarkers = o.ChallengeMarkers
	}
}
