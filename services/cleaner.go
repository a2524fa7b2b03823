package services

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"goofish-crawler/models"
	"goofish-crawler/utils"
)

const (
	appLinkScheme = "fleamarket://"
	webBase       = "https://www.goofish.com/"
)

var (
	// priceCharsRegexp drops everything but digits, separators and the 万 unit
	priceCharsRegexp = regexp.MustCompile(`[^\d.,万]`)

	// unpricedMarkers flag cards whose price text is a placeholder
	unpricedMarkers = []string{"异常", "暂无", "待定", "免费", "面议"}

	// priceRangeSeparators split "¥100-200" style ranges
	priceRangeSeparators = []string{"-", "~", "～", "至", "—"}

	relativeTimeRegexp = regexp.MustCompile(`^(\d+)\s*(分钟|小时|天)前$`)

	// siteZone is the zone goofish prints wall-clock times in.
	siteZone = time.FixedZone("CST", 8*60*60)

	publishLayouts = []string{"2006-01-02 15:04", "2006-01-02", "2006/01/02 15:04", "2006/01/02"}
)

// Cleaner normalises the fields of freshly extracted listings.
type Cleaner struct {
	logger *utils.Logger
	now    func() time.Time
}

// NewCleaner creates a Cleaner with the given logger.
func NewCleaner(logger *utils.Logger) *Cleaner {
	return &Cleaner{logger: logger, now: time.Now}
}

// Clean normalises every listing in place and returns the same slice.
// It never drops listings: total counts must include every card.
func (c *Cleaner) Clean(raw []*models.RawListing) []*models.RawListing {
	unpriced := 0
	for _, l := range raw {
		c.cleanOne(l)
		if !l.Price.Valid {
			unpriced++
		}
	}
	if unpriced > 0 {
		c.logger.Debug("[cleaner] %d of %d listings have no parseable price", unpriced, len(raw))
	}
	return raw
}

func (c *Cleaner) cleanOne(l *models.RawListing) {
	l.Title = normaliseText(l.Title)
	l.Seller = normaliseText(l.Seller)
	l.Area = normaliseText(l.Area)
	l.RawPrice = normaliseText(strings.ReplaceAll(l.RawPrice, "当前价", ""))
	l.Price = ParsePrice(l.RawPrice)
	l.URL = normaliseLink(l.URL)
	l.ThumbnailURL = normaliseImage(l.ThumbnailURL)
	l.RawPublished = normaliseText(l.RawPublished)
	if t, ok := ParsePublishTime(l.RawPublished, c.now()); ok {
		l.PublishedAt = t
	}
}

// ParsePrice converts a displayed price such as "¥1,200" or "1.2万" into
// cents. Placeholders ("价格异常", "面议", ...) and unparseable text yield an
// invalid Price rather than zero.
func ParsePrice(raw string) models.Price {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return models.Price{}
	}
	for _, m := range unpricedMarkers {
		if strings.Contains(raw, m) {
			return models.Price{}
		}
	}

	// A range is priced at its lower bound.
	for _, sep := range priceRangeSeparators {
		if lo, _, found := strings.Cut(raw, sep); found && strings.ContainsAny(lo, "0123456789") {
			raw = lo
		}
	}

	cleaned := priceCharsRegexp.ReplaceAllString(raw, "")
	multiplier := 1.0
	if strings.Contains(cleaned, "万") {
		cleaned = strings.ReplaceAll(cleaned, "万", "")
		multiplier = 10000
	}
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	if cleaned == "" {
		return models.Price{}
	}

	val, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || val < 0 {
		return models.Price{}
	}
	return models.PriceOf(int64(math.Round(val * multiplier * 100)))
}

// ParsePublishTime reads a card's publish time: a Unix timestamp in
// milliseconds or seconds, a date such as "2024-05-01 12:30", or a relative
// label ("刚刚", "3小时前", "2天前", "昨天"). ok is false when raw is none of
// these.
func ParsePublishTime(raw string, now time.Time) (time.Time, bool) {
	raw = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(raw), "发布"))
	if raw == "" {
		return time.Time{}, false
	}

	if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 {
		switch {
		case len(raw) >= 13:
			return time.UnixMilli(n), true
		case len(raw) == 10:
			return time.Unix(n, 0), true
		}
		return time.Time{}, false
	}

	switch {
	case raw == "刚刚":
		return now, true
	case strings.HasPrefix(raw, "昨天"):
		return now.AddDate(0, 0, -1), true
	}
	if m := relativeTimeRegexp.FindStringSubmatch(raw); m != nil {
		n, _ := strconv.Atoi(m[1])
		unit := map[string]time.Duration{"分钟": time.Minute, "小时": time.Hour, "天": 24 * time.Hour}[m[2]]
		return now.Add(-time.Duration(n) * unit), true
	}

	for _, layout := range publishLayouts {
		if t, err := time.ParseInLocation(layout, raw, siteZone); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// normaliseLink rewrites app deep links to their web form.
func normaliseLink(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, appLinkScheme) {
		return webBase + strings.TrimPrefix(s, appLinkScheme)
	}
	if strings.HasPrefix(s, "//") {
		return "https:" + s
	}
	if strings.HasPrefix(s, "/") {
		return strings.TrimSuffix(webBase, "/") + s
	}
	return s
}

// normaliseImage adds a scheme to protocol-relative image URLs.
func normaliseImage(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "//") {
		return "https:" + s
	}
	return s
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	s = strings.TrimSpace(s)
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r)
	})
	return strings.Join(fields, " ")
}
