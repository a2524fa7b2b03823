package services

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strconv"
	"strings"

	"goofish-crawler/models"
)

// fingerprintBytes is the width of a fingerprint key (128 bits).
const fingerprintBytes = 16

// trackingParams are query parameters that never identify an item.
var trackingParams = map[string]struct{}{
	"spm":          {},
	"scm":          {},
	"pvid":         {},
	"fbclid":       {},
	"gclid":        {},
	"ref":          {},
	"from":         {},
	"ut_sk":        {},
	"track_params": {},
	"trackparams":  {},
	"sourcetype":   {},
	"share_crt_v":  {},
	"sharetype":    {},
}

var trackingPrefixes = []string{"utm_", "track", "share_"}

// Fingerprint derives the dedup key for a listing. The normalized item URL
// is hashed when it is usable; otherwise title, price and seller are hashed
// and the result is flagged low-confidence. It never fails.
func Fingerprint(l *models.RawListing) models.Fingerprint {
	if l == nil {
		l = &models.RawListing{}
	}
	if norm, ok := NormalizeURL(l.URL); ok {
		return models.Fingerprint{Key: hashKey("url|" + norm)}
	}

	price := "unknown-price"
	if l.Price.Valid {
		price = strconv.FormatInt(l.Price.Cents, 10)
	}
	composite := "composite|" + normalizeKeyText(l.Title) + "|" + price + "|" + normalizeKeyText(l.Seller)
	return models.Fingerprint{Key: hashKey(composite), LowConfidence: true}
}

// NormalizeURL canonicalizes an item URL: app and relative links resolved,
// lower-cased, https scheme, fragment and tracking parameters dropped,
// remaining parameters sorted and trailing slashes removed. A goofish item
// page is identified by its id alone. ok is false for empty or malformed
// input.
func NormalizeURL(raw string) (string, bool) {
	raw = strings.ToLower(normaliseLink(raw))
	if raw == "" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	if u.Host == "" {
		return "", false
	}

	u.Scheme = "https"
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil

	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""

	q := u.Query()
	if id := q.Get("id"); id != "" && isGoofishItem(u) {
		q = url.Values{"id": {id}}
	}
	for k := range q {
		if isTrackingParam(k) {
			q.Del(k)
		}
	}
	u.RawQuery = q.Encode()

	return u.String(), true
}

func isGoofishItem(u *url.URL) bool {
	host := strings.TrimPrefix(u.Hostname(), "www.")
	return (host == "goofish.com" || host == "m.goofish.com") && u.Path == "/item"
}

func isTrackingParam(k string) bool {
	if _, ok := trackingParams[k]; ok {
		return true
	}
	for _, p := range trackingPrefixes {
		if strings.HasPrefix(k, p) {
			return true
		}
	}
	return false
}

func normalizeKeyText(s string) string {
	return strings.ToLower(normaliseText(s))
}

func hashKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:fingerprintBytes])
}
