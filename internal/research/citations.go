package research

import (
	"net/url"
	"strings"
)

var trackingParams = map[string]struct{}{
	"fbclid":  {},
	"gclid":   {},
	"dclid":   {},
	"msclkid": {},
	"mc_cid":  {},
	"mc_eid":  {},
	"ref":     {},
	"ref_src": {},
	"igshid":  {},
	"_ga":     {},
	"_hsenc":  {},
	"_hsmi":   {},
	"yclid":   {},
	"spm":     {},
}

func isTrackingParam(key string) bool {
	key = strings.ToLower(key)
	if strings.HasPrefix(key, "utm_") {
		return true
	}
	_, ok := trackingParams[key]
	return ok
}

// NormalizeURL strips tracking parameters, fragments and trailing slashes so that
// the same page reached through different links maps to one key. It returns
// false when raw is not an absolute URL.
func NormalizeURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return "", false
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""
	parsed.RawFragment = ""

	query := parsed.Query()
	for key := range query {
		if isTrackingParam(key) {
			query.Del(key)
		}
	}
	parsed.RawQuery = query.Encode()
	parsed.Path = strings.TrimRight(parsed.Path, "/")
	parsed.RawPath = ""

	normalized := parsed.String()
	return strings.TrimRight(normalized, "/"), true
}

// Domain returns the host of a citation URL without a leading "www.".
func Domain(raw string) (string, bool) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || parsed.Hostname() == "" {
		return "", false
	}
	return strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www."), true
}

func citationKey(c Citation) string {
	if normalized, ok := NormalizeURL(c.URL); ok {
		return "url:" + normalized
	}
	title := strings.Join(strings.Fields(strings.ToLower(c.Title)), " ")
	if title == "" {
		if raw := strings.TrimSpace(c.URL); raw != "" {
			return "raw:" + raw
		}
		return ""
	}
	author := ""
	if len(c.Authors) > 0 {
		author = strings.ToLower(strings.TrimSpace(c.Authors[0]))
	}
	return "title:" + title + "|" + author
}

// DedupeCitations keeps the first occurrence of every citation. A URL that
// cannot be normalized still keys an untitled citation by its raw text; only
// citations with neither URL nor title are dropped.
func DedupeCitations(citations []Citation) []Citation {
	if len(citations) == 0 {
		return []Citation{}
	}
	seen := make(map[string]struct{}, len(citations))
	results := make([]Citation, 0, len(citations))
	for _, citation := range citations {
		key := citationKey(citation)
		if key == "" {
			continue
		}
		if _, exists := seen[key]; exists {
			continue
		}
		seen[key] = struct{}{}
		results = append(results, citation)
	}
	return results
}
