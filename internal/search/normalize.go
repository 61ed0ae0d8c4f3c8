package search

import (
	"net/url"
	"regexp"
	"strings"
)

// trackingParams matches query parameters that identify campaigns and
// clicks, not content. They are stripped during normalization so the same
// page reached through different campaigns deduplicates.
var trackingParams = regexp.MustCompile(`(?i)^(utm_\w+|fbclid|gclid|gclsrc|dclid|msclkid|mc_[ce]id|` +
	`ref|affiliate|campaign_id|ad_id|zanpid|_ga|_gid|_gl|` +
	`yclid|_openstat|wbraid|gbraid)$`)

// NormalizeURL canonicalizes a URL for deduplication: lowercase scheme and
// host, trailing slash stripped (root path kept as "/"), fragment dropped,
// tracking parameters removed, remaining parameters sorted. The
// transformation is idempotent. Unparseable input is returned trimmed, with
// the parse error.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)

	u, err := url.Parse(raw)
	if err != nil {
		return raw, err
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	if p := strings.TrimRight(u.Path, "/"); p != "" {
		u.Path = p
	} else {
		u.Path = "/"
	}

	if u.RawQuery != "" {
		values, parseErr := url.ParseQuery(u.RawQuery)
		if parseErr != nil {
			u.RawQuery = ""
		} else {
			for key := range values {
				if trackingParams.MatchString(key) {
					delete(values, key)
				}
			}

			// Encode sorts keys, which is exactly the stability we need.
			u.RawQuery = values.Encode()
		}
	}

	return u.String(), nil
}
