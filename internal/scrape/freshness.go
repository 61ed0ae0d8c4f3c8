package scrape

import (
	"encoding/json"
	"math"
	"regexp"
	"strings"
	"time"
)

// Freshness decay shape: score 0.5 at the half-life, 0 past the max age,
// 0.5 when no date can be found at all.
const (
	freshnessDefault  = 0.5
	freshnessMaxAge   = 730
	freshnessHalfLife = 180
)

// metaDateKeys are meta tag names checked in order for a publication date.
var metaDateKeys = []string{
	"article:published_time",
	"article:modified_time",
	"og:article:published_time",
	"datepublished",
	"date",
	"dc.date",
	"dc.date.issued",
	"sailthru.date",
	"pubdate",
	"publishdate",
	"publish_date",
	"last-modified",
}

var isoDateRE = regexp.MustCompile(`\d{4}-\d{2}-\d{2}(T\d{2}:\d{2}(:\d{2})?([+-]\d{2}:?\d{2}|Z)?)?`)

// contentDateRE finds "Published: January 15, 2024" style bylines in text.
var contentDateRE = regexp.MustCompile(`(?i)(?:published|posted|updated|modified|date)\s*[:|-]\s*(\w+\s+\d{1,2},?\s+\d{4})`)

var contentDateLayouts = []string{"January 2 2006", "Jan 2 2006"}

// archivedPatterns detect tombstone pages: removed, expired, or 404 bodies
// served with a 200 status.
var archivedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)this\s+(page|article|content)\s+(has\s+been|is|was)\s+(removed|deleted|archived|expired|taken\s+down)`),
	regexp.MustCompile(`(?i)(page|content|article)\s+(not?\s+found|no\s+longer\s+(available|exists?))`),
	regexp.MustCompile(`(?i)(404|410)\s+(not\s+found|gone)`),
	regexp.MustCompile(`(?i)this\s+link\s+(has\s+)?expired`),
	regexp.MustCompile(`(?i)we\s+(couldn.t|could\s+not)\s+find\s+(the|this)\s+page`),
}

// Freshness is the age assessment of one page.
type Freshness struct {
	// PublicationDate is the detected date (YYYY-MM-DD), empty when unknown.
	PublicationDate string

	// AgeDays is days since publication, -1 when unknown.
	AgeDays int

	// Score is 1 for brand new content decaying to 0 at the max age;
	// undatable pages sit at the neutral default.
	Score float64

	// Archived marks tombstone pages.
	Archived bool

	// Source names where the date came from: meta_tag, json_ld, content,
	// or none.
	Source string
}

// ScoreFreshness estimates content age from meta tags, JSON-LD, and visible
// bylines, then applies exponential decay relative to now.
func ScoreFreshness(ex *Extraction, now time.Time) Freshness {
	if detectArchived(ex.Text) {
		return Freshness{AgeDays: -1, Score: 0, Archived: true, Source: "archive_detection"}
	}

	pub, source := extractDate(ex)
	if pub.IsZero() {
		return Freshness{AgeDays: -1, Score: freshnessDefault, Source: "none"}
	}

	ageDays := int(now.Sub(pub).Hours() / 24)
	if ageDays < 0 {
		ageDays = 0
	}

	return Freshness{
		PublicationDate: pub.Format("2006-01-02"),
		AgeDays:         ageDays,
		Score:           freshnessDecay(ageDays),
		Source:          source,
	}
}

func extractDate(ex *Extraction) (time.Time, string) {
	for _, key := range metaDateKeys {
		if raw, ok := ex.Meta[key]; ok {
			if t, parsed := parseISODate(raw); parsed {
				return t, "meta_tag"
			}
		}
	}

	if t, ok := extractJSONLDDate(ex.JSONLD); ok {
		return t, "json_ld"
	}

	if t, ok := extractContentDate(ex.Text); ok {
		return t, "content"
	}

	return time.Time{}, "none"
}

func extractJSONLDDate(blocks []string) (time.Time, bool) {
	for _, block := range blocks {
		var doc map[string]any

		if json.Unmarshal([]byte(block), &doc) != nil {
			continue
		}

		for _, field := range []string{"datePublished", "dateModified", "dateCreated"} {
			raw, ok := doc[field].(string)
			if !ok {
				continue
			}

			if t, parsed := parseISODate(raw); parsed {
				return t, true
			}
		}
	}

	return time.Time{}, false
}

func extractContentDate(text string) (time.Time, bool) {
	match := contentDateRE.FindStringSubmatch(text)
	if match == nil {
		return time.Time{}, false
	}

	raw := strings.ReplaceAll(match[1], ",", "")

	for _, layout := range contentDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}

	return time.Time{}, false
}

func parseISODate(raw string) (time.Time, bool) {
	match := isoDateRE.FindString(raw)
	if match == "" {
		return time.Time{}, false
	}

	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, match); err == nil {
			return t.UTC(), true
		}
	}

	return time.Time{}, false
}

func freshnessDecay(ageDays int) float64 {
	if ageDays <= 0 {
		return 1
	}

	if ageDays >= freshnessMaxAge {
		return 0
	}

	return math.Pow(2, -float64(ageDays)/freshnessHalfLife)
}

func detectArchived(text string) bool {
	for _, p := range archivedPatterns {
		if p.MatchString(text) {
			return true
		}
	}

	return false
}
