package scrape

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// injectionMarkers are chat-template boundaries and instruction overrides
// that scraped text must never smuggle into a prompt. Matches are replaced
// with a visible tombstone.
var injectionMarkers = []*regexp.Regexp{
	regexp.MustCompile(`<\|im_start\|>`),
	regexp.MustCompile(`<\|im_end\|>`),
	regexp.MustCompile(`\[INST\]`),
	regexp.MustCompile(`\[/INST\]`),
	regexp.MustCompile(`<<SYS>>`),
	regexp.MustCompile(`<</SYS>>`),
	regexp.MustCompile(`<\|system\|>`),
	regexp.MustCompile(`<\|user\|>`),
	regexp.MustCompile(`<\|assistant\|>`),
	regexp.MustCompile(`(?i)ignore\s+(previous|above|all)\s+instructions`),
	regexp.MustCompile(`(?i)system\s*:\s*you\s+are`),
	regexp.MustCompile(`(?i)<\s*script\b`),
	regexp.MustCompile(`(?i)javascript\s*:`),
}

const injectionTombstone = "[REMOVED]"

var (
	spaceRuns   = regexp.MustCompile(`[^\S\n]+`)
	newlineRuns = regexp.MustCompile(`\n{3,}`)
)

// Sanitize cleans extracted text for LLM consumption: NFC normalization,
// control characters dropped, whitespace collapsed, injection markers
// neutralized, and the result truncated to maxBytes on a rune boundary.
// The second return value counts neutralized injection markers.
func Sanitize(text string, maxBytes int) (string, int) {
	text = norm.NFC.String(text)

	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}

		if unicode.IsControl(r) || r == utf8.RuneError {
			return -1
		}

		return r
	}, text)

	markers := 0

	for _, re := range injectionMarkers {
		matches := re.FindAllStringIndex(text, -1)
		if len(matches) == 0 {
			continue
		}

		markers += len(matches)
		text = re.ReplaceAllString(text, injectionTombstone)
	}

	text = spaceRuns.ReplaceAllString(text, " ")
	text = newlineRuns.ReplaceAllString(text, "\n\n")
	text = strings.TrimSpace(text)

	if maxBytes > 0 && len(text) > maxBytes {
		cut := maxBytes
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}

		text = text[:cut]
	}

	return text, markers
}
