package scrape

import (
	"regexp"
	"strings"

	"github.com/montanaflynn/stats"
)

// Dimension weights for the composite quality score. They sum to 1.
const (
	weightWordCount      = 0.25
	weightLinkDensity    = 0.20
	weightBoilerplate    = 0.20
	weightContentDensity = 0.15
	weightSentenceLength = 0.20
)

// Scoring shape constants.
const (
	minWords            = 50
	idealWords          = 1500
	maxLinkDensity      = 0.4
	idealSentenceLength = 20.0
)

// boilerplatePatterns flag navigation and legal chrome the extractor could
// not remove structurally. Each match counts as roughly 5% boilerplate.
var boilerplatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)cookie\s+policy`),
	regexp.MustCompile(`(?i)privacy\s+policy`),
	regexp.MustCompile(`(?i)terms\s+(of\s+)?(service|use)`),
	regexp.MustCompile(`(?i)all\s+rights\s+reserved`),
	regexp.MustCompile(`(?i)subscribe\s+to\s+(our\s+)?newsletter`),
	regexp.MustCompile(`(?i)sign\s+up\s+for`),
	regexp.MustCompile(`(?i)follow\s+us\s+on`),
	regexp.MustCompile(`(?i)share\s+(this|on)`),
	regexp.MustCompile(`(?i)copyright\s+\d{4}`),
	regexp.MustCompile(`(?i)powered\s+by`),
}

var sentenceEnd = regexp.MustCompile(`[.!?]+(\s+|$)`)

// QualityMetrics carries per-dimension scores and the weighted composite,
// all in [0,1].
type QualityMetrics struct {
	WordCount           int
	WordCountScore      float64
	LinkDensity         float64
	LinkDensityScore    float64
	BoilerplateRatio    float64
	BoilerplateScore    float64
	ContentDensity      float64
	ContentDensityScore float64
	AvgSentenceLength   float64
	SentenceLengthScore float64
	Overall             float64
}

// ScoreQuality rates extracted text across five weighted dimensions: word
// count, link density, boilerplate hits, text-to-HTML density, and sentence
// length distribution.
func ScoreQuality(text, linkText string, htmlLen int) QualityMetrics {
	m := QualityMetrics{WordCount: len(strings.Fields(text))}

	m.WordCountScore = scoreWordCount(m.WordCount)

	if len(text) > 0 {
		m.LinkDensity = float64(len(linkText)) / float64(len(text))
	}

	m.LinkDensityScore = scoreLinkDensity(m.LinkDensity)

	m.BoilerplateRatio = boilerplateRatio(text)
	m.BoilerplateScore = max(0, 1-m.BoilerplateRatio*2)

	if htmlLen > 0 {
		m.ContentDensity = float64(len(text)) / float64(htmlLen)
	} else {
		m.ContentDensity = 0.5
	}

	m.ContentDensityScore = min(1, m.ContentDensity*3)

	m.AvgSentenceLength = avgSentenceLength(text)
	m.SentenceLengthScore = scoreSentenceLength(m.AvgSentenceLength)

	overall := weightWordCount*m.WordCountScore +
		weightLinkDensity*m.LinkDensityScore +
		weightBoilerplate*m.BoilerplateScore +
		weightContentDensity*m.ContentDensityScore +
		weightSentenceLength*m.SentenceLengthScore

	m.Overall = min(1, max(0, overall))

	return m
}

func scoreWordCount(words int) float64 {
	if words < minWords {
		return 0
	}

	return min(1, float64(words)/idealWords)
}

// scoreLinkDensity rewards text-dominant pages; link farms score zero.
func scoreLinkDensity(density float64) float64 {
	if density > maxLinkDensity {
		return 0
	}

	return 1 - density/maxLinkDensity
}

func scoreSentenceLength(avg float64) float64 {
	if avg == 0 {
		return 0
	}

	deviation := avg - idealSentenceLength
	if deviation < 0 {
		deviation = -deviation
	}

	return max(0, 1-deviation/idealSentenceLength)
}

func boilerplateRatio(text string) float64 {
	if text == "" {
		return 0
	}

	matches := 0

	for _, p := range boilerplatePatterns {
		if p.MatchString(text) {
			matches++
		}
	}

	return min(1, float64(matches)*0.05)
}

// avgSentenceLength is the mean word count over sentences, splitting on
// terminal punctuation followed by whitespace.
func avgSentenceLength(text string) float64 {
	var lengths []float64

	for _, s := range sentenceEnd.Split(text, -1) {
		s = strings.TrimSpace(s)
		if len(s) > 3 {
			lengths = append(lengths, float64(len(strings.Fields(s))))
		}
	}

	if len(lengths) == 0 {
		return 0
	}

	mean, err := stats.Mean(lengths)
	if err != nil {
		return 0
	}

	return mean
}
