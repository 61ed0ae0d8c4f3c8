package judge

import (
	"fmt"
	"strings"
)

// Scorecard renders the verdict as Markdown: per-dimension table, overall
// score, assessment, and recommendations.
func Scorecard(v *Verdict) string {
	var b strings.Builder

	b.WriteString("# Evaluation Scorecard\n\n")
	fmt.Fprintf(&b, "**Query:** %s\n\n", v.Query)
	fmt.Fprintf(&b, "**Overall:** %.3f — %s\n\n", v.Overall, passLabel(v.Passed))

	b.WriteString("| Dimension | Score | Weight | Weighted |\n")
	b.WriteString("|-----------|-------|--------|----------|\n")

	for _, d := range v.Dimensions {
		fmt.Fprintf(&b, "| %s | %.1f | %.0f%% | %.3f |\n",
			d.Dimension, d.Score, d.Weight*100, d.Weighted())
	}

	if v.Assessment != "" {
		fmt.Fprintf(&b, "\n**Assessment:** %s\n", v.Assessment)
	}

	if len(v.Recommendations) > 0 {
		b.WriteString("\n**Recommendations:**\n")

		for _, rec := range v.Recommendations {
			fmt.Fprintf(&b, "- %s\n", rec)
		}
	}

	return b.String()
}

func passLabel(passed bool) string {
	if passed {
		return "pass"
	}

	return "fail"
}
