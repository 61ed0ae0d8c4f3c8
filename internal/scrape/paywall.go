package scrape

import "regexp"

// paywallThreshold is the total signal weight at which a page counts as
// paywalled: one strong signal or several weak ones.
const paywallThreshold = 3.0

type paywallPattern struct {
	name   string
	re     *regexp.Regexp
	weight float64
}

// paywallPatterns are matched against lowercased raw HTML so class and id
// attributes participate.
var paywallPatterns = []paywallPattern{
	{"subscription_required", regexp.MustCompile(`subscribe\s+to\s+(read|continue|access|unlock)`), 3.0},
	{"subscribers_only", regexp.MustCompile(`(this\s+)?(article|content|story)\s+is\s+(for\s+)?(subscribers?|members?)\s+only`), 3.0},
	{"premium_content", regexp.MustCompile(`premium\s+(content|article|access)`), 2.5},
	{"paywall_class", regexp.MustCompile(`class\s*=\s*["'][^"']*paywall[^"']*["']`), 2.5},
	{"paywall_id", regexp.MustCompile(`id\s*=\s*["'][^"']*paywall[^"']*["']`), 2.5},
	{"login_to_read", regexp.MustCompile(`(log\s*in|sign\s*in)\s+to\s+(read|continue|access|view)`), 2.0},
	{"create_account", regexp.MustCompile(`create\s+(a\s+)?(free\s+)?account\s+to\s+(read|continue|access)`), 2.0},
	{"registration_wall", regexp.MustCompile(`class\s*=\s*["'][^"']*regwall[^"']*["']`), 2.5},
	{"free_articles_remaining", regexp.MustCompile(`(you\s+have\s+)?\d+\s+(free\s+)?(articles?|stories?)\s+remaining`), 2.0},
	{"article_limit_reached", regexp.MustCompile(`(you.ve|you\s+have)\s+reached\s+(your|the)\s+(monthly\s+)?(article|reading)\s+limit`), 2.5},
	{"subscribe_now_button", regexp.MustCompile(`subscribe\s+now`), 1.0},
	{"unlock_article", regexp.MustCompile(`unlock\s+(this\s+)?(article|story|content)`), 2.0},
	{"continue_reading_cta", regexp.MustCompile(`(continue|keep)\s+reading\s+(with|for|by)\s+(a\s+)?subscription`), 2.5},
	{"trial_offer", regexp.MustCompile(`(start|begin)\s+(your\s+)?(free\s+)?trial`), 1.0},
	{"content_truncated", regexp.MustCompile(`class\s*=\s*["'][^"']*truncat[^"']*["']`), 1.5},
	{"read_more_premium", regexp.MustCompile(`read\s+more\s+with\s+(a\s+)?subscription`), 2.5},
	{"overlay_modal", regexp.MustCompile(`class\s*=\s*["'][^"']*(paywall|subscribe)[-_]?(modal|overlay|popup|gate)[^"']*["']`), 3.0},
}

// openAccessPatterns are counter-signals that reduce the paywall weight.
var openAccessPatterns = []paywallPattern{
	{"open_access_badge", regexp.MustCompile(`class\s*=\s*["'][^"']*open[-_]?access[^"']*["']`), 2.0},
	{"creative_commons", regexp.MustCompile(`creative\s+commons`), 1.5},
	{"free_to_read", regexp.MustCompile(`free\s+to\s+read`), 1.5},
}

// Paywall is the access assessment of one page.
type Paywall struct {
	Paywalled  bool
	Confidence float64
	Signals    []string
	Weight     float64
}

// DetectPaywall scans raw HTML for subscription gates, login walls, and
// metered-content markers, weighing them against open-access signals.
func DetectPaywall(lowerHTML string) Paywall {
	var pw Paywall

	if lowerHTML == "" {
		return pw
	}

	for _, p := range paywallPatterns {
		if p.re.MatchString(lowerHTML) {
			pw.Signals = append(pw.Signals, p.name)
			pw.Weight += p.weight
		}
	}

	for _, p := range openAccessPatterns {
		if p.re.MatchString(lowerHTML) {
			pw.Weight -= p.weight
		}
	}

	if pw.Weight < 0 {
		pw.Weight = 0
	}

	if pw.Weight > 0 {
		pw.Confidence = min(1, pw.Weight/(paywallThreshold*2))
	}

	pw.Paywalled = pw.Weight >= paywallThreshold

	return pw
}
