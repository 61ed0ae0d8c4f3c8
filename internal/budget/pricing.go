package budget

import "strings"

// ModelPrice is the per-million-token price of a model in USD.
type ModelPrice struct {
	InputUSD  float64
	OutputUSD float64
}

// DefaultPrice is the conservative estimate applied to models missing from
// the table. Overestimating keeps the budget tracker on the safe side.
var DefaultPrice = ModelPrice{InputUSD: 5.00, OutputUSD: 15.00}

// priceTable maps model ids (provider/model form) to list prices per
// million tokens. Kept small on purpose: only models the router is
// commonly configured with.
var priceTable = map[string]ModelPrice{
	"anthropic/claude-sonnet-4-5":       {InputUSD: 3.00, OutputUSD: 15.00},
	"anthropic/claude-haiku-4-5":        {InputUSD: 1.00, OutputUSD: 5.00},
	"openai/gpt-4o":                     {InputUSD: 2.50, OutputUSD: 10.00},
	"openai/gpt-4o-mini":                {InputUSD: 0.15, OutputUSD: 0.60},
	"google/gemini-2.0-flash":           {InputUSD: 0.10, OutputUSD: 0.40},
	"deepseek/deepseek-chat":            {InputUSD: 0.27, OutputUSD: 1.10},
	"meta-llama/llama-3.1-70b-instruct": {InputUSD: 0.59, OutputUSD: 0.79},
}

// PriceFor returns the price entry for a model id, falling back to
// DefaultPrice for unknown models.
func PriceFor(model string) ModelPrice {
	price, ok := priceTable[strings.ToLower(strings.TrimSpace(model))]
	if !ok {
		return DefaultPrice
	}

	return price
}

// Estimate computes the USD cost of one call from its token usage.
func Estimate(model string, inputTokens, outputTokens int64) float64 {
	price := PriceFor(model)

	return float64(inputTokens)/1e6*price.InputUSD + float64(outputTokens)/1e6*price.OutputUSD
}
