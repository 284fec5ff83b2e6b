package vision

import (
	"math"
	"strings"
)

// Per-model USD/1M-token pricing and the fixed USD→local conversion
// rate (step 5): the fast primary path prices like Gemini 3 Flash, the
// stronger fallback path like Gemini 3 Pro, and tenants bill in INR.
const (
	fastInputPricePer1M  = 0.075
	fastOutputPricePer1M = 0.30

	strongInputPricePer1M  = 1.25
	strongOutputPricePer1M = 5.00

	usdToLocalRate = 84.0
)

// computeCost prices one extraction call in local currency from its
// token counts, picking the fast- or strong-tier rate by matching
// "flash"/"haiku" (primary-path model families) in modelUsed; anything
// else is priced at the stronger tier.
func computeCost(inputTokens, outputTokens int, modelUsed string) float64 {
	inputPrice, outputPrice := strongInputPricePer1M, strongOutputPricePer1M
	lower := strings.ToLower(modelUsed)
	if strings.Contains(lower, "flash") || strings.Contains(lower, "haiku") {
		inputPrice, outputPrice = fastInputPricePer1M, fastOutputPricePer1M
	}

	inputCostUSD := (float64(inputTokens) / 1_000_000) * inputPrice
	outputCostUSD := (float64(outputTokens) / 1_000_000) * outputPrice
	totalLocal := (inputCostUSD + outputCostUSD) * usdToLocalRate

	return math.Round(totalLocal*10000) / 10000
}
