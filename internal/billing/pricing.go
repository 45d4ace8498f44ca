// Package billing meters completed generations against prepaid account
// balances and keeps the append-only usage ledger.
package billing

// Tier is the per-million-token rate bucket for a backend. The mapping
// from public model name to tier is a static, auditable table in the
// backend router; this package only prices it.
type Tier string

const (
	TierLow  Tier = "low"  // fast/cheap backend
	TierMid  Tier = "mid"  // balanced backend
	TierHigh Tier = "high" // highest-quality backend
)

// tierRates is USD per million tokens, prompt and completion combined.
var tierRates = map[Tier]float64{
	TierLow:  0.40,
	TierMid:  3.00,
	TierHigh: 12.00,
}

// conservative default for an unknown tier, same instinct as pricing
// unknown models at the top rate: never silently undercharge.
var defaultRate = tierRates[TierHigh]

// RatePerMTok returns the USD rate per million tokens for a tier.
func RatePerMTok(t Tier) float64 {
	if r, ok := tierRates[t]; ok {
		return r
	}
	return defaultRate
}

// Cost computes the charge for a token count at a tier, applying the
// floor: cost = max(tokens * ratePerToken, floor). The floor keeps
// micro-requests from being economically negligible to process.
func Cost(tokens int, tier Tier, floor float64) float64 {
	c := float64(tokens) / 1_000_000 * RatePerMTok(tier)
	if c < floor {
		return floor
	}
	return c
}
