package prompt

import (
	"fmt"
	"math"

	"github.com/botwire/inference-gateway/internal/apierr"
	"github.com/botwire/inference-gateway/internal/config"
)

// EstimateTokens approximates the token cost of a string as
// ceil(chars / 3.5). A fixed heuristic, deliberately conservative for
// mixed-script input; byte length over-counts multibyte scripts, which
// errs on the safe side of the budget.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return int(math.Ceil(float64(len(s)) / config.CharsPerToken))
}

// EstimatePrompt sums the estimates of system, history, and user turn.
func EstimatePrompt(system string, history []Turn, user string) int {
	total := EstimateTokens(system) + EstimateTokens(user)
	for _, t := range history {
		total += EstimateTokens(t.Content)
	}
	return total
}

// Compact trims the oldest history turns until the prompt estimate fits
// the soft budget. If system plus the active user turn alone exceed the
// hard ceiling, it fails immediately: no amount of trimming helps.
// Eviction is strictly oldest-first, so the returned slice is always a
// suffix of the input - recency is the dimension that matters for
// conversational coherence. Applied once per request; never re-checked
// against a live tokenizer.
func Compact(system string, history []Turn, user string) ([]Turn, error) {
	base := EstimateTokens(system) + EstimateTokens(user)
	if base > config.HardTokenCeiling {
		return nil, fmt.Errorf("%w: system and user turn estimate %d exceeds ceiling %d",
			apierr.ErrOversize, base, config.HardTokenCeiling)
	}

	total := EstimatePrompt(system, history, user)
	for len(history) > 0 && total > config.SoftTokenBudget {
		total -= EstimateTokens(history[0].Content)
		history = history[1:]
	}
	return history, nil
}
