package prompt

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botwire/inference-gateway/internal/apierr"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int
	}{
		{"empty", "", 0},
		{"short", "hi", 1},            // ceil(2/3.5)
		{"seven chars", "1234567", 2}, // ceil(7/3.5)
		{"fourteen chars", strings.Repeat("x", 14), 4},
		{"rounds up", strings.Repeat("x", 15), 5}, // ceil(15/3.5) = 5
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EstimateTokens(tt.in))
		})
	}
}

func TestCompact_NoTrimWhenUnderBudget(t *testing.T) {
	history := []Turn{
		{Role: RoleUser, Content: "first"},
		{Role: RoleAssistant, Content: "second"},
	}

	out, err := Compact("system", history, "hello")
	require.NoError(t, err)
	assert.Equal(t, history, out)
}

func TestCompact_EvictsOldestFirst(t *testing.T) {
	// Each turn estimates to ~2858 tokens; 20 turns plus the active
	// turn blow past the soft budget, forcing eviction from the front.
	big := strings.Repeat("x", 10_000)
	history := make([]Turn, 20)
	for i := range history {
		history[i] = Turn{Role: RoleUser, Content: big}
	}

	out, err := Compact("", history, "hello")
	require.NoError(t, err)
	require.NotEmpty(t, out)
	assert.Less(t, len(out), len(history))

	// The result must be a suffix of the input: never a newer turn
	// dropped while an older one survives.
	assert.Equal(t, history[len(history)-len(out):], out)

	// And the trimmed prompt must actually fit.
	assert.LessOrEqual(t, EstimatePrompt("", out, "hello"), 40_000)
}

func TestCompact_DropsAllHistoryIfNeeded(t *testing.T) {
	big := strings.Repeat("x", 120_000)
	history := []Turn{{Role: RoleUser, Content: big}, {Role: RoleAssistant, Content: big}}

	out, err := Compact("", history, "hello")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestCompact_OversizeFailsWithoutTrimming(t *testing.T) {
	// System+user alone exceed the hard ceiling: error, zero trimming.
	system := strings.Repeat("s", 200_000)
	user := strings.Repeat("u", 200_000)
	history := []Turn{{Role: RoleUser, Content: "keep me"}}

	out, err := Compact(system, history, user)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apierr.ErrOversize))
	assert.Nil(t, out)
}

func TestCompact_HistoryDoesNotTriggerOversize(t *testing.T) {
	// A huge history is trimmable; only system+user count against the
	// hard ceiling.
	big := strings.Repeat("x", 500_000)
	history := []Turn{{Role: RoleUser, Content: big}}

	out, err := Compact("small", history, "also small")
	require.NoError(t, err)
	assert.Empty(t, out)
}
