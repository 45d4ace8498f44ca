package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text untouched", "Hello there.", "Hello there."},
		{"whitespace trimmed", "  hi  \n", "hi"},
		{"json reply field", `{"reply": "Hello!"}`, "Hello!"},
		{"json text field", `{"text": "fallback field"}`, "fallback field"},
		{"json message field", `{"message": "third choice"}`, "third choice"},
		{"reply wins over text", `{"text": "no", "reply": "yes"}`, "yes"},
		{"json escapes decoded", `{"reply": "line1\nline2 \"quoted\""}`, "line1\nline2 \"quoted\""},
		{"non-string reply falls through", `{"reply": 42}`, `{"reply": 42}`},
		{"json without reply fields untouched", `{"status": "ok"}`, `{"status": "ok"}`},
		{"json array untouched", `["a","b"]`, `["a","b"]`},
		{"reply fragment in broken json", `garbage "reply": "salvaged" trailing`, "salvaged"},
		{"fragment with escapes", `x "reply": "a\tb" y`, "a\tb"},
		{"bare fence", "```\nhi\n```", "hi"},
		{"fence with language tag", "```markdown\n# Title\nbody\n```", "# Title\nbody"},
		{"fenced json unwrapped then parsed", "```json\n{\"reply\": \"inner\"}\n```", "inner"},
		{"fence inside fence stops after one unwrap", "```\n```\nhi\n```\n```", "```\nhi\n```"},
		{"fence prefix only untouched", "```\nunterminated", "```\nunterminated"},
		{"code sample with fences inline", "use ``` for fences", "use ``` for fences"},
		{"empty input", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.in))
		})
	}
}

func TestSanitize_FirstLineWithSpacesIsContent(t *testing.T) {
	// A first line containing spaces is content, not a language tag.
	got := Sanitize("```not a tag line\nsecond\n```")
	assert.Equal(t, "not a tag line\nsecond", got)
}
