// Package sanitize normalizes raw model output into plain reply text.
//
// Upstream models sometimes ignore a "respond in plain text" instruction
// and wrap the reply in JSON or a fenced code block. The sanitizer is a
// best-effort normalizer, not a strict parser: an explicit ordered chain
// of pure passes, each of which either produces clean text or falls
// through to the next.
package sanitize

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// replyFields are checked in order on a whole-string JSON object.
var replyFields = []string{"reply", "text", "message"}

var replyFragmentRe = regexp.MustCompile(`"reply"\s*:\s*"((?:[^"\\]|\\.)*)"`)

// maxFenceRecursion bounds fence stripping to a single unwrap.
const maxFenceRecursion = 1

// Sanitize normalizes raw model output. Applied to buffered responses
// only; streamed deltas are forwarded as produced.
func Sanitize(raw string) string {
	return run(strings.TrimSpace(raw), 0)
}

func run(text string, depth int) string {
	if out, ok := fromJSONObject(text); ok {
		return out
	}
	if out, ok := fromReplyFragment(text); ok {
		return out
	}
	if depth < maxFenceRecursion {
		if inner, ok := stripCodeFence(text); ok {
			return run(inner, depth+1)
		}
	}
	return text
}

// fromJSONObject handles output that is one whole JSON object carrying
// the reply under a conventional field name.
func fromJSONObject(text string) (string, bool) {
	if !strings.HasPrefix(text, "{") || !gjson.Valid(text) {
		return "", false
	}
	parsed := gjson.Parse(text)
	if !parsed.IsObject() {
		return "", false
	}
	for _, field := range replyFields {
		if v := parsed.Get(field); v.Exists() && v.Type == gjson.String {
			return v.String(), true
		}
	}
	return "", false
}

// fromReplyFragment salvages a "reply": "..." fragment embedded in
// otherwise unparseable output.
func fromReplyFragment(text string) (string, bool) {
	m := replyFragmentRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	unquoted, err := strconv.Unquote(`"` + m[1] + `"`)
	if err != nil {
		return "", false
	}
	return unquoted, true
}

// stripCodeFence unwraps output that is wholly a fenced code block,
// dropping an optional language tag on the opening fence.
func stripCodeFence(text string) (string, bool) {
	if !strings.HasPrefix(text, "```") || !strings.HasSuffix(text, "```") || len(text) < 7 {
		return "", false
	}
	inner := text[3 : len(text)-3]

	// "```json\n{...}\n```" - the first line is a language tag, not content.
	if nl := strings.IndexByte(inner, '\n'); nl >= 0 {
		tag := strings.TrimSpace(inner[:nl])
		if tag != "" && !strings.ContainsAny(tag, " \t") && len(tag) <= 20 {
			inner = inner[nl+1:]
		}
	}
	return strings.TrimSpace(inner), true
}
