// Package prompt turns an incoming chat payload into a prompt the
// generation backends can serve: normalization into system/history/active
// turn, token-budget compaction, and multimodal enrichment.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/botwire/inference-gateway/internal/apierr"
)

// Message roles on the wire.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Content part types on the wire.
const (
	PartText     = "text"
	PartImageURL = "image_url"
	PartAudioURL = "audio_url"
)

// URLRef wraps a media URL in the OpenAI part shape.
type URLRef struct {
	URL string `json:"url"`
}

// Part is one typed element of a multi-part message content.
type Part struct {
	Type     string  `json:"type"`
	Text     string  `json:"text,omitempty"`
	ImageURL *URLRef `json:"image_url,omitempty"`
	AudioURL *URLRef `json:"audio_url,omitempty"`
}

// Content is either a plain string or a list of typed parts.
type Content struct {
	Text  string
	Parts []Part
}

// UnmarshalJSON accepts both `"content": "hi"` and the typed-part array.
func (c *Content) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Text = s
		return nil
	}

	var parts []Part
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("content must be a string or a list of typed parts")
	}
	c.Parts = parts
	return nil
}

// MarshalJSON emits the string form when there are no parts.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.Parts == nil {
		return json.Marshal(c.Text)
	}
	return json.Marshal(c.Parts)
}

// PlainText flattens the content to its text pieces.
func (c Content) PlainText() string {
	if c.Parts == nil {
		return c.Text
	}
	var b strings.Builder
	for _, p := range c.Parts {
		if p.Type == PartText && p.Text != "" {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// Message is one chat message as received on the wire.
type Message struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// Turn is one flattened conversation turn.
type Turn struct {
	Role    string
	Content string
}

// Normalized is the per-request prompt view: system prompt, ordered
// history, the active user turn, and any media references attached to
// the active turn.
type Normalized struct {
	System  string
	History []Turn
	User    string
	Images  []string
	Audio   string
}

// Normalize derives the prompt view from the wire messages. The last
// user-role message is the active turn; everything before it, excluding
// system messages, is history. Media references are taken from the
// active turn only.
func Normalize(messages []Message) (*Normalized, error) {
	lastUser := -1
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			lastUser = i
			break
		}
	}
	if lastUser == -1 {
		return nil, fmt.Errorf("%w: at least one user message is required", apierr.ErrMalformedRequest)
	}

	n := &Normalized{}

	var systems []string
	for i := 0; i < lastUser; i++ {
		m := messages[i]
		switch m.Role {
		case RoleSystem:
			systems = append(systems, m.Content.PlainText())
		case RoleUser, RoleAssistant:
			n.History = append(n.History, Turn{Role: m.Role, Content: m.Content.PlainText()})
		default:
			return nil, fmt.Errorf("%w: unknown role %q", apierr.ErrMalformedRequest, m.Role)
		}
	}
	// A system message may also follow the active turn in sloppy client
	// payloads; honor it rather than treating it as history.
	for i := lastUser + 1; i < len(messages); i++ {
		if messages[i].Role == RoleSystem {
			systems = append(systems, messages[i].Content.PlainText())
		}
	}
	n.System = strings.Join(systems, "\n")

	active := messages[lastUser]
	n.User = active.Content.PlainText()
	for _, p := range active.Content.Parts {
		switch p.Type {
		case PartImageURL:
			if p.ImageURL != nil && p.ImageURL.URL != "" {
				n.Images = append(n.Images, p.ImageURL.URL)
			}
		case PartAudioURL:
			if p.AudioURL != nil && p.AudioURL.URL != "" && n.Audio == "" {
				n.Audio = p.AudioURL.URL
			}
		}
	}

	return n, nil
}
