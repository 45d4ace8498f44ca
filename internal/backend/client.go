package backend

import (
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/botwire/inference-gateway/internal/awssign"
	"github.com/botwire/inference-gateway/internal/config"
	"github.com/botwire/inference-gateway/internal/prompt"
)

// NewClient builds an OpenAI-compatible client for one backend using
// the given credential. The client is a per-attempt local value - it is
// never shared or mutated across attempts, so rotation on retry cannot
// interfere with concurrent requests.
func NewClient(b config.BackendConfig, secret string) (*openai.Client, error) {
	clientCfg := openai.DefaultConfig(secret)
	clientCfg.BaseURL = b.BaseURL

	httpClient := &http.Client{Timeout: config.UpstreamCallTimeout}
	if b.BedrockRegion != "" {
		// Bedrock-hosted tier: SigV4 instead of bearer auth.
		t, err := awssign.New("bedrock", b.BedrockRegion, nil)
		if err != nil {
			return nil, err
		}
		httpClient.Transport = t
	}
	clientCfg.HTTPClient = httpClient

	return openai.NewClientWithConfig(clientCfg), nil
}

// Messages converts the compacted prompt into the upstream wire shape:
// system prompt, surviving history turns, then the active user turn.
func Messages(system string, history []prompt.Turn, user string) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	if system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, t := range history {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: t.Role, Content: t.Content})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: user,
	})
	return msgs
}
