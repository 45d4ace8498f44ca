// Package gateway types - the OpenAI-compatible wire contract.
//
// DESIGN: Request parsing is shared with the prompt package (flexible
// string-or-parts content); response shapes are defined here because
// only the HTTP layer produces them.
package gateway

import (
	"github.com/botwire/inference-gateway/internal/prompt"
)

// ChatCompletionRequest is the inbound request body.
type ChatCompletionRequest struct {
	Model    string           `json:"model"`
	Messages []prompt.Message `json:"messages"`
	Stream   bool             `json:"stream"`
}

// ChatMessage is one message in a buffered response.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Choice is one completion choice. The gateway always returns exactly one.
type Choice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// Usage reports token accounting for a buffered response. Prompt and
// completion counts are zero when the upstream did not report exact
// usage; the total then carries the gateway's own estimate.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionResponse is the buffered response body.
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// streamChunk is the template shape for one SSE event.
type streamChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []streamSlice `json:"choices"`
}

type streamSlice struct {
	Index        int         `json:"index"`
	Delta        streamDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

type streamDelta struct {
	Content string `json:"content,omitempty"`
}

// errorEnvelope is the error body for all failure modes.
type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}
