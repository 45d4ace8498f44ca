package backend

import (
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/botwire/inference-gateway/internal/apierr"
)

// Classify maps an upstream client error onto the gateway taxonomy:
// 401/403 -> ErrAuthConfig (demote, never retry), 429/5xx -> ErrCapacity
// (retry within budget), context-length 400s -> ErrOversize (never
// retry). Anything else passes through wrapped.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.HTTPStatusCode, apiErr.Message, codeString(apiErr.Code), err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode, "", "", err)
	}

	return fmt.Errorf("upstream call failed: %w", err)
}

func classifyStatus(status int, message, code string, cause error) error {
	switch {
	case status == 401 || status == 403:
		return fmt.Errorf("%w: %v", apierr.ErrAuthConfig, cause)
	case status == 429:
		return fmt.Errorf("%w: rate limited: %v", apierr.ErrCapacity, cause)
	case status >= 500:
		return fmt.Errorf("%w: server error: %v", apierr.ErrCapacity, cause)
	case status == 400 && isContextLength(message, code):
		return fmt.Errorf("%w: %v", apierr.ErrOversize, cause)
	default:
		return fmt.Errorf("upstream call failed: %w", cause)
	}
}

func isContextLength(message, code string) bool {
	if code == "context_length_exceeded" {
		return true
	}
	m := strings.ToLower(message)
	return strings.Contains(m, "context length") || strings.Contains(m, "maximum context")
}

func codeString(code any) string {
	if s, ok := code.(string); ok {
		return s
	}
	return ""
}

// Retryable reports whether a classified error may be retried with a
// rotated credential.
func Retryable(err error) bool {
	return errors.Is(err, apierr.ErrCapacity)
}
