package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/botwire/inference-gateway/internal/apierr"
	"github.com/botwire/inference-gateway/internal/config"
	"github.com/botwire/inference-gateway/internal/keypool"
	"github.com/botwire/inference-gateway/internal/utils"
)

// Result is a completed buffered generation.
type Result struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Attempts         int
}

// Generator wraps generation calls with the retry/failover state
// machine: up to MaxGenerationAttempts, rotating the credential on
// rate-limit and server errors, demoting it immediately on auth errors,
// and never retrying oversize rejections.
type Generator struct {
	pool *keypool.Pool
}

// NewGenerator builds a generator over the credential pool.
func NewGenerator(pool *keypool.Pool) *Generator {
	return &Generator{pool: pool}
}

// Generate runs a buffered generation. The first attempt reuses the
// credential already acquired for preprocessing; later attempts
// re-acquire, which may yield a different pool member.
func (g *Generator) Generate(ctx context.Context, route Route, msgs []openai.ChatCompletionMessage, initial keypool.Credential) (*Result, error) {
	var result *Result

	attempts, err := g.withRetry(ctx, route, initial, func(client *openai.Client) error {
		resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:    route.Config.Model,
			Messages: msgs,
		})
		if err != nil {
			return Classify(err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("upstream returned no choices")
		}
		result = &Result{
			Text:             resp.Choices[0].Message.Content,
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Attempts = attempts
	return result, nil
}

// Stream opens a streaming generation and returns the live stream
// handle. Retry applies to opening the stream only; mid-stream failures
// are the streaming adapter's concern (it bills whatever was produced).
func (g *Generator) Stream(ctx context.Context, route Route, msgs []openai.ChatCompletionMessage, initial keypool.Credential) (*openai.ChatCompletionStream, error) {
	var stream *openai.ChatCompletionStream

	_, err := g.withRetry(ctx, route, initial, func(client *openai.Client) error {
		s, err := client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
			Model:    route.Config.Model,
			Messages: msgs,
			Stream:   true,
		})
		if err != nil {
			return Classify(err)
		}
		stream = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// withRetry is the bounded attempt loop. The credential and the client
// derived from it are locals of each attempt - nothing is shared or
// mutated across attempts or requests.
func (g *Generator) withRetry(ctx context.Context, route Route, initial keypool.Credential, call func(*openai.Client) error) (int, error) {
	var lastErr error

	for attempt := 1; attempt <= config.MaxGenerationAttempts; attempt++ {
		cred := initial
		if attempt > 1 {
			cred = g.pool.Acquire()
		}

		client, err := NewClient(route.Config, cred.Secret)
		if err != nil {
			return attempt, fmt.Errorf("failed to build backend client: %w", err)
		}

		err = call(client)
		if err == nil {
			g.pool.Release(cred.ID)
			return attempt, nil
		}
		lastErr = err

		switch {
		case errors.Is(err, apierr.ErrAuthConfig):
			// Demotion removes the bad key from future random selection;
			// retrying against the same exhausted pool is pointless.
			g.pool.Demote(cred.ID)
			return attempt, err
		case errors.Is(err, apierr.ErrOversize):
			return attempt, err
		case Retryable(err):
			log.Warn().Str("backend", route.BackendID).Int("attempt", attempt).
				Str("upstream_error", utils.Truncate(err.Error(), config.MaxErrorBodyLogLen)).
				Msg("generation attempt failed; rotating credential")
			continue
		default:
			return attempt, err
		}
	}

	return config.MaxGenerationAttempts, fmt.Errorf("%w: %d attempts exhausted: %v",
		apierr.ErrCapacity, config.MaxGenerationAttempts, lastErr)
}
