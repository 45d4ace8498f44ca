package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
	"github.com/tidwall/sjson"

	"github.com/botwire/inference-gateway/internal/backend"
	"github.com/botwire/inference-gateway/internal/keypool"
	"github.com/botwire/inference-gateway/internal/prompt"
	"github.com/botwire/inference-gateway/internal/utils"
)

// handleStreaming converts the backend's token stream into SSE chunks
// while accumulating the full text for post-hoc billing. Billing is
// based on produced tokens: a mid-flight upstream error or a caller
// disconnect still meters whatever was accumulated.
func (g *Gateway) handleStreaming(w http.ResponseWriter, r *http.Request, route backend.Route,
	msgs []openai.ChatCompletionMessage, cred keypool.Credential, accountID string,
	freeTier bool, requestID string, promptEstimate int, startTime time.Time) {

	// The upstream stream must outlive a caller disconnect: the request
	// context dies with the client, and billing needs the full produced
	// output. The per-call client timeout still bounds the drain.
	stream, err := g.generator.Stream(context.WithoutCancel(r.Context()), route, msgs, cred)
	if err != nil {
		g.failRequest(w, requestID, err)
		return
	}
	defer stream.Close()
	g.stats.RecordStream()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.failRequest(w, requestID, fmt.Errorf("streaming unsupported by server"))
		return
	}

	// One chunk template per request; each delta patches the content in
	// place instead of re-marshaling the whole frame.
	now := time.Now().Unix()
	template, err := utils.MarshalNoEscape(streamChunk{
		ID:      completionID(now),
		Object:  "chat.completion.chunk",
		Created: now,
		Model:   route.PublicModel,
		Choices: []streamSlice{{Index: 0}},
	})
	if err != nil {
		g.failRequest(w, requestID, err)
		return
	}

	var accumulated strings.Builder
	var reportedTokens int
	clientGone := false
	completed := false

	for {
		resp, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			completed = true
			break
		}
		if recvErr != nil {
			// Partial stream: stop forwarding, keep the buffer for billing.
			log.Warn().Err(recvErr).Str("request_id", requestID).
				Int("accumulated_bytes", accumulated.Len()).
				Msg("upstream stream ended early; billing partial output")
			break
		}

		if resp.Usage != nil {
			reportedTokens = resp.Usage.TotalTokens
		}
		if len(resp.Choices) == 0 {
			continue
		}
		piece := resp.Choices[0].Delta.Content
		if piece == "" {
			continue
		}

		accumulated.WriteString(piece)

		if !clientGone {
			chunk, _ := sjson.SetBytes(template, "choices.0.delta.content", piece)
			if _, werr := fmt.Fprintf(w, "data: %s\n\n", chunk); werr != nil {
				// Caller is gone; keep draining the upstream so the
				// transcript and the bill stay complete.
				clientGone = true
				continue
			}
			flusher.Flush()
		}
	}

	if !clientGone {
		final, _ := sjson.SetBytes(template, "choices.0.finish_reason", "stop")
		_, _ = fmt.Fprintf(w, "data: %s\n\n", final)
		_, _ = fmt.Fprintf(w, "data: [DONE]\n\n")
		flusher.Flush()
	}

	tokens := reportedTokens
	if tokens == 0 {
		tokens = promptEstimate + prompt.EstimateTokens(accumulated.String())
	}

	// Metering must complete even when the request context died with
	// the caller.
	cost, err := g.meter.Charge(context.WithoutCancel(r.Context()),
		accountID, route.PublicModel, tokens, route.Tier, freeTier)
	if err != nil {
		log.Error().Err(err).Str("request_id", requestID).Msg("metering failed after stream")
	}

	log.Info().Str("request_id", requestID).Str("account", accountID).
		Str("backend", route.BackendID).Str("model", route.PublicModel).
		Int("tokens", tokens).Float64("cost", cost).
		Bool("completed", completed).Bool("client_gone", clientGone).
		Dur("latency", time.Since(startTime)).
		Msg("stream finished")
}
