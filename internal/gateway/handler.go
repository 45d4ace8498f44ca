package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/botwire/inference-gateway/internal/apierr"
	"github.com/botwire/inference-gateway/internal/backend"
	"github.com/botwire/inference-gateway/internal/cache"
	"github.com/botwire/inference-gateway/internal/config"
	"github.com/botwire/inference-gateway/internal/prompt"
	"github.com/botwire/inference-gateway/internal/sanitize"
	"github.com/botwire/inference-gateway/internal/store"
)

// handleChatCompletions is the orchestrator: one request through the
// fixed pipeline. Order matters - the balance gate runs before any
// upstream work, audio enriches the prompt images consume, and metering
// runs exactly once after generation.
func (g *Gateway) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	requestID := uuid.NewString()
	acct := accountFrom(r.Context())
	g.stats.RecordRequest()

	r.Body = http.MaxBytesReader(w, r.Body, config.MaxRequestBodySize)
	var req ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.failRequest(w, requestID, fmt.Errorf("%w: invalid JSON body", apierr.ErrMalformedRequest))
		return
	}
	if req.Model == "" || len(req.Messages) == 0 {
		g.failRequest(w, requestID, fmt.Errorf("%w: model and messages are required", apierr.ErrMalformedRequest))
		return
	}

	// Balance gate - before any upstream call.
	freeTier, err := g.meter.Gate(acct)
	if err != nil {
		g.failRequest(w, requestID, err)
		return
	}

	n, err := prompt.Normalize(req.Messages)
	if err != nil {
		g.failRequest(w, requestID, err)
		return
	}

	history, err := prompt.Compact(n.System, n.History, n.User)
	if err != nil {
		g.failRequest(w, requestID, err)
		return
	}

	route := g.router.Route(req.Model)

	// Cache check (buffered requests only). A hit skips all upstream
	// work and is metered at cost 0, like a free-tier request.
	if !req.Stream && g.respCache != nil {
		if entry, ok := g.respCache.Get(r.Context(), route.PublicModel, req.Messages); ok {
			g.stats.RecordCacheHit()
			if _, err := g.meter.Charge(r.Context(), acct.ID, route.PublicModel, entry.Tokens, route.Tier, true); err != nil {
				log.Error().Err(err).Str("request_id", requestID).Msg("metering failed on cache hit")
			}
			g.writeCompletion(w, route.PublicModel, entry.Text, Usage{TotalTokens: entry.Tokens})
			log.Info().Str("request_id", requestID).Str("account", acct.ID).
				Dur("latency", time.Since(startTime)).Bool("cache_hit", true).
				Msg("request served from cache")
			return
		}
	}

	// The credential acquired here serves preprocessing and the first
	// generation attempt. If a modality call burns it on an auth
	// failure, demote it, re-acquire, and rekey the aux client so later
	// modality calls carry the fresh secret - otherwise the stale secret
	// keeps failing and the demotions land on credentials that were
	// never used.
	cred := g.pool.Acquire()
	if n.Audio != "" || len(n.Images) > 0 {
		aux, auxErr := backend.NewAuxClient(g.cfg.Backends.Apex,
			g.cfg.Backends.TranscriptionModel, g.cfg.Backends.VisionModel, cred.Secret)
		if auxErr != nil {
			log.Warn().Err(auxErr).Str("request_id", requestID).Msg("aux client unavailable; continuing text-only")
		} else {
			prompt.Preprocess(r.Context(), n, aux, g.fetcher, func() {
				g.pool.Demote(cred.ID)
				cred = g.pool.Acquire()
				if err := aux.Rekey(cred.Secret); err != nil {
					log.Warn().Err(err).Str("request_id", requestID).Msg("aux client rekey failed")
				}
			})
		}
	}

	msgs := backend.Messages(n.System, history, n.User)
	promptEstimate := prompt.EstimatePrompt(n.System, history, n.User)

	if req.Stream {
		g.handleStreaming(w, r, route, msgs, cred, acct.ID, freeTier, requestID, promptEstimate, startTime)
		return
	}

	result, err := g.generator.Generate(r.Context(), route, msgs, cred)
	if err != nil {
		g.failRequest(w, requestID, err)
		return
	}

	clean := sanitize.Sanitize(result.Text)

	usage := Usage{
		PromptTokens:     result.PromptTokens,
		CompletionTokens: result.CompletionTokens,
		TotalTokens:      result.TotalTokens,
	}
	if usage.TotalTokens == 0 {
		// Upstream did not report usage; fall back to the estimate
		// heuristic over prompt plus completion.
		usage.TotalTokens = promptEstimate + prompt.EstimateTokens(clean)
	}

	// Metering survives caller disconnects: billing correctness over
	// cancellation propagation.
	cost, err := g.meter.Charge(context.WithoutCancel(r.Context()),
		acct.ID, route.PublicModel, usage.TotalTokens, route.Tier, freeTier)
	if err != nil {
		log.Error().Err(err).Str("request_id", requestID).Msg("metering failed after generation")
	}

	if g.respCache != nil {
		g.respCache.Set(r.Context(), route.PublicModel, req.Messages,
			&cache.Entry{Text: clean, Tokens: usage.TotalTokens, Model: route.PublicModel})
	}

	g.writeCompletion(w, route.PublicModel, clean, usage)

	log.Info().Str("request_id", requestID).Str("account", acct.ID).
		Str("backend", route.BackendID).Str("model", route.PublicModel).
		Int("attempts", result.Attempts).Int("tokens", usage.TotalTokens).
		Float64("cost", cost).Bool("free_tier", freeTier).
		Dur("latency", time.Since(startTime)).
		Msg("request completed")
}

// writeCompletion emits the buffered response body.
func (g *Gateway) writeCompletion(w http.ResponseWriter, model, text string, usage Usage) {
	now := time.Now().Unix()
	resp := ChatCompletionResponse{
		ID:      completionID(now),
		Object:  "chat.completion",
		Created: now,
		Model:   model,
		Choices: []Choice{{
			Index:        0,
			Message:      ChatMessage{Role: prompt.RoleAssistant, Content: text},
			FinishReason: "stop",
		}},
		Usage: usage,
	}
	writeJSON(w, http.StatusOK, resp)
}

// failRequest translates a pipeline error into the error envelope.
func (g *Gateway) failRequest(w http.ResponseWriter, requestID string, err error) {
	g.stats.RecordFailure()
	typ, code := apierr.TypeCode(err)
	status := apierr.Status(err)

	log.Warn().Err(err).Str("request_id", requestID).Int("status", status).Msg("request failed")
	writeError(w, status, apierr.Message(err), typ, code)
}

// handleUsageList returns the account's recent ledger entries.
func (g *Gateway) handleUsageList(w http.ResponseWriter, r *http.Request) {
	acct := accountFrom(r.Context())

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	recs, err := g.store.ListUsage(r.Context(), acct.ID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load usage",
			"gateway_error", "internal_error")
		return
	}
	if recs == nil {
		recs = []store.UsageRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": recs})
}

func completionID(unix int64) string {
	return fmt.Sprintf("chatcmpl-%d%04d", unix, time.Now().UnixNano()%10000)
}
