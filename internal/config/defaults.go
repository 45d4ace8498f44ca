// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: All default values that appear in multiple places should be defined here.
// This makes configuration more maintainable and auditable.
package config

import "time"

// =============================================================================
// TOKEN ESTIMATION
// =============================================================================

// CharsPerToken is the approximate number of characters per token.
// A fixed heuristic, not an exact tokenizer - conservative enough for
// mixed-script input. Applied once per request, never re-checked against
// a live tokenizer.
const CharsPerToken = 3.5

// SoftTokenBudget is the estimate above which conversation history is
// trimmed oldest-first until the prompt fits.
const SoftTokenBudget = 40_000

// HardTokenCeiling is the estimate above which a request is rejected
// outright: if system prompt plus active user turn alone exceed it,
// no amount of history trimming helps.
const HardTokenCeiling = 100_000

// =============================================================================
// RETRY / FAILOVER
// =============================================================================

// MaxGenerationAttempts bounds retry-with-key-rotation on rate-limit
// and server errors. Auth and oversize errors are never retried.
const MaxGenerationAttempts = 3

// =============================================================================
// MULTIMODAL PREPROCESSING
// =============================================================================

// MaxImagesPerRequest caps concurrent upstream image-description calls.
const MaxImagesPerRequest = 2

// =============================================================================
// BILLING
// =============================================================================

// DefaultMinimumBalance is the balance gate threshold.
const DefaultMinimumBalance = 0.01

// DefaultFreeTierCap is the lifetime request cap under which an account
// with negligible balance is still served at zero cost.
const DefaultFreeTierCap = 20

// DefaultFloorCost is the minimum charge per metered request. Prevents
// near-zero-cost micro-requests from being billed at effectively nothing.
const DefaultFloorCost = 0.0001

// =============================================================================
// KEY POOL
// =============================================================================

// DefaultPoolRefreshInterval is how often the in-process credential
// registry reloads from the operator-managed store.
const DefaultPoolRefreshInterval = 1 * time.Minute

// =============================================================================
// HTTP AND NETWORKING
// =============================================================================

// UpstreamCallTimeout bounds every upstream network call (generation,
// transcription, image analysis) so a hung upstream cannot hold a
// request open indefinitely.
const UpstreamCallTimeout = 90 * time.Second

// MaxRequestBodySize is the maximum allowed request body (10MB).
const MaxRequestBodySize = 10 * 1024 * 1024

// DefaultServerReadTimeout for the HTTP server.
const DefaultServerReadTimeout = 60 * time.Second

// DefaultServerWriteTimeout for the HTTP server (safe for streaming).
const DefaultServerWriteTimeout = 10 * time.Minute

// MaxErrorBodyLogLen limits upstream error bodies in logs to prevent bloat.
const MaxErrorBodyLogLen = 500

// =============================================================================
// CACHE
// =============================================================================

// DefaultCacheTTL for the optional Redis response cache.
const DefaultCacheTTL = 1 * time.Hour

// =============================================================================
// AUXILIARY MODELS
// =============================================================================

// DefaultTranscriptionModel is the Whisper-style model used for audio.
const DefaultTranscriptionModel = "whisper-1"

// DefaultVisionModel is the model used for image descriptions.
const DefaultVisionModel = "gpt-4o-mini"
