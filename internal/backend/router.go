// Package backend routes requests to one of three interchangeable
// generation backends and wraps the upstream calls with bounded
// retry-with-key-rotation.
package backend

import (
	"strings"

	"github.com/botwire/inference-gateway/internal/billing"
	"github.com/botwire/inference-gateway/internal/config"
)

// Backend identities. Three fixed tiers with distinct price buckets.
const (
	BackendFlash = "flash" // fast/cheap
	BackendCore  = "core"  // balanced
	BackendApex  = "apex"  // highest quality
)

// Public model names returned in responses. A stable, auditable mapping
// from requested name to price and capability - not a learned policy.
const (
	PublicModelFlash = "bw-flash"
	PublicModelCore  = "bw-core"
	PublicModelApex  = "bw-apex"
)

// Route is the outcome of model routing: which backend serves the
// request, the canonical name billed and reported, and the price tier.
type Route struct {
	BackendID   string
	PublicModel string
	Tier        billing.Tier
	Config      config.BackendConfig
}

// modelAliases maps requested model names to a backend identity.
// Exact match first, then longest-prefix (so dated variants of a known
// family still land on the right tier), then the apex default.
var modelAliases = map[string]string{
	// public names route to themselves
	"bw-flash": BackendFlash,
	"bw-core":  BackendCore,
	"bw-apex":  BackendApex,

	// capability aliases
	"flash":    BackendFlash,
	"fast":     BackendFlash,
	"lite":     BackendFlash,
	"balanced": BackendCore,
	"standard": BackendCore,
	"apex":     BackendApex,
	"pro":      BackendApex,

	// upstream names clients commonly send
	"gpt-4o-mini":      BackendFlash,
	"gemini-2.0-flash": BackendFlash,
	"gpt-4o":           BackendCore,
	"gpt-4-turbo":      BackendCore,
	"gpt-4":            BackendApex,
	"claude-sonnet":    BackendApex,
}

// tierFor maps backend identity to its price bucket.
var tierFor = map[string]billing.Tier{
	BackendFlash: billing.TierLow,
	BackendCore:  billing.TierMid,
	BackendApex:  billing.TierHigh,
}

// publicFor maps backend identity to the canonical public model name.
var publicFor = map[string]string{
	BackendFlash: PublicModelFlash,
	BackendCore:  PublicModelCore,
	BackendApex:  PublicModelApex,
}

// Router resolves requested model names against the configured backends.
type Router struct {
	cfg config.BackendsConfig
}

// NewRouter builds a router over the backend tier configuration.
func NewRouter(cfg config.BackendsConfig) *Router {
	return &Router{cfg: cfg}
}

// Route maps a requested model name to a backend. Unmatched names fall
// back to the highest-quality backend by default.
func (r *Router) Route(requested string) Route {
	name := strings.ToLower(strings.TrimSpace(requested))

	id, ok := modelAliases[name]
	if !ok {
		// Longest-prefix family match, e.g. "flash-20260101" or
		// "gpt-4o-mini-2024-07-18".
		bestPrefix := ""
		for alias, backend := range modelAliases {
			if strings.HasPrefix(name, alias) && len(alias) > len(bestPrefix) {
				bestPrefix = alias
				id = backend
			}
		}
		if bestPrefix == "" {
			id = BackendApex
		}
	}

	return Route{
		BackendID:   id,
		PublicModel: publicFor[id],
		Tier:        tierFor[id],
		Config:      r.backendConfig(id),
	}
}

func (r *Router) backendConfig(id string) config.BackendConfig {
	switch id {
	case BackendFlash:
		return r.cfg.Flash
	case BackendCore:
		return r.cfg.Core
	default:
		return r.cfg.Apex
	}
}
