package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/botwire/inference-gateway/internal/billing"
	"github.com/botwire/inference-gateway/internal/config"
)

func testRouter() *Router {
	return NewRouter(config.BackendsConfig{
		Flash: config.BackendConfig{BaseURL: "https://flash.example/v1", Model: "flash-upstream"},
		Core:  config.BackendConfig{BaseURL: "https://core.example/v1", Model: "core-upstream"},
		Apex:  config.BackendConfig{BaseURL: "https://apex.example/v1", Model: "apex-upstream"},
	})
}

func TestRoute(t *testing.T) {
	r := testRouter()

	tests := []struct {
		requested string
		backend   string
		public    string
		tier      billing.Tier
	}{
		{"bw-flash", BackendFlash, PublicModelFlash, billing.TierLow},
		{"bw-core", BackendCore, PublicModelCore, billing.TierMid},
		{"bw-apex", BackendApex, PublicModelApex, billing.TierHigh},

		// capability aliases
		{"fast", BackendFlash, PublicModelFlash, billing.TierLow},
		{"balanced", BackendCore, PublicModelCore, billing.TierMid},
		{"pro", BackendApex, PublicModelApex, billing.TierHigh},

		// upstream names clients send
		{"gpt-4o-mini", BackendFlash, PublicModelFlash, billing.TierLow},
		{"gpt-4o", BackendCore, PublicModelCore, billing.TierMid},
		{"gpt-4", BackendApex, PublicModelApex, billing.TierHigh},

		// case and whitespace are forgiven
		{"  BW-Flash ", BackendFlash, PublicModelFlash, billing.TierLow},

		// dated variants land on the family via prefix match
		{"gpt-4o-mini-2024-07-18", BackendFlash, PublicModelFlash, billing.TierLow},
		{"flash-20260101", BackendFlash, PublicModelFlash, billing.TierLow},
		{"claude-sonnet-4", BackendApex, PublicModelApex, billing.TierHigh},

		// longest prefix wins: gpt-4o-mini-* is flash even though gpt-4
		// and gpt-4o also match
		{"gpt-4o-mini-x", BackendFlash, PublicModelFlash, billing.TierLow},
		{"gpt-4o-2024-08-06", BackendCore, PublicModelCore, billing.TierMid},

		// unknowns and empty default to apex
		{"some-new-model", BackendApex, PublicModelApex, billing.TierHigh},
		{"", BackendApex, PublicModelApex, billing.TierHigh},
	}

	for _, tt := range tests {
		t.Run(tt.requested, func(t *testing.T) {
			route := r.Route(tt.requested)
			assert.Equal(t, tt.backend, route.BackendID)
			assert.Equal(t, tt.public, route.PublicModel)
			assert.Equal(t, tt.tier, route.Tier)
		})
	}
}

func TestRoute_CarriesBackendConfig(t *testing.T) {
	r := testRouter()

	assert.Equal(t, "flash-upstream", r.Route("bw-flash").Config.Model)
	assert.Equal(t, "core-upstream", r.Route("bw-core").Config.Model)
	assert.Equal(t, "apex-upstream", r.Route("unknown").Config.Model)
}
