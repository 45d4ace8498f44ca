package gateway

import (
	"net/http"
	"sync/atomic"

	"github.com/botwire/inference-gateway/internal/store"
)

// Stats holds in-process counters for the stats endpoint.
// Cost is accumulated as nano-dollars so it fits atomic int64 ops.
type Stats struct {
	requests  atomic.Int64
	streams   atomic.Int64
	failures  atomic.Int64
	cacheHits atomic.Int64
	tokens    atomic.Int64
	costNano  atomic.Int64
}

// NewStats creates an empty counter set.
func NewStats() *Stats {
	return &Stats{}
}

func (s *Stats) RecordRequest()  { s.requests.Add(1) }
func (s *Stats) RecordStream()   { s.streams.Add(1) }
func (s *Stats) RecordFailure()  { s.failures.Add(1) }
func (s *Stats) RecordCacheHit() { s.cacheHits.Add(1) }

// RecordUsage accumulates a metered ledger entry.
func (s *Stats) RecordUsage(rec store.UsageRecord) {
	s.tokens.Add(int64(rec.TokenCount))
	s.costNano.Add(int64(rec.Cost * 1e9))
}

// handleStats returns a snapshot of the in-process counters.
func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"requests":     g.stats.requests.Load(),
		"streams":      g.stats.streams.Load(),
		"failures":     g.stats.failures.Load(),
		"cache_hits":   g.stats.cacheHits.Load(),
		"total_tokens": g.stats.tokens.Load(),
		"total_cost":   float64(g.stats.costNano.Load()) / 1e9,
		"active_keys":  g.pool.ActiveCount(),
	})
}
