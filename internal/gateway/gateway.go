// HTTP gateway for metered AI inference.
//
// DESIGN: Main request flow:
//   - handleChatCompletions(): Entry point for all chat requests
//   - normalize -> balance gate -> compact -> preprocess -> generate -> sanitize -> meter
//   - handleStreaming():       SSE streaming with post-hoc billing
//
// Also includes health check, stats, and the usage feed websocket.
package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/botwire/inference-gateway/internal/backend"
	"github.com/botwire/inference-gateway/internal/billing"
	"github.com/botwire/inference-gateway/internal/cache"
	"github.com/botwire/inference-gateway/internal/config"
	"github.com/botwire/inference-gateway/internal/keypool"
	"github.com/botwire/inference-gateway/internal/prompt"
	"github.com/botwire/inference-gateway/internal/store"
)

// Gateway ties the components into the end-to-end request contract.
type Gateway struct {
	cfg       *config.Config
	store     *store.DB
	pool      *keypool.Pool
	router    *backend.Router
	generator *backend.Generator
	meter     *billing.Meter
	fetcher   *prompt.MediaFetcher
	respCache *cache.Cache // nil when disabled
	stats     *Stats
	feed      *UsageFeed
	limiters  *accountLimiters

	srv *http.Server
}

// New wires the gateway from configuration and an opened store.
func New(cfg *config.Config, db *store.DB) *Gateway {
	pool := keypool.New(db, cfg.KeyPool.FallbackKey, cfg.KeyPool.RefreshInterval)

	g := &Gateway{
		cfg:       cfg,
		store:     db,
		pool:      pool,
		router:    backend.NewRouter(cfg.Backends),
		generator: backend.NewGenerator(pool),
		meter:     billing.NewMeter(db, cfg.Billing),
		fetcher:   prompt.NewMediaFetcher(cfg.Media.S3Region),
		stats:     NewStats(),
		feed:      NewUsageFeed(),
		limiters:  newAccountLimiters(cfg.Server.RateLimit, cfg.Server.RateBurst),
	}

	if cfg.Cache.Enabled {
		g.respCache = cache.New(cfg.Cache.Addr, cfg.Cache.TTL)
		log.Info().Str("addr", cfg.Cache.Addr).Dur("ttl", cfg.Cache.TTL).Msg("response cache enabled")
	}

	g.meter.OnRecord(func(rec store.UsageRecord) {
		g.stats.RecordUsage(rec)
		g.feed.Broadcast(rec)
	})

	return g
}

// Routes builds the HTTP handler.
func (g *Gateway) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", g.handleHealth)
	r.Get("/v1/stats", g.handleStats)
	r.Get("/v1/usage/feed", g.handleUsageFeed)

	r.Group(func(r chi.Router) {
		r.Use(g.withAccount)
		r.Post("/v1/chat/completions", g.handleChatCompletions)
		r.Get("/v1/usage", g.handleUsageList)
	})

	return r
}

// Start runs the HTTP server. Blocks until the server stops.
func (g *Gateway) Start() error {
	g.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", g.cfg.Server.Port),
		Handler:      g.Routes(),
		ReadTimeout:  g.cfg.Server.ReadTimeout,
		WriteTimeout: g.cfg.Server.WriteTimeout,
	}

	log.Info().Int("port", g.cfg.Server.Port).Msg("gateway listening")
	err := g.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the server and background workers.
func (g *Gateway) Shutdown(ctx context.Context) error {
	var err error
	if g.srv != nil {
		err = g.srv.Shutdown(ctx)
	}
	g.pool.Stop()
	if g.respCache != nil {
		_ = g.respCache.Close()
	}
	return err
}

// handleHealth returns gateway health status, exercising the store.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]string{"status": "ok"}

	if err := g.store.Conn().PingContext(r.Context()); err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
	}

	writeJSON(w, status, body)
}
