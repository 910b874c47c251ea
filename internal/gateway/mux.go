package gateway

import (
	"net/http"

	"renderx/internal/auth"
	"renderx/internal/docs"
	"renderx/internal/metrics"
	"renderx/internal/ratelimit"
	"renderx/internal/webhook"
)

// Routes builds the full HTTP handler: the auxiliary endpoints enumerated
// in "External Interfaces" (health, render, cache admin, deploy webhook),
// the Prometheus scrape endpoint, the embedded operator docs, and the SPA
// catch-all handled by Gateway.ServeHTTP. tokens gates the cache admin and
// webhook endpoints; limiter bounds /render.
func (g *Gateway) Routes(tokens *auth.TokenSet, limiter *ratelimit.Limiter) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /health", g.HealthHandler())
	mux.Handle("GET /render", g.RenderHandler(limiter))
	mux.Handle("POST /cache/invalidate", tokens.Require(g.CacheInvalidateHandler()))
	mux.Handle("POST /cache/clear", tokens.Require(g.CacheClearHandler()))
	mux.Handle("POST /webhooks/deploy", tokens.Require(webhook.Handler(g.cfg, g.store)))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.Handle("GET /internal/stats", g.StatsHandler())
	mux.Handle("GET /internal/docs/{page}", docs.Handler())
	mux.Handle("/", g)
	return mux
}
