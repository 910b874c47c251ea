package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"renderx/internal/metrics"
	"renderx/internal/netsafe"
	"renderx/internal/ratelimit"
	"renderx/internal/render"
	"renderx/internal/renderlog"
)

// healthResponse mirrors the JSON shape of GET /health.
type healthResponse struct {
	Status         string             `json:"status"`
	ActiveRequests int                `json:"activeRequests"`
	MaxConcurrency int                `json:"maxConcurrency"`
	Hosts          []string           `json:"hosts"`
	Browser        healthBrowserField `json:"browser"`
	Cache          healthCacheField   `json:"cache"`
}

type healthBrowserField struct {
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}

type healthCacheField struct {
	Writable bool   `json:"writable"`
	Error    string `json:"error,omitempty"`
}

// HealthHandler returns the GET /health handler.
func (g *Gateway) HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cfg := g.config()
		hosts := make([]string, 0, len(cfg.Hosts))
		for _, h := range cfg.Hosts {
			hosts = append(hosts, h.Host)
		}

		resp := healthResponse{
			Status:         "ok",
			MaxConcurrency: cfg.ParallelRenders,
			Hosts:          hosts,
			Browser:        healthBrowserField{Available: true},
			Cache:          healthCacheField{Writable: true},
		}
		if e, ok := g.renderer.(*render.Engine); ok {
			resp.ActiveRequests = e.Active()
		}
		if err := g.store.Writable(); err != nil {
			resp.Cache = healthCacheField{Writable: false, Error: err.Error()}
			resp.Status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		if resp.Status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(resp)
	})
}

// RenderHandler returns the GET /render handler: an auxiliary endpoint
// that renders an arbitrary SSRF-checked URL, subject to rate limiting and
// the effective strategy's bot-only gate.
func (g *Gateway) RenderHandler(limiter *ratelimit.Limiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := clientIP(r)
		if !limiter.Allow(clientIP) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		target := r.URL.Query().Get("url")
		if target == "" {
			http.Error(w, "missing url parameter", http.StatusBadRequest)
			return
		}
		device := r.URL.Query().Get("device")
		if device == "" {
			device = "desktop"
		}
		if device != "desktop" && device != "mobile" && device != "tablet" {
			http.Error(w, "device must be desktop, mobile, or tablet", http.StatusBadRequest)
			return
		}
		if err := netsafe.CheckURL(target); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		cfg := g.config()
		hostname := hostnameFromRequest(r)
		host, _ := cfg.ResolveHost(hostname)
		eff := cfg.Effective(host)

		if eff.BotOnly && !isBot(r.Header.Get("User-Agent"), eff.Bots) {
			http.Redirect(w, r, target, http.StatusFound)
			return
		}

		reqStart := time.Now()
		key := target
		if html, ok := g.store.Get(key, device); ok {
			metrics.CountCacheHit()
			w.Header().Set("X-Cache", "HIT")
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Write([]byte(html))
			g.record(hostname, r.URL.Path, eff.Strategy, "cache-hit", time.Since(reqStart))
			return
		}
		metrics.CountCacheMiss()

		job := render.Job{
			URL:              target,
			UserAgent:        "RenderX/1.0",
			TimeoutMs:        eff.TimeoutMs,
			RootSelector:     eff.RootSelector,
			Strategy:         eff.Strategy,
			OptimizerOptions: toOptimizeOptions(eff.OptimizerOptions),
		}
		start := time.Now()
		html, err := g.renderer.Render(r.Context(), job)
		if err != nil {
			metrics.ObserveRender(hostname, "failure", time.Since(start))
			http.Error(w, "render failed: "+err.Error(), http.StatusInternalServerError)
			g.record(hostname, r.URL.Path, eff.Strategy, "failed", time.Since(reqStart))
			return
		}
		metrics.ObserveRender(hostname, "success", time.Since(start))

		if err := g.store.Set(key, html, device, eff.CacheTTLSeconds); err != nil {
			slog.Warn("gateway: /render cache write failed", "url", target, "err", err)
		}
		w.Header().Set("X-Cache", "MISS")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(html))
		g.record(hostname, r.URL.Path, eff.Strategy, "rendered", time.Since(reqStart))
	})
}

type invalidateRequest struct {
	URL    string `json:"url"`
	Device string `json:"device,omitempty"`
}

type successResponse struct {
	Success bool `json:"success"`
}

// CacheInvalidateHandler returns the POST /cache/invalidate handler.
func (g *Gateway) CacheInvalidateHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req invalidateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		device := req.Device
		if device == "" {
			device = "desktop"
		}
		if err := g.store.Invalidate(req.URL, device); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(successResponse{Success: true})
	})
}

// CacheClearHandler returns the POST /cache/clear handler.
func (g *Gateway) CacheClearHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := g.store.Clear(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(successResponse{Success: true})
	})
}

type statsResponse struct {
	Since  string                `json:"since"`
	ByHost []renderlog.HostCount `json:"byHost"`
	Recent []renderlog.Event     `json:"recent"`
}

// StatsHandler returns the GET /internal/stats handler: a read-only view
// over the last 24h of render outcomes, for operators without direct SQLite
// access. Returns 404 when no recorder is attached.
func (g *Gateway) StatsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.log == nil {
			http.NotFound(w, r)
			return
		}
		since := time.Now().Add(-24 * time.Hour)
		byHost, err := g.log.Summary(since)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		recent, err := g.log.Recent(50)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(statsResponse{
			Since:  since.UTC().Format(time.RFC3339),
			ByHost: byHost,
			Recent: recent,
		})
	})
}

// clientIP extracts the request's client IP for rate-limit keying,
// preferring X-Forwarded-For's first hop when present.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := indexByte(fwd, ','); i >= 0 {
			return fwd[:i]
		}
		return fwd
	}
	host, _, err := splitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}
