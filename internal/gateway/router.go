package gateway

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"renderx/config"
	"renderx/internal/cache"
	"renderx/internal/httplog"
	"renderx/internal/metrics"
	"renderx/internal/optimize"
	"renderx/internal/render"
	"renderx/internal/renderlog"
)

// Gateway is the HTTP entrypoint: it owns the cache store, the render
// engine, and the static-file roots, and composes classification, static
// serving, and render dispatch into a single handler.
type Gateway struct {
	cfg       *config.GlobalConfig
	store     *cache.Store
	renderer  render.Renderer
	hostsRoot string
	port      int
	log       *renderlog.Recorder
}

// New returns a Gateway wired to the given config, cache store, renderer,
// hosts root directory and listening port (used to build loopback render
// URLs).
func New(cfg *config.GlobalConfig, store *cache.Store, renderer render.Renderer, hostsRoot string, port int) *Gateway {
	return &Gateway{cfg: cfg, store: store, renderer: renderer, hostsRoot: hostsRoot, port: port}
}

// WithRenderLog attaches a render-event recorder. Without one, dispatch
// still works, just unobserved by /internal/stats.
func (g *Gateway) WithRenderLog(log *renderlog.Recorder) *Gateway {
	g.log = log
	return g
}

func (g *Gateway) record(hostname, path, strategy, outcome string, d time.Duration) {
	if g.log == nil {
		return
	}
	g.log.Record(renderlog.Event{
		Timestamp:  time.Now(),
		Host:       hostname,
		Path:       path,
		Strategy:   strategy,
		Outcome:    outcome,
		DurationMs: d.Milliseconds(),
	})
}

func (g *Gateway) config() *config.GlobalConfig {
	return g.cfg
}

// hostnameFromRequest derives the classifying hostname from Origin when
// present, else Host, with any port stripped.
func hostnameFromRequest(r *http.Request) string {
	if origin := r.Header.Get("Origin"); origin != "" {
		if u, err := url.Parse(origin); err == nil && u.Hostname() != "" {
			return u.Hostname()
		}
	}
	host := r.Host
	if h, _, err := splitHostPort(host); err == nil {
		return h
	}
	return host
}

func splitHostPort(hostport string) (string, string, error) {
	if !strings.Contains(hostport, ":") {
		return hostport, "", fmt.Errorf("no port")
	}
	i := strings.LastIndex(hostport, ":")
	return hostport[:i], hostport[i+1:], nil
}

// isInternalRender reports whether r was issued by the render engine
// against loopback and must never be re-rendered.
func isInternalRender(r *http.Request) bool {
	return r.Header.Get("X-RenderX-Internal") == "true"
}

// isRenderXRequest reports whether r's user-agent identifies it as the
// render engine's own client, which must never be re-rendered.
func isRenderXRequest(r *http.Request) bool {
	return strings.Contains(strings.ToLower(r.Header.Get("User-Agent")), "renderx")
}

// isFileRequest reports whether the request path names a file (has a
// non-empty extension), as opposed to an SPA route.
func isFileRequest(path string) bool {
	return filepath.Ext(path) != ""
}

// isBot reports whether ua contains (case-insensitive) any of bots.
func isBot(ua string, bots []string) bool {
	if ua == "" {
		return false
	}
	lower := strings.ToLower(ua)
	for _, b := range bots {
		if b == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(b)) {
			return true
		}
	}
	return false
}

// decision is the serving-mode outcome of the classification table in
// "Router / Classification".
type decision int

const (
	decisionStatic decision = iota
	decisionRender
)

// decide implements the strategy x classification table: csr never
// renders; ssr renders for everything except internal/renderx/file
// requests; smart-ssr renders only for bots.
func decide(strategy string, neverRender, bot bool) decision {
	if neverRender {
		return decisionStatic
	}
	switch strategy {
	case "csr":
		return decisionStatic
	case "ssr":
		return decisionRender
	default: // smart-ssr
		if bot {
			return decisionRender
		}
		return decisionStatic
	}
}

// cacheKey computes the cache fingerprint input for a request: the Origin
// header when present, else protocol+hostname, concatenated with the
// original URL.
func cacheKey(r *http.Request, hostname string) string {
	origin := r.Header.Get("Origin")
	if origin != "" {
		return origin + r.URL.RequestURI()
	}
	protocol := "http"
	if r.TLS != nil {
		protocol = "https"
	}
	return protocol + hostname + r.URL.RequestURI()
}

// ServeHTTP is the gateway's single HTTP entrypoint for SPA-bound requests
// (the admin/health/render endpoints are mounted separately; see
// endpoints.go).
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	hostname := hostnameFromRequest(r)

	if isInternalRender(r) {
		g.serveLoopback(w, r, hostname)
		metrics.ObserveRequest("loopback", http.StatusOK, time.Since(start))
		return
	}

	cfg := g.config()
	host, ok := cfg.ResolveHost(hostname)
	if !ok {
		http.Error(w, "unknown host", http.StatusForbidden)
		metrics.ObserveRequest("unknown-host", http.StatusForbidden, time.Since(start))
		return
	}
	eff := cfg.Effective(host)
	root := g.hostRoot(host)

	neverRender := isRenderXRequest(r) || isFileRequest(r.URL.Path)
	bot := isBot(r.Header.Get("User-Agent"), eff.Bots)

	switch decide(eff.Strategy, neverRender, bot) {
	case decisionRender:
		g.dispatchRender(w, r, eff, root, hostname, start)
	default:
		serveStaticFile(w, r, root)
		metrics.ObserveRequest("static", http.StatusOK, time.Since(start))
	}
}

// dispatchRender implements the render-dispatch branch: cache lookup, then
// a render-engine call on miss, with a static-shell fallback on any render
// failure so the end-client never sees a 5xx for a rendering problem.
func (g *Gateway) dispatchRender(w http.ResponseWriter, r *http.Request, eff config.EffectiveConfig, root, hostname string, start time.Time) {
	key := cacheKey(r, hostname)

	if html, ok := g.store.Get(key, "desktop"); ok {
		metrics.CountCacheHit()
		if rec := httplog.ModeFromContext(r.Context()); rec != nil {
			rec.SetMode("SSR-CACHE")
		}
		w.Header().Set("X-Cache", "HIT")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(html))
		metrics.ObserveRequest("render", http.StatusOK, time.Since(start))
		g.record(hostname, r.URL.Path, eff.Strategy, "cache-hit", time.Since(start))
		return
	}
	metrics.CountCacheMiss()

	job := render.Job{
		URL:              fmt.Sprintf("http://localhost:%d%s", g.port, r.URL.RequestURI()),
		UserAgent:        "RenderX/1.0",
		Origin:           r.Header.Get("Origin"),
		TimeoutMs:        eff.TimeoutMs,
		RootSelector:     eff.RootSelector,
		Strategy:         eff.Strategy,
		OptimizerOptions: toOptimizeOptions(eff.OptimizerOptions),
	}

	renderStart := time.Now()
	html, err := g.renderer.Render(r.Context(), job)
	if err != nil {
		metrics.ObserveRender(hostname, "failure", time.Since(renderStart))
		slog.Warn("gateway: render failed, falling back to static shell", "host", hostname, "err", err)
		if rec := httplog.ModeFromContext(r.Context()); rec != nil {
			rec.SetMode("STATIC-FALLBACK")
		}
		serveStaticFile(w, r, root)
		metrics.ObserveRequest("render", http.StatusOK, time.Since(start))
		g.record(hostname, r.URL.Path, eff.Strategy, "failed", time.Since(start))
		return
	}
	metrics.ObserveRender(hostname, "success", time.Since(renderStart))

	if err := g.store.Set(key, html, "desktop", eff.CacheTTLSeconds); err != nil {
		slog.Warn("gateway: cache write failed", "host", hostname, "err", err)
	}
	if rec := httplog.ModeFromContext(r.Context()); rec != nil {
		rec.SetMode("SSR-RENDER")
	}
	w.Header().Set("X-Cache", "MISS")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(html))
	metrics.ObserveRequest("render", http.StatusOK, time.Since(start))
	g.record(hostname, r.URL.Path, eff.Strategy, "rendered", time.Since(start))
}

// toOptimizeOptions converts the config's tri-state optimizer options
// (nil meaning "default true") into the optimizer's plain bool Options.
func toOptimizeOptions(o config.OptimizerOptions) optimize.Options {
	return optimize.Options{
		RemoveDataAttributes:  boolOrTrue(o.RemoveDataAttributes),
		RemoveAriaAttributes:  boolOrTrue(o.RemoveAriaAttributes),
		RemoveStyleAttributes: boolOrTrue(o.RemoveStyleAttributes),
		RemoveInlineStyles:    boolOrTrue(o.RemoveInlineStyles),
	}
}

func boolOrTrue(p *bool) bool {
	if p == nil {
		return true
	}
	return *p
}
