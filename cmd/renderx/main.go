// Command renderx is a prerendering gateway: it sits in front of one or
// more single-page applications, classifies each request by strategy and
// caller, and serves either the static shell, a cached HTML snapshot, or a
// freshly rendered one.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"renderx/config"
	"renderx/internal/auth"
	"renderx/internal/cache"
	"renderx/internal/gateway"
	"renderx/internal/httplog"
	"renderx/internal/ratelimit"
	"renderx/internal/render"
	"renderx/internal/renderlog"
	"renderx/internal/requestid"
)

var version = "dev"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Println(version)
		return
	}

	configPath := flag.String("config", "config.json", "path to config document")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	httplog.SetFilter(cfg.Logs)

	cacheDir := config.CacheDir()
	store := cache.New(cacheDir)
	if err := store.Writable(); err != nil {
		log.Fatalf("cache dir %s not writable: %v", cacheDir, err)
	}
	store.StartupSweep(cfg.ClearCacheOnStartup != nil && *cfg.ClearCacheOnStartup)

	done := make(chan struct{})
	defer close(done)
	store.StartCleanupTimer(time.Duration(cfg.CacheCleanupIntervalMinutes)*time.Minute, done)

	logDBPath := renderLogPath(cacheDir)
	recorder, err := renderlog.NewRecorder(logDBPath)
	if err != nil {
		log.Fatalf("opening render log %s: %v", logDBPath, err)
	}
	defer recorder.Close() //nolint:errcheck // best-effort cleanup on shutdown

	engine := render.NewEngine(cfg.ParallelRenders)
	defer engine.Close()

	tokens := auth.LoadTokensFromEnv("ADMIN_TOKENS")
	limiter := ratelimit.New(100, 15*time.Minute)
	limiter.StartPruneTimer(5*time.Minute, done)

	gw := gateway.New(cfg, store, engine, config.HostsRoot(), cfg.Port).WithRenderLog(recorder)
	routes := gw.Routes(tokens, limiter)

	handler := requestid.Wrap(httplog.Wrap(routes))

	addr := fmt.Sprintf(":%d", cfg.Port)
	httpSrv := &http.Server{Addr: addr, Handler: handler}

	listenErr := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			listenErr <- fmt.Errorf("serve: %w", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	slog.Info("renderx listening", "addr", addr, "strategy", cfg.Strategy, "hosts", len(cfg.Hosts))
	select {
	case <-ctx.Done():
	case err := <-listenErr:
		slog.Error("listener failed", "err", err)
	}
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
}

// renderLogPath resolves the render-event database path: a sibling of the
// cache directory unless RENDER_LOG_DB overrides it.
func renderLogPath(cacheDir string) string {
	if v := os.Getenv("RENDER_LOG_DB"); v != "" {
		return v
	}
	return filepath.Join(filepath.Dir(filepath.Clean(cacheDir)), "renderlog.db")
}
