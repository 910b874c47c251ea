package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.json")
	if err != nil {
		t.Fatalf("missing file should not be an error, got: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("port = %d, want default 8080", cfg.Port)
	}
	if cfg.Strategy != "smart-ssr" {
		t.Errorf("strategy = %q, want default %q", cfg.Strategy, "smart-ssr")
	}
}

func TestLoad_MalformedJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	os.WriteFile(path, []byte(`{"port": `), 0644)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestLoad_ValidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{
		"port": 3000,
		"strategy": "ssr",
		"parallelRenders": 4,
		"cacheCleanupIntervalMinutes": 30,
		"hosts": [{"source": "/srv/app", "host": "example.com"}]
	}`), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 3000 {
		t.Errorf("port = %d, want 3000", cfg.Port)
	}
	if cfg.Strategy != "ssr" {
		t.Errorf("strategy = %q, want ssr", cfg.Strategy)
	}
	if cfg.ParallelRenders != 4 {
		t.Errorf("parallelRenders = %d, want 4", cfg.ParallelRenders)
	}
	if len(cfg.Hosts) != 1 || cfg.Hosts[0].Host != "example.com" {
		t.Errorf("hosts = %+v, want one host example.com", cfg.Hosts)
	}
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	os.WriteFile(path, []byte(`{}`), 0644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Port)
	}
	if cfg.ParallelRenders != 10 {
		t.Errorf("parallelRenders = %d, want 10", cfg.ParallelRenders)
	}
	if cfg.CacheCleanupIntervalMinutes != 60 {
		t.Errorf("cacheCleanupIntervalMinutes = %d, want 60", cfg.CacheCleanupIntervalMinutes)
	}
	if cfg.RootSelector != "#root" {
		t.Errorf("rootSelector = %q, want #root", cfg.RootSelector)
	}
	if cfg.ClearCacheOnStartup == nil || !*cfg.ClearCacheOnStartup {
		t.Error("clearCacheOnStartup should default to true")
	}
	if len(cfg.Bots) != len(defaultBots) {
		t.Errorf("bots = %d entries, want default list of %d", len(cfg.Bots), len(defaultBots))
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	os.WriteFile(path, []byte(`{}`), 0644)

	t.Setenv("PORT", "9090")
	t.Setenv("MAX_CONCURRENCY", "5")
	t.Setenv("CACHE_CLEANUP_INTERVAL", "15")
	t.Setenv("STRATEGY", "csr")
	t.Setenv("LOGS", "all")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Port)
	}
	if cfg.ParallelRenders != 5 {
		t.Errorf("parallelRenders = %d, want 5", cfg.ParallelRenders)
	}
	if cfg.CacheCleanupIntervalMinutes != 15 {
		t.Errorf("cacheCleanupIntervalMinutes = %d, want 15", cfg.CacheCleanupIntervalMinutes)
	}
	if cfg.Strategy != "csr" {
		t.Errorf("strategy = %q, want csr", cfg.Strategy)
	}
	if cfg.Logs != "all" {
		t.Errorf("logs = %q, want all", cfg.Logs)
	}
}

func TestLoad_ConfigTakesPrecedenceOverEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	os.WriteFile(path, []byte(`{"port": 4000, "strategy": "ssr"}`), 0644)

	t.Setenv("PORT", "9090")
	t.Setenv("STRATEGY", "csr")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 4000 {
		t.Errorf("port = %d, want 4000 (file wins)", cfg.Port)
	}
	if cfg.Strategy != "ssr" {
		t.Errorf("strategy = %q, want ssr (file wins)", cfg.Strategy)
	}
}

func TestLoad_InvalidStrategy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	os.WriteFile(path, []byte(`{"strategy": "bogus"}`), 0644)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid strategy")
	}
}

func TestLoad_NegativePort(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	os.WriteFile(path, []byte(`{"port": -1}`), 0644)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for negative port")
	}
}

func TestLoad_InvalidIntEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	os.WriteFile(path, []byte(`{}`), 0644)

	t.Setenv("PORT", "notanumber")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for PORT=notanumber")
	}
}

func TestResolveHost_ExactBeatsGlob(t *testing.T) {
	cfg := &GlobalConfig{
		Hosts: []HostConfig{
			{Host: "*.example.com", Source: "/srv/wildcard"},
			{Host: "app.example.com", Source: "/srv/exact"},
		},
	}
	h, ok := cfg.ResolveHost("app.example.com")
	if !ok {
		t.Fatal("expected match")
	}
	if h.Source != "/srv/exact" {
		t.Errorf("source = %q, want exact match to win", h.Source)
	}
}

func TestResolveHost_GlobFallback(t *testing.T) {
	cfg := &GlobalConfig{
		Hosts: []HostConfig{
			{Host: "*.example.com", Source: "/srv/wildcard"},
		},
	}
	h, ok := cfg.ResolveHost("beta.example.com")
	if !ok {
		t.Fatal("expected glob match")
	}
	if h.Source != "/srv/wildcard" {
		t.Errorf("source = %q, want wildcard match", h.Source)
	}
}

func TestResolveHost_InactiveHostSkipped(t *testing.T) {
	inactive := false
	cfg := &GlobalConfig{
		Hosts: []HostConfig{
			{Host: "app.example.com", Source: "/srv/disabled", Active: &inactive},
		},
	}
	if _, ok := cfg.ResolveHost("app.example.com"); ok {
		t.Error("inactive host should not resolve")
	}
}

func TestResolveHost_NoMatch(t *testing.T) {
	cfg := &GlobalConfig{Hosts: []HostConfig{{Host: "other.example.com"}}}
	if _, ok := cfg.ResolveHost("app.example.com"); ok {
		t.Error("expected no match")
	}
}

func TestGlobMatch(t *testing.T) {
	tests := []struct {
		pattern string
		name    string
		want    bool
	}{
		{"*.example.com", "app.example.com", true},
		{"*.example.com", "example.com", false},
		{"app.example.com", "app.example.com", true},
		{"app.*.com", "app.beta.com", true},
		{"app.*.com", "app.beta.co", false},
		{"a.b.c", "a.b.c", true},
		{"*", "anything", true},
		{"sub.example.*", "sub.example.org", true},
		{"a+b.com", "a+b.com", true},
		{"a+b.com", "axxxb.com", false},
	}
	for _, tt := range tests {
		if got := GlobMatch(tt.pattern, tt.name); got != tt.want {
			t.Errorf("GlobMatch(%q, %q) = %v, want %v", tt.pattern, tt.name, got, tt.want)
		}
	}
}

func TestEffective_HostOverridesGlobal(t *testing.T) {
	g := &GlobalConfig{
		Strategy:                    "smart-ssr",
		ParallelRenders:             10,
		Bots:                       []string{"Googlebot"},
		RootSelector:                "#root",
		CacheCleanupIntervalMinutes: 60,
	}
	h := HostConfig{
		Host:            "app.example.com",
		Source:          "/srv/app",
		Strategy:        "ssr",
		TimeoutMs:       5000,
		ParallelRenders: 2,
		RootSelector:    "#app",
	}
	e := g.Effective(h)
	if e.Strategy != "ssr" {
		t.Errorf("strategy = %q, want ssr", e.Strategy)
	}
	if e.TimeoutMs != 5000 {
		t.Errorf("timeoutMs = %d, want 5000", e.TimeoutMs)
	}
	if e.ParallelRenders != 2 {
		t.Errorf("parallelRenders = %d, want 2", e.ParallelRenders)
	}
	if e.RootSelector != "#app" {
		t.Errorf("rootSelector = %q, want #app", e.RootSelector)
	}
	if len(e.Bots) != 1 || e.Bots[0] != "Googlebot" {
		t.Errorf("bots = %v, want inherited from global", e.Bots)
	}
	if e.CacheTTLSeconds != 3600 {
		t.Errorf("cacheTTLSeconds = %d, want 3600 (60min * 60)", e.CacheTTLSeconds)
	}
}

func TestEffective_DefaultTimeout(t *testing.T) {
	g := &GlobalConfig{Strategy: "smart-ssr", ParallelRenders: 10}
	e := g.Effective(HostConfig{Host: "app.example.com"})
	if e.TimeoutMs != 30000 {
		t.Errorf("timeoutMs = %d, want default 30000", e.TimeoutMs)
	}
}

func TestEffective_BotOnlyByStrategy(t *testing.T) {
	tests := []struct {
		strategy string
		botOnly  bool
	}{
		{"smart-ssr", true},
		{"csr", true},
		{"ssr", false},
	}
	for _, tt := range tests {
		g := &GlobalConfig{Strategy: tt.strategy, ParallelRenders: 1}
		e := g.Effective(HostConfig{})
		if e.BotOnly != tt.botOnly {
			t.Errorf("strategy %q: botOnly = %v, want %v", tt.strategy, e.BotOnly, tt.botOnly)
		}
	}
}

func TestEffective_OptimizerOptionsTriState(t *testing.T) {
	falseVal := false
	g := &GlobalConfig{
		Strategy:        "ssr",
		ParallelRenders: 1,
		OptimizerOptions: &OptimizerOptions{
			RemoveDataAttributes: &falseVal,
		},
	}
	h := HostConfig{
		OptimizerOptions: &OptimizerOptions{
			RemoveAriaAttributes: &falseVal,
		},
	}
	e := g.Effective(h)
	if boolOr(e.OptimizerOptions.RemoveDataAttributes, true) != false {
		t.Error("host should inherit global's explicit false for RemoveDataAttributes")
	}
	if boolOr(e.OptimizerOptions.RemoveAriaAttributes, true) != false {
		t.Error("host's explicit false for RemoveAriaAttributes should win")
	}
	if boolOr(e.OptimizerOptions.RemoveStyleAttributes, true) != true {
		t.Error("unset RemoveStyleAttributes should default to true")
	}
}
