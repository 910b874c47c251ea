// Package config resolves the static configuration document and environment
// overrides into an immutable effective configuration per hostname.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// defaultBots is the built-in crawler/bot user-agent substring list used
// when neither the config document nor an override supplies one.
var defaultBots = []string{
	"Googlebot", "bingbot", "Slurp", "DuckDuckBot", "Baiduspider", "YandexBot",
	"Applebot", "facebookexternalhit", "Twitterbot", "LinkedInBot", "Pinterestbot",
	"Slack", "WhatsApp", "TelegramBot", "vkShare", "GPTBot", "ChatGPT-User",
	"Google-Extended", "ClaudeBot", "Claude-Web", "GrokBot", "meta-externalagent",
	"meta-externalfetcher", "PerplexityBot", "Amazonbot", "CCBot", "ia_archiver",
	"YouBot", "Neevabot", "headlessbot",
}

// OptimizerOptions controls which HTML optimizer removal rules are active.
// A nil pointer means "use default (true)"; all four default to true.
type OptimizerOptions struct {
	RemoveDataAttributes  *bool `json:"removeDataAttributes,omitempty"`
	RemoveAriaAttributes  *bool `json:"removeAriaAttributes,omitempty"`
	RemoveStyleAttributes *bool `json:"removeStyleAttributes,omitempty"`
	RemoveInlineStyles    *bool `json:"removeInlineStyles,omitempty"`
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// HostConfig identifies one SPA deployment. Immutable after Load.
type HostConfig struct {
	Source           string            `json:"source"`
	Host             string            `json:"host"`
	Active           *bool             `json:"active,omitempty"`
	TimeoutMs        int               `json:"timeoutMs,omitempty"`
	ParallelRenders  int               `json:"parallelRenders,omitempty"`
	Bots             []string          `json:"bots,omitempty"`
	Strategy         string            `json:"strategy,omitempty"`
	RootSelector     string            `json:"rootSelector,omitempty"`
	OptimizerOptions *OptimizerOptions `json:"optimizerOptions,omitempty"`
	WebhookSecret    string            `json:"webhookSecret,omitempty"`
}

// IsActive reports whether the host is serving. Defaults to true.
func (h HostConfig) IsActive() bool {
	return h.Active == nil || *h.Active
}

// GlobalConfig is the process-wide default document, read from config.json.
type GlobalConfig struct {
	Port                        int               `json:"port,omitempty"`
	ParallelRenders             int               `json:"parallelRenders,omitempty"`
	Bots                        []string          `json:"bots,omitempty"`
	CacheCleanupIntervalMinutes int               `json:"cacheCleanupIntervalMinutes,omitempty"`
	Strategy                    string            `json:"strategy,omitempty"`
	Hosts                       []HostConfig      `json:"hosts,omitempty"`
	Logs                        string            `json:"logs,omitempty"`
	ClearCacheOnStartup         *bool             `json:"clearCacheOnStartup,omitempty"`
	RootSelector                string            `json:"rootSelector,omitempty"`
	OptimizerOptions            *OptimizerOptions `json:"optimizerOptions,omitempty"`
}

// EffectiveConfig is the per-request composition of HostConfig over
// GlobalConfig over built-in defaults.
type EffectiveConfig struct {
	Source           string
	Host             string
	Strategy         string
	TimeoutMs        int
	ParallelRenders  int
	Bots             []string
	RootSelector     string
	OptimizerOptions OptimizerOptions
	CacheTTLSeconds  int
	BotOnly          bool
	WebhookSecret    string
}

// Load reads the configuration document at path if present, overlays
// recognized environment variables, and fills built-in defaults. A missing
// file is not an error -- it's equivalent to an empty document.
func Load(path string) (*GlobalConfig, error) {
	var cfg GlobalConfig
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if len(data) > 0 {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := intEnvDefault(&cfg.Port, "PORT", 8080); err != nil {
		return nil, err
	}
	if err := intEnvDefault(&cfg.ParallelRenders, "MAX_CONCURRENCY", 10); err != nil {
		return nil, err
	}
	if err := intEnvDefault(&cfg.CacheCleanupIntervalMinutes, "CACHE_CLEANUP_INTERVAL", 60); err != nil {
		return nil, err
	}
	strEnvDefault(&cfg.Strategy, "STRATEGY", "smart-ssr")
	strEnvDefault(&cfg.Logs, "LOGS", "ssr")
	if cfg.ClearCacheOnStartup == nil {
		t := true
		cfg.ClearCacheOnStartup = &t
	}
	if cfg.RootSelector == "" {
		cfg.RootSelector = "#root"
	}
	if len(cfg.Bots) == 0 {
		cfg.Bots = defaultBots
	}
	if cfg.OptimizerOptions == nil {
		cfg.OptimizerOptions = &OptimizerOptions{}
	}

	if cfg.Port < 0 {
		return nil, fmt.Errorf("port must be non-negative, got %d", cfg.Port)
	}
	if cfg.ParallelRenders <= 0 {
		return nil, fmt.Errorf("parallelRenders must be positive, got %d", cfg.ParallelRenders)
	}
	if cfg.CacheCleanupIntervalMinutes <= 0 {
		return nil, fmt.Errorf("cacheCleanupIntervalMinutes must be positive, got %d", cfg.CacheCleanupIntervalMinutes)
	}
	if !validStrategy(cfg.Strategy) {
		return nil, fmt.Errorf("strategy: must be smart-ssr, ssr, or csr, got %q", cfg.Strategy)
	}

	return &cfg, nil
}

func validStrategy(s string) bool {
	return s == "smart-ssr" || s == "ssr" || s == "csr"
}

// strEnvDefault fills *dst from envKey if *dst is empty, then falls back to def.
func strEnvDefault(dst *string, envKey, def string) {
	if *dst == "" {
		*dst = os.Getenv(envKey)
	}
	if *dst == "" {
		*dst = def
	}
}

// intEnvDefault fills *dst from envKey if *dst is zero, then falls back to def.
func intEnvDefault(dst *int, envKey string, def int) error {
	if *dst != 0 {
		return nil
	}
	if v := os.Getenv(envKey); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", envKey, err)
		}
		*dst = n
		return nil
	}
	*dst = def
	return nil
}

// CacheDir returns the effective cache directory, honoring CACHE_DIR.
func CacheDir() string {
	if v := os.Getenv("CACHE_DIR"); v != "" {
		return v
	}
	return "./.cache"
}

// HostsRoot returns the directory under which per-host source directories live.
func HostsRoot() string {
	return "./hosts"
}

// Effective composes the EffectiveConfig for a resolved HostConfig (or a
// zero HostConfig if there was no per-host override) over the global
// defaults, per DATA MODEL §3.
func (g *GlobalConfig) Effective(h HostConfig) EffectiveConfig {
	e := EffectiveConfig{
		Source:          h.Source,
		Host:            h.Host,
		Strategy:        g.Strategy,
		TimeoutMs:       30000,
		ParallelRenders: g.ParallelRenders,
		Bots:            g.Bots,
		RootSelector:    g.RootSelector,
		CacheTTLSeconds: g.CacheCleanupIntervalMinutes * 60,
		WebhookSecret:   h.WebhookSecret,
	}
	if h.Strategy != "" {
		e.Strategy = h.Strategy
	}
	if h.TimeoutMs > 0 {
		e.TimeoutMs = h.TimeoutMs
	}
	if h.ParallelRenders > 0 {
		e.ParallelRenders = h.ParallelRenders
	}
	if len(h.Bots) > 0 {
		e.Bots = h.Bots
	}
	if h.RootSelector != "" {
		e.RootSelector = h.RootSelector
	}

	opts := OptimizerOptions{}
	if g.OptimizerOptions != nil {
		opts = *g.OptimizerOptions
	}
	if h.OptimizerOptions != nil {
		if h.OptimizerOptions.RemoveDataAttributes != nil {
			opts.RemoveDataAttributes = h.OptimizerOptions.RemoveDataAttributes
		}
		if h.OptimizerOptions.RemoveAriaAttributes != nil {
			opts.RemoveAriaAttributes = h.OptimizerOptions.RemoveAriaAttributes
		}
		if h.OptimizerOptions.RemoveStyleAttributes != nil {
			opts.RemoveStyleAttributes = h.OptimizerOptions.RemoveStyleAttributes
		}
		if h.OptimizerOptions.RemoveInlineStyles != nil {
			opts.RemoveInlineStyles = h.OptimizerOptions.RemoveInlineStyles
		}
	}
	e.OptimizerOptions = opts
	e.BotOnly = e.Strategy == "smart-ssr" || e.Strategy == "csr"
	return e
}

// ResolveHost implements the host matching rules of §4.1: an exact match
// against an active host wins; otherwise the first active host whose
// pattern glob-matches wins; otherwise ok is false.
func (g *GlobalConfig) ResolveHost(hostname string) (HostConfig, bool) {
	for _, h := range g.Hosts {
		if h.IsActive() && h.Host == hostname {
			return h, true
		}
	}
	for _, h := range g.Hosts {
		if h.IsActive() && h.Host != hostname && GlobMatch(h.Host, hostname) {
			return h, true
		}
	}
	return HostConfig{}, false
}

// GlobMatch reports whether name matches the glob pattern, where '*' matches
// any run of characters, all other regex metacharacters are escaped, and
// matching is anchored to the full string.
func GlobMatch(pattern, name string) bool {
	if pattern == name {
		return true
	}
	var b strings.Builder
	b.WriteByte('^')
	for _, part := range strings.Split(pattern, "*") {
		b.WriteString(regexp.QuoteMeta(part))
		b.WriteString(".*")
	}
	s := b.String()
	s = strings.TrimSuffix(s, ".*") + "$"
	re, err := regexp.Compile(s)
	if err != nil {
		return false
	}
	return re.MatchString(name)
}
