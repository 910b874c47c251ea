// Package webhook receives signed deploy notifications and invalidates the
// cache for the host that just redeployed.
package webhook

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	standardwebhooks "github.com/standard-webhooks/standard-webhooks/libraries/go"

	"renderx/config"
	"renderx/internal/cache"
)

const maxBodyBytes = 1 << 20 // 1 MiB, generous for a deploy notification

// deployPayload is the body a host's CI/CD system posts on deploy.
type deployPayload struct {
	Type string `json:"type"`
	Data struct {
		Host string `json:"host"`
	} `json:"data"`
}

type successResponse struct {
	Success bool `json:"success"`
}

// Handler returns the POST /webhooks/deploy handler. cfg resolves each
// host's webhook secret; store is invalidated (all devices) for the
// deploying host on a verified deploy.success event.
func Handler(cfg *config.GlobalConfig, store *cache.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
		if err != nil {
			http.Error(w, "reading body", http.StatusBadRequest)
			return
		}
		if len(body) > maxBodyBytes {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			return
		}

		var payload deployPayload
		if err := json.Unmarshal(body, &payload); err != nil || payload.Data.Host == "" {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}

		host, ok := cfg.ResolveHost(payload.Data.Host)
		if !ok {
			http.Error(w, "unknown host", http.StatusNotFound)
			return
		}
		eff := cfg.Effective(host)
		if eff.WebhookSecret == "" {
			http.Error(w, "host has no webhook secret configured", http.StatusForbidden)
			return
		}

		wh, err := standardwebhooks.NewWebhook(strings.TrimPrefix(eff.WebhookSecret, "whsec_"))
		if err != nil {
			slog.Warn("webhook: bad secret configuration", "host", eff.Host, "err", err)
			http.Error(w, "server misconfiguration", http.StatusInternalServerError)
			return
		}
		if err := wh.Verify(body, r.Header); err != nil {
			slog.Warn("webhook: signature verification failed", "host", eff.Host, "err", err)
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}

		if payload.Type != "deploy.success" {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(successResponse{Success: true})
			return
		}

		removed, err := store.InvalidateHost(payload.Data.Host)
		if err != nil {
			slog.Warn("webhook: cache invalidate failed", "host", eff.Host, "err", err)
		}
		slog.Info("webhook: invalidated cache after deploy", "host", eff.Host, "removed", removed)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(successResponse{Success: true})
	})
}
