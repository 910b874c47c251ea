// Package auth gates the gateway's administrative endpoints
// (/cache/invalidate, /cache/clear, /webhooks/deploy) behind a static
// bearer-token allow-list, read from the ADMIN_TOKENS environment
// variable (comma-separated).
package auth

import (
	"crypto/subtle"
	"net/http"
	"os"
	"strings"
)

// TokenSet is a static allow-list of bearer tokens.
type TokenSet struct {
	tokens map[string]struct{}
}

// LoadTokens builds a TokenSet from a comma-separated list, typically
// os.Getenv("ADMIN_TOKENS"). An empty list denies every request.
func LoadTokens(csv string) *TokenSet {
	ts := &TokenSet{tokens: make(map[string]struct{})}
	for _, tok := range strings.Split(csv, ",") {
		tok = strings.TrimSpace(tok)
		if tok != "" {
			ts.tokens[tok] = struct{}{}
		}
	}
	return ts
}

// LoadTokensFromEnv is a convenience wrapper around LoadTokens(os.Getenv(key)).
func LoadTokensFromEnv(key string) *TokenSet {
	return LoadTokens(os.Getenv(key))
}

// Allows reports whether token is a member of the set, using a
// constant-time comparison to avoid timing side channels.
func (ts *TokenSet) Allows(token string) bool {
	if token == "" {
		return false
	}
	for known := range ts.tokens {
		if subtle.ConstantTimeCompare([]byte(known), []byte(token)) == 1 {
			return true
		}
	}
	return false
}

// bearerToken extracts the token from an "Authorization: Bearer <token>" header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimPrefix(h, prefix)
}

// Require wraps h so that requests without a recognized bearer token
// receive 401 before reaching it.
func (ts *TokenSet) Require(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !ts.Allows(bearerToken(r)) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h.ServeHTTP(w, r)
	})
}
