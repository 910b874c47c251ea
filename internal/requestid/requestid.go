// Package requestid attaches a random X-Request-ID header to every
// response, generating one with google/uuid if the caller did not already
// supply one.
package requestid

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

const Header = "X-Request-ID"

type idKey struct{}

// FromContext returns the request ID stashed by Wrap, or "" if none.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(idKey{}).(string)
	return id
}

// Wrap assigns an X-Request-ID to every response, reusing an inbound
// header value when present so a caller's own ID survives.
func Wrap(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(Header)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(Header, id)
		r = r.WithContext(context.WithValue(r.Context(), idKey{}, id))
		h.ServeHTTP(w, r)
	})
}
