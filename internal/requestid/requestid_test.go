package requestid

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWrap_GeneratesIDWhenAbsent(t *testing.T) {
	var gotFromCtx string
	h := Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotFromCtx = FromContext(r.Context())
	}))
	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	id := rec.Header().Get(Header)
	if id == "" {
		t.Fatal("expected X-Request-ID header to be set")
	}
	if gotFromCtx != id {
		t.Errorf("context id = %q, header id = %q", gotFromCtx, id)
	}
}

func TestWrap_PreservesInboundID(t *testing.T) {
	h := Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(Header, "caller-supplied-id")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get(Header); got != "caller-supplied-id" {
		t.Errorf("id = %q, want caller-supplied-id", got)
	}
}

func TestFromContext_MissingReturnsEmpty(t *testing.T) {
	if FromContext(httptest.NewRequest("GET", "/", nil).Context()) != "" {
		t.Error("expected empty id outside Wrap")
	}
}
