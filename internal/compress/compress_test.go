package compress

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAcceptsEncoding(t *testing.T) {
	tests := []struct {
		name   string
		header string
		enc    string
		want   bool
	}{
		{"simple match", "gzip", "gzip", true},
		{"multiple values", "deflate, gzip, br", "br", true},
		{"no match", "deflate", "gzip", false},
		{"empty header", "", "gzip", false},
		{"q=0 refuses", "gzip;q=0", "gzip", false},
		{"q=0.0 refuses", "gzip;q=0.0", "gzip", false},
		{"q=0.5 accepts", "gzip;q=0.5", "gzip", true},
		{"wildcard does not match named encoding", "*", "gzip", false},
		{"whitespace tolerated", " gzip , br ", "br", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.Header.Set("Accept-Encoding", tt.header)
			if got := AcceptsEncoding(req, tt.enc); got != tt.want {
				t.Errorf("AcceptsEncoding(%q, %q) = %v, want %v", tt.header, tt.enc, got, tt.want)
			}
		})
	}
}

func TestAcceptsGzipAndBrotli(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Accept-Encoding", "gzip, br")

	if !AcceptsGzip(req) {
		t.Error("expected AcceptsGzip to be true")
	}
	if !AcceptsBrotli(req) {
		t.Error("expected AcceptsBrotli to be true")
	}

	req2 := httptest.NewRequest("GET", "/", nil)
	req2.Header.Set("Accept-Encoding", "br;q=0")
	if AcceptsBrotli(req2) {
		t.Error("expected AcceptsBrotli to be false when q=0")
	}
}

func TestIsCompressible(t *testing.T) {
	tests := []struct {
		contentType string
		want        bool
	}{
		{"text/html", true},
		{"text/html; charset=utf-8", true},
		{"text/css", true},
		{"application/javascript", true},
		{"application/json", true},
		{"application/json; charset=utf-8", true},
		{"application/xml", true},
		{"application/xhtml+xml", true},
		{"application/wasm", true},
		{"application/manifest+json", true},
		{"image/svg+xml", true},
		{"image/png", false},
		{"application/octet-stream", false},
		{"font/woff2", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsCompressible(tt.contentType); got != tt.want {
			t.Errorf("IsCompressible(%q) = %v, want %v", tt.contentType, got, tt.want)
		}
	}
}

func TestWriter_CompressesCompressibleResponses(t *testing.T) {
	rec := httptest.NewRecorder()
	cw := NewWriter(rec, "gzip")

	cw.Header().Set("Content-Type", "text/html")
	cw.WriteHeader(http.StatusOK)
	body := strings.Repeat("x", compressMinBytes*2)
	if _, err := cw.Write([]byte(body)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := cw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if rec.Header().Get("Content-Encoding") != "gzip" {
		t.Errorf("Content-Encoding = %q, want gzip", rec.Header().Get("Content-Encoding"))
	}
	if rec.Header().Get("Vary") != "Accept-Encoding" {
		t.Errorf("Vary = %q, want Accept-Encoding", rec.Header().Get("Vary"))
	}
	if rec.Body.Len() >= len(body) {
		t.Errorf("compressed body (%d bytes) not smaller than input (%d bytes)", rec.Body.Len(), len(body))
	}
}

func TestWriter_SkipsNonCompressibleContentType(t *testing.T) {
	rec := httptest.NewRecorder()
	cw := NewWriter(rec, "gzip")

	cw.Header().Set("Content-Type", "image/png")
	cw.WriteHeader(http.StatusOK)
	body := strings.Repeat("x", compressMinBytes*2)
	cw.Write([]byte(body))
	cw.Close()

	if enc := rec.Header().Get("Content-Encoding"); enc != "" {
		t.Errorf("Content-Encoding = %q, want none", enc)
	}
	if rec.Body.String() != body {
		t.Error("body should pass through unmodified for non-compressible content type")
	}
}

func TestWriter_SkipsUndersizedBody(t *testing.T) {
	rec := httptest.NewRecorder()
	cw := NewWriter(rec, "gzip")

	cw.Header().Set("Content-Type", "text/plain")
	cw.Header().Set("Content-Length", "10")
	cw.WriteHeader(http.StatusOK)
	cw.Write([]byte("tiny"))
	cw.Close()

	if enc := rec.Header().Get("Content-Encoding"); enc != "" {
		t.Errorf("Content-Encoding = %q, want none for undersized body", enc)
	}
}

func TestWriter_UsesBrotliEncoding(t *testing.T) {
	rec := httptest.NewRecorder()
	cw := NewWriter(rec, "br")

	cw.Header().Set("Content-Type", "text/html")
	cw.WriteHeader(http.StatusOK)
	cw.Write([]byte(strings.Repeat("y", compressMinBytes*2)))
	cw.Close()

	if rec.Header().Get("Content-Encoding") != "br" {
		t.Errorf("Content-Encoding = %q, want br", rec.Header().Get("Content-Encoding"))
	}
}

func TestWriter_PassesThroughNonOKStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	cw := NewWriter(rec, "gzip")

	cw.Header().Set("Content-Type", "text/html")
	cw.WriteHeader(http.StatusNotFound)
	cw.Write([]byte("not found"))
	cw.Close()

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if enc := rec.Header().Get("Content-Encoding"); enc != "" {
		t.Errorf("Content-Encoding = %q, want none for non-200 status", enc)
	}
}

func TestWriter_RemovesContentLengthWhenCompressing(t *testing.T) {
	rec := httptest.NewRecorder()
	cw := NewWriter(rec, "gzip")

	cw.Header().Set("Content-Type", "text/html")
	cw.Header().Set("Content-Length", "1000")
	cw.WriteHeader(http.StatusOK)
	cw.Write([]byte(strings.Repeat("z", compressMinBytes*2)))
	cw.Close()

	if cl := rec.Header().Get("Content-Length"); cl != "" {
		t.Errorf("Content-Length = %q, want removed once compressing", cl)
	}
}

func TestWriter_Unwrap(t *testing.T) {
	rec := httptest.NewRecorder()
	cw := NewWriter(rec, "gzip")
	if cw.Unwrap() != rec {
		t.Error("Unwrap should return the underlying ResponseWriter")
	}
}
