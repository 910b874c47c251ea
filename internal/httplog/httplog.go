package httplog

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

type modeKey struct{}

// filter controls which requests Wrap actually logs: "none" suppresses all
// request logging, "ssr" (the default) logs only requests that classified
// themselves with SetMode, "all" logs every request regardless of mode.
var filter = "ssr"

// SetFilter sets the process-wide log filter from the GlobalConfig.Logs
// value ("none", "ssr", or "all"). Unrecognized values behave like "ssr".
func SetFilter(mode string) {
	switch mode {
	case "none", "ssr", "all":
		filter = mode
	default:
		filter = "ssr"
	}
}

// Recorder lets a handler annotate its own request's log line (e.g. with
// the SSR-CACHE/SSR-RENDER/STATIC-FALLBACK classification) without threading a
// return value back through the handler chain.
type Recorder struct {
	mu   sync.Mutex
	mode string
}

// SetMode records the serving-mode classification for the current request.
func (rec *Recorder) SetMode(mode string) {
	rec.mu.Lock()
	rec.mode = mode
	rec.mu.Unlock()
}

func (rec *Recorder) getMode() string {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.mode
}

// ModeFromContext returns the Recorder installed by Wrap, or nil if none.
func ModeFromContext(ctx context.Context) *Recorder {
	rec, _ := ctx.Value(modeKey{}).(*Recorder)
	return rec
}

// Wrap returns an http.Handler that logs each request with method, path,
// status code, and duration. Extra slog attributes (e.g. host name) are
// prepended to every log line. A *Recorder is installed in the request
// context so the handler can attach a "mode" classification.
func Wrap(h http.Handler, attrs ...slog.Attr) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: 200}
		mode := &Recorder{}
		r = r.WithContext(context.WithValue(r.Context(), modeKey{}, mode))
		start := time.Now()
		h.ServeHTTP(rec, r)

		if filter == "none" {
			return
		}
		m := mode.getMode()
		if filter == "ssr" && m == "" {
			return
		}

		args := make([]any, 0, len(attrs)+6)
		for _, a := range attrs {
			args = append(args, a)
		}
		args = append(args, "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
		if m != "" {
			args = append(args, "mode", m)
		}
		slog.Info("request", args...)
	})
}
