// Package gateway is the HTTP entrypoint: it composes request
// classification, static file serving, cache lookup, and render dispatch
// into a single handler.
package gateway

import (
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"renderx/internal/compress"
	"renderx/config"
)

// isUnderRoot reports whether resolved is resolvedRoot itself or a
// descendant of it. Used after symlink resolution to reject any path that
// escapes the host's source directory.
func isUnderRoot(resolved, resolvedRoot string) bool {
	if resolved == resolvedRoot {
		return true
	}
	return strings.HasPrefix(resolved, resolvedRoot+string(filepath.Separator))
}

// hostRoot returns the source directory for a host config: its Source
// joined onto the gateway's hosts root (relative if that root is).
func (g *Gateway) hostRoot(h config.HostConfig) string {
	return filepath.Join(g.hostsRoot, h.Source)
}

// resolveStatic resolves reqPath against root (a host's source directory),
// rejecting any path that normalizes outside of it. It returns the resolved
// file path and whether resolution succeeded.
//
// Resolution order: clean the request path, reject "..", join with root,
// resolve symlinks. A directory target resolves to its own index.html. A
// missing or out-of-root target, or any other failure along the way, is
// reported as ok=false; the SPA fallback to index.html is left to the
// caller, which treats ok=false as "serve the SPA shell or 404".
func resolveStatic(root, reqPath string) (resolved string, ok bool) {
	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", false
	}

	clean := filepath.Clean(reqPath)
	if clean == "" || clean == "." || clean == string(filepath.Separator) {
		clean = "index.html"
	}
	clean = strings.TrimPrefix(clean, string(filepath.Separator))
	if strings.Contains(clean, "..") {
		return "", false
	}

	full := filepath.Join(root, clean)
	resolved, err = filepath.EvalSymlinks(full)
	if err != nil {
		return "", false
	}
	if !isUnderRoot(resolved, resolvedRoot) {
		return "", false
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", false
	}
	if info.IsDir() {
		dirIndex := filepath.Join(full, "index.html")
		resolvedIndex, err := filepath.EvalSymlinks(dirIndex)
		if err != nil || !isUnderRoot(resolvedIndex, resolvedRoot) {
			return "", false
		}
		return resolvedIndex, true
	}
	return resolved, true
}

// spaIndex returns the resolved path to root's index.html, or ok=false if
// it is missing or escapes root via a symlink.
func spaIndex(root string) (string, bool) {
	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", false
	}
	idx := filepath.Join(root, "index.html")
	resolved, err := filepath.EvalSymlinks(idx)
	if err != nil || !isUnderRoot(resolved, resolvedRoot) {
		return "", false
	}
	return resolved, true
}

// serveStaticFile resolves reqPath under root and writes it to w, falling
// back to the SPA shell (index.html) when the path is missing or escapes
// the root, and to a bare 404 when even the shell is unavailable.
func serveStaticFile(w http.ResponseWriter, r *http.Request, root string) {
	resolved, ok := resolveStatic(root, r.URL.Path)
	if !ok {
		idx, ok := spaIndex(root)
		if !ok {
			http.NotFound(w, r)
			return
		}
		resolved = idx
	}
	serveFileCompressed(w, r, resolved)
}

// serveFileCompressed serves name, preferring a precompressed sibling
// (name+".br" or name+".gz") over on-the-fly compression.
func serveFileCompressed(w http.ResponseWriter, r *http.Request, name string) {
	ct := mime.TypeByExtension(filepath.Ext(name))
	if ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	if compress.IsCompressible(ct) {
		w.Header().Set("Vary", "Accept-Encoding")
	}

	if compress.AcceptsBrotli(r) && servePrecompressed(w, r, name, ".br", "br") {
		return
	}
	if compress.AcceptsGzip(r) && servePrecompressed(w, r, name, ".gz", "gzip") {
		return
	}

	var encoding string
	switch {
	case compress.AcceptsBrotli(r):
		encoding = "br"
	case compress.AcceptsGzip(r):
		encoding = "gzip"
	}
	if encoding != "" {
		cw := compress.NewWriter(w, encoding)
		defer cw.Close()
		serveFileContent(cw, r, name)
		return
	}
	serveFileContent(w, r, name)
}

func servePrecompressed(w http.ResponseWriter, r *http.Request, origPath, ext, encoding string) bool {
	f, err := os.Open(origPath + ext)
	if err != nil {
		return false
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	w.Header().Set("Content-Encoding", encoding)
	w.Header().Set("Vary", "Accept-Encoding")
	http.ServeContent(w, r, "", stat.ModTime(), f)
	return true
}

// serveFileContent opens name and serves it with http.ServeContent, which
// unlike http.ServeFile never performs an internal redirect that would leak
// caller-set headers.
func serveFileContent(w http.ResponseWriter, r *http.Request, name string) {
	f, err := os.Open(name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		http.NotFound(w, r)
		return
	}
	http.ServeContent(w, r, filepath.Base(name), stat.ModTime(), f)
}

// serveLoopback serves a request marked internal (the render engine
// fetching its own bundled assets over loopback). It tries the host
// matching the forwarded Origin/Host first, then every other active host,
// and finally falls back to any host's index.html -- the render engine may
// not agree with the router about which host it is talking to.
func (g *Gateway) serveLoopback(w http.ResponseWriter, r *http.Request, hostname string) {
	cfg := g.config()

	if h, ok := cfg.ResolveHost(hostname); ok {
		if tryServeFrom(w, r, g.hostRoot(h)) {
			return
		}
	}
	for _, h := range cfg.Hosts {
		if !h.IsActive() {
			continue
		}
		if tryServeFrom(w, r, g.hostRoot(h)) {
			return
		}
	}
	for _, h := range cfg.Hosts {
		if idx, ok := spaIndex(g.hostRoot(h)); ok {
			serveFileCompressed(w, r, idx)
			return
		}
	}
	http.NotFound(w, r)
}

// tryServeFrom serves r's path from root if it resolves to a real file or
// directory index under root; it reports false (serving nothing) when the
// path only resolves via the SPA fallback, so the caller can keep trying
// other hosts before giving up.
func tryServeFrom(w http.ResponseWriter, r *http.Request, root string) bool {
	resolved, ok := resolveStatic(root, r.URL.Path)
	if !ok {
		return false
	}
	serveFileCompressed(w, r, resolved)
	return true
}
