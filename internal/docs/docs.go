// Package docs renders the embedded operator documentation describing
// serving strategies, the cache model, and the external interfaces.
package docs

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

//go:embed all:docs
var docsFS embed.FS

// Page describes a single documentation page: its slug and display title.
type Page struct {
	Slug  string
	Title string
}

var pageOrder = []Page{
	{"serving-strategies", "Serving Strategies"},
	{"cache-model", "Cache Model"},
	{"render-engine", "Render Engine"},
	{"configuration", "Configuration"},
	{"api", "API Reference"},
}

// Pages returns the ordered list of documentation pages.
func Pages() []Page {
	return pageOrder
}

var docMD = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
		extension.DefinitionList,
		extension.Typographer,
	),
)

var (
	cache   = make(map[string]template.HTML)
	cacheMu sync.RWMutex
)

// Render returns the HTML for a documentation page, caching the result.
func Render(slug string) (template.HTML, error) {
	cacheMu.RLock()
	if html, ok := cache[slug]; ok {
		cacheMu.RUnlock()
		return html, nil
	}
	cacheMu.RUnlock()

	data, err := docsFS.ReadFile("docs/" + slug + ".md")
	if err != nil {
		return "", fmt.Errorf("doc %q not found", slug)
	}

	// Strip the leading # Title line; the rendered page body starts below it.
	if i := bytes.IndexByte(data, '\n'); i > 0 && bytes.HasPrefix(data, []byte("# ")) {
		data = data[i+1:]
	}

	var buf bytes.Buffer
	if err := docMD.Convert(data, &buf); err != nil {
		return "", fmt.Errorf("rendering %q: %w", slug, err)
	}

	html := buf.String()
	for _, p := range pageOrder {
		html = strings.ReplaceAll(html, `href="`+p.Slug+`.md"`, `href="/internal/docs/`+p.Slug+`"`)
		html = strings.ReplaceAll(html, `href="`+p.Slug+`"`, `href="/internal/docs/`+p.Slug+`"`)
	}

	result := template.HTML(html)

	cacheMu.Lock()
	cache[slug] = result
	cacheMu.Unlock()

	return result, nil
}

// Handler returns the GET /internal/docs/{page} handler.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slug := r.PathValue("page")
		if slug == "" {
			slug = pageOrder[0].Slug
		}
		html, err := Render(slug)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<!doctype html><meta charset=\"utf-8\"><title>%s</title>%s", slug, html)
	})
}
