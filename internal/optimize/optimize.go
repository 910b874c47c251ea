// Package optimize implements the deterministic, tolerant-parser-based
// post-render HTML cleanup applied to rendered snapshots before caching.
package optimize

import (
	"bytes"
	"log/slog"
	"strings"

	"golang.org/x/net/html"
)

// Options controls which removal rules are active. All four default to true.
type Options struct {
	RemoveDataAttributes  bool
	RemoveAriaAttributes  bool
	RemoveStyleAttributes bool
	RemoveInlineStyles    bool
}

// DefaultOptions returns the all-enabled option set.
func DefaultOptions() Options {
	return Options{
		RemoveDataAttributes:  true,
		RemoveAriaAttributes:  true,
		RemoveStyleAttributes: true,
		RemoveInlineStyles:    true,
	}
}

var linkRelsRemoved = map[string]bool{
	"preload":       true,
	"prefetch":      true,
	"dns-prefetch":  true,
	"modulepreload": true,
	"preconnect":    true,
	"stylesheet":    true,
	"mask-icon":     true,
}

var keepWhenEmpty = map[string]bool{
	"script": true, "style": true, "meta": true, "link": true,
	"img": true, "br": true, "hr": true, "input": true, "source": true,
	"track": true, "area": true, "col": true, "embed": true,
	"param": true, "wbr": true,
}

// Optimize applies the removal rules to html and returns the result. Any
// failure in parsing or transforming falls back to returning the original
// input unchanged.
func Optimize(input string, opts Options) string {
	result, err := optimize(input, opts)
	if err != nil {
		slog.Warn("optimize: falling back to unoptimized html", "err", err)
		return input
	}
	return result
}

func optimize(input string, opts Options) (string, error) {
	doc, err := html.Parse(strings.NewReader(input))
	if err != nil {
		return "", err
	}

	removeScriptsExceptJSONLD(doc)
	removeLinksByRel(doc, linkRelsRemoved)
	if opts.RemoveInlineStyles {
		removeByTag(doc, "style")
	}
	dedupeManifestLinks(doc)
	dedupeIconLinks(doc)
	dedupeAppleTouchIcons(doc)
	removeMetaMSApplication(doc)
	removeMetaNextHeadCount(doc)
	removeAttrEverywhere(doc, "data-testid")
	removeComments(doc)
	removeByTag(doc, "noscript")
	removeHiddenElements(doc)
	if opts.RemoveDataAttributes {
		stripAttrPrefixExceptTag(doc, "data-", "meta")
	}
	if opts.RemoveAriaAttributes {
		stripAttrPrefix(doc, "aria-")
	}
	stripEventHandlerAttrs(doc)
	if opts.RemoveStyleAttributes {
		removeAttrEverywhere(doc, "style")
	}
	collapseEmptyElements(doc)
	collapseTextWhitespace(doc)

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return "", err
	}
	return collapseWhitespaceDocument(buf.String()), nil
}

func attrVal(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func hasAttr(n *html.Node, key string) bool {
	_, ok := attrVal(n, key)
	return ok
}

func isElement(n *html.Node, tag string) bool {
	return n.Type == html.ElementNode && n.Data == tag
}

// removeMatching removes every child (at any depth) of root for which match
// returns true. It does not descend into removed subtrees.
func removeMatching(root *html.Node, match func(*html.Node) bool) {
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		child := n.FirstChild
		for child != nil {
			next := child.NextSibling
			if match(child) {
				n.RemoveChild(child)
			} else {
				walk(child)
			}
			child = next
		}
	}
	walk(root)
}

// collectMatching returns every descendant of root matching match, in
// document order, without mutating the tree.
func collectMatching(root *html.Node, match func(*html.Node) bool) []*html.Node {
	var found []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if match(c) {
				found = append(found, c)
			}
			walk(c)
		}
	}
	walk(root)
	return found
}

func removeNode(n *html.Node) {
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

func removeByTag(root *html.Node, tag string) {
	removeMatching(root, func(n *html.Node) bool { return isElement(n, tag) })
}

func removeScriptsExceptJSONLD(root *html.Node) {
	removeMatching(root, func(n *html.Node) bool {
		if !isElement(n, "script") {
			return false
		}
		t, _ := attrVal(n, "type")
		return t != "application/ld+json"
	})
}

func removeLinksByRel(root *html.Node, rels map[string]bool) {
	removeMatching(root, func(n *html.Node) bool {
		if !isElement(n, "link") {
			return false
		}
		rel, _ := attrVal(n, "rel")
		return rels[strings.ToLower(strings.TrimSpace(rel))]
	})
}

func isLinkRel(n *html.Node, rel string) bool {
	if !isElement(n, "link") {
		return false
	}
	got, _ := attrVal(n, "rel")
	return strings.EqualFold(strings.TrimSpace(got), rel)
}

func dedupeManifestLinks(root *html.Node) {
	links := collectMatching(root, func(n *html.Node) bool { return isLinkRel(n, "manifest") })
	for i := 1; i < len(links); i++ {
		removeNode(links[i])
	}
}

func dedupeIconLinks(root *html.Node) {
	links := collectMatching(root, func(n *html.Node) bool { return isLinkRel(n, "icon") })
	for i := 1; i < len(links); i++ {
		removeNode(links[i])
	}
}

func dedupeAppleTouchIcons(root *html.Node) {
	links := collectMatching(root, func(n *html.Node) bool { return isLinkRel(n, "apple-touch-icon") })
	if len(links) <= 1 {
		return
	}
	keep := links[0]
	for _, l := range links {
		if sizes, ok := attrVal(l, "sizes"); ok && strings.Contains(sizes, "180x180") {
			keep = l
			break
		}
	}
	for _, l := range links {
		if l != keep {
			removeNode(l)
		}
	}
}

func removeMetaMSApplication(root *html.Node) {
	removeMatching(root, func(n *html.Node) bool {
		if !isElement(n, "meta") {
			return false
		}
		name, _ := attrVal(n, "name")
		return strings.HasPrefix(strings.ToLower(name), "msapplication-")
	})
}

func removeMetaNextHeadCount(root *html.Node) {
	removeMatching(root, func(n *html.Node) bool {
		if !isElement(n, "meta") {
			return false
		}
		name, _ := attrVal(n, "name")
		return name == "next-head-count"
	})
}

func removeAttrEverywhere(root *html.Node, key string) {
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			filterAttrs(n, func(a html.Attribute) bool { return a.Key != key })
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
}

func filterAttrs(n *html.Node, keep func(html.Attribute) bool) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if keep(a) {
			out = append(out, a)
		}
	}
	n.Attr = out
}

func removeComments(root *html.Node) {
	removeMatching(root, func(n *html.Node) bool { return n.Type == html.CommentNode })
}

func removeHiddenElements(root *html.Node) {
	removeMatching(root, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return false
		}
		if hasAttr(n, "hidden") {
			return true
		}
		style, _ := attrVal(n, "style")
		style = strings.ToLower(style)
		return strings.Contains(style, "display:none") ||
			strings.Contains(style, "display: none") ||
			strings.Contains(style, "visibility:hidden")
	})
}

func stripAttrPrefixExceptTag(root *html.Node, prefix, exceptTag string) {
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data != exceptTag {
			filterAttrs(n, func(a html.Attribute) bool { return !strings.HasPrefix(a.Key, prefix) })
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
}

func stripAttrPrefix(root *html.Node, prefix string) {
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			filterAttrs(n, func(a html.Attribute) bool { return !strings.HasPrefix(a.Key, prefix) })
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
}

func stripEventHandlerAttrs(root *html.Node) {
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			filterAttrs(n, func(a html.Attribute) bool { return !strings.HasPrefix(a.Key, "on") })
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
}

// collapseEmptyElements removes elements under <body> that have no text,
// no children, and no remaining attributes, except the void/meta allowlist.
// Children are processed before parents so a cascade collapses in one pass.
func collapseEmptyElements(root *html.Node) {
	body := findElement(root, "body")
	if body == nil {
		return
	}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		child := n.FirstChild
		for child != nil {
			next := child.NextSibling
			if child.Type == html.ElementNode {
				walk(child)
				if isEmptyElement(child) {
					n.RemoveChild(child)
				}
			}
			child = next
		}
	}
	walk(body)
}

func isEmptyElement(n *html.Node) bool {
	if keepWhenEmpty[n.Data] {
		return false
	}
	if n.FirstChild != nil {
		return false
	}
	if len(n.Attr) != 0 {
		return false
	}
	return true
}

func findElement(root *html.Node, tag string) *html.Node {
	if isElement(root, tag) {
		return root
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

var whitespaceRun = strings.NewReplacer("\t", " ", "\n", " ", "\r", " ")

func collapseTextWhitespace(root *html.Node) {
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		child := n.FirstChild
		for child != nil {
			next := child.NextSibling
			if child.Type == html.TextNode {
				collapsed := collapseSpaces(whitespaceRun.Replace(child.Data))
				trimmed := strings.TrimSpace(collapsed)
				if trimmed == "" {
					n.RemoveChild(child)
				} else {
					child.Data = trimmed
				}
			} else {
				walk(child)
			}
			child = next
		}
	}
	walk(root)
}

func collapseSpaces(s string) string {
	var b strings.Builder
	prevSpace := false
	for _, r := range s {
		isSpace := r == ' '
		if isSpace && prevSpace {
			continue
		}
		b.WriteRune(r)
		prevSpace = isSpace
	}
	return b.String()
}

func collapseWhitespaceDocument(s string) string {
	s = strings.ReplaceAll(s, "> <", "><")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	for strings.Contains(s, "  ") {
		s = strings.ReplaceAll(s, "  ", " ")
	}
	return s
}
