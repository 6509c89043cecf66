package dom

import (
	"strings"

	"golang.org/x/net/html"
)

// Filter returns every element below root, root included, for which keep
// returns true, in document order.
func Filter(root *html.Node, keep func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && keep(n) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	if root != nil {
		walk(root)
	}
	return out
}

// ReverseFilter is Filter in reverse document order.
func ReverseFilter(root *html.Node, keep func(*html.Node) bool) []*html.Node {
	out := Filter(root, keep)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// AllAttributes returns the values of key on every element below root that
// carries it, in document order.
func AllAttributes(root *html.Node, key string) []string {
	var values []string
	for _, n := range Filter(root, func(n *html.Node) bool { _, ok := Attr(n, key); return ok }) {
		v, _ := Attr(n, key)
		values = append(values, v)
	}
	return values
}

// Values collects the phx-value-* attributes of n keyed by their suffix. A
// plain value attribute is included under "value".
func Values(n *html.Node) map[string]string {
	out := make(map[string]string)
	for _, a := range n.Attr {
		switch {
		case strings.HasPrefix(a.Key, AttrValue):
			out[strings.TrimPrefix(a.Key, AttrValue)] = a.Val
		case a.Key == "value":
			out["value"] = a.Val
		}
	}
	return out
}

// Strategies counts the phx-update values used below root.
func Strategies(root *html.Node) map[string]int {
	counts := make(map[string]int)
	for _, v := range AllAttributes(root, AttrUpdate) {
		counts[v]++
	}
	return counts
}

// FindStaticViews maps the id of every static view below root to its
// data-phx-static token.
func FindStaticViews(root *html.Node) map[string]string {
	views := make(map[string]string)
	for _, n := range Filter(root, func(n *html.Node) bool { _, ok := Attr(n, AttrStatic); return ok }) {
		static, _ := Attr(n, AttrStatic)
		views[ID(n)] = static
	}
	return views
}

// LiveView is one server-rendered live view found in a page.
type LiveView struct {
	ID      string
	Session string
	Static  string
	Main    bool
}

// FindLiveViews returns the live views below root. The main view comes first,
// the rest follow in document order.
func FindLiveViews(root *html.Node) []LiveView {
	var main, rest []LiveView
	for _, n := range Filter(root, func(n *html.Node) bool { _, ok := Attr(n, AttrSession); return ok }) {
		view := LiveView{ID: ID(n)}
		view.Session, _ = Attr(n, AttrSession)
		view.Static, _ = Attr(n, AttrStatic)
		if v, _ := Attr(n, AttrMain); v == "true" {
			view.Main = true
			main = append(main, view)
			continue
		}
		rest = append(rest, view)
	}
	return append(main, rest...)
}

// CSRFToken returns the content of the csrf-token meta tag.
func CSRFToken(root *html.Node) (string, bool) {
	metas := Filter(root, func(n *html.Node) bool {
		name, _ := Attr(n, "name")
		return n.Data == "meta" && name == "csrf-token"
	})
	if len(metas) == 0 {
		return "", false
	}
	return Attr(metas[0], "content")
}
