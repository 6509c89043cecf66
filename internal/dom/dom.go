// Package dom is the document-tree side of the client. It parses rendered
// markup into golang.org/x/net/html nodes, looks elements up by id, stamps
// component markers onto rendered component markup, patches a container
// element with new markup according to each element's update strategy and
// scans a container for the component ids it still references.
package dom

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Reserved attributes.
const (
	AttrID        = "id"
	AttrComponent = "data-phx-component"
	AttrMain      = "data-phx-main"
	AttrSession   = "data-phx-session"
	AttrStatic    = "data-phx-static"
	AttrUpdate    = "phx-update"
	AttrValue     = "phx-value-"
)

// NotOneFoundError is returned when an id lookup does not match exactly one
// element.
type NotOneFoundError struct {
	ID    string
	Count int
}

func (e *NotOneFoundError) Error() string {
	if e.Count == 0 {
		return fmt.Sprintf("expected id %q to return a single element, but got none", e.ID)
	}
	return fmt.Sprintf("expected id %q to return a single element, but got %d", e.ID, e.Count)
}

// Parse parses markup as the content of a body element and returns a
// document node holding the resulting nodes. Unlike html.Parse it does not
// add html, head or body wrappers.
func Parse(markup string) (*html.Node, error) {
	context := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(markup), context)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML fragment: %w", err)
	}

	doc := &html.Node{Type: html.DocumentNode}
	for _, n := range nodes {
		doc.AppendChild(n)
	}
	return doc, nil
}

// Render serializes n. A document node is rendered as the concatenation of
// its children.
func Render(n *html.Node) (string, error) {
	if n == nil {
		return "", nil
	}
	var b strings.Builder
	if err := html.Render(&b, n); err != nil {
		return "", fmt.Errorf("failed to render HTML: %w", err)
	}
	return b.String(), nil
}

// InnerHTML serializes the children of n.
func InnerHTML(n *html.Node) (string, error) {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&b, c); err != nil {
			return "", fmt.Errorf("failed to render HTML: %w", err)
		}
	}
	return b.String(), nil
}

// Clone returns a deep copy of n, detached from any parent.
func Clone(n *html.Node) *html.Node {
	if n == nil {
		return nil
	}
	c := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
	}
	if n.Attr != nil {
		c.Attr = make([]html.Attribute, len(n.Attr))
		copy(c.Attr, n.Attr)
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		c.AppendChild(Clone(child))
	}
	return c
}

// Attr returns the value of the named attribute of n.
func Attr(n *html.Node, key string) (string, bool) {
	if n == nil || n.Type != html.ElementNode {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttr sets the named attribute of n, appending it if n does not have it
// yet.
func SetAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// ID returns the id attribute of n, or "" if it has none.
func ID(n *html.Node) string {
	id, _ := Attr(n, AttrID)
	return id
}

// Children returns the element children of n.
func Children(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, c)
		}
	}
	return out
}

// ByID returns the single element below root whose id is id.
func ByID(root *html.Node, id string) (*html.Node, error) {
	matches := Filter(root, func(n *html.Node) bool { return ID(n) == id })
	if len(matches) != 1 {
		return nil, &NotOneFoundError{ID: id, Count: len(matches)}
	}
	return matches[0], nil
}

// maybeByID is ByID for elements that may legitimately be absent.
func maybeByID(root *html.Node, id string) (*html.Node, error) {
	n, err := ByID(root, id)
	if nfe, ok := err.(*NotOneFoundError); ok && nfe.Count == 0 {
		return nil, nil
	}
	return n, err
}

func removeChildren(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
}

func detach(n *html.Node) *html.Node {
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
	return n
}
