package dom

import (
	"fmt"
	"strconv"

	"golang.org/x/net/html"
)

// StampComponent adds data-phx-component="cid" to every root-level element
// of markup. The markup is parsed the way the session parses a document, so
// omitted end tags and stray end tags decide the roots the same way. Text and
// comments are kept unmarked, and an element that already carries a
// component marker keeps it.
func StampComponent(markup string, cid int) (string, error) {
	doc, err := Parse(markup)
	if err != nil {
		return "", fmt.Errorf("stamp component %d: %w", cid, err)
	}

	marker := strconv.Itoa(cid)
	for c := doc.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		if _, ok := Attr(c, AttrComponent); ok {
			continue
		}
		SetAttr(c, AttrComponent, marker)
	}

	out, err := InnerHTML(doc)
	if err != nil {
		return "", fmt.Errorf("stamp component %d: %w", cid, err)
	}
	return out, nil
}
