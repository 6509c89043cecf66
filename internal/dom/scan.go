package dom

import (
	"fmt"
	"strconv"

	"golang.org/x/net/html"
)

// ComponentIDs returns the component ids referenced below the element
// identified by rootID, in the order they are first found. Subtrees marked
// with data-phx-static are not descended into.
func ComponentIDs(rootID string, tree *html.Node) ([]int, error) {
	root, err := ByID(tree, rootID)
	if err != nil {
		return nil, err
	}
	return componentIDsOf(root)
}

func componentIDsOf(root *html.Node) ([]int, error) {
	var ids []int
	seen := make(map[int]bool)

	var walk func(*html.Node) error
	walk = func(n *html.Node) error {
		if n.Type != html.ElementNode {
			return nil
		}
		if v, ok := Attr(n, AttrComponent); ok {
			cid, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s value %q: %w", AttrComponent, v, err)
			}
			if !seen[cid] {
				seen[cid] = true
				ids = append(ids, cid)
			}
		}
		if _, static := Attr(n, AttrStatic); static {
			return nil
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}

	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if err := walk(c); err != nil {
			return nil, err
		}
	}
	return ids, nil
}
