package dom

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// Update strategies.
const (
	StrategyReplace = "replace"
	StrategyIgnore  = "ignore"
	StrategyAppend  = "append"
	StrategyPrepend = "prepend"
)

var (
	// ErrMissingID reports a phx-update element, or a child of an append or
	// prepend container, without an id.
	ErrMissingID = errors.New("element has no id")

	// ErrUnknownStrategy reports a phx-update value that is not one of the
	// known strategies.
	ErrUnknownStrategy = errors.New("unknown update strategy")
)

// StrategyError reports a misuse of phx-update in rendered markup.
type StrategyError struct {
	Strategy string
	Tag      string
	ID       string
	Err      error
}

func (e *StrategyError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("phx-update=%q on <%s>: %v", e.Strategy, e.Tag, e.Err)
	}
	return fmt.Sprintf("phx-update=%q on <%s id=%q>: %v", e.Strategy, e.Tag, e.ID, e.Err)
}

func (e *StrategyError) Unwrap() error { return e.Err }

// Patch replaces the children of the element identified by containerID in
// prev with the nodes of inner, resolving every phx-update attribute of the
// new markup against prev. It returns the patched document and the component
// ids that were referenced inside the container before the patch but no
// longer are. Neither prev nor inner is modified.
func Patch(containerID string, prev, inner *html.Node) (*html.Node, []int, error) {
	container, err := ByID(prev, containerID)
	if err != nil {
		return nil, nil, err
	}
	cidsBefore, err := componentIDsOf(container)
	if err != nil {
		return nil, nil, err
	}

	p := &patcher{prev: prev}
	incoming := Clone(inner)
	if _, err := p.resolveChildren(incoming); err != nil {
		return nil, nil, err
	}

	patched := Clone(prev)
	target, err := ByID(patched, containerID)
	if err != nil {
		return nil, nil, err
	}
	removeChildren(target)
	for _, c := range childNodes(incoming) {
		target.AppendChild(detach(c))
	}

	cidsAfter, err := componentIDsOf(target)
	if err != nil {
		return nil, nil, err
	}
	return patched, difference(cidsBefore, cidsAfter), nil
}

type patcher struct {
	prev *html.Node
}

// resolveChildren resolves the subtrees below n bottom-up and swaps in any
// replacement nodes.
func (p *patcher) resolveChildren(n *html.Node) (*html.Node, error) {
	for _, c := range childNodes(n) {
		if c.Type != html.ElementNode {
			continue
		}
		resolved, err := p.resolve(c)
		if err != nil {
			return nil, err
		}
		if resolved != c {
			n.InsertBefore(resolved, c)
			n.RemoveChild(c)
		}
	}
	return n, nil
}

func (p *patcher) resolve(n *html.Node) (*html.Node, error) {
	if _, err := p.resolveChildren(n); err != nil {
		return nil, err
	}

	strategy, ok := Attr(n, AttrUpdate)
	if !ok {
		return n, nil
	}
	switch strategy {
	case StrategyReplace:
		return n, nil
	case StrategyIgnore:
		return p.ignore(n)
	case StrategyAppend, StrategyPrepend:
		return p.merge(n, strategy)
	}
	return nil, &StrategyError{Strategy: strategy, Tag: n.Data, ID: ID(n), Err: ErrUnknownStrategy}
}

func (p *patcher) ignore(n *html.Node) (*html.Node, error) {
	id := ID(n)
	if id == "" {
		return nil, &StrategyError{Strategy: StrategyIgnore, Tag: n.Data, Err: ErrMissingID}
	}
	before, err := maybeByID(p.prev, id)
	if err != nil {
		return nil, err
	}
	if before == nil {
		return n, nil
	}
	return Clone(before), nil
}

func (p *patcher) merge(n *html.Node, strategy string) (*html.Node, error) {
	id := ID(n)
	if id == "" {
		return nil, &StrategyError{Strategy: strategy, Tag: n.Data, Err: ErrMissingID}
	}
	for _, c := range Children(n) {
		if ID(c) == "" {
			return nil, &StrategyError{Strategy: strategy, Tag: c.Data, Err: fmt.Errorf("child of %q: %w", id, ErrMissingID)}
		}
	}

	before, err := maybeByID(p.prev, id)
	if err != nil {
		return nil, err
	}
	var existing []*html.Node
	if before != nil {
		for _, c := range childNodes(before) {
			existing = append(existing, Clone(c))
		}
	}

	existingIDs := childIDs(existing)
	appendedIDs := childIDs(childNodes(n))
	if equalIDs(existingIDs, appendedIDs) {
		return n, nil
	}

	appended := childNodes(n)
	for _, c := range appended {
		n.RemoveChild(c)
	}

	seen := make(map[string]bool, len(existingIDs))
	for _, id := range existingIDs {
		seen[id] = true
	}
	for _, dup := range appendedIDs {
		if !seen[dup] {
			continue
		}
		fresh := indexByID(appended, dup)
		if fresh < 0 {
			continue
		}
		if old := indexByID(existing, dup); old >= 0 {
			existing[old] = refresh(existing[old], appended[fresh])
		}
		appended = append(appended[:fresh], appended[fresh+1:]...)
	}

	var children []*html.Node
	if strategy == StrategyAppend {
		children = append(existing, appended...)
	} else {
		children = append(appended, existing...)
	}
	for _, c := range children {
		// Whitespace between batches would pile up with every diff.
		if c.Type == html.TextNode && strings.TrimSpace(c.Data) == "" {
			continue
		}
		n.AppendChild(c)
	}
	return n, nil
}

// refresh keeps the tag of old and takes attributes and children from fresh.
func refresh(old, fresh *html.Node) *html.Node {
	n := &html.Node{
		Type:      html.ElementNode,
		DataAtom:  old.DataAtom,
		Data:      old.Data,
		Namespace: old.Namespace,
		Attr:      fresh.Attr,
	}
	for _, c := range childNodes(fresh) {
		n.AppendChild(detach(c))
	}
	return n
}

func childNodes(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, c)
	}
	return out
}

func childIDs(nodes []*html.Node) []string {
	var ids []string
	for _, n := range nodes {
		if n.Type != html.ElementNode {
			continue
		}
		if id := ID(n); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func indexByID(nodes []*html.Node, id string) int {
	for i, n := range nodes {
		if n.Type == html.ElementNode && ID(n) == id {
			return i
		}
	}
	return -1
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func difference(before, after []int) []int {
	kept := make(map[int]bool, len(after))
	for _, cid := range after {
		kept[cid] = true
	}
	var dropped []int
	for _, cid := range before {
		if !kept[cid] {
			dropped = append(dropped, cid)
		}
	}
	return dropped
}
