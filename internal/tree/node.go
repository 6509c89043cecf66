// Package tree holds the decoded form of rendered payloads pushed by the
// server: fragments of static markup interleaved with dynamic slots, plus a
// side table of components keyed by integer id. It merges incoming diffs onto
// the last known tree and renders the result back into one markup string.
//
// Nodes are treated as immutable once built. Merging returns new nodes and
// shares untouched subtrees with its inputs.
package tree

import (
	"encoding/json"
	"sort"
)

type staticsKind uint8

const (
	staticsNone staticsKind = iota
	staticsList
	staticsRef
)

// Statics is either a literal list of static markup chunks or an integer
// reference. At the root of a component entry the reference names another
// component (positive: shared statics, negative: full previous value). Inside a
// comprehension row it names an entry of the row templates.
type Statics struct {
	kind  staticsKind
	parts []string
	ref   int
}

// ListStatics returns literal statics.
func ListStatics(parts ...string) Statics {
	if parts == nil {
		parts = []string{}
	}
	return Statics{kind: staticsList, parts: parts}
}

// RefStatics returns statics that point at a component or template.
func RefStatics(ref int) Statics {
	return Statics{kind: staticsRef, ref: ref}
}

// IsSet reports whether the node carried an "s" key at all.
func (s Statics) IsSet() bool { return s.kind != staticsNone }

// IsList reports whether the statics are literal markup.
func (s Statics) IsList() bool { return s.kind == staticsList }

// IsRef reports whether the statics are a reference.
func (s Statics) IsRef() bool { return s.kind == staticsRef }

// Parts returns the literal chunks, or nil for a reference.
func (s Statics) Parts() []string { return s.parts }

// Ref returns the reference, or 0 for literal statics.
func (s Statics) Ref() int { return s.ref }

// Value is one dynamic slot value: a ComponentRef, a Text or a nested *Node.
type Value interface {
	isValue()
}

// ComponentRef points at an entry of the component table.
type ComponentRef int

// Text is pre-rendered markup emitted verbatim.
type Text string

func (ComponentRef) isValue() {}
func (Text) isValue()         {}
func (*Node) isValue()        {}

// Node is a fragment. Without List it is a single interpolation where
// Slots[i] sits between statics i and i+1. With List it is a comprehension:
// every row of Dynamics is interleaved with the shared statics.
type Node struct {
	Statics   Statics
	Slots     map[int]Value
	List      bool
	Dynamics  [][]Value
	Templates map[int][]string
}

// Clone returns a deep copy of n.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := &Node{
		Statics: n.Statics,
		List:    n.List,
	}
	if n.Statics.parts != nil {
		c.Statics.parts = append([]string{}, n.Statics.parts...)
	}
	if n.Slots != nil {
		c.Slots = make(map[int]Value, len(n.Slots))
		for k, v := range n.Slots {
			c.Slots[k] = cloneValue(v)
		}
	}
	if n.Dynamics != nil {
		c.Dynamics = make([][]Value, len(n.Dynamics))
		for i, row := range n.Dynamics {
			c.Dynamics[i] = make([]Value, len(row))
			for j, v := range row {
				c.Dynamics[i][j] = cloneValue(v)
			}
		}
	}
	if n.Templates != nil {
		c.Templates = make(map[int][]string, len(n.Templates))
		for k, t := range n.Templates {
			c.Templates[k] = append([]string{}, t...)
		}
	}
	return c
}

func cloneValue(v Value) Value {
	if n, ok := v.(*Node); ok {
		return n.Clone()
	}
	return v
}

// Components maps component ids to their fragments.
type Components map[int]*Node

// IDs returns the component ids in ascending order.
func (c Components) IDs() []int {
	ids := make([]int, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Drop returns a copy of the table without the listed ids. Ids that are not
// present are ignored.
func (c Components) Drop(ids []int) Components {
	out := make(Components, len(c))
	for id, n := range c {
		out[id] = n
	}
	for _, id := range ids {
		delete(out, id)
	}
	return out
}

// Rendered is the merged state of one session: the root fragment, the
// component table and the last title the server sent.
type Rendered struct {
	Root       *Node
	Components Components
	Title      string
}

// Payload is one decoded wire message. Events and Reply are passed through
// untouched; Title is nil when the message did not carry one.
type Payload struct {
	Root       *Node
	Components Components
	Title      *string
	Events     json.RawMessage
	Reply      json.RawMessage
}
