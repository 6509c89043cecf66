package tree

import (
	"strconv"
	"strings"
)

// ComponentHook post-processes the markup rendered for one component before
// it is spliced into its parent.
type ComponentHook func(cid int, markup string) (string, error)

// Renderer turns a merged tree into one markup string.
type Renderer struct {
	Components Components

	// OnComponent, when set, is called with the markup of every component
	// referenced through a ComponentRef. Nested nodes are not passed through it.
	OnComponent ComponentHook

	rendering map[int]bool
}

// Render renders root against components with no component hook.
func Render(root *Node, components Components) (string, error) {
	r := &Renderer{Components: components}
	return r.Render(root)
}

// Render renders root.
func (r *Renderer) Render(root *Node) (string, error) {
	if root == nil {
		return "", nil
	}
	r.rendering = make(map[int]bool)
	var b strings.Builder
	if err := r.node(&b, root, nil, ""); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (r *Renderer) node(b *strings.Builder, n *Node, templates map[int][]string, path string) error {
	if len(n.Templates) > 0 {
		templates = n.Templates
	}
	statics, err := r.statics(n, templates, path)
	if err != nil {
		return err
	}

	if n.List {
		for i, row := range n.Dynamics {
			rowPath := joinPath(path, KeyDynamics+"."+strconv.Itoa(i))
			if len(row) != len(statics)-1 {
				return &RenderError{Path: rowPath, Err: ErrMisaligned}
			}
			if err := r.interleave(b, statics, row, templates, rowPath); err != nil {
				return err
			}
		}
		return nil
	}

	if len(n.Slots) != len(statics)-1 {
		return &RenderError{Path: path, Err: ErrMisaligned}
	}
	values := make([]Value, len(n.Slots))
	for i := range values {
		v, ok := n.Slots[i]
		if !ok {
			return &RenderError{Path: joinPath(path, strconv.Itoa(i)), Err: ErrMisaligned}
		}
		values[i] = v
	}
	return r.interleave(b, statics, values, templates, path)
}

func (r *Renderer) statics(n *Node, templates map[int][]string, path string) ([]string, error) {
	switch {
	case n.Statics.IsList():
		return n.Statics.parts, nil
	case n.Statics.IsRef():
		if t, ok := templates[n.Statics.ref]; ok {
			return t, nil
		}
		return nil, &RenderError{Path: joinPath(path, KeyStatics), Err: ErrMissingStatics}
	}
	return nil, &RenderError{Path: path, Err: ErrMissingStatics}
}

func (r *Renderer) interleave(b *strings.Builder, statics []string, values []Value, templates map[int][]string, path string) error {
	b.WriteString(statics[0])
	for i, v := range values {
		if err := r.value(b, v, templates, joinPath(path, strconv.Itoa(i))); err != nil {
			return err
		}
		b.WriteString(statics[i+1])
	}
	return nil
}

func (r *Renderer) value(b *strings.Builder, v Value, templates map[int][]string, path string) error {
	switch v := v.(type) {
	case Text:
		b.WriteString(string(v))
	case *Node:
		return r.node(b, v, templates, path)
	case ComponentRef:
		markup, err := r.component(int(v), path)
		if err != nil {
			return err
		}
		b.WriteString(markup)
	}
	return nil
}

func (r *Renderer) component(cid int, path string) (string, error) {
	cpath := joinPath(KeyComponents, strconv.Itoa(cid))
	n, ok := r.Components[cid]
	if !ok || n == nil {
		if path == "" {
			path = cpath
		}
		return "", &RenderError{Path: path, Err: ErrMissingComponent}
	}
	if r.rendering[cid] {
		return "", &RenderError{Path: cpath, Err: ErrComponentCycle}
	}
	r.rendering[cid] = true
	defer delete(r.rendering, cid)

	var b strings.Builder
	if err := r.node(&b, n, nil, cpath); err != nil {
		return "", err
	}
	if r.OnComponent == nil {
		return b.String(), nil
	}
	return r.OnComponent(cid, b.String())
}
