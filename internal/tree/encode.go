package tree

import (
	"encoding/json"
	"strconv"
)

// MarshalJSON writes the node back in wire layout: statics under "s",
// positional dynamics under "0".."n", comprehension rows under "d" and row
// templates under "p".
func (n *Node) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.wire())
}

func (n *Node) wire() map[string]any {
	out := make(map[string]any, len(n.Slots)+3)
	switch {
	case n.Statics.IsList():
		out[KeyStatics] = n.Statics.parts
	case n.Statics.IsRef():
		out[KeyStatics] = n.Statics.ref
	}
	for k, v := range n.Slots {
		out[strconv.Itoa(k)] = wireValue(v)
	}
	if n.List {
		rows := make([][]any, len(n.Dynamics))
		for i, row := range n.Dynamics {
			rows[i] = make([]any, len(row))
			for j, v := range row {
				rows[i][j] = wireValue(v)
			}
		}
		out[KeyDynamics] = rows
	}
	if len(n.Templates) > 0 {
		templates := make(map[string][]string, len(n.Templates))
		for k, t := range n.Templates {
			templates[strconv.Itoa(k)] = t
		}
		out[KeyTemplates] = templates
	}
	return out
}

func wireValue(v Value) any {
	switch v := v.(type) {
	case ComponentRef:
		return int(v)
	case Text:
		return string(v)
	case *Node:
		return v.wire()
	}
	return nil
}

func wireComponents(c Components) map[string]any {
	out := make(map[string]any, len(c))
	for cid, n := range c {
		out[strconv.Itoa(cid)] = n.wire()
	}
	return out
}

// MarshalJSON writes the merged state as one full payload.
func (r *Rendered) MarshalJSON() ([]byte, error) {
	out := map[string]any{}
	if r.Root != nil {
		out = r.Root.wire()
	}
	if len(r.Components) > 0 {
		out[KeyComponents] = wireComponents(r.Components)
	}
	if r.Title != "" {
		out[KeyTitle] = r.Title
	}
	return json.Marshal(out)
}

// MarshalJSON writes the payload back in wire layout.
func (p *Payload) MarshalJSON() ([]byte, error) {
	out := map[string]any{}
	if p.Root != nil {
		out = p.Root.wire()
	}
	if p.Components != nil {
		out[KeyComponents] = wireComponents(p.Components)
	}
	if p.Title != nil {
		out[KeyTitle] = *p.Title
	}
	if p.Events != nil {
		out[KeyEvents] = p.Events
	}
	if p.Reply != nil {
		out[KeyReply] = p.Reply
	}
	return json.Marshal(out)
}
