package tree

import "strconv"

// MergeNode deep-merges diff onto prev and returns the result. Slots that are
// nodes on both sides are merged recursively; any other slot value in diff
// replaces the previous one. Statics, comprehension rows and template lists
// are replaced wholesale, template tables merge by key. A diff node carrying
// its own statics, a list or a template reference, is complete and replaces
// prev outright.
//
// Neither argument is modified.
func MergeNode(prev, diff *Node) *Node {
	if diff == nil {
		return prev
	}
	if prev == nil || diff.Statics.IsSet() {
		return diff
	}

	merged := &Node{
		Statics:   prev.Statics,
		List:      prev.List,
		Dynamics:  prev.Dynamics,
		Templates: prev.Templates,
	}
	if diff.List {
		merged.List = true
		merged.Dynamics = diff.Dynamics
	}

	if prev.Slots != nil || diff.Slots != nil {
		merged.Slots = make(map[int]Value, len(prev.Slots)+len(diff.Slots))
		for k, v := range prev.Slots {
			merged.Slots[k] = v
		}
		for k, v := range diff.Slots {
			if next, ok := v.(*Node); ok {
				if current, ok := merged.Slots[k].(*Node); ok {
					merged.Slots[k] = MergeNode(current, next)
					continue
				}
			}
			merged.Slots[k] = v
		}
	}

	if len(diff.Templates) > 0 {
		merged.Templates = make(map[int][]string, len(prev.Templates)+len(diff.Templates))
		for k, t := range prev.Templates {
			merged.Templates[k] = t
		}
		for k, t := range diff.Templates {
			merged.Templates[k] = t
		}
	}
	return merged
}

// Merge applies one decoded payload onto the previous state. A nil prev is
// the empty state, which is how the initial full payload is applied.
func Merge(prev *Rendered, diff *Payload) (*Rendered, error) {
	if prev == nil {
		prev = &Rendered{}
	}
	if diff == nil {
		return prev, nil
	}

	next := &Rendered{
		Root:       MergeNode(prev.Root, diff.Root),
		Components: prev.Components,
		Title:      prev.Title,
	}
	if diff.Title != nil {
		next.Title = *diff.Title
	}
	if diff.Components != nil {
		comps, err := MergeComponents(prev.Components, diff.Components)
		if err != nil {
			return nil, err
		}
		next.Components = comps
	}
	return next, nil
}

// MergeComponents resolves every incoming entry against the old table and
// returns the new table. Entries of old that are not in incoming are kept.
// Every entry of the result carries its own statics.
func MergeComponents(old, incoming Components) (Components, error) {
	r := &resolver{
		old:      old,
		incoming: incoming,
		cache:    make(map[int]*Node, len(incoming)),
		visiting: make(map[int]bool),
	}

	out := make(Components, len(old)+len(incoming))
	for cid, n := range old {
		out[cid] = n
	}
	for _, cid := range incoming.IDs() {
		n, err := r.resolve(cid)
		if err != nil {
			return nil, err
		}
		out[cid] = n
	}
	return out, nil
}

type resolver struct {
	old      Components
	incoming Components
	cache    map[int]*Node
	visiting map[int]bool
}

func (r *resolver) resolve(cid int) (*Node, error) {
	if n, ok := r.cache[cid]; ok {
		return n, nil
	}
	path := joinPath(KeyComponents, strconv.Itoa(cid))
	if r.visiting[cid] {
		return nil, &DecodeError{Path: path, Err: ErrComponentCycle}
	}
	cdiff, ok := r.incoming[cid]
	if !ok {
		return nil, &DecodeError{Path: path, Err: ErrMissingComponent}
	}

	r.visiting[cid] = true
	defer delete(r.visiting, cid)

	var resolved *Node
	switch ref := cdiff.Statics; {
	case ref.IsRef() && ref.Ref() > 0:
		base, err := r.resolve(ref.Ref())
		if err != nil {
			return nil, err
		}
		resolved = MergeNode(base, withoutStatics(cdiff))
	case ref.IsRef() && ref.Ref() < 0:
		base, ok := r.old[-ref.Ref()]
		if !ok {
			return nil, &DecodeError{Path: joinPath(path, KeyStatics), Err: ErrMissingComponent}
		}
		resolved = MergeNode(base, withoutStatics(cdiff))
	default:
		resolved = MergeNode(r.old[cid], cdiff)
	}

	r.cache[cid] = resolved
	return resolved, nil
}

func withoutStatics(n *Node) *Node {
	stripped := *n
	stripped.Statics = Statics{}
	return &stripped
}
