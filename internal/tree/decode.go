package tree

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Wire keys.
const (
	KeyStatics    = "s"
	KeyDynamics   = "d"
	KeyTemplates  = "p"
	KeyComponents = "c"
	KeyEvents     = "e"
	KeyReply      = "r"
	KeyTitle      = "t"
)

type position uint8

const (
	positionRoot position = iota
	positionComponent
	positionNested
)

// Decode parses one wire message into the typed model. Nodes that carry a
// statics list are complete and must interleave with their dynamics; nodes
// without statics are partial updates and are checked when rendered.
func Decode(data []byte) (*Payload, error) {
	fields, err := decodeObject(data, "")
	if err != nil {
		return nil, err
	}

	p := &Payload{}
	if raw, ok := fields[KeyComponents]; ok {
		p.Components, err = decodeComponents(raw)
		if err != nil {
			return nil, err
		}
		delete(fields, KeyComponents)
	}
	if raw, ok := fields[KeyTitle]; ok {
		var title string
		if err := json.Unmarshal(raw, &title); err != nil {
			return nil, shapeError(KeyTitle, "title must be a string")
		}
		p.Title = &title
		delete(fields, KeyTitle)
	}
	if raw, ok := fields[KeyEvents]; ok {
		p.Events = append(json.RawMessage(nil), raw...)
		delete(fields, KeyEvents)
	}
	if raw, ok := fields[KeyReply]; ok {
		p.Reply = append(json.RawMessage(nil), raw...)
		delete(fields, KeyReply)
	}

	p.Root, err = decodeNode(fields, "", positionRoot)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func decodeObject(raw []byte, path string) (map[string]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, shapeError(path, "expected an object")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, &DecodeError{Path: path, Err: fmt.Errorf("%w: %v", ErrShape, err)}
	}
	return fields, nil
}

func decodeComponents(raw json.RawMessage) (Components, error) {
	fields, err := decodeObject(raw, KeyComponents)
	if err != nil {
		return nil, err
	}
	comps := make(Components, len(fields))
	for _, key := range sortedKeys(fields) {
		path := joinPath(KeyComponents, key)
		cid, err := strconv.Atoi(key)
		if err != nil || cid <= 0 || strconv.Itoa(cid) != key {
			return nil, shapeError(path, "component id must be a positive integer")
		}
		body, err := decodeObject(fields[key], path)
		if err != nil {
			return nil, err
		}
		comps[cid], err = decodeNode(body, path, positionComponent)
		if err != nil {
			return nil, err
		}
	}
	return comps, nil
}

func decodeNode(fields map[string]json.RawMessage, path string, pos position) (*Node, error) {
	n := &Node{}
	for _, key := range sortedKeys(fields) {
		raw := fields[key]
		keyPath := joinPath(path, key)
		switch key {
		case KeyStatics:
			s, err := decodeStatics(raw, keyPath, pos)
			if err != nil {
				return nil, err
			}
			n.Statics = s
		case KeyDynamics:
			rows, err := decodeRows(raw, keyPath)
			if err != nil {
				return nil, err
			}
			n.List = true
			n.Dynamics = rows
		case KeyTemplates:
			templates, err := decodeTemplates(raw, keyPath)
			if err != nil {
				return nil, err
			}
			n.Templates = templates
		default:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || strconv.Itoa(idx) != key {
				// Keys this client does not interpret.
				continue
			}
			v, err := decodeValue(raw, keyPath)
			if err != nil {
				return nil, err
			}
			if n.Slots == nil {
				n.Slots = make(map[int]Value)
			}
			n.Slots[idx] = v
		}
	}
	if err := checkAlignment(n, path); err != nil {
		return nil, err
	}
	return n, nil
}

func decodeStatics(raw json.RawMessage, path string, pos position) (Statics, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var parts []string
		if err := json.Unmarshal(trimmed, &parts); err != nil {
			return Statics{}, shapeError(path, "statics must be strings")
		}
		return ListStatics(parts...), nil
	}

	ref, err := strconv.Atoi(string(trimmed))
	if err != nil {
		return Statics{}, shapeError(path, "statics must be a list of strings or an integer")
	}
	switch pos {
	case positionRoot:
		return Statics{}, shapeError(path, "root statics cannot be a reference")
	case positionComponent:
		if ref == 0 {
			return Statics{}, shapeError(path, "component cross-reference cannot be zero")
		}
	case positionNested:
		if ref < 0 {
			return Statics{}, shapeError(path, "template reference cannot be negative")
		}
	}
	return RefStatics(ref), nil
}

func decodeRows(raw json.RawMessage, path string) ([][]Value, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, shapeError(path, "dynamics must be a list of lists")
	}
	var rawRows []json.RawMessage
	if err := json.Unmarshal(trimmed, &rawRows); err != nil {
		return nil, shapeError(path, "dynamics must be a list of lists")
	}

	rows := make([][]Value, len(rawRows))
	for i, rawRow := range rawRows {
		rowPath := joinPath(path, strconv.Itoa(i))
		rowBytes := bytes.TrimSpace(rawRow)
		if len(rowBytes) == 0 || rowBytes[0] != '[' {
			return nil, shapeError(rowPath, "row must be a list")
		}
		var rawValues []json.RawMessage
		if err := json.Unmarshal(rowBytes, &rawValues); err != nil {
			return nil, shapeError(rowPath, "row must be a list")
		}
		rows[i] = make([]Value, len(rawValues))
		for j, rawValue := range rawValues {
			v, err := decodeValue(rawValue, joinPath(rowPath, strconv.Itoa(j)))
			if err != nil {
				return nil, err
			}
			rows[i][j] = v
		}
	}
	return rows, nil
}

func decodeTemplates(raw json.RawMessage, path string) (map[int][]string, error) {
	fields, err := decodeObject(raw, path)
	if err != nil {
		return nil, err
	}
	templates := make(map[int][]string, len(fields))
	for _, key := range sortedKeys(fields) {
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 {
			return nil, shapeError(joinPath(path, key), "template key must be a non-negative integer")
		}
		var parts []string
		if err := json.Unmarshal(fields[key], &parts); err != nil {
			return nil, shapeError(joinPath(path, key), "template must be a list of strings")
		}
		templates[idx] = parts
	}
	return templates, nil
}

func decodeValue(raw json.RawMessage, path string) (Value, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, shapeError(path, "empty value")
	}
	switch c := trimmed[0]; {
	case c == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, shapeError(path, "invalid string")
		}
		return Text(s), nil
	case c == '{':
		fields, err := decodeObject(trimmed, path)
		if err != nil {
			return nil, err
		}
		return decodeNode(fields, path, positionNested)
	case c == '-' || (c >= '0' && c <= '9'):
		cid, err := strconv.Atoi(string(trimmed))
		if err != nil || cid <= 0 {
			return nil, shapeError(path, "component reference must be a positive integer")
		}
		return ComponentRef(cid), nil
	default:
		return nil, shapeError(path, "dynamic must be a string, integer or object")
	}
}

func checkAlignment(n *Node, path string) error {
	if n.List {
		want := -1
		if n.Statics.IsList() {
			want = len(n.Statics.parts) - 1
		} else if len(n.Dynamics) > 0 {
			want = len(n.Dynamics[0])
		}
		for i, row := range n.Dynamics {
			if len(row) != want {
				return misaligned(joinPath(path, KeyDynamics+"."+strconv.Itoa(i)),
					"row has %d dynamics, want %d", len(row), want)
			}
		}
		return nil
	}

	if !n.Statics.IsList() {
		return nil
	}
	for i := 0; i < len(n.Slots); i++ {
		if _, ok := n.Slots[i]; !ok {
			return misaligned(path, "dynamic %d is missing", i)
		}
	}
	if len(n.Statics.parts) != len(n.Slots)+1 {
		return misaligned(path, "%d statics for %d dynamics", len(n.Statics.parts), len(n.Slots))
	}
	return nil
}

func sortedKeys(fields map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
