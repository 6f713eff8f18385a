package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	// PlaceholderValue replaces leaf values in generalized key paths
	PlaceholderValue = "{STRING}"
	// WildcardIndex replaces every array index in generalized key paths
	WildcardIndex = "[]"
)

// ValueNode is the recursive content model behind every Unit.
// The set of variants is closed: Leaf, Fields and Array.
type ValueNode interface {
	// NodeName returns the grammar production name of the node
	NodeName() string
	isValueNode()
}

// Leaf is a named literal value such as an identifier or a string literal
type Leaf struct {
	Name  string
	Value string
}

// Fields is a named node with ordered, named children. Child names are
// unique within one Fields node.
type Fields struct {
	Name     string
	Children []ValueNode
}

// Array is a named node whose elements are addressed by position
type Array struct {
	Name     string
	Elements []ValueNode
}

func (l Leaf) NodeName() string   { return l.Name }
func (f Fields) NodeName() string { return f.Name }
func (a Array) NodeName() string  { return a.Name }

func (Leaf) isValueNode()   {}
func (Fields) isValueNode() {}
func (Array) isValueNode()  {}

// Keys flattens a node into its dotted key paths. The first key is always
// the node's own name.
func Keys(node ValueNode) []string {
	switch n := node.(type) {
	case Leaf:
		return []string{n.Name, n.Name + "." + n.Value}
	case Fields:
		keys := []string{n.Name}
		for _, child := range n.Children {
			for _, k := range Keys(child) {
				keys = append(keys, n.Name+"."+k)
			}
		}
		return keys
	case Array:
		keys := []string{n.Name}
		for i, elem := range n.Elements {
			prefix := n.Name + ".[" + strconv.Itoa(i) + "]."
			for _, k := range Keys(elem) {
				keys = append(keys, prefix+k)
			}
		}
		return keys
	case nil:
		return nil
	default:
		panic(fmt.Sprintf("types: unknown value node %T", node))
	}
}

// GeneralizedKeys returns the sorted, deduplicated shapes of a node: leaf
// values become PlaceholderValue and array indices become WildcardIndex.
func GeneralizedKeys(node ValueNode) []string {
	seen := make(map[string]struct{})
	for _, k := range generalize(node) {
		seen[k] = struct{}{}
	}

	shapes := make([]string, 0, len(seen))
	for k := range seen {
		shapes = append(shapes, k)
	}
	sort.Strings(shapes)
	return shapes
}

func generalize(node ValueNode) []string {
	switch n := node.(type) {
	case Leaf:
		return []string{n.Name, n.Name + "." + PlaceholderValue}
	case Fields:
		keys := []string{n.Name}
		for _, child := range n.Children {
			for _, k := range generalize(child) {
				keys = append(keys, n.Name+"."+k)
			}
		}
		return keys
	case Array:
		keys := []string{n.Name}
		for _, elem := range n.Elements {
			for _, k := range generalize(elem) {
				keys = append(keys, n.Name+"."+WildcardIndex+"."+k)
			}
		}
		return keys
	case nil:
		return nil
	default:
		panic(fmt.Sprintf("types: unknown value node %T", node))
	}
}

// LeafValues returns every leaf value of a node in document order
func LeafValues(node ValueNode) []string {
	switch n := node.(type) {
	case Leaf:
		return []string{n.Value}
	case Fields:
		var values []string
		for _, child := range n.Children {
			values = append(values, LeafValues(child)...)
		}
		return values
	case Array:
		var values []string
		for _, elem := range n.Elements {
			values = append(values, LeafValues(elem)...)
		}
		return values
	default:
		return nil
	}
}

// JSON returns the JSON projection of a node: a Leaf is its string value,
// Fields is an object keyed by child name and an Array is a list.
func JSON(node ValueNode) any {
	switch n := node.(type) {
	case Leaf:
		return n.Value
	case Fields:
		obj := &orderedObject{}
		for _, child := range n.Children {
			obj.set(child.NodeName(), JSON(child))
		}
		return obj
	case Array:
		list := make([]any, 0, len(n.Elements))
		for _, elem := range n.Elements {
			list = append(list, elementJSON(elem))
		}
		return list
	default:
		return nil
	}
}

// elementJSON keeps an array element's name so the projection can be
// parsed back into the same tree.
func elementJSON(node ValueNode) any {
	obj := &orderedObject{}
	obj.set(node.NodeName(), JSON(node))
	return obj
}

// MarshalJSON encodes the leaf as {name: value}
func (l Leaf) MarshalJSON() ([]byte, error) { return json.Marshal(elementJSON(l)) }

// MarshalJSON encodes the node as {name: {child: ...}}
func (f Fields) MarshalJSON() ([]byte, error) { return json.Marshal(elementJSON(f)) }

// MarshalJSON encodes the node as {name: [...]}
func (a Array) MarshalJSON() ([]byte, error) { return json.Marshal(elementJSON(a)) }

// FromJSON rebuilds a node from its JSON projection. Strings become Leaf,
// objects become Fields and lists become Array. Lists must hold single-key
// objects as produced by JSON.
func FromJSON(name string, value any) (ValueNode, error) {
	switch v := value.(type) {
	case string:
		return Leaf{Name: name, Value: v}, nil
	case *orderedObject:
		children := make([]ValueNode, 0, len(v.keys))
		for i, key := range v.keys {
			child, err := FromJSON(key, v.values[i])
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		return Fields{Name: name, Children: children}, nil
	case map[string]any:
		// encoding/json loses key order; fall back to sorted keys
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		obj := &orderedObject{}
		for _, k := range keys {
			obj.set(k, v[k])
		}
		return FromJSON(name, obj)
	case []any:
		elems := make([]ValueNode, 0, len(v))
		for i, item := range v {
			key, inner, ok := singleKey(item)
			if !ok {
				return nil, fmt.Errorf("array %q element %d: expected single-key object", name, i)
			}
			elem, err := FromJSON(key, inner)
			if err != nil {
				return nil, err
			}
			elems = append(elems, elem)
		}
		return Array{Name: name, Elements: elems}, nil
	default:
		return nil, fmt.Errorf("node %q: unsupported JSON value %T", name, value)
	}
}

func singleKey(item any) (string, any, bool) {
	switch obj := item.(type) {
	case *orderedObject:
		if len(obj.keys) == 1 {
			return obj.keys[0], obj.values[0], true
		}
	case map[string]any:
		if len(obj) == 1 {
			for k, v := range obj {
				return k, v, true
			}
		}
	}
	return "", nil, false
}

// ParseNodeJSON decodes the output of MarshalJSON back into a node
func ParseNodeJSON(data []byte) (ValueNode, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	value, err := decodeOrdered(dec)
	if err != nil {
		return nil, err
	}
	obj, ok := value.(*orderedObject)
	if !ok || len(obj.keys) != 1 {
		return nil, fmt.Errorf("expected single-key object at top level")
	}
	return FromJSON(obj.keys[0], obj.values[0])
}

// orderedObject is a JSON object that keeps insertion order, so Fields
// children project in document order.
type orderedObject struct {
	keys   []string
	values []any
}

func (o *orderedObject) set(key string, value any) {
	for i, k := range o.keys {
		if k == key {
			o.values[i] = value
			return
		}
	}
	o.keys = append(o.keys, key)
	o.values = append(o.values, value)
}

func (o *orderedObject) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := json.Marshal(o.values[i])
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func decodeOrdered(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj := &orderedObject{}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("invalid object key %v", keyTok)
				}
				value, err := decodeOrdered(dec)
				if err != nil {
					return nil, err
				}
				obj.set(key, value)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return obj, nil
		case '[':
			list := make([]any, 0)
			for dec.More() {
				value, err := decodeOrdered(dec)
				if err != nil {
					return nil, err
				}
				list = append(list, value)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return list, nil
		}
		return nil, fmt.Errorf("unexpected delimiter %v", t)
	case string:
		return t, nil
	default:
		return nil, fmt.Errorf("unsupported JSON token %v", tok)
	}
}

// SearchStrategy selects which text of a Unit is indexed as its searchable
// content.
type SearchStrategy string

const (
	// StrategyLeafText indexes the leaf values joined by spaces
	StrategyLeafText SearchStrategy = "leaf-text"
	// StrategyKeyPaths indexes every key path, one per line
	StrategyKeyPaths SearchStrategy = "key-paths"
)

// SearchableText derives the searchable content of a node
func SearchableText(node ValueNode, strategy SearchStrategy) string {
	if strategy == StrategyKeyPaths {
		return strings.Join(Keys(node), "\n")
	}
	return strings.Join(LeafValues(node), " ")
}
