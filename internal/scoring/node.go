package scoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Node is a decoded JSON value: a Scalar, a Sequence or a Mapping.
type Node interface {
	isNode()
}

// Scalar is a JSON string, number, boolean or null.
type Scalar struct {
	Value any
}

// Sequence is a JSON array.
type Sequence []Node

// Mapping is a JSON object.
type Mapping map[string]Node

func (Scalar) isNode()   {}
func (Sequence) isNode() {}
func (Mapping) isNode()  {}

const (
	keySeparator   = "."
	keyReplacement = "_"
)

// Sanitize duplicates every mapping value whose key contains "." under
// the key with "_" in its place, at every depth. The dotted original is
// kept. A sanitized key that already exists keeps its own value, so
// Sanitize(Sanitize(n)) equals Sanitize(n).
func Sanitize(n Node) Node {
	switch v := n.(type) {
	case Mapping:
		out := make(Mapping, len(v)*2)
		dotted := make([]string, 0)
		for k, child := range v {
			out[k] = Sanitize(child)
			if strings.Contains(k, keySeparator) {
				dotted = append(dotted, k)
			}
		}
		// Sorted so colliding dotted keys resolve the same way every run.
		sort.Strings(dotted)
		for _, k := range dotted {
			clean := strings.ReplaceAll(k, keySeparator, keyReplacement)
			if _, taken := out[clean]; !taken {
				out[clean] = out[k]
			}
		}
		return out
	case Sequence:
		out := make(Sequence, len(v))
		for i, item := range v {
			out[i] = Sanitize(item)
		}
		return out
	default:
		return n
	}
}

// FromAny converts a value produced by encoding/json into a Node.
func FromAny(v any) Node {
	switch t := v.(type) {
	case map[string]any:
		m := make(Mapping, len(t))
		for k, item := range t {
			m[k] = FromAny(item)
		}
		return m
	case []any:
		s := make(Sequence, len(t))
		for i, item := range t {
			s[i] = FromAny(item)
		}
		return s
	default:
		return Scalar{Value: t}
	}
}

// ToAny converts a Node back into plain Go values.
func ToAny(n Node) any {
	switch t := n.(type) {
	case Mapping:
		m := make(map[string]any, len(t))
		for k, item := range t {
			m[k] = ToAny(item)
		}
		return m
	case Sequence:
		s := make([]any, len(t))
		for i, item := range t {
			s[i] = ToAny(item)
		}
		return s
	case Scalar:
		return t.Value
	case nil:
		return nil
	default:
		panic(fmt.Sprintf("scoring: unknown node %T", n))
	}
}

// DecodeNode parses JSON into a Node, keeping numbers as json.Number.
func DecodeNode(data []byte) (Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return FromAny(raw), nil
}

// Lookup walks a path of mapping keys.
func Lookup(n Node, path ...string) (Node, bool) {
	cur := n
	for _, key := range path {
		m, ok := cur.(Mapping)
		if !ok {
			return nil, false
		}
		if cur, ok = m[key]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// String returns the string at path, if any.
func String(n Node, path ...string) (string, bool) {
	found, ok := Lookup(n, path...)
	if !ok {
		return "", false
	}
	s, ok := found.(Scalar)
	if !ok {
		return "", false
	}
	str, ok := s.Value.(string)
	return str, ok
}

// Float returns the number at path, if any.
func Float(n Node, path ...string) (float64, bool) {
	found, ok := Lookup(n, path...)
	if !ok {
		return 0, false
	}
	s, ok := found.(Scalar)
	if !ok {
		return 0, false
	}
	switch num := s.Value.(type) {
	case json.Number:
		f, err := num.Float64()
		return f, err == nil
	case float64:
		return num, true
	default:
		return 0, false
	}
}
