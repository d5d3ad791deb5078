package yamldoc

import (
	"errors"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// From converts plain Go data into a Value. Maps are ordered by key.
// It panics on types that have no YAML counterpart.
func From(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case *Mapping:
		return Map(t)
	case bool:
		return Bool(t)
	case int:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case uint16:
		return Int(int64(t))
	case float32:
		return Float(float64(t))
	case float64:
		return Float(t)
	case string:
		return String(t)
	case []string:
		items := make([]Value, len(t))
		for i, s := range t {
			items[i] = String(s)
		}
		return Value{kind: KindSequence, seq: items}
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = From(item)
		}
		return Value{kind: KindSequence, seq: items}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		m := NewMapping()
		for _, k := range keys {
			m.Set(k, From(t[k]))
		}
		return Map(m)
	default:
		panic(fmt.Sprintf("yamldoc: unsupported type %T", x))
	}
}

// Alias expansion limits, the same as yaml.v3 applies when decoding into
// Go values: past a few hundred thousand nodes, the share of nodes reached
// through aliases may shrink from 99% down to 10%.
const (
	aliasRatioRangeLow  = 400000
	aliasRatioRangeHigh = 4000000
	aliasRatioRange     = float64(aliasRatioRangeHigh - aliasRatioRangeLow)
)

var errExcessiveAliasing = errors.New("document contains excessive aliasing")

func allowedAliasRatio(decodeCount int) float64 {
	switch {
	case decodeCount <= aliasRatioRangeLow:
		return 0.99
	case decodeCount >= aliasRatioRangeHigh:
		return 0.10
	default:
		return 0.99 - 0.89*(float64(decodeCount-aliasRatioRangeLow)/aliasRatioRange)
	}
}

// decoder converts a yaml.v3 node graph into Values. Aliases are expanded
// and "<<" merge keys are folded into the enclosing mapping. Anchors that
// contain themselves and alias bombs are rejected.
type decoder struct {
	// expanding holds the anchored nodes on the current path.
	expanding   map[*yaml.Node]bool
	decodeCount int
	aliasCount  int
	aliasDepth  int
}

func fromNode(n *yaml.Node) (Value, error) {
	d := &decoder{expanding: map[*yaml.Node]bool{}}
	return d.node(n)
}

func (d *decoder) node(n *yaml.Node) (Value, error) {
	d.decodeCount++
	if d.aliasDepth > 0 {
		d.aliasCount++
	}
	if d.aliasCount > 100 && d.decodeCount > 1000 &&
		float64(d.aliasCount)/float64(d.decodeCount) > allowedAliasRatio(d.decodeCount) {
		return Value{}, errExcessiveAliasing
	}
	if n.Anchor != "" {
		if d.expanding[n] {
			return Value{}, fmt.Errorf("line %d: anchor %q contains itself", n.Line, n.Anchor)
		}
		d.expanding[n] = true
		defer delete(d.expanding, n)
	}

	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return Null(), nil
		}
		return d.node(n.Content[0])
	case yaml.AliasNode:
		if n.Alias == nil {
			return Value{}, fmt.Errorf("line %d: unresolved alias %q", n.Line, n.Value)
		}
		if d.expanding[n.Alias] {
			return Value{}, fmt.Errorf("line %d: anchor %q contains itself", n.Line, n.Value)
		}
		d.aliasDepth++
		defer func() { d.aliasDepth-- }()
		return d.node(n.Alias)
	case yaml.ScalarNode:
		return fromScalar(n)
	case yaml.SequenceNode:
		items := make([]Value, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := d.node(c)
			if err != nil {
				return Value{}, err
			}
			items = append(items, v)
		}
		return Value{kind: KindSequence, seq: items}, nil
	case yaml.MappingNode:
		m, err := d.mapping(n)
		if err != nil {
			return Value{}, err
		}
		return Map(m), nil
	default:
		return Value{}, fmt.Errorf("line %d: unsupported node kind %d", n.Line, n.Kind)
	}
}

func fromScalar(n *yaml.Node) (Value, error) {
	switch n.ShortTag() {
	case "!!null":
		return Null(), nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return Value{}, fmt.Errorf("line %d: %w", n.Line, err)
		}
		return Bool(b), nil
	case "!!int":
		return Value{kind: KindNumber, scalar: n.Value}, nil
	case "!!float":
		return Value{kind: KindNumber, scalar: n.Value, float: true}, nil
	default:
		// !!str, !!timestamp, !!binary and custom tags are kept as text.
		return String(n.Value), nil
	}
}

func (d *decoder) mapping(n *yaml.Node) (*Mapping, error) {
	m := NewMapping()
	var merged []*Mapping
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		if k.Kind == yaml.ScalarNode && k.ShortTag() == "!!merge" {
			srcs, err := d.mergeSources(v)
			if err != nil {
				return nil, err
			}
			merged = append(merged, srcs...)
			continue
		}
		if k.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("line %d: mapping key must be a scalar", k.Line)
		}
		val, err := d.node(v)
		if err != nil {
			return nil, err
		}
		m.Set(k.Value, val)
	}
	// Explicit keys win over merged ones, earlier merge sources over later.
	for _, src := range merged {
		for _, key := range src.Keys() {
			if !m.Has(key) {
				v, _ := src.Get(key)
				m.Set(key, v)
			}
		}
	}
	return m, nil
}

func (d *decoder) mergeSources(n *yaml.Node) ([]*Mapping, error) {
	var nodes []*yaml.Node
	if n.Kind == yaml.SequenceNode {
		nodes = n.Content
	} else {
		nodes = []*yaml.Node{n}
	}
	out := make([]*Mapping, 0, len(nodes))
	for _, c := range nodes {
		v, err := d.node(c)
		if err != nil {
			return nil, err
		}
		m, ok := v.AsMapping()
		if !ok {
			return nil, fmt.Errorf("line %d: merge key value is not a mapping", c.Line)
		}
		out = append(out, m)
	}
	return out, nil
}

func toNode(v Value) *yaml.Node {
	switch v.kind {
	case KindNull:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
	case KindBool:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: v.scalar}
	case KindNumber:
		tag := "!!int"
		if v.float {
			tag = "!!float"
		}
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: v.scalar}
	case KindString:
		// The encoder quotes the text when it would otherwise resolve to
		// another tag, so "true" stays a string.
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v.scalar}
	case KindSequence:
		n := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range v.seq {
			n.Content = append(n.Content, toNode(item))
		}
		return n
	default:
		return mappingNode(v.m)
	}
}

func mappingNode(m *Mapping) *yaml.Node {
	n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, key := range m.Keys() {
		v, _ := m.Get(key)
		n.Content = append(n.Content, keyNode(key), toNode(v))
	}
	return n
}

// keyNode quotes keys that would read back as something other than a
// string, "<<" in particular, which would turn into a merge key.
func keyNode(key string) *yaml.Node {
	k := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}
	var plain yaml.Node
	if err := yaml.Unmarshal([]byte(key), &plain); err != nil || len(plain.Content) != 1 ||
		plain.Content[0].Kind != yaml.ScalarNode || plain.Content[0].ShortTag() != "!!str" || plain.Content[0].Value != key {
		k.Style = yaml.DoubleQuotedStyle
	}
	return k
}
