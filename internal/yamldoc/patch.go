package yamldoc

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// PatchFromAssignments turns "dotted.key=value" pairs into a partial
// mapping suitable for DeepMergeOverlay. Values are read as YAML, so
// "tun.enable=true" sets a bool and "dns.nameserver=[1.1.1.1]" a sequence.
// Later assignments to the same path win.
func PatchFromAssignments(assignments []string) (*Mapping, error) {
	patch := NewMapping()
	for _, a := range assignments {
		path, raw, ok := strings.Cut(a, "=")
		if !ok {
			return nil, fmt.Errorf("invalid assignment %q: expected key=value", a)
		}
		keys := strings.Split(strings.TrimSpace(path), ".")
		for _, k := range keys {
			if k == "" {
				return nil, fmt.Errorf("invalid assignment %q: empty key segment", a)
			}
		}
		v, err := parseScalarValue(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid assignment %q: %w", a, err)
		}
		setPath(patch, keys, v)
	}
	return patch, nil
}

func parseScalarValue(raw string) (Value, error) {
	if strings.TrimSpace(raw) == "" {
		return String(""), nil
	}
	var n yaml.Node
	if err := yaml.Unmarshal([]byte(raw), &n); err != nil {
		return Value{}, err
	}
	return fromNode(&n)
}

func setPath(m *Mapping, keys []string, v Value) {
	for _, k := range keys[:len(keys)-1] {
		next, ok := m.Get(k)
		child, isMap := next.AsMapping()
		if !ok || !isMap {
			child = NewMapping()
			m.Set(k, Map(child))
		}
		m = child
	}
	m.Set(keys[len(keys)-1], v)
}
