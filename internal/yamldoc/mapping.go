package yamldoc

// Mapping is a string-keyed YAML mapping that remembers insertion order.
// A nil *Mapping reads as empty.
type Mapping struct {
	keys   []string
	values map[string]Value
}

func NewMapping() *Mapping {
	return &Mapping{values: map[string]Value{}}
}

// MappingOf builds a mapping from alternating key/value pairs, in order.
func MappingOf(pairs ...any) *Mapping {
	if len(pairs)%2 != 0 {
		panic("yamldoc: MappingOf needs key/value pairs")
	}
	m := NewMapping()
	for i := 0; i < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			panic("yamldoc: MappingOf key is not a string")
		}
		m.Set(key, From(pairs[i+1]))
	}
	return m
}

func (m *Mapping) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Keys returns the keys in insertion order.
func (m *Mapping) Keys() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.keys...)
}

func (m *Mapping) Get(key string) (Value, bool) {
	if m == nil {
		return Value{}, false
	}
	v, ok := m.values[key]
	return v, ok
}

func (m *Mapping) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Set stores v under key. An existing key keeps its position.
func (m *Mapping) Set(key string, v Value) {
	if m.values == nil {
		m.values = map[string]Value{}
	}
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = v
}

func (m *Mapping) Delete(key string) {
	if m == nil {
		return
	}
	if _, ok := m.values[key]; !ok {
		return
	}
	delete(m.values, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// Lookup walks nested mappings along path.
func (m *Mapping) Lookup(path ...string) (Value, bool) {
	cur := m
	for i, key := range path {
		v, ok := cur.Get(key)
		if !ok {
			return Value{}, false
		}
		if i == len(path)-1 {
			return v, true
		}
		if cur, ok = v.AsMapping(); !ok {
			return Value{}, false
		}
	}
	return Map(m), true
}

// Clone returns a deep copy. Cloning nil yields an empty mapping.
func (m *Mapping) Clone() *Mapping {
	out := NewMapping()
	if m == nil {
		return out
	}
	out.keys = append(make([]string, 0, len(m.keys)), m.keys...)
	for k, v := range m.values {
		out.values[k] = v.Clone()
	}
	return out
}

// Equal compares key/value sets, ignoring key order.
func (m *Mapping) Equal(o *Mapping) bool {
	if m.Len() != o.Len() {
		return false
	}
	for _, key := range m.Keys() {
		a, _ := m.Get(key)
		b, ok := o.Get(key)
		if !ok || !a.Equal(b) {
			return false
		}
	}
	return true
}
