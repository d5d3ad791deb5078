package yamldoc

import (
	"math"
	"strconv"
	"strings"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindSequence
	KindMapping
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindSequence:
		return "sequence"
	case KindMapping:
		return "mapping"
	default:
		return "unknown"
	}
}

// Value is a YAML node reduced to the variants a clash config can hold.
// The zero Value is Null.
type Value struct {
	kind Kind
	// scalar holds the literal for bool, number and string values. Numbers
	// keep their YAML spelling so a load/save cycle never rewrites them.
	scalar string
	float  bool
	seq    []Value
	m      *Mapping
}

func Null() Value { return Value{} }

func Bool(b bool) Value {
	return Value{kind: KindBool, scalar: strconv.FormatBool(b)}
}

func Int(i int64) Value {
	return Value{kind: KindNumber, scalar: strconv.FormatInt(i, 10)}
}

func Float(f float64) Value {
	var lit string
	switch {
	case math.IsInf(f, 1):
		lit = ".inf"
	case math.IsInf(f, -1):
		lit = "-.inf"
	case math.IsNaN(f):
		lit = ".nan"
	default:
		lit = strconv.FormatFloat(f, 'g', -1, 64)
		if !strings.ContainsAny(lit, ".eE") {
			lit += ".0"
		}
	}
	return Value{kind: KindNumber, scalar: lit, float: true}
}

func String(s string) Value {
	return Value{kind: KindString, scalar: s}
}

// Seq returns a sequence holding items. The slice is copied.
func Seq(items ...Value) Value {
	return Value{kind: KindSequence, seq: append([]Value{}, items...)}
}

// Map wraps m as a Value. A nil m is treated as an empty mapping.
func Map(m *Mapping) Value {
	if m == nil {
		m = NewMapping()
	}
	return Value{kind: KindMapping, m: m}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	b, err := strconv.ParseBool(v.scalar)
	return b, err == nil
}

// AsInt returns the number as an integer. Floats with a fractional part
// are rejected.
func (v Value) AsInt() (int64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	if !v.float {
		if i, err := parseInt(v.scalar); err == nil {
			return i, true
		}
	}
	f, ok := v.AsFloat()
	if !ok || f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int64(f), true
}

func (v Value) AsFloat() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	if !v.float {
		if i, err := parseInt(v.scalar); err == nil {
			return float64(i), true
		}
	}
	f, err := parseFloat(v.scalar)
	return f, err == nil
}

func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.scalar, true
}

// AsSeq returns the items of a sequence. The returned slice must not be modified.
func (v Value) AsSeq() ([]Value, bool) {
	if v.kind != KindSequence {
		return nil, false
	}
	return v.seq, true
}

func (v Value) AsMapping() (*Mapping, bool) {
	if v.kind != KindMapping {
		return nil, false
	}
	return v.m, true
}

// Literal returns the scalar text of bool, number and string values.
func (v Value) Literal() string {
	if v.kind == KindNull {
		return "null"
	}
	return v.scalar
}

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	switch v.kind {
	case KindSequence:
		items := make([]Value, len(v.seq))
		for i, item := range v.seq {
			items[i] = item.Clone()
		}
		return Value{kind: KindSequence, seq: items}
	case KindMapping:
		return Value{kind: KindMapping, m: v.m.Clone()}
	default:
		return v
	}
}

// Equal reports whether v and o hold the same data. Mapping key order is
// ignored and numbers are compared by value.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		a, _ := v.AsBool()
		b, _ := o.AsBool()
		return a == b
	case KindNumber:
		if !v.float && !o.float {
			a, errA := parseInt(v.scalar)
			b, errB := parseInt(o.scalar)
			if errA == nil && errB == nil {
				return a == b
			}
		}
		a, okA := v.AsFloat()
		b, okB := o.AsFloat()
		if !okA || !okB {
			return v.scalar == o.scalar
		}
		if math.IsNaN(a) && math.IsNaN(b) {
			return true
		}
		return a == b
	case KindString:
		return v.scalar == o.scalar
	case KindSequence:
		if len(v.seq) != len(o.seq) {
			return false
		}
		for i := range v.seq {
			if !v.seq[i].Equal(o.seq[i]) {
				return false
			}
		}
		return true
	case KindMapping:
		return v.m.Equal(o.m)
	}
	return false
}

func parseInt(lit string) (int64, error) {
	return strconv.ParseInt(strings.ReplaceAll(lit, "_", ""), 0, 64)
}

func parseFloat(lit string) (float64, error) {
	switch strings.ToLower(lit) {
	case ".inf", "+.inf":
		return math.Inf(1), nil
	case "-.inf":
		return math.Inf(-1), nil
	case ".nan":
		return math.NaN(), nil
	}
	return strconv.ParseFloat(strings.ReplaceAll(lit, "_", ""), 64)
}
