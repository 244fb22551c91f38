package vm

import (
	"math"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Value: dynamically tagged runtime value
// ---------------------------------------------------------------------------

// Kind identifies the dynamic type of a Value.
type Kind uint8

const (
	KindInt Kind = iota
	KindFloat
	KindString
	KindBool
	KindArray
	KindMap
)

var kindNames = [...]string{
	KindInt:    "int",
	KindFloat:  "float",
	KindString: "string",
	KindBool:   "bool",
	KindArray:  "array",
	KindMap:    "map",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Value is a runtime value. The set of implementations is closed: Int, Float,
// String, Bool, *Array and *Map.
type Value interface {
	Kind() Kind
	// Repr returns the literal form used inside collections and listings.
	Repr() string
	value()
}

// Int is a 64-bit integer.
type Int int64

// Float is a 64-bit float.
type Float float64

// String is an immutable string.
type String string

// Bool is a boolean.
type Bool bool

func (Int) Kind() Kind    { return KindInt }
func (Float) Kind() Kind  { return KindFloat }
func (String) Kind() Kind { return KindString }
func (Bool) Kind() Kind   { return KindBool }

func (Int) value()    {}
func (Float) value()  {}
func (String) value() {}
func (Bool) value()   {}

func (i Int) Repr() string    { return strconv.FormatInt(int64(i), 10) }
func (f Float) Repr() string  { return formatFloat(float64(f)) }
func (s String) Repr() string { return strconv.Quote(string(s)) }
func (b Bool) Repr() string   { return strconv.FormatBool(bool(b)) }

// formatFloat always keeps a decimal point or exponent so floats stay
// distinguishable from integers when printed or persisted.
func formatFloat(f float64) string {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// ---------------------------------------------------------------------------
// Array: fixed-size, slot-initialized to empty
// ---------------------------------------------------------------------------

// Array is a mutable fixed-length sequence. A nil slot is empty.
type Array struct {
	slots []Value
}

// NewArray allocates an array of n empty slots.
func NewArray(n int) *Array {
	return &Array{slots: make([]Value, n)}
}

func (*Array) Kind() Kind { return KindArray }
func (*Array) value()     {}

// Len returns the slot count.
func (a *Array) Len() int { return len(a.slots) }

// At returns the slot at i, or nil if it is empty. i must be in range.
func (a *Array) At(i int) Value { return a.slots[i] }

// Set writes the slot at i. i must be in range.
func (a *Array) Set(i int, v Value) { a.slots[i] = v }

func (a *Array) Repr() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range a.slots {
		if i > 0 {
			b.WriteString(", ")
		}
		if v == nil {
			b.WriteString("<empty>")
		} else {
			b.WriteString(v.Repr())
		}
	}
	b.WriteByte(']')
	return b.String()
}

// ---------------------------------------------------------------------------
// Map: insertion-ordered associative array with value-equality keys
// ---------------------------------------------------------------------------

// Map is a mutable associative array. Keys are scalar values; iteration order
// is insertion order.
type Map struct {
	keys    []Value
	entries map[Value]Value
}

// NewMap allocates an empty map.
func NewMap() *Map {
	return &Map{entries: make(map[Value]Value)}
}

func (*Map) Kind() Kind { return KindMap }
func (*Map) value()     {}

// Len returns the number of entries.
func (m *Map) Len() int { return len(m.keys) }

// Get returns the value stored under key.
func (m *Map) Get(key Value) (Value, bool) {
	v, ok := m.entries[mapKey(key)]
	return v, ok
}

// Has reports whether key is present.
func (m *Map) Has(key Value) bool {
	_, ok := m.entries[mapKey(key)]
	return ok
}

// Set inserts or overwrites key.
func (m *Map) Set(key, v Value) {
	k := mapKey(key)
	if _, ok := m.entries[k]; !ok {
		m.keys = append(m.keys, k)
	}
	m.entries[k] = v
}

// Keys returns the keys in insertion order.
func (m *Map) Keys() []Value {
	return append([]Value(nil), m.keys...)
}

func (m *Map) Repr() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(k.Repr())
		b.WriteString(": ")
		b.WriteString(m.entries[k].Repr())
	}
	b.WriteByte('}')
	return b.String()
}

// ValidKey reports whether v can be used as a map key.
func ValidKey(v Value) bool {
	switch v.(type) {
	case Int, Float, String, Bool:
		return true
	}
	return false
}

// mapKey folds integral floats onto integers so that 1 and 1.0 address the
// same entry, matching Equal.
func mapKey(v Value) Value {
	if f, ok := v.(Float); ok {
		if float64(f) == math.Trunc(float64(f)) && math.Abs(float64(f)) < 1<<53 {
			return Int(int64(f))
		}
	}
	return v
}

// ---------------------------------------------------------------------------
// Value semantics shared by opcodes
// ---------------------------------------------------------------------------

// Display returns the form written by PRINT: strings unquoted, everything
// else in literal form.
func Display(v Value) string {
	if s, ok := v.(String); ok {
		return string(s)
	}
	return v.Repr()
}

// Truthy reports the truth value used by JUMP_IF_FALSE.
func Truthy(v Value) bool {
	switch x := v.(type) {
	case Bool:
		return bool(x)
	case Int:
		return x != 0
	case Float:
		return x != 0
	case String:
		return x != ""
	case *Array:
		return x.Len() > 0
	case *Map:
		return x.Len() > 0
	}
	return false
}

// Equal is structural value equality. Integers and floats compare by numeric
// value; booleans never equal numbers.
func Equal(a, b Value) bool {
	if x, ok := a.(Int); ok {
		if y, ok := b.(Int); ok {
			return x == y
		}
	}
	if af, bf, ok := numericPair(a, b); ok {
		return af == bf
	}
	switch x := a.(type) {
	case String:
		y, ok := b.(String)
		return ok && x == y
	case Bool:
		y, ok := b.(Bool)
		return ok && x == y
	case *Array:
		y, ok := b.(*Array)
		if !ok || x.Len() != y.Len() {
			return false
		}
		for i := range x.slots {
			xv, yv := x.slots[i], y.slots[i]
			if xv == nil || yv == nil {
				if xv != yv {
					return false
				}
				continue
			}
			if !Equal(xv, yv) {
				return false
			}
		}
		return true
	case *Map:
		y, ok := b.(*Map)
		if !ok || x.Len() != y.Len() {
			return false
		}
		for _, k := range x.keys {
			yv, ok := y.entries[k]
			if !ok || !Equal(x.entries[k], yv) {
				return false
			}
		}
		return true
	}
	return false
}

// IsNumber reports whether v is an Int or a Float.
func IsNumber(v Value) bool {
	switch v.(type) {
	case Int, Float:
		return true
	}
	return false
}

// numericPair converts two numbers to float64 for comparison.
func numericPair(a, b Value) (float64, float64, bool) {
	af, ok := toFloat(a)
	if !ok {
		return 0, 0, false
	}
	bf, ok := toFloat(b)
	if !ok {
		return 0, 0, false
	}
	return af, bf, true
}

func toFloat(v Value) (float64, bool) {
	switch x := v.(type) {
	case Int:
		return float64(x), true
	case Float:
		return float64(x), true
	}
	return 0, false
}
