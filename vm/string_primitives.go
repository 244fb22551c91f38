package vm

import (
	"strings"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// String primitives
//
// Lengths and offsets count runes, not bytes.
// ---------------------------------------------------------------------------

func (v *VM) stringLength() error {
	val, err := v.pop()
	if err != nil {
		return err
	}
	s, ok := val.(String)
	if !ok {
		return typeMismatch(OpStringLength, "a string", val)
	}
	v.push(Int(utf8.RuneCountInString(string(s))))
	return nil
}

func (v *VM) stringConcat() error {
	vals, err := v.popN(OpStringConcat, 2)
	if err != nil {
		return err
	}
	a, ok := vals[0].(String)
	if !ok {
		return typeMismatch(OpStringConcat, "strings", vals[0])
	}
	b, ok := vals[1].(String)
	if !ok {
		return typeMismatch(OpStringConcat, "strings", vals[1])
	}
	v.push(a + b)
	return nil
}

// stringSubstring: string start length -> substring.
func (v *VM) stringSubstring() error {
	vals, err := v.popN(OpStringSubstring, 3)
	if err != nil {
		return err
	}
	s, ok := vals[0].(String)
	if !ok {
		return typeMismatch(OpStringSubstring, "a string", vals[0])
	}
	start, ok := vals[1].(Int)
	if !ok {
		return typeMismatch(OpStringSubstring, "an integer start", vals[1])
	}
	length, ok := vals[2].(Int)
	if !ok {
		return typeMismatch(OpStringSubstring, "an integer length", vals[2])
	}

	runes := []rune(string(s))
	n := Int(len(runes))
	if start < 0 || start > n {
		return faultf(ErrIndexOutOfRange, "substring start %d, length %d", start, n)
	}
	if length < 0 || length > n-start {
		return faultf(ErrIndexOutOfRange, "substring start %d length %d, string length %d", start, length, n)
	}
	v.push(String(runes[start : start+length]))
	return nil
}

// stringIndexOf: haystack needle -> rune index of first match, or -1.
func (v *VM) stringIndexOf() error {
	vals, err := v.popN(OpStringIndexOf, 2)
	if err != nil {
		return err
	}
	hay, ok := vals[0].(String)
	if !ok {
		return typeMismatch(OpStringIndexOf, "strings", vals[0])
	}
	needle, ok := vals[1].(String)
	if !ok {
		return typeMismatch(OpStringIndexOf, "strings", vals[1])
	}
	i := strings.Index(string(hay), string(needle))
	if i < 0 {
		v.push(Int(-1))
		return nil
	}
	v.push(Int(utf8.RuneCountInString(string(hay[:i]))))
	return nil
}
