package vm

import "cmp"

// arith applies ADD, SUB, MUL or DIV. Two integers stay integral (DIV floors);
// any float operand makes the result a float.
func arith(op Opcode, a, b Value) (Value, error) {
	if !IsNumber(a) {
		return nil, typeMismatch(op, "numbers", a)
	}
	if !IsNumber(b) {
		return nil, typeMismatch(op, "numbers", b)
	}

	ai, aInt := a.(Int)
	bi, bInt := b.(Int)
	if aInt && bInt {
		switch op {
		case OpAdd:
			return ai + bi, nil
		case OpSub:
			return ai - bi, nil
		case OpMul:
			return ai * bi, nil
		case OpDiv:
			if bi == 0 {
				return nil, faultf(ErrDivisionByZero, "%d / 0", ai)
			}
			return floorDiv(ai, bi), nil
		}
	}

	af, bf, _ := numericPair(a, b)
	switch op {
	case OpAdd:
		return Float(af + bf), nil
	case OpSub:
		return Float(af - bf), nil
	case OpMul:
		return Float(af * bf), nil
	case OpDiv:
		if bf == 0 {
			return nil, faultf(ErrDivisionByZero, "%s / 0", a.Repr())
		}
		return Float(af / bf), nil
	}
	return nil, faultf(ErrInvalidInstruction, "%s is not arithmetic", op)
}

// floorDiv rounds toward negative infinity.
func floorDiv(a, b Int) Int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// compare applies LT, GT, LE or GE. Both operands must be numbers.
func compare(op Opcode, a, b Value) (bool, error) {
	if !IsNumber(a) {
		return false, typeMismatch(op, "numbers", a)
	}
	if !IsNumber(b) {
		return false, typeMismatch(op, "numbers", b)
	}

	var c int
	ai, aInt := a.(Int)
	bi, bInt := b.(Int)
	if aInt && bInt {
		c = cmp.Compare(ai, bi)
	} else {
		af, bf, _ := numericPair(a, b)
		c = cmp.Compare(af, bf)
	}

	switch op {
	case OpLt:
		return c < 0, nil
	case OpGt:
		return c > 0, nil
	case OpLe:
		return c <= 0, nil
	case OpGe:
		return c >= 0, nil
	}
	return false, faultf(ErrInvalidInstruction, "%s is not a comparison", op)
}
