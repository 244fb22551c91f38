package vm

// ---------------------------------------------------------------------------
// Array primitives
// ---------------------------------------------------------------------------

// createArray: size -> array of size empty slots.
func (v *VM) createArray() error {
	val, err := v.pop()
	if err != nil {
		return err
	}
	n, ok := val.(Int)
	if !ok {
		return typeMismatch(OpCreateArray, "an integer size", val)
	}
	if n < 0 {
		return faultf(ErrInvalidArraySize, "%d", n)
	}
	if int64(n) > v.maxArray {
		return faultf(ErrInvalidArraySize, "%d exceeds limit %d", n, v.maxArray)
	}
	v.push(NewArray(int(n)))
	return nil
}

// loadArray: array index -> element.
func (v *VM) loadArray() error {
	vals, err := v.popN(OpLoadArray, 2)
	if err != nil {
		return err
	}
	arr, i, err := arraySlot(OpLoadArray, vals[0], vals[1])
	if err != nil {
		return err
	}
	el := arr.At(i)
	if el == nil {
		return faultf(ErrUninitializedSlot, "index %d", i)
	}
	v.push(el)
	return nil
}

// storeArray: array index value -> array. The array is pushed first and
// popped last; it is pushed back so stores can be chained.
func (v *VM) storeArray() error {
	vals, err := v.popN(OpStoreArray, 3)
	if err != nil {
		return err
	}
	arr, i, err := arraySlot(OpStoreArray, vals[0], vals[1])
	if err != nil {
		return err
	}
	arr.Set(i, vals[2])
	v.push(arr)
	return nil
}

// arrayLength: array -> slot count.
func (v *VM) arrayLength() error {
	val, err := v.pop()
	if err != nil {
		return err
	}
	arr, ok := val.(*Array)
	if !ok {
		return typeMismatch(OpArrayLength, "an array", val)
	}
	v.push(Int(arr.Len()))
	return nil
}

func arraySlot(op Opcode, av, iv Value) (*Array, int, error) {
	arr, ok := av.(*Array)
	if !ok {
		return nil, 0, typeMismatch(op, "an array", av)
	}
	idx, ok := iv.(Int)
	if !ok {
		return nil, 0, typeMismatch(op, "an integer index", iv)
	}
	if idx < 0 || idx >= Int(arr.Len()) {
		return nil, 0, faultf(ErrIndexOutOfRange, "index %d, length %d", idx, arr.Len())
	}
	return arr, int(idx), nil
}
