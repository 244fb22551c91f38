package vm

// ---------------------------------------------------------------------------
// Map primitives
// ---------------------------------------------------------------------------

// loadDict: map key -> value. A missing key is an error.
func (v *VM) loadDict() error {
	vals, err := v.popN(OpLoadDict, 2)
	if err != nil {
		return err
	}
	m, err := mapKeyed(OpLoadDict, vals[0], vals[1])
	if err != nil {
		return err
	}
	val, ok := m.Get(vals[1])
	if !ok {
		return faultf(ErrKeyNotFound, "%s", vals[1].Repr())
	}
	v.push(val)
	return nil
}

// storeDict: map key value -> map.
func (v *VM) storeDict() error {
	vals, err := v.popN(OpStoreDict, 3)
	if err != nil {
		return err
	}
	m, err := mapKeyed(OpStoreDict, vals[0], vals[1])
	if err != nil {
		return err
	}
	m.Set(vals[1], vals[2])
	v.push(m)
	return nil
}

// dictHasKey: map key -> bool.
func (v *VM) dictHasKey() error {
	vals, err := v.popN(OpDictHasKey, 2)
	if err != nil {
		return err
	}
	m, err := mapKeyed(OpDictHasKey, vals[0], vals[1])
	if err != nil {
		return err
	}
	v.push(Bool(m.Has(vals[1])))
	return nil
}

// dictLength: map -> entry count.
func (v *VM) dictLength() error {
	val, err := v.pop()
	if err != nil {
		return err
	}
	m, ok := val.(*Map)
	if !ok {
		return typeMismatch(OpDictLength, "a map", val)
	}
	v.push(Int(m.Len()))
	return nil
}

func mapKeyed(op Opcode, mv, key Value) (*Map, error) {
	m, ok := mv.(*Map)
	if !ok {
		return nil, typeMismatch(op, "a map", mv)
	}
	if !ValidKey(key) {
		return nil, typeMismatch(op, "a scalar key", key)
	}
	return m, nil
}
