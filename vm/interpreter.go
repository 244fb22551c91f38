package vm

import (
	"context"
	"errors"
	"strconv"
)

// ArgName is the local name bound to the i-th argument of a call.
func ArgName(i int) string {
	return "arg" + strconv.Itoa(i)
}

// ---------------------------------------------------------------------------
// Main execution loop
// ---------------------------------------------------------------------------

func (v *VM) loop(ctx context.Context) error {
	for len(v.frames) > 0 {
		frame := v.top()
		if frame.pc >= len(frame.fn.Instructions) {
			v.frames = v.frames[:len(v.frames)-1]
			continue
		}

		pc := frame.pc
		ins := frame.fn.Instructions[pc]

		if v.stepLimit > 0 && v.steps >= v.stepLimit {
			return v.locate(frame, pc, ins, faultf(ErrStepLimitExceeded, "limit is %d", v.stepLimit))
		}
		if v.steps%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return v.locate(frame, pc, ins, &fault{kind: ErrCancelled, detail: err.Error(), cause: err})
			}
		}

		frame.pc++
		v.steps++

		if v.trace {
			v.log.Debugf("%s@%04d %-20s stack=%d frames=%d", frame.fn.Name, pc, ins, len(v.stack), len(v.frames))
		}

		if err := v.dispatch(frame, ins); err != nil {
			return v.locate(frame, pc, ins, err)
		}
	}
	return nil
}

// locate turns a handler fault into a RuntimeError carrying position
// information.
func (v *VM) locate(frame *Frame, pc int, ins Instruction, err error) error {
	rt := &RuntimeError{
		Err:      ErrIO,
		Function: frame.fn.Name,
		PC:       pc,
		Line:     ins.Line,
		Cause:    err,
	}
	var f *fault
	if errors.As(err, &f) {
		rt.Err = f.kind
		rt.Detail = f.detail
		rt.Cause = f.cause
	}
	return rt
}

// dispatch executes a single instruction against the current frame.
func (v *VM) dispatch(frame *Frame, ins Instruction) error {
	switch ins.Op {
	// ===== Loads and Variables =====
	case OpLoadConst:
		c, err := v.constant(ins)
		if err != nil {
			return err
		}
		v.push(c)

	case OpLoadString:
		c, err := v.constant(ins)
		if err != nil {
			return err
		}
		if _, ok := c.(String); !ok {
			return faultf(ErrInvalidConstant, "LOAD_STRING operand %s is a %s", ins.Operand, c.Kind())
		}
		v.push(c)

	case OpLoadTrue:
		v.push(Bool(true))

	case OpLoadFalse:
		v.push(Bool(false))

	case OpLoadVar:
		name, err := v.name(ins)
		if err != nil {
			return err
		}
		if val, ok := frame.locals[name]; ok {
			v.push(val)
			return nil
		}
		if val, ok := v.globals[name]; ok {
			v.push(val)
			return nil
		}
		return faultf(ErrUndefinedVariable, "%s", name)

	case OpStoreVar:
		name, err := v.name(ins)
		if err != nil {
			return err
		}
		val, err := v.pop()
		if err != nil {
			return err
		}
		frame.locals[name] = val

	// ===== Stack Operations =====
	case OpDup:
		if err := v.need(ins.Op, 1); err != nil {
			return err
		}
		v.push(v.stack[len(v.stack)-1])

	case OpDrop:
		if err := v.need(ins.Op, 1); err != nil {
			return err
		}
		v.pop()

	case OpSwap:
		if err := v.need(ins.Op, 2); err != nil {
			return err
		}
		n := len(v.stack)
		v.stack[n-1], v.stack[n-2] = v.stack[n-2], v.stack[n-1]

	case OpOver:
		if err := v.need(ins.Op, 2); err != nil {
			return err
		}
		v.push(v.stack[len(v.stack)-2])

	case OpRot:
		// a b c -> b c a
		if err := v.need(ins.Op, 3); err != nil {
			return err
		}
		n := len(v.stack)
		a := v.stack[n-3]
		v.stack[n-3] = v.stack[n-2]
		v.stack[n-2] = v.stack[n-1]
		v.stack[n-1] = a

	// ===== Arithmetic and Comparison =====
	case OpAdd, OpSub, OpMul, OpDiv:
		vals, err := v.popN(ins.Op, 2)
		if err != nil {
			return err
		}
		result, err := arith(ins.Op, vals[0], vals[1])
		if err != nil {
			return err
		}
		v.push(result)

	case OpEq, OpNe:
		vals, err := v.popN(ins.Op, 2)
		if err != nil {
			return err
		}
		eq := Equal(vals[0], vals[1])
		v.push(Bool(eq == (ins.Op == OpEq)))

	case OpLt, OpGt, OpLe, OpGe:
		vals, err := v.popN(ins.Op, 2)
		if err != nil {
			return err
		}
		result, err := compare(ins.Op, vals[0], vals[1])
		if err != nil {
			return err
		}
		v.push(Bool(result))

	// ===== Control Flow =====
	case OpJump:
		target, err := v.target(frame, ins)
		if err != nil {
			return err
		}
		frame.pc = target

	case OpJumpIfFalse:
		target, err := v.target(frame, ins)
		if err != nil {
			return err
		}
		cond, err := v.pop()
		if err != nil {
			return err
		}
		if !Truthy(cond) {
			frame.pc = target
		}

	case OpCall:
		return v.call(ins)

	case OpReturn:
		v.ret()

	case OpHalt:
		v.frames = v.frames[:0]

	// ===== I/O =====
	case OpPrint:
		return v.print()

	case OpReadStdin:
		return v.readStdin()

	case OpReadFile:
		return v.readFile()

	// ===== Arrays =====
	case OpCreateArray:
		return v.createArray()

	case OpLoadArray:
		return v.loadArray()

	case OpStoreArray:
		return v.storeArray()

	case OpArrayLength:
		return v.arrayLength()

	// ===== Maps =====
	case OpCreateDict:
		v.push(NewMap())

	case OpLoadDict:
		return v.loadDict()

	case OpStoreDict:
		return v.storeDict()

	case OpDictHasKey:
		return v.dictHasKey()

	case OpDictLength:
		return v.dictLength()

	// ===== Strings =====
	case OpStringLength:
		return v.stringLength()

	case OpStringConcat:
		return v.stringConcat()

	case OpStringSubstring:
		return v.stringSubstring()

	case OpStringIndexOf:
		return v.stringIndexOf()

	default:
		return faultf(ErrInvalidInstruction, "opcode 0x%02X", byte(ins.Op))
	}
	return nil
}

// ---------------------------------------------------------------------------
// Operand resolution
// ---------------------------------------------------------------------------

func (v *VM) constant(ins Instruction) (Value, error) {
	idx, ok := ins.Operand.Index()
	if !ok {
		return nil, faultf(ErrInvalidConstant, "%s operand %q is not an index", ins.Op, ins.Operand)
	}
	c, ok := v.program.Constant(idx)
	if !ok {
		return nil, faultf(ErrInvalidConstant, "index %d, pool has %d", idx, len(v.program.Constants))
	}
	return c, nil
}

func (v *VM) name(ins Instruction) (string, error) {
	c, err := v.constant(ins)
	if err != nil {
		return "", err
	}
	s, ok := c.(String)
	if !ok {
		return "", faultf(ErrInvalidConstant, "%s expects a name, constant %s is a %s", ins.Op, ins.Operand, c.Kind())
	}
	return string(s), nil
}

func (v *VM) target(frame *Frame, ins Instruction) (int, error) {
	idx, ok := ins.Operand.Index()
	if !ok || idx < 0 || idx > len(frame.fn.Instructions) {
		return 0, faultf(ErrInvalidInstruction, "%s target %q out of range", ins.Op, ins.Operand)
	}
	return idx, nil
}

// ---------------------------------------------------------------------------
// Calling convention
// ---------------------------------------------------------------------------

// call pushes a frame whose base pointer sits below the arguments. The
// arguments stay on the operand stack and are also bound as arg0..argN-1.
func (v *VM) call(ins Instruction) error {
	name, err := v.name(ins)
	if err != nil {
		return err
	}
	fn, ok := v.program.Function(name)
	if !ok {
		return faultf(ErrUnknownFunction, "%s", name)
	}
	if v.maxCallDepth > 0 && len(v.frames) >= v.maxCallDepth {
		return faultf(ErrCallDepthExceeded, "calling %s at depth %d", name, len(v.frames))
	}
	bp := len(v.stack) - fn.ParamCount
	if bp < 0 {
		return faultf(ErrStackUnderflow, "%s takes %d arguments, stack has %d", name, fn.ParamCount, len(v.stack))
	}
	locals := make(map[string]Value, fn.ParamCount)
	for i := 0; i < fn.ParamCount; i++ {
		locals[ArgName(i)] = v.stack[bp+i]
	}
	v.frames = append(v.frames, &Frame{fn: fn, bp: bp, locals: locals})
	return nil
}

// ret pops the current frame. The top value, if the callee left anything
// above its base pointer, becomes the single return value.
func (v *VM) ret() {
	frame := v.top()
	v.frames = v.frames[:len(v.frames)-1]
	if len(v.stack) <= frame.bp {
		return
	}
	result := v.stack[len(v.stack)-1]
	for i := frame.bp; i < len(v.stack); i++ {
		v.stack[i] = nil
	}
	v.stack = v.stack[:frame.bp]
	v.push(result)
}
