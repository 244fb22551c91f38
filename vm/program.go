package vm

import (
	"fmt"
	"sort"
)

// MainFunction is the name of the compiled top-level program.
const MainFunction = "main"

// ---------------------------------------------------------------------------
// Program: constant pool plus function table
// ---------------------------------------------------------------------------

// Program is a complete compiled program. The constant pool and function
// table are all a VM needs to run it.
type Program struct {
	Constants []Value
	Functions map[string]*Function

	constIndex map[Value]int
}

// NewProgram creates an empty program.
func NewProgram() *Program {
	return &Program{
		Functions:  make(map[string]*Function),
		constIndex: make(map[Value]int),
	}
}

// AddConstant interns a scalar literal and returns its pool index. Values are
// keyed by both kind and value, so 1, 1.0 and true occupy distinct slots.
func (p *Program) AddConstant(v Value) int {
	if p.constIndex == nil {
		p.Reindex()
	}
	if idx, ok := p.constIndex[v]; ok {
		return idx
	}
	p.Constants = append(p.Constants, v)
	idx := len(p.Constants) - 1
	p.constIndex[v] = idx
	return idx
}

// Reindex rebuilds the constant lookup after Constants is filled directly,
// as image decoders do.
func (p *Program) Reindex() {
	p.constIndex = make(map[Value]int, len(p.Constants))
	for i, c := range p.Constants {
		if _, dup := p.constIndex[c]; !dup {
			p.constIndex[c] = i
		}
	}
}

// Clone returns a copy whose constant pool and function table can be
// extended without affecting p. Functions are shared; they are never mutated
// once compiled.
func (p *Program) Clone() *Program {
	c := &Program{
		Constants: append([]Value(nil), p.Constants...),
		Functions: make(map[string]*Function, len(p.Functions)),
	}
	for name, fn := range p.Functions {
		c.Functions[name] = fn
	}
	c.Reindex()
	return c
}

// Constant returns the pool entry at idx.
func (p *Program) Constant(idx int) (Value, bool) {
	if idx < 0 || idx >= len(p.Constants) {
		return nil, false
	}
	return p.Constants[idx], true
}

// Function returns the named function.
func (p *Program) Function(name string) (*Function, bool) {
	fn, ok := p.Functions[name]
	return fn, ok
}

// AddFunction registers fn, replacing any function with the same name.
func (p *Program) AddFunction(fn *Function) {
	if p.Functions == nil {
		p.Functions = make(map[string]*Function)
	}
	p.Functions[fn.Name] = fn
}

// FunctionNames returns the function names in sorted order, main first.
func (p *Program) FunctionNames() []string {
	names := make([]string, 0, len(p.Functions))
	for name := range p.Functions {
		if name != MainFunction {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if _, ok := p.Functions[MainFunction]; ok {
		names = append([]string{MainFunction}, names...)
	}
	return names
}

// Validate checks the structural invariants the VM relies on: main exists,
// constants are scalars, opcodes are defined and operands are in range.
func (p *Program) Validate() error {
	if _, ok := p.Functions[MainFunction]; !ok {
		return fmt.Errorf("program has no %s function", MainFunction)
	}
	for i, c := range p.Constants {
		if !ValidKey(c) {
			return fmt.Errorf("constant %d: %s is not a literal kind", i, c.Kind())
		}
	}
	for _, name := range p.FunctionNames() {
		fn := p.Functions[name]
		if fn.Name != name {
			return fmt.Errorf("function %q registered as %q", fn.Name, name)
		}
		if fn.ParamCount < 0 {
			return fmt.Errorf("function %q: negative parameter count", name)
		}
		for pc, ins := range fn.Instructions {
			info, ok := opcodeTable[ins.Op]
			if !ok {
				return fmt.Errorf("%s[%d]: unknown opcode 0x%02X", name, pc, byte(ins.Op))
			}
			switch info.Operand {
			case OperandConst:
				idx, ok := ins.Operand.Index()
				if !ok || idx < 0 || idx >= len(p.Constants) {
					return fmt.Errorf("%s[%d]: %s operand %q is not a constant index", name, pc, info.Name, ins.Operand)
				}
			case OperandTarget:
				idx, ok := ins.Operand.Index()
				if !ok || idx < 0 || idx > len(fn.Instructions) {
					return fmt.Errorf("%s[%d]: %s target %q out of range", name, pc, info.Name, ins.Operand)
				}
			}
		}
	}
	return nil
}
