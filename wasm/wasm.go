// Package wasm lowers a compiled PostC program to WebAssembly text format.
//
// The lowering is exploratory. Values with a direct wasm representation
// (integers as i32, floats as f64, booleans as i32) and the opcodes that
// operate on them are translated; strings, collections, I/O and the stack
// shuffles without a wasm equivalent are emitted as `;; unsupported: OP`
// comments. Jumps are emitted as labelled br/br_if markers rather than
// structured control flow. The output is not validated against a runtime.
package wasm

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/chazu/postc/vm"
)

// Module is the result of lowering a program.
type Module struct {
	// Text is the complete `(module ...)` form.
	Text string
	// Unsupported lists, sorted, the opcodes emitted as comments.
	Unsupported []string
}

// valType is the static type tracked for each operand stack slot.
type valType uint8

const (
	typeUnknown valType = iota
	typeI32
	typeF64
)

type generator struct {
	p           *vm.Program
	sb          strings.Builder
	unsupported map[string]bool

	// shadow stack of value types for the function being lowered
	types []valType
}

// Lower translates p. The program must be structurally valid.
func Lower(p *vm.Program) (*Module, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("wasm: %w", err)
	}
	g := &generator{p: p, unsupported: make(map[string]bool)}
	g.module()

	m := &Module{Text: g.sb.String()}
	for op := range g.unsupported {
		m.Unsupported = append(m.Unsupported, op)
	}
	sort.Strings(m.Unsupported)
	return m, nil
}

// Generate returns the WebAssembly text for p.
func Generate(p *vm.Program) (string, error) {
	m, err := Lower(p)
	if err != nil {
		return "", err
	}
	return m.Text, nil
}

// Write writes the WebAssembly text for p to w.
func Write(w io.Writer, p *vm.Program) error {
	text, err := Generate(p)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, text+"\n")
	return err
}

func (g *generator) line(indent int, format string, args ...any) {
	g.sb.WriteString(strings.Repeat("  ", indent))
	fmt.Fprintf(&g.sb, format, args...)
	g.sb.WriteByte('\n')
}

func (g *generator) module() {
	g.line(0, "(module")
	g.line(1, `(import "wasi_snapshot_preview1" "fd_write" (func $fd_write (param i32 i32 i32 i32) (result i32)))`)
	g.line(1, `(memory (export "memory") 1)`)

	// One mutable global per constant slot, addressed by LOAD_VAR/STORE_VAR
	// through the name's pool index.
	for i, c := range g.p.Constants {
		if _, ok := c.(vm.Float); ok {
			g.line(1, "(global $var_%d (mut f64) (f64.const 0))", i)
		} else {
			g.line(1, "(global $var_%d (mut i32) (i32.const 0))", i)
		}
	}

	for _, name := range g.p.FunctionNames() {
		g.function(g.p.Functions[name])
	}
	g.sb.WriteString(")")
}

func (g *generator) function(fn *vm.Function) {
	export := fn.Name
	if fn.Name == vm.MainFunction {
		export = "_start"
	}
	g.line(1, "(func $%s (export %q)", fn.Name, export)
	if fn.ParamCount > 0 {
		g.line(2, ";; %d params passed on the PostC stack", fn.ParamCount)
	}
	g.line(2, "(local $temp i32)")

	targets := jumpTargets(fn)
	g.types = g.types[:0]
	for pc, ins := range fn.Instructions {
		if targets[pc] {
			g.line(2, ";; label $L%d", pc)
			// Types are not merged across control flow.
			g.types = g.types[:0]
		}
		g.instruction(ins)
	}
	if targets[len(fn.Instructions)] {
		g.line(2, ";; label $L%d", len(fn.Instructions))
	}
	g.line(1, ")")
}

func jumpTargets(fn *vm.Function) map[int]bool {
	targets := make(map[int]bool)
	for _, ins := range fn.Instructions {
		if ins.Op.IsJump() {
			if idx, ok := ins.Operand.Index(); ok {
				targets[idx] = true
			}
		}
	}
	return targets
}

func (g *generator) push(t valType) { g.types = append(g.types, t) }

func (g *generator) pop() valType {
	n := len(g.types)
	if n == 0 {
		return typeUnknown
	}
	t := g.types[n-1]
	g.types = g.types[:n-1]
	return t
}

func (g *generator) skip(ins vm.Instruction) {
	name := ins.Op.Name()
	g.unsupported[name] = true
	g.line(2, ";; unsupported: %s", ins)

	info := ins.Op.Info()
	for i := 0; i < info.StackPop; i++ {
		g.pop()
	}
	for i := 0; i < info.StackPush; i++ {
		g.push(typeUnknown)
	}
}

func (g *generator) instruction(ins vm.Instruction) {
	switch ins.Op {
	case vm.OpLoadConst:
		g.loadConst(ins)
	case vm.OpLoadTrue:
		g.line(2, "i32.const 1")
		g.push(typeI32)
	case vm.OpLoadFalse:
		g.line(2, "i32.const 0")
		g.push(typeI32)
	case vm.OpLoadVar:
		idx, _ := ins.Operand.Index()
		g.line(2, "global.get $var_%d", idx)
		g.push(typeUnknown)
	case vm.OpStoreVar:
		idx, _ := ins.Operand.Index()
		g.line(2, "global.set $var_%d", idx)
		g.pop()

	case vm.OpDup:
		t := g.pop()
		if t == typeF64 {
			// $temp is i32
			g.push(t)
			g.skip(ins)
			return
		}
		g.line(2, "local.tee $temp")
		g.line(2, "local.get $temp")
		g.push(t)
		g.push(t)
	case vm.OpDrop:
		g.line(2, "drop")
		g.pop()

	case vm.OpAdd, vm.OpSub, vm.OpMul, vm.OpDiv:
		b, a := g.pop(), g.pop()
		if a == typeF64 || b == typeF64 {
			g.line(2, "f64.%s", arithF64[ins.Op])
			g.push(typeF64)
		} else {
			g.line(2, "i32.%s", arithI32[ins.Op])
			g.push(typeI32)
		}
	case vm.OpEq, vm.OpNe, vm.OpLt, vm.OpGt, vm.OpLe, vm.OpGe:
		b, a := g.pop(), g.pop()
		if a == typeF64 || b == typeF64 {
			g.line(2, "f64.%s", compareF64[ins.Op])
		} else {
			g.line(2, "i32.%s", compareI32[ins.Op])
		}
		g.push(typeI32)

	case vm.OpJump:
		g.line(2, ";; br $L%s", ins.Operand)
	case vm.OpJumpIfFalse:
		g.pop()
		g.line(2, "i32.eqz")
		g.line(2, ";; br_if $L%s", ins.Operand)
		g.line(2, "drop")
	case vm.OpCall:
		idx, _ := ins.Operand.Index()
		c, _ := g.p.Constant(idx)
		name, ok := c.(vm.String)
		if !ok {
			g.skip(ins)
			return
		}
		g.line(2, "call $%s", name)
		// The callee's effect on the stack is not known statically.
		g.types = g.types[:0]
	case vm.OpReturn, vm.OpHalt:
		g.line(2, "return")

	default:
		g.skip(ins)
	}
}

func (g *generator) loadConst(ins vm.Instruction) {
	idx, _ := ins.Operand.Index()
	c, _ := g.p.Constant(idx)
	switch x := c.(type) {
	case vm.Int:
		if x < math.MinInt32 || x > math.MaxInt32 {
			g.skip(ins)
			return
		}
		g.line(2, "i32.const %d", int64(x))
		g.push(typeI32)
	case vm.Float:
		g.line(2, "f64.const %s", formatF64(float64(x)))
		g.push(typeF64)
	case vm.Bool:
		if x {
			g.line(2, "i32.const 1")
		} else {
			g.line(2, "i32.const 0")
		}
		g.push(typeI32)
	default:
		g.skip(ins)
	}
}

func formatF64(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

var arithI32 = map[vm.Opcode]string{
	vm.OpAdd: "add",
	vm.OpSub: "sub",
	vm.OpMul: "mul",
	vm.OpDiv: "div_s",
}

var arithF64 = map[vm.Opcode]string{
	vm.OpAdd: "add",
	vm.OpSub: "sub",
	vm.OpMul: "mul",
	vm.OpDiv: "div",
}

var compareI32 = map[vm.Opcode]string{
	vm.OpEq: "eq",
	vm.OpNe: "ne",
	vm.OpLt: "lt_s",
	vm.OpGt: "gt_s",
	vm.OpLe: "le_s",
	vm.OpGe: "ge_s",
}

var compareF64 = map[vm.Opcode]string{
	vm.OpEq: "eq",
	vm.OpNe: "ne",
	vm.OpLt: "lt",
	vm.OpGt: "gt",
	vm.OpLe: "le",
	vm.OpGe: "ge",
}
