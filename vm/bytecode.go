package vm

import (
	"fmt"
	"strconv"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single bytecode instruction.
type Opcode byte

// Loads and Variables
const (
	OpLoadConst  Opcode = 0x00 // push constant (pool index)
	OpLoadTrue   Opcode = 0x01 // push true
	OpLoadFalse  Opcode = 0x02 // push false
	OpLoadString Opcode = 0x03 // push string constant (pool index)
	OpLoadVar    Opcode = 0x04 // push variable (pool index of name)
	OpStoreVar   Opcode = 0x05 // pop into variable (pool index of name)
)

// Stack Operations
const (
	OpDup  Opcode = 0x10 // a -> a a
	OpDrop Opcode = 0x11 // a ->
	OpSwap Opcode = 0x12 // a b -> b a
	OpOver Opcode = 0x13 // a b -> a b a
	OpRot  Opcode = 0x14 // a b c -> b c a
)

// Arithmetic
const (
	OpAdd Opcode = 0x20
	OpSub Opcode = 0x21
	OpMul Opcode = 0x22
	OpDiv Opcode = 0x23
)

// Comparison
const (
	OpEq Opcode = 0x30
	OpNe Opcode = 0x31
	OpLt Opcode = 0x32
	OpGt Opcode = 0x33
	OpLe Opcode = 0x34
	OpGe Opcode = 0x35
)

// Control Flow
const (
	OpJump        Opcode = 0x40 // absolute target
	OpJumpIfFalse Opcode = 0x41 // pop, absolute target if falsy
	OpCall        Opcode = 0x42 // pool index of function name
	OpReturn      Opcode = 0x43
	OpHalt        Opcode = 0x44
)

// I/O
const (
	OpPrint     Opcode = 0x50
	OpReadStdin Opcode = 0x51
	OpReadFile  Opcode = 0x52
)

// Arrays
const (
	OpCreateArray Opcode = 0x60 // size -> array
	OpLoadArray   Opcode = 0x61 // array index -> value
	OpStoreArray  Opcode = 0x62 // array index value -> array
	OpArrayLength Opcode = 0x63 // array -> length
)

// Maps
const (
	OpCreateDict Opcode = 0x70 // -> map
	OpLoadDict   Opcode = 0x71 // map key -> value
	OpStoreDict  Opcode = 0x72 // map key value -> map
	OpDictHasKey Opcode = 0x73 // map key -> bool
	OpDictLength Opcode = 0x74 // map -> length
)

// Strings
const (
	OpStringLength    Opcode = 0x80 // s -> length
	OpStringConcat    Opcode = 0x81 // a b -> ab
	OpStringSubstring Opcode = 0x82 // s start length -> sub
	OpStringIndexOf   Opcode = 0x83 // haystack needle -> index
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OperandKind describes what an opcode's operand refers to.
type OperandKind uint8

const (
	OperandNone   OperandKind = iota // no operand
	OperandConst                     // index into the constant pool
	OperandTarget                    // absolute instruction index in the same function
)

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name      string      // persisted name, case-sensitive
	Operand   OperandKind // operand interpretation
	StackPop  int         // values consumed
	StackPush int         // values produced (-1 = variable)
}

// opcodeTable maps opcodes to their metadata.
var opcodeTable = map[Opcode]OpcodeInfo{
	// Loads and variables
	OpLoadConst:  {"LOAD_CONST", OperandConst, 0, 1},
	OpLoadTrue:   {"LOAD_TRUE", OperandNone, 0, 1},
	OpLoadFalse:  {"LOAD_FALSE", OperandNone, 0, 1},
	OpLoadString: {"LOAD_STRING", OperandConst, 0, 1},
	OpLoadVar:    {"LOAD_VAR", OperandConst, 0, 1},
	OpStoreVar:   {"STORE_VAR", OperandConst, 1, 0},

	// Stack operations
	OpDup:  {"DUP", OperandNone, 1, 2},
	OpDrop: {"DROP", OperandNone, 1, 0},
	OpSwap: {"SWAP", OperandNone, 2, 2},
	OpOver: {"OVER", OperandNone, 2, 3},
	OpRot:  {"ROT", OperandNone, 3, 3},

	// Arithmetic
	OpAdd: {"ADD", OperandNone, 2, 1},
	OpSub: {"SUB", OperandNone, 2, 1},
	OpMul: {"MUL", OperandNone, 2, 1},
	OpDiv: {"DIV", OperandNone, 2, 1},

	// Comparison
	OpEq: {"EQ", OperandNone, 2, 1},
	OpNe: {"NE", OperandNone, 2, 1},
	OpLt: {"LT", OperandNone, 2, 1},
	OpGt: {"GT", OperandNone, 2, 1},
	OpLe: {"LE", OperandNone, 2, 1},
	OpGe: {"GE", OperandNone, 2, 1},

	// Control flow
	OpJump:        {"JUMP", OperandTarget, 0, 0},
	OpJumpIfFalse: {"JUMP_IF_FALSE", OperandTarget, 1, 0},
	OpCall:        {"CALL", OperandConst, 0, -1},
	OpReturn:      {"RETURN", OperandNone, 0, -1},
	OpHalt:        {"HALT", OperandNone, 0, 0},

	// I/O
	OpPrint:     {"PRINT", OperandNone, 1, 0},
	OpReadStdin: {"READ_STDIN", OperandNone, 0, 1},
	OpReadFile:  {"READ_FILE", OperandNone, 1, 1},

	// Arrays
	OpCreateArray: {"CREATE_ARRAY", OperandNone, 1, 1},
	OpLoadArray:   {"LOAD_ARRAY", OperandNone, 2, 1},
	OpStoreArray:  {"STORE_ARRAY", OperandNone, 3, 1},
	OpArrayLength: {"ARRAY_LENGTH", OperandNone, 1, 1},

	// Maps
	OpCreateDict: {"CREATE_DICT", OperandNone, 0, 1},
	OpLoadDict:   {"LOAD_DICT", OperandNone, 2, 1},
	OpStoreDict:  {"STORE_DICT", OperandNone, 3, 1},
	OpDictHasKey: {"DICT_HAS_KEY", OperandNone, 2, 1},
	OpDictLength: {"DICT_LENGTH", OperandNone, 1, 1},

	// Strings
	OpStringLength:    {"STRING_LENGTH", OperandNone, 1, 1},
	OpStringConcat:    {"STRING_CONCAT", OperandNone, 2, 1},
	OpStringSubstring: {"STRING_SUBSTRING", OperandNone, 3, 1},
	OpStringIndexOf:   {"STRING_INDEXOF", OperandNone, 2, 1},
}

// opcodesByName is the reverse of opcodeTable, used by the image loader.
var opcodesByName = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeTable))
	for op, info := range opcodeTable {
		m[info.Name] = op
	}
	return m
}()

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// Name returns the persisted name for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool {
	_, ok := opcodeTable[op]
	return ok
}

// IsJump reports whether op carries an instruction-index operand.
func (op Opcode) IsJump() bool {
	return op == OpJump || op == OpJumpIfFalse
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// OpcodeByName looks up an opcode by its persisted name.
func OpcodeByName(name string) (Opcode, bool) {
	op, ok := opcodesByName[name]
	return op, ok
}

// AllOpcodes returns every defined opcode.
func AllOpcodes() []Opcode {
	ops := make([]Opcode, 0, len(opcodeTable))
	for op := range opcodeTable {
		ops = append(ops, op)
	}
	return ops
}

// ---------------------------------------------------------------------------
// Operands and instructions
// ---------------------------------------------------------------------------

// OperandType tags the value held by an Operand.
type OperandType uint8

const (
	OperandAbsent OperandType = iota
	OperandInt
	OperandFloat
	OperandString
)

// Operand is an instruction argument. The compiler only ever produces integer
// operands; float and string operands exist because the text image loader may
// reconstruct them.
type Operand struct {
	Type  OperandType
	Int   int
	Float float64
	Str   string
}

// NoOperand is the absent operand.
var NoOperand = Operand{}

// IntOperand returns an integer operand.
func IntOperand(i int) Operand {
	return Operand{Type: OperandInt, Int: i}
}

// ParseOperand reconstructs an operand from its textual form: integer first,
// then float, then the raw string.
func ParseOperand(s string) Operand {
	if i, err := strconv.Atoi(s); err == nil {
		return Operand{Type: OperandInt, Int: i}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return Operand{Type: OperandFloat, Float: f}
	}
	return Operand{Type: OperandString, Str: s}
}

// Index returns the operand as an index, if it is an integer.
func (o Operand) Index() (int, bool) {
	return o.Int, o.Type == OperandInt
}

// Present reports whether the operand exists.
func (o Operand) Present() bool {
	return o.Type != OperandAbsent
}

// String returns the textual form used by the persisted image.
func (o Operand) String() string {
	switch o.Type {
	case OperandInt:
		return strconv.Itoa(o.Int)
	case OperandFloat:
		return strconv.FormatFloat(o.Float, 'g', -1, 64)
	case OperandString:
		return o.Str
	}
	return ""
}

// Instruction is one bytecode operation with its source line.
type Instruction struct {
	Op      Opcode
	Operand Operand
	Line    int
}

// String renders the instruction as "OP" or "OP operand".
func (ins Instruction) String() string {
	if !ins.Operand.Present() {
		return ins.Op.Name()
	}
	return ins.Op.Name() + " " + ins.Operand.String()
}

// ---------------------------------------------------------------------------
// Function: a named instruction sequence
// ---------------------------------------------------------------------------

// Function is a compiled function.
type Function struct {
	Name         string
	ParamCount   int
	Instructions []Instruction
}

// NewFunction creates an empty function.
func NewFunction(name string, paramCount int) *Function {
	return &Function{Name: name, ParamCount: paramCount}
}

// Len returns the number of instructions, which is also the address of the
// next instruction to be emitted.
func (f *Function) Len() int {
	return len(f.Instructions)
}

// Emit appends an instruction and returns its address.
func (f *Function) Emit(op Opcode, operand Operand, line int) int {
	f.Instructions = append(f.Instructions, Instruction{Op: op, Operand: operand, Line: line})
	return len(f.Instructions) - 1
}

// EmitJump appends a jump with a placeholder target and returns its address
// for a later PatchJump.
func (f *Function) EmitJump(op Opcode, line int) int {
	return f.Emit(op, IntOperand(-1), line)
}

// PatchJump points the jump at addr to the next instruction to be emitted.
func (f *Function) PatchJump(addr int) {
	f.Instructions[addr].Operand = IntOperand(len(f.Instructions))
}

// EmitLoop appends an unconditional jump back to head.
func (f *Function) EmitLoop(head, line int) {
	f.Emit(OpJump, IntOperand(head), line)
}

// LastOp returns the opcode of the last instruction, if any.
func (f *Function) LastOp() (Opcode, bool) {
	if len(f.Instructions) == 0 {
		return 0, false
	}
	return f.Instructions[len(f.Instructions)-1].Op, true
}
