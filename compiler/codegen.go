package compiler

import (
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/postc/vm"
)

// ---------------------------------------------------------------------------
// Codegen: compile the AST to bytecode
// ---------------------------------------------------------------------------

// builtins maps builtin words to their opcodes.
var builtins = map[string]vm.Opcode{
	"read_stdin":       vm.OpReadStdin,
	"read_file":        vm.OpReadFile,
	"create_array":     vm.OpCreateArray,
	"load_array":       vm.OpLoadArray,
	"store_array":      vm.OpStoreArray,
	"array_length":     vm.OpArrayLength,
	"create_dict":      vm.OpCreateDict,
	"load_dict":        vm.OpLoadDict,
	"store_dict":       vm.OpStoreDict,
	"dict_has_key":     vm.OpDictHasKey,
	"dict_length":      vm.OpDictLength,
	"string_length":    vm.OpStringLength,
	"string_concat":    vm.OpStringConcat,
	"string_substring": vm.OpStringSubstring,
	"string_indexof":   vm.OpStringIndexOf,
	"substring":        vm.OpStringSubstring,
	"indexof":          vm.OpStringIndexOf,
	"concat":           vm.OpStringConcat,
}

var operators = map[string]vm.Opcode{
	"+":  vm.OpAdd,
	"-":  vm.OpSub,
	"*":  vm.OpMul,
	"/":  vm.OpDiv,
	"<":  vm.OpLt,
	">":  vm.OpGt,
	"==": vm.OpEq,
	"!=": vm.OpNe,
	"<=": vm.OpLe,
	">=": vm.OpGe,
}

var stackOps = map[string]vm.Opcode{
	"dup":  vm.OpDup,
	"drop": vm.OpDrop,
	"swap": vm.OpSwap,
	"over": vm.OpOver,
	"rot":  vm.OpRot,
}

// Builtins returns every builtin word, aliases included.
func Builtins() []string {
	names := make([]string, 0, len(builtins)+1)
	names = append(names, "print")
	for name := range builtins {
		names = append(names, name)
	}
	return names
}

// IsBuiltin reports whether name is compiled to a builtin opcode.
func IsBuiltin(name string) bool {
	_, ok := BuiltinOpcode(name)
	return ok
}

// BuiltinOpcode returns the opcode a builtin word compiles to.
func BuiltinOpcode(name string) (vm.Opcode, bool) {
	if name == "print" {
		return vm.OpPrint, true
	}
	op, ok := builtins[name]
	return op, ok
}

// Compiler compiles ASTs into a vm.Program.
type Compiler struct {
	program *vm.Program
	log     commonlog.Logger

	// Per-Generate state
	out       *vm.Program
	functions map[string]bool
	current   *vm.Function
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithProgram makes the compiler extend p instead of starting empty. Existing
// functions stay callable and the constant pool keeps its indexes; main is
// replaced by each compilation.
func WithProgram(p *vm.Program) Option {
	return func(c *Compiler) {
		c.program = p
	}
}

// WithLogger sets the logger.
func WithLogger(l commonlog.Logger) Option {
	return func(c *Compiler) {
		c.log = l
	}
}

// NewCompiler creates a new compiler.
func NewCompiler(opts ...Option) *Compiler {
	c := &Compiler{}
	for _, opt := range opts {
		opt(c)
	}
	if c.program == nil {
		c.program = vm.NewProgram()
	}
	if c.log == nil {
		c.log = commonlog.GetLogger("postc.compiler")
	}
	return c
}

// Program returns the program produced by the last successful compilation,
// or the starting program.
func (c *Compiler) Program() *vm.Program {
	return c.program
}

// Compile parses and generates source. On error the compiler's program is
// left unchanged.
func (c *Compiler) Compile(source string) (*vm.Program, error) {
	prog, err := Parse(source)
	if err != nil {
		return nil, err
	}
	return c.Generate(prog)
}

// Compile compiles source into a fresh program.
func Compile(source string) (*vm.Program, error) {
	return NewCompiler().Compile(source)
}

// Generate lowers a Program node. Functions are emitted first, with every
// declared name registered beforehand so forward and recursive calls resolve.
// The remaining top-level statements become main, terminated by HALT.
func (c *Compiler) Generate(root Node) (*vm.Program, error) {
	prog, ok := root.(*Program)
	if !ok || prog == nil {
		return nil, &Error{Kind: CodegenError, Err: ErrNotProgram, Msg: fmt.Sprintf("got %T", root)}
	}

	c.out = c.program.Clone()
	c.functions = make(map[string]bool, len(c.out.Functions))
	for name := range c.out.Functions {
		if name != vm.MainFunction {
			c.functions[name] = true
		}
	}
	defer func() {
		c.out, c.functions, c.current = nil, nil, nil
	}()

	// Pass one: functions
	for _, stmt := range prog.Statements {
		if decl, ok := stmt.(*FunctionDecl); ok {
			if err := c.checkDecl(decl); err != nil {
				return nil, err
			}
			c.functions[decl.Name] = true
		}
	}
	for _, stmt := range prog.Statements {
		if decl, ok := stmt.(*FunctionDecl); ok {
			if err := c.genFunction(decl); err != nil {
				return nil, err
			}
		}
	}

	// Pass two: main
	main := vm.NewFunction(vm.MainFunction, 0)
	c.current = main
	for _, stmt := range prog.Statements {
		if _, ok := stmt.(*FunctionDecl); ok {
			continue
		}
		if err := c.genStmt(stmt); err != nil {
			return nil, err
		}
	}
	main.Emit(vm.OpHalt, vm.NoOperand, prog.Span().End.Line)
	c.out.AddFunction(main)

	c.program = c.out
	c.log.Debugf("compiled %d functions, %d constants", len(c.program.Functions), len(c.program.Constants))
	return c.program, nil
}

func (c *Compiler) errorf(err error, pos Position, format string, args ...any) error {
	return errorAt(CodegenError, err, pos, format, args...)
}

func (c *Compiler) checkDecl(decl *FunctionDecl) error {
	pos := decl.Span().Start
	switch {
	case decl.Name == "":
		return c.errorf(ErrInvalidDeclaration, pos, "function name is empty")
	case decl.Name == vm.MainFunction:
		return c.errorf(ErrInvalidDeclaration, pos, "%q is reserved for the top-level program", vm.MainFunction)
	case decl.ParamCount < 0:
		return c.errorf(ErrInvalidDeclaration, pos, "function %s has negative parameter count %d", decl.Name, decl.ParamCount)
	}
	if IsBuiltin(decl.Name) {
		c.log.Warningf("function %s is shadowed by the builtin of the same name", decl.Name)
	}
	return nil
}

// genFunction compiles a declaration. A RETURN is appended unless the body
// already ends with one.
func (c *Compiler) genFunction(decl *FunctionDecl) error {
	fn := vm.NewFunction(decl.Name, decl.ParamCount)
	c.current = fn
	if decl.Body != nil {
		if err := c.genBlock(decl.Body); err != nil {
			return err
		}
	}
	if op, ok := fn.LastOp(); !ok || op != vm.OpReturn {
		fn.Emit(vm.OpReturn, vm.NoOperand, decl.Span().End.Line)
	}
	if _, exists := c.out.Functions[decl.Name]; exists {
		c.log.Debugf("redefining function %s", decl.Name)
	}
	c.out.AddFunction(fn)
	return nil
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (c *Compiler) genStmt(stmt Stmt) error {
	switch n := stmt.(type) {
	case *VariableDecl:
		return c.genVariable(n)
	case *Block:
		return c.genBlock(n)
	case *IfExpr:
		return c.genIf(n)
	case *WhileLoop:
		return c.genWhile(n)
	case *ForLoop:
		return c.genFor(n)
	case *RpnExpr:
		return c.genRpn(n)
	case *FunctionDecl:
		return c.errorf(ErrInvalidDeclaration, n.Span().Start, "function %s must be declared at top level", n.Name)
	case nil:
		return nil
	}
	return c.errorf(ErrInvalidExpression, stmt.Span().Start, "unsupported statement %T", stmt)
}

func (c *Compiler) genBlock(b *Block) error {
	for _, stmt := range b.Statements {
		if err := c.genStmt(stmt); err != nil {
			return err
		}
	}
	return nil
}

// genVariable emits the initializer, or the constant 0 when it is empty, and
// stores it under the declared name.
func (c *Compiler) genVariable(n *VariableDecl) error {
	line := n.Span().Start.Line
	if n.Init != nil {
		if err := c.genRpn(n.Init); err != nil {
			return err
		}
	} else {
		c.emitConst(vm.OpLoadConst, vm.Int(0), line)
	}
	c.emitConst(vm.OpStoreVar, vm.String(n.Name), line)
	return nil
}

// genIf lowers a conditional:
//
//	cond
//	JUMP_IF_FALSE else
//	then
//	JUMP end          ; only with an else block
//	else: else-block
//	end:
func (c *Compiler) genIf(n *IfExpr) error {
	line := n.Span().Start.Line
	if err := c.genOptionalRpn(n.Cond); err != nil {
		return err
	}
	jumpElse := c.current.EmitJump(vm.OpJumpIfFalse, line)
	if n.Then != nil {
		if err := c.genBlock(n.Then); err != nil {
			return err
		}
	}
	if n.Else == nil {
		c.current.PatchJump(jumpElse)
		return nil
	}
	jumpEnd := c.current.EmitJump(vm.OpJump, line)
	c.current.PatchJump(jumpElse)
	if err := c.genBlock(n.Else); err != nil {
		return err
	}
	c.current.PatchJump(jumpEnd)
	return nil
}

// genWhile lowers a while loop. The condition value is duplicated so that
// JUMP_IF_FALSE leaves one copy to drop on either path:
//
//	head: cond; DUP; JUMP_IF_FALSE exit; DROP; body; JUMP head
//	exit: DROP
func (c *Compiler) genWhile(n *WhileLoop) error {
	line := n.Span().Start.Line
	head := c.current.Len()
	if err := c.genOptionalRpn(n.Cond); err != nil {
		return err
	}
	c.current.Emit(vm.OpDup, vm.NoOperand, line)
	exit := c.current.EmitJump(vm.OpJumpIfFalse, line)
	c.current.Emit(vm.OpDrop, vm.NoOperand, line)
	if n.Body != nil {
		if err := c.genBlock(n.Body); err != nil {
			return err
		}
	}
	c.current.EmitLoop(head, line)
	c.current.PatchJump(exit)
	c.current.Emit(vm.OpDrop, vm.NoOperand, line)
	return nil
}

// genFor lowers a counted loop. The count is popped into a hidden variable
// named after the loop's position:
//
//	STORE_VAR c
//	head: LOAD_VAR c; DUP; LOAD_CONST 0; GT; JUMP_IF_FALSE exit; DROP
//	body
//	LOAD_VAR c; LOAD_CONST 1; SUB; STORE_VAR c; JUMP head
//	exit: DROP
func (c *Compiler) genFor(n *ForLoop) error {
	start := n.Span().Start
	line := start.Line
	counter := vm.String(fmt.Sprintf("_for_count_%d_%d", start.Line, start.Column))

	c.emitConst(vm.OpStoreVar, counter, line)
	head := c.current.Len()
	c.emitConst(vm.OpLoadVar, counter, line)
	c.current.Emit(vm.OpDup, vm.NoOperand, line)
	c.emitConst(vm.OpLoadConst, vm.Int(0), line)
	c.current.Emit(vm.OpGt, vm.NoOperand, line)
	exit := c.current.EmitJump(vm.OpJumpIfFalse, line)
	c.current.Emit(vm.OpDrop, vm.NoOperand, line)
	if n.Body != nil {
		if err := c.genBlock(n.Body); err != nil {
			return err
		}
	}
	c.emitConst(vm.OpLoadVar, counter, line)
	c.emitConst(vm.OpLoadConst, vm.Int(1), line)
	c.current.Emit(vm.OpSub, vm.NoOperand, line)
	c.emitConst(vm.OpStoreVar, counter, line)
	c.current.EmitLoop(head, line)
	c.current.PatchJump(exit)
	c.current.Emit(vm.OpDrop, vm.NoOperand, line)
	return nil
}

// ---------------------------------------------------------------------------
// RPN expressions
// ---------------------------------------------------------------------------

func (c *Compiler) genOptionalRpn(e *RpnExpr) error {
	if e == nil {
		return nil
	}
	return c.genRpn(e)
}

// genRpn maps each element of the token stream to instructions, left to
// right.
func (c *Compiler) genRpn(e *RpnExpr) error {
	for _, t := range e.Tokens {
		if err := c.genElement(t); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compiler) genElement(t ExprToken) error {
	line := t.Pos.Line
	switch t.Kind {
	case ExprInt:
		c.emitConst(vm.OpLoadConst, vm.Int(t.Int), line)
	case ExprFloat:
		c.emitConst(vm.OpLoadConst, vm.Float(t.Float), line)
	case ExprString:
		c.emitConst(vm.OpLoadString, vm.String(t.Text), line)
	case ExprBool:
		if t.Bool {
			c.current.Emit(vm.OpLoadTrue, vm.NoOperand, line)
		} else {
			c.current.Emit(vm.OpLoadFalse, vm.NoOperand, line)
		}
	case ExprStackOp:
		op, ok := stackOps[t.Text]
		if !ok {
			return c.errorf(ErrInvalidExpression, t.Pos, "unknown stack operation %q", t.Text)
		}
		c.current.Emit(op, vm.NoOperand, line)
	case ExprOperator:
		op, ok := operators[t.Text]
		if !ok {
			return c.errorf(ErrInvalidExpression, t.Pos, "operator %q is not allowed in an expression", t.Text)
		}
		c.current.Emit(op, vm.NoOperand, line)
	case ExprKeyword:
		switch t.Text {
		case "print":
			c.current.Emit(vm.OpPrint, vm.NoOperand, line)
		case "return":
			c.current.Emit(vm.OpReturn, vm.NoOperand, line)
		default:
			return c.errorf(ErrInvalidExpression, t.Pos, "keyword %q is not allowed in an expression", t.Text)
		}
	case ExprIdent:
		return c.genIdent(t)
	default:
		return c.errorf(ErrInvalidExpression, t.Pos, "unexpected %q in expression", t.Text)
	}
	return nil
}

// genIdent resolves a word: builtin, then declared function, then variable.
func (c *Compiler) genIdent(t ExprToken) error {
	line := t.Pos.Line
	if t.Text == "print" {
		c.current.Emit(vm.OpPrint, vm.NoOperand, line)
		return nil
	}
	if op, ok := builtins[t.Text]; ok {
		c.current.Emit(op, vm.NoOperand, line)
		return nil
	}
	if c.functions[t.Text] {
		c.emitConst(vm.OpCall, vm.String(t.Text), line)
		return nil
	}
	c.emitConst(vm.OpLoadVar, vm.String(t.Text), line)
	return nil
}

// emitConst interns v and emits op with its pool index.
func (c *Compiler) emitConst(op vm.Opcode, v vm.Value, line int) {
	idx := c.out.AddConstant(v)
	c.current.Emit(op, vm.IntOperand(idx), line)
}
