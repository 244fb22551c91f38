package compiler

import "strings"

// ---------------------------------------------------------------------------
// AST: Abstract Syntax Tree for PostC
// ---------------------------------------------------------------------------

// Position represents a source location.
type Position struct {
	Offset int // byte offset
	Line   int // 1-based line number
	Column int // 1-based column number
}

// Span represents a range in source code.
type Span struct {
	Start Position
	End   Position
}

// Node is the interface implemented by all AST nodes.
type Node interface {
	Span() Span
	node() // marker method
}

// Stmt is the interface for nodes that may appear in a block.
type Stmt interface {
	Node
	stmt() // marker method
}

// ---------------------------------------------------------------------------
// Top level
// ---------------------------------------------------------------------------

// Program is the root of a parsed source file.
type Program struct {
	SpanVal    Span
	Statements []Stmt
}

func (n *Program) Span() Span { return n.SpanVal }
func (n *Program) node()      {}

// FunctionDecl is `:name N param body ;`.
type FunctionDecl struct {
	SpanVal    Span
	Name       string
	ParamCount int
	Body       *Block
}

func (n *FunctionDecl) Span() Span { return n.SpanVal }
func (n *FunctionDecl) node()      {}
func (n *FunctionDecl) stmt()      {}

// VariableDecl is `let name expr ;` or `var name expr ;`. Init is nil when
// the initializer is empty.
type VariableDecl struct {
	SpanVal Span
	Name    string
	Mutable bool
	Init    *RpnExpr
}

func (n *VariableDecl) Span() Span { return n.SpanVal }
func (n *VariableDecl) node()      {}
func (n *VariableDecl) stmt()      {}

// ---------------------------------------------------------------------------
// Control flow
// ---------------------------------------------------------------------------

// Block is an ordered statement list.
type Block struct {
	SpanVal    Span
	Statements []Stmt
}

func (n *Block) Span() Span { return n.SpanVal }
func (n *Block) node()      {}
func (n *Block) stmt()      {}

// IfExpr is `if cond [do] then [else else] ;`. Cond may be nil when the
// condition is already on the stack. Else is nil when absent.
type IfExpr struct {
	SpanVal Span
	Cond    *RpnExpr
	Then    *Block
	Else    *Block
}

func (n *IfExpr) Span() Span { return n.SpanVal }
func (n *IfExpr) node()      {}
func (n *IfExpr) stmt()      {}

// WhileLoop is `while cond do body ;`.
type WhileLoop struct {
	SpanVal Span
	Cond    *RpnExpr
	Body    *Block
}

func (n *WhileLoop) Span() Span { return n.SpanVal }
func (n *WhileLoop) node()      {}
func (n *WhileLoop) stmt()      {}

// ForLoop is `for body ;`; the iteration count is taken from the stack.
type ForLoop struct {
	SpanVal Span
	Body    *Block
}

func (n *ForLoop) Span() Span { return n.SpanVal }
func (n *ForLoop) node()      {}
func (n *ForLoop) stmt()      {}

// ---------------------------------------------------------------------------
// RPN expressions
// ---------------------------------------------------------------------------

// ExprKind classifies an element of an RPN expression.
type ExprKind int

const (
	ExprInt      ExprKind = iota // integer literal
	ExprFloat                    // float literal
	ExprString                   // string literal
	ExprBool                     // true / false
	ExprIdent                    // variable, function or builtin name
	ExprOperator                 // + - * / < > == != <= >= =
	ExprStackOp                  // dup drop swap over rot
	ExprKeyword                  // any other keyword (print, return, fn, param)
	ExprPunct                    // delimiters ( ) [ ] { ,
)

// ExprToken is one element of an RPN expression. Exactly one of the value
// fields is meaningful, selected by Kind.
type ExprToken struct {
	Kind  ExprKind
	Text  string // source text; decoded contents for strings
	Int   int64
	Float float64
	Bool  bool
	Pos   Position
}

// RpnExpr is a flat RPN token stream. It is not structured further; the code
// generator maps each element to instructions.
type RpnExpr struct {
	SpanVal Span
	Tokens  []ExprToken
}

func (n *RpnExpr) Span() Span { return n.SpanVal }
func (n *RpnExpr) node()      {}
func (n *RpnExpr) stmt()      {}

// String joins the element texts with spaces.
func (n *RpnExpr) String() string {
	parts := make([]string, len(n.Tokens))
	for i, t := range n.Tokens {
		if t.Kind == ExprString {
			parts[i] = `"` + strings.ReplaceAll(strings.ReplaceAll(t.Text, `\`, `\\`), `"`, `\"`) + `"`
		} else {
			parts[i] = t.Text
		}
	}
	return strings.Join(parts, " ")
}

// ---------------------------------------------------------------------------
// Traversal
// ---------------------------------------------------------------------------

// Inspect walks the tree depth-first, calling f for each node. If f returns
// false the node's children are skipped. Nil children are not visited.
func Inspect(n Node, f func(Node) bool) {
	if n == nil || !f(n) {
		return
	}
	switch x := n.(type) {
	case *Program:
		for _, s := range x.Statements {
			Inspect(s, f)
		}
	case *FunctionDecl:
		if x.Body != nil {
			Inspect(x.Body, f)
		}
	case *VariableDecl:
		if x.Init != nil {
			Inspect(x.Init, f)
		}
	case *Block:
		for _, s := range x.Statements {
			Inspect(s, f)
		}
	case *IfExpr:
		if x.Cond != nil {
			Inspect(x.Cond, f)
		}
		if x.Then != nil {
			Inspect(x.Then, f)
		}
		if x.Else != nil {
			Inspect(x.Else, f)
		}
	case *WhileLoop:
		if x.Cond != nil {
			Inspect(x.Cond, f)
		}
		if x.Body != nil {
			Inspect(x.Body, f)
		}
	case *ForLoop:
		if x.Body != nil {
			Inspect(x.Body, f)
		}
	}
}
