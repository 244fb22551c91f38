package compiler

import (
	"errors"
	"testing"
)

func mustParse(t *testing.T, input string) *Program {
	t.Helper()
	prog, err := Parse(input)
	if err != nil {
		t.Fatalf("Parse(%q): %v", input, err)
	}
	return prog
}

func exprText(e *RpnExpr) string {
	if e == nil {
		return ""
	}
	return e.String()
}

func TestParseExpressionStatement(t *testing.T) {
	prog := mustParse(t, `5 3 + print`)
	if len(prog.Statements) != 1 {
		t.Fatalf("got %d statements, want 1", len(prog.Statements))
	}
	expr, ok := prog.Statements[0].(*RpnExpr)
	if !ok {
		t.Fatalf("statement type = %T, want *RpnExpr", prog.Statements[0])
	}
	want := []struct {
		kind ExprKind
		text string
	}{
		{ExprInt, "5"},
		{ExprInt, "3"},
		{ExprOperator, "+"},
		{ExprKeyword, "print"},
	}
	if len(expr.Tokens) != len(want) {
		t.Fatalf("got %d tokens, want %d", len(expr.Tokens), len(want))
	}
	for i, w := range want {
		if expr.Tokens[i].Kind != w.kind || expr.Tokens[i].Text != w.text {
			t.Errorf("token[%d] = (%v, %q), want (%v, %q)", i, expr.Tokens[i].Kind, expr.Tokens[i].Text, w.kind, w.text)
		}
	}
	if expr.Tokens[0].Int != 5 {
		t.Errorf("Int = %d, want 5", expr.Tokens[0].Int)
	}
}

func TestParseExpressionElementKinds(t *testing.T) {
	prog := mustParse(t, `2.5 "s" true false x dup ( ,`)
	expr := prog.Statements[0].(*RpnExpr)
	want := []ExprKind{ExprFloat, ExprString, ExprBool, ExprBool, ExprIdent, ExprStackOp, ExprPunct, ExprPunct}
	if len(expr.Tokens) != len(want) {
		t.Fatalf("got %d tokens, want %d", len(expr.Tokens), len(want))
	}
	for i, k := range want {
		if expr.Tokens[i].Kind != k {
			t.Errorf("token[%d] kind = %v, want %v", i, expr.Tokens[i].Kind, k)
		}
	}
	if expr.Tokens[0].Float != 2.5 {
		t.Errorf("Float = %v, want 2.5", expr.Tokens[0].Float)
	}
	if !expr.Tokens[2].Bool || expr.Tokens[3].Bool {
		t.Errorf("Bool values = %v, %v", expr.Tokens[2].Bool, expr.Tokens[3].Bool)
	}
}

func TestParseFunctionDecl(t *testing.T) {
	prog := mustParse(t, `:add 2 param + ; 5 3 add print`)
	if len(prog.Statements) != 2 {
		t.Fatalf("got %d statements, want 2", len(prog.Statements))
	}
	fn, ok := prog.Statements[0].(*FunctionDecl)
	if !ok {
		t.Fatalf("statement type = %T, want *FunctionDecl", prog.Statements[0])
	}
	if fn.Name != "add" || fn.ParamCount != 2 {
		t.Errorf("decl = %s/%d, want add/2", fn.Name, fn.ParamCount)
	}
	if len(fn.Body.Statements) != 1 {
		t.Fatalf("body has %d statements, want 1", len(fn.Body.Statements))
	}
	if got := exprText(fn.Body.Statements[0].(*RpnExpr)); got != "+" {
		t.Errorf("body = %q, want %q", got, "+")
	}
	if got := exprText(prog.Statements[1].(*RpnExpr)); got != "5 3 add print" {
		t.Errorf("main = %q", got)
	}
}

func TestParseFunctionDeclErrors(t *testing.T) {
	tests := []struct {
		input string
		want  error
	}{
		{`: 2 param + ;`, ErrUnexpectedToken},
		{`:f param + ;`, ErrUnexpectedToken},
		{`:f 2 + ;`, ErrMissingKeyword},
		{`:f x param ;`, ErrUnexpectedToken},
	}
	for _, tc := range tests {
		_, err := Parse(tc.input)
		if !errors.Is(err, tc.want) {
			t.Errorf("Parse(%q) error = %v, want %v", tc.input, err, tc.want)
		}
	}
}

func TestParseVariableDecl(t *testing.T) {
	tests := []struct {
		input   string
		name    string
		mutable bool
		init    string
	}{
		{`let x 5 ;`, "x", false, "5"},
		{`var counter 0`, "counter", true, "0"},
		{`let s "a b" ;`, "s", false, `"a b"`},
		{`let empty ;`, "empty", false, ""},
	}
	for _, tc := range tests {
		prog := mustParse(t, tc.input)
		decl, ok := prog.Statements[0].(*VariableDecl)
		if !ok {
			t.Fatalf("Parse(%q): type = %T", tc.input, prog.Statements[0])
		}
		if decl.Name != tc.name || decl.Mutable != tc.mutable {
			t.Errorf("Parse(%q) = %s mutable=%v", tc.input, decl.Name, decl.Mutable)
		}
		if got := exprText(decl.Init); got != tc.init {
			t.Errorf("Parse(%q) init = %q, want %q", tc.input, got, tc.init)
		}
	}
}

func TestParseVariableDeclConsumesTerminator(t *testing.T) {
	prog := mustParse(t, `let x 1 ; let y 2 ; x y + print`)
	if len(prog.Statements) != 3 {
		t.Fatalf("got %d statements, want 3", len(prog.Statements))
	}
}

func TestParseIf(t *testing.T) {
	prog := mustParse(t, `if x 0 > do "pos" print else "neg" print ;`)
	n, ok := prog.Statements[0].(*IfExpr)
	if !ok {
		t.Fatalf("type = %T, want *IfExpr", prog.Statements[0])
	}
	if got := exprText(n.Cond); got != "x 0 >" {
		t.Errorf("cond = %q", got)
	}
	if len(n.Then.Statements) != 1 || exprText(n.Then.Statements[0].(*RpnExpr)) != `"pos" print` {
		t.Errorf("then = %v", n.Then.Statements)
	}
	if n.Else == nil || len(n.Else.Statements) != 1 {
		t.Fatalf("else = %v", n.Else)
	}
}

func TestParseIfWithoutElse(t *testing.T) {
	prog := mustParse(t, `if flag do 1 print ; 2 print`)
	if len(prog.Statements) != 2 {
		t.Fatalf("got %d statements, want 2", len(prog.Statements))
	}
	n := prog.Statements[0].(*IfExpr)
	if n.Else != nil {
		t.Errorf("else = %v, want nil", n.Else)
	}
}

func TestParseIfWithoutDoTakesWholeRunAsCondition(t *testing.T) {
	prog := mustParse(t, `if x print ;`)
	n := prog.Statements[0].(*IfExpr)
	if got := exprText(n.Cond); got != "x print" {
		t.Errorf("cond = %q, want %q", got, "x print")
	}
	if len(n.Then.Statements) != 0 {
		t.Errorf("then has %d statements, want 0", len(n.Then.Statements))
	}
}

func TestParseWhile(t *testing.T) {
	prog := mustParse(t, `while i 3 < do i print i 1 + let i ; ;`)
	n, ok := prog.Statements[0].(*WhileLoop)
	if !ok {
		t.Fatalf("type = %T, want *WhileLoop", prog.Statements[0])
	}
	if got := exprText(n.Cond); got != "i 3 <" {
		t.Errorf("cond = %q", got)
	}
	if len(n.Body.Statements) != 2 {
		t.Errorf("body has %d statements, want 2", len(n.Body.Statements))
	}
}

func TestParseWhileRequiresDo(t *testing.T) {
	_, err := Parse(`while x 0 > x print ;`)
	if !errors.Is(err, ErrMissingKeyword) {
		t.Errorf("error = %v, want ErrMissingKeyword", err)
	}
	var cerr *Error
	if errors.As(err, &cerr) && cerr.Kind != SyntaxError {
		t.Errorf("kind = %v, want syntax error", cerr.Kind)
	}
}

func TestParseFor(t *testing.T) {
	prog := mustParse(t, `3 for "hi" print ;`)
	if len(prog.Statements) != 2 {
		t.Fatalf("got %d statements, want 2", len(prog.Statements))
	}
	n, ok := prog.Statements[1].(*ForLoop)
	if !ok {
		t.Fatalf("type = %T, want *ForLoop", prog.Statements[1])
	}
	if len(n.Body.Statements) != 1 {
		t.Errorf("body has %d statements, want 1", len(n.Body.Statements))
	}
}

func TestParseNestedBlocks(t *testing.T) {
	prog := mustParse(t, `:f 1 param if dup 0 > do "pos" print ; ; 1 f`)
	fn := prog.Statements[0].(*FunctionDecl)
	if len(fn.Body.Statements) != 1 {
		t.Fatalf("body has %d statements, want 1", len(fn.Body.Statements))
	}
	if _, ok := fn.Body.Statements[0].(*IfExpr); !ok {
		t.Errorf("body[0] = %T, want *IfExpr", fn.Body.Statements[0])
	}
	if len(prog.Statements) != 2 {
		t.Errorf("got %d top-level statements, want 2", len(prog.Statements))
	}
}

func TestParseColonEndsFunctionBody(t *testing.T) {
	prog := mustParse(t, `:a 0 param 1 :b 0 param 2 ;`)
	if len(prog.Statements) != 2 {
		t.Fatalf("got %d statements, want 2", len(prog.Statements))
	}
	for i, name := range []string{"a", "b"} {
		fn, ok := prog.Statements[i].(*FunctionDecl)
		if !ok || fn.Name != name {
			t.Errorf("statement[%d] = %v, want function %s", i, prog.Statements[i], name)
		}
	}
}

func TestParseSkipsCommentsAndStraySemicolons(t *testing.T) {
	prog := mustParse(t, "# header\n;; 1 # one\n 2 + ;\n# trailer")
	if len(prog.Statements) != 1 {
		t.Fatalf("got %d statements, want 1", len(prog.Statements))
	}
	if got := exprText(prog.Statements[0].(*RpnExpr)); got != "1 2 +" {
		t.Errorf("expr = %q, want %q", got, "1 2 +")
	}
}

func TestParseUnexpectedStatementStart(t *testing.T) {
	for _, input := range []string{`do`, `1 print else 2`, `}`, `if x do 1 do 2 ;`} {
		_, err := Parse(input)
		if !errors.Is(err, ErrUnexpectedToken) {
			t.Errorf("Parse(%q) error = %v, want ErrUnexpectedToken", input, err)
		}
	}
}

func TestParseLexicalErrorPropagates(t *testing.T) {
	_, err := Parse(`5 "unterminated`)
	if !errors.Is(err, ErrUnterminatedString) {
		t.Errorf("error = %v, want ErrUnterminatedString", err)
	}
}

func TestParseLongExpressionIsSplit(t *testing.T) {
	input := ""
	for i := 0; i < 150; i++ {
		input += "1 "
	}
	prog := mustParse(t, input)
	if len(prog.Statements) != 2 {
		t.Fatalf("got %d statements, want 2", len(prog.Statements))
	}
	first := prog.Statements[0].(*RpnExpr)
	second := prog.Statements[1].(*RpnExpr)
	if len(first.Tokens) != maxExprTokens || len(second.Tokens) != 150-maxExprTokens {
		t.Errorf("split = %d + %d", len(first.Tokens), len(second.Tokens))
	}
}

func TestParseErrorPosition(t *testing.T) {
	_, err := Parse("1 2 +\n  while x 1 print ;")
	var cerr *Error
	if !errors.As(err, &cerr) {
		t.Fatalf("error = %v, want *Error", err)
	}
	if cerr.Line != 2 {
		t.Errorf("line = %d, want 2", cerr.Line)
	}
}

func TestInspectVisitsAllNodes(t *testing.T) {
	prog := mustParse(t, `:f 0 param 1 ; let x 2 ; if x do 3 else 4 ; while x do 5 ; 2 for 6 ;`)
	counts := map[string]int{}
	Inspect(prog, func(n Node) bool {
		switch n.(type) {
		case *FunctionDecl:
			counts["fn"]++
		case *VariableDecl:
			counts["var"]++
		case *IfExpr:
			counts["if"]++
		case *WhileLoop:
			counts["while"]++
		case *ForLoop:
			counts["for"]++
		case *RpnExpr:
			counts["expr"]++
		}
		return true
	})
	want := map[string]int{"fn": 1, "var": 1, "if": 1, "while": 1, "for": 1, "expr": 9}
	for k, v := range want {
		if counts[k] != v {
			t.Errorf("%s count = %d, want %d", k, counts[k], v)
		}
	}
}
