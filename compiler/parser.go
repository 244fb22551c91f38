package compiler

import (
	"strconv"
)

// ---------------------------------------------------------------------------
// Parser: recursive descent parser for PostC
// ---------------------------------------------------------------------------

// maxExprTokens bounds a single RPN expression. Longer runs continue as the
// next expression statement, which generates the same code.
const maxExprTokens = 100

// Parser parses PostC source code into an AST. Parsing stops at the first
// error.
type Parser struct {
	lexer     *Lexer
	curToken  Token
	peekToken Token
	lastPos   Position // position of the most recently consumed token
	err       *Error
}

// NewParser creates a new parser for the given input.
func NewParser(input string) *Parser {
	p := &Parser{lexer: NewLexer(input)}
	// Read two tokens to fill curToken and peekToken
	p.nextToken()
	p.nextToken()
	return p
}

// nextToken advances to the next token.
func (p *Parser) nextToken() {
	p.lastPos = p.curToken.Pos
	p.curToken = p.peekToken
	p.peekToken = p.lexer.NextToken()
	if p.curToken.Type == TokenError && p.err == nil {
		p.err = p.lexer.Err()
	}
}

func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

// skip consumes the current token if it has type t.
func (p *Parser) skip(t TokenType) bool {
	if p.curTokenIs(t) {
		p.nextToken()
		return true
	}
	return false
}

// failed reports whether parsing has already stopped.
func (p *Parser) failed() bool {
	return p.err != nil
}

// errorf records the first syntax error at the current token.
func (p *Parser) errorf(err error, format string, args ...any) {
	if p.err == nil {
		p.err = errorAt(SyntaxError, err, p.curToken.Pos, format, args...)
	}
}

// Err returns the first lexical or syntax error, if any.
func (p *Parser) Err() error {
	if p.err == nil {
		return nil
	}
	return p.err
}

func (p *Parser) span(start Position) Span {
	return Span{Start: start, End: p.lastPos}
}

// ---------------------------------------------------------------------------
// Top-level parsing
// ---------------------------------------------------------------------------

// ParseProgram parses the whole input.
func (p *Parser) ParseProgram() (*Program, error) {
	prog := &Program{SpanVal: Span{Start: p.curToken.Pos}}

	for !p.failed() && !p.curTokenIs(TokenEOF) {
		if p.skip(TokenComment) || p.skip(TokenSemicolon) {
			continue
		}
		if stmt := p.parseStatement(); stmt != nil {
			prog.Statements = append(prog.Statements, stmt)
		}
	}
	if p.failed() {
		return nil, p.err
	}
	prog.SpanVal.End = p.curToken.Pos
	return prog, nil
}

// Parse parses source into a Program.
func Parse(source string) (*Program, error) {
	return NewParser(source).ParseProgram()
}

// parseStatement dispatches on the current token. Tokens that can start no
// statement are reported rather than skipped.
func (p *Parser) parseStatement() Stmt {
	switch p.curToken.Type {
	case TokenColon:
		return p.parseFunctionDecl()
	case TokenLet, TokenVar:
		return p.parseVariableDecl()
	case TokenIf:
		return p.parseIf()
	case TokenWhile:
		return p.parseWhile()
	case TokenFor:
		return p.parseFor()
	}
	if stopsExpression(p.curToken.Type) {
		p.errorf(ErrUnexpectedToken, "%s cannot start a statement", describe(p.curToken))
		return nil
	}
	return p.parseRpn()
}

// parseBlock collects statements until ';', '}', ':', else or end of input.
// The terminator is left for the caller.
func (p *Parser) parseBlock() *Block {
	block := &Block{SpanVal: Span{Start: p.curToken.Pos, End: p.curToken.Pos}}
	for !p.failed() {
		switch p.curToken.Type {
		case TokenSemicolon, TokenEOF, TokenRBrace, TokenColon, TokenElse:
			if len(block.Statements) > 0 {
				block.SpanVal.End = p.lastPos
			}
			return block
		case TokenComment:
			p.nextToken()
			continue
		}
		if stmt := p.parseStatement(); stmt != nil {
			block.Statements = append(block.Statements, stmt)
		}
	}
	return block
}

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

// parseFunctionDecl parses `:name N param body [;]`.
func (p *Parser) parseFunctionDecl() Stmt {
	start := p.curToken.Pos
	p.nextToken() // ':'

	if !p.curTokenIs(TokenIdentifier) {
		p.errorf(ErrUnexpectedToken, "expected function name after ':', got %s", describe(p.curToken))
		return nil
	}
	name := p.curToken.Literal
	p.nextToken()

	if !p.curTokenIs(TokenInteger) {
		p.errorf(ErrUnexpectedToken, "expected parameter count for %s, got %s", name, describe(p.curToken))
		return nil
	}
	count, err := strconv.Atoi(p.curToken.Literal)
	if err != nil {
		p.errorf(ErrUnexpectedToken, "parameter count %s out of range", p.curToken.Literal)
		return nil
	}
	p.nextToken()

	if !p.curTokenIs(TokenParam) {
		p.errorf(ErrMissingKeyword, "expected 'param' in declaration of %s, got %s", name, describe(p.curToken))
		return nil
	}
	p.nextToken()

	body := p.parseBlock()
	if p.failed() {
		return nil
	}
	p.skip(TokenSemicolon)

	return &FunctionDecl{SpanVal: p.span(start), Name: name, ParamCount: count, Body: body}
}

// parseVariableDecl parses `let name expr [;]` and `var name expr [;]`.
func (p *Parser) parseVariableDecl() Stmt {
	start := p.curToken.Pos
	mutable := p.curTokenIs(TokenVar)
	p.nextToken()

	if !p.curTokenIs(TokenIdentifier) {
		p.errorf(ErrUnexpectedToken, "expected variable name, got %s", describe(p.curToken))
		return nil
	}
	name := p.curToken.Literal
	p.nextToken()

	init := p.parseRpn()
	if p.failed() {
		return nil
	}
	p.skip(TokenSemicolon)

	return &VariableDecl{SpanVal: p.span(start), Name: name, Mutable: mutable, Init: nonEmpty(init)}
}

// ---------------------------------------------------------------------------
// Control flow
// ---------------------------------------------------------------------------

// parseIf parses `if cond [do] then [else else] [;]`.
func (p *Parser) parseIf() Stmt {
	start := p.curToken.Pos
	p.nextToken() // if

	cond := p.parseRpn()
	p.skip(TokenDo)
	then := p.parseBlock()
	if p.failed() {
		return nil
	}

	n := &IfExpr{Cond: nonEmpty(cond), Then: then}
	if p.skip(TokenElse) {
		n.Else = p.parseBlock()
		if p.failed() {
			return nil
		}
	}
	p.skip(TokenSemicolon)
	n.SpanVal = p.span(start)
	return n
}

// parseWhile parses `while cond do body [;]`.
func (p *Parser) parseWhile() Stmt {
	start := p.curToken.Pos
	p.nextToken() // while

	cond := p.parseRpn()
	if p.failed() {
		return nil
	}
	if !p.skip(TokenDo) {
		p.errorf(ErrMissingKeyword, "expected 'do' after while condition, got %s", describe(p.curToken))
		return nil
	}
	body := p.parseBlock()
	if p.failed() {
		return nil
	}
	p.skip(TokenSemicolon)
	return &WhileLoop{SpanVal: p.span(start), Cond: nonEmpty(cond), Body: body}
}

// parseFor parses `for body [;]`.
func (p *Parser) parseFor() Stmt {
	start := p.curToken.Pos
	p.nextToken() // for

	body := p.parseBlock()
	if p.failed() {
		return nil
	}
	p.skip(TokenSemicolon)
	return &ForLoop{SpanVal: p.span(start), Body: body}
}

// ---------------------------------------------------------------------------
// RPN expressions
// ---------------------------------------------------------------------------

// stopsExpression reports whether t terminates an RPN token run.
func stopsExpression(t TokenType) bool {
	switch t {
	case TokenSemicolon, TokenEOF, TokenElse, TokenIf, TokenWhile, TokenFor,
		TokenDo, TokenColon, TokenRBrace, TokenLet, TokenVar, TokenError:
		return true
	}
	return false
}

// parseRpn collects tokens up to the next terminator. The result may be
// empty.
func (p *Parser) parseRpn() *RpnExpr {
	expr := &RpnExpr{SpanVal: Span{Start: p.curToken.Pos, End: p.curToken.Pos}}
	for !p.failed() && len(expr.Tokens) < maxExprTokens && !stopsExpression(p.curToken.Type) {
		if p.skip(TokenComment) {
			continue
		}
		et, ok := p.exprToken(p.curToken)
		if !ok {
			return expr
		}
		expr.Tokens = append(expr.Tokens, et)
		p.nextToken()
		expr.SpanVal.End = p.lastPos
	}
	return expr
}

// exprToken converts a lexical token into an expression element.
func (p *Parser) exprToken(tok Token) (ExprToken, bool) {
	et := ExprToken{Text: tok.Literal, Pos: tok.Pos}
	switch {
	case tok.Type == TokenInteger:
		n, err := strconv.ParseInt(tok.Literal, 10, 64)
		if err != nil {
			p.errorf(ErrUnexpectedToken, "integer literal %s out of range", tok.Literal)
			return et, false
		}
		et.Kind, et.Int = ExprInt, n
	case tok.Type == TokenFloat:
		f, err := strconv.ParseFloat(tok.Literal, 64)
		if err != nil {
			p.errorf(ErrUnexpectedToken, "float literal %s out of range", tok.Literal)
			return et, false
		}
		et.Kind, et.Float = ExprFloat, f
	case tok.Type == TokenString:
		et.Kind = ExprString
	case tok.Type == TokenBoolean:
		et.Kind, et.Bool = ExprBool, tok.Literal == "true"
	case tok.Type == TokenIdentifier:
		et.Kind = ExprIdent
	case tok.Type.IsOperator():
		et.Kind = ExprOperator
	case tok.Type.IsStackOp():
		et.Kind = ExprStackOp
	case tok.Type >= TokenLet:
		et.Kind = ExprKeyword
	default:
		et.Kind = ExprPunct
	}
	return et, true
}

func nonEmpty(e *RpnExpr) *RpnExpr {
	if e == nil || len(e.Tokens) == 0 {
		return nil
	}
	return e
}

// describe renders a token for error messages.
func describe(tok Token) string {
	switch tok.Type {
	case TokenEOF:
		return "end of input"
	case TokenString:
		return strconv.Quote(tok.Literal)
	}
	return "'" + tok.Literal + "'"
}
