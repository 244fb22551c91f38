package compiler

import (
	"strings"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Lexer: tokenizer for PostC source
// ---------------------------------------------------------------------------

// Lexer tokenizes PostC source code.
type Lexer struct {
	input   string
	pos     int  // offset of ch
	readPos int  // offset after ch
	ch      rune // current character
	line    int  // line of ch (1-based)
	col     int  // column of ch (1-based)

	err *Error // first lexical error
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input, line: 1}
	l.readChar()
	return l
}

// readChar advances to the next character.
func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.col = 0
	}
	l.col++
	if l.readPos >= len(l.input) {
		l.ch = 0
		l.pos = len(l.input)
		return
	}
	r, size := utf8.DecodeRuneInString(l.input[l.readPos:])
	l.ch = r
	l.pos = l.readPos
	l.readPos += size
}

// peekChar returns the next character without consuming it.
func (l *Lexer) peekChar() rune {
	if l.readPos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.readPos:])
	return r
}

func (l *Lexer) atEOF() bool {
	return l.pos >= len(l.input)
}

// position returns the position of the current character.
func (l *Lexer) position() Position {
	return Position{Offset: l.pos, Line: l.line, Column: l.col}
}

// Err returns the first lexical error, if any.
func (l *Lexer) Err() *Error {
	return l.err
}

// NextToken returns the next token. After an error it keeps returning
// TokenError.
func (l *Lexer) NextToken() Token {
	if l.err != nil {
		return Token{Type: TokenError, Literal: l.err.Msg, Pos: Position{Line: l.err.Line, Column: l.err.Column}}
	}

	l.skipWhitespace()
	pos := l.position()

	if l.atEOF() {
		return Token{Type: TokenEOF, Pos: pos}
	}

	switch ch := l.ch; {
	case ch == '#':
		return l.readComment(pos)

	case ch == '"':
		return l.readString(pos)

	case isDigit(ch):
		return l.readNumber(pos)

	case isLetter(ch):
		return l.readIdentifier(pos)

	case ch == '=' || ch == '!' || ch == '<' || ch == '>':
		return l.readComparison(pos)
	}

	if t, ok := singleCharTokens[l.ch]; ok {
		lit := string(l.ch)
		l.readChar()
		return Token{Type: t, Literal: lit, Pos: pos}
	}

	return l.fail(ErrUnexpectedChar, pos, "%q", l.ch)
}

var singleCharTokens = map[rune]TokenType{
	'+': TokenPlus,
	'-': TokenMinus,
	'*': TokenStar,
	'/': TokenSlash,
	':': TokenColon,
	';': TokenSemicolon,
	'(': TokenLParen,
	')': TokenRParen,
	'{': TokenLBrace,
	'}': TokenRBrace,
	'[': TokenLBracket,
	']': TokenRBracket,
	',': TokenComma,
}

func (l *Lexer) fail(err error, pos Position, format string, args ...any) Token {
	l.err = errorAt(LexicalError, err, pos, format, args...)
	return Token{Type: TokenError, Literal: l.err.Msg, Pos: pos}
}

func (l *Lexer) skipWhitespace() {
	for !l.atEOF() && (l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r') {
		l.readChar()
	}
}

// readComment reads from # to the end of the line. The newline is left for
// skipWhitespace.
func (l *Lexer) readComment(pos Position) Token {
	start := l.pos
	for !l.atEOF() && l.ch != '\n' {
		l.readChar()
	}
	return Token{Type: TokenComment, Literal: l.input[start:l.pos], Pos: pos}
}

// readString reads a double-quoted string. A backslash makes the next
// character literal; no escape codes are interpreted.
func (l *Lexer) readString(pos Position) Token {
	var sb strings.Builder
	l.readChar() // opening quote
	for {
		if l.atEOF() {
			return l.fail(ErrUnterminatedString, pos, "string starting here is never closed")
		}
		switch l.ch {
		case '"':
			l.readChar()
			return Token{Type: TokenString, Literal: sb.String(), Pos: pos}
		case '\\':
			l.readChar()
			if l.atEOF() {
				return l.fail(ErrUnterminatedString, pos, "string starting here is never closed")
			}
			sb.WriteRune(l.ch)
		default:
			sb.WriteRune(l.ch)
		}
		l.readChar()
	}
}

// readNumber reads digits with an optional fraction. A '.' only belongs to
// the number when a digit follows it.
func (l *Lexer) readNumber(pos Position) Token {
	start := l.pos
	for isDigit(l.ch) && !l.atEOF() {
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) {
		l.readChar()
		for isDigit(l.ch) && !l.atEOF() {
			l.readChar()
		}
		return Token{Type: TokenFloat, Literal: l.input[start:l.pos], Pos: pos}
	}
	return Token{Type: TokenInteger, Literal: l.input[start:l.pos], Pos: pos}
}

func (l *Lexer) readIdentifier(pos Position) Token {
	start := l.pos
	for !l.atEOF() && (isLetter(l.ch) || isDigit(l.ch)) {
		l.readChar()
	}
	lit := l.input[start:l.pos]
	return Token{Type: LookupIdent(lit), Literal: lit, Pos: pos}
}

// readComparison handles = == ! != < <= > >=, matching two-character forms
// first.
func (l *Lexer) readComparison(pos Position) Token {
	first := l.ch
	if l.peekChar() == '=' {
		l.readChar()
		l.readChar()
		switch first {
		case '=':
			return Token{Type: TokenEqual, Literal: "==", Pos: pos}
		case '!':
			return Token{Type: TokenNotEqual, Literal: "!=", Pos: pos}
		case '<':
			return Token{Type: TokenLessEqual, Literal: "<=", Pos: pos}
		default:
			return Token{Type: TokenGreaterEqual, Literal: ">=", Pos: pos}
		}
	}
	switch first {
	case '=':
		l.readChar()
		return Token{Type: TokenAssign, Literal: "=", Pos: pos}
	case '<':
		l.readChar()
		return Token{Type: TokenLess, Literal: "<", Pos: pos}
	case '>':
		l.readChar()
		return Token{Type: TokenGreater, Literal: ">", Pos: pos}
	}
	return l.fail(ErrUnexpectedChar, pos, "%q", first)
}

func isDigit(ch rune) bool {
	return ch >= '0' && ch <= '9'
}

func isLetter(ch rune) bool {
	return ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch == '_'
}

// Tokenize returns every token of input, ending with exactly one TokenEOF, or
// the first lexical error.
func Tokenize(input string) ([]Token, error) {
	l := NewLexer(input)
	var tokens []Token
	for {
		tok := l.NextToken()
		if tok.Type == TokenError {
			return nil, l.err
		}
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			return tokens, nil
		}
	}
}
