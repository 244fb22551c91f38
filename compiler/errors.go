package compiler

import (
	"errors"
	"fmt"
)

// ErrorKind classifies compile errors by pipeline stage.
type ErrorKind int

const (
	LexicalError ErrorKind = iota
	SyntaxError
	CodegenError
)

func (k ErrorKind) String() string {
	switch k {
	case LexicalError:
		return "lexical error"
	case SyntaxError:
		return "syntax error"
	case CodegenError:
		return "code generation error"
	}
	return "error"
}

var (
	ErrUnterminatedString = errors.New("unterminated string")
	ErrUnexpectedChar     = errors.New("unexpected character")
	ErrUnexpectedToken    = errors.New("unexpected token")
	ErrMissingKeyword     = errors.New("missing keyword")
	ErrNotProgram         = errors.New("root node is not a program")
	ErrInvalidDeclaration = errors.New("invalid declaration")
	ErrInvalidExpression  = errors.New("invalid expression element")
)

// Error is a compile error with the best-known source position. Compilation
// stops at the first one.
type Error struct {
	Kind   ErrorKind
	Err    error
	Line   int
	Column int
	Msg    string
}

func (e *Error) Error() string {
	msg := e.Err.Error()
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Column > 0 {
		return fmt.Sprintf("%s at line %d, column %d: %s", e.Kind, e.Line, e.Column, msg)
	}
	return fmt.Sprintf("%s at line %d: %s", e.Kind, e.Line, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func errorAt(kind ErrorKind, err error, pos Position, format string, args ...any) *Error {
	return &Error{
		Kind:   kind,
		Err:    err,
		Line:   pos.Line,
		Column: pos.Column,
		Msg:    fmt.Sprintf(format, args...),
	}
}
