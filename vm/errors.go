package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Runtime error kinds
// ---------------------------------------------------------------------------

var (
	ErrStackUnderflow     = errors.New("stack underflow")
	ErrInvalidConstant    = errors.New("invalid constant reference")
	ErrUndefinedVariable  = errors.New("undefined variable")
	ErrTypeMismatch       = errors.New("type mismatch")
	ErrDivisionByZero     = errors.New("division by zero")
	ErrUnknownFunction    = errors.New("unknown function")
	ErrIndexOutOfRange    = errors.New("index out of range")
	ErrUninitializedSlot  = errors.New("uninitialized array slot")
	ErrInvalidArraySize   = errors.New("invalid array size")
	ErrKeyNotFound        = errors.New("key not found")
	ErrEndOfInput         = errors.New("end of input")
	ErrFileNotFound       = errors.New("file not found")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrFileNotText        = errors.New("file is not valid UTF-8 text")
	ErrIO                 = errors.New("i/o error")
	ErrInvalidInstruction = errors.New("invalid instruction")
	ErrCallDepthExceeded  = errors.New("call depth exceeded")
	ErrStepLimitExceeded  = errors.New("step limit exceeded")
	ErrCancelled          = errors.New("execution cancelled")
)

// RuntimeError is a fatal execution error. Err is one of the sentinel kinds
// above, so callers can match with errors.Is.
type RuntimeError struct {
	Err      error
	Function string
	PC       int
	Line     int
	Detail   string
	Cause    error // underlying host error, if any
}

func (e *RuntimeError) Error() string {
	msg := e.Err.Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Line > 0 {
		return fmt.Sprintf("runtime error at line %d (%s@%d): %s", e.Line, e.Function, e.PC, msg)
	}
	return fmt.Sprintf("runtime error (%s@%d): %s", e.Function, e.PC, msg)
}

// Unwrap exposes both the kind and the host cause.
func (e *RuntimeError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

// fault is the error produced inside opcode handlers before the interpreter
// attaches position information.
type fault struct {
	kind   error
	detail string
	cause  error
}

func (f *fault) Error() string {
	if f.detail == "" {
		return f.kind.Error()
	}
	return f.kind.Error() + ": " + f.detail
}

func faultf(kind error, format string, args ...any) *fault {
	return &fault{kind: kind, detail: fmt.Sprintf(format, args...)}
}

func typeMismatch(op Opcode, want string, got Value) *fault {
	return faultf(ErrTypeMismatch, "%s expects %s, got %s", op, want, got.Kind())
}
